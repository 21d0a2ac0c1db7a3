package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is a single-file registry for local runs.
type SQLite struct {
	config RegistryConfig
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLite(ctx context.Context, config RegistryConfig) (*SQLite, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, errors.New("sqlite registry requires a path")
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", config.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	r := &SQLite{config: config, db: db, logger: config.Logger}
	if err := r.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLite) init(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			decision_id TEXT PRIMARY KEY,
			decision_number TEXT NOT NULL DEFAULT '%s',
			proceeding_number TEXT NOT NULL DEFAULT '%s',
			decision_date TEXT,
			status TEXT NOT NULL DEFAULT '%s',
			created_at TEXT NOT NULL
		)`, r.config.TableName, models.UnspecifiedValue, models.UnspecifiedValue, models.StatusAbsent)

	if _, err := r.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (r *SQLite) GetOrCreate(ctx context.Context, decisionID string) (models.DecisionRecord, error) {
	const op = "registry.GetOrCreate"

	insert := fmt.Sprintf(`INSERT INTO %s (decision_id, created_at) VALUES (?, ?) ON CONFLICT (decision_id) DO NOTHING`,
		r.config.TableName)
	res, err := r.db.ExecContext(ctx, insert, decisionID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return models.DecisionRecord{}, types.StoreError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r.logger.Debug("decision record created", zap.String("decision_id", decisionID))
	}

	rec, err := r.Get(ctx, decisionID)
	if err != nil {
		return models.DecisionRecord{}, types.StoreError(op, err)
	}
	return rec, nil
}

func (r *SQLite) Get(ctx context.Context, decisionID string) (models.DecisionRecord, error) {
	query := fmt.Sprintf(`
		SELECT decision_id, decision_number, proceeding_number, decision_date, status, created_at
		FROM %s WHERE decision_id = ?`, r.config.TableName)

	var (
		rec       models.DecisionRecord
		date      sql.NullString
		status    string
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, query, decisionID).Scan(
		&rec.DecisionID,
		&rec.DecisionNumber,
		&rec.ProceedingNumber,
		&date,
		&status,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DecisionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.DecisionRecord{}, fmt.Errorf("failed to read decision %s: %w", decisionID, err)
	}

	if date.Valid {
		rec.DecisionDate = &date.String
	}
	rec.Status = models.DecisionStatus(status)
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.DecisionRecord{}, fmt.Errorf("invalid created_at for %s: %w", decisionID, err)
	}
	return rec, nil
}

func (r *SQLite) MarkDone(ctx context.Context, decisionID string, meta models.DecisionMetadata) error {
	const op = "registry.MarkDone"

	update := fmt.Sprintf(`
		UPDATE %s
		SET decision_number = ?, proceeding_number = ?, decision_date = ?, status = ?
		WHERE decision_id = ? AND status <> ?`, r.config.TableName)

	var date sql.NullString
	if meta.Date != nil {
		date = sql.NullString{String: *meta.Date, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, update,
		meta.Number, meta.Proceeding, date, string(models.StatusDone),
		decisionID, string(models.StatusDone))
	if err != nil {
		return types.StoreError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, decisionID); err != nil {
			return types.StoreError(op, err)
		}
	}
	return nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}
