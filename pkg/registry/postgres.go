package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
)

// Postgres keeps decision records in a Postgres table. The primary key on
// decision_id is what keeps concurrent jobs from creating duplicate records.
type Postgres struct {
	config RegistryConfig
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, config RegistryConfig) (*Postgres, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	r := &Postgres{config: config, pool: pool, logger: config.Logger}
	if err := r.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Postgres) init(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			decision_id TEXT PRIMARY KEY,
			decision_number TEXT NOT NULL DEFAULT '%s',
			proceeding_number TEXT NOT NULL DEFAULT '%s',
			decision_date TEXT,
			status TEXT NOT NULL DEFAULT '%s',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.config.TableName, models.UnspecifiedValue, models.UnspecifiedValue, models.StatusAbsent)

	if _, err := r.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (r *Postgres) GetOrCreate(ctx context.Context, decisionID string) (models.DecisionRecord, error) {
	const op = "registry.GetOrCreate"

	insert := fmt.Sprintf(`INSERT INTO %s (decision_id) VALUES ($1) ON CONFLICT (decision_id) DO NOTHING`,
		r.config.TableName)
	tag, err := r.pool.Exec(ctx, insert, decisionID)
	if err != nil {
		return models.DecisionRecord{}, types.StoreError(op, err)
	}
	if tag.RowsAffected() == 1 {
		r.logger.Debug("decision record created", zap.String("decision_id", decisionID))
	}

	rec, err := r.Get(ctx, decisionID)
	if err != nil {
		return models.DecisionRecord{}, types.StoreError(op, err)
	}
	return rec, nil
}

func (r *Postgres) Get(ctx context.Context, decisionID string) (models.DecisionRecord, error) {
	query := fmt.Sprintf(`
		SELECT decision_id, decision_number, proceeding_number, decision_date, status, created_at
		FROM %s WHERE decision_id = $1`, r.config.TableName)

	var rec models.DecisionRecord
	var status string
	err := r.pool.QueryRow(ctx, query, decisionID).Scan(
		&rec.DecisionID,
		&rec.DecisionNumber,
		&rec.ProceedingNumber,
		&rec.DecisionDate,
		&status,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DecisionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.DecisionRecord{}, fmt.Errorf("failed to read decision %s: %w", decisionID, err)
	}
	rec.Status = models.DecisionStatus(status)
	return rec, nil
}

// MarkDone moves a record to done in a single update. A record that is
// already done is left untouched.
func (r *Postgres) MarkDone(ctx context.Context, decisionID string, meta models.DecisionMetadata) error {
	const op = "registry.MarkDone"

	update := fmt.Sprintf(`
		UPDATE %s
		SET decision_number = $2, proceeding_number = $3, decision_date = $4, status = $5
		WHERE decision_id = $1 AND status <> $5`, r.config.TableName)

	tag, err := r.pool.Exec(ctx, update,
		decisionID, meta.Number, meta.Proceeding, meta.Date, string(models.StatusDone))
	if err != nil {
		return types.StoreError(op, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, decisionID); err != nil {
			return types.StoreError(op, err)
		}
	}
	return nil
}

func (r *Postgres) Close() error {
	r.pool.Close()
	return nil
}
