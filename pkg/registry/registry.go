package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("decision not found")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type RegistryConfig struct {
	Driver    string // postgres or sqlite
	URL       string
	Path      string
	TableName string
	Logger    *zap.Logger
}

func (c *RegistryConfig) applyDefaults() error {
	if c.TableName == "" {
		c.TableName = "court_decisions"
	}
	if !tableNamePattern.MatchString(c.TableName) {
		return fmt.Errorf("invalid table name: %q", c.TableName)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Open connects the registry backend named by config.Driver and creates its
// table if needed.
func Open(ctx context.Context, config RegistryConfig) (types.Registry, error) {
	switch config.Driver {
	case "", "postgres":
		pg, err := NewPostgres(ctx, config)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := NewSQLite(ctx, config)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
	return nil, fmt.Errorf("unknown registry driver: %s", config.Driver)
}
