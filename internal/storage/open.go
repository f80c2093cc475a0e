package storage

import (
	"context"
	"fmt"

	"github.com/your-org/absens/internal/config"
)

// Open returns the record store selected by cfg.Store.Driver. The postgres driver
// applies the embedded schema before returning.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pg, err := NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
