package db

import (
	"context"
	"fmt"
	"io"

	"gachalab/internal/config"
	"gachalab/internal/store"
	"gachalab/internal/store/memstore"
	"gachalab/internal/store/rest"
	"gachalab/internal/store/sqlstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore builds the store selected by STORE_DRIVER. The closer releases
// the SQL pool when there is one.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, io.Closer, error) {
	layout := store.ParseSpinLayout(cfg.SpinTable)
	switch cfg.StoreDriver {
	case "rest", "supabase":
		st, err := rest.New(rest.Config{
			BaseURL:        cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Timeout:        cfg.StoreTimeout,
			SpinLayout:     layout,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, nopCloser{}, nil
	case "postgres", "mysql":
		sqlDB, err := OpenSQL(ctx, cfg.StoreDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return sqlstore.New(sqlDB, layout), sqlDB, nil
	case "memory":
		st := memstore.New()
		if cfg.SeedDemo {
			st.SeedDemo(cfg.DefaultGachaID)
		}
		return st, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
