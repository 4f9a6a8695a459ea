package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxrules/internal/engine"
	"github.com/sells-group/taxrules/internal/feed"
	"github.com/sells-group/taxrules/internal/fetcher"
	"github.com/sells-group/taxrules/internal/store"
)

// initStore validates the config for mode, opens the configured backend and
// applies migrations.
func initStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newLoader() *feed.Loader {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Feed.UserAgent,
		Timeout:    time.Duration(cfg.Feed.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Feed.MaxRetries,
		HostRates:  fetcher.DefaultHostRates(),
	})
	return &feed.Loader{
		Fetcher: f,
		Charset: cfg.Feed.Charset,
		TempDir: cfg.Feed.TempDir,
	}
}

func newEngine(st store.Store) *engine.Engine {
	return engine.New(st, newLoader(), engine.Options{
		Sources:       cfg.Feed.Sources,
		MinConfidence: cfg.Rules.MinConfidence,
		ReleaseMonth:  time.Month(cfg.Rules.ReleaseMonth),
		Concurrency:   cfg.Rules.Concurrency,
	})
}
