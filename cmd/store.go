package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/salescycle/internal/resilience"
	"github.com/sells-group/salescycle/internal/store"
	sfpkg "github.com/sells-group/salescycle/pkg/salesforce"
)

// Overridden in tests.
var (
	openStore      = initStore
	openSalesforce = initSalesforce
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "salescycle.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openMigratedStore opens the configured store and applies its schema.
func openMigratedStore(ctx context.Context) (store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (SALESCYCLE_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	creds := sfpkg.JWTCreds{
		LoginURL:    cfg.Salesforce.LoginURL,
		Username:    cfg.Salesforce.Username,
		ConsumerKey: cfg.Salesforce.ClientID,
		PrivateKey:  string(pemData),
	}
	return sfpkg.Connect(creds,
		sfpkg.WithRateLimit(cfg.Salesforce.RateLimit),
		sfpkg.WithRetry(resilience.Policy{Attempts: cfg.Salesforce.MaxAttempts}),
	)
}
