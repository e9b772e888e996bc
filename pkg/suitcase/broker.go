package suitcase

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/bluesky/suitcase-core/internal/adapters/broker"
	"github.com/bluesky/suitcase-core/internal/app/config"
)

// OpenBroker connects to Postgres, ensures the schema exists, and returns the
// broker plus a close function for the underlying connection pool.
func OpenBroker(ctx context.Context, cfg config.BrokerConfig) (Broker, func() error, error) {
	db, err := sql.Open("postgres", cfg.ConnString)
	if err != nil {
		return nil, nil, err
	}
	pg := broker.NewPostgresBroker(db, cfg.TablePrefix)
	if err := pg.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pg, db.Close, nil
}

// NewMemBroker returns an in-memory broker, useful for tests and for export
// round trips that never touch Postgres.
func NewMemBroker() Broker {
	return broker.NewMemBroker()
}
