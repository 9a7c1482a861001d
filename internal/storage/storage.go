// Package storage opens the notification backend selected by STORE_DRIVER.
package storage

import (
	"context"
	"fmt"

	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/db"
	"github.com/austindbirch/harbor_remind/internal/health"
	"github.com/austindbirch/harbor_remind/internal/notification"
	"github.com/austindbirch/harbor_remind/internal/notification/memory"
	"github.com/austindbirch/harbor_remind/internal/notification/mongodb"
	"github.com/austindbirch/harbor_remind/internal/notification/postgres"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	// DriverMemory is per-process: the API and the worker each get their own
	// store, so it only suits tests and single-process development.
	DriverMemory = "memory"
)

// Backend is an opened repository plus the handle health checks ping
type Backend struct {
	Driver string
	Repo   notification.Repository
	Pinger health.Pinger
	close  func()
}

// Close releases the underlying pool or client
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open connects to the configured store and prepares its schema or indexes
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.StoreDriver {
	case DriverPostgres, "":
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{Driver: DriverPostgres, Repo: postgres.New(pool), Pinger: pool, close: pool.Close}, nil

	case DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI())
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		repo := mongodb.New(client.Database(cfg.Mongo.Database))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return &Backend{
			Driver: DriverMongo,
			Repo:   repo,
			Pinger: repo,
			close:  func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case DriverMemory:
		repo := memory.New()
		return &Backend{Driver: DriverMemory, Repo: repo, Pinger: repo, close: repo.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
