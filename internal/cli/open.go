package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/batteries/internal/blob"
	blobfs "github.com/roach88/batteries/internal/blob/fs"
	blobmemory "github.com/roach88/batteries/internal/blob/memory"
	blobs3 "github.com/roach88/batteries/internal/blob/s3"
	"github.com/roach88/batteries/internal/config"
	"github.com/roach88/batteries/internal/keys"
	"github.com/roach88/batteries/internal/serial"
	"github.com/roach88/batteries/internal/session"
	"github.com/roach88/batteries/internal/slug"
	"github.com/roach88/batteries/internal/store"
	"github.com/roach88/batteries/internal/store/memory"
	"github.com/roach88/batteries/internal/store/postgres"
	"github.com/roach88/batteries/internal/store/redisstore"
)

// OpenBackend opens the record store selected by cfg.Store.Driver.
func OpenBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := redisstore.Open(redisstore.Options{URL: cfg.Store.DSN, Prefix: cfg.Store.Prefix})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenBlobStore opens the attachment store selected by cfg.Blob.Driver.
func OpenBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "fs":
		fsStore, err := blobfs.New(cfg.Blob.Root)
		if err != nil {
			return nil, err
		}
		return fsStore, nil
	case "s3":
		s3 := cfg.Blob.S3
		s3Store, err := blobs3.New(ctx, blobs3.Config{
			Region:          s3.Region,
			Bucket:          s3.Bucket,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			PathStyle:       s3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	case "memory":
		return blobmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}

// OpenSession wires a session over the configured backends, reporting to
// tel. The returned close function releases the record store.
func OpenSession(ctx context.Context, cfg *config.Config, tel *Telemetry) (*session.Session, func() error, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	blobs, err := OpenBlobStore(ctx, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("open %s blob store: %w", cfg.Blob.Driver, err)
	}

	logger := slog.Default()
	logger.Info("store opened", "driver", cfg.Store.Driver, "blob_driver", cfg.Blob.Driver)
	collectors := tel.metrics
	resolverOpts := append(cfg.ResolverOptions(), slug.WithLogger(logger), slug.WithObserver(collectors))
	sess := session.New(backend,
		session.WithLogger(logger),
		session.WithMetrics(collectors),
		session.WithTracerProvider(tel.TracerProvider()),
		session.WithBlobStore(blobs),
		session.WithDeriver(keys.NewDeriver(keys.WithLogger(logger), keys.WithObserver(collectors))),
		session.WithResolver(slug.NewResolver(backend, resolverOpts...)),
		session.WithSerializer(serial.New(cfg.SerializerOptions())),
	)
	return sess, backend.Close, nil
}
