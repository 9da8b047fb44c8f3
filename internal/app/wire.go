package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "sigengine/internal/blob/s3"
	busredis "sigengine/internal/bus/redis"
	"sigengine/internal/config"
	"sigengine/internal/crypto"
	"sigengine/internal/domain"
	"sigengine/internal/notify"
	"sigengine/internal/store/postgres"
	"sigengine/internal/store/sqlite"
	"sigengine/internal/venue/bridge"
	"sigengine/internal/venue/paper"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Signal queue shared with the producer process.
	Store domain.SignalStore

	// Trading venue (bridge or paper).
	Venue domain.Venue

	// Status fan-out (optional).
	Bus domain.StatusPublisher

	// Blob storage (optional).
	BlobWriter domain.BlobWriter
	Archiver   domain.OutcomeArchiver

	// Notifications
	Notifier *notify.Notifier
}

// needsStore returns true for modes that read or write the signal queue.
func needsStore(mode string) bool {
	switch mode {
	case "run", "export", "inject":
		return true
	default:
		return false
	}
}

// needsVenue returns true for modes that talk to the trading venue.
func needsVenue(mode string) bool {
	return mode == "run"
}

// needsBlob returns true when the configuration calls for object storage in
// the given mode: the engine archives outcomes continuously, exports upload
// only on request.
func needsBlob(cfg *config.Config, mode string) bool {
	if !cfg.S3.Enabled {
		return false
	}
	switch mode {
	case "run":
		return true
	case "export":
		return cfg.Export.Upload
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Signal store (only for modes that touch the queue) ---
	if needsStore(mode) {
		switch cfg.Store.Driver {
		case "postgres":
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres: %w", err)
			}
			store := postgres.NewSignalStore(pgClient, logger)
			closers = append(closers, func() { _ = store.Close() })

			if cfg.Postgres.RunMigrations {
				if err := pgClient.RunMigrations(ctx); err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
				}
			}
			deps.Store = store
		case "sqlite":
			store, err := sqlite.New(cfg.Store.Path, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
			}
			closers = append(closers, func() { _ = store.Close() })
			deps.Store = store
		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unsupported store driver %q", cfg.Store.Driver)
		}
	}

	// --- Venue (only the run mode trades) ---
	if needsVenue(mode) {
		switch cfg.Venue.Kind {
		case "bridge":
			// An empty token is legal; the bridge then greets the peer
			// without credentials and lets it decide.
			var token string
			if cfg.Venue.Token != "" || cfg.Venue.KeyfilePath != "" {
				var err error
				token, err = crypto.LoadToken(crypto.TokenConfig{
					RawToken:    cfg.Venue.Token,
					KeyfilePath: cfg.Venue.KeyfilePath,
					Passphrase:  cfg.Venue.KeyPassword,
				})
				if err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("wire: bridge token: %w", err)
				}
			}
			v := bridge.New(bridge.Config{
				Endpoint:    cfg.Venue.Endpoint,
				Token:       token,
				CallTimeout: cfg.Venue.CallTimeout.Duration,
			}, logger)
			if err := v.Connect(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: bridge connect: %w", err)
			}
			closers = append(closers, func() { _ = v.Close() })
			deps.Venue = v
		case "paper":
			v := paper.New()
			closers = append(closers, func() { _ = v.Close() })
			deps.Venue = v
		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unsupported venue kind %q", cfg.Venue.Kind)
		}
	}

	// --- Redis status bus (optional, run mode only) ---
	if mode == "run" && cfg.Redis.Enabled {
		bus, err := busredis.New(ctx, busredis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyTTL:     cfg.Redis.KeyTTL.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = bus.Close() })
		deps.Bus = bus
	}

	// --- S3 blob storage (optional) ---
	if needsBlob(cfg, mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		// Archival is best-effort; a dead bucket should not stop trading.
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 health check failed",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if mode == "run" {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, s3blob.NewReader(s3Client))
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
