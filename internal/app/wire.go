package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/botledger/internal/blob/s3"
	"github.com/alanyoungcy/botledger/internal/bus/kafka"
	"github.com/alanyoungcy/botledger/internal/cache/redis"
	"github.com/alanyoungcy/botledger/internal/config"
	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/notify"
	"github.com/alanyoungcy/botledger/internal/platform/evm"
	"github.com/alanyoungcy/botledger/internal/server/handler"
	"github.com/alanyoungcy/botledger/internal/server/middleware"
	"github.com/alanyoungcy/botledger/internal/server/ws"
	"github.com/alanyoungcy/botledger/internal/service"
	"github.com/alanyoungcy/botledger/internal/store/memory"
	"github.com/alanyoungcy/botledger/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger services
	Config      *service.ConfigService
	Delegations *service.DelegationService
	Positions   *service.PositionService

	// Audit trail and its archive
	Audit    domain.AuditStore
	Archiver *s3blob.Archiver
	Archives domain.BlobReader

	// Request plumbing
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Nonces  domain.NonceStore

	// Checks are probed by /api/health.
	Checks map[string]handler.Checker
}

type ledgerStores struct {
	config      domain.ConfigStore
	delegations domain.DelegationStore
	positions   domain.PositionStore
	audit       domain.AuditStore
	auditSink   domain.EventSink
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- Ledger storage ---
	var stores ledgerStores
	switch cfg.Storage.Backend {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		audit := postgres.NewAuditStore(pool)
		stores = ledgerStores{
			config:      postgres.NewConfigStore(pool),
			delegations: postgres.NewDelegationStore(pool),
			positions:   postgres.NewPositionStore(pool),
			audit:       audit,
			auditSink:   audit,
		}
		deps.Checks["postgres"] = pgClient.Ping
	default:
		logger.WarnContext(ctx, "wire: using in-memory storage; state is lost on exit")
		db := memory.New()
		audit := db.Audit()
		stores = ledgerStores{
			config:      db.Config(),
			delegations: db.Delegations(),
			positions:   db.Positions(),
			audit:       audit,
			auditSink:   audit,
		}
	}
	deps.Audit = stores.audit
	sinks := service.MultiSink{stores.auditSink}

	// --- Redis: locks, replay protection, rate limiting, event bus ---
	var locks domain.LockManager = service.NewLocalLocks()
	deps.Nonces = middleware.NewLocalNonces()
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		if cfg.Locks.Backend == "redis" {
			locks = redis.NewLockManager(redisClient, 0)
		}
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)

		bus := redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		sinks = append(sinks, service.NewBusSink(bus))
		deps.Hub = ws.NewHub(bus, ws.Config{
			Channel: service.EventChannel,
			Stream:  service.EventStream,
		}, logger.With(slog.String("component", "ws")))
	} else {
		// Without a bus the hub only sees this replica's events.
		deps.Hub = ws.NewHub(nil, ws.Config{}, logger.With(slog.String("component", "ws")))
		sinks = append(sinks, deps.Hub)
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			WriteTimeout: cfg.Kafka.WriteTimeout.Duration,
		}, logger.With(slog.String("component", "kafka")))
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
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
	if len(senders) > 0 {
		sinks = append(sinks, notify.NewNotifier(senders, cfg.Notify.Events,
			logger.With(slog.String("component", "notify"))))
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Checks["s3"] = s3Client.Health

		reader := s3blob.NewReader(s3Client)
		deps.Archives = reader
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), reader, stores.audit,
			logger.With(slog.String("component", "archiver")))
	}

	// --- Balance pre-check ---
	var balances domain.BalanceSource
	if cfg.EVM.RPCURL != "" {
		src, err := evm.Dial(ctx, cfg.EVM.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: evm: %w", err))
		}
		closers = append(closers, src.Close)
		balances = src
	}

	// --- Ledger services ---
	svcLogger := logger.With(slog.String("component", "ledger"))
	lockTTL := cfg.Locks.TTL.Duration
	deps.Config = service.NewConfigService(stores.config, sinks, svcLogger)
	deps.Delegations = service.NewDelegationService(
		deps.Config, stores.delegations, locks, lockTTL, sinks, svcLogger,
	)
	deps.Positions = service.NewPositionService(
		deps.Config, stores.delegations, stores.positions, balances, locks, lockTTL, sinks, svcLogger,
	)

	return deps, cleanup, nil
}
