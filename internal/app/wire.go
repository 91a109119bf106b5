package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/emberhedge/firemark/internal/blob/s3"
	"github.com/emberhedge/firemark/internal/cache/redis"
	"github.com/emberhedge/firemark/internal/config"
	"github.com/emberhedge/firemark/internal/crypto"
	"github.com/emberhedge/firemark/internal/domain"
	"github.com/emberhedge/firemark/internal/engine"
	"github.com/emberhedge/firemark/internal/notify"
	"github.com/emberhedge/firemark/internal/oracle"
	"github.com/emberhedge/firemark/internal/service"
	"github.com/emberhedge/firemark/internal/store/postgres"
	"github.com/emberhedge/firemark/internal/vault"
)

// Dependencies bundles every component the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore      domain.MarketStore
	AttestationStore domain.AttestationStore

	// Redis-backed infrastructure
	StateCache  domain.StateCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Proof archive, nil when S3 is disabled
	Archiver domain.Archiver

	// Core
	VaultLedger *vault.Ledger
	Engine      *engine.Engine
	Service     *service.MarketService

	// Signer is non-nil when this instance holds an operator key.
	Signer *crypto.AttestationSigner

	// Notifications
	Notifier *notify.Notifier
}

// poolFactory adapts the vault factory to the engine's pool interface.
type poolFactory struct {
	vaults *vault.Factory
}

func (p *poolFactory) CreatePair(id domain.MarketID) (risk, hedge engine.AssetPool, err error) {
	pair, err := p.vaults.CreatePair(id)
	if err != nil {
		return nil, nil, err
	}
	return pair.Risk, pair.Hedge, nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
//
// Wiring order matters at one point: the vault factory refuses to create
// pairs until the engine's gate is bound to it, so BindGate runs before the
// engine restores any state.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.AttestationStore = postgres.NewAttestationStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.StateCache = redis.NewStateCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 proof archive ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewProofArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
	}

	// --- Oracle verifier ---
	verifier, err := oracle.NewVerifier(cfg.Oracle.Operators, cfg.Oracle.Threshold)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: oracle verifier: %w", err)
	}

	// --- Optional local operator signer ---
	if cfg.Oracle.SignerKey != "" || cfg.Oracle.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Oracle.SignerKey,
			EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
			KeyPassword:      cfg.Oracle.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		signer, err := crypto.NewAttestationSigner(keyHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Vaults and engine ---
	deps.VaultLedger = vault.NewLedger()
	vaultFactory := vault.NewFactory(deps.VaultLedger)
	deps.Engine = engine.New(&poolFactory{vaults: vaultFactory}, verifier, nil, logger)
	vaultFactory.BindGate(deps.Engine)

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

	// --- Service layer ---
	deps.Service = service.NewMarketService(
		deps.Engine,
		deps.MarketStore,
		deps.AttestationStore,
		deps.StateCache,
		deps.SignalBus,
		deps.Archiver,
		deps.Notifier,
		logger,
	)

	if err := deps.Service.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore markets: %w", err)
	}

	return deps, cleanup, nil
}
