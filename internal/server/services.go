package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/obverse/obverse/internal/chain"
	"github.com/obverse/obverse/internal/config"
	"github.com/obverse/obverse/internal/conversation"
	"github.com/obverse/obverse/internal/funding"
	"github.com/obverse/obverse/internal/httpx"
	"github.com/obverse/obverse/internal/identity"
	"github.com/obverse/obverse/internal/jupiter"
	"github.com/obverse/obverse/internal/lease"
	"github.com/obverse/obverse/internal/ledger"
	"github.com/obverse/obverse/internal/notification"
	"github.com/obverse/obverse/internal/payments"
	"github.com/obverse/obverse/internal/swap"
	"github.com/obverse/obverse/internal/tokens"
	"github.com/obverse/obverse/internal/wallet"
)

// Services is the assembled application shared by the HTTP API, the bot and
// the admin CLI.
type Services struct {
	Tokens        *tokens.Registry
	Wallets       *wallet.Service
	Identity      *identity.Service
	Ledger        ledger.Ledger
	Swaps         *swap.Service
	Funding       *funding.Service
	Payments      *payments.Service
	Flow          *conversation.Flow
	Notifications *notification.Hub
}

// BuildServices wires repositories and services for cfg. Solana RPC and the
// aggregator are only contacted when an operation needs them.
func BuildServices(ctx context.Context, cfg config.Config, b Backends, logger *slog.Logger) (*Services, error) {
	registry := tokens.NewRegistry()
	if cfg.TokensFile != "" {
		loaded, err := tokens.LoadFile(cfg.TokensFile)
		if err != nil {
			return nil, err
		}
		registry = loaded
	}

	var (
		walletRepo   wallet.Repository
		identityRepo identity.Repository
		paymentRepo  payments.Repository
	)
	if b.Mongo != nil {
		db := b.Mongo.Database(cfg.MongoDatabase)
		wr := wallet.NewMongoRepository(db)
		if err := wr.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("wallet indexes: %w", err)
		}
		ir := identity.NewMongoRepository(db)
		if err := ir.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("user indexes: %w", err)
		}
		pr := payments.NewMongoRepository(db)
		if err := pr.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("payment link indexes: %w", err)
		}
		walletRepo, identityRepo, paymentRepo = wr, ir, pr
	} else {
		logger.Warn("MONGO_URI not set, using in-memory repositories")
		walletRepo, identityRepo, paymentRepo = wallet.NewMemoryRepository(), identity.NewMemoryRepository(), payments.NewMemoryRepository()
	}

	ledgerBackend, err := buildLedger(ctx, cfg, b)
	if err != nil {
		return nil, err
	}

	rpcClient := rpc.New(cfg.SolanaRPCURL)
	oracle := chain.NewBalanceOracle(rpcClient, cfg.RPCTimeout)
	broadcaster := chain.NewBroadcaster(rpcClient, cfg.RPCTimeout)
	quotes := jupiter.New(httpx.New(cfg.AggregatorTimeout, cfg.AggregatorRetries), cfg.JupiterBaseURL, cfg.JupiterAPIKey)

	keyring, err := wallet.NewKeyring(wallet.Secret{ID: cfg.MasterSecretID, Value: cfg.MasterSecret}, cfg.RetiredSecrets)
	if err != nil {
		return nil, err
	}
	custody := wallet.NewCustody(walletRepo, registry, cfg.KDFIterations)
	wallets := wallet.NewService(walletRepo, custody, oracle, registry, keyring, logger.With(slog.String("component", "wallet")))
	users := identity.NewService(identityRepo, wallets, logger.With(slog.String("component", "identity")))

	hub := notification.NewHub(notification.NewLoggerNotifier(logger.With(slog.String("component", "notification"))))

	orchestrator, err := swap.NewOrchestrator(oracle, quotes, wallets, broadcaster, registry, swap.Options{
		FeeReserve:  cfg.FeeReserve,
		StepTimeout: cfg.RPCTimeout,
		Observer:    swap.MetricsObserver{},
		Logger:      logger.With(slog.String("component", "swap")),
	})
	if err != nil {
		return nil, err
	}

	var (
		locker   lease.Locker
		sessions conversation.Store
	)
	if b.Redis != nil {
		locker = lease.NewRedisLocker(b.Redis)
		sessions = conversation.NewRedisStore(b.Redis)
	} else {
		locker = lease.NewMemoryLocker()
		sessions = conversation.NewMemoryStore()
	}

	swaps := swap.NewService(swap.ServiceConfig{
		Orchestrator: orchestrator,
		Wallets:      wallets,
		Ledger:       ledgerBackend,
		Locker:       locker,
		LeaseTTL:     cfg.SwapLeaseTTL,
		SlippageBps:  cfg.SlippageBps,
		Notifier:     hub,
		Logger:       logger.With(slog.String("component", "swap")),
	})

	return &Services{
		Tokens:        registry,
		Wallets:       wallets,
		Identity:      users,
		Ledger:        ledgerBackend,
		Swaps:         swaps,
		Funding:       funding.NewService(wallets, ledgerBackend, hub, cfg.FeeReserve, logger.With(slog.String("component", "funding"))),
		Payments:      payments.NewService(paymentRepo, wallets, registry, ledgerBackend, hub, logger.With(slog.String("component", "payments"))),
		Flow:          conversation.NewFlow(sessions, registry, cfg.ConversationTTL),
		Notifications: hub,
	}, nil
}

func buildLedger(ctx context.Context, cfg config.Config, b Backends) (ledger.Ledger, error) {
	switch cfg.LedgerDriver {
	case "postgres":
		if b.Postgres == nil {
			return nil, fmt.Errorf("LEDGER_DRIVER=postgres requires a database connection")
		}
		l := ledger.NewPostgresLedger(b.Postgres)
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ledger schema: %w", err)
		}
		return l, nil
	case "mongo":
		if b.Mongo != nil {
			l := ledger.NewMongoLedger(b.Mongo.Database(cfg.MongoDatabase))
			if err := l.EnsureIndexes(ctx); err != nil {
				return nil, fmt.Errorf("ledger indexes: %w", err)
			}
			return l, nil
		}
	}
	return ledger.NewInMemory(), nil
}
