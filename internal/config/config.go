package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName          = "Obverse"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultMongoDatabase    = "obverse"
	defaultLedgerDriver     = "mongo"
	defaultSolanaRPCURL     = "https://api.mainnet-beta.solana.com"
	defaultJupiterBaseURL   = "https://lite-api.jup.ag/swap/v1"
	defaultKDFIterations    = 100000
	defaultFeeReserveSOL    = "0.005"
	defaultSlippageBps      = 50
	defaultAggregatorRetry  = 2
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultRPCTimeout       = 15 * time.Second
	defaultAggregatorTO     = 10 * time.Second
	defaultConversationTTL  = 5 * time.Minute
	defaultSwapLeaseTTL     = 2 * time.Minute
	defaultLinkSweep        = time.Minute
	defaultMasterSecretID   = "v1"
	minMasterSecretLength   = 16
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	rpcTimeoutEnvVar        = "RPC_TIMEOUT"
	aggregatorTimeoutEnvVar = "AGGREGATOR_TIMEOUT"
	conversationTTLEnvVar   = "CONVERSATION_TTL"
	swapLeaseTTLEnvVar      = "SWAP_LEASE_TTL"
	linkSweepEnvVar         = "PAYMENT_LINK_SWEEP_INTERVAL"
	retiredSecretsEnvVar    = "CUSTODY_RETIRED_MASTER_SECRETS"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	LogFormat         string
	MongoURI          string
	MongoDatabase     string
	RedisURL          string
	DatabaseURL       string
	LedgerDriver      string
	TelegramToken     string
	SolanaRPCURL      string
	JupiterBaseURL    string
	JupiterAPIKey     string
	MasterSecret      string
	MasterSecretID    string
	RetiredSecrets    map[string]string
	KDFIterations     int
	FeeReserve        decimal.Decimal
	SlippageBps       int
	AggregatorRetries int
	TokensFile        string
	APIKey            string
	RPCTimeout        time.Duration
	AggregatorTimeout time.Duration
	ConversationTTL   time.Duration
	SwapLeaseTTL      time.Duration
	LinkSweepInterval time.Duration
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present;
// variables already set in the environment take precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDatabase:     getEnv("MONGO_DATABASE", defaultMongoDatabase),
		RedisURL:          os.Getenv("REDIS_URL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		LedgerDriver:      strings.ToLower(getEnv("LEDGER_DRIVER", defaultLedgerDriver)),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		SolanaRPCURL:      getEnv("SOLANA_RPC_URL", defaultSolanaRPCURL),
		JupiterBaseURL:    strings.TrimRight(getEnv("JUPITER_BASE_URL", defaultJupiterBaseURL), "/"),
		JupiterAPIKey:     os.Getenv("JUPITER_API_KEY"),
		MasterSecret:      os.Getenv("CUSTODY_MASTER_SECRET"),
		MasterSecretID:    getEnv("CUSTODY_MASTER_SECRET_ID", defaultMasterSecretID),
		TokensFile:        os.Getenv("TOKENS_FILE"),
		APIKey:            os.Getenv("API_KEY"),
		KDFIterations:     defaultKDFIterations,
		SlippageBps:       defaultSlippageBps,
		AggregatorRetries: defaultAggregatorRetry,
		RPCTimeout:        defaultRPCTimeout,
		AggregatorTimeout: defaultAggregatorTO,
		ConversationTTL:   defaultConversationTTL,
		SwapLeaseTTL:      defaultSwapLeaseTTL,
		LinkSweepInterval: defaultLinkSweep,
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
	}

	var err error
	if cfg.KDFIterations, err = intEnv("KDF_ITERATIONS", defaultKDFIterations); err != nil {
		return Config{}, err
	}
	if cfg.SlippageBps, err = intEnv("DEFAULT_SLIPPAGE_BPS", defaultSlippageBps); err != nil {
		return Config{}, err
	}
	if cfg.AggregatorRetries, err = intEnv("AGGREGATOR_RETRIES", defaultAggregatorRetry); err != nil {
		return Config{}, err
	}

	if cfg.RetiredSecrets, err = secretsEnv(retiredSecretsEnvVar); err != nil {
		return Config{}, err
	}

	cfg.FeeReserve, err = decimal.NewFromString(getEnv("FEE_RESERVE_SOL", defaultFeeReserveSOL))
	if err != nil {
		return Config{}, fmt.Errorf("invalid FEE_RESERVE_SOL: %w", err)
	}

	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RPCTimeout, err = durationEnv("", rpcTimeoutEnvVar, defaultRPCTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AggregatorTimeout, err = durationEnv("", aggregatorTimeoutEnvVar, defaultAggregatorTO); err != nil {
		return Config{}, err
	}
	if cfg.ConversationTTL, err = durationEnv("", conversationTTLEnvVar, defaultConversationTTL); err != nil {
		return Config{}, err
	}
	if cfg.SwapLeaseTTL, err = durationEnv("", swapLeaseTTLEnvVar, defaultSwapLeaseTTL); err != nil {
		return Config{}, err
	}
	if cfg.LinkSweepInterval, err = durationEnv("", linkSweepEnvVar, defaultLinkSweep); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that do not depend on how the values were loaded.
func (c Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("CUSTODY_MASTER_SECRET must be set")
	}
	if c.MasterSecretID == "" {
		return fmt.Errorf("CUSTODY_MASTER_SECRET_ID must be set")
	}
	if _, ok := c.RetiredSecrets[c.MasterSecretID]; ok {
		return fmt.Errorf("%s must not contain the current secret id %q", retiredSecretsEnvVar, c.MasterSecretID)
	}
	if !c.IsDev() {
		if len(c.MasterSecret) < minMasterSecretLength {
			return fmt.Errorf("CUSTODY_MASTER_SECRET must be at least %d characters when APP_ENV=%s", minMasterSecretLength, c.AppEnv)
		}
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	switch c.LedgerDriver {
	case "mongo", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when LEDGER_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_DRIVER %q", c.LedgerDriver)
	}
	if c.KDFIterations < 1 {
		return fmt.Errorf("KDF_ITERATIONS must be positive")
	}
	if c.SlippageBps < 1 || c.SlippageBps > 10000 {
		return fmt.Errorf("DEFAULT_SLIPPAGE_BPS must be between 1 and 10000")
	}
	if c.LinkSweepInterval <= 0 {
		return fmt.Errorf("%s must be positive", linkSweepEnvVar)
	}
	if c.FeeReserve.IsNegative() {
		return fmt.Errorf("FEE_RESERVE_SOL must not be negative")
	}
	return nil
}

// IsDev reports whether the process runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts either an integer seconds variable or a Go duration variable.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

// secretsEnv parses a comma separated list of id=secret pairs. Secrets may
// contain '=' but not ','.
func secretsEnv(key string) (map[string]string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		id, secret, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid %s: entries must look like id=secret", key)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("invalid %s: secret id %q listed twice", key, id)
		}
		out[id] = secret
	}
	return out, nil
}
