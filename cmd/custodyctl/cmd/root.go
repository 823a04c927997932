package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obverse/obverse/internal/config"
	"github.com/obverse/obverse/internal/logging"
	"github.com/obverse/obverse/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "custodyctl",
	Short: "Operator tooling for custodial wallets",
	Long: `custodyctl inspects and maintains the custodial wallets stored by the API.
It reads the same environment as the server and never prints key material.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(rotateCmd, deactivateCmd, showCmd, verifyCmd)
}

type app struct {
	cfg    config.Config
	svc    *server.Services
	logger *slog.Logger
	close  func()
}

// open loads configuration and wires the services against the configured
// backends. Callers must defer app.close.
func open(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, "console").With(slog.String("app", "custodyctl"))

	backends, closeBackends, err := server.Connect(ctx, cfg, logger)
	if err != nil {
		closeBackends()
		return nil, err
	}
	if backends.Mongo == nil {
		closeBackends()
		return nil, fmt.Errorf("MONGO_URI must be set, custodyctl has nothing to inspect in memory")
	}

	svc, err := server.BuildServices(ctx, cfg, backends, logger)
	if err != nil {
		closeBackends()
		return nil, err
	}
	return &app{cfg: cfg, svc: svc, logger: logger, close: closeBackends}, nil
}
