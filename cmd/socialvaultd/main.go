// Command socialvaultd runs the social connection service: OAuth connect and
// callback flows, encrypted credential custody, and the connection API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketloop/socialvault"
	"github.com/marketloop/socialvault/identity"
	"github.com/marketloop/socialvault/instrumentation"
	"github.com/marketloop/socialvault/providers"
	"github.com/marketloop/socialvault/providers/facebook"
	"github.com/marketloop/socialvault/providers/instagram"
	"github.com/marketloop/socialvault/providers/linkedin"
	"github.com/marketloop/socialvault/providers/twitter"
	"github.com/marketloop/socialvault/security"
	"github.com/marketloop/socialvault/storage"
	"github.com/marketloop/socialvault/storage/memory"
	"github.com/marketloop/socialvault/storage/postgres"
	"github.com/marketloop/socialvault/storage/valkey"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "socialvaultd",
		Short:         "Social platform connection and credential custody service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newGenerateSecretCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("database_url is required for migrations")
			}

			ctx := cmd.Context()
			pool, err := postgres.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			return postgres.Migrate(ctx, pool)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	return cmd
}

func newGenerateSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-secret",
		Short: "Generate a random secret suitable for master or state keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := security.GenerateMasterSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *fileConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "socialvault",
		ServiceVersion: version,
		Enabled:        true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()

	connections, flows, mem, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if mem != nil {
		var connCount, flowCount instrumentation.StorageSizeCallback
		if cfg.DatabaseURL == "" {
			connCount = func() int64 { c, _ := mem.Stats(); return int64(c) }
		}
		if cfg.Valkey.Address == "" {
			flowCount = func() int64 { _, f := mem.Stats(); return int64(f) }
		}
		if err := inst.RegisterStorageSizeCallbacks(connCount, flowCount); err != nil {
			logger.Warn("failed to register storage size gauges", "error", err)
		}
	}

	provs, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	svc, err := socialvault.NewService(socialvault.Config{
		MasterSecret:         cfg.Secrets.MasterSecret,
		StateSecret:          cfg.Secrets.StateSecret,
		InternalServiceToken: cfg.Secrets.InternalServiceToken,
		FlowTTL:              cfg.FlowTTL,
		RateLimitPerSecond:   cfg.RateLimitPerSecond,
		RateLimitBurst:       cfg.RateLimitBurst,
		TrustProxy:           cfg.TrustProxy,
		TrustedProxyCount:    cfg.TrustedProxyCount,
		AuditEnabled:         cfg.AuditEnabled,
		Logger:               logger,
		Instrumentation:      inst,
	}, connections, flows, provs...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	verifier, err := identity.NewJWTVerifier(&identity.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity verifier: %w", err)
	}

	handler := socialvault.NewHandler(svc, verifier)
	defer handler.Close()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// buildStores wires the configured backends: Postgres for connections and
// Valkey for pending flows, with a shared in-memory store covering whichever
// is not configured. The memory store, when used, is also returned so the
// caller can register its size gauges.
func buildStores(ctx context.Context, cfg *fileConfig, logger *slog.Logger) (storage.ConnectionStore, storage.FlowStore, *memory.Store, func(), error) {
	var (
		connections storage.ConnectionStore
		flows       storage.FlowStore
		cleanups    []func()
	)

	var mem *memory.Store
	memStore := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
			mem.SetLogger(logger)
			cleanups = append(cleanups, mem.Stop)
		}
		return mem
	}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)

		if err := postgres.Migrate(ctx, pool); err != nil {
			runCleanups(cleanups)
			return nil, nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		connections = postgres.New(pool, logger)
	} else {
		logger.Warn("no database configured, connections are held in memory")
		connections = memStore()
	}

	if cfg.Valkey.Address != "" {
		store, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			runCleanups(cleanups)
			return nil, nil, nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		cleanups = append(cleanups, store.Close)
		flows = store
	} else {
		logger.Warn("no valkey configured, pending flows are held in memory")
		flows = memStore()
	}

	return connections, flows, mem, func() { runCleanups(cleanups) }, nil
}

func runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

func buildProviders(cfg *fileConfig) ([]providers.Provider, error) {
	provs := make([]providers.Provider, 0, len(cfg.Providers))

	for platform, creds := range cfg.Providers {
		var (
			p   providers.Provider
			err error
		)
		switch platform {
		case providers.PlatformFacebook:
			p, err = facebook.NewProvider(&facebook.Config{
				ClientID:     creds.ClientID,
				ClientSecret: creds.ClientSecret,
				RedirectURL:  cfg.redirectURL(platform),
			})
		case providers.PlatformInstagram:
			p, err = instagram.NewProvider(&instagram.Config{
				ClientID:     creds.ClientID,
				ClientSecret: creds.ClientSecret,
				RedirectURL:  cfg.redirectURL(platform),
			})
		case providers.PlatformTwitter:
			p, err = twitter.NewProvider(&twitter.Config{
				ClientID:     creds.ClientID,
				ClientSecret: creds.ClientSecret,
				RedirectURL:  cfg.redirectURL(platform),
			})
		case providers.PlatformLinkedIn:
			p, err = linkedin.NewProvider(&linkedin.Config{
				ClientID:     creds.ClientID,
				ClientSecret: creds.ClientSecret,
				RedirectURL:  cfg.redirectURL(platform),
			})
		default:
			return nil, fmt.Errorf("unknown provider %q in config", platform)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s provider: %w", platform, err)
		}
		provs = append(provs, p)
	}

	return provs, nil
}
