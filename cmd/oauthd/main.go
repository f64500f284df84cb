package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/oauthd/internal/config"
	"github.com/alexjbarnes/oauthd/internal/identity"
	"github.com/alexjbarnes/oauthd/internal/lifetime"
	"github.com/alexjbarnes/oauthd/internal/logging"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/provider"
	"github.com/alexjbarnes/oauthd/internal/seed"
	"github.com/alexjbarnes/oauthd/internal/server"
	"github.com/alexjbarnes/oauthd/internal/state"
)

var Version = "dev"

func main() {
	// Handle hash-password subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	password := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("oauthd starting",
		slog.String("version", Version),
		slog.String("base_path", cfg.BasePath()),
		slog.Bool("require_auth", cfg.RequireAuth),
	)

	store, err := openState(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer store.Close()

	policy := lifetime.NewPolicy(cfg.Lifetimes())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, cfg, store, policy, logger); err != nil {
			return err
		}
	}

	accounts, err := cfg.ParseAuthUsers()
	if err != nil {
		return fmt.Errorf("parsing AUTH_USERS: %w", err)
	}
	directory, err := identity.NewDirectory(accounts)
	if err != nil {
		return fmt.Errorf("building identity directory: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	prov := provider.New(provider.Config{
		Store:   store,
		Users:   directory,
		Policy:  policy,
		Logger:  logger.With(slog.String("component", "provider")),
		Metrics: m,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := server.NewRouter(server.Config{
		Store:        store,
		Policy:       policy,
		Logger:       logger.With(slog.String("component", "http")),
		Metrics:      m,
		Gatherer:     registry,
		BasePath:     cfg.BasePath(),
		StoreTimeout: cfg.StoreTimeout,
		RequireAuth:  cfg.RequireAuth,
		AdminScope:   cfg.AdminScope,
		Auth:         prov,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("starting HTTP server",
		slog.String("listen", cfg.ListenAddr),
		slog.Int("users", directory.Len()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openState(path string) (*state.State, error) {
	if path == "" {
		return state.Load()
	}
	return state.LoadAt(path)
}

func applySeed(ctx context.Context, cfg *config.Config, store *state.State, policy lifetime.Policy, logger *slog.Logger) error {
	f, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return err
	}

	seedCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	res, err := seed.Apply(seedCtx, store, f, policy.ClientDefaults(), logger)
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	logger.Info("seed applied",
		slog.String("file", cfg.SeedFile),
		slog.Int("clients_created", res.ClientsCreated),
		slog.Int("clients_skipped", res.ClientsSkipped),
		slog.Int("users_created", res.UsersCreated),
		slog.Int("users_skipped", res.UsersSkipped),
	)

	return nil
}
