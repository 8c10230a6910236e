package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/spf13/cobra"

	"timesheet/auth"
	"timesheet/clock"
	"timesheet/config"
	"timesheet/crypto"
	"timesheet/db"
	"timesheet/handlers"
	"timesheet/logger"
	"timesheet/service"
	"timesheet/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "timesheet",
		Short: "Project time tracking web application",
		Long: `Timesheet tracks time spent on projects.

Users register, create projects, clock in and out against them and archive
projects once they are completed. Running without a subcommand starts the
web server.

CONFIGURATION:
  Settings are read from a JSON file (--config, default config.json) and
  can be overridden with TIMESHEET_* environment variables or a .env file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the JSON config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	})

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(configPath, func(conn *sql.DB, log *logger.Logger) error {
				if err := db.Migrate(conn, log); err != nil {
					return err
				}
				version, err := db.Version(conn)
				if err != nil {
					return err
				}
				log.Infof("database is at version %d", version)
				return nil
			})
		},
	})
	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(configPath, func(conn *sql.DB, log *logger.Logger) error {
				return db.MigrationStatus(conn, log)
			})
		},
	})
	root.AddCommand(migrate)

	return root
}

func loadConfigOrDefault(path string) (config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) && path == "config.json" {
		// The default path is optional; defaults plus env still apply.
		return config.LoadConfig("")
	}
	return cfg, err
}

func newLogger(cfg config.Config) (*logger.Logger, error) {
	if cfg.LogDir == "" {
		return logger.New(os.Stdout, "timesheet", cfg.LogLevel), nil
	}
	return logger.NewWithFile(cfg.LogDir, "timesheet", cfg.LogLevel)
}

func withDatabase(configPath string, fn func(conn *sql.DB, log *logger.Logger) error) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn, log)
}

func runServe(configPath string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionStore, closeSessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	svc, err := service.New(store.New(conn), crypto.NewBcryptHasher(cfg.BcryptCost), clock.NewRealClock())
	if err != nil {
		return err
	}
	srv, err := handlers.NewServer(cfg, svc, auth.NewManager(sessionStore), log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s (%s, sessions: %s)", httpServer.Addr, cfg.AppName, cfg.SessionBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("forced shutdown: %v", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

func newSessionStore(ctx context.Context, cfg config.Config) (sessions.Store, func(), error) {
	if cfg.SessionBackend != config.SessionBackendRedis {
		return auth.NewCookieStore(cfg.SessionKey, cfg.SecureCookies, cfg.SessionMaxAge), func() {}, nil
	}

	client, err := auth.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	redisStore := auth.NewRedisStore(client, cfg.SessionKey, cfg.SecureCookies, cfg.SessionMaxAge)
	return redisStore, func() { client.Close() }, nil
}
