package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CrowderSoup/kanban-sync/config"
	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/handlers"
	"github.com/CrowderSoup/kanban-sync/services"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	serveAddr    string
	serveConfig  string
	serveEnvFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	Long: `Start the HTTP API and the WebSocket hub.

Configuration is read from defaults, then the .env file, then the YAML file
given with --config, then environment variables. --addr overrides the
listen address from all of them.

Examples:
  # Serve with a local SQLite database
  JWT_SECRET=dev kanban-sync serve

  # Serve from a config file on another port
  kanban-sync serve --config kanban.yml --addr :8080`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&serveAddr, "addr", "a", "", "Listen address (overrides ADDR/PORT)")
	fs.StringVarP(&serveConfig, "config", "c", "", "Path to a YAML config file")
	fs.StringVar(&serveEnvFile, "env-file", ".env", "Path to a .env file (ignored if missing)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveEnvFile, serveConfig)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rooms := services.NewRoomRegistry(log)
	relay := services.NewDeploymentRelay(rooms, nil)
	syncer := services.NewBoardSync(rooms, services.NewPresenceTracker(cfg.PresenceRefCount), relay, store, services.SyncOptions{
		Logger:         log,
		Policy:         services.ParseLogPolicy(cfg.LogPersistFailures),
		PersistTimeout: cfg.PersistTimeout,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := services.NewHub(syncer, log)
	go hub.Run(hubCtx)

	if cfg.RedisURL != "" {
		feed, err := services.NewDeploymentFeed(cfg.RedisURL, relay, log)
		if err != nil {
			return err
		}
		defer feed.Close()
		go func() {
			if err := feed.Run(hubCtx); err != nil {
				log.Error("deployment feed stopped", "err", err)
			}
		}()
	}

	router := handlers.NewRouter(handlers.Deps{
		Auth:         services.NewAuthService(cfg.JWTSecret, cfg.TokenTTL),
		Boards:       services.NewBoardService(store, syncer, nil),
		Store:        store,
		Relay:        relay,
		Hub:          hub,
		Log:          log,
		CORSOrigins:  cfg.CORSOrigins,
		ClientBuffer: cfg.ClientBuffer,
		DisableLogin: cfg.DisableLogin,
	})
	if !cfg.DisableLogin {
		log.Warn("development login enabled; any email can obtain a token")
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "store", cfg.StoreDriver)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	stopHub()
	// the hub may still be handling an event that queues a write
	<-hub.Done()
	// let queued board and chat writes land before the store closes
	syncer.Wait()
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (database.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return database.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return database.OpenSQLiteStore(cfg.SQLitePath)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
