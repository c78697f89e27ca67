package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/linkauth/internal/auth"
	"github.com/dukerupert/linkauth/internal/config"
	"github.com/dukerupert/linkauth/internal/database"
	"github.com/dukerupert/linkauth/internal/email"
	"github.com/dukerupert/linkauth/internal/handler"
	"github.com/dukerupert/linkauth/internal/hooks"
	"github.com/dukerupert/linkauth/internal/i18n"
	"github.com/dukerupert/linkauth/internal/identity"
	"github.com/dukerupert/linkauth/internal/logging"
	"github.com/dukerupert/linkauth/internal/server"
	"github.com/dukerupert/linkauth/internal/session"
	"github.com/dukerupert/linkauth/internal/store"
)

const sweepInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "linkauth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	checks := []handler.Check{{Name: "database", Ping: db.PingContext}}

	var sessions session.Store
	switch cfg.SessionStore {
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		rs, err := session.NewRedisStore(client, cfg.SessionTable)
		if err != nil {
			return fmt.Errorf("redis session store: %w", err)
		}
		sessions = rs
		checks = append(checks, handler.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	default:
		ss, err := session.NewSQLStore(ctx, db, cfg.SessionTable)
		if err != nil {
			return fmt.Errorf("sql session store: %w", err)
		}
		sessions = ss
	}

	users := store.NewUserStore(db)
	pending := store.NewPendingConfirmationStore(db)
	translations := i18n.Default()

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.EmailFrom)
	if !emailClient.Configured() {
		logger.Warn("POSTMARK_SERVER_TOKEN not set, sign-in links will be logged instead of sent")
	}
	mailer := email.NewSigninMailer(emailClient, translations, cfg.PublicBaseURL, logger)

	dispatcher := hooks.NewDispatcher(logger.With("component", "hooks"),
		hooks.PendingConfirmations(users, pending, mailer, translations, logger.With("component", "pending_confirmations")),
	)

	svc, err := auth.Configure(auth.Options{
		Secret:          cfg.SessionSecret,
		Domain:          cfg.CookieDomain,
		MaxAge:          cfg.SessionMaxAge,
		Dev:             cfg.Dev,
		Rolling:         cfg.SessionRolling,
		Store:           sessions,
		Identities:      identity.NewResolver(users, logger.With("component", "identity")),
		Hooks:           dispatcher,
		Formatter:       translations,
		Logger:          logger,
		FrontendBaseURL: cfg.FrontendBaseURL,
	})
	if err != nil {
		return err
	}

	srv := server.New(svc, mailer, checks, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("linkauth running", "addr", httpServer.Addr, "session_store", cfg.SessionStore, "dev", cfg.Dev)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return session.NewSweeper(sessions, sweepInterval, logger.With("component", "sweeper")).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})
	return g.Wait()
}
