package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/masjidku/masjidauth/internal/db"
	"github.com/masjidku/masjidauth/internal/handlers"
	"github.com/masjidku/masjidauth/internal/logger"
	"github.com/masjidku/masjidauth/internal/repository/postgres"
	"github.com/masjidku/masjidauth/internal/service/auth"
	"github.com/masjidku/masjidauth/internal/service/auth/tokenmanager"
	"github.com/masjidku/masjidauth/internal/service/cleanup"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	sweeper *cleanup.Sweeper
	cronCfg string
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: c.SecretKey,
		AccessTTL: time.Duration(c.AccessTTLMin) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{
		RefreshTokenTTL: time.Duration(c.RefreshTTLDays) * 24 * time.Hour,
		MaxActiveTokens: int64(c.MaxActiveTokens),
	}, tokenManager, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	sweeper := cleanup.New(cleanup.Config{
		RevokedGrace: time.Duration(c.RevokedGraceDays) * 24 * time.Hour,
	}, storage, log)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    handlers.NewRouter(authService, log),
		logger:     log,
		sweeper:    sweeper,
		cronCfg:    c.CleanupSchedule,
	}, nil
}

// Run starts the scheduled cleanup and the http server, closing both
// gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	// Schedule token cleanup
	scheduler := cron.New()
	_, err := scheduler.AddFunc(s.cronCfg, func() {
		result, err := s.sweeper.Sweep(context.Background(), false)
		if err != nil {
			s.logger.Error("Scheduled token cleanup failed", "error", err)
			return
		}
		s.logger.Info("Scheduled token cleanup done",
			"revoked_deleted", result.RevokedDeleted,
			"expired_deleted", result.ExpiredDeleted,
		)
	})
	if err != nil {
		return fmt.Errorf("error while scheduling token cleanup. Err: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err = httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
