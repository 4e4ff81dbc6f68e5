package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/auth"
	"github.com/vovakirdan/instalite-chat/internal/config"
	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/service/messages"
	"github.com/vovakirdan/instalite-chat/internal/store"
	badgerstore "github.com/vovakirdan/instalite-chat/internal/store/badger"
	"github.com/vovakirdan/instalite-chat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/instalite-chat/internal/transport/http"
	"github.com/vovakirdan/instalite-chat/internal/upload"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             core.Hub
	closers         []namedCloser
	log             *zerolog.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{shutdownTimeout: cfg.ShutdownTimeout, log: logger}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "sqlite", close: st.Close})
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var backend store.MessageStore = st
	if cfg.StorageDriver == "badger" {
		bs, err := badgerstore.New(badgerstore.Options{Dir: cfg.BadgerPath, Logger: logger})
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init badger: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "badger", close: bs.Close})
		backend = bs
		logger.Info().Str("path", cfg.BadgerPath).Msg("badger message store initialized")
	}

	uploads, err := upload.New(cfg.UploadDir, "/uploads", cfg.MaxUploadBytes)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("init uploads: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	msgService := messages.New(backend, messages.WithHistoryLimit(cfg.HistoryLimit))
	a.hub = core.NewHub(msgService, logger)

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Hub:      a.hub,
		Auth:     authService,
		Users:    st,
		Messages: msgService,
		Uploads:  uploads,
	}, cfg, logger)

	return a, nil
}

// Handler exposes the HTTP handler, for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes stores in reverse order of opening.
func (a *App) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Warn().Err(err).Str("store", c.name).Msg("failed to close store")
		} else {
			a.log.Info().Str("store", c.name).Msg("store closed")
		}
	}
	a.closers = nil
}
