// Package app wires the daemon together and owns its lifecycle. main stays a
// thin shell; everything testable lives here.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"avatarchat/pkg/api"
	"avatarchat/pkg/auth"
	"avatarchat/pkg/chat"
	"avatarchat/pkg/config"
	"avatarchat/pkg/events"
	"avatarchat/pkg/logger"
	"avatarchat/pkg/reply"
	"avatarchat/pkg/retention"
	"avatarchat/pkg/store"
	"avatarchat/pkg/stream"
	"avatarchat/pkg/validation"
)

const shutdownTimeout = 10 * time.Second

// Run boots the daemon and blocks until SIGINT/SIGTERM or a fatal error.
func Run(configPath string) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Level)
	defer logger.Sync()

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := stream.NewHub(st)
	st.SetNotifier(hub.Notify)
	defer hub.Close()

	sink := events.NewLogSink(0)
	defer sink.Close()

	ctx := context.Background()
	gen, err := reply.New(ctx, reply.Config{
		APIKey:    cfg.Generator.APIKey,
		Model:     cfg.Generator.Model,
		MaxTokens: cfg.Generator.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("reply generator: %w", err)
	}

	orch := chat.New(st, st, st, gen, chat.Options{
		Personas: chat.PersonaMap(cfg.Personas),
		Sink:     sink,
		Rules: validation.Rules{
			MinLength: cfg.Validation.MinLength,
			Denylist:  cfg.Validation.Denylist,
		},
	})

	if cfg.Retention.Enabled {
		sweeper, err := retention.New(st, cfg.Retention.Cron)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	handler := &api.API{
		Orch:  orch,
		Chats: st,
		Msgs:  st,
		Hub:   hub,
		Sec: auth.SecConfig{
			SigningKeys: cfg.SigningKeySet(),
			RPS:         cfg.Security.RPS,
			Burst:       cfg.Security.Burst,
		},
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("server_listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Log.Warn("server_shutdown_incomplete", zap.Error(err))
	}
	logger.Log.Info("server_stopped")
	return nil
}
