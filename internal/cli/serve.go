package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chathistory/internal/api"
	"chathistory/internal/llm"
	"chathistory/internal/redis"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := llm.New(ctx, a.cfg.Provider)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}
	if a.cfg.Provider.APIKey == "" {
		a.logger.Warn("no API key configured; completions will likely be rejected")
	}

	var events api.EventPublisher
	if a.cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		events = redis.NewPublisher(rdb, a.logger)
		if a.logger.Core().Enabled(zap.DebugLevel) {
			err := redis.Subscribe(ctx, rdb, a.logger, func(ev redis.Event) {
				a.logger.Debug("conversation event",
					zap.String("type", string(ev.Type)),
					zap.Int64("conversation_id", ev.ConversationID),
					zap.Int64("message_id", ev.MessageID),
				)
			})
			if err != nil {
				a.logger.Warn("event subscription failed", zap.Error(err))
			}
		}
		a.logger.Info("publishing conversation events", zap.String("channel", redis.EventsChannel))
	}

	if !strings.EqualFold(a.cfg.Logging.Format, "console") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(store, client, events, a.logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              a.cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", a.cfg.Provider.Name),
			zap.String("model", client.DefaultModel()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
