package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"worker-notes/config"
	"worker-notes/constant"
	notesHandler "worker-notes/handler"
	"worker-notes/pkg/rabbitmq"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer deps.Close()

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rabbitmq unavailable, running sweep only")
	} else {
		startConsumers(ctx, conn, cfg, deps)
	}

	go func() {
		if err := deps.SweepWorker.Run(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("sweep worker stopped")
		}
	}()

	r := gin.Default()
	addHealth(r, deps.Ping, conn != nil)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func startConsumers(ctx context.Context, conn *amqp.Connection, cfg *config.Config, deps *Dependencies) {
	serviceDeps := notesHandler.NewServiceDependencies(deps.UploadProcessor, deps.Scheduler)

	uploads := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.UploadBinding(), cfg.Server.Workers, notesHandler.UploadHandler)
	schedules := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.ScheduleBinding(), 1, notesHandler.ScheduleUpdatedHandler)

	for name, c := range map[string]rabbitmq.Consumer[notesHandler.ServiceDependencies]{"upload": uploads, "schedule": schedules} {
		go func() {
			if err := c.Consume(ctx, serviceDeps); err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Str("consumer", name).Msg("consumer stopped")
			}
		}()
	}
}

// addHealth reports liveness on /health and database readiness on /ready.
func addHealth(r *gin.Engine, ping func(ctx context.Context) error, consumers bool) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unavailable",
				"database":  err.Error(),
				"consumers": consumers,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"consumers": consumers,
		})
	})
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
