package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PricePulse/internal/usecase"
	"PricePulse/pkg/cache"
	pkgch "PricePulse/pkg/clickhouse"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	pkgkafka "PricePulse/pkg/kafka"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/queue"
	"PricePulse/pkg/scheduler"
	pkgsqlite "PricePulse/pkg/sqlite"

	"github.com/labstack/echo/v4"
)

// App encapsulates the entire application lifecycle: the HTTP API, the
// snapshot ingest consumer, the run queue worker, and the cron scheduler.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	chClient   *pkgch.Client
	sqClient   *pkgsqlite.Client
	producer   *pkgkafka.Producer
	consumer   *pkgkafka.Consumer
	snapshotH  *usecase.SnapshotHandler
	runQueue   *queue.RedisQueue
	sched      *scheduler.Scheduler
	handler    xhttp.Handler
	cache      cache.Service
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	chClient *pkgch.Client,
	sqClient *pkgsqlite.Client,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	snapshotH *usecase.SnapshotHandler,
	runQueue *queue.RedisQueue,
	sched *scheduler.Scheduler,
	handler xhttp.Handler,
	c cache.Service,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		chClient:  chClient,
		sqClient:  sqClient,
		producer:  producer,
		consumer:  consumer,
		snapshotH: snapshotH,
		runQueue:  runQueue,
		sched:     sched,
		handler:   handler,
		cache:     c,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	a.httpServer.Echo().GET("/healthz", a.healthz)

	if a.consumer != nil && a.snapshotH != nil {
		a.consumer.RegisterHandler(a.snapshotH)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.snapshotH.Topic()))
	}

	if a.runQueue != nil {
		if err := a.runQueue.Start(); err != nil {
			a.log.Error("run queue start error", applogger.Error(err))
			return err
		}
		a.runQueue.StartRetryProcessor()
		a.log.Info("run queue worker started")
	}

	if a.sched != nil {
		a.sched.Start()
		a.log.Info("scheduler started", applogger.String("spec", a.cfg.Scheduler.Spec))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services in dependency order: ingest and
// triggers first, serving surfaces last.
func (a *App) shutdown(ctx context.Context) error {
	if a.sched != nil {
		a.sched.Stop()
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.runQueue != nil {
		if err := a.runQueue.Stop(ctx); err != nil {
			a.log.Warn("run queue stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.log.RemoveCollector()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.sqClient != nil {
		if err := a.sqClient.Close(); err != nil {
			a.log.Warn("sqlite close error", applogger.Error(err))
		}
	}
	if closer, ok := a.cache.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}

// healthz reports the state of every infrastructure dependency.
func (a *App) healthz(c echo.Context) error {
	ctx := c.Request().Context()
	checks := map[string]string{}
	healthy := true

	if a.chClient != nil {
		if err := a.chClient.Health(ctx); err != nil {
			checks["clickhouse"] = err.Error()
			healthy = false
		} else {
			checks["clickhouse"] = "ok"
		}
	}
	if a.sqClient != nil {
		if err := a.sqClient.Health(ctx); err != nil {
			checks["sqlite"] = err.Error()
			healthy = false
		} else {
			checks["sqlite"] = "ok"
		}
	}
	if a.producer != nil {
		if err := a.producer.Health(ctx); err != nil {
			checks["kafka"] = err.Error()
			healthy = false
		} else {
			checks["kafka"] = "ok"
		}
	}
	if hc, ok := a.cache.(interface{ Health(context.Context) error }); ok {
		if err := hc.Health(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	return c.JSON(status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}
