package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ridhamxdev/TaskNexus/internal/audit"
	"github.com/ridhamxdev/TaskNexus/internal/cache"
	"github.com/ridhamxdev/TaskNexus/internal/config"
	"github.com/ridhamxdev/TaskNexus/internal/database"
	"github.com/ridhamxdev/TaskNexus/internal/handlers"
	"github.com/ridhamxdev/TaskNexus/internal/logging"
	"github.com/ridhamxdev/TaskNexus/internal/mailer"
	mW "github.com/ridhamxdev/TaskNexus/internal/middleware"
	"github.com/ridhamxdev/TaskNexus/internal/queue"
	"github.com/ridhamxdev/TaskNexus/internal/services"
	"github.com/ridhamxdev/TaskNexus/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := database.InitDatabase(ctx, cfg.Database, log)
	defer db.Close()

	redisClient := database.InitRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	broker, msgCache := messaging(cfg, redisClient, log)
	topology := queue.NewTopology(cfg.Queue.OutboundQueue, cfg.Queue.DeadLetterQueue, cfg.Queue.WorkerGroup, cfg.Queue.ReconcilerGroup)
	if err := topology.Declare(ctx, broker); err != nil {
		log.WithError(err).Fatal("failed to declare queues")
	}

	transport, err := mailer.New(cfg.SMTP, log)
	if err != nil {
		log.WithError(err).Fatal("failed to configure mail transport")
	}

	location, _ := cfg.Batch.Location()
	st := store.New(db, store.DialectFor(cfg.Database.Driver))
	auditor := audit.NewLogger(log)

	views := services.NewMessageView(st, msgCache, cfg.Cache.TTL, cfg.Cache.RecentLimit, log)
	dispatcher := services.NewDispatcher(st, broker, topology.Outbound, msgCache, cfg.Queue.PublishTimeout, log)
	worker := services.NewWorker(st, broker, topology.Outbound, transport, views, auditor, services.WorkerOptions{
		MaxRetries:      cfg.Worker.MaxRetries,
		RetryDelay:      cfg.Worker.RetryDelay,
		DeliveryTimeout: cfg.Worker.DeliveryTimeout,
	}, log)
	reconciler := services.NewReconciler(st, broker, topology.DeadLetter, views, auditor, log)
	batchJob := services.NewBatchJob(st, dispatcher, cfg.Batch.DeductionAmount, location, auditor, log)

	opsHandler := handlers.NewOpsHandler(batchJob, dispatcher, views, location, log)
	checks := map[string]handlers.HealthCheck{"database": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := chi.NewRouter()
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", handlers.Health(checks))
	r.Route("/ops", func(r chi.Router) {
		r.Use(mW.OpsAuth(cfg.HTTP.OpsToken))
		opsHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Worker.Enabled {
		g.Go(func() error { return worker.RunPool(gctx, cfg.Worker.Count) })
		g.Go(func() error { return reconciler.Run(gctx) })
	}

	if cfg.Batch.Enabled {
		scheduler, err := services.NewBatchScheduler(batchJob, cfg.Batch.Schedule, location, cfg.Batch.RunOnStart, log)
		if err != nil {
			log.WithError(err).Fatal("failed to schedule batch job")
		}
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("service stopped with error")
	}
	log.Info("service stopped")
}

// messaging picks the broker and cache. Without a reachable Redis both fall
// back to process local implementations.
func messaging(cfg *config.Config, client *redis.Client, log logrus.FieldLogger) (queue.Broker, cache.Cache) {
	if client == nil {
		if cfg.Queue.Driver == "redis" {
			log.Warn("redis unavailable, using in-process queue and cache")
		}
		return queue.NewMemory(), cache.NewMemory()
	}

	msgCache := cache.NewRedis(client)
	if cfg.Queue.Driver == "memory" {
		return queue.NewMemory(), msgCache
	}
	return queue.NewRedis(client, queue.RedisOptions{
		Consumer:  cfg.Queue.ConsumerName,
		Block:     cfg.Queue.BlockTimeout,
		ClaimIdle: cfg.Queue.ClaimIdle,
	}), msgCache
}
