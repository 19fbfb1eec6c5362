package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framesight/api/internal/artifact"
	"github.com/framesight/api/internal/config"
	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/media"
	"github.com/framesight/api/internal/service"
	"github.com/framesight/api/internal/store"
	"github.com/framesight/api/internal/worker"
)

// Standalone worker process. Runs the polling loop plus an asynq consumer
// for wake-up tasks, against the same store and storage as the server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	jobStore := store.NewPostgresStore(pool)

	var artifacts artifact.Store
	if strings.EqualFold(cfg.Storage.Backend, "s3") {
		artifacts, err = artifact.NewS3Store(&cfg.Storage.S3)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
	} else {
		artifacts, err = artifact.NewLocal(cfg.Storage.DataDir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
	}

	engineClient := engine.NewClient(&cfg.Engine)
	if err := engineClient.HealthCheck(ctx); err != nil {
		log.Printf("Warning: detection engine not reachable at %s: %v", cfg.Engine.URL, err)
	}

	w := worker.New(jobStore, artifacts, engineClient, media.NewFFmpeg(),
		cfg.Worker.PollInterval, cfg.Worker.JobTimeout, cfg.Worker.SampleFPS)

	// Wake-up consumer is optional: without Redis the polling loop alone
	// drains the queue.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, polling only: %v", err)
	} else {
		srv := asynq.NewServer(
			asynq.RedisClientOpt{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					"detect": 10,
				},
			},
		)
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeDetect, w.ProcessTask)
		go func() {
			if err := srv.Run(mux); err != nil {
				log.Printf("Asynq worker error: %v", err)
			}
		}()
		defer srv.Shutdown()
	}

	w.Run(ctx)
}
