package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/framesight/api/internal/artifact"
	"github.com/framesight/api/internal/config"
	"github.com/framesight/api/internal/engine"
	"github.com/framesight/api/internal/handler"
	"github.com/framesight/api/internal/media"
	"github.com/framesight/api/internal/middleware"
	"github.com/framesight/api/internal/service"
	"github.com/framesight/api/internal/store"
	"github.com/framesight/api/internal/worker"
)

// @title          FrameSight API
// @version        1.0
// @description    Asynchronous object and pose detection over uploaded media.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Initialize Postgres
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	jobStore := store.NewPostgresStore(pool)

	// Initialize Redis client (rate limiting + worker wake-ups)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisAvailable = false
		redisClient = nil
	}

	// Initialize Asynq client (worker wake-up signals, optional)
	var asynqClient *asynq.Client
	if redisAvailable {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
	}

	// Initialize artifact storage
	var artifacts artifact.Store
	if strings.EqualFold(cfg.Storage.Backend, "s3") {
		artifacts, err = artifact.NewS3Store(&cfg.Storage.S3)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		log.Printf("Artifact storage: s3 bucket=%s", cfg.Storage.S3.Bucket)
	} else {
		artifacts, err = artifact.NewLocal(cfg.Storage.DataDir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		log.Printf("Artifact storage: local dir=%s", cfg.Storage.DataDir)
	}

	// Initialize detection engine client
	engineClient := engine.NewClient(&cfg.Engine)
	if err := engineClient.HealthCheck(ctx); err != nil {
		log.Printf("Warning: detection engine not reachable at %s: %v", cfg.Engine.URL, err)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize services
	jobService := service.NewJobService(jobStore, artifacts, asynqClient)

	// Initialize handlers
	jobsHandler := handler.NewJobsHandler(jobService, validate, cfg.Upload.MaxBytes)
	liveHandler := handler.NewLiveHandler(engineClient, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxBytes) + 1024*1024, // headroom for multipart framing
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"database": jobStore.Ping(c.Context()) == nil,
				"redis":    redisAvailable,
				"engine":   engineClient.HealthCheck(c.Context()) == nil,
			},
		})
	})

	// API routes
	api := app.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobsHandler.Create)
	jobs.Get("/:id", jobsHandler.Get)
	jobs.Get("/:id/result", jobsHandler.Result)
	jobs.Get("/:id/annotated", jobsHandler.Annotated)
	jobs.Get("/:id/annotated/video", jobsHandler.AnnotatedVideo)

	// Live WebSocket session
	app.Get("/ws/live", liveHandler.Upgrade, liveHandler.Serve())

	// Embedded worker (single-process deployments)
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if cfg.Worker.Enabled {
		w := worker.New(jobStore, artifacts, engineClient, media.NewFFmpeg(),
			cfg.Worker.PollInterval, cfg.Worker.JobTimeout, cfg.Worker.SampleFPS)
		go w.Run(workerCtx)
		if redisAvailable {
			go startAsynqServer(cfg, w)
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopWorkers()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// startAsynqServer consumes worker wake-up tasks so queued jobs are picked
// up without waiting for the next poll tick.
func startAsynqServer(cfg *config.Config, w *worker.Worker) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

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
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeDetect, w.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
