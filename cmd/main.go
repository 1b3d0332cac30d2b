package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/database/minio"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/database/postgres"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/database/redis"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/event"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/handlers"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/metrics"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/repository"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/services"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/worker"
)

func setupLogging(logDir string) (*os.File, error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
		}
	}()

	fmt.Println("Log directory:", logDir)
	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	if absPath, err := filepath.Abs(logFile); err == nil {
		fmt.Printf("Log file at absolute path: %s\n", absPath)
	}

	out := io.MultiWriter(file, os.Stdout)
	log.SetOutput(out)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo})))

	return file, nil
}

func main() {
	cfg := config.New()
	logFile, err := setupLogging(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	detectionCfg, err := config.LoadDetectionConfig(cfg.DetectionCfgPath)
	if err != nil {
		log.Fatalf("Failed to load detection config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	health := handlers.NewHealthHandler(m)

	// Pattern library: Postgres when enabled and reachable, the CSV files otherwise.
	var store patterns.Store = patterns.NewFileStore(cfg.PatternsFile)
	var matchLog patterns.MatchLog = patterns.NewCSVMatchLog(cfg.MatchLogFile)
	var sink services.IncidentSink
	if cfg.PostgresCfg.Enabled {
		db, err := postgres.ConnectWithRetry(cfg.PostgresCfg, 3, 5*time.Second)
		if err != nil {
			log.Printf("error connect to database: %s, falling back to file pattern store", err)
		} else {
			defer db.Close()
			store = repository.NewPatternRepository(db)
			matchLog = repository.NewPatternMatchRepository(db)
			sink = repository.NewIncidentRepository(db)
			health.AddCheck("postgres", func(ctx context.Context) bool { return db.PingContext(ctx) == nil })
		}
	}
	engine := patterns.NewEngine(store, matchLog)

	var snapshots services.SnapshotStore = services.NewMemorySnapshotStore()
	if cfg.RedisCfg.Enabled {
		rdb, err := redis.NewRedisClient(cfg.RedisCfg)
		if err != nil {
			log.Printf("error connect to redis: %s, keeping snapshots in memory", err)
		} else {
			defer rdb.Close()
			snapshots = repository.NewSnapshotRepository(rdb.GetClient())
			health.AddCheck("redis", rdb.Healthy)
		}
	}

	var uploader services.Uploader
	if cfg.MinioCfg.Enabled {
		mc, err := minio.NewMinioClient(cfg.MinioCfg)
		if err != nil {
			log.Printf("error connect to minio: %s, exports stay local", err)
		} else {
			uploader = mc
		}
	}

	replayService := services.NewReplayService(detectionCfg, engine, snapshots, cfg.NumWorkers).
		WithExporter(services.NewExportService(cfg.ExportFolder, uploader)).
		WithMetrics(m)
	if sink != nil {
		replayService.WithSink(sink)
	}
	if cfg.RabbitMQCfg.Enabled {
		conn, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
		if err != nil {
			log.Printf("error connect to rabbitmq: %s, incident events disabled", err)
		} else {
			defer conn.Close()
			replayService.WithPublisher(event.NewIncidentPublisher(conn))
			health.AddCheck("rabbitmq", func(context.Context) bool { return !conn.IsClosed() })
		}
	}
	patternService := services.NewPatternService(engine, replayService, m)

	// Staleness cleanup runs on its own small pool.
	var wg sync.WaitGroup
	pool := worker.NewWorkingPool(1, 4)
	wg.Add(1)
	go pool.Start(ctx, &wg)
	scheduler := worker.NewJobScheduler("pattern-cleanup", cfg.CleanupInterval, pool)
	scheduler.AddJob(worker.ScheduledJob{
		Name: "staleness-cleanup",
		Run: func(ctx context.Context) error {
			_, err := patternService.Cleanup(ctx)
			return err
		},
	})
	go scheduler.Run(ctx)

	app := fiber.New()
	health.Register(app)
	handlers.NewReplayHandler(replayService).Register(app)
	handlers.NewPatternHandler(patternService).Register(app)

	go func() {
		<-ctx.Done()
		log.Printf("Shutdown signal received, stopping HTTP server")
		if err := app.Shutdown(); err != nil {
			log.Printf("error shutting down server: %v", err)
		}
	}()

	slog.Info("Leak detection service starting", "port", cfg.Port, "workers", cfg.NumWorkers)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("server stopped: %v", err)
	}
	stop()
	wg.Wait()
}
