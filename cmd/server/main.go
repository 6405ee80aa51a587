package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/echotrace/echotrace/pkg/echotrace"
	"github.com/echotrace/echotrace/pkg/echotrace/jobs"
	"github.com/echotrace/echotrace/pkg/echotrace/storage"
	"github.com/echotrace/echotrace/pkg/logger"
	"github.com/echotrace/echotrace/pkg/utils"
)

var (
	port           int
	dbPath         string
	indexPath      string
	mediaDir       string
	sampleRate     int
	workers        int
	allowedOrigins string
)

func init() {
	godotenv.Load()

	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", utils.GetEnv("ECHOTRACE_DB_PATH", "echotrace.sqlite3"), "Path to SQLite database")
	flag.StringVar(&indexPath, "index", utils.GetEnv("ECHOTRACE_INDEX_PATH", ""), "Digest index directory (empty to disable)")
	flag.StringVar(&mediaDir, "media", utils.GetEnv("ECHOTRACE_MEDIA_DIR", "media"), "Directory with source WAV files")
	flag.IntVar(&sampleRate, "rate", 16000, "Audio sample rate")
	flag.IntVar(&workers, "workers", 2, "Job workers (0 to disable in-process orchestration)")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	service, err := echotrace.NewService(
		echotrace.WithDBPath(dbPath),
		echotrace.WithIndexPath(indexPath),
		echotrace.WithSampleRate(uint32(sampleRate)),
	)
	if err != nil {
		log.Errorf("Failed to create service: %v", err)
		os.Exit(1)
	}
	defer service.Close()

	// the job repository shares the database file, not the connection pool
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		log.Errorf("Failed to open job repository: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var orch *jobs.Orchestrator
	if workers > 0 {
		orch = jobs.NewOrchestrator(db, log, workers, time.Second)
		registerJobHandlers(orch, service, mediaDir, log)
		orch.Start(ctx)
		defer orch.Stop()
	}

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		MediaDir:       mediaDir,
		SampleRate:     uint32(sampleRate),
		AllowedOrigins: origins,
	}
	server := NewServer(service, db, config)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Shutdown: %v", err)
		}
	}
}
