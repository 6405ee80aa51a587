package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/echotrace/echotrace/pkg/echotrace"
	"github.com/echotrace/echotrace/pkg/echotrace/jobs"
	"github.com/echotrace/echotrace/pkg/echotrace/storage"
	"github.com/echotrace/echotrace/pkg/logger"
	"github.com/echotrace/echotrace/pkg/models"
	"github.com/echotrace/echotrace/pkg/utils"
)

var (
	dbPath    string
	indexPath string
	mediaDir  string
	bulkDir   string
	workers   int
	rate      int
)

func init() {
	godotenv.Load()

	flag.StringVar(&dbPath, "db", utils.GetEnv("ECHOTRACE_DB_PATH", "echotrace.sqlite3"), "Path to SQLite database")
	flag.StringVar(&indexPath, "index", utils.GetEnv("ECHOTRACE_INDEX_PATH", ""), "Digest index directory (empty to disable)")
	flag.StringVar(&mediaDir, "media", utils.GetEnv("ECHOTRACE_MEDIA_DIR", "media"), "Directory with source WAV files")
	flag.StringVar(&bulkDir, "dir", "", "Bulk-index every WAV in this directory and exit")
	flag.IntVar(&workers, "workers", 2, "Concurrent workers")
	flag.IntVar(&rate, "rate", 16000, "Audio sample rate")
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	service, err := echotrace.NewService(
		echotrace.WithDBPath(dbPath),
		echotrace.WithIndexPath(indexPath),
		echotrace.WithSampleRate(uint32(rate)),
	)
	if err != nil {
		log.Errorf("Failed to create service: %v", err)
		os.Exit(1)
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if bulkDir != "" {
		if err := bulkIndex(ctx, service, bulkDir, workers, log); err != nil {
			log.Errorf("Bulk indexing failed: %v", err)
			os.Exit(1)
		}
		return
	}

	// fingerprint jobs resolve their WAV files relative to the media dir
	if err := utils.MakeDir(mediaDir); err != nil {
		log.Errorf("Failed to create media directory %s: %v", mediaDir, err)
		os.Exit(1)
	}

	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		log.Errorf("Failed to open job repository: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	orch := jobs.NewOrchestrator(db, log, workers, time.Second)
	orch.Register(models.JobTypeFingerprintVideo, jobs.NewFingerprintHandler(service, mediaDir, log))
	orch.Register(models.JobTypeReindexCorpus, jobs.NewReindexHandler(service))
	orch.Start(ctx)

	log.Infof("Worker polling for jobs (db=%s media=%s)", dbPath, mediaDir)
	<-ctx.Done()
	orch.Stop()
}

// bulkIndex fingerprints every WAV file under dir, one source per file,
// with a progress bar. The source ID is the file name without extension.
func bulkIndex(ctx context.Context, service echotrace.Service, dir string, workers int, log echotrace.Logger) error {
	paths, err := utils.ListWAVFiles(dir)
	if err != nil {
		return err
	}
	log.Infof("Found %d WAV files under %s", len(paths), dir)
	if len(paths) == 0 {
		return nil
	}

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(paths)),
		mpb.PrependDecorators(
			decor.Name("Indexing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	fileCh := make(chan string, len(paths))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range fileCh {
				start := time.Now()
				sourceID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				if _, err := service.IndexFile(ctx, sourceID, path); err != nil {
					log.Errorf("indexing %s: %v", path, err)
				}
				bar.EwmaIncrement(time.Since(start))
			}
		}()
	}

	for _, path := range paths {
		select {
		case <-ctx.Done():
			close(fileCh)
			wg.Wait()
			return ctx.Err()
		case fileCh <- path:
		}
	}
	close(fileCh)
	wg.Wait()
	p.Wait()
	log.Infof("Bulk indexing complete")
	return nil
}
