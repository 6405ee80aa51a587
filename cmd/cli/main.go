package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echotrace/echotrace/pkg/echotrace"
	"github.com/echotrace/echotrace/pkg/echotrace/audio"
	"github.com/echotrace/echotrace/pkg/echotrace/storage"
	"github.com/echotrace/echotrace/pkg/logger"
	"github.com/echotrace/echotrace/pkg/utils"
)

// Global flags
var (
	dbPath     string
	indexPath  string
	sampleRate int
)

func init() {
	flag.StringVar(&dbPath, "db", utils.GetEnv("ECHOTRACE_DB_PATH", storage.DefaultDBFile), "Path to the SQLite database file")
	flag.StringVar(&indexPath, "index", utils.GetEnv("ECHOTRACE_INDEX_PATH", ""), "Path to the digest index directory (optional)")
	flag.IntVar(&sampleRate, "rate", 16000, "Audio sample rate for processing")
}

// createService creates an echotrace service with the configured options
func createService() (echotrace.Service, error) {
	return echotrace.NewService(
		echotrace.WithDBPath(dbPath),
		echotrace.WithIndexPath(indexPath),
		echotrace.WithSampleRate(uint32(sampleRate)),
	)
}

func main() {
	log := logger.GetLogger()

	printBanner()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	log.Infof("Executing command: %s", command)

	switch command {
	case "add":
		handleAdd()
	case "match":
		handleMatch()
	case "list":
		handleList()
	case "delete":
		handleDelete()
	case "reload":
		handleReload()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
  _____     _         _____
 | ____|___| |__  ___|_   _| __ __ _  ___ ___
 |  _| / __| '_ \ / _ \ | || '__/ _' |/ __/ _ \
 | |__| (__| | | | (_) || || | | (_| | (_|  __/
 |_____\___|_| |_|\___/ |_||_|  \__,_|\___\___|

        Audio Fingerprinting CLI Tool
`
	fmt.Println(banner)
}

func printUsage() {
	fmt.Println("Usage: echotrace <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add <audio_file> [--source <id>]          Index a WAV file into the corpus")
	fmt.Println("  match <audio_file> [--top N] [--min C]    Match a WAV file against the corpus")
	fmt.Println("  list [--source <id>]                      List the corpus or one source's segments")
	fmt.Println("  delete <source_id>                        Remove a source and its fingerprints")
	fmt.Println("  reload                                    Rebuild the in-memory corpus snapshot")
	fmt.Println()
	fmt.Println("Global flags: -db <path> -index <dir> -rate <hz>")
}

// splitPathAndFlags separates the leading positional argument from the flags
// that follow it.
func splitPathAndFlags(args []string) (string, []string) {
	var path string
	var flagArgs []string
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && path == "" {
			path = arg
		} else {
			flagArgs = append(flagArgs, args[i:]...)
			break
		}
	}
	return path, flagArgs
}

func handleAdd() {
	log := logger.GetLogger()

	audioPath, flagArgs := splitPathAndFlags(os.Args[2:])

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	sourceID := addCmd.String("source", "", "Source ID (defaults to the file name without extension)")
	addCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Error: audio file path required")
		fmt.Println("Usage: echotrace add <audio_file> [--source <id>]")
		os.Exit(1)
	}
	if *sourceID == "" {
		base := filepath.Base(audioPath)
		*sourceID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	log.Infof("Indexing source '%s' from file: %s", *sourceID, audioPath)

	fmt.Println("Initializing service...")
	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("Processing audio file...")
	fmt.Println("   This may take a few moments for large files")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	indexed, err := svc.IndexFile(ctx, *sourceID, audioPath)
	if err != nil {
		fmt.Printf("\nFailed to index file: %v\n", err)
		log.Errorf("IndexFile failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\nSuccessfully indexed source!")
	fmt.Printf("   Source:   %s\n", *sourceID)
	fmt.Printf("   Segments: %d\n", indexed)
	log.Infof("Successfully indexed %d segments of %s", indexed, *sourceID)
}

func handleMatch() {
	log := logger.GetLogger()

	audioPath, flagArgs := splitPathAndFlags(os.Args[2:])

	matchCmd := flag.NewFlagSet("match", flag.ExitOnError)
	topK := matchCmd.Int("top", 5, "Maximum number of matches to return")
	minConfidence := matchCmd.Float64("min", 0, "Minimum confidence threshold in [0,1]")
	matchCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Usage: echotrace match <audio_file> [--top N] [--min C]")
		os.Exit(1)
	}

	log.Infof("Matching audio file: %s", audioPath)

	fmt.Println("Initializing service...")
	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	samples, rate, err := audio.ReadWAV(audioPath)
	if err != nil {
		fmt.Printf("Failed to read audio: %v\n", err)
		log.Errorf("ReadWAV failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("Analyzing audio...")
	fmt.Println("   Extracting fingerprint and searching the corpus")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	results, err := svc.Search(ctx, samples, rate, *topK, float32(*minConfidence))
	if err != nil {
		fmt.Printf("\nFailed to match audio: %v\n", err)
		log.Errorf("Search failed: %v", err)
		os.Exit(1)
	}

	log.Infof("Match complete: found %d results", len(results))

	if len(results) == 0 {
		fmt.Println("\nNo matches found in corpus")
		return
	}

	fmt.Printf("\nFound %d match(es)!\n", len(results))
	fmt.Println("\nTop Matches:")
	fmt.Println()
	for i, result := range results {
		fmt.Printf("%d. %s (segment %d, %.1fs-%.1fs)\n",
			i+1, result.Candidate.SourceID, result.Candidate.SegmentIndex,
			result.Candidate.SegmentStart, result.Candidate.SegmentEnd)
		fmt.Printf("   Confidence: %.1f%% | Correlation: %.3f | Distance: %.3f\n",
			result.Confidence*100, result.Correlation, result.EuclideanDistance)
		fmt.Println()
	}
}

func handleList() {
	log := logger.GetLogger()

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	sourceID := listCmd.String("source", "", "List segments of one source instead of the summary")
	listCmd.Parse(os.Args[2:])

	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		log.Errorf("Database open failed: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if *sourceID != "" {
		fps, err := db.GetBySource(*sourceID)
		if err != nil {
			fmt.Printf("Failed to list fingerprints: %v\n", err)
			os.Exit(1)
		}
		if len(fps) == 0 {
			fmt.Printf("No fingerprints for source %s\n", *sourceID)
			return
		}
		fmt.Printf("Source %s: %d segments\n\n", *sourceID, len(fps))
		for _, fp := range fps {
			fmt.Printf("  segment %3d  %.1fs-%.1fs  digest %016x\n",
				fp.SegmentIndex, fp.SegmentStart, fp.SegmentEnd, fp.Digest)
		}
		return
	}

	count, err := db.CountFingerprints()
	if err != nil {
		fmt.Printf("Failed to count fingerprints: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Corpus: %d fingerprints in %s\n", count, dbPath)
}

func handleDelete() {
	log := logger.GetLogger()

	if len(os.Args) < 3 {
		fmt.Println("Usage: echotrace delete <source_id>")
		os.Exit(1)
	}
	sourceID := os.Args[2]

	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		log.Errorf("Database open failed: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.DeleteSource(sourceID); err != nil {
		fmt.Printf("Failed to delete source: %v\n", err)
		log.Errorf("DeleteSource failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted source %s\n", sourceID)
	log.Infof("Deleted source %s", sourceID)
}

func handleReload() {
	log := logger.GetLogger()

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	n, err := svc.ReloadCorpus()
	if err != nil {
		fmt.Printf("Failed to reload corpus: %v\n", err)
		log.Errorf("ReloadCorpus failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("Corpus reloaded: %d fingerprints\n", n)
}
