package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/meshbatch/internal/app"
	"github.com/ternarybob/meshbatch/internal/common"
	"github.com/ternarybob/meshbatch/internal/manifest"
	"github.com/ternarybob/meshbatch/internal/models"
	"github.com/ternarybob/meshbatch/internal/queue"
)

// multiFlag collects repeatable string flags.
type multiFlag []string

func (m *multiFlag) String() string {
	return fmt.Sprintf("%v", *m)
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

var (
	configFiles multiFlag
	inputs      multiFlag

	manifestPath = flag.String("manifest", "", "Task manifest file (TOML or YAML)")
	taskKind     = flag.String("kind", "composite", "Task kind for scanned inputs (analyze|validate|render|composite)")
	outputDir    = flag.String("output", "", "Output directory (overrides config)")
	workers      = flag.Int("workers", 0, "Number of concurrent workers (overrides config)")
	recursive    = flag.Bool("recursive", true, "Recurse into input directories")
	resetQueue   = flag.Bool("reset", false, "Requeue all restored jobs before starting")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
	flag.Var(&inputs, "input", "STL file or directory to process (can be specified multiple times)")
	flag.Var(&inputs, "i", "STL file or directory to process (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Meshbatch version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	if len(configFiles) == 0 {
		if _, err := os.Stat("meshbatch.toml"); err == nil {
			configFiles = append(configFiles, "meshbatch.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *workers, *outputDir)

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())
	common.InstallCrashHandler(common.CrashLogDir)

	logger.Debug().
		Int("max_workers", config.Queue.MaxWorkers).
		Int("max_retries", config.Queue.MaxRetries).
		Str("state_file", config.Storage.StateFile).
		Str("output_dir", config.Output.Directory).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if *resetQueue {
		if err := application.Queue.ResetAll(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to reset queue")
			os.Exit(1)
		}
	}

	if err := enqueueWork(application); err != nil {
		logger.Fatal().Err(err).Msg("Failed to enqueue work")
		os.Exit(1)
	}

	total := len(application.Queue.Jobs())
	if total == 0 && application.Scheduler == nil {
		logger.Warn().Msg("Nothing to do: no inputs, no manifest, no restored jobs")
		return
	}

	subscribeConsoleOutput(application)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start")
		os.Exit(1)
	}

	logger.Info().Int("jobs", total).Msg("Processing started - Press Ctrl+C to stop")

	waitForCompletion(ctx, application)

	summary := application.Tracker.Summary()
	logger.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("cancelled", summary.Cancelled).
		Int("pending", summary.Pending).
		Msg("Batch finished")
}

// enqueueWork queues manifest tasks and scanned inputs. Sources already
// present in a restored queue are not enqueued twice.
func enqueueWork(application *app.App) error {
	if *manifestPath != "" {
		tasks, err := manifest.Load(logger, *manifestPath, config.Output.Directory)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if application.Queue.ContainsSource(task.SourcePath) {
				continue
			}
			if _, err := application.Queue.Enqueue(task); err != nil {
				return err
			}
		}
	}

	if len(inputs) == 0 {
		return nil
	}

	kind, err := models.ParseTaskKind(*taskKind)
	if err != nil {
		return err
	}
	files, err := application.Scanner.Scan(inputs, *recursive)
	if err != nil {
		return err
	}
	for _, file := range files {
		if application.Queue.ContainsSource(file) {
			continue
		}
		task := models.NewTask(kind, file, config.Output.Directory)
		if _, err := application.Queue.Enqueue(task); err != nil {
			return err
		}
	}
	return nil
}

// subscribeConsoleOutput prints progress summaries and terminal job
// transitions to stdout, independent of the structured log.
func subscribeConsoleOutput(application *app.App) {
	application.Events.Subscribe(models.EventQueueSummary, func(ctx context.Context, event models.Event) {
		summary, ok := event.Payload.(queue.Summary)
		if !ok {
			return
		}
		if summary.Running > 0 || summary.Pending > 0 {
			fmt.Printf("\r[%5.1f%%] %d done, %d running, %d pending   ",
				summary.OverallFraction*100, summary.Completed, summary.Running, summary.Pending)
		}
	})

	application.Events.Subscribe(models.EventJobStateChanged, func(ctx context.Context, event models.Event) {
		change, ok := event.Payload.(models.JobStateChange)
		if !ok || !change.NewState.Terminal() {
			return
		}
		if change.Error != "" {
			fmt.Printf("\n%s -> %s (%s)\n", change.JobID, change.NewState, change.Error)
		}
	})
}

// waitForCompletion blocks until the queue drains or an interrupt
// arrives. With the scheduler enabled the process runs until
// interrupted.
func waitForCompletion(ctx context.Context, application *app.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Println()
			logger.Info().Msg("Interrupt signal received, stopping queue")
			return
		case <-ticker.C:
			if application.Scheduler != nil {
				continue
			}
			summary := application.Tracker.Summary()
			if summary.Pending == 0 && summary.Running == 0 {
				fmt.Println()
				return
			}
		}
	}
}
