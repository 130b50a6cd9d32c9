package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framegrab/internal/artifact"
	"github.com/mantonx/framegrab/internal/config"
	"github.com/mantonx/framegrab/internal/diskguard"
	"github.com/mantonx/framegrab/internal/ingest"
	"github.com/mantonx/framegrab/internal/layout"
	"github.com/mantonx/framegrab/internal/logger"
	"github.com/mantonx/framegrab/internal/media"
	"github.com/mantonx/framegrab/internal/poison"
	"github.com/mantonx/framegrab/internal/server"
	"github.com/mantonx/framegrab/internal/watcher"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("FRAMEGRAB_CONFIG_PATH"), "path to a yaml or json config file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("framegrab", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framegrab: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	if err := run(cfg, log); err != nil {
		log.Error("framegrab exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log hclog.Logger) error {
	log.Info("starting framegrab",
		"version", version,
		"watch_root", cfg.Watch.Root,
		"output_root", cfg.Output.Root,
		"workers", cfg.Ingest.Workers,
		"format", cfg.Output.ImageFormat,
	)

	var store *poison.Store
	if cfg.Poison.Enabled {
		s, err := poison.Open(cfg.Poison, log)
		if err != nil {
			return err
		}
		store = s
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("failed to close poison database", "error", err)
			}
		}()
	}

	writer, err := artifact.NewWriter(cfg.Output.ImageFormat, cfg.Output.JPEGQuality, log)
	if err != nil {
		return err
	}

	variants := make([]layout.Variant, 0, 2)
	for _, v := range cfg.Variants() {
		variants = append(variants, layout.Variant(v))
	}
	lay := layout.New(cfg.Watch.Root, cfg.Output.Root, writer.Ext(), variants)

	guard := diskguard.New(cfg.Output.MinFreeBytes, log)
	log.Debug("disk guard configured", "threshold", guard.String())

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		SampleCount:    cfg.Sampling.Count,
		StartOffset:    cfg.Sampling.StartOffset,
		Preview:        cfg.Preview.Enabled,
		PreviewFrames:  cfg.Preview.FrameCount,
		PreviewDelayMs: cfg.Preview.FrameDelay,
		DeleteSource:   cfg.Ingest.DeleteSource,
	}, lay, media.NewOpener(cfg.Media, log), writer, log, ingest.WithSpaceChecker(guard))

	// A nil *poison.Store must not reach the interfaces as a typed nil.
	var poisonList ingest.PoisonList
	var poisonStore server.PoisonStore
	if store != nil {
		poisonList = store
		poisonStore = store
	}

	pool := ingest.NewPool(ingest.PoolConfig{
		Workers:       cfg.Ingest.Workers,
		StabilityWait: cfg.Ingest.StabilityWait,
		Retry: ingest.RetryPolicy{
			MaxRetries: cfg.Ingest.MaxRetries,
			Backoff:    cfg.Ingest.RetryBackoff,
		},
	}, ingest.NewQueue(), pipeline, poisonList, log)
	pool.Start()

	w, err := watcher.New(cfg.Watch.Root, cfg.Watch.Recursive, log)
	if err != nil {
		pool.Stop()
		return err
	}
	if err := w.Start(); err != nil {
		pool.Stop()
		return err
	}

	intake := ingest.NewIntake(ingest.IntakeConfig{
		Root:       cfg.Watch.Root,
		Recursive:  cfg.Watch.Recursive,
		Extensions: cfg.ExtensionSet(),
		Debounce:   cfg.Watch.Debounce,
	}, pool, log)

	intakeCtx, stopIntake := context.WithCancel(context.Background())
	var intakeWG sync.WaitGroup
	intakeWG.Add(1)
	go func() {
		defer intakeWG.Done()
		intake.Run(intakeCtx, w.Events())
	}()

	if cfg.Watch.ScanOnStart {
		n, err := intake.Scan(intakeCtx)
		if err != nil {
			log.Warn("startup scan failed", "error", err)
		} else {
			log.Info("startup scan complete", "admitted", n)
		}
	}

	var status *server.Server
	if cfg.Status.Enabled {
		status = server.New(cfg.Status.Listen, pool, pool, poisonStore, log)
		if err := status.Start(); err != nil {
			log.Error("failed to start status API", "error", err)
			status = nil
		}
	}

	log.Info("watching for new media", "root", cfg.Watch.Root, "watched_dirs", w.WatchedDirs())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	if err := w.Stop(); err != nil {
		log.Warn("failed to stop watcher", "error", err)
	}
	stopIntake()
	intakeWG.Wait()

	if !pool.Shutdown(cfg.Ingest.ShutdownTimeout) {
		log.Warn("in-flight attempts were aborted")
	}

	if status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := status.Shutdown(ctx); err != nil {
			log.Warn("status API shutdown error", "error", err)
		}
	}

	stats := pool.Stats()
	log.Info("shutdown complete",
		"succeeded", stats.Succeeded,
		"exhausted", stats.Exhausted,
		"abandoned", stats.Queue.Pending+stats.Queue.Delayed,
	)
	return nil
}
