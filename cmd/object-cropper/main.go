package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	objectcropper "github.com/menta2k/object-cropper"
	"github.com/menta2k/object-cropper/internal/config"
	"github.com/menta2k/object-cropper/internal/journal"
	"github.com/menta2k/object-cropper/internal/logger"
	"github.com/menta2k/object-cropper/internal/utils"
	"github.com/menta2k/object-cropper/pkg/batch"
	"github.com/menta2k/object-cropper/pkg/client"
	"github.com/menta2k/object-cropper/pkg/detection"
	"github.com/menta2k/object-cropper/pkg/gcv"
	"github.com/menta2k/object-cropper/pkg/llamacpp"
	"github.com/menta2k/object-cropper/pkg/ollama"
	"github.com/menta2k/object-cropper/pkg/processing"
)

func main() {
	defaults := config.Default()

	var configPath, in, outDir, credentials, backend, url, model, labels, exts string
	var ratio, minSize, workers, quality int
	var lossless, debug, verbose, resume, dryRun, version bool
	var journalPath string

	flag.StringVar(&configPath, "config", "", "config file (yaml|json), environment only when empty")
	flag.StringVar(&in, "in", defaults.Paths.InputDir, "input directory, walked recursively")
	flag.StringVar(&outDir, "out", defaults.Paths.OutputDir, "output directory, mirrors the input tree")
	flag.StringVar(&credentials, "credentials", defaults.Paths.Credentials, "service-account key file (gcv backend)")
	flag.StringVar(&exts, "ext", strings.Join(defaults.Paths.Extensions, ","), "comma separated input extensions")

	flag.StringVar(&backend, "backend", defaults.Detection.Backend, "detection backend: gcv|ollama|llamacpp")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama="+ollama.DefaultURL+", llamacpp="+llamacpp.DefaultURL+")")
	flag.StringVar(&model, "model", defaults.Detection.Model, "model name for ollama/llamacpp")
	flag.StringVar(&labels, "labels", strings.Join(defaults.Detection.Labels, ","), "comma separated target labels, empty matches any")

	flag.IntVar(&ratio, "ratio", defaults.Cropper.ObjectRatio, "percentage of the crop occupied by the object (1-100)")
	flag.IntVar(&minSize, "min-size", defaults.Cropper.MinSize, "minimum output square size in pixels")
	flag.IntVar(&quality, "quality", defaults.Output.Quality, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")

	flag.IntVar(&workers, "workers", defaults.Run.Workers, "images processed concurrently")
	flag.StringVar(&journalPath, "journal", "", "SQLite journal of per-file outcomes")
	flag.BoolVar(&resume, "resume", false, "skip files the journal marks as processed")
	flag.BoolVar(&dryRun, "dry-run", false, "detect and plan only, write nothing")
	flag.BoolVar(&debug, "debug", false, "write <name>.debug.png overlays next to outputs")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.BoolVar(&version, "version", false, "print version and exit")

	flag.Parse()

	if version {
		fmt.Println(objectcropper.GetVersion())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags win over file and environment, but only when given
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "in":
			cfg.Paths.InputDir = in
		case "out":
			cfg.Paths.OutputDir = outDir
		case "credentials":
			cfg.Paths.Credentials = credentials
		case "ext":
			cfg.Paths.Extensions = splitList(exts)
		case "backend":
			cfg.Detection.Backend = backend
		case "url":
			cfg.Detection.URL = url
		case "model":
			cfg.Detection.Model = model
		case "labels":
			cfg.Detection.Labels = splitList(labels)
		case "ratio":
			cfg.Cropper.ObjectRatio = ratio
		case "min-size":
			cfg.Cropper.MinSize = minSize
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.Lossless = lossless
		case "workers":
			cfg.Run.Workers = workers
		case "journal":
			cfg.Run.Journal = journalPath
		case "resume":
			cfg.Run.Resume = resume
		case "dry-run":
			cfg.Run.DryRun = dryRun
		case "debug":
			cfg.Output.Debug = debug
		case "v":
			cfg.Run.LogDebug = verbose
		}
	})
	cfg.Normalize()

	// Fatal before any image is touched
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		log.Fatal(err)
	}
	if !utils.DirExists(cfg.Paths.InputDir) {
		log.Fatalf("input directory %s does not exist", cfg.Paths.InputDir)
	}

	zl, err := logger.New(cfg.Run.LogDebug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Error("run failed", zap.Error(err))
		zl.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	localizer, closeFn, err := newLocalizer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	detector := detection.NewDetector(localizer, cfg.Detection.Backend, cfg.Detection.Labels)
	if cfg.Detection.Backend != config.BackendGCV {
		detector.WithSendOptions(detection.SendOptions{
			Format:  cfg.Detection.SendFmt,
			MaxDim:  cfg.Detection.SendSize,
			Quality: cfg.Detection.SendQ,
		})
	}

	oc, err := objectcropper.New(detector, objectcropper.Options{
		Geometry: cfg.Geometry(),
		Output: processing.Options{
			Quality:  cfg.Output.Quality,
			Lossless: cfg.Output.Lossless,
		},
		DebugOverlay: cfg.Output.Debug,
		DryRun:       cfg.Run.DryRun,
	}, zl)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if cfg.Run.Journal != "" {
		if err := utils.EnsureDir(filepath.Dir(cfg.Run.Journal)); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		if j, err = journal.Open(cfg.Run.Journal); err != nil {
			return err
		}
		defer j.Close()
	}

	runner, err := batch.NewRunner(batch.Config{
		InputDir:   cfg.Paths.InputDir,
		OutputDir:  cfg.Paths.OutputDir,
		Extensions: cfg.Paths.Extensions,
		Workers:    cfg.Run.Workers,
		Resume:     cfg.Run.Resume,
	}, oc, j, zl)
	if err != nil {
		return err
	}

	zl.Info("object cropper",
		zap.String("version", objectcropper.Version),
		zap.String("backend", cfg.Detection.Backend),
		zap.Strings("labels", cfg.Detection.Labels),
		zap.Int("object_ratio", cfg.Cropper.ObjectRatio),
		zap.Int("min_size", cfg.Cropper.MinSize),
		zap.Bool("dry_run", cfg.Run.DryRun))

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println(summary)
	return nil
}

// newLocalizer builds the configured detection backend
func newLocalizer(ctx context.Context, cfg *config.Config) (client.ObjectLocalizer, func(), error) {
	noop := func() {}

	switch cfg.Detection.Backend {
	case config.BackendGCV:
		c, err := gcv.NewClient(ctx, cfg.Paths.Credentials)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Cloud Vision client: %w", err)
		}
		return c, func() { c.Close() }, nil
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.Detection.URL, cfg.Detection.Model)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, noop, nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cfg.Detection.URL, cfg.Detection.Model)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown backend: %s (use gcv, ollama or llamacpp)", cfg.Detection.Backend)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
