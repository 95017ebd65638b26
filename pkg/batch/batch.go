// Package batch walks an input tree and crops every image with a bounded
// number of workers. A failure on one file never stops the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	objectcropper "github.com/menta2k/object-cropper"
	"github.com/menta2k/object-cropper/internal/journal"
	"github.com/menta2k/object-cropper/internal/logger"
	"github.com/menta2k/object-cropper/internal/utils"
	"github.com/menta2k/object-cropper/pkg/cropper"
	"github.com/menta2k/object-cropper/pkg/detection"
	"github.com/menta2k/object-cropper/pkg/processing"
)

// FileProcessor crops one file. *objectcropper.Cropper implements it.
type FileProcessor interface {
	ProcessFile(ctx context.Context, inputPath, outputPath string) (objectcropper.Result, error)
}

// Config holds batch settings
type Config struct {
	InputDir   string
	OutputDir  string
	Extensions []string
	Workers    int
	Resume     bool
}

// Summary holds the run counters
type Summary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Planned   int           `json:"planned"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Resumed   int           `json:"resumed"`
	Elapsed   time.Duration `json:"elapsed"`
}

func (s Summary) String() string {
	if s.Planned > 0 {
		return fmt.Sprintf("%d files: %d planned, %d skipped, %d failed (dry run) in %s",
			s.Total, s.Planned, s.Skipped, s.Failed, s.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("%d files: %d processed, %d skipped, %d failed (%d already done) in %s",
		s.Total, s.Processed, s.Skipped, s.Failed, s.Resumed, s.Elapsed.Round(time.Millisecond))
}

// Runner drives a batch
type Runner struct {
	cfg       Config
	processor FileProcessor
	journal   *journal.Journal
	logger    *zap.Logger

	mu      sync.Mutex
	summary Summary
}

// NewRunner creates a runner. The journal is optional.
func NewRunner(cfg Config, p FileProcessor, j *journal.Journal, log *zap.Logger) (*Runner, error) {
	if p == nil {
		return nil, errors.New("file processor is required")
	}
	if cfg.InputDir == "" || cfg.OutputDir == "" {
		return nil, errors.New("input and output directories are required")
	}
	if absPath(cfg.InputDir) == absPath(cfg.OutputDir) {
		return nil, errors.New("output directory must differ from input directory")
	}
	if cfg.Resume && j == nil {
		return nil, errors.New("resume requires a journal")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = utils.DefaultExtensions
	}

	return &Runner{
		cfg:       cfg,
		processor: p,
		journal:   j,
		logger:    logger.OrNop(log).Named("batch"),
	}, nil
}

// Run processes every image under the input directory.
// It only returns an error when the run cannot start; per-file failures are
// counted in the summary. Cancelling ctx stops scheduling new files.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	files, err := r.listInputs()
	if err != nil {
		return Summary{}, err
	}

	done := map[journal.Key]bool{}
	if r.cfg.Resume {
		if done, err = r.journal.Completed(ctx); err != nil {
			return Summary{}, fmt.Errorf("failed to read journal: %w", err)
		}
	}

	runID := ""
	if r.journal != nil {
		if runID, err = r.journal.StartRun(ctx); err != nil {
			return Summary{}, fmt.Errorf("failed to start run: %w", err)
		}
	}

	r.summary = Summary{RunID: runID, Total: len(files)}
	r.logger.Info("starting batch",
		zap.String("run_id", runID),
		zap.String("input", r.cfg.InputDir),
		zap.String("output", r.cfg.OutputDir),
		zap.Int("files", len(files)),
		zap.Int("workers", r.cfg.Workers))

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Workers)

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}

		rel, out, err := utils.MirrorPath(r.cfg.InputDir, r.cfg.OutputDir, path)
		if err != nil {
			r.finish(ctx, runID, fileRef{rel: path, input: path}, journal.StatusFailed, objectcropper.Result{}, err)
			continue
		}
		ref := fileRef{rel: rel, input: absPath(path), output: absPath(out)}
		if done[ref.key()] && utils.FileExists(out) {
			r.mu.Lock()
			r.summary.Resumed++
			r.mu.Unlock()
			r.logger.Debug("already processed", zap.String("file", rel))
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := r.processor.ProcessFile(ctx, path, out)
			r.finish(ctx, runID, ref, classify(res, err), res, err)
			return nil
		})
	}
	g.Wait()

	r.mu.Lock()
	r.summary.Elapsed = time.Since(start)
	summary := r.summary
	r.mu.Unlock()

	if r.journal != nil {
		totals := journal.Totals{
			Processed: summary.Processed,
			Planned:   summary.Planned,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
		}
		if err := r.journal.FinishRun(context.WithoutCancel(ctx), runID, totals); err != nil {
			r.logger.Warn("failed to finish run in journal", zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		r.logger.Warn("batch interrupted", zap.Error(err))
	}
	r.logger.Info("batch complete",
		zap.String("run_id", runID),
		zap.Int("total", summary.Total),
		zap.Int("processed", summary.Processed),
		zap.Int("planned", summary.Planned),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("resumed", summary.Resumed),
		zap.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

// listInputs lists candidate images. When the output tree is nested in the
// input tree its files are left out.
func (r *Runner) listInputs() ([]string, error) {
	files, err := utils.ListImageFiles(r.cfg.InputDir, r.cfg.Extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list input files: %w", err)
	}

	outRoot := absPath(r.cfg.OutputDir)
	if !utils.IsWithin(absPath(r.cfg.InputDir), outRoot) {
		return files, nil
	}

	kept := files[:0]
	for _, f := range files {
		if !utils.IsWithin(outRoot, absPath(f)) {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// fileRef names one file of the run
type fileRef struct {
	rel    string
	input  string
	output string
}

func (f fileRef) key() journal.Key {
	return journal.Key{Input: f.input, Output: f.output}
}

// finish counts, logs and journals the outcome of one file
func (r *Runner) finish(ctx context.Context, runID string, ref fileRef, status journal.Status, res objectcropper.Result, err error) {
	rel := ref.rel

	r.mu.Lock()
	switch status {
	case journal.StatusProcessed:
		r.summary.Processed++
	case journal.StatusPlanned:
		r.summary.Planned++
	case journal.StatusSkipped:
		r.summary.Skipped++
	default:
		r.summary.Failed++
	}
	r.mu.Unlock()

	fields := []zap.Field{zap.String("file", rel)}
	if res.Label != "" {
		fields = append(fields, zap.String("label", res.Label), zap.Float64("score", res.Score))
	}

	switch status {
	case journal.StatusProcessed:
		fields = append(fields,
			zap.Int("size", res.Plan.ExtractSize),
			zap.Stringer("plan", res.Plan),
			zap.String("bytes", utils.FormatFileSize(res.Bytes)))
		r.logger.Info("cropped", fields...)
	case journal.StatusPlanned:
		fields = append(fields,
			zap.Int("size", res.Plan.ExtractSize),
			zap.Stringer("plan", res.Plan))
		r.logger.Info("planned", fields...)
	case journal.StatusSkipped:
		r.logger.Info("no target object, skipping", fields...)
	default:
		fields = append(fields, zap.String("kind", errorKind(err)), zap.Error(err))
		r.logger.Error("failed to process", fields...)
	}

	if r.journal == nil {
		return
	}
	entry := journal.Entry{
		RunID:      runID,
		RelPath:    rel,
		InputPath:  ref.input,
		OutputPath: ref.output,
		Status:     status,
		Label:      res.Label,
		Score:      res.Score,
		OutputSize: res.Plan.ExtractSize,
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	if jerr := r.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
		r.logger.Warn("failed to journal outcome", zap.String("file", rel), zap.Error(jerr))
	}
}

func classify(res objectcropper.Result, err error) journal.Status {
	switch {
	case err == nil && res.Planned:
		return journal.StatusPlanned
	case err == nil:
		return journal.StatusProcessed
	case errors.Is(err, detection.ErrNoObjectDetected):
		return journal.StatusSkipped
	default:
		return journal.StatusFailed
	}
}

// errorKind names the error class for log filtering
func errorKind(err error) string {
	var (
		se *detection.ServiceError
		gv *cropper.GeometryViolation
		sl *cropper.SizeLimitError
		ce *processing.CodecError
	)
	switch {
	case errors.As(err, &se):
		return "detection_service"
	case errors.As(err, &gv):
		return "geometry_violation"
	case errors.As(err, &sl):
		return "size_limit"
	case errors.As(err, &ce):
		return "image_codec"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// absPath returns the absolute form of p, or p when it cannot be resolved
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
