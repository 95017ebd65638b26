package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	objectcropper "github.com/menta2k/object-cropper"
	"github.com/menta2k/object-cropper/internal/journal"
	"github.com/menta2k/object-cropper/pkg/cropper"
	"github.com/menta2k/object-cropper/pkg/detection"
	"github.com/menta2k/object-cropper/pkg/geometry"
)

// fakeProcessor decides the outcome from the file name
type fakeProcessor struct {
	mu      sync.Mutex
	outputs []string

	dryRun  bool
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeProcessor) ProcessFile(ctx context.Context, inputPath, outputPath string) (objectcropper.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	name := filepath.Base(inputPath)
	switch {
	case strings.HasPrefix(name, "none"):
		return objectcropper.Result{}, detection.ErrNoObjectDetected
	case strings.HasPrefix(name, "bad"):
		return objectcropper.Result{}, &detection.ServiceError{Backend: "fake", Err: errors.New("quota exceeded")}
	}

	res := objectcropper.Result{
		Label: "Glasses",
		Score: 0.9,
		Plan:  geometry.CropPlan{ExtractSize: 400},
	}
	if f.dryRun {
		res.Planned = true
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return res, err
	}
	if err := os.WriteFile(outputPath, []byte("crop"), 0o644); err != nil {
		return res, err
	}

	f.mu.Lock()
	f.outputs = append(f.outputs, outputPath)
	f.mu.Unlock()

	res.OutputPath = outputPath
	res.Bytes = 4
	return res, nil
}

func touch(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		InputDir:  filepath.Join(t.TempDir(), "in"),
		OutputDir: filepath.Join(t.TempDir(), "out"),
		Workers:   2,
	}
}

func TestNewRunnerValidation(t *testing.T) {
	cfg := testConfig(t)

	if _, err := NewRunner(cfg, nil, nil, nil); err == nil {
		t.Error("Expected error for nil processor")
	}
	if _, err := NewRunner(Config{}, &fakeProcessor{}, nil, nil); err == nil {
		t.Error("Expected error for missing directories")
	}

	cfg.Resume = true
	if _, err := NewRunner(cfg, &fakeProcessor{}, nil, nil); err == nil {
		t.Error("Expected error for resume without journal")
	}

	same := cfg
	same.OutputDir = filepath.Join(cfg.InputDir, ".")
	if _, err := NewRunner(same, &fakeProcessor{}, nil, nil); err == nil {
		t.Error("Expected error for output directory equal to input directory")
	}

	cfg.Resume = false
	cfg.Workers = 0
	r, err := NewRunner(cfg, &fakeProcessor{}, nil, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if r.cfg.Workers != 1 {
		t.Errorf("Expected workers clamped to 1, got %d", r.cfg.Workers)
	}
}

func TestRunClassifiesOutcomes(t *testing.T) {
	cfg := testConfig(t)
	touch(t, cfg.InputDir,
		"a.jpg",
		"sub/b.PNG",
		"sub/deeper/c.jpeg",
		"none.jpg",
		"bad.png",
		"notes.txt",
		"skip.gif",
	)

	p := &fakeProcessor{}
	r, err := NewRunner(cfg, p, nil, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	s, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if s.Total != 5 || s.Processed != 3 || s.Skipped != 1 || s.Failed != 1 {
		t.Errorf("Unexpected summary: %s", s)
	}

	want := make(map[string]bool)
	for _, rel := range []string{"a.jpg", "sub/b.PNG", "sub/deeper/c.jpeg"} {
		want[filepath.Join(cfg.OutputDir, filepath.FromSlash(rel))] = true
	}
	for _, out := range p.outputs {
		if !want[out] {
			t.Errorf("Unexpected output path %s", out)
		}
	}
	if len(p.outputs) != len(want) {
		t.Errorf("Expected %d outputs, got %d", len(want), len(p.outputs))
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 3
	for i := 0; i < 12; i++ {
		touch(t, cfg.InputDir, filepath.Join("batch", string(rune('a'+i))+".jpg"))
	}

	p := &fakeProcessor{delay: 10 * time.Millisecond}
	r, err := NewRunner(cfg, p, nil, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	s, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Processed != 12 {
		t.Errorf("Expected 12 processed, got %d", s.Processed)
	}
	if peak := p.peak.Load(); peak > 3 {
		t.Errorf("Expected at most 3 concurrent files, got %d", peak)
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t)
	touch(t, cfg.InputDir, "a.jpg", "b.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakeProcessor{}
	r, _ := NewRunner(cfg, p, nil, nil)
	s, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Total != 2 || s.Processed+s.Skipped+s.Failed != 0 {
		t.Errorf("Expected nothing started, got %s", s)
	}
}

func TestRunMissingInputDir(t *testing.T) {
	cfg := testConfig(t)

	r, _ := NewRunner(cfg, &fakeProcessor{}, nil, nil)
	if _, err := r.Run(context.Background()); err == nil {
		t.Error("Expected error for missing input directory")
	}
}

func TestRunResumeFromJournal(t *testing.T) {
	cfg := testConfig(t)
	touch(t, cfg.InputDir, "a.jpg", "none.jpg", "bad.png")

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open failed: %v", err)
	}
	defer j.Close()

	r, _ := NewRunner(cfg, &fakeProcessor{}, j, nil)
	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.RunID == "" {
		t.Error("Expected a run ID with a journal")
	}

	totals, err := j.RunTotals(context.Background(), first.RunID)
	if err != nil {
		t.Fatalf("RunTotals failed: %v", err)
	}
	if totals != (journal.Totals{Processed: 1, Skipped: 1, Failed: 1}) {
		t.Errorf("Unexpected journal totals: %+v", totals)
	}

	cfg.Resume = true
	p := &fakeProcessor{}
	r, err = NewRunner(cfg, p, j, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if second.Resumed != 1 || second.Processed != 0 || second.Skipped != 1 || second.Failed != 1 {
		t.Errorf("Unexpected resumed summary: %s", second)
	}
	if second.RunID == first.RunID {
		t.Error("Expected a new run ID")
	}
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRunDryRunThenResumeWritesOutputs(t *testing.T) {
	cfg := testConfig(t)
	touch(t, cfg.InputDir, "a.png", "sub/b.jpg")
	j := openJournal(t)

	r, _ := NewRunner(cfg, &fakeProcessor{dryRun: true}, j, nil)
	dry, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dry.Planned != 2 || dry.Processed != 0 {
		t.Errorf("Expected 2 planned and 0 processed, got %s", dry)
	}

	totals, err := j.RunTotals(context.Background(), dry.RunID)
	if err != nil {
		t.Fatalf("RunTotals failed: %v", err)
	}
	if totals != (journal.Totals{Planned: 2}) {
		t.Errorf("Unexpected dry-run totals: %+v", totals)
	}

	cfg.Resume = true
	p := &fakeProcessor{}
	r, _ = NewRunner(cfg, p, j, nil)
	resumed, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if resumed.Processed != 2 || resumed.Resumed != 0 {
		t.Errorf("Expected both files processed after a dry run, got %s", resumed)
	}
	for _, rel := range []string{"a.png", filepath.Join("sub", "b.jpg")} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, rel)); err != nil {
			t.Errorf("Expected output for %s: %v", rel, err)
		}
	}
}

func TestRunResumeRequiresOutputFile(t *testing.T) {
	cfg := testConfig(t)
	touch(t, cfg.InputDir, "a.jpg", "b.jpg")
	j := openJournal(t)

	r, _ := NewRunner(cfg, &fakeProcessor{}, j, nil)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := os.Remove(filepath.Join(cfg.OutputDir, "b.jpg")); err != nil {
		t.Fatal(err)
	}

	cfg.Resume = true
	p := &fakeProcessor{}
	r, _ = NewRunner(cfg, p, j, nil)
	s, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Resumed != 1 || s.Processed != 1 {
		t.Errorf("Expected a.jpg resumed and b.jpg redone, got %s", s)
	}
}

func TestRunResumeScopedToOutputTree(t *testing.T) {
	cfg := testConfig(t)
	touch(t, cfg.InputDir, "a.jpg")
	j := openJournal(t)

	r, _ := NewRunner(cfg, &fakeProcessor{}, j, nil)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Same input, new output tree that happens to hold a file of the same name
	cfg.OutputDir = filepath.Join(t.TempDir(), "other")
	touch(t, cfg.OutputDir, "a.jpg")
	cfg.Resume = true
	r, _ = NewRunner(cfg, &fakeProcessor{}, j, nil)
	s, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Resumed != 0 || s.Processed != 1 {
		t.Errorf("Expected a.jpg processed again for a new output tree, got %s", s)
	}
}

func TestRunSkipsNestedOutputTree(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(cfg.InputDir, "out")
	touch(t, cfg.InputDir, "a.jpg", "b.png")

	r, _ := NewRunner(cfg, &fakeProcessor{}, nil, nil)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Outputs and an overlay now live under the input tree
	touch(t, cfg.OutputDir, "a.debug.png")
	p := &fakeProcessor{}
	r, _ = NewRunner(cfg, p, nil, nil)
	s, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.Total != 2 || s.Processed != 2 {
		t.Errorf("Expected only the two inputs, got %s", s)
	}
}

func TestClassify(t *testing.T) {
	planned := objectcropper.Result{Planned: true}
	tests := []struct {
		res  objectcropper.Result
		err  error
		want journal.Status
	}{
		{objectcropper.Result{}, nil, journal.StatusProcessed},
		{planned, nil, journal.StatusPlanned},
		{objectcropper.Result{}, detection.ErrNoObjectDetected, journal.StatusSkipped},
		{objectcropper.Result{}, errors.Join(errors.New("wrapped"), detection.ErrNoObjectDetected), journal.StatusSkipped},
		{objectcropper.Result{}, &detection.ServiceError{Backend: "gcv", Err: errors.New("boom")}, journal.StatusFailed},
		{planned, context.Canceled, journal.StatusFailed},
	}

	for _, tt := range tests {
		if got := classify(tt.res, tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestErrorKind(t *testing.T) {
	if k := errorKind(&detection.ServiceError{Backend: "gcv", Err: errors.New("x")}); k != "detection_service" {
		t.Errorf("Expected detection_service, got %s", k)
	}
	if k := errorKind(fmt.Errorf("crop: %w", &cropper.SizeLimitError{Limit: 1})); k != "size_limit" {
		t.Errorf("Expected size_limit, got %s", k)
	}
	if k := errorKind(context.Canceled); k != "cancelled" {
		t.Errorf("Expected cancelled, got %s", k)
	}
	if k := errorKind(errors.New("x")); k != "other" {
		t.Errorf("Expected other, got %s", k)
	}
}
