package pset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestBuildWritesPerDatasetCSVs(t *testing.T) {
	rawDir := t.TempDir()
	procDir := t.TempDir()
	writePSetFixture(t, rawDir, "TEST")

	if err := Build(rawDir, procDir, "TEST", zap.NewNop()); err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	for _, name := range []string{"cell", "tissue", "compound", "experiment", "dose_response", "profile"} {
		path := filepath.Join(procDir, "TEST", "TEST_"+name+".csv")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected table file %s: %v", path, err)
		}
	}
}

func TestBuildAllCollectsPerDatasetFailures(t *testing.T) {
	rawDir := t.TempDir()
	procDir := t.TempDir()
	writePSetFixture(t, rawDir, "GOOD")

	err := BuildAll(context.Background(), rawDir, procDir, []string{"GOOD", "MISSING"}, 2, zap.NewNop())
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if len(buildErr.Failures) != 1 {
		t.Fatalf("expected exactly one failure: %v", buildErr.Failures)
	}
	if _, ok := buildErr.Failures["MISSING"]; !ok {
		t.Fatalf("missing dataset not reported: %v", buildErr.Failures)
	}
	if !strings.Contains(buildErr.Error(), "MISSING") {
		t.Fatalf("error message does not name the dataset: %v", buildErr)
	}

	// The good dataset still completed.
	if _, err := os.Stat(filepath.Join(procDir, "GOOD", "GOOD_cell.csv")); err != nil {
		t.Fatalf("good dataset should have been built: %v", err)
	}
}

func TestBuildAllSucceedsWhenEveryDatasetBuilds(t *testing.T) {
	rawDir := t.TempDir()
	procDir := t.TempDir()
	writePSetFixture(t, rawDir, "A1")
	writePSetFixture(t, rawDir, "B2")

	if err := BuildAll(context.Background(), rawDir, procDir, []string{"A1", "B2"}, 2, zap.NewNop()); err != nil {
		t.Fatalf("build all returned error: %v", err)
	}
}

func TestBuildAllHonorsCancelledContext(t *testing.T) {
	rawDir := t.TempDir()
	procDir := t.TempDir()
	writePSetFixture(t, rawDir, "TEST")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := BuildAll(ctx, rawDir, procDir, []string{"TEST"}, 1, zap.NewNop())
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !errors.Is(buildErr.Failures["TEST"], context.Canceled) {
		t.Fatalf("expected context cancellation to be recorded: %v", buildErr.Failures)
	}
}
