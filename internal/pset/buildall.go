package pset

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/table"
)

// BuildError aggregates the per-dataset failures of one BuildAll run. A
// failed dataset never aborts the others; every failure is named.
type BuildError struct {
	Failures map[string]error
}

func (e *BuildError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Failures[name])
	}
	return fmt.Sprintf("%d dataset build(s) failed: %s", len(names), strings.Join(parts, "; "))
}

// Build reads one PSet, builds its tables, and writes each as
// {procDir}/{name}/{name}_{table}.csv.
func Build(rawDir, procDir, name string, logger *zap.Logger) error {
	p, err := Read(rawDir, name)
	if err != nil {
		return err
	}
	tables, err := BuildTables(p)
	if err != nil {
		return fmt.Errorf("PSet %s: %w", name, err)
	}

	names := make([]string, 0, len(tables))
	for tableName := range tables {
		names = append(names, tableName)
	}
	sort.Strings(names)
	for _, tableName := range names {
		path := filepath.Join(procDir, name, name+"_"+tableName+".csv")
		if err := table.WriteCSVFile(tables[tableName], path); err != nil {
			return fmt.Errorf("PSet %s: %w", name, err)
		}
		logger.Debug("wrote per-dataset table",
			zap.String("dataset", name),
			zap.String("table", tableName),
			zap.Int("rows", tables[tableName].NumRows()))
	}
	logger.Info("built PSet tables", zap.String("dataset", name), zap.Int("tables", len(tables)))
	return nil
}

// BuildAll builds per-dataset tables for every named PSet on a bounded worker
// pool. Datasets share no state, so the only coordination is the failure map.
func BuildAll(ctx context.Context, rawDir, procDir string, datasets []string, workers int, logger *zap.Logger) error {
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan string)
	var mu sync.Mutex
	failures := make(map[string]error)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				if err := ctx.Err(); err != nil {
					mu.Lock()
					failures[name] = err
					mu.Unlock()
					continue
				}
				if err := Build(rawDir, procDir, name, logger); err != nil {
					logger.Error("PSet build failed", zap.String("dataset", name), zap.Error(err))
					mu.Lock()
					failures[name] = err
					mu.Unlock()
				}
			}
		}()
	}
	for _, name := range datasets {
		jobs <- name
	}
	close(jobs)
	wg.Wait()

	if len(failures) > 0 {
		return &BuildError{Failures: failures}
	}
	return nil
}
