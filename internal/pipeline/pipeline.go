// Package pipeline sequences the combination of per-dataset tables into the
// final PharmacoDB table set: primary tables first, then registries, then
// every foreign-key-bearing table in dependency order.
package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/config"
	"github.com/bhklab/pharmacodi/internal/join"
	"github.com/bhklab/pharmacodi/internal/registry"
	"github.com/bhklab/pharmacodi/internal/store"
	"github.com/bhklab/pharmacodi/internal/table"
)

// StageError identifies which pipeline stage aborted the run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RunReport summarizes one pipeline run: rows written per table and every
// foreign key that failed to resolve.
type RunReport struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	// TableRows maps output table name to persisted row count.
	TableRows map[string]int
	// Unmatched holds one report per join with at least one unresolved key,
	// prefixed with the table it belongs to.
	Unmatched map[string][]join.Report
}

// Pipeline owns the table store, the output writer and the registry map for
// one run. Stages never insert registries themselves; only Run does, after a
// stage returns.
type Pipeline struct {
	cfg        config.Config
	store      *store.Store
	writer     *store.Writer
	registries *registry.Map
	logger     *zap.Logger
	report     *RunReport
}

// New creates a pipeline over the configured processed-data and output
// directories.
func New(cfg config.Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store.NewStore(cfg.ProcDir),
		writer:     store.NewWriter(cfg.OutputDir),
		registries: registry.NewMap(),
		logger:     logger,
	}
}

// Run executes every stage in dependency order and returns the run report.
// A structural failure in any stage aborts the run with a stage-identified
// error; no partial table set is silently produced past it.
func (p *Pipeline) Run() (*RunReport, error) {
	p.report = &RunReport{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
		TableRows: make(map[string]int),
		Unmatched: make(map[string][]join.Report),
	}
	p.logger.Info("combining all PSet tables",
		zap.String("run_id", p.report.RunID.String()),
		zap.String("proc_dir", p.cfg.ProcDir),
		zap.String("output_dir", p.cfg.OutputDir))

	stages := []struct {
		name string
		run  func() error
		skip bool
	}{
		{name: "primary_tables", run: p.buildPrimaryTables},
		{name: "compound_table", run: p.buildCompoundTable},
		{name: "registries", run: p.buildRegistries},
		{name: "secondary_tables", run: p.buildSecondaryTables},
		{name: "experiment_tables", run: p.buildExperimentTables},
		{name: "synonym_tables", run: p.buildSynonymTables,
			skip: p.cfg.CellMetaFile == "" && p.cfg.TissueMetaFile == "" && p.cfg.CompoundSynFile == ""},
		{name: "target_tables", run: p.buildTargetTables,
			skip: p.cfg.ChEMBLTargetFile == "" && p.cfg.DrugbankTargetFile == "" && p.cfg.UniprotMapFile == ""},
		{name: "gene_compound_tissue_dataset", run: p.buildGeneCompoundTissueDataset,
			skip: p.cfg.GeneSigDir == ""},
	}
	for _, stage := range stages {
		if stage.skip {
			p.logger.Info("skipping stage, no inputs configured", zap.String("stage", stage.name))
			continue
		}
		start := time.Now()
		if err := stage.run(); err != nil {
			return p.report, &StageError{Stage: stage.name, Err: err}
		}
		p.logger.Info("stage complete",
			zap.String("stage", stage.name),
			zap.Duration("elapsed", time.Since(start)))
	}

	p.report.FinishedAt = time.Now()
	return p.report, nil
}

// Report returns the report of the last run.
func (p *Pipeline) Report() *RunReport { return p.report }

// write persists a table and records its row count.
func (p *Pipeline) write(t *table.Table, name string, assignID bool) (*table.Table, error) {
	written, err := p.writer.Write(t, name, assignID)
	if err != nil {
		return nil, err
	}
	p.report.TableRows[name] = written.NumRows()
	return written, nil
}

// resolve rewrites one foreign key of a table against a named registry and
// records any unmatched keys in the report and the log.
func (p *Pipeline) resolve(t *table.Table, tableName, registryName string, opts join.Options) (*table.Table, error) {
	reg, ok := p.registries.Get(registryName)
	if !ok {
		return nil, fmt.Errorf("the %s table needs the %s registry but it has not been built", tableName, registryName)
	}
	p.logger.Info("joining tables",
		zap.String("table", tableName),
		zap.String("foreign_key", reg.FKColumn()))
	resolved, report, err := join.Resolve(t, reg, reg.FKColumn(), opts)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", tableName, err)
	}
	p.recordUnmatched(tableName, report, opts.DropUnmatched)
	return resolved, nil
}

func (p *Pipeline) recordUnmatched(tableName string, report join.Report, dropped bool) {
	if report.Empty() {
		return
	}
	p.report.Unmatched[tableName] = append(p.report.Unmatched[tableName], report)
	p.logger.Warn("foreign keys failed to map",
		zap.String("table", tableName),
		zap.String("foreign_key", report.FKColumn),
		zap.Strings("keys", report.Keys),
		zap.Int("dropped_rows", report.DroppedRows),
		zap.Bool("rows_dropped", dropped))
}

// loadJoinWrite is the common path for secondary tables: load all
// per-dataset instances, resolve each declared foreign key, sort by the
// resolved key columns for run-to-run determinism, and persist.
func (p *Pipeline) loadJoinWrite(name string, foreignKeys []string, assignID bool) (*table.Table, error) {
	t, err := p.store.Load(name, true)
	if err != nil {
		return nil, err
	}
	for _, fk := range foreignKeys {
		if t, err = p.resolve(t, name, fk, join.Options{DropUnmatched: true}); err != nil {
			return nil, err
		}
	}
	if len(foreignKeys) > 0 {
		fkColumns := make([]string, len(foreignKeys))
		for i, fk := range foreignKeys {
			fkColumns[i] = fk + "_id"
		}
		if t, err = t.Sort(fkColumns...); err != nil {
			return nil, err
		}
	}
	return p.write(t, name, assignID)
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}
