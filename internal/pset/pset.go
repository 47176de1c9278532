// Package pset reads one PharmacoSet export directory and builds the
// per-dataset tables the combination pipeline consumes. Each dataset is
// independent, so BuildAll fans the work out over a bounded worker pool.
package pset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bhklab/pharmacodi/internal/table"
)

// PSet holds the slot tables of one PharmacoSet export.
type PSet struct {
	Name string
	// Cell lists cell lines (columns cellid, tissueid).
	Cell *table.Table
	// Compound lists compounds and their annotations
	// (columns drugid, smiles, inchikey, cid, FDA).
	Compound *table.Table
	// MolProfiles maps molecular data type to its feature table
	// (columns .features, Symbol, gene_seq_start, gene_seq_end).
	MolProfiles map[string]*table.Table
	// MolSamples maps molecular data type to its sample table (column cellid).
	MolSamples map[string]*table.Table
	// SensitivityInfo describes experiments (columns .rownames, cellid, drugid).
	SensitivityInfo *table.Table
	// SensitivityProfiles holds per-experiment summary statistics.
	SensitivityProfiles *table.Table
	// Dose and Viability are wide matrices keyed by .exp_id with one column
	// per dose index.
	Dose      *table.Table
	Viability *table.Table
}

const (
	cellFile      = "cell.csv"
	compoundFile  = "compound.csv"
	sensInfoFile  = "sensitivity_info.csv"
	sensProfFile  = "sensitivity_profiles.csv"
	doseFile      = "sensitivity_dose.csv"
	viabilityFile = "sensitivity_viability.csv"
	molProfPrefix = "molprof_"
	molRowSuffix  = "_rowData.csv"
	molColSuffix  = "_colData.csv"
	psetDirSuffix = "_PSet"
)

// Read loads the PSet export directory {rawDir}/{name}_PSet. The cell,
// compound and sensitivity slots are mandatory; molecular profiles are not,
// since some datasets carry no molecular data.
func Read(rawDir, name string) (*PSet, error) {
	dir := filepath.Join(rawDir, name+psetDirSuffix)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("no PSet directory for %s under %s: %w", name, rawDir, err)
	}

	p := &PSet{
		Name:        name,
		MolProfiles: make(map[string]*table.Table),
		MolSamples:  make(map[string]*table.Table),
	}

	mandatory := []struct {
		file string
		dst  **table.Table
	}{
		{cellFile, &p.Cell},
		{compoundFile, &p.Compound},
		{sensInfoFile, &p.SensitivityInfo},
		{sensProfFile, &p.SensitivityProfiles},
		{doseFile, &p.Dose},
		{viabilityFile, &p.Viability},
	}
	for _, slot := range mandatory {
		t, err := table.ReadCSVFile(filepath.Join(dir, slot.file))
		if err != nil {
			return nil, fmt.Errorf("PSet %s: %w", name, err)
		}
		*slot.dst = t
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		fname := entry.Name()
		if !strings.HasPrefix(fname, molProfPrefix) {
			continue
		}
		var mDataType string
		var dst map[string]*table.Table
		switch {
		case strings.HasSuffix(fname, molRowSuffix):
			mDataType = strings.TrimSuffix(strings.TrimPrefix(fname, molProfPrefix), molRowSuffix)
			dst = p.MolProfiles
		case strings.HasSuffix(fname, molColSuffix):
			mDataType = strings.TrimSuffix(strings.TrimPrefix(fname, molProfPrefix), molColSuffix)
			dst = p.MolSamples
		default:
			continue
		}
		t, err := table.ReadCSVFile(filepath.Join(dir, fname))
		if err != nil {
			return nil, fmt.Errorf("PSet %s: %w", name, err)
		}
		dst[mDataType] = t
	}

	return p, nil
}

// MolDataTypes returns the molecular data types present, sorted for
// deterministic iteration.
func (p *PSet) MolDataTypes() []string {
	types := make([]string, 0, len(p.MolProfiles))
	for mDataType := range p.MolProfiles {
		types = append(types, mDataType)
	}
	sort.Strings(types)
	return types
}
