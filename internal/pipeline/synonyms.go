package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bhklab/pharmacodi/internal/table"
)

// buildSynonymTables melts the per-dataset identifier columns of the
// annotation workbooks into long synonym tables joined back to their
// registries. Names that do not map to a known entity are discarded: the
// workbooks cover more datasets than any one run includes.
func (p *Pipeline) buildSynonymTables() error {
	sources := []struct {
		file         string
		uniqueColumn string
		suffix       string
		registry     string
		valueColumn  string
		output       string
	}{
		{p.cfg.CellMetaFile, "unique.cellid", "cellid", "cell", "cell_name", "cell_synonym"},
		{p.cfg.TissueMetaFile, "unique.tissueid", "tissueid", "tissue", "tissue_name", "tissue_synonym"},
		{p.cfg.CompoundSynFile, "unique.drugid", "drugid", "compound", "compound_name", "compound_synonym"},
	}
	for _, src := range sources {
		if src.file == "" {
			continue
		}
		if err := p.buildSynonymTable(src.file, src.uniqueColumn, src.suffix, src.registry, src.valueColumn, src.output); err != nil {
			return fmt.Errorf("table %s: %w", src.output, err)
		}
	}
	return nil
}

func (p *Pipeline) buildSynonymTable(file, uniqueColumn, suffix, registryName, valueColumn, output string) error {
	meta, err := table.ReadFile(file)
	if err != nil {
		return err
	}
	if !meta.HasColumn(uniqueColumn) {
		return fmt.Errorf("annotation file %s is missing column %q", file, uniqueColumn)
	}

	// Per-dataset identifier columns look like "{dataset}.{suffix}"; only
	// datasets included in the run contribute synonyms.
	included := make(map[string]bool, len(p.cfg.Datasets))
	for _, name := range p.cfg.Datasets {
		included[name] = true
	}
	var synonymColumns []string
	for _, column := range meta.Columns() {
		if column == uniqueColumn || !strings.HasSuffix(column, suffix) {
			continue
		}
		dataset := strings.TrimSuffix(column, suffix)
		dataset = strings.TrimSuffix(dataset, ".")
		if len(included) > 0 && !included[dataset] {
			continue
		}
		synonymColumns = append(synonymColumns, column)
	}

	reg, ok := p.registries.Get(registryName)
	if !ok {
		return fmt.Errorf("the %s registry has not been built", registryName)
	}

	uniqueIDs, _ := meta.Column(uniqueColumn)
	type synonym struct{ id, name string }
	seen := make(map[synonym]bool)
	var synonyms []synonym
	for _, column := range synonymColumns {
		values, _ := meta.Column(column)
		for row, value := range values {
			if value == "" {
				continue
			}
			id, ok := reg.Lookup(uniqueIDs[row])
			if !ok {
				continue
			}
			s := synonym{id: id, name: value}
			if !seen[s] {
				seen[s] = true
				synonyms = append(synonyms, s)
			}
		}
	}
	sort.Slice(synonyms, func(a, b int) bool {
		if synonyms[a].id != synonyms[b].id {
			return synonyms[a].id < synonyms[b].id
		}
		return synonyms[a].name < synonyms[b].name
	})

	out := table.New(reg.FKColumn(), valueColumn, "dataset_id")
	for _, s := range synonyms {
		out.Append(s.id, s.name, "")
	}
	_, err = p.write(out, output, true)
	return err
}
