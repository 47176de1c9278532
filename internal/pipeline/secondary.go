package pipeline

import (
	"fmt"

	"github.com/bhklab/pharmacodi/internal/registry"
	"github.com/bhklab/pharmacodi/internal/table"
)

// buildSecondaryTables combines every table whose foreign keys point at the
// primary registries. The cell registry is built as soon as the cell table
// is resolved because later tables depend on it.
func (p *Pipeline) buildSecondaryTables() error {
	cell, err := p.loadJoinWrite("cell", []string{"tissue"}, true)
	if err != nil {
		return err
	}
	cellReg, err := registry.Build(cell, "name", "cell_id")
	if err != nil {
		return fmt.Errorf("table cell: %w", err)
	}
	if err := p.registries.Register("cell", cellReg); err != nil {
		return err
	}

	if _, err := p.loadJoinWrite("compound_annotation", []string{"compound"}, false); err != nil {
		return err
	}
	if err := p.buildGeneAnnotation(); err != nil {
		return err
	}

	if _, err := p.loadJoinWrite("dataset_cell", []string{"dataset", "cell"}, false); err != nil {
		return err
	}
	if _, err := p.loadJoinWrite("dataset_tissue", []string{"dataset", "tissue"}, false); err != nil {
		return err
	}
	if _, err := p.loadJoinWrite("dataset_compound", []string{"dataset", "compound"}, false); err != nil {
		return err
	}
	if _, err := p.loadJoinWrite("mol_cell", []string{"cell", "dataset"}, true); err != nil {
		return err
	}
	if _, err := p.loadJoinWrite("dataset_statistics", []string{"dataset"}, true); err != nil {
		return err
	}
	return nil
}

// buildGeneAnnotation joins from the gene registry side so that genes whose
// annotations were cut during upstream cleanup come back with null
// annotations instead of disappearing from the table.
func (p *Pipeline) buildGeneAnnotation() error {
	annotation, err := p.store.Load("gene_annotation", false)
	if err != nil {
		return err
	}
	if !annotation.HasColumn("gene_id") {
		if annotation.NumRows() > 0 {
			return fmt.Errorf("table gene_annotation: no gene_id column")
		}
		// No dataset carries molecular profiles; emit the schema anyway.
		annotation = table.New("gene_id", "symbol", "gene_seq_start", "gene_seq_end")
	}

	gene, err := p.writer.Read("gene")
	if err != nil {
		return err
	}
	geneIDs, _ := gene.Column("id")
	geneNames, _ := gene.Column("name")

	annotationColumns := annotation.Columns()
	rowByGene := make(map[string][]string, annotation.NumRows())
	for i := 0; i < annotation.NumRows(); i++ {
		row := annotation.Row(i)
		name, _ := annotation.Cell(i, "gene_id")
		if _, exists := rowByGene[name]; !exists {
			rowByGene[name] = row
		}
	}

	out := table.New(annotationColumns...)
	geneIdx := -1
	for i, name := range annotationColumns {
		if name == "gene_id" {
			geneIdx = i
		}
	}
	for i, name := range geneNames {
		row, ok := rowByGene[name]
		if !ok {
			row = make([]string, len(annotationColumns))
		} else {
			row = append([]string(nil), row...)
		}
		row[geneIdx] = geneIDs[i]
		out.Append(row...)
	}

	_, err = p.write(out, "gene_annotation", false)
	return err
}
