package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/join"
	"github.com/bhklab/pharmacodi/internal/table"
)

// geneSigColumns is the canonical gene_compound_tissue_dataset schema. The
// signature files disagree on naming between releases, so every file is
// projected onto this set before concatenation.
var geneSigColumns = []string{
	"gene_id", "compound_id", "dataset_id", "tissue_id",
	"estimate", "lower_analytic", "upper_analytic",
	"lower_permutation", "upper_permutation", "n",
	"pvalue_analytic", "pvalue_permutation", "df",
	"fdr_analytic", "fdr_permutation", "FWER_gene",
	"significant_permutation", "permutation_done",
	"sens_stat", "mDataType",
}

var geneSigRenames = []struct{ from, to string }{
	{"gene", "gene_id"},
	{"drug", "compound_id"},
	{"compound", "compound_id"},
	{"tissue", "tissue_id"},
	{"dataset", "dataset_id"},
	{"estimate_analytic", "estimate"},
	{"FWER_genes", "FWER_gene"},
}

// buildGeneCompoundTissueDataset concatenates the per-dataset gene signature
// files and resolves their foreign keys. Gene identifiers fall back to an
// unversioned match and tissue names to a punctuation-insensitive one.
func (p *Pipeline) buildGeneCompoundTissueDataset() error {
	combined := table.New(geneSigColumns...)
	for _, dataset := range p.cfg.Datasets {
		file := filepath.Join(p.cfg.GeneSigDir, dataset+"_gene_sig.csv")
		if _, err := os.Stat(file); os.IsNotExist(err) {
			p.logger.Warn("no gene signature file for dataset",
				zap.String("dataset", dataset),
				zap.String("file", file))
			continue
		}
		sig, err := readGeneSignatures(file)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", dataset, err)
		}
		combined = combined.Concat(sig)
	}
	combined = combined.Deduplicate()

	resolved, err := p.resolve(combined, "gene_compound_tissue_dataset", "gene",
		join.Options{DropUnmatched: true, Normalize: join.StripGeneVersion})
	if err != nil {
		return err
	}
	resolved, err = p.resolve(resolved, "gene_compound_tissue_dataset", "compound",
		join.Options{DropUnmatched: true})
	if err != nil {
		return err
	}
	resolved, err = p.resolve(resolved, "gene_compound_tissue_dataset", "dataset",
		join.Options{DropUnmatched: true})
	if err != nil {
		return err
	}
	resolved, err = p.resolve(resolved, "gene_compound_tissue_dataset", "tissue",
		join.Options{DropUnmatched: true, Normalize: join.NormalizeTissueName})
	if err != nil {
		return err
	}

	resolved, err = resolved.Sort("gene_id", "compound_id", "dataset_id", "tissue_id")
	if err != nil {
		return err
	}
	_, err = p.write(resolved, "gene_compound_tissue_dataset", true)
	return err
}

// readGeneSignatures loads one signature file and projects it onto the
// canonical column set, padding columns the file does not carry.
func readGeneSignatures(file string) (*table.Table, error) {
	t, err := table.ReadFile(file)
	if err != nil {
		return nil, err
	}
	for _, r := range geneSigRenames {
		if t.HasColumn(r.from) && !t.HasColumn(r.to) {
			if t, err = t.Rename(r.from, r.to); err != nil {
				return nil, err
			}
		}
	}
	for _, column := range []string{"gene_id", "compound_id", "dataset_id", "tissue_id"} {
		if !t.HasColumn(column) {
			return nil, fmt.Errorf("signature file %s is missing column %q", file, column)
		}
	}

	out := table.New(geneSigColumns...)
	columns := make(map[string][]string, len(geneSigColumns))
	for _, name := range geneSigColumns {
		if t.HasColumn(name) {
			values, _ := t.Column(name)
			columns[name] = values
		}
	}
	fdr := columns["fdr_permutation"]
	row := make([]string, len(geneSigColumns))
	for i := 0; i < t.NumRows(); i++ {
		for c, name := range geneSigColumns {
			switch name {
			case "sens_stat":
				row[c] = "AAC"
			case "permutation_done":
				if fdr != nil && fdr[i] != "" {
					row[c] = "1"
				} else {
					row[c] = "0"
				}
			default:
				if values := columns[name]; values != nil {
					row[c] = values[i]
				} else {
					row[c] = ""
				}
			}
		}
		out.Append(row...)
	}
	return out, nil
}
