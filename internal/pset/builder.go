package pset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bhklab/pharmacodi/internal/join"
	"github.com/bhklab/pharmacodi/internal/table"
)

// profileColumns is the canonical sensitivity-profile schema. Source exports
// name these columns inconsistently; profileRenames maps the known aliases.
var profileColumns = []string{"experiment_id", "HS", "Einf", "EC50", "AAC", "IC50", "DSS1", "DSS2", "DSS3"}

var profileRenames = []struct{ from, to string }{
	{".rownames", "experiment_id"},
	{"einf", "Einf"},
	{"E_inf", "Einf"},
	{"ec50", "EC50"},
	{"aac_recomputed", "AAC"},
	{"ic50_recomputed", "IC50"},
	{"slope_recomputed", "HS"},
}

// BuildTables builds every per-dataset table for one PSet, keyed by table
// name.
func BuildTables(p *PSet) (map[string]*table.Table, error) {
	tables := make(map[string]*table.Table)

	dataset := table.New("name")
	dataset.Append(p.Name)
	tables["dataset"] = dataset

	cell, err := buildCell(p)
	if err != nil {
		return nil, err
	}
	tables["cell"] = cell

	tissue, err := buildTissue(p)
	if err != nil {
		return nil, err
	}
	tables["tissue"] = tissue

	compound, err := buildCompound(p)
	if err != nil {
		return nil, err
	}
	tables["compound"] = compound

	compoundAnnotation, err := buildCompoundAnnotation(p)
	if err != nil {
		return nil, err
	}
	tables["compound_annotation"] = compoundAnnotation

	// Gene tables only exist for datasets with molecular profiles.
	if len(p.MolProfiles) > 0 {
		gene, err := buildGene(p)
		if err != nil {
			return nil, err
		}
		tables["gene"] = gene

		geneAnnotation, err := buildGeneAnnotation(p)
		if err != nil {
			return nil, err
		}
		tables["gene_annotation"] = geneAnnotation
	}

	tables["dataset_cell"], err = buildDatasetJoin(p, cell, "name", "cell_id")
	if err != nil {
		return nil, err
	}
	tables["dataset_tissue"], err = buildDatasetJoin(p, tissue, "name", "tissue_id")
	if err != nil {
		return nil, err
	}
	tables["dataset_compound"], err = buildDatasetJoin(p, compound, "name", "compound_id")
	if err != nil {
		return nil, err
	}

	experiment, err := buildExperiment(p, cell)
	if err != nil {
		return nil, err
	}
	tables["experiment"] = experiment

	tables["dose_response"], err = buildDoseResponse(p)
	if err != nil {
		return nil, err
	}
	tables["profile"], err = buildProfile(p)
	if err != nil {
		return nil, err
	}

	tables["mol_cell"], err = buildMolCell(p)
	if err != nil {
		return nil, err
	}
	tables["dataset_statistics"] = buildDatasetStatistics(p, tables)

	return tables, nil
}

func buildCell(p *PSet) (*table.Table, error) {
	selected, err := p.Cell.Select("cellid", "tissueid")
	if err != nil {
		return nil, fmt.Errorf("cell slot: %w", err)
	}
	renamed, err := selected.Rename("cellid", "name")
	if err != nil {
		return nil, err
	}
	renamed, err = renamed.Rename("tissueid", "tissue_id")
	if err != nil {
		return nil, err
	}
	return renamed.Deduplicate(), nil
}

func buildTissue(p *PSet) (*table.Table, error) {
	tissues, err := p.Cell.Column("tissueid")
	if err != nil {
		return nil, fmt.Errorf("cell slot: %w", err)
	}
	return uniqueNameTable(tissues), nil
}

func buildCompound(p *PSet) (*table.Table, error) {
	compounds, err := p.Compound.Column("drugid")
	if err != nil {
		return nil, fmt.Errorf("compound slot: %w", err)
	}
	return uniqueNameTable(compounds), nil
}

func buildCompoundAnnotation(p *PSet) (*table.Table, error) {
	selected, err := p.Compound.Select("drugid", "smiles", "inchikey", "cid", "FDA")
	if err != nil {
		return nil, fmt.Errorf("compound slot: %w", err)
	}
	out := selected
	for from, to := range map[string]string{"drugid": "compound_id", "cid": "pubchem", "FDA": "fda_status"} {
		if out, err = out.Rename(from, to); err != nil {
			return nil, err
		}
	}
	return out.Deduplicate(), nil
}

func buildGene(p *PSet) (*table.Table, error) {
	var names []string
	for _, mDataType := range p.MolDataTypes() {
		features, err := p.MolProfiles[mDataType].Column(".features")
		if err != nil {
			return nil, fmt.Errorf("molecular profile %s: %w", mDataType, err)
		}
		names = append(names, features...)
	}
	// Ensembl identifiers appear both with and without version suffixes
	// across data types; the gene table carries unversioned ids only.
	for i, name := range names {
		names[i] = join.StripGeneVersion(name)
	}
	return uniqueNameTable(names), nil
}

func buildGeneAnnotation(p *PSet) (*table.Table, error) {
	combined := table.New("gene_id", "symbol", "gene_seq_start", "gene_seq_end")
	for _, mDataType := range p.MolDataTypes() {
		src := p.MolProfiles[mDataType]
		features, err := src.Column(".features")
		if err != nil {
			return nil, fmt.Errorf("molecular profile %s: %w", mDataType, err)
		}
		optional := func(name string) []string {
			if !src.HasColumn(name) {
				return make([]string, len(features))
			}
			values, _ := src.Column(name)
			return values
		}
		symbols := optional("Symbol")
		starts := optional("gene_seq_start")
		ends := optional("gene_seq_end")
		for i := range features {
			combined.Append(join.StripGeneVersion(features[i]), symbols[i], starts[i], ends[i])
		}
	}
	combined = combined.Deduplicate()
	// Keep the first annotation per gene when data types disagree.
	seen := make(map[string]bool)
	return combined.Filter(func(row []string) bool {
		if seen[row[0]] {
			return false
		}
		seen[row[0]] = true
		return true
	}), nil
}

func buildDatasetJoin(p *PSet, src *table.Table, nameColumn, fkColumn string) (*table.Table, error) {
	names, err := src.Column(nameColumn)
	if err != nil {
		return nil, err
	}
	out := table.New("dataset_id", fkColumn)
	for _, name := range names {
		out.Append(p.Name, name)
	}
	return out.Deduplicate(), nil
}

func buildExperiment(p *PSet, cell *table.Table) (*table.Table, error) {
	selected, err := p.SensitivityInfo.Select(".rownames", "cellid", "drugid")
	if err != nil {
		return nil, fmt.Errorf("sensitivity info slot: %w", err)
	}

	tissueByCell := make(map[string]string, cell.NumRows())
	cellNames, _ := cell.Column("name")
	cellTissues, _ := cell.Column("tissue_id")
	for i, name := range cellNames {
		tissueByCell[name] = cellTissues[i]
	}

	out := table.New("name", "cell_id", "compound_id", "dataset_id", "tissue_id")
	for i := 0; i < selected.NumRows(); i++ {
		row := selected.Row(i)
		out.Append(row[0], row[1], row[2], p.Name, tissueByCell[row[1]])
	}
	return out.Deduplicate(), nil
}

// buildDoseResponse melts the wide dose and viability matrices to long form
// and pairs them on (experiment, dose index).
func buildDoseResponse(p *PSet) (*table.Table, error) {
	doses, err := meltWide(p.Dose, ".exp_id", "dose")
	if err != nil {
		return nil, fmt.Errorf("dose slot: %w", err)
	}
	responses, err := meltWide(p.Viability, ".exp_id", "response")
	if err != nil {
		return nil, fmt.Errorf("viability slot: %w", err)
	}

	keys := make([]string, 0, len(doses))
	for key := range doses {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := table.New("experiment_id", "dose", "response", "dataset_id")
	for _, key := range keys {
		response, ok := responses[key]
		if !ok {
			continue
		}
		expID := key[:strings.Index(key, table.KeySep)]
		out.Append(expID, doses[key], response, p.Name)
	}
	return out, nil
}

// meltWide flattens a wide matrix into a map keyed by id and column name,
// joined with table.KeySep. The dose and viability matrices share dose-index
// column names, so equal keys pair a dose with its measured response.
// Empty cells are dropped, matching the NA handling of the source exports.
func meltWide(t *table.Table, idColumn, valueName string) (map[string]string, error) {
	if !t.HasColumn(idColumn) {
		return nil, fmt.Errorf("wide %s matrix is missing column %q", valueName, idColumn)
	}
	ids, _ := t.Column(idColumn)
	out := make(map[string]string)
	for _, column := range t.Columns() {
		if column == idColumn {
			continue
		}
		values, _ := t.Column(column)
		for row, value := range values {
			if value == "" {
				continue
			}
			out[ids[row]+table.KeySep+column] = value
		}
	}
	return out, nil
}

// buildProfile harmonizes the sensitivity profile slot against the canonical
// column set, renaming known aliases and padding absent statistics with
// nulls.
func buildProfile(p *PSet) (*table.Table, error) {
	src := p.SensitivityProfiles
	var err error
	for _, rename := range profileRenames {
		if src.HasColumn(rename.from) && !src.HasColumn(rename.to) {
			if src, err = src.Rename(rename.from, rename.to); err != nil {
				return nil, err
			}
		}
	}
	if !src.HasColumn("experiment_id") {
		return nil, fmt.Errorf("PSet %s: no experiment_id column in sensitivity profiles", p.Name)
	}

	out := table.New(profileColumns...)
	columns := make(map[string][]string)
	for _, name := range profileColumns {
		if src.HasColumn(name) {
			columns[name], _ = src.Column(name)
		}
	}
	for row := 0; row < src.NumRows(); row++ {
		shaped := make([]string, len(profileColumns))
		for i, name := range profileColumns {
			if values, ok := columns[name]; ok {
				shaped[i] = values[row]
			}
		}
		out.Append(shaped...)
	}
	out, err = out.WithColumn("dataset_id", []string{p.Name})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// buildMolCell counts molecular profiles per cell line per data type. A PSet
// with no molecular profiles still emits the table, with zero rows, so the
// output schema is identical across datasets.
func buildMolCell(p *PSet) (*table.Table, error) {
	out := table.New("cell_id", "dataset_id", "mDataType", "num_prof")
	cellNames, err := p.Cell.Column("cellid")
	if err != nil {
		return nil, fmt.Errorf("cell slot: %w", err)
	}
	unique := uniqueStrings(cellNames)
	for _, mDataType := range p.MolDataTypes() {
		counts := make(map[string]int)
		if samples, ok := p.MolSamples[mDataType]; ok && samples.HasColumn("cellid") {
			ids, _ := samples.Column("cellid")
			for _, id := range ids {
				counts[id]++
			}
		}
		for _, name := range unique {
			out.Append(name, p.Name, mDataType, strconv.Itoa(counts[name]))
		}
	}
	return out, nil
}

func buildDatasetStatistics(p *PSet, tables map[string]*table.Table) *table.Table {
	out := table.New("dataset_id", "cell_lines", "tissues", "compounds", "experiments")
	out.Append(
		p.Name,
		strconv.Itoa(tables["cell"].NumRows()),
		strconv.Itoa(tables["tissue"].NumRows()),
		strconv.Itoa(tables["compound"].NumRows()),
		strconv.Itoa(tables["experiment"].NumRows()),
	)
	return out
}

func uniqueNameTable(values []string) *table.Table {
	out := table.New("name")
	for _, value := range uniqueStrings(values) {
		out.Append(value)
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, value := range values {
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}
