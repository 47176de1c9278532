package pipeline

import (
	"fmt"
	"sort"

	"github.com/bhklab/pharmacodi/internal/join"
	"github.com/bhklab/pharmacodi/internal/registry"
	"github.com/bhklab/pharmacodi/internal/table"
)

// drugbankUniprotColumn is the identifier column as exported by DrugBank.
const drugbankUniprotColumn = "polypeptide.external.identifiers.UniProtKB"

// targetSource is a drug-target reference file reduced to the canonical
// (target_name, compound_name, uniprot_id) schema.
type targetSource struct {
	t *table.Table
}

func readTargetSource(file string, renames map[string]string) (targetSource, error) {
	t, err := table.ReadFile(file)
	if err != nil {
		return targetSource{}, err
	}
	for from, to := range renames {
		if t.HasColumn(from) {
			if t, err = t.Rename(from, to); err != nil {
				return targetSource{}, err
			}
		}
	}
	for _, column := range []string{"target_name", "compound_name", "uniprot_id"} {
		if !t.HasColumn(column) {
			return targetSource{}, fmt.Errorf("target file %s is missing column %q", file, column)
		}
	}
	return targetSource{t: t}, nil
}

// buildTargetTables derives target, compound_target and gene_target from the
// ChEMBL and DrugBank reference exports. Compounds are matched through the
// synonym table because the reference files use trade and study names rather
// than the canonical ones. Every input is checked before anything is written
// so a misconfiguration cannot leave a partial set of target tables.
func (p *Pipeline) buildTargetTables() error {
	required := []struct{ key, value string }{
		{"pipeline.chembl_target_file", p.cfg.ChEMBLTargetFile},
		{"pipeline.drugbank_target_file", p.cfg.DrugbankTargetFile},
		{"pipeline.uniprot_map_file", p.cfg.UniprotMapFile},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("target tables need %s to be configured", r.key)
		}
	}
	synonyms, err := p.writer.Read("compound_synonym")
	if err != nil {
		return fmt.Errorf("target tables need the compound_synonym table: %w", err)
	}

	chembl, err := readTargetSource(p.cfg.ChEMBLTargetFile, map[string]string{
		"pref_name": "target_name",
		"accession": "uniprot_id",
	})
	if err != nil {
		return err
	}
	drugbank, err := readTargetSource(p.cfg.DrugbankTargetFile, map[string]string{
		"name":                "target_name",
		"drugName":            "compound_name",
		drugbankUniprotColumn: "uniprot_id",
	})
	if err != nil {
		return err
	}
	geneByUniprot, err := readUniprotMapping(p.cfg.UniprotMapFile)
	if err != nil {
		return err
	}
	sources := []targetSource{chembl, drugbank}

	targetReg, err := p.buildTargetTable(sources)
	if err != nil {
		return fmt.Errorf("table target: %w", err)
	}
	if err := p.buildCompoundTargetTable(sources, synonyms, targetReg); err != nil {
		return fmt.Errorf("table compound_target: %w", err)
	}
	if err := p.buildGeneTargetTable(sources, geneByUniprot, targetReg); err != nil {
		return fmt.Errorf("table gene_target: %w", err)
	}
	return nil
}

// readUniprotMapping loads the UniProt accession to Ensembl gene mapping.
func readUniprotMapping(file string) (map[string]string, error) {
	mapping, err := table.ReadFile(file)
	if err != nil {
		return nil, err
	}
	for _, column := range []string{"uniprot_id", "gene_id"} {
		if !mapping.HasColumn(column) {
			return nil, fmt.Errorf("mapping file %s is missing column %q", file, column)
		}
	}
	uniprotIDs, _ := mapping.Column("uniprot_id")
	geneNames, _ := mapping.Column("gene_id")
	geneByUniprot := make(map[string]string, len(uniprotIDs))
	for i, uniprot := range uniprotIDs {
		if _, ok := geneByUniprot[uniprot]; !ok {
			geneByUniprot[uniprot] = geneNames[i]
		}
	}
	return geneByUniprot, nil
}

func (p *Pipeline) buildTargetTable(sources []targetSource) (*registry.Registry, error) {
	names := table.New("name")
	for _, src := range sources {
		values, _ := src.t.Column("target_name")
		for _, v := range values {
			if v != "" {
				names.Append(v)
			}
		}
	}
	names, err := names.Deduplicate().Sort("name")
	if err != nil {
		return nil, err
	}
	written, err := p.write(names, "target", true)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Build(written, "name", "target_id")
	if err != nil {
		return nil, err
	}
	if err := p.registries.Register("target", reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (p *Pipeline) buildCompoundTargetTable(sources []targetSource, synonyms *table.Table, targetReg *registry.Registry) error {
	synNames, _ := synonyms.Column("compound_name")
	synIDs, _ := synonyms.Column("compound_id")
	compoundByName := make(map[string]string, len(synNames))
	for i, name := range synNames {
		if _, ok := compoundByName[name]; !ok {
			compoundByName[name] = synIDs[i]
		}
	}

	type pair struct{ compoundID, targetID string }
	seen := make(map[pair]bool)
	var pairs []pair
	for _, src := range sources {
		targets, _ := src.t.Column("target_name")
		compounds, _ := src.t.Column("compound_name")
		for i, targetName := range targets {
			targetID, ok := targetReg.Lookup(targetName)
			if !ok {
				continue
			}
			compoundID, ok := compoundByName[compounds[i]]
			if !ok || compoundID == "" {
				continue
			}
			pr := pair{compoundID: compoundID, targetID: targetID}
			if !seen[pr] {
				seen[pr] = true
				pairs = append(pairs, pr)
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].compoundID != pairs[b].compoundID {
			return pairs[a].compoundID < pairs[b].compoundID
		}
		return pairs[a].targetID < pairs[b].targetID
	})

	out := table.New("compound_id", "target_id")
	for _, pr := range pairs {
		out.Append(pr.compoundID, pr.targetID)
	}
	_, err := p.write(out, "compound_target", false)
	return err
}

func (p *Pipeline) buildGeneTargetTable(sources []targetSource, geneByUniprot map[string]string, targetReg *registry.Registry) error {
	geneReg, ok := p.registries.Get("gene")
	if !ok {
		return fmt.Errorf("the gene registry has not been built")
	}
	unversioned := geneReg.Normalized(join.StripGeneVersion)

	type pair struct{ geneID, targetID string }
	seen := make(map[pair]bool)
	var pairs []pair
	for _, src := range sources {
		targets, _ := src.t.Column("target_name")
		uniprots, _ := src.t.Column("uniprot_id")
		for i, targetName := range targets {
			targetID, ok := targetReg.Lookup(targetName)
			if !ok {
				continue
			}
			geneName, ok := geneByUniprot[uniprots[i]]
			if !ok || geneName == "" {
				continue
			}
			geneID, ok := geneReg.Lookup(geneName)
			if !ok {
				geneID, ok = unversioned.Lookup(join.StripGeneVersion(geneName))
			}
			if !ok {
				continue
			}
			pr := pair{geneID: geneID, targetID: targetID}
			if !seen[pr] {
				seen[pr] = true
				pairs = append(pairs, pr)
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].geneID != pairs[b].geneID {
			return pairs[a].geneID < pairs[b].geneID
		}
		return pairs[a].targetID < pairs[b].targetID
	})

	out := table.New("gene_id", "target_id")
	for _, pr := range pairs {
		out.Append(pr.geneID, pr.targetID)
	}
	_, err := p.write(out, "gene_target", false)
	return err
}
