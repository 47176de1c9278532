package pipeline

import (
	"fmt"

	"github.com/bhklab/pharmacodi/internal/registry"
	"github.com/bhklab/pharmacodi/internal/table"
)

// buildPrimaryTables combines the tables that need no joins: tissue, gene
// and dataset. Tissue is sorted by name before id assignment so ids are
// deterministic across runs.
func (p *Pipeline) buildPrimaryTables() error {
	tissue, err := p.store.Load("tissue", true)
	if err != nil {
		return err
	}
	// Source exports occasionally leave the tissue name null.
	tissue, err = tissue.MapColumn("name", func(name string) string {
		if name == "" {
			return "NA"
		}
		return name
	})
	if err != nil {
		return err
	}
	tissue = tissue.Deduplicate()
	if tissue, err = tissue.Sort("name"); err != nil {
		return err
	}
	if _, err = p.write(tissue, "tissue", true); err != nil {
		return err
	}

	// Gene tables only exist for datasets with molecular profiles; a run
	// without any still gets an empty gene table so the later joins see a
	// registry rather than a missing file.
	gene, err := p.store.Load("gene", false)
	if err != nil {
		return err
	}
	if !gene.HasColumn("name") {
		gene = table.New("name")
	}
	if gene, err = gene.Sort("name"); err != nil {
		return err
	}
	if _, err = p.write(gene, "gene", true); err != nil {
		return err
	}

	dataset, err := p.store.Load("dataset", true)
	if err != nil {
		return err
	}
	if dataset, err = dataset.Sort("name"); err != nil {
		return err
	}
	_, err = p.write(dataset, "dataset", true)
	return err
}

// buildCompoundTable combines the compound tables and enriches them with the
// canonical cross-dataset compound identifier. Compounds without a canonical
// identifier keep a null compound_uid rather than being dropped.
func (p *Pipeline) buildCompoundTable() error {
	compound, err := p.store.Load("compound", true)
	if err != nil {
		return err
	}
	if compound, err = compound.Sort("name"); err != nil {
		return err
	}

	uids := make([]string, compound.NumRows())
	if p.cfg.CompoundMetaFile != "" {
		meta, err := table.ReadFile(p.cfg.CompoundMetaFile)
		if err != nil {
			return fmt.Errorf("compound reference file: %w", err)
		}
		for from, to := range map[string]string{"unique.drugid": "name", "PharmacoDB.uid": "compound_uid"} {
			if meta.HasColumn(from) && !meta.HasColumn(to) {
				if meta, err = meta.Rename(from, to); err != nil {
					return err
				}
			}
		}
		if !meta.HasColumn("name") || !meta.HasColumn("compound_uid") {
			return fmt.Errorf("compound reference file %s is missing name/compound_uid columns", p.cfg.CompoundMetaFile)
		}
		metaNames, _ := meta.Column("name")
		metaUIDs, _ := meta.Column("compound_uid")
		uidByName := make(map[string]string, len(metaNames))
		for i, name := range metaNames {
			if _, exists := uidByName[name]; !exists {
				uidByName[name] = metaUIDs[i]
			}
		}
		names, _ := compound.Column("name")
		for i, name := range names {
			uids[i] = uidByName[name]
		}
	}
	if compound, err = compound.WithColumn("compound_uid", uids); err != nil {
		return err
	}

	_, err = p.write(compound, "compound", true)
	return err
}

// buildRegistries projects every primary table built so far into a
// natural-key registry for the joins that follow.
func (p *Pipeline) buildRegistries() error {
	for _, name := range []string{"tissue", "compound", "gene", "dataset"} {
		t, err := p.writer.Read(name)
		if err != nil {
			return err
		}
		reg, err := registry.Build(t, "name", name+"_id")
		if err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		if err := p.registries.Register(name, reg); err != nil {
			return err
		}
	}
	return nil
}
