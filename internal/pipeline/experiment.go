package pipeline

import (
	"fmt"
	"strconv"

	"github.com/bhklab/pharmacodi/internal/join"
	"github.com/bhklab/pharmacodi/internal/registry"
)

// ic50Cap bounds the IC50 column; a handful of source fits diverge to
// astronomically large values that overflow downstream numeric columns.
const ic50Cap = 1e54

// buildExperimentTables resolves the experiment table, then uses it to build
// the dose_response and profile tables. Experiment names are only unique per
// dataset, so the experiment registry is keyed jointly on (dataset_id, name).
func (p *Pipeline) buildExperimentTables() error {
	experiment, err := p.store.Load("experiment", true)
	if err != nil {
		return err
	}
	for _, fk := range []string{"cell", "compound", "dataset", "tissue"} {
		if experiment, err = p.resolve(experiment, "experiment", fk, join.Options{DropUnmatched: true}); err != nil {
			return err
		}
	}
	if experiment, err = experiment.Sort("dataset_id", "name"); err != nil {
		return err
	}
	keyed, err := experiment.Prepend("id", makeIDs(experiment.NumRows()))
	if err != nil {
		return err
	}

	// The experiment name is a per-dataset artifact; it keys the registry
	// but is not persisted.
	if _, err := p.write(keyed.Drop("name"), "experiment", false); err != nil {
		return err
	}
	experimentReg, err := registry.BuildComposite(keyed, []string{"dataset_id", "name"}, "experiment_id")
	if err != nil {
		return fmt.Errorf("table experiment: %w", err)
	}
	if err := p.registries.Register("experiment", experimentReg); err != nil {
		return err
	}

	for _, name := range []string{"dose_response", "profile"} {
		t, err := p.store.Load(name, true)
		if err != nil {
			return err
		}
		if name == "profile" && t.HasColumn("IC50") {
			if t, err = t.MapColumn("IC50", capIC50); err != nil {
				return err
			}
		}
		if t, err = p.resolve(t, name, "dataset", join.Options{DropUnmatched: true}); err != nil {
			return err
		}
		t, report, err := join.ResolveComposite(t, experimentReg,
			[]string{"dataset_id", "experiment_id"}, "experiment_id",
			join.Options{DropUnmatched: true})
		if err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		p.recordUnmatched(name, report, true)
		t = t.Drop("dataset_id")
		if _, err := p.write(t, name, name == "dose_response"); err != nil {
			return err
		}
	}
	return nil
}

func capIC50(value string) string {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= ic50Cap {
		return value
	}
	return strconv.FormatFloat(ic50Cap, 'g', -1, 64)
}
