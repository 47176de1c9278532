package pipeline

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/bhklab/pharmacodi/internal/config"
	"github.com/bhklab/pharmacodi/internal/store"
)

// writeProcFixture lays out two combined-ready datasets: DS1 with molecular
// profiles and DS2 without. DS2 shares cell A and name exp1 with DS1, and
// carries one cell with an unknown tissue.
func writeProcFixture(t *testing.T, procDir string) {
	t.Helper()
	datasets := map[string]map[string]string{
		"DS1": {
			"tissue":              "name\nlung\nliver\n",
			"gene":                "name\nENSG001\nENSG002\n",
			"dataset":             "name\nDS1\n",
			"compound":            "name\nd1\nd2\n",
			"cell":                "name,tissue_id\nA,lung\nB,liver\n",
			"compound_annotation": "compound_id,smiles,inchikey,pubchem,fda_status\nd1,CC,IK,123,1\n",
			"gene_annotation":     "gene_id,symbol,gene_seq_start,gene_seq_end\nENSG001,TP53,1,100\n",
			"dataset_cell":        "dataset_id,cell_id\nDS1,A\nDS1,B\n",
			"dataset_tissue":      "dataset_id,tissue_id\nDS1,lung\nDS1,liver\n",
			"dataset_compound":    "dataset_id,compound_id\nDS1,d1\nDS1,d2\n",
			"mol_cell":            "cell_id,dataset_id,mDataType,num_prof\nA,DS1,rna,2\nB,DS1,rna,1\n",
			"dataset_statistics":  "dataset_id,cell_lines,tissues,compounds,experiments\nDS1,2,2,2,2\n",
			"experiment": "name,cell_id,compound_id,dataset_id,tissue_id\n" +
				"exp1,A,d1,DS1,lung\n" +
				"exp2,B,d2,DS1,liver\n",
			"dose_response": "experiment_id,dose,response,dataset_id\n" +
				"exp1,0.1,90,DS1\n" +
				"exp2,0.1,85,DS1\n",
			"profile": "experiment_id,HS,Einf,EC50,AAC,IC50,DSS1,DSS2,DSS3,dataset_id\n" +
				"exp1,,,,0.5,2e60,,,,DS1\n" +
				"exp2,,,,0.7,1.2,,,,DS1\n",
		},
		"DS2": {
			"tissue":              "name\nlung\n",
			"dataset":             "name\nDS2\n",
			"compound":            "name\nd1\n",
			"cell":                "name,tissue_id\nA,lung\nC,kidney\n",
			"compound_annotation": "compound_id,smiles,inchikey,pubchem,fda_status\nd1,,,,\n",
			"dataset_cell":        "dataset_id,cell_id\nDS2,A\nDS2,C\n",
			"dataset_tissue":      "dataset_id,tissue_id\nDS2,lung\n",
			"dataset_compound":    "dataset_id,compound_id\nDS2,d1\n",
			"mol_cell":            "cell_id,dataset_id,mDataType,num_prof\n",
			"dataset_statistics":  "dataset_id,cell_lines,tissues,compounds,experiments\nDS2,2,1,1,1\n",
			"experiment":          "name,cell_id,compound_id,dataset_id,tissue_id\nexp1,A,d1,DS2,lung\n",
			"dose_response":       "experiment_id,dose,response,dataset_id\nexp1,0.2,70,DS2\n",
			"profile": "experiment_id,HS,Einf,EC50,AAC,IC50,DSS1,DSS2,DSS3,dataset_id\n" +
				"exp1,,,,0.9,1.5,,,,DS2\n",
		},
	}
	for dataset, tables := range datasets {
		dir := filepath.Join(procDir, dataset)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for name, content := range tables {
			path := filepath.Join(dir, dataset+"_"+name+".csv")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write %s: %v", path, err)
			}
		}
	}
}

func fixtureConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ProcDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Datasets = []string{"DS1", "DS2"}
	writeProcFixture(t, cfg.ProcDir)
	return cfg
}

func TestRunBuildsPrimaryTables(t *testing.T) {
	cfg := fixtureConfig(t)
	report, err := New(cfg, zap.NewNop()).Run()
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	writer := store.NewWriter(cfg.OutputDir)
	tissue, err := writer.Read("tissue")
	if err != nil {
		t.Fatalf("read tissue: %v", err)
	}
	names, _ := tissue.Column("name")
	ids, _ := tissue.Column("id")
	if !reflect.DeepEqual(names, []string{"liver", "lung"}) {
		t.Fatalf("tissues must be sorted before id assignment: %v", names)
	}
	if !reflect.DeepEqual(ids, []string{"1", "2"}) {
		t.Fatalf("ids must be dense from 1: %v", ids)
	}
	if report.TableRows["tissue"] != 2 {
		t.Fatalf("unexpected tissue row count in report: %d", report.TableRows["tissue"])
	}

	dataset, err := writer.Read("dataset")
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	datasetNames, _ := dataset.Column("name")
	if !reflect.DeepEqual(datasetNames, []string{"DS1", "DS2"}) {
		t.Fatalf("unexpected datasets: %v", datasetNames)
	}
}

func TestRunResolvesCellForeignKeysAndReportsUnmatched(t *testing.T) {
	cfg := fixtureConfig(t)
	report, err := New(cfg, zap.NewNop()).Run()
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	writer := store.NewWriter(cfg.OutputDir)
	cell, err := writer.Read("cell")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	// Cell C has tissue kidney, which no dataset defines; its row is dropped.
	if cell.NumRows() != 2 {
		t.Fatalf("expected 2 cells, got %d", cell.NumRows())
	}
	tissueIDs, _ := cell.Column("tissue_id")
	for _, id := range tissueIDs {
		if id != "1" && id != "2" {
			t.Fatalf("cell references unknown tissue id %q", id)
		}
	}

	reports, ok := report.Unmatched["cell"]
	if !ok || len(reports) != 1 {
		t.Fatalf("expected one unmatched report for cell: %v", report.Unmatched)
	}
	if !reflect.DeepEqual(reports[0].Keys, []string{"kidney"}) {
		t.Fatalf("unexpected unmatched keys: %v", reports[0].Keys)
	}

	// dataset_cell loses the row pointing at the dropped cell C.
	if _, ok := report.Unmatched["dataset_cell"]; !ok {
		t.Fatalf("expected unmatched report for dataset_cell: %v", report.Unmatched)
	}
}

func TestRunKeysExperimentsPerDataset(t *testing.T) {
	cfg := fixtureConfig(t)
	if _, err := New(cfg, zap.NewNop()).Run(); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	writer := store.NewWriter(cfg.OutputDir)
	experiment, err := writer.Read("experiment")
	if err != nil {
		t.Fatalf("read experiment: %v", err)
	}
	if experiment.HasColumn("name") {
		t.Fatalf("experiment names must not be persisted")
	}
	if experiment.NumRows() != 3 {
		t.Fatalf("expected 3 experiments, got %d", experiment.NumRows())
	}

	// exp1 exists in both datasets; dose_response rows must resolve to the
	// right dataset's experiment.
	dr, err := writer.Read("dose_response")
	if err != nil {
		t.Fatalf("read dose_response: %v", err)
	}
	if dr.HasColumn("dataset_id") {
		t.Fatalf("dataset_id must be dropped after the composite join")
	}
	expIDs, _ := dr.Column("experiment_id")
	seen := make(map[string]bool)
	for _, id := range expIDs {
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected dose_response to span 3 distinct experiments: %v", expIDs)
	}
}

func TestRunCapsRunawayIC50(t *testing.T) {
	cfg := fixtureConfig(t)
	if _, err := New(cfg, zap.NewNop()).Run(); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	profile, err := store.NewWriter(cfg.OutputDir).Read("profile")
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	ic50s, _ := profile.Column("IC50")
	for _, value := range ic50s {
		if value == "2e60" {
			t.Fatalf("runaway IC50 was not capped")
		}
	}
	found := false
	for _, value := range ic50s {
		if value == "1e+54" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected capped IC50 value, got %v", ic50s)
	}
}

func TestRunAttachesCompoundUIDsFromReferenceFile(t *testing.T) {
	cfg := fixtureConfig(t)
	metaPath := filepath.Join(t.TempDir(), "compound_meta.csv")
	meta := "unique.drugid,PharmacoDB.uid\nd1,PDB1\n"
	if err := os.WriteFile(metaPath, []byte(meta), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	cfg.CompoundMetaFile = metaPath

	if _, err := New(cfg, zap.NewNop()).Run(); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	compound, err := store.NewWriter(cfg.OutputDir).Read("compound")
	if err != nil {
		t.Fatalf("read compound: %v", err)
	}
	uids, _ := compound.Column("compound_uid")
	if !reflect.DeepEqual(uids, []string{"PDB1", ""}) {
		t.Fatalf("unexpected compound uids: %v", uids)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := fixtureConfig(t)
	if _, err := New(cfg, zap.NewNop()).Run(); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	first := readOutputs(t, cfg.OutputDir)

	if _, err := New(cfg, zap.NewNop()).Run(); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	second := readOutputs(t, cfg.OutputDir)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two runs over the same inputs produced different outputs")
	}
}

func readOutputs(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	outputs := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		outputs[entry.Name()] = data
	}
	return outputs
}

func TestRunFailsOnMissingMandatoryTable(t *testing.T) {
	cfg := config.Default()
	cfg.ProcDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	// One dataset with only a tissue file; the dataset table is missing.
	dir := filepath.Join(cfg.ProcDir, "DS1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "DS1_tissue.csv"), []byte("name\nlung\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := New(cfg, zap.NewNop()).Run()
	if err == nil {
		t.Fatalf("expected run to fail")
	}
	stageErr, ok := err.(*StageError)
	if !ok {
		t.Fatalf("expected StageError, got %T", err)
	}
	if stageErr.Stage != "primary_tables" {
		t.Fatalf("unexpected failing stage %q", stageErr.Stage)
	}
}
