package join

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bhklab/pharmacodi/internal/registry"
	"github.com/bhklab/pharmacodi/internal/table"
)

func tissueRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	primary := table.New("id", "name")
	primary.Append("1", "lung")
	primary.Append("2", "liver")
	reg, err := registry.Build(primary, "name", "tissue_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	return reg
}

func TestResolveDropsUnmatchedRows(t *testing.T) {
	tbl := table.New("tissue_id")
	tbl.Append("lung")
	tbl.Append("kidney")

	resolved, report, err := Resolve(tbl, tissueRegistry(t), "tissue_id", Options{DropUnmatched: true})
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if resolved.NumRows() != 1 {
		t.Fatalf("expected 1 row, got %d", resolved.NumRows())
	}
	if got := resolved.Row(0); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("unexpected resolved row: %v", got)
	}
	if !reflect.DeepEqual(report.Keys, []string{"kidney"}) {
		t.Fatalf("unexpected unmatched keys: %v", report.Keys)
	}
	if report.DroppedRows != 1 {
		t.Fatalf("expected 1 dropped row, got %d", report.DroppedRows)
	}
}

func TestResolveKeepsUnmatchedRowsWithSentinel(t *testing.T) {
	tbl := table.New("name", "tissue_id")
	tbl.Append("A", "lung")
	tbl.Append("B", "kidney")

	resolved, report, err := Resolve(tbl, tissueRegistry(t), "tissue_id", Options{})
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if resolved.NumRows() != 2 {
		t.Fatalf("expected both rows kept, got %d", resolved.NumRows())
	}
	if got := resolved.Row(1); !reflect.DeepEqual(got, []string{"B", ""}) {
		t.Fatalf("expected empty sentinel in fk column: %v", got)
	}
	if !reflect.DeepEqual(report.Keys, []string{"kidney"}) {
		t.Fatalf("unexpected unmatched keys: %v", report.Keys)
	}
	if report.DroppedRows != 0 {
		t.Fatalf("expected no dropped rows, got %d", report.DroppedRows)
	}
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	tbl := table.New("tissue_id")
	tbl.Append("lung")

	if _, _, err := Resolve(tbl, tissueRegistry(t), "tissue_id", Options{}); err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if got, _ := tbl.Column("tissue_id"); got[0] != "lung" {
		t.Fatalf("input table was mutated: %v", got)
	}
}

func TestResolveVersionFallback(t *testing.T) {
	primary := table.New("id", "name")
	primary.Append("1", "ENSG001")
	reg, err := registry.Build(primary, "name", "gene_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	tbl := table.New("gene_id")
	tbl.Append("ENSG001.2")
	tbl.Append("ENSG999.4")

	resolved, report, err := Resolve(tbl, reg, "gene_id", Options{DropUnmatched: true, Normalize: StripGeneVersion})
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if resolved.NumRows() != 1 {
		t.Fatalf("expected versioned key to resolve, got %d rows", resolved.NumRows())
	}
	if got := resolved.Row(0); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("unexpected resolved row: %v", got)
	}
	if !reflect.DeepEqual(report.Keys, []string{"ENSG999.4"}) {
		t.Fatalf("key unmatched under both forms must be reported: %v", report.Keys)
	}
}

func TestResolveCompositeReplacesOneColumn(t *testing.T) {
	primary := table.New("id", "dataset_id", "name")
	primary.Append("7", "1", "exp1")
	reg, err := registry.BuildComposite(primary, []string{"dataset_id", "name"}, "experiment_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	tbl := table.New("dataset_id", "experiment_id", "dose")
	tbl.Append("1", "exp1", "0.5")
	tbl.Append("2", "exp1", "0.7")

	resolved, report, err := ResolveComposite(tbl, reg, []string{"dataset_id", "experiment_id"}, "experiment_id", Options{DropUnmatched: true})
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if resolved.NumRows() != 1 {
		t.Fatalf("expected 1 row, got %d", resolved.NumRows())
	}
	if got := resolved.Row(0); !reflect.DeepEqual(got, []string{"1", "7", "0.5"}) {
		t.Fatalf("unexpected resolved row: %v", got)
	}
	if !reflect.DeepEqual(report.Keys, []string{"exp1"}) {
		t.Fatalf("unexpected unmatched keys: %v", report.Keys)
	}
}

func TestResolveSchemaMismatch(t *testing.T) {
	tbl := table.New("name")
	tbl.Append("A")

	_, _, err := Resolve(tbl, tissueRegistry(t), "tissue_id", Options{})
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
}

func TestStripGeneVersion(t *testing.T) {
	cases := map[string]string{
		"ENSG00000000001.14": "ENSG00000000001",
		"ENSG00000000001":    "ENSG00000000001",
		"ENSG001.2a":         "ENSG001.2a",
		"trailing.":          "trailing.",
		"":                   "",
	}
	for in, want := range cases {
		if got := StripGeneVersion(in); got != want {
			t.Fatalf("StripGeneVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTissueName(t *testing.T) {
	cases := map[string]string{
		"Lymphoid Tissue":  "lymphoidtissue",
		"lymphoid_tissue":  "lymphoidtissue",
		"Myeloid; Tissue2": "myeloidtissue2",
	}
	for in, want := range cases {
		if got := NormalizeTissueName(in); got != want {
			t.Fatalf("NormalizeTissueName(%q) = %q, want %q", in, got, want)
		}
	}
}
