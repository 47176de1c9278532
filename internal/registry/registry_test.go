package registry

import (
	"errors"
	"testing"

	"github.com/bhklab/pharmacodi/internal/table"
)

func primaryTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New("id", "name")
	tbl.Append("1", "lung")
	tbl.Append("2", "liver")
	return tbl
}

func TestBuildAndLookup(t *testing.T) {
	reg, err := Build(primaryTable(t), "name", "tissue_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if reg.FKColumn() != "tissue_id" {
		t.Fatalf("unexpected fk column %q", reg.FKColumn())
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", reg.Len())
	}
	id, ok := reg.Lookup("liver")
	if !ok || id != "2" {
		t.Fatalf("lookup liver = (%q, %v)", id, ok)
	}
	if _, ok := reg.Lookup("kidney"); ok {
		t.Fatalf("unexpected match for unknown key")
	}
}

func TestBuildRejectsDuplicateKeys(t *testing.T) {
	tbl := table.New("id", "name")
	tbl.Append("1", "lung")
	tbl.Append("2", "lung")

	_, err := Build(tbl, "name", "tissue_id")
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if dup.Value != "lung" {
		t.Fatalf("unexpected duplicate value %q", dup.Value)
	}
}

func TestBuildRequiresIDAndKeyColumns(t *testing.T) {
	tbl := table.New("name")
	tbl.Append("lung")
	if _, err := Build(tbl, "name", "tissue_id"); err == nil {
		t.Fatalf("expected error for missing id column")
	}

	if _, err := Build(primaryTable(t), "missing", "tissue_id"); err == nil {
		t.Fatalf("expected error for missing key column")
	}
}

func TestBuildCompositeKeysJointly(t *testing.T) {
	tbl := table.New("id", "dataset_id", "name")
	tbl.Append("1", "1", "exp1")
	tbl.Append("2", "2", "exp1")

	reg, err := BuildComposite(tbl, []string{"dataset_id", "name"}, "experiment_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	id, ok := reg.Lookup("2", "exp1")
	if !ok || id != "2" {
		t.Fatalf("composite lookup = (%q, %v)", id, ok)
	}
	// The same name under a different dataset is a distinct key.
	if _, ok := reg.Lookup("3", "exp1"); ok {
		t.Fatalf("unexpected match for unknown dataset")
	}
}

func TestNormalizedCollapsesDeterministically(t *testing.T) {
	tbl := table.New("id", "name")
	tbl.Append("1", "ENSG001.1")
	tbl.Append("2", "ENSG001.2")
	reg, err := Build(tbl, "name", "gene_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	strip := func(s string) string { return s[:7] }
	first := reg.Normalized(strip)
	for i := 0; i < 10; i++ {
		again := reg.Normalized(strip)
		id1, _ := first.Lookup("ENSG001")
		id2, _ := again.Lookup("ENSG001")
		if id1 != id2 {
			t.Fatalf("normalized registry is not deterministic: %q vs %q", id1, id2)
		}
	}
}

func TestMapRejectsReRegistration(t *testing.T) {
	reg, err := Build(primaryTable(t), "name", "tissue_id")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	m := NewMap()
	if err := m.Register("tissue", reg); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	if err := m.Register("tissue", reg); err == nil {
		t.Fatalf("expected error on re-registration")
	}
	got, ok := m.Get("tissue")
	if !ok || got != reg {
		t.Fatalf("get returned (%v, %v)", got, ok)
	}
}
