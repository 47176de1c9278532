package trials

import (
	"reflect"
	"testing"

	"github.com/bhklab/pharmacodi/internal/table"
)

func synonymFixture() *table.Table {
	syn := table.New("id", "compound_id", "compound_name", "dataset_id")
	syn.Append("1", "10", "aspirin", "")
	syn.Append("2", "10", "acetylsalicylic acid", "")
	syn.Append("3", "20", "paclitaxel", "")
	return syn
}

func TestBuildTablesDeduplicatesTrialsByNCT(t *testing.T) {
	studies := []Study{
		{NCT: "NCT2", Status: "Completed", Link: "https://example.org/2", Compound: "aspirin"},
		{NCT: "NCT1", Status: "Recruiting", Compound: "aspirin"},
		{NCT: "NCT2", Status: "Completed", Link: "https://example.org/2", Compound: "paclitaxel"},
		{NCT: "", Compound: "aspirin"},
	}

	clinicalTrial, compoundTrial, err := BuildTables(studies, synonymFixture())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	if got := clinicalTrial.Columns(); !reflect.DeepEqual(got, []string{"id", "nct", "link", "status"}) {
		t.Fatalf("unexpected columns: %v", got)
	}
	ncts, _ := clinicalTrial.Column("nct")
	if !reflect.DeepEqual(ncts, []string{"NCT1", "NCT2"}) {
		t.Fatalf("expected deduplicated trials in NCT order: %v", ncts)
	}
	ids, _ := clinicalTrial.Column("id")
	if !reflect.DeepEqual(ids, []string{"1", "2"}) {
		t.Fatalf("ids must be dense from 1: %v", ids)
	}

	// aspirin found NCT1 and NCT2, paclitaxel only NCT2.
	if compoundTrial.NumRows() != 3 {
		t.Fatalf("expected 3 compound/trial pairs, got %d", compoundTrial.NumRows())
	}
	if got := compoundTrial.Row(0); !reflect.DeepEqual(got, []string{"1", "10"}) {
		t.Fatalf("unexpected pair: %v", got)
	}
}

func TestBuildTablesSkipsUnknownCompounds(t *testing.T) {
	studies := []Study{
		{NCT: "NCT1", Compound: "aspirin"},
		{NCT: "NCT2", Compound: "unknown drug"},
	}

	clinicalTrial, compoundTrial, err := BuildTables(studies, synonymFixture())
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	// The trial itself is kept; only the compound link is dropped.
	if clinicalTrial.NumRows() != 2 {
		t.Fatalf("expected both trials kept, got %d", clinicalTrial.NumRows())
	}
	if compoundTrial.NumRows() != 1 {
		t.Fatalf("expected one compound link, got %d", compoundTrial.NumRows())
	}
}

func TestBuildTablesRequiresSynonymColumns(t *testing.T) {
	bad := table.New("compound_id")
	if _, _, err := BuildTables(nil, bad); err == nil {
		t.Fatalf("expected error for malformed synonym table")
	}
}
