package trials

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/bhklab/pharmacodi/internal/table"
)

// BuildTables derives clinical_trial and compound_trial from fetched studies.
// Trials are deduplicated by NCT number and assigned dense ids in NCT order;
// compound names map to ids through the compound synonym table.
func BuildTables(studies []Study, synonyms *table.Table) (clinicalTrial, compoundTrial *table.Table, err error) {
	for _, column := range []string{"compound_id", "compound_name"} {
		if !synonyms.HasColumn(column) {
			return nil, nil, fmt.Errorf("synonym table is missing column %q", column)
		}
	}
	synNames, _ := synonyms.Column("compound_name")
	synIDs, _ := synonyms.Column("compound_id")
	compoundByName := make(map[string]string, len(synNames))
	for i, name := range synNames {
		if _, ok := compoundByName[name]; !ok {
			compoundByName[name] = synIDs[i]
		}
	}

	byNCT := make(map[string]Study)
	var ncts []string
	for _, s := range studies {
		if s.NCT == "" {
			continue
		}
		if _, ok := byNCT[s.NCT]; !ok {
			byNCT[s.NCT] = s
			ncts = append(ncts, s.NCT)
		}
	}
	sort.Strings(ncts)

	trialID := make(map[string]string, len(ncts))
	clinicalTrial = table.New("id", "nct", "link", "status")
	for i, nct := range ncts {
		id := strconv.Itoa(i + 1)
		trialID[nct] = id
		s := byNCT[nct]
		clinicalTrial.Append(id, nct, s.Link, s.Status)
	}

	type pair struct{ trialID, compoundID string }
	seen := make(map[pair]bool)
	var pairs []pair
	for _, s := range studies {
		id, ok := trialID[s.NCT]
		if !ok {
			continue
		}
		compoundID, ok := compoundByName[s.Compound]
		if !ok || compoundID == "" {
			continue
		}
		pr := pair{trialID: id, compoundID: compoundID}
		if !seen[pr] {
			seen[pr] = true
			pairs = append(pairs, pr)
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].trialID != pairs[b].trialID {
			return pairs[a].trialID < pairs[b].trialID
		}
		return pairs[a].compoundID < pairs[b].compoundID
	})
	compoundTrial = table.New("clinical_trial_id", "compound_id")
	for _, pr := range pairs {
		compoundTrial.Append(pr.trialID, pr.compoundID)
	}
	return clinicalTrial, compoundTrial, nil
}
