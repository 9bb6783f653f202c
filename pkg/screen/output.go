package screen

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/tabular"
)

const SummaryFile = "mag_step_coverage_summary.tsv"

// SummaryRow is one line of the coverage summary. Fractions are kept as
// pre-formatted strings so repeated runs write identical bytes.
type SummaryRow struct {
	MAG                  string `csv:"MAG_ID"`
	Metabolism           string `csv:"metabolism"`
	TotalSteps           int    `csv:"total_steps"`
	CoveredSteps         int    `csv:"covered_steps"`
	RequiredSteps        int    `csv:"required_steps"`
	StepCoverageFraction string `csv:"step_coverage_fraction"`
	TotalRequiredGenes   int    `csv:"total_required_genes"`
	PresentRequiredGenes int    `csv:"present_required_genes"`
	GenePresenceFraction string `csv:"gene_presence_fraction"`
	IsCandidate          int    `csv:"is_candidate"`
	CoveredStepIDs       string `csv:"covered_step_ids"`
	MatchedKOs           string `csv:"matched_kos"`
}

func (ev Evidence) Row() SummaryRow {
	row := SummaryRow{
		MAG:                  ev.MAG,
		Metabolism:           ev.Metabolism,
		TotalSteps:           ev.TotalSteps,
		CoveredSteps:         ev.CoveredSteps,
		RequiredSteps:        ev.RequiredSteps,
		StepCoverageFraction: fmt.Sprintf("%.4f", ev.StepCoverage),
		TotalRequiredGenes:   ev.TotalGenes,
		PresentRequiredGenes: ev.PresentGenes,
		GenePresenceFraction: fmt.Sprintf("%.4f", ev.GenePresence),
		CoveredStepIDs:       strings.Join(ev.CoveredStepIDs, ","),
		MatchedKOs:           strings.Join(ev.MatchedKOs, ","),
	}
	if ev.Candidate {
		row.IsCandidate = 1
	}
	return row
}

// Record converts the evidence for the results store.
func (ev Evidence) Record() db.ScreenRecord {
	return db.ScreenRecord{
		MAG:            ev.MAG,
		Metabolism:     ev.Metabolism,
		TotalSteps:     ev.TotalSteps,
		CoveredSteps:   ev.CoveredSteps,
		RequiredSteps:  ev.RequiredSteps,
		StepCoverage:   ev.StepCoverage,
		TotalGenes:     ev.TotalGenes,
		PresentGenes:   ev.PresentGenes,
		GenePresence:   ev.GenePresence,
		Candidate:      ev.Candidate,
		CoveredStepIDs: strings.Join(ev.CoveredStepIDs, ","),
		MatchedKOs:     strings.Join(ev.MatchedKOs, ","),
	}
}

// WriteSummary writes the coverage summary TSV.
func WriteSummary(path string, evs []Evidence) error {
	rows := make([]SummaryRow, 0, len(evs))
	for _, ev := range evs {
		rows = append(rows, ev.Row())
	}
	return tabular.WriteTable(path, tabular.TSV, rows)
}

// ReadSummary loads a coverage summary written by WriteSummary.
func ReadSummary(path string) ([]SummaryRow, error) {
	var rows []SummaryRow
	if err := tabular.ReadTable(path, tabular.TSV, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteOutputs writes the summary and one candidate list per metabolism into dir.
func WriteOutputs(dir string, evs []Evidence, names []string) error {
	if err := WriteSummary(filepath.Join(dir, SummaryFile), evs); err != nil {
		return err
	}
	for name, mags := range Candidates(evs, names) {
		if err := tabular.WriteCandidates(filepath.Join(dir, tabular.CandidateFileName(name)), mags); err != nil {
			return err
		}
	}
	return nil
}
