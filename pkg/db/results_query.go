package db

import (
	"context"
	"fmt"
	"strings"
)

// Filters select rows of one run. An empty RunID means the latest run that
// wrote to the table.
type ScreenFilter struct {
	RunID      string
	Metabolism string
	Candidate  *bool
}

type DomainFilter struct {
	RunID      string
	Metabolism string
	Label      string
}

type HomologyFilter struct {
	RunID      string
	Metabolism string
	Label      string
}

// where builds "run_id = <requested or latest> AND col = ?..." for table.
type where struct {
	clauses []string
	args    []any
}

func newWhere(table, runID string) *where {
	return &where{
		clauses: []string{fmt.Sprintf(
			"run_id = COALESCE(NULLIF(?, ''), (SELECT run_id FROM %s ORDER BY rowid DESC LIMIT 1))", table)},
		args: []any{runID},
	}
}

func (w *where) eq(col string, val any) {
	w.clauses = append(w.clauses, col+" = ?")
	w.args = append(w.args, val)
}

func (w *where) String() string {
	return strings.Join(w.clauses, " AND ")
}

func (r *ResultsDB) Screen(ctx context.Context, f ScreenFilter) ([]ScreenRecord, error) {
	w := newWhere("screen_evidence", f.RunID)
	if f.Metabolism != "" {
		w.eq("metabolism", strings.ToLower(f.Metabolism))
	}
	if f.Candidate != nil {
		w.eq("is_candidate", *f.Candidate)
	}

	rows, err := r.resultsSQL.QueryContext(ctx, `SELECT mag_id, metabolism, total_steps, covered_steps,
		required_steps, step_coverage, total_genes, present_genes, gene_presence, is_candidate,
		covered_step_ids, matched_kos FROM screen_evidence WHERE `+w.String()+` ORDER BY mag_id, metabolism`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("query screen evidence: %w", err)
	}
	defer rows.Close()

	out := []ScreenRecord{}
	for rows.Next() {
		var e ScreenRecord
		if err := rows.Scan(&e.MAG, &e.Metabolism, &e.TotalSteps, &e.CoveredSteps, &e.RequiredSteps,
			&e.StepCoverage, &e.TotalGenes, &e.PresentGenes, &e.GenePresence, &e.Candidate,
			&e.CoveredStepIDs, &e.MatchedKOs); err != nil {
			return nil, fmt.Errorf("scan screen evidence: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ResultsDB) DomainGenes(ctx context.Context, f DomainFilter) ([]DomainGeneRecord, error) {
	w := newWhere("domain_genes", f.RunID)
	if f.Metabolism != "" {
		w.eq("metabolism", strings.ToLower(f.Metabolism))
	}
	if f.Label != "" {
		w.eq("label", strings.ToUpper(f.Label))
	}

	rows, err := r.resultsSQL.QueryContext(ctx, `SELECT metabolism, mag_id, step, kegg_ko, query,
		protein_length, best_domain_name, best_domain_acc, best_i_evalue, best_hmm_cov,
		best_query_cov, label FROM domain_genes WHERE `+w.String()+
		` ORDER BY metabolism, mag_id, step, kegg_ko, query`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query domain genes: %w", err)
	}
	defer rows.Close()

	out := []DomainGeneRecord{}
	for rows.Next() {
		var g DomainGeneRecord
		if err := rows.Scan(&g.Metabolism, &g.MAG, &g.Step, &g.KO, &g.Query, &g.ProteinLength,
			&g.BestDomainName, &g.BestDomainAcc, &g.BestIEvalue, &g.BestHMMCov, &g.BestQueryCov,
			&g.Label); err != nil {
			return nil, fmt.Errorf("scan domain gene: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *ResultsDB) DomainMAGs(ctx context.Context, f DomainFilter) ([]DomainMAGRecord, error) {
	w := newWhere("domain_mags", f.RunID)
	if f.Metabolism != "" {
		w.eq("metabolism", strings.ToLower(f.Metabolism))
	}
	if f.Label != "" {
		w.eq("label", strings.ToUpper(f.Label))
	}

	rows, err := r.resultsSQL.QueryContext(ctx, `SELECT metabolism, mag_id, n_queries, n_pass, n_hold,
		n_fail, n_no_domain, steps_total, steps_with_pass, steps_with_hold_or_pass, label
		FROM domain_mags WHERE `+w.String()+` ORDER BY metabolism, mag_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query domain mags: %w", err)
	}
	defer rows.Close()

	out := []DomainMAGRecord{}
	for rows.Next() {
		var m DomainMAGRecord
		if err := rows.Scan(&m.Metabolism, &m.MAG, &m.NQueries, &m.NPass, &m.NHold, &m.NFail,
			&m.NNoDomain, &m.StepsTotal, &m.StepsWithPass, &m.StepsWithHoldOrPass, &m.Label); err != nil {
			return nil, fmt.Errorf("scan domain mag: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ResultsDB) Homology(ctx context.Context, f HomologyFilter) ([]HomologyRecord, error) {
	w := newWhere("homology", f.RunID)
	if f.Metabolism != "" {
		w.eq("metabolism", strings.ToLower(f.Metabolism))
	}
	if f.Label != "" {
		w.eq("quality", strings.ToUpper(f.Label))
	}

	rows, err := r.resultsSQL.QueryContext(ctx, `SELECT metabolism, mag_id, query, domain_label,
		protein_length, steps, kos, best_sseqid, best_pident, best_qcovs, best_evalue,
		best_bitscore, best_stitle, quality FROM homology WHERE `+w.String()+
		` ORDER BY metabolism, mag_id, query`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query homology: %w", err)
	}
	defer rows.Close()

	out := []HomologyRecord{}
	for rows.Next() {
		var h HomologyRecord
		if err := rows.Scan(&h.Metabolism, &h.MAG, &h.Query, &h.DomainLabel, &h.ProteinLength,
			&h.Steps, &h.KOs, &h.BestSseqid, &h.BestPident, &h.BestQcovs, &h.BestEvalue,
			&h.BestBitscore, &h.BestStitle, &h.Quality); err != nil {
			return nil, fmt.Errorf("scan homology: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
