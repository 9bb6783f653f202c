package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS screen_evidence (
	run_id           TEXT NOT NULL,
	mag_id           TEXT NOT NULL,
	metabolism       TEXT NOT NULL,
	total_steps      INTEGER NOT NULL,
	covered_steps    INTEGER NOT NULL,
	required_steps   INTEGER NOT NULL,
	step_coverage    REAL NOT NULL,
	total_genes      INTEGER NOT NULL,
	present_genes    INTEGER NOT NULL,
	gene_presence    REAL NOT NULL,
	is_candidate     INTEGER NOT NULL,
	covered_step_ids TEXT NOT NULL,
	matched_kos      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS domain_genes (
	run_id           TEXT NOT NULL,
	metabolism       TEXT NOT NULL,
	mag_id           TEXT NOT NULL,
	step             TEXT NOT NULL,
	kegg_ko          TEXT NOT NULL,
	query            TEXT NOT NULL,
	protein_length   INTEGER NOT NULL,
	best_domain_name TEXT NOT NULL,
	best_domain_acc  TEXT NOT NULL,
	best_i_evalue    REAL,
	best_hmm_cov     REAL,
	best_query_cov   REAL,
	label            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS domain_mags (
	run_id                  TEXT NOT NULL,
	metabolism              TEXT NOT NULL,
	mag_id                  TEXT NOT NULL,
	n_queries               INTEGER NOT NULL,
	n_pass                  INTEGER NOT NULL,
	n_hold                  INTEGER NOT NULL,
	n_fail                  INTEGER NOT NULL,
	n_no_domain             INTEGER NOT NULL,
	steps_total             INTEGER NOT NULL,
	steps_with_pass         INTEGER NOT NULL,
	steps_with_hold_or_pass INTEGER NOT NULL,
	label                   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS homology (
	run_id         TEXT NOT NULL,
	metabolism     TEXT NOT NULL,
	mag_id         TEXT NOT NULL,
	query          TEXT NOT NULL,
	domain_label   TEXT NOT NULL,
	protein_length INTEGER NOT NULL,
	steps          TEXT NOT NULL,
	kos            TEXT NOT NULL,
	best_sseqid    TEXT NOT NULL,
	best_pident    REAL,
	best_qcovs     REAL,
	best_evalue    REAL,
	best_bitscore  REAL,
	best_stitle    TEXT NOT NULL,
	quality        TEXT NOT NULL
);
`

const (
	RunRunning  = "running"
	RunComplete = "completed"
	RunFailed   = "failed"
)

type Run struct {
	ID         string     `json:"run_id"`
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type ScreenRecord struct {
	MAG            string  `json:"mag_id"`
	Metabolism     string  `json:"metabolism"`
	TotalSteps     int     `json:"total_steps"`
	CoveredSteps   int     `json:"covered_steps"`
	RequiredSteps  int     `json:"required_steps"`
	StepCoverage   float64 `json:"step_coverage_fraction"`
	TotalGenes     int     `json:"total_required_genes"`
	PresentGenes   int     `json:"present_required_genes"`
	GenePresence   float64 `json:"gene_presence_fraction"`
	Candidate      bool    `json:"is_candidate"`
	CoveredStepIDs string  `json:"covered_step_ids"`
	MatchedKOs     string  `json:"matched_kos"`
}

type DomainGeneRecord struct {
	Metabolism     string   `json:"metabolism"`
	MAG            string   `json:"mag_id"`
	Step           string   `json:"step"`
	KO             string   `json:"kegg_ko"`
	Query          string   `json:"query"`
	ProteinLength  int      `json:"protein_length_aa"`
	BestDomainName string   `json:"best_domain_name"`
	BestDomainAcc  string   `json:"best_domain_acc"`
	BestIEvalue    *float64 `json:"best_i_evalue"`
	BestHMMCov     *float64 `json:"best_hmm_cov"`
	BestQueryCov   *float64 `json:"best_query_cov"`
	Label          string   `json:"label"`
}

type DomainMAGRecord struct {
	Metabolism          string `json:"metabolism"`
	MAG                 string `json:"mag_id"`
	NQueries            int    `json:"n_queries"`
	NPass               int    `json:"n_pass"`
	NHold               int    `json:"n_hold"`
	NFail               int    `json:"n_fail"`
	NNoDomain           int    `json:"n_no_domain"`
	StepsTotal          int    `json:"steps_total"`
	StepsWithPass       int    `json:"steps_with_pass"`
	StepsWithHoldOrPass int    `json:"steps_with_hold_or_pass"`
	Label               string `json:"step_validation_label"`
}

type HomologyRecord struct {
	Metabolism    string   `json:"metabolism"`
	MAG           string   `json:"mag_id"`
	Query         string   `json:"query"`
	DomainLabel   string   `json:"label"`
	ProteinLength int      `json:"protein_length_aa"`
	Steps         string   `json:"steps"`
	KOs           string   `json:"kos"`
	BestSseqid    string   `json:"best_hit_sseqid"`
	BestPident    *float64 `json:"best_hit_pident"`
	BestQcovs     *float64 `json:"best_hit_qcovs"`
	BestEvalue    *float64 `json:"best_hit_evalue"`
	BestBitscore  *float64 `json:"best_hit_bitscore"`
	BestStitle    string   `json:"best_hit_stitle"`
	Quality       string   `json:"hit_quality_label"`
}

// ResultsDB records pipeline runs and the rows each stage produced.
type ResultsDB struct {
	resultsSQL *sql.DB
}

// OpenResults opens (creating if needed) the sqlite store at path.
func OpenResults(path string) (*ResultsDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db %s: %w", path, err)
	}
	// One writer at a time keeps sqlite from returning SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	rdb, err := NewResultsDB(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("Results store ready", zap.String("path", path))
	return rdb, nil
}

// NewResultsDB wraps an open connection and creates missing tables.
func NewResultsDB(conn *sql.DB) (*ResultsDB, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create results schema: %w", err)
	}
	return &ResultsDB{resultsSQL: conn}, nil
}

func (r *ResultsDB) Close() error {
	return r.resultsSQL.Close()
}

// BeginRun registers a new run of stage and returns it.
func (r *ResultsDB) BeginRun(ctx context.Context, stage string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := r.resultsSQL.ExecContext(ctx,
		`INSERT INTO runs (run_id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Stage, run.Status, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run completed, or failed when runErr is not nil.
func (r *ResultsDB) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := RunComplete, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	_, err := r.resultsSQL.ExecContext(ctx,
		`UPDATE runs SET status = ?, message = ?, finished_at = ? WHERE run_id = ?`,
		status, msg, time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Runs lists the most recent runs first.
func (r *ResultsDB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.resultsSQL.QueryContext(ctx,
		`SELECT run_id, stage, status, message, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run      Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Stage, &run.Status, &run.Message, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finished.String)
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// insertAll runs stmt once per row inside a single transaction.
func (r *ResultsDB) insertAll(ctx context.Context, stmt string, n int, args func(i int) []any) error {
	tx, err := r.resultsSQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail to begin tx %w", err)
	}
	defer tx.Rollback()

	prep, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer prep.Close()

	for i := 0; i < n; i++ {
		if _, err := prep.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (r *ResultsDB) SaveScreen(ctx context.Context, runID string, recs []ScreenRecord) error {
	const stmt = `INSERT INTO screen_evidence (run_id, mag_id, metabolism, total_steps, covered_steps,
		required_steps, step_coverage, total_genes, present_genes, gene_presence, is_candidate,
		covered_step_ids, matched_kos) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return r.insertAll(ctx, stmt, len(recs), func(i int) []any {
		e := recs[i]
		return []any{runID, e.MAG, e.Metabolism, e.TotalSteps, e.CoveredSteps, e.RequiredSteps,
			e.StepCoverage, e.TotalGenes, e.PresentGenes, e.GenePresence, e.Candidate,
			e.CoveredStepIDs, e.MatchedKOs}
	})
}

func (r *ResultsDB) SaveDomainGenes(ctx context.Context, runID string, recs []DomainGeneRecord) error {
	const stmt = `INSERT INTO domain_genes (run_id, metabolism, mag_id, step, kegg_ko, query,
		protein_length, best_domain_name, best_domain_acc, best_i_evalue, best_hmm_cov,
		best_query_cov, label) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return r.insertAll(ctx, stmt, len(recs), func(i int) []any {
		g := recs[i]
		return []any{runID, g.Metabolism, g.MAG, g.Step, g.KO, g.Query, g.ProteinLength,
			g.BestDomainName, g.BestDomainAcc, g.BestIEvalue, g.BestHMMCov, g.BestQueryCov, g.Label}
	})
}

func (r *ResultsDB) SaveDomainMAGs(ctx context.Context, runID string, recs []DomainMAGRecord) error {
	const stmt = `INSERT INTO domain_mags (run_id, metabolism, mag_id, n_queries, n_pass, n_hold,
		n_fail, n_no_domain, steps_total, steps_with_pass, steps_with_hold_or_pass, label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return r.insertAll(ctx, stmt, len(recs), func(i int) []any {
		m := recs[i]
		return []any{runID, m.Metabolism, m.MAG, m.NQueries, m.NPass, m.NHold, m.NFail,
			m.NNoDomain, m.StepsTotal, m.StepsWithPass, m.StepsWithHoldOrPass, m.Label}
	})
}

func (r *ResultsDB) SaveHomology(ctx context.Context, runID string, recs []HomologyRecord) error {
	const stmt = `INSERT INTO homology (run_id, metabolism, mag_id, query, domain_label,
		protein_length, steps, kos, best_sseqid, best_pident, best_qcovs, best_evalue,
		best_bitscore, best_stitle, quality) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return r.insertAll(ctx, stmt, len(recs), func(i int) []any {
		h := recs[i]
		return []any{runID, h.Metabolism, h.MAG, h.Query, h.DomainLabel, h.ProteinLength,
			h.Steps, h.KOs, h.BestSseqid, h.BestPident, h.BestQcovs, h.BestEvalue,
			h.BestBitscore, h.BestStitle, h.Quality}
	})
}
