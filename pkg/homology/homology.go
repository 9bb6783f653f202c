// Package homology gives the genes that domain validation could not confirm a
// second chance, by searching them against a reference protein database.
package homology

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/biogo/biogo/seq/linear"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/internal/util"
	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/tabular"
	"github.com/yumyai/magscreen/pkg/tool"
	"github.com/yumyai/magscreen/pkg/validate"
)

const (
	QueriesFile = "queries_hold_fail.faa"
	MissingFile = "missing_queries.tsv"
	HitsFile    = "blastp_hits.tsv"
	SummaryFile = "blastp_hold_fail_summary.tsv"
)

// Hit quality labels.
const (
	QualityGood  = "GOOD"
	QualityWeak  = "WEAK"
	QualityNoHit = "NO_HIT"
)

// Searcher runs a protein homology search, leaving its tabular output at
// outPath. *tool.Blastp is the production implementation.
type Searcher interface {
	Search(ctx context.Context, queryFasta, outPath string) ([]tool.BlastHit, error)
}

// tolerance absorbs the float error of e.g. 0.7*100.
const tolerance = 1e-9

// Criteria are inclusive lower bounds on the best hit. MinQcov is a fraction;
// BLAST reports qcovs as a percentage.
type Criteria struct {
	MinQcov   float64
	MinPident float64
}

// Classify labels a query from its best hit, nil meaning no hit at all.
func Classify(best *tool.BlastHit, c Criteria) string {
	if best == nil {
		return QualityNoHit
	}
	if best.Qcovs >= c.MinQcov*100-tolerance && best.Pident >= c.MinPident-tolerance {
		return QualityGood
	}
	return QualityWeak
}

// BestHit picks the lowest e-value, then the highest bit score. The first of
// equal hits wins.
func BestHit(hits []tool.BlastHit) (tool.BlastHit, bool) {
	if len(hits) == 0 {
		return tool.BlastHit{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Evalue < best.Evalue || (h.Evalue == best.Evalue && h.Bitscore > best.Bitscore) {
			best = h
		}
	}
	return best, true
}

type MissingRow struct {
	MAG   string `csv:"MAG_ID"`
	Query string `csv:"query"`
}

// Arbiter searches the HOLD and FAIL genes of a validation run.
type Arbiter struct {
	Config   *config.Config
	Proteins *db.ProteinDB
	Searcher Searcher

	// GeneTable defaults to the gene-level validation table in the work directory.
	GeneTable string
}

func (a *Arbiter) geneTable() string {
	if a.GeneTable != "" {
		return a.GeneTable
	}
	return filepath.Join(a.Config.WorkDir, validate.GeneLevelFile)
}

func (a *Arbiter) criteria() Criteria {
	return Criteria{MinQcov: a.Config.Blastp.MinQcov, MinPident: a.Config.Blastp.MinPident}
}

// Run writes the query FASTA, searches it unless earlier hits can be reused,
// and writes one summary row per query.
func (a *Arbiter) Run(ctx context.Context) ([]Summary, error) {
	queries, err := ReadQueries(a.geneTable())
	if err != nil {
		return nil, err
	}
	logger.Info("HOLD/FAIL queries", zap.Int("queries", len(queries)))
	if len(queries) == 0 {
		logger.Warn("No HOLD or FAIL genes to search")
	}

	dir := a.Config.HomologyDir
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}

	fastaPath := filepath.Join(dir, QueriesFile)
	found := -1
	if a.Config.Overwrite || !util.FileExists(fastaPath) {
		n, missing, err := a.WriteQueries(queries, fastaPath, filepath.Join(dir, MissingFile))
		if err != nil {
			return nil, err
		}
		found = n
		logger.Info("Wrote query sequences", zap.Int("found", n), zap.Int("missing", missing))
	}

	hits, err := a.search(ctx, fastaPath, filepath.Join(dir, HitsFile), found)
	if err != nil {
		return nil, err
	}

	byQuery := make(map[string][]tool.BlastHit)
	for _, h := range hits {
		byQuery[h.Qseqid] = append(byQuery[h.Qseqid], h)
	}

	c := a.criteria()
	out := make([]Summary, 0, len(queries))
	counts := map[string]int{}
	for _, q := range queries {
		s := Summary{Query: q}
		if best, ok := BestHit(byQuery[q.ID()]); ok {
			s.Best = &best
		}
		s.Quality = Classify(s.Best, c)
		counts[s.Quality]++
		out = append(out, s)
	}

	if err := WriteSummary(filepath.Join(dir, SummaryFile), out); err != nil {
		return nil, err
	}
	logger.Info("Homology summary",
		zap.Int("good", counts[QualityGood]),
		zap.Int("weak", counts[QualityWeak]),
		zap.Int("no_hit", counts[QualityNoHit]),
	)
	return out, nil
}

// WriteQueries writes every query that has a sequence to fastaPath and the
// rest to missingPath. It returns how many were written and how many were
// missing.
func (a *Arbiter) WriteQueries(queries []*Query, fastaPath, missingPath string) (int, int, error) {
	var (
		seqs    []*linear.Seq
		missing []MissingRow
	)
	for _, q := range queries {
		all, err := a.Proteins.Load(q.MAG)
		if errors.Is(err, db.ErrNoSequence) {
			missing = append(missing, MissingRow{MAG: q.MAG, Query: q.Query})
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		s, ok := all[q.Query]
		if !ok || s.Len() == 0 {
			missing = append(missing, MissingRow{MAG: q.MAG, Query: q.Query})
			continue
		}
		seqs = append(seqs, db.Renamed(s, q.ID()))
	}

	if err := db.WriteFasta(fastaPath, seqs); err != nil {
		return 0, 0, err
	}
	if err := tabular.WriteTable(missingPath, tabular.TSV, missing); err != nil {
		return 0, 0, err
	}
	return len(seqs), len(missing), nil
}

// search reuses earlier hits unless overwrite is set. found is the number of
// sequences just written, or -1 when the FASTA was reused.
func (a *Arbiter) search(ctx context.Context, fastaPath, out string, found int) ([]tool.BlastHit, error) {
	if !a.Config.Overwrite && util.FileExists(out) {
		logger.Debug("Reusing search hits", zap.String("path", out))
		return tool.ParseBlastTabFile(out)
	}
	if found == 0 {
		logger.Warn("No query sequences, skipping search")
		return nil, nil
	}
	hits, err := a.Searcher.Search(ctx, fastaPath, out)
	if err != nil {
		return nil, fmt.Errorf("homology search: %w", err)
	}
	return hits, nil
}

// Summary is the search outcome of one query.
type Summary struct {
	*Query
	Best    *tool.BlastHit
	Quality string
}

type SummaryRow struct {
	Metabolism    string `csv:"metabolism"`
	MAG           string `csv:"MAG_ID"`
	Query         string `csv:"query"`
	Label         string `csv:"label"`
	ProteinLength string `csv:"protein_length_aa"`
	Steps         string `csv:"steps"`
	KOs           string `csv:"KOs"`
	Sseqid        string `csv:"best_hit_sseqid"`
	Pident        string `csv:"best_hit_pident"`
	Qcovs         string `csv:"best_hit_qcovs"`
	Length        string `csv:"best_hit_length"`
	Evalue        string `csv:"best_hit_evalue"`
	Bitscore      string `csv:"best_hit_bitscore"`
	Stitle        string `csv:"best_hit_stitle"`
	Quality       string `csv:"hit_quality_label"`
}

func (s Summary) Row() SummaryRow {
	row := SummaryRow{
		Metabolism:    s.Metabolism,
		MAG:           s.MAG,
		Query:         s.Query.Query,
		Label:         s.Label,
		ProteinLength: s.ProteinLength,
		Steps:         strings.Join(s.Steps.Sorted(), ";"),
		KOs:           strings.Join(s.KOs.Sorted(), ";"),
		Quality:       s.Quality,
	}
	if b := s.Best; b != nil {
		row.Sseqid = b.Sseqid
		row.Pident = fmt.Sprintf("%.2f", b.Pident)
		row.Qcovs = fmt.Sprintf("%.2f", b.Qcovs)
		row.Length = strconv.Itoa(b.Length)
		row.Evalue = fmt.Sprintf("%.2e", b.Evalue)
		row.Bitscore = fmt.Sprintf("%.2f", b.Bitscore)
		row.Stitle = b.Stitle
	}
	return row
}

func (s Summary) Record() db.HomologyRecord {
	rec := db.HomologyRecord{
		Metabolism:  s.Metabolism,
		MAG:         s.MAG,
		Query:       s.Query.Query,
		DomainLabel: s.Label,
		Steps:       strings.Join(s.Steps.Sorted(), ";"),
		KOs:         strings.Join(s.KOs.Sorted(), ";"),
		Quality:     s.Quality,
	}
	rec.ProteinLength, _ = strconv.Atoi(s.ProteinLength)
	if b := s.Best; b != nil {
		pident, qcovs, evalue, bits := b.Pident, b.Qcovs, b.Evalue, b.Bitscore
		rec.BestSseqid = b.Sseqid
		rec.BestStitle = b.Stitle
		rec.BestPident, rec.BestQcovs, rec.BestEvalue, rec.BestBitscore = &pident, &qcovs, &evalue, &bits
	}
	return rec
}

// WriteSummary writes rows in the given order.
func WriteSummary(path string, sums []Summary) error {
	rows := make([]SummaryRow, len(sums))
	for i, s := range sums {
		rows[i] = s.Row()
	}
	return tabular.WriteTable(path, tabular.TSV, rows)
}

// Records converts summaries for the results store.
func Records(sums []Summary) []db.HomologyRecord {
	out := make([]db.HomologyRecord, len(sums))
	for i, s := range sums {
		out[i] = s.Record()
	}
	return out
}
