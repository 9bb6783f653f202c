package validate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/tabular"
	"github.com/yumyai/magscreen/pkg/tool"
)

const (
	GeneLevelFile = "domain_validation_gene_level.tsv"
	MAGLevelFile  = "domain_validation_mag_level.tsv"
)

// GeneResult is the verdict for one evidence row.
type GeneResult struct {
	Metabolism    string
	MAG           string
	Step          string
	KO            string
	Query         string
	ProteinLength string

	Best     *tool.DomainHit
	QueryLen int // subset FASTA length, 0 when unknown
	Label    string
	// qualifying hits, in domtblout order
	Hits []tool.DomainHit
}

type GeneRow struct {
	Metabolism     string `csv:"metabolism"`
	MAG            string `csv:"MAG_ID"`
	Step           string `csv:"step"`
	KO             string `csv:"KEGG_ko"`
	Query          string `csv:"query"`
	ProteinLength  string `csv:"protein_length_aa"`
	BestDomainName string `csv:"best_domain_name"`
	BestDomainAcc  string `csv:"best_domain_acc"`
	BestIEvalue    string `csv:"best_i_evalue"`
	BestHMMCov     string `csv:"best_hmm_cov"`
	BestQueryCov   string `csv:"best_query_cov"`
	Label          string `csv:"label"`
	AllDomainHits  string `csv:"all_domain_hits"`
}

func (g GeneResult) Row() GeneRow {
	row := GeneRow{
		Metabolism:    g.Metabolism,
		MAG:           g.MAG,
		Step:          g.Step,
		KO:            g.KO,
		Query:         g.Query,
		ProteinLength: g.ProteinLength,
		Label:         g.Label,
	}
	if g.Best != nil {
		row.BestDomainName = g.Best.TargetName
		row.BestDomainAcc = g.Best.TargetAcc
		row.BestIEvalue = fmt.Sprintf("%.2e", g.Best.IEvalue)
		row.BestHMMCov = fmt.Sprintf("%.3f", g.Best.HMMCoverage())
		row.BestQueryCov = fmt.Sprintf("%.3f", g.Best.QueryCoverage(g.QueryLen))
	}

	all := make([]string, 0, len(g.Hits))
	for _, h := range g.Hits {
		all = append(all, fmt.Sprintf("%s|%s|%.2e|%.3f", h.TargetName, h.TargetAcc, h.IEvalue, h.HMMCoverage()))
	}
	row.AllDomainHits = strings.Join(all, ";")
	return row
}

func (g GeneResult) Record() db.DomainGeneRecord {
	rec := db.DomainGeneRecord{
		Metabolism: g.Metabolism,
		MAG:        g.MAG,
		Step:       g.Step,
		KO:         g.KO,
		Query:      g.Query,
		Label:      g.Label,
	}
	rec.ProteinLength, _ = strconv.Atoi(g.ProteinLength)
	if g.Best != nil {
		ie, hc, qc := g.Best.IEvalue, g.Best.HMMCoverage(), g.Best.QueryCoverage(g.QueryLen)
		rec.BestDomainName = g.Best.TargetName
		rec.BestDomainAcc = g.Best.TargetAcc
		rec.BestIEvalue, rec.BestHMMCov, rec.BestQueryCov = &ie, &hc, &qc
	}
	return rec
}

// MAGResult aggregates the gene verdicts of one MAG.
type MAGResult struct {
	Metabolism string
	MAG        string

	NQueries  int
	NPass     int
	NHold     int
	NFail     int
	NNoDomain int

	StepsTotal          int
	StepThreshold       int
	StepsWithPass       int
	StepsWithHoldOrPass int
	Label               string
}

func (m MAGResult) PassFraction() float64 { return fraction(m.NPass, m.NQueries) }
func (m MAGResult) HoldFraction() float64 { return fraction(m.NHold, m.NQueries) }

func fraction(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

type MAGRow struct {
	Metabolism          string `csv:"metabolism"`
	MAG                 string `csv:"MAG_ID"`
	NQueries            int    `csv:"n_queries"`
	NPass               int    `csv:"n_pass"`
	NHold               int    `csv:"n_hold"`
	NFail               int    `csv:"n_fail"`
	NNoDomain           int    `csv:"n_no_domain"`
	PassFraction        string `csv:"pass_fraction"`
	HoldFraction        string `csv:"hold_fraction"`
	StepsTotal          int    `csv:"steps_total"`
	StepsWithPass       int    `csv:"steps_with_pass"`
	StepsWithHoldOrPass int    `csv:"steps_with_hold_or_pass"`
	Label               string `csv:"step_validation_label"`
}

func (m MAGResult) Row() MAGRow {
	return MAGRow{
		Metabolism:          m.Metabolism,
		MAG:                 m.MAG,
		NQueries:            m.NQueries,
		NPass:               m.NPass,
		NHold:               m.NHold,
		NFail:               m.NFail,
		NNoDomain:           m.NNoDomain,
		PassFraction:        fmt.Sprintf("%.3f", m.PassFraction()),
		HoldFraction:        fmt.Sprintf("%.3f", m.HoldFraction()),
		StepsTotal:          m.StepsTotal,
		StepsWithPass:       m.StepsWithPass,
		StepsWithHoldOrPass: m.StepsWithHoldOrPass,
		Label:               m.Label,
	}
}

func (m MAGResult) Record() db.DomainMAGRecord {
	return db.DomainMAGRecord{
		Metabolism:          m.Metabolism,
		MAG:                 m.MAG,
		NQueries:            m.NQueries,
		NPass:               m.NPass,
		NHold:               m.NHold,
		NFail:               m.NFail,
		NNoDomain:           m.NNoDomain,
		StepsTotal:          m.StepsTotal,
		StepsWithPass:       m.StepsWithPass,
		StepsWithHoldOrPass: m.StepsWithHoldOrPass,
		Label:               m.Label,
	}
}

// Result is everything one validation run produced.
type Result struct {
	Genes []GeneResult
	MAGs  []MAGResult
}

func (r *Result) GeneRecords() []db.DomainGeneRecord {
	out := make([]db.DomainGeneRecord, len(r.Genes))
	for i, g := range r.Genes {
		out[i] = g.Record()
	}
	return out
}

func (r *Result) MAGRecords() []db.DomainMAGRecord {
	out := make([]db.DomainMAGRecord, len(r.MAGs))
	for i, m := range r.MAGs {
		out[i] = m.Record()
	}
	return out
}

// Write stores both tables in dir.
func (r *Result) Write(dir string) error {
	genes := make([]GeneRow, len(r.Genes))
	for i, g := range r.Genes {
		genes[i] = g.Row()
	}
	if err := tabular.WriteTable(filepath.Join(dir, GeneLevelFile), tabular.TSV, genes); err != nil {
		return err
	}

	mags := make([]MAGRow, len(r.MAGs))
	for i, m := range r.MAGs {
		mags[i] = m.Row()
	}
	return tabular.WriteTable(filepath.Join(dir, MAGLevelFile), tabular.TSV, mags)
}

// ReadGeneLevel loads a gene-level table written by Write.
func ReadGeneLevel(path string) ([]GeneRow, error) {
	var rows []GeneRow
	if err := tabular.ReadTable(path, tabular.TSV, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
