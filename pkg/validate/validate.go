package validate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/biogo/biogo/seq/linear"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/internal/util"
	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/evidence"
	"github.com/yumyai/magscreen/pkg/tabular"
	"github.com/yumyai/magscreen/pkg/tool"
)

// DomainScanner turns a protein FASTA into per-domain hits, leaving its raw
// table at outPath. *tool.Hmmscan is the production implementation.
type DomainScanner interface {
	Scan(ctx context.Context, queryFasta, outPath string) ([]tool.DomainHit, error)
}

// Validator runs the domain scan for every MAG that has an evidence CSV.
type Validator struct {
	Config   *config.Config
	Proteins *db.ProteinDB
	Scanner  DomainScanner
}

func SubsetFastaName(mag string) string { return mag + ".candidates.faa" }
func DomtblName(mag string) string      { return mag + ".pfam.domtblout" }

func (v *Validator) criteria() Criteria {
	h := v.Config.Hmmscan
	return Criteria{EvaluePass: h.EvaluePass, CovPass: h.CovPass, CovHold: h.CovHold}
}

// Run validates every configured metabolism and writes the two output tables
// into the work directory. A MAG without its protein FASTA is skipped with a
// warning; a scanner failure aborts the run.
func (v *Validator) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	for _, name := range v.Config.SortedMetabolisms() {
		dir := v.Config.MetabolismDir(name)
		if !util.DirExists(dir) {
			logger.Warn("Missing metabolism directory", zap.String("dir", dir))
			continue
		}

		paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil {
			return nil, err
		}
		sort.Strings(paths)
		if len(paths) == 0 {
			logger.Warn("No evidence files", zap.String("metabolism", name))
			continue
		}
		logger.Info("Validating domains", zap.String("metabolism", name), zap.Int("mags", len(paths)))

		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			mag := strings.TrimSuffix(filepath.Base(p), ".csv")
			rows, err := evidence.Read(p)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				continue
			}

			genes, summary, err := v.ValidateMAG(ctx, name, mag, rows)
			if errors.Is(err, db.ErrNoSequence) {
				logger.Warn("Skipping MAG", zap.String("mag", mag), zap.Error(err))
				continue
			}
			if err != nil {
				return nil, err
			}
			res.Genes = append(res.Genes, genes...)
			res.MAGs = append(res.MAGs, summary)
		}
	}

	if len(res.MAGs) == 0 {
		logger.Warn("No MAGs were validated")
	}
	if err := res.Write(v.Config.WorkDir); err != nil {
		return nil, fmt.Errorf("write validation tables: %w", err)
	}
	return res, nil
}

// ValidateMAG scans the candidate proteins of one MAG and labels its rows.
func (v *Validator) ValidateMAG(ctx context.Context, metabolism, mag string, rows []evidence.Row) ([]GeneResult, MAGResult, error) {
	dir := v.Config.MetabolismDir(metabolism)

	queries := tabular.NewSet()
	steps := tabular.NewSet()
	for _, r := range rows {
		if r.Query != "" {
			queries.Add(r.Query)
		}
		if r.Step != "" {
			steps.Add(r.Step)
		}
	}

	found, missing, err := v.Proteins.Subset(mag, queries.Sorted())
	if err != nil {
		return nil, MAGResult{}, err
	}
	if len(missing) > 0 {
		logger.Warn("Queries missing from protein FASTA", zap.String("mag", mag), zap.Int("missing", len(missing)))
	}

	lengths := make(map[string]int, len(found))
	byQuery := make(map[string][]tool.DomainHit)
	if len(found) == 0 {
		// Nothing to scan: every gene stays NO_DOMAIN and the MAG is kept unsupported.
		logger.Warn("No candidate query has a sequence, skipping domain scan", zap.String("mag", mag))
	} else {
		subset := make([]*linear.Seq, len(found))
		for i, s := range found {
			subset[i] = db.Renamed(s, s.ID)
			lengths[s.ID] = s.Len()
		}
		fasta := filepath.Join(dir, SubsetFastaName(mag))
		if err := db.WriteFasta(fasta, subset); err != nil {
			return nil, MAGResult{}, err
		}

		hits, err := v.scan(ctx, fasta, filepath.Join(dir, DomtblName(mag)))
		if err != nil {
			return nil, MAGResult{}, fmt.Errorf("domain scan of %s: %w", mag, err)
		}
		byQuery = tool.GroupByQuery(hits)
	}

	c := v.criteria()
	labels := make(map[string]string, len(queries))
	for q := range queries {
		labels[q] = LabelQuery(byQuery[q], c)
	}
	labelOf := func(q string) string {
		if l, ok := labels[q]; ok {
			return l
		}
		return LabelNoDomain
	}

	genes := make([]GeneResult, 0, len(rows))
	for _, r := range rows {
		g := GeneResult{
			Metabolism:    metabolism,
			MAG:           mag,
			Step:          r.Step,
			KO:            r.KO,
			Query:         r.Query,
			ProteinLength: r.ProteinLength,
			QueryLen:      lengths[r.Query],
			Label:         labelOf(r.Query),
		}
		qh := byQuery[r.Query]
		if best, ok := BestHit(qh); ok {
			g.Best = &best
		}
		for _, h := range qh {
			if c.Qualifies(h) {
				g.Hits = append(g.Hits, h)
			}
		}
		genes = append(genes, g)
	}

	return genes, v.summarise(metabolism, mag, rows, queries, steps, labelOf), nil
}

func (v *Validator) summarise(metabolism, mag string, rows []evidence.Row, queries, steps tabular.Set, labelOf func(string) string) MAGResult {
	m := MAGResult{
		Metabolism: metabolism,
		MAG:        mag,
		NQueries:   len(queries),
		StepsTotal: len(steps),
	}
	for q := range queries {
		switch labelOf(q) {
		case LabelPass:
			m.NPass++
		case LabelHold:
			m.NHold++
		case LabelFail:
			m.NFail++
		case LabelNoDomain:
			m.NNoDomain++
		}
	}

	pass := tabular.NewSet()
	holdOrPass := tabular.NewSet()
	for _, r := range rows {
		if r.Step == "" || r.Query == "" {
			continue
		}
		switch labelOf(r.Query) {
		case LabelPass:
			pass.Add(r.Step)
			holdOrPass.Add(r.Step)
		case LabelHold:
			holdOrPass.Add(r.Step)
		}
	}
	m.StepsWithPass = len(pass)
	m.StepsWithHoldOrPass = len(holdOrPass)
	m.StepThreshold = StepThreshold(m.StepsTotal, v.Config.Threshold)
	m.Label = MAGLabelFor(m.StepsTotal, m.StepsWithPass, m.StepsWithHoldOrPass, m.StepThreshold)
	return m
}

// scan reuses an earlier domain table unless overwrite is set.
func (v *Validator) scan(ctx context.Context, fasta, out string) ([]tool.DomainHit, error) {
	if !v.Config.Overwrite {
		if util.FileExists(out) {
			logger.Debug("Reusing domain table", zap.String("path", out))
			return tool.ParseDomtblFile(out)
		}
	}
	return v.Scanner.Scan(ctx, fasta, out)
}
