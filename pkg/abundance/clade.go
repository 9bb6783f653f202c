// Package abundance carries the screening verdicts from MAGs up to the ANI
// clades that the relative-abundance table is keyed by, and joins the two.
package abundance

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/screen"
	"github.com/yumyai/magscreen/pkg/tabular"
)

var MembershipSchema = tabular.Schema{
	{Key: "mag_id", Aliases: []string{"mag", "genome", "user_genome", "bin"}},
	{Key: "ani_clade", Aliases: []string{"clade", "cluster", "ani_cluster"}},
}

var CladeSummarySchema = tabular.Schema{
	{Key: "ani_clade", Aliases: []string{"clade", "cluster"}},
	{Key: "metabolism"},
	{Key: "covered_step_ids", Aliases: []string{"covered_steps_ids"}},
	{Key: "present_required_genes", Optional: true},
	{Key: "matched_kos", Optional: true},
}

// CladeResult is the Stage 2 verdict re-applied to one (clade, metabolism).
type CladeResult struct {
	Clade      string
	Metabolism string

	CoveredStepIDs []string
	MatchedKOs     []string

	TotalSteps    int
	CoveredSteps  int
	RequiredSteps int
	TotalGenes    int
	PresentGenes  int
	GenePresence  float64
	Pass          bool
}

func evaluate(r *CladeResult, m *geneset.Metabolism, threshold, presence float64) {
	r.TotalSteps = m.TotalSteps()
	r.RequiredSteps = screen.RequiredSteps(r.TotalSteps, threshold)
	r.TotalGenes = len(m.KOUnion())
	if r.TotalGenes > 0 {
		r.GenePresence = float64(r.PresentGenes) / float64(r.TotalGenes)
	}
	r.Pass = screen.StepRule(r.CoveredSteps, r.RequiredSteps) &&
		screen.GeneRule(r.TotalGenes, r.GenePresence, presence)
}

// ReadMembership maps MAG ids to their clade.
func ReadMembership(path string) (map[string]string, error) {
	r, err := tabular.Open(path, tabular.CommaFor(path), MembershipSchema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		mag, clade := rec.Get("mag_id"), rec.Get("ani_clade")
		if mag != "" && clade != "" {
			out[mag] = clade
		}
	}
	return out, nil
}

// FromMembership unions the screen evidence of every member MAG per clade and
// re-applies the screening rules. MAGs without a clade are ignored.
func FromMembership(rows []screen.SummaryRow, membership map[string]string, gs *geneset.GeneSet, cfg *config.Config) []CladeResult {
	type key struct{ clade, metabolism string }
	steps := make(map[key]tabular.Set)
	kos := make(map[key]tabular.Set)

	for _, row := range rows {
		clade, ok := membership[row.MAG]
		if !ok {
			continue
		}
		k := key{clade, config.Canonical(row.Metabolism)}
		if steps[k] == nil {
			steps[k], kos[k] = tabular.NewSet(), tabular.NewSet()
		}
		steps[k].Add(splitList(row.CoveredStepIDs)...)
		kos[k].Add(tabular.KOPattern.FindAllString(row.MatchedKOs, -1)...)
	}

	var out []CladeResult
	for k, covered := range steps {
		m, ok := gs.Get(k.metabolism)
		if !ok {
			continue
		}
		r := CladeResult{Clade: k.clade, Metabolism: m.Name}
		for _, s := range m.Steps {
			if covered.Has(s.ID) {
				r.CoveredStepIDs = append(r.CoveredStepIDs, s.ID)
			}
		}
		r.CoveredSteps = len(r.CoveredStepIDs)
		r.MatchedKOs = kos[k].Sorted()
		r.PresentGenes = len(r.MatchedKOs)
		evaluate(&r, m, cfg.ThresholdFor(m.Name), cfg.GenePresenceThreshold)
		out = append(out, r)
	}
	sortResults(out)
	return out
}

// ReadCladeSummary evaluates a precomputed clade summary. It needs either a
// present_required_genes or a matched_kos column.
func ReadCladeSummary(path string, gs *geneset.GeneSet, cfg *config.Config) ([]CladeResult, error) {
	r, err := tabular.Open(path, tabular.CommaFor(path), CladeSummarySchema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := r.Header()
	if !h.Has("present_required_genes") && !h.Has("matched_kos") {
		return nil, fmt.Errorf("%s: %w: present_required_genes or matched_kos", path, tabular.ErrMissingColumns)
	}

	var out []CladeResult
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		name := config.Canonical(rec.Get("metabolism"))
		m, ok := gs.Get(name)
		if !ok {
			logger.Debug("Clade summary row for unscreened metabolism", zap.String("metabolism", name))
			continue
		}

		res := CladeResult{
			Clade:          rec.Get("ani_clade"),
			Metabolism:     m.Name,
			CoveredStepIDs: splitList(rec.Get("covered_step_ids")),
			MatchedKOs:     tabular.NewSet(tabular.KOPattern.FindAllString(rec.Get("matched_kos"), -1)...).Sorted(),
		}
		res.CoveredSteps = len(res.CoveredStepIDs)
		if h.Has("present_required_genes") {
			n, _ := strconv.ParseFloat(rec.Get("present_required_genes"), 64)
			res.PresentGenes = int(n)
		} else {
			res.PresentGenes = len(res.MatchedKOs)
		}
		evaluate(&res, m, cfg.ThresholdFor(m.Name), cfg.GenePresenceThreshold)
		out = append(out, res)
	}
	sortResults(out)
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sortResults(rs []CladeResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Clade != rs[j].Clade {
			return rs[i].Clade < rs[j].Clade
		}
		return rs[i].Metabolism < rs[j].Metabolism
	})
}
