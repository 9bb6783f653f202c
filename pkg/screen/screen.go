// Package screen decides which MAGs are candidates for each metabolism from
// the KO content of their eggNOG annotations.
package screen

import (
	"math"
	"sort"

	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/tabular"
)

// ceilEpsilon keeps products such as 10*0.7 (7.000000000000001) from
// rounding up to the next integer.
const ceilEpsilon = 1e-9

// RequiredSteps is ceil(total*threshold), or 0 for an empty metabolism.
func RequiredSteps(total int, threshold float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total)*threshold - ceilEpsilon))
}

// StepRule passes when enough steps are covered and at least one is.
func StepRule(covered, required int) bool {
	return covered >= required && covered >= 1
}

// GeneRule passes when the presence fraction strictly exceeds the threshold.
func GeneRule(totalGenes int, fraction, presence float64) bool {
	return totalGenes > 0 && fraction > presence
}

// Evidence is the screening result of one (MAG, metabolism) pair.
type Evidence struct {
	MAG        string
	Metabolism string

	TotalSteps     int
	CoveredSteps   int
	RequiredSteps  int
	StepCoverage   float64
	CoveredStepIDs []string // gene-set order

	TotalGenes   int
	PresentGenes int
	GenePresence float64
	MatchedKOs   []string // sorted

	StepRule  bool
	GeneRule  bool
	Candidate bool
}

// Evaluate scores one MAG's KO set against a metabolism.
func Evaluate(mag string, kos tabular.Set, m *geneset.Metabolism, threshold, presence float64) Evidence {
	ev := Evidence{
		MAG:        mag,
		Metabolism: m.Name,
		TotalSteps: m.TotalSteps(),
	}
	ev.RequiredSteps = RequiredSteps(ev.TotalSteps, threshold)

	for _, s := range m.Steps {
		if len(s.KOs) > 0 && s.KOs.Intersects(kos) {
			ev.CoveredStepIDs = append(ev.CoveredStepIDs, s.ID)
		}
	}
	ev.CoveredSteps = len(ev.CoveredStepIDs)
	if ev.TotalSteps > 0 {
		ev.StepCoverage = float64(ev.CoveredSteps) / float64(ev.TotalSteps)
	}

	union := m.KOUnion()
	ev.MatchedKOs = union.Intersect(kos)
	ev.TotalGenes = len(union)
	ev.PresentGenes = len(ev.MatchedKOs)
	if ev.TotalGenes > 0 {
		ev.GenePresence = float64(ev.PresentGenes) / float64(ev.TotalGenes)
	}

	ev.StepRule = StepRule(ev.CoveredSteps, ev.RequiredSteps)
	ev.GeneRule = GeneRule(ev.TotalGenes, ev.GenePresence, presence)
	ev.Candidate = ev.StepRule && ev.GeneRule
	return ev
}

// Thresholds resolves the step threshold of a metabolism.
type Thresholds interface {
	ThresholdFor(metabolism string) float64
}

// Screen evaluates every MAG against every metabolism of the gene set. The
// result is sorted by MAG then metabolism whatever the map iteration order.
func Screen(mags map[string]tabular.Set, gs *geneset.GeneSet, th Thresholds, presence float64) []Evidence {
	ids := make([]string, 0, len(mags))
	for id := range mags {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	names := gs.Names()
	out := make([]Evidence, 0, len(ids)*len(names))
	for _, id := range ids {
		for _, name := range names {
			m, _ := gs.Get(name)
			out = append(out, Evaluate(id, mags[id], m, th.ThresholdFor(name), presence))
		}
	}
	return out
}

// Candidates groups candidate MAG ids by metabolism, sorted and deduplicated.
// Every metabolism in names gets an entry, empty or not.
func Candidates(evs []Evidence, names []string) map[string][]string {
	sets := make(map[string]tabular.Set, len(names))
	for _, n := range names {
		sets[n] = tabular.NewSet()
	}
	for _, ev := range evs {
		if !ev.Candidate {
			continue
		}
		if sets[ev.Metabolism] == nil {
			sets[ev.Metabolism] = tabular.NewSet()
		}
		sets[ev.Metabolism].Add(ev.MAG)
	}

	out := make(map[string][]string, len(sets))
	for n, s := range sets {
		out[n] = s.Sorted()
	}
	return out
}
