// Package validate checks the candidate genes of each MAG for the conserved
// protein domains their function needs, and rolls the per-gene verdicts up to
// a per-MAG label.
package validate

import (
	"github.com/yumyai/magscreen/pkg/screen"
	"github.com/yumyai/magscreen/pkg/tool"
)

// Gene labels.
const (
	LabelPass     = "PASS"
	LabelHold     = "HOLD"
	LabelFail     = "FAIL"
	LabelNoDomain = "NO_DOMAIN"
)

// MAG labels.
const (
	MAGConfirmed    = "CONFIRMED"
	MAGPutative     = "PUTATIVE"
	MAGNotSupported = "NOT_SUPPORTED"
)

// Criteria are the cutoffs a domain hit is judged against.
type Criteria struct {
	EvaluePass float64
	CovPass    float64
	CovHold    float64
}

// Qualifies reports whether a hit passes the i-evalue cutoff.
func (c Criteria) Qualifies(h tool.DomainHit) bool {
	return h.IEvalue <= c.EvaluePass
}

// LabelQuery classifies a gene from all of its domain hits. Any qualifying hit
// with enough profile coverage makes the gene PASS, regardless of which hit
// is best.
func LabelQuery(hits []tool.DomainHit, c Criteria) string {
	if len(hits) == 0 {
		return LabelNoDomain
	}

	hold := false
	for _, h := range hits {
		if !c.Qualifies(h) {
			continue
		}
		cov := h.HMMCoverage()
		if cov >= c.CovPass {
			return LabelPass
		}
		if cov >= c.CovHold {
			hold = true
		}
	}
	if hold {
		return LabelHold
	}
	return LabelFail
}

// BestHit returns the hit with the lowest i-evalue. The first of equal hits
// wins.
func BestHit(hits []tool.DomainHit) (tool.DomainHit, bool) {
	if len(hits) == 0 {
		return tool.DomainHit{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.IEvalue < best.IEvalue {
			best = h
		}
	}
	return best, true
}

// StepThreshold is the number of supported steps a MAG needs.
func StepThreshold(stepsTotal int, threshold float64) int {
	return screen.RequiredSteps(stepsTotal, threshold)
}

// MAGLabelFor applies the step-support rule. A MAG with no steps is never
// supported.
func MAGLabelFor(stepsTotal, withPass, withHoldOrPass, stepThreshold int) string {
	switch {
	case stepsTotal > 0 && withPass >= stepThreshold:
		return MAGConfirmed
	case stepsTotal > 0 && withHoldOrPass >= stepThreshold:
		return MAGPutative
	default:
		return MAGNotSupported
	}
}
