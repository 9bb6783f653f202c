package module

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/tabular"
)

// Summarizer counts hits per MAG and target and, given an abundance table,
// weighs them into per-sample potentials.
type Summarizer struct {
	Config *config.Config
}

type SummaryResult struct {
	Prefix    string
	Hits      []Hit
	Potential []Potential
}

// OutPrefix is where the summary tables go, <hits dir>/targets by default.
func (s *Summarizer) OutPrefix() string {
	if p := s.Config.Module.OutPrefix; p != "" {
		return p
	}
	return filepath.Join(s.Config.ModuleHitsDir(), "targets")
}

func (s *Summarizer) Run(ctx context.Context) (*SummaryResult, error) {
	c := s.Config
	targets, err := LoadTargets(c.Module.Targets)
	if err != nil {
		return nil, err
	}
	hits, err := CountHits(ctx, c.ModuleHitsDir(), targets, c.Module.Jobs)
	if err != nil {
		return nil, err
	}

	res := &SummaryResult{Prefix: s.OutPrefix(), Hits: hits}
	if err := WriteSummary(res.Prefix, hits); err != nil {
		return nil, err
	}
	logger.Info("Wrote hit summary",
		zap.String("long", LongPath(res.Prefix)),
		zap.String("wide", WidePath(res.Prefix)),
		zap.Int("rows", len(hits)),
	)

	if c.Module.AbundanceTable == "" {
		return res, nil
	}
	abun, err := LoadAbundance(c.Module.AbundanceTable, c.Module.MAGColumn)
	if err != nil {
		return nil, err
	}
	header, rows := JoinAbundance(hits, abun)
	if err := tabular.WriteRows(MAGSummaryPath(res.Prefix), tabular.TSV, header, rows); err != nil {
		return nil, err
	}

	res.Potential = SamplePotential(hits, abun, c.Module.Weight, c.Module.PresenceMin)
	if err := tabular.WriteTable(PotentialPath(res.Prefix), tabular.TSV, res.Potential); err != nil {
		return nil, err
	}
	logger.Info("Wrote sample potential",
		zap.String("path", PotentialPath(res.Prefix)),
		zap.String("weight", c.Module.Weight),
		zap.Int("samples", len(abun.Samples)),
	)
	return res, nil
}
