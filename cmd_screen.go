package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/evidence"
	"github.com/yumyai/magscreen/pkg/screen"
)

func (a *app) screenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Score KO step coverage per MAG and write candidate lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.recorded(cmd.Context(), "screen", func(rec *recorder) error {
				return a.runScreen(cmd.Context(), rec)
			})
		},
	}
	annotationFlags(cmd.Flags())
	candidateFlags(cmd.Flags())
	ruleFlags(cmd.Flags())
	return cmd
}

func (a *app) runScreen(ctx context.Context, rec *recorder) error {
	gs, err := a.geneSet()
	if err != nil {
		return err
	}
	evs, err := screen.Run(ctx, a.cfg, gs)
	if err != nil {
		return err
	}

	records := make([]db.ScreenRecord, len(evs))
	for i, ev := range evs {
		records[i] = ev.Record()
	}
	return rec.save("screen", func(rdb *db.ResultsDB, runID string) error {
		return rdb.SaveScreen(ctx, runID, records)
	})
}

func (a *app) evidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Link the KO hits of candidate MAGs to their genes, coordinates and proteins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.recorded(cmd.Context(), "evidence", func(rec *recorder) error {
				return a.runEvidence(cmd.Context())
			})
		},
	}
	annotationFlags(cmd.Flags())
	candidateFlags(cmd.Flags())
	proteinFlags(cmd.Flags())
	return cmd
}

func (a *app) runEvidence(ctx context.Context) error {
	gs, err := a.geneSet()
	if err != nil {
		return err
	}
	proteins, err := a.proteins()
	if err != nil {
		return err
	}

	ex := &evidence.Extractor{Config: a.cfg, GeneSet: gs, Proteins: proteins}
	sums, err := ex.Run(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, s := range sums {
		total += s.MAGs
	}
	logger.Info("Evidence done", zap.Int("metabolisms", len(sums)), zap.Int("mags", total))
	return nil
}
