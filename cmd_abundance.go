package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/abundance"
	"github.com/yumyai/magscreen/pkg/expression"
)

func (a *app) abundanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abundance",
		Short: "Join passing ANI clades with a relative-abundance table and plot trends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.recorded(cmd.Context(), "abundance", func(rec *recorder) error {
				return a.runAbundance(cmd.Context())
			})
		},
	}
	fs := cmd.Flags()
	fs.String("abundance-table", "", "relative-abundance CSV/TSV with a clade column")
	fs.String("clade-membership", "", "MAG to ANI clade table")
	fs.String("clade-summary", "", "precomputed per-clade coverage table (takes precedence over --clade-membership)")
	fs.StringSlice("time-columns", nil, "abundance columns to trend (default: numeric columns)")
	fs.String("out-csv", "", "merged output (default <work-dir>/"+abundance.DefaultOutCSV+")")
	fs.String("plot-dir", "", "write stacked-bar PNGs here")
	candidateFlags(fs)
	ruleFlags(fs)
	return cmd
}

func (a *app) runAbundance(ctx context.Context) error {
	gs, err := a.geneSet()
	if err != nil {
		return err
	}
	res, err := (&abundance.Joiner{Config: a.cfg, GeneSet: gs}).Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("Abundance done",
		zap.Int("clades", len(res.Clades)),
		zap.Int("rows", len(res.Joined)),
		zap.Strings("time_columns", res.TimeColumns),
	)
	return nil
}

func (a *app) normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Compute per-sample TPM and RPKM from per-MAG featureCounts tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.recorded(cmd.Context(), "normalize", func(rec *recorder) error {
				n := &expression.Normalizer{Config: a.cfg.Expression}
				logs, err := n.Run(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("Normalization done", zap.Int("samples", len(logs)))
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.String("featurecounts-dir", "", "folder of <MAG>.gene_counts.txt[.gz] files")
	fs.String("out-dir", "", "output folder")
	fs.String("prefix", "", "only use files whose name starts with this")
	fs.Bool("compress", false, "gzip the per-sample gene tables")
	fs.Int("workers", 0, "samples processed in parallel (default 4)")
	return cmd
}
