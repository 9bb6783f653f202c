package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/module"
)

func (a *app) moduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Filter annotations by KEGG module and summarize the hits per MAG",
	}
	cmd.AddCommand(a.moduleFilterCmd(), a.moduleSummarizeCmd(), a.moduleAttachCmd())
	return cmd
}

func hitsFlags(fs *pflag.FlagSet) {
	fs.String("hits-dir", "", "folder of per-target hit tables (default <work-dir>/modules)")
}

func targetsFlags(fs *pflag.FlagSet) {
	fs.String("targets", "", "headerless TSV of id, subdir[, label]")
	fs.Int("jobs", 0, "parallel workers (default 8)")
}

func (a *app) moduleFilterCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Keep annotation records whose module column lists a target id",
		Long: `With --input, filter one annotation file by --ids into --out. Otherwise
every MAG under --annotation-root is split into <hits-dir>/<subdir>/<MAG>_<ID>.tsv
for each target of --targets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.cfg.Module
			if in != "" {
				ids := module.SplitIDs(m.IDs...)
				if out == "" || len(ids) == 0 {
					return errors.New("--input needs --out and --ids")
				}
				n, err := module.FilterFile(in, out, m.Column, ids)
				if err != nil {
					return err
				}
				logger.Info("Filter done", zap.String("out", out), zap.Int("rows", n))
				return nil
			}
			if m.Targets == "" {
				return errors.New("need --targets, or --input with --ids")
			}

			return a.recorded(cmd.Context(), "module-filter", func(rec *recorder) error {
				sums, err := (&module.Filterer{Config: a.cfg}).Run(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("Module filter done", zap.Int("targets", len(sums)), zap.String("hits_dir", a.cfg.ModuleHitsDir()))
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&in, "input", "", "single annotation file to filter")
	fs.StringVar(&out, "out", "", "output TSV for --input")
	fs.StringSlice("ids", nil, "ids to keep with --input, e.g. M00567,M00422")
	fs.String("module-column", "", "annotation column holding the ids (default KEGG_Module)")
	annotationFlags(fs)
	targetsFlags(fs)
	hitsFlags(fs)
	return cmd
}

func (a *app) moduleSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Count hits per MAG and target, optionally weighted by MAG abundance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Module.Targets == "" {
				return errors.New("--targets is required")
			}
			return a.recorded(cmd.Context(), "module-summarize", func(rec *recorder) error {
				res, err := (&module.Summarizer{Config: a.cfg}).Run(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("Module summary done", zap.String("prefix", res.Prefix), zap.Int("hits", len(res.Hits)))
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.String("out-prefix", "", "prefix of the summary tables (default <hits-dir>/targets)")
	fs.String("abundance-tsv", "", "MAG x sample abundance table")
	fs.String("mag-col", "", "MAG column of the abundance table (default Bin)")
	fs.String("weight", "", "presence or n_hits (default presence)")
	fs.Int("presence-min", 0, "hits needed for a MAG to count (default 1)")
	targetsFlags(fs)
	hitsFlags(fs)
	return cmd
}

func (a *app) moduleAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Join a module's hit tables with per-gene TPM and RPKM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Module.Target == "" {
				return errors.New("--module is required")
			}
			return a.recorded(cmd.Context(), "module-attach", func(rec *recorder) error {
				res, err := (&module.Attacher{Config: a.cfg}).Run(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("Attach done",
					zap.String("module_dir", res.Dir),
					zap.String("module_id", res.ModuleID),
					zap.String("out", res.OutDir),
					zap.Int("files", res.Files),
				)
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.String("module", "", "module folder name, module id (Mxxxxx) or label")
	fs.String("module-tsv", "", "optional table mapping module ids, folders and labels")
	fs.String("normalized-dir", "", "normalize output folder (default the normalize --out-dir)")
	fs.String("attach-dir", "", "output folder (default <hits-dir>/<module>_withTPM)")
	fs.Bool("gzip", false, "write .tsv.gz")
	fs.Bool("dry-run", false, "log planned joins only")
	hitsFlags(fs)
	return cmd
}
