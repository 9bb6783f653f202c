package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/homology"
	"github.com/yumyai/magscreen/pkg/tool"
	"github.com/yumyai/magscreen/pkg/validate"
)

func (a *app) hmmscan() *tool.Hmmscan {
	h := a.cfg.Hmmscan
	return &tool.Hmmscan{Bin: h.Bin, Database: h.Database, CPU: h.CPU}
}

func (a *app) blastp() *tool.Blastp {
	b := a.cfg.Blastp
	return &tool.Blastp{
		Bin:           b.Bin,
		Database:      b.Database,
		Threads:       b.Threads,
		Evalue:        b.Evalue,
		MaxTargetSeqs: b.MaxTargetSeqs,
	}
}

func (a *app) validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Label candidate genes by Pfam domain evidence (hmmscan)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := a.hmmscan()
			if err := scanner.Check(); err != nil {
				return err
			}
			return a.recorded(cmd.Context(), "validate", func(rec *recorder) error {
				return a.runValidate(cmd.Context(), rec, scanner)
			})
		},
	}
	proteinFlags(cmd.Flags())
	hmmscanFlags(cmd.Flags())
	ruleFlags(cmd.Flags())
	return cmd
}

func (a *app) runValidate(ctx context.Context, rec *recorder, scanner validate.DomainScanner) error {
	proteins, err := a.proteins()
	if err != nil {
		return err
	}
	v := &validate.Validator{Config: a.cfg, Proteins: proteins, Scanner: scanner}
	res, err := v.Run(ctx)
	if err != nil {
		return err
	}

	return rec.save("domain validation", func(rdb *db.ResultsDB, runID string) error {
		if err := rdb.SaveDomainGenes(ctx, runID, res.GeneRecords()); err != nil {
			return err
		}
		return rdb.SaveDomainMAGs(ctx, runID, res.MAGRecords())
	})
}

func (a *app) arbitrateCmd() *cobra.Command {
	var geneTable string
	cmd := &cobra.Command{
		Use:   "arbitrate",
		Short: "Search HOLD and FAIL genes with blastp and grade the best hits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			searcher := a.blastp()
			if err := searcher.Check(); err != nil {
				return err
			}
			return a.recorded(cmd.Context(), "arbitrate", func(rec *recorder) error {
				return a.runArbitrate(cmd.Context(), rec, searcher, geneTable)
			})
		},
	}
	cmd.Flags().StringVar(&geneTable, "gene-table", "", "gene-level validation table (default <work-dir>/"+validate.GeneLevelFile+")")
	proteinFlags(cmd.Flags())
	blastpFlags(cmd.Flags())
	return cmd
}

func (a *app) runArbitrate(ctx context.Context, rec *recorder, searcher homology.Searcher, geneTable string) error {
	proteins, err := a.proteins()
	if err != nil {
		return err
	}
	arb := &homology.Arbiter{Config: a.cfg, Proteins: proteins, Searcher: searcher, GeneTable: geneTable}
	sums, err := arb.Run(ctx)
	if err != nil {
		return err
	}

	return rec.save("homology", func(rdb *db.ResultsDB, runID string) error {
		return rdb.SaveHomology(ctx, runID, homology.Records(sums))
	})
}
