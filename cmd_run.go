package main

import (
	"github.com/spf13/cobra"
)

func (a *app) runCmd() *cobra.Command {
	var geneTable string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run screen, evidence, validate and arbitrate in order",
		Long: `Run the four core stages as one recorded run. Both external tools are
checked before the first stage starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner, searcher := a.hmmscan(), a.blastp()
			if err := scanner.Check(); err != nil {
				return err
			}
			if err := searcher.Check(); err != nil {
				return err
			}

			ctx := cmd.Context()
			return a.recorded(ctx, "run", func(rec *recorder) error {
				if err := a.runScreen(ctx, rec); err != nil {
					return err
				}
				if err := a.runEvidence(ctx); err != nil {
					return err
				}
				if err := a.runValidate(ctx, rec, scanner); err != nil {
					return err
				}
				return a.runArbitrate(ctx, rec, searcher, geneTable)
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&geneTable, "gene-table", "", "gene-level validation table read by the homology stage")
	annotationFlags(fs)
	candidateFlags(fs)
	ruleFlags(fs)
	proteinFlags(fs)
	hmmscanFlags(fs)
	blastpFlags(fs)
	return cmd
}
