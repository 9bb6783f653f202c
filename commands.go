package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/geneset"
)

const version = "0.1.0"

// app carries the state shared by one invocation of the command tree.
type app struct {
	v          *viper.Viper
	configFile string
	noRecord   bool
	cfg        *config.Config
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":   "log_level",
	"work-dir":    "work_dir",
	"gene-set":    "gene_set_tsv",
	"metabolisms": "metabolisms",
	"results-db":  "results_db",
	"overwrite":   "overwrite",

	"annotation-root":   "annotation_root",
	"annotation-suffix": "annotation_suffix",
	"candidate-dir":     "candidate_dir",
	"bakta-root":        "bakta_root",

	"threshold":               "threshold",
	"thresholds":              "thresholds",
	"gene-presence-threshold": "gene_presence_threshold",

	"hmmscan-bin": "hmmscan.bin",
	"hmm-db":      "hmmscan.database",
	"cpu":         "hmmscan.cpu",
	"evalue-pass": "hmmscan.evalue_pass",
	"cov-pass":    "hmmscan.cov_pass",
	"cov-hold":    "hmmscan.cov_hold",

	"blastp-bin":      "blastp.bin",
	"blast-db":        "blastp.database",
	"threads":         "blastp.threads",
	"blast-evalue":    "blastp.evalue",
	"max-target-seqs": "blastp.max_target_seqs",
	"min-qcov":        "blastp.min_qcov",
	"min-pident":      "blastp.min_pident",
	"homology-dir":    "homology_dir",

	"abundance-table":  "abundance.table",
	"clade-membership": "abundance.clade_membership",
	"clade-summary":    "abundance.clade_summary",
	"time-columns":     "abundance.time_columns",
	"out-csv":          "abundance.out_csv",
	"plot-dir":         "abundance.plot_dir",

	"featurecounts-dir": "expression.featurecounts_dir",
	"out-dir":           "expression.out_dir",
	"prefix":            "expression.prefix",
	"compress":          "expression.compress",
	"workers":           "expression.workers",

	"ids":            "module.ids",
	"module-column":  "module.column",
	"targets":        "module.targets",
	"hits-dir":       "module.hits_dir",
	"jobs":           "module.jobs",
	"out-prefix":     "module.out_prefix",
	"abundance-tsv":  "module.abundance_table",
	"mag-col":        "module.mag_column",
	"weight":         "module.weight",
	"presence-min":   "module.presence_min",
	"module":         "module.target",
	"module-tsv":     "module.module_table",
	"normalized-dir": "module.normalized_dir",
	"attach-dir":     "module.attach_dir",
	"gzip":           "module.compress",
	"dry-run":        "module.dry_run",

	"listen": "listen",
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "magscreen",
		Short: "Screen metagenome-assembled genomes for metabolic pathways",
		Long: `magscreen finds MAGs that encode a metabolic pathway from their KEGG KO
annotations, then backs the calls with Pfam domain and BLAST homology evidence.

Settings come from flags, MAGSCREEN_* environment variables (.env is loaded
first) and an optional --config file, in that order of precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	pf.BoolVar(&a.noRecord, "no-record", false, "do not record the run in the results store")
	pf.String("log-level", "", "debug, info, warn or error (default info)")
	pf.String("work-dir", "", "directory for stage outputs (default functional_profiling)")
	pf.String("gene-set", "", "gene-set TSV with Metabolism, Step and KEGG_ko columns")
	pf.StringSlice("metabolisms", nil, "metabolism vocabulary (default propionate,butyrate,acetate)")
	pf.String("results-db", "", "sqlite results store (default <work-dir>/magscreen.db)")
	pf.Bool("overwrite", false, "recompute outputs that already exist")

	root.AddCommand(
		a.screenCmd(),
		a.evidenceCmd(),
		a.validateCmd(),
		a.arbitrateCmd(),
		a.abundanceCmd(),
		a.normalizeCmd(),
		a.moduleCmd(),
		a.serveCmd(),
		a.runCmd(),
	)
	return root
}

// setup binds the flags of the running command and loads the configuration.
func (a *app) setup(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := logger.InitLogger(level); err != nil {
		return err
	}
	a.cfg = cfg
	logger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("work_dir", cfg.WorkDir),
		zap.Strings("metabolisms", cfg.Metabolisms),
	)
	return nil
}

func (a *app) geneSet() (*geneset.GeneSet, error) {
	return geneset.Load(a.cfg.GeneSetTSV, a.cfg.Vocabulary())
}

func (a *app) proteins() (*db.ProteinDB, error) {
	return db.NewProteinDB(a.cfg.BaktaRoot)
}

// recorder stores stage rows under one run. A nil recorder drops them.
type recorder struct {
	rdb *db.ResultsDB
	run *db.Run
}

func (r *recorder) save(what string, fn func(rdb *db.ResultsDB, runID string) error) error {
	if r == nil {
		return nil
	}
	if err := fn(r.rdb, r.run.ID); err != nil {
		return fmt.Errorf("record %s: %w", what, err)
	}
	return nil
}

// recorded runs fn inside a run of stage in the results store, marking it
// failed when fn fails.
func (a *app) recorded(ctx context.Context, stage string, fn func(rec *recorder) error) error {
	if a.noRecord {
		return fn(nil)
	}

	rdb, err := db.OpenResults(a.cfg.ResultsPath())
	if err != nil {
		return err
	}
	defer rdb.Close()

	run, err := rdb.BeginRun(ctx, stage)
	if err != nil {
		return err
	}
	logger.Info("Run started", zap.String("stage", stage), zap.String("run_id", run.ID))

	runErr := fn(&recorder{rdb: rdb, run: run})
	if err := rdb.FinishRun(context.WithoutCancel(ctx), run.ID, runErr); err != nil {
		logger.Warn("Could not finish run", zap.String("run_id", run.ID), zap.Error(err))
	}
	if runErr == nil {
		logger.Info("Run completed", zap.String("stage", stage), zap.String("run_id", run.ID))
	}
	return runErr
}

// Flag groups. A command adds each group at most once.

func annotationFlags(fs *pflag.FlagSet) {
	fs.String("annotation-root", "", "folder searched recursively for eggNOG annotation files (default eggnog)")
	fs.String("annotation-suffix", "", "annotation file suffix (default .eggnog.emapper.annotations)")
}

func candidateFlags(fs *pflag.FlagSet) {
	fs.String("candidate-dir", "", "directory of the coverage summary and candidate lists (default <work-dir>)")
}

func ruleFlags(fs *pflag.FlagSet) {
	fs.Float64("threshold", 0, "fraction of steps required (default 0.75)")
	fs.String("thresholds", "", "per-metabolism step thresholds, e.g. acetate=0.75,butyrate=1")
	fs.Float64("gene-presence-threshold", 0, "gene presence fraction to exceed (default 0.5)")
}

func proteinFlags(fs *pflag.FlagSet) {
	fs.String("bakta-root", "", "folder of Bakta outputs, one <mag>/<mag>.{gff3,faa} per MAG (default bakta)")
}

func hmmscanFlags(fs *pflag.FlagSet) {
	fs.String("hmmscan-bin", "", "hmmscan executable (default hmmscan)")
	fs.String("hmm-db", "", "hmmpress'ed Pfam-A.hmm")
	fs.Int("cpu", 0, "hmmscan --cpu (default 8)")
	fs.Float64("evalue-pass", 0, "maximum i-Evalue of a qualifying domain (default 1e-5)")
	fs.Float64("cov-pass", 0, "HMM coverage for PASS (default 0.60)")
	fs.Float64("cov-hold", 0, "HMM coverage for HOLD (default 0.40)")
}

func blastpFlags(fs *pflag.FlagSet) {
	fs.String("blastp-bin", "", "blastp executable (default blastp)")
	fs.String("blast-db", "", "protein BLAST database prefix")
	fs.Int("threads", 0, "blastp -num_threads (default 8)")
	fs.Float64("blast-evalue", 0, "blastp -evalue (default 1e-5)")
	fs.Int("max-target-seqs", 0, "blastp -max_target_seqs (default 10)")
	fs.Float64("min-qcov", 0, "query coverage fraction for GOOD (default 0.70)")
	fs.Float64("min-pident", 0, "percent identity for GOOD (default 50)")
	fs.String("homology-dir", "", "output directory of the homology stage (default blastp_hold_fail)")
}
