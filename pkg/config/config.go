// Run configuration shared by every pipeline stage.
//
// Values come from (highest first) command-line flags, MAGSCREEN_* environment
// variables (a .env file is loaded into the environment first), an optional config
// file, and the defaults below.

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/tabular"
)

var ErrUnknownMetabolism = errors.New("metabolism not in configured vocabulary")

type Hmmscan struct {
	Bin        string  `mapstructure:"bin"`
	Database   string  `mapstructure:"database"`
	CPU        int     `mapstructure:"cpu"`
	EvaluePass float64 `mapstructure:"evalue_pass"`
	CovPass    float64 `mapstructure:"cov_pass"`
	CovHold    float64 `mapstructure:"cov_hold"`
}

type Blastp struct {
	Bin           string  `mapstructure:"bin"`
	Database      string  `mapstructure:"database"`
	Threads       int     `mapstructure:"threads"`
	Evalue        float64 `mapstructure:"evalue"`
	MaxTargetSeqs int     `mapstructure:"max_target_seqs"`
	MinQcov       float64 `mapstructure:"min_qcov"`
	MinPident     float64 `mapstructure:"min_pident"`
}

type Abundance struct {
	Table           string   `mapstructure:"table"`
	CladeMembership string   `mapstructure:"clade_membership"`
	CladeSummary    string   `mapstructure:"clade_summary"`
	TimeColumns     []string `mapstructure:"time_columns"`
	OutCSV          string   `mapstructure:"out_csv"`
	PlotDir         string   `mapstructure:"plot_dir"`
}

type Expression struct {
	FeatureCountsDir string `mapstructure:"featurecounts_dir"`
	OutDir           string `mapstructure:"out_dir"`
	Prefix           string `mapstructure:"prefix"`
	Compress         bool   `mapstructure:"compress"`
	Workers          int    `mapstructure:"workers"`
}

// Module configures KEGG module filtering, hit summaries and the expression join.
type Module struct {
	Column         string   `mapstructure:"column"`
	IDs            []string `mapstructure:"ids"`
	Targets        string   `mapstructure:"targets"`
	HitsDir        string   `mapstructure:"hits_dir"`
	OutPrefix      string   `mapstructure:"out_prefix"`
	Jobs           int      `mapstructure:"jobs"`
	AbundanceTable string   `mapstructure:"abundance_table"`
	MAGColumn      string   `mapstructure:"mag_column"`
	Weight         string   `mapstructure:"weight"`
	PresenceMin    int      `mapstructure:"presence_min"`
	NormalizedDir  string   `mapstructure:"normalized_dir"`
	Target         string   `mapstructure:"target"`
	ModuleTable    string   `mapstructure:"module_table"`
	AttachDir      string   `mapstructure:"attach_dir"`
	Compress       bool     `mapstructure:"compress"`
	DryRun         bool     `mapstructure:"dry_run"`
}

// Potential weights.
const (
	WeightPresence = "presence"
	WeightHits     = "n_hits"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	GeneSetTSV       string `mapstructure:"gene_set_tsv"`
	AnnotationRoot   string `mapstructure:"annotation_root"`
	AnnotationSuffix string `mapstructure:"annotation_suffix"`
	BaktaRoot        string `mapstructure:"bakta_root"`
	WorkDir          string `mapstructure:"work_dir"`
	CandidateDir     string `mapstructure:"candidate_dir"`
	HomologyDir      string `mapstructure:"homology_dir"`
	ResultsDB        string `mapstructure:"results_db"`
	Listen           string `mapstructure:"listen"`
	Overwrite        bool   `mapstructure:"overwrite"`

	Metabolisms           []string           `mapstructure:"metabolisms"`
	Threshold             float64            `mapstructure:"threshold"`
	Thresholds            map[string]float64 `mapstructure:"thresholds"`
	GenePresenceThreshold float64            `mapstructure:"gene_presence_threshold"`
	MetabolismDirs        map[string]string  `mapstructure:"metabolism_dirs"`

	Hmmscan    Hmmscan    `mapstructure:"hmmscan"`
	Blastp     Blastp     `mapstructure:"blastp"`
	Abundance  Abundance  `mapstructure:"abundance"`
	Expression Expression `mapstructure:"expression"`
	Module     Module     `mapstructure:"module"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("gene_set_tsv", "gene_sets.tsv")
	v.SetDefault("annotation_root", "eggnog")
	v.SetDefault("annotation_suffix", ".eggnog.emapper.annotations")
	v.SetDefault("bakta_root", "bakta")
	v.SetDefault("work_dir", "functional_profiling")
	v.SetDefault("homology_dir", "blastp_hold_fail")
	v.SetDefault("listen", "0.0.0.0:8080")

	v.SetDefault("metabolisms", []string{"propionate", "butyrate", "acetate"})
	v.SetDefault("threshold", 0.75)
	v.SetDefault("gene_presence_threshold", 0.5)

	v.SetDefault("hmmscan.bin", "hmmscan")
	v.SetDefault("hmmscan.cpu", 8)
	v.SetDefault("hmmscan.evalue_pass", 1e-5)
	v.SetDefault("hmmscan.cov_pass", 0.60)
	v.SetDefault("hmmscan.cov_hold", 0.40)

	v.SetDefault("blastp.bin", "blastp")
	v.SetDefault("blastp.threads", 8)
	v.SetDefault("blastp.evalue", 1e-5)
	v.SetDefault("blastp.max_target_seqs", 10)
	v.SetDefault("blastp.min_qcov", 0.70)
	v.SetDefault("blastp.min_pident", 50.0)

	v.SetDefault("expression.workers", 4)

	v.SetDefault("module.column", "KEGG_Module")
	v.SetDefault("module.jobs", 8)
	v.SetDefault("module.mag_column", "Bin")
	v.SetDefault("module.weight", WeightPresence)
	v.SetDefault("module.presence_min", 1)
}

// Load reads .env, the optional config file and the environment into v and
// returns the validated configuration.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env found, using local environment")
	}

	SetDefaults(v)
	v.SetEnvPrefix("MAGSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	// --thresholds / MAGSCREEN_THRESHOLDS arrive as "acetate=0.75,butyrate=1".
	if raw, ok := v.Get("thresholds").(string); ok {
		parsed, err := ParseThresholds(raw)
		if err != nil {
			return nil, err
		}
		v.Set("thresholds", parsed)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseThresholds parses "Name=0.75,Other=1.0".
func ParseThresholds(raw string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, val, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid thresholds entry %q: use metabolism=0.75", item)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold value in %q: %w", item, err)
		}
		out[strings.TrimSpace(name)] = f
	}
	return out, nil
}

// Canonical is the single spelling used for metabolism names across stages.
func Canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Normalize canonicalises metabolism names and checks every name-keyed setting
// against the metabolism vocabulary.
func (c *Config) Normalize() error {
	vocab := make([]string, 0, len(c.Metabolisms))
	seen := tabular.NewSet()
	for _, m := range c.Metabolisms {
		for _, part := range strings.Split(m, ",") {
			name := Canonical(part)
			if name == "" || seen.Has(name) {
				continue
			}
			seen.Add(name)
			vocab = append(vocab, name)
		}
	}
	if len(vocab) == 0 {
		return errors.New("no metabolisms configured")
	}
	c.Metabolisms = vocab

	thresholds := make(map[string]float64, len(c.Thresholds))
	for name, val := range c.Thresholds {
		key := Canonical(name)
		if !seen.Has(key) {
			return fmt.Errorf("thresholds: %w: %q", ErrUnknownMetabolism, name)
		}
		if err := checkFraction("thresholds."+key, val); err != nil {
			return err
		}
		thresholds[key] = val
	}
	c.Thresholds = thresholds

	dirs := make(map[string]string, len(c.MetabolismDirs))
	for name, dir := range c.MetabolismDirs {
		key := Canonical(name)
		if !seen.Has(key) {
			return fmt.Errorf("metabolism_dirs: %w: %q", ErrUnknownMetabolism, name)
		}
		dirs[key] = dir
	}
	c.MetabolismDirs = dirs

	if err := checkFraction("threshold", c.Threshold); err != nil {
		return err
	}
	if c.GenePresenceThreshold < 0 || c.GenePresenceThreshold >= 1 {
		return fmt.Errorf("gene_presence_threshold must be in [0, 1), got %v", c.GenePresenceThreshold)
	}
	if w := c.Module.Weight; w != "" && w != WeightPresence && w != WeightHits {
		return fmt.Errorf("module.weight must be %s or %s, got %q", WeightPresence, WeightHits, w)
	}
	if c.Hmmscan.CovHold > c.Hmmscan.CovPass {
		return fmt.Errorf("hmmscan.cov_hold (%v) exceeds hmmscan.cov_pass (%v)", c.Hmmscan.CovHold, c.Hmmscan.CovPass)
	}
	return nil
}

func checkFraction(key string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0, 1], got %v", key, v)
	}
	return nil
}

// Vocabulary returns the canonical metabolism names as a set.
func (c *Config) Vocabulary() tabular.Set {
	return tabular.NewSet(c.Metabolisms...)
}

// SortedMetabolisms returns the vocabulary in lexicographic order.
func (c *Config) SortedMetabolisms() []string {
	out := append([]string(nil), c.Metabolisms...)
	sort.Strings(out)
	return out
}

// ThresholdFor returns the step threshold of a metabolism, falling back to the
// global default.
func (c *Config) ThresholdFor(metabolism string) float64 {
	if t, ok := c.Thresholds[Canonical(metabolism)]; ok {
		return t
	}
	return c.Threshold
}

// MetabolismDir is where per-MAG evidence and domain-scan files of a metabolism live.
func (c *Config) MetabolismDir(metabolism string) string {
	key := Canonical(metabolism)
	if dir, ok := c.MetabolismDirs[key]; ok && dir != "" {
		return dir
	}
	return filepath.Join(c.WorkDir, key)
}

// ScreenDir holds the coverage summary and candidate lists.
func (c *Config) ScreenDir() string {
	if c.CandidateDir != "" {
		return c.CandidateDir
	}
	return c.WorkDir
}

// CandidatePath is the candidate list written by the screener for a metabolism.
func (c *Config) CandidatePath(metabolism string) string {
	return filepath.Join(c.ScreenDir(), tabular.CandidateFileName(Canonical(metabolism)))
}

// ModuleHitsDir holds the per-target <MAG>_<ID>.tsv hit tables.
func (c *Config) ModuleHitsDir() string {
	if c.Module.HitsDir != "" {
		return c.Module.HitsDir
	}
	return filepath.Join(c.WorkDir, "modules")
}

// ResultsPath is the sqlite results store.
func (c *Config) ResultsPath() string {
	if c.ResultsDB != "" {
		return c.ResultsDB
	}
	return filepath.Join(c.WorkDir, "magscreen.db")
}
