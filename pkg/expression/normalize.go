package expression

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/tabular"
)

const countsSuffix = ".gene_counts.txt"

var (
	ErrNoCounts    = errors.New("no featureCounts gene tables found")
	ErrMissingDirs = errors.New("expression: featurecounts_dir and out_dir are required")
)

// CountsFile is one MAG's gene table within a sample.
type CountsFile struct {
	MAG  string
	Path string
}

// SampleOf strips the bin number from a MAG id: "IR37_0d.100" -> "IR37_0d".
func SampleOf(mag string) string {
	if i := strings.LastIndex(mag, "."); i >= 0 {
		return mag[:i]
	}
	return mag
}

// Discover groups the gene tables in dir whose names start with prefix by
// sample. Files are sorted by name within a sample.
func Discover(dir, prefix string) (map[string][]CountsFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]CountsFile)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		mag, ok := strings.CutSuffix(strings.TrimSuffix(name, ".gz"), countsSuffix)
		if !ok {
			continue
		}
		sample := SampleOf(mag)
		out[sample] = append(out[sample], CountsFile{MAG: mag, Path: filepath.Join(dir, name)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCounts, dir)
	}
	for s := range out {
		sort.Slice(out[s], func(i, j int) bool { return out[s][i].Path < out[s][j].Path })
	}
	return out, nil
}

type GeneRow struct {
	Sample     string  `csv:"Sample"`
	MAG        string  `csv:"MAG"`
	GeneGlobal string  `csv:"Gene_global"`
	Geneid     string  `csv:"Geneid"`
	Chr        string  `csv:"Chr"`
	Start      string  `csv:"Start"`
	End        string  `csv:"End"`
	Strand     string  `csv:"Strand"`
	Length     int     `csv:"Length"`
	Count      int64   `csv:"Count"`
	RPK        float64 `csv:"RPK"`
	RPKM       float64 `csv:"RPKM"`
	TPM        float64 `csv:"TPM"`
}

type MAGSummary struct {
	Sample   string  `csv:"Sample"`
	MAG      string  `csv:"MAG"`
	NGene    int     `csv:"nGene"`
	SumCount int64   `csv:"sumCount"`
	SumRPK   float64 `csv:"sumRPK"`
	SumTPM   float64 `csv:"sumTPM"`
}

// RunLog is one line of logs/normalize.run.tsv.
type RunLog struct {
	Sample     string  `csv:"Sample"`
	NMAG       int     `csv:"nMAG"`
	NGene      int     `csv:"nGene"`
	TotalCount int64   `csv:"TotalCount"`
	TotalRPK   float64 `csv:"TotalRPK"`
	TPMSum     float64 `csv:"TPMSum"`
}

// SampleResult holds the normalised genes of every MAG of a sample.
type SampleResult struct {
	Genes []GeneRow
	MAGs  []MAGSummary
	Log   RunLog
}

// NormalizeSample computes RPK, RPKM and TPM across all MAGs of a sample.
// A file that fails to parse is logged and left out. The result is nil when no
// gene survives.
func NormalizeSample(sample string, files []CountsFile) *SampleResult {
	res := &SampleResult{}
	stats := make(map[string]*MAGSummary)
	var (
		totalCount int64
		totalRPK   float64
	)

	for _, f := range files {
		genes, err := ParseFeatureCountsFile(f.Path)
		if err != nil {
			logger.Warn("Skipping gene table", zap.String("sample", sample), zap.String("path", f.Path), zap.Error(err))
			continue
		}
		for _, g := range genes {
			rpk := 0.0
			if g.Length > 0 {
				rpk = float64(g.Count) * 1000 / float64(g.Length)
			}
			res.Genes = append(res.Genes, GeneRow{
				Sample:     sample,
				MAG:        f.MAG,
				GeneGlobal: f.MAG + "|" + g.Geneid,
				Geneid:     g.Geneid,
				Chr:        g.Chr,
				Start:      g.Start,
				End:        g.End,
				Strand:     g.Strand,
				Length:     g.Length,
				Count:      g.Count,
				RPK:        rpk,
			})
			totalCount += g.Count
			totalRPK += rpk

			st, ok := stats[f.MAG]
			if !ok {
				st = &MAGSummary{Sample: sample, MAG: f.MAG}
				stats[f.MAG] = st
			}
			st.NGene++
			st.SumCount += g.Count
			st.SumRPK += rpk
		}
	}
	if len(res.Genes) == 0 {
		return nil
	}

	tpmSum := 0.0
	for i := range res.Genes {
		g := &res.Genes[i]
		if totalCount > 0 && g.Length > 0 {
			g.RPKM = float64(g.Count) * 1e9 / (float64(g.Length) * float64(totalCount))
		}
		if totalRPK > 0 {
			g.TPM = g.RPK / totalRPK * 1e6
		}
		tpmSum += g.TPM
	}

	mags := make([]string, 0, len(stats))
	for m := range stats {
		mags = append(mags, m)
	}
	sort.Strings(mags)
	for _, m := range mags {
		st := stats[m]
		if totalRPK > 0 {
			st.SumTPM = st.SumRPK / totalRPK * 1e6
		}
		res.MAGs = append(res.MAGs, *st)
	}

	res.Log = RunLog{
		Sample:     sample,
		NMAG:       len(stats),
		NGene:      len(res.Genes),
		TotalCount: totalCount,
		TotalRPK:   totalRPK,
		TPMSum:     tpmSum,
	}
	return res
}

// Normalizer processes every sample of a featureCounts directory.
type Normalizer struct {
	Config config.Expression
}

func GeneTableName(sample string, compress bool) string {
	name := sample + ".allMAG.gene_TPM_RPKM.tsv"
	if compress {
		name += ".gz"
	}
	return name
}

func MAGSummaryName(sample string) string {
	return sample + ".MAG_summary.tsv"
}

// RunLogPath is the run log under outDir.
func RunLogPath(outDir string) string {
	return filepath.Join(outDir, "logs", "normalize.run.tsv")
}

// Run normalises samples on a bounded pool of workers and writes the run log.
// Samples without any parsable gene are left out of the log.
func (n *Normalizer) Run(ctx context.Context) ([]RunLog, error) {
	c := n.Config
	if c.FeatureCountsDir == "" || c.OutDir == "" {
		return nil, ErrMissingDirs
	}
	groups, err := Discover(c.FeatureCountsDir, c.Prefix)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(RunLogPath(c.OutDir)), 0o755); err != nil {
		return nil, err
	}

	samples := make([]string, 0, len(groups))
	for s := range groups {
		samples = append(samples, s)
	}
	sort.Strings(samples)

	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	logs := make([]*RunLog, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sample := range samples {
		i, sample := i, sample
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := NormalizeSample(sample, groups[sample])
			if res == nil {
				logger.Warn("No gene rows, skipping sample", zap.String("sample", sample))
				return nil
			}
			if err := tabular.WriteTable(filepath.Join(c.OutDir, GeneTableName(sample, c.Compress)), tabular.TSV, res.Genes); err != nil {
				return err
			}
			if err := tabular.WriteTable(filepath.Join(c.OutDir, MAGSummaryName(sample)), tabular.TSV, res.MAGs); err != nil {
				return err
			}
			logger.Info("Normalized sample",
				zap.String("sample", sample),
				zap.Int("mags", res.Log.NMAG),
				zap.Int("genes", res.Log.NGene),
			)
			logs[i] = &res.Log
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []RunLog
	for _, l := range logs {
		if l != nil {
			out = append(out, *l)
		}
	}
	if err := tabular.WriteTable(RunLogPath(c.OutDir), tabular.TSV, out); err != nil {
		return nil, err
	}
	return out, nil
}
