package abundance

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/screen"
	"github.com/yumyai/magscreen/pkg/tabular"
)

const (
	DefaultOutCSV = "abundance_by_metabolism.csv"
	CombinedName  = "combined"
)

var ErrNoCladeSource = errors.New("abundance: set clade_membership or clade_summary")

// TrendFile is the per-metabolism trend table written next to the merged CSV.
func TrendFile(metabolism string) string {
	return "abundance_trend_" + metabolism + ".tsv"
}

// PlotFile is the stacked-bar image of a metabolism (or CombinedName).
func PlotFile(metabolism string) string {
	return "abundance_" + metabolism + ".png"
}

// Joiner merges passing clades with the abundance table.
type Joiner struct {
	Config  *config.Config
	GeneSet *geneset.GeneSet
}

type Result struct {
	Clades      []CladeResult
	Joined      []Joined
	TimeColumns []string
	OutCSV      string
}

func (j *Joiner) outCSV() string {
	if j.Config.Abundance.OutCSV != "" {
		return j.Config.Abundance.OutCSV
	}
	return filepath.Join(j.Config.WorkDir, DefaultOutCSV)
}

// Clades evaluates every clade from the configured source. A precomputed clade
// summary takes precedence over membership.
func (j *Joiner) Clades() ([]CladeResult, error) {
	a := j.Config.Abundance
	switch {
	case a.CladeSummary != "":
		return ReadCladeSummary(a.CladeSummary, j.GeneSet, j.Config)
	case a.CladeMembership != "":
		membership, err := ReadMembership(a.CladeMembership)
		if err != nil {
			return nil, err
		}
		rows, err := screen.ReadSummary(filepath.Join(j.Config.ScreenDir(), screen.SummaryFile))
		if err != nil {
			return nil, err
		}
		return FromMembership(rows, membership, j.GeneSet, j.Config), nil
	}
	return nil, ErrNoCladeSource
}

func (j *Joiner) Run(ctx context.Context) (*Result, error) {
	clades, err := j.Clades()
	if err != nil {
		return nil, err
	}
	passing := 0
	for _, c := range clades {
		if c.Pass {
			passing++
		}
	}
	logger.Info("Clades evaluated", zap.Int("clades", len(clades)), zap.Int("passing", passing))

	table, err := ReadTable(j.Config.Abundance.Table)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Clades: clades, Joined: Join(table, clades), OutCSV: j.outCSV()}
	if len(res.Joined) == 0 {
		logger.Warn("No abundance rows matched a passing clade")
	}

	rows := make([][]string, len(res.Joined))
	for i, r := range res.Joined {
		rows[i] = table.Row(r)
	}
	if err := tabular.WriteRows(res.OutCSV, tabular.CSV, table.Header(), rows); err != nil {
		return nil, err
	}
	logger.Info("Wrote merged abundance", zap.String("path", res.OutCSV), zap.Int("rows", len(rows)))

	res.TimeColumns = j.timeColumns(table)
	if len(res.TimeColumns) == 0 {
		logger.Warn("No time-series columns, skipping trends")
		return res, nil
	}
	if err := j.writeTrends(table, res); err != nil {
		return nil, err
	}
	return res, nil
}

// timeColumns returns the configured columns when all exist, else the
// inferred ones.
func (j *Joiner) timeColumns(t *Table) []string {
	want := j.Config.Abundance.TimeColumns
	if len(want) == 0 {
		return t.TimeColumns()
	}
	have := tabular.NewSet(t.Columns...)
	for _, c := range want {
		if !have.Has(c) {
			logger.Warn("Configured time column missing from abundance table", zap.String("column", c))
			return nil
		}
	}
	return want
}

func (j *Joiner) writeTrends(t *Table, res *Result) error {
	dir := filepath.Dir(res.OutCSV)
	plotDir := j.Config.Abundance.PlotDir

	byMetabolism := make(map[string][]Joined)
	for _, r := range res.Joined {
		byMetabolism[r.Clade.Metabolism] = append(byMetabolism[r.Clade.Metabolism], r)
	}

	for _, name := range j.GeneSet.Names() {
		rows := byMetabolism[name]
		if len(rows) == 0 {
			continue
		}
		series := Trend(t, rows, res.TimeColumns, func(r Joined) string { return r.Label })
		if err := writeTrend(filepath.Join(dir, TrendFile(name)), res.TimeColumns, series); err != nil {
			return err
		}
		if plotDir != "" {
			if err := StackedBar(filepath.Join(plotDir, PlotFile(name)), name, series, res.TimeColumns); err != nil {
				return err
			}
		}
	}

	combined := Trend(t, res.Joined, res.TimeColumns, func(r Joined) string { return r.Clade.Metabolism })
	if len(combined) == 0 {
		return nil
	}
	if err := writeTrend(filepath.Join(dir, TrendFile(CombinedName)), res.TimeColumns, combined); err != nil {
		return err
	}
	if plotDir != "" {
		return StackedBar(filepath.Join(plotDir, PlotFile(CombinedName)), "All metabolisms", combined, res.TimeColumns)
	}
	return nil
}

func writeTrend(path string, columns []string, series []Series) error {
	header := append([]string{"Label"}, columns...)
	rows := make([][]string, len(series))
	for i, s := range series {
		row := make([]string, 0, len(header))
		row = append(row, s.Name)
		for _, v := range s.Values {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		rows[i] = row
	}
	return tabular.WriteRows(path, tabular.TSV, header, rows)
}
