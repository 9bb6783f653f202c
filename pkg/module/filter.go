package module

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/annotation"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/tabular"
)

// SplitIDs flattens comma-separated id lists, dropping blanks.
func SplitIDs(raw ...string) []string {
	var out []string
	for _, r := range raw {
		for _, id := range strings.Split(r, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// MatchRows returns the rows whose column cell lists any of ids. A cell is a
// comma-separated list such as "M00357,M00567".
func MatchRows(t *annotation.Table, column string, ids tabular.Set) ([][]string, error) {
	idx := t.Index(column)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s (have %s)", tabular.ErrMissingColumns, column, strings.Join(t.Columns, ", "))
	}

	var out [][]string
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		for _, item := range strings.Split(row[idx], ",") {
			if ids.Has(strings.TrimSpace(item)) {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

// FilterFile writes the records of the annotation file in whose column lists any
// of ids to out. Nothing is written when no record matches.
func FilterFile(in, out, column string, ids []string) (int, error) {
	t, err := annotation.ReadTableFile(in)
	if err != nil {
		return 0, err
	}
	rows, err := MatchRows(t, column, tabular.NewSet(ids...))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}
	if len(rows) == 0 {
		logger.Info("No hits, nothing written",
			zap.Strings("ids", ids),
			zap.String("column", column),
			zap.String("input", in),
		)
		return 0, nil
	}
	if err := tabular.WriteRows(out, tabular.TSV, t.Columns, rows); err != nil {
		return 0, err
	}
	logger.Debug("Wrote hit table", zap.String("path", out), zap.Int("rows", len(rows)))
	return len(rows), nil
}

// Filterer splits every MAG's annotations into per-target hit tables.
type Filterer struct {
	Config *config.Config
}

// FilterSummary counts the hit tables written for one target.
type FilterSummary struct {
	Target Target
	MAGs   int
	Rows   int
}

// Run writes <hits dir>/<subdir>/<MAG>_<ID>.tsv for every MAG with at least
// one record in the target. MAGs are filtered on a bounded pool.
func (f *Filterer) Run(ctx context.Context) ([]FilterSummary, error) {
	c := f.Config
	targets, err := LoadTargets(c.Module.Targets)
	if err != nil {
		return nil, err
	}
	files, err := annotation.Discover(c.AnnotationRoot, c.AnnotationSuffix)
	if err != nil {
		return nil, err
	}
	mags := make([]string, 0, len(files))
	for m := range files {
		mags = append(mags, m)
	}
	sort.Strings(mags)

	// rows[i][j] is the hit count of mags[i] in targets[j].
	rows := make([][]int, len(mags))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs(c.Module.Jobs))
	for i, mag := range mags {
		i, mag := i, mag
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := f.filterMAG(mag, files[mag], targets)
			if err != nil {
				return fmt.Errorf("%s: %w", mag, err)
			}
			rows[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]FilterSummary, len(targets))
	for j, t := range targets {
		out[j].Target = t
		for i := range mags {
			if n := rows[i][j]; n > 0 {
				out[j].MAGs++
				out[j].Rows += n
			}
		}
		logger.Info("Filtered target",
			zap.String("target", t.ID),
			zap.String("label", t.Label),
			zap.Int("mags", out[j].MAGs),
			zap.Int("rows", out[j].Rows),
		)
	}
	return out, nil
}

func (f *Filterer) filterMAG(mag string, paths []string, targets []Target) ([]int, error) {
	var tables []*annotation.Table
	for _, p := range paths {
		t, err := annotation.ReadTableFile(p)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}

	counts := make([]int, len(targets))
	for j, target := range targets {
		ids := tabular.NewSet(target.ID)
		var (
			header []string
			hits   [][]string
		)
		for _, t := range tables {
			rows, err := MatchRows(t, f.Config.Module.Column, ids)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 && header == nil {
				header = t.Columns
			}
			hits = append(hits, rows...)
		}
		if len(hits) == 0 {
			continue
		}
		path := filepath.Join(f.Config.ModuleHitsDir(), target.Subdir, HitFileName(mag, target.ID))
		if err := tabular.WriteRows(path, tabular.TSV, header, hits); err != nil {
			return nil, err
		}
		counts[j] = len(hits)
	}
	return counts, nil
}

func jobs(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
