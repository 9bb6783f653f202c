package module

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yumyai/magscreen/internal/util"
	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/tabular"
)

var ErrNoHits = errors.New("no target hits counted")

// Hit is one line of the long summary table.
type Hit struct {
	MAG      string `csv:"MAG"`
	TargetID string `csv:"TargetID"`
	NHits    int    `csv:"n_hits"`
}

type hitFile struct {
	target string
	path   string
}

// CountRows counts the lines after the header of a hit table.
func CountRows(path string) (int, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

// findHitFiles lists <base>/<subdir>/*_<id>.tsv for every target. A missing
// target folder is logged and skipped.
func findHitFiles(base string, targets []Target) ([]hitFile, error) {
	var out []hitFile
	for _, t := range targets {
		dir := filepath.Join(base, t.Subdir)
		if !util.DirExists(dir) {
			logger.Warn("Target folder not found", zap.String("target", t.ID), zap.String("dir", dir))
			continue
		}
		paths, err := filepath.Glob(filepath.Join(dir, "*_"+t.ID+".tsv"))
		if err != nil {
			return nil, err
		}
		sort.Strings(paths)
		for _, p := range paths {
			out = append(out, hitFile{target: t.ID, path: p})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoHitFiles, base)
	}
	return out, nil
}

// CountHits counts the hit tables of every target under base with up to nJobs
// readers. A file that cannot be read is logged and left out. Hits are sorted
// by MAG, then target.
func CountHits(ctx context.Context, base string, targets []Target, nJobs int) ([]Hit, error) {
	if !util.DirExists(base) {
		return nil, fmt.Errorf("hits folder %s: %w", base, os.ErrNotExist)
	}
	files, err := findHitFiles(base, targets)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		hits []Hit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs(nJobs))
	for _, hf := range files {
		hf := hf
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := CountRows(hf.path)
			if err != nil {
				logger.Warn("Failed to read hit table", zap.String("path", hf.path), zap.Error(err))
				return nil
			}
			h := Hit{MAG: MAGFromHitFile(filepath.Base(hf.path), hf.target), TargetID: hf.target, NHits: n}
			mu.Lock()
			hits = append(hits, h)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrNoHits
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].MAG != hits[j].MAG {
			return hits[i].MAG < hits[j].MAG
		}
		return hits[i].TargetID < hits[j].TargetID
	})
	return hits, nil
}

// Wide pivots hits into a MAG x target matrix, summing duplicates. Absent
// pairs are zero. Rows and columns are sorted.
func Wide(hits []Hit) (header []string, rows [][]string) {
	cells := make(map[string]map[string]int)
	targets := tabular.NewSet()
	for _, h := range hits {
		if cells[h.MAG] == nil {
			cells[h.MAG] = make(map[string]int)
		}
		cells[h.MAG][h.TargetID] += h.NHits
		targets.Add(h.TargetID)
	}

	cols := targets.Sorted()
	header = append([]string{"MAG"}, cols...)
	mags := make([]string, 0, len(cells))
	for m := range cells {
		mags = append(mags, m)
	}
	sort.Strings(mags)
	for _, m := range mags {
		row := make([]string, 0, len(header))
		row = append(row, m)
		for _, t := range cols {
			row = append(row, strconv.Itoa(cells[m][t]))
		}
		rows = append(rows, row)
	}
	return header, rows
}

// LongPath and WidePath are the summary tables under an output prefix.
func LongPath(prefix string) string { return prefix + "_long.tsv" }

func WidePath(prefix string) string { return prefix + "_wide.tsv" }

// WriteSummary writes the long and wide tables of hits.
func WriteSummary(prefix string, hits []Hit) error {
	if err := tabular.WriteTable(LongPath(prefix), tabular.TSV, hits); err != nil {
		return err
	}
	header, rows := Wide(hits)
	return tabular.WriteRows(WidePath(prefix), tabular.TSV, header, rows)
}
