package module

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/tabular"
)

// Abundance is a MAG x sample table. Cells are kept as read.
type Abundance struct {
	Samples []string
	cells   map[string][]string
}

// LoadAbundance reads a table with one MAG column (magCol, matched after header
// normalisation) and one column per sample. The delimiter follows the file name.
func LoadAbundance(path, magCol string) (*Abundance, error) {
	r, err := tabular.Open(path, tabular.CommaFor(path), tabular.Schema{{Key: magCol}})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	magIdx := r.Header()[magCol]
	a := &Abundance{cells: make(map[string][]string)}
	var sampleIdx []int
	for i, c := range r.Columns() {
		if i == magIdx {
			continue
		}
		a.Samples = append(a.Samples, c)
		sampleIdx = append(sampleIdx, i)
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		mag := rec.Get(magCol)
		if mag == "" {
			continue
		}
		if _, dup := a.cells[mag]; dup {
			logger.Warn("Duplicate MAG in abundance table, keeping first", zap.String("mag", mag), zap.String("path", path))
			continue
		}
		row := make([]string, len(sampleIdx))
		for j, i := range sampleIdx {
			if i < len(rec.Fields) {
				row[j] = rec.Fields[i]
			}
		}
		a.cells[mag] = row
	}
	return a, nil
}

// Row returns the sample cells of mag, or nil when mag is absent.
func (a *Abundance) Row(mag string) []string {
	return a.cells[mag]
}

// Value is the numeric abundance of mag in sample j. Absent or non-numeric
// cells count as zero.
func (a *Abundance) Value(mag string, j int) float64 {
	row := a.cells[mag]
	if j >= len(row) {
		return 0
	}
	v, err := strconv.ParseFloat(row[j], 64)
	if err != nil {
		return 0
	}
	return v
}

// JoinAbundance appends each hit's sample cells. Hits of MAGs missing from the
// table get empty cells.
func JoinAbundance(hits []Hit, a *Abundance) (header []string, rows [][]string) {
	header = append([]string{"MAG", "TargetID", "n_hits"}, a.Samples...)
	for _, h := range hits {
		row := make([]string, 0, len(header))
		row = append(row, h.MAG, h.TargetID, strconv.Itoa(h.NHits))
		cells := a.Row(h.MAG)
		for j := range a.Samples {
			if j < len(cells) {
				row = append(row, cells[j])
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return header, rows
}

// Potential is the abundance-weighted presence of a target in one sample.
type Potential struct {
	TargetID  string  `csv:"TargetID"`
	Sample    string  `csv:"Sample"`
	Potential float64 `csv:"Potential"`
}

// weight of a MAG's hits. Hit counts below presenceMin weigh zero.
func weight(nHits int, mode string, presenceMin int) float64 {
	if nHits < presenceMin {
		return 0
	}
	if mode == config.WeightHits {
		return float64(nHits)
	}
	return 1
}

// SamplePotential sums abundance x weight over the MAGs of each target, for
// every sample. Targets are sorted; samples keep table order.
func SamplePotential(hits []Hit, a *Abundance, mode string, presenceMin int) []Potential {
	byTarget := make(map[string][]Hit)
	for _, h := range hits {
		byTarget[h.TargetID] = append(byTarget[h.TargetID], h)
	}
	ids := make([]string, 0, len(byTarget))
	for id := range byTarget {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Potential
	for _, id := range ids {
		for j, s := range a.Samples {
			sum := 0.0
			for _, h := range byTarget[id] {
				sum += a.Value(h.MAG, j) * weight(h.NHits, mode, presenceMin)
			}
			out = append(out, Potential{TargetID: id, Sample: s, Potential: sum})
		}
	}
	return out
}

// MAGSummaryPath and PotentialPath are the abundance outputs under a prefix.
func MAGSummaryPath(prefix string) string { return prefix + "_MAG_summary.tsv" }

func PotentialPath(prefix string) string { return prefix + "_sample_potential.tsv" }
