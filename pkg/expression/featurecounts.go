// Package expression normalises per-MAG featureCounts gene tables into
// sample-wide TPM and RPKM values.
package expression

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/yumyai/magscreen/pkg/tabular"
)

var Schema = tabular.Schema{
	{Key: "geneid"},
	{Key: "chr"},
	{Key: "start"},
	{Key: "end"},
	{Key: "strand"},
	{Key: "length"},
}

// Gene is one featureCounts row. The count is the last column, so a table
// produced from several BAM files only contributes its last sample.
type Gene struct {
	Geneid string
	Chr    string
	Start  string
	End    string
	Strand string
	Length int
	Count  int64
}

// ParseFeatureCounts reads a featureCounts table. Lines starting with '#' are
// skipped and rows shorter than the header are ignored.
func ParseFeatureCounts(r io.Reader) ([]Gene, error) {
	var (
		header  tabular.Header
		nFields int
		genes   []Gene
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if header == nil {
			h, err := Schema.Resolve(fields)
			if err != nil {
				return nil, err
			}
			header, nFields = h, len(fields)
			continue
		}
		if len(fields) < nFields {
			continue
		}

		rec := tabular.NewRecord(fields, header)
		length, err := parseWhole(rec.Get("length"))
		if err != nil {
			return nil, fmt.Errorf("line %d length: %w", line, err)
		}
		count, err := parseWhole(fields[len(fields)-1])
		if err != nil {
			return nil, fmt.Errorf("line %d count: %w", line, err)
		}
		genes = append(genes, Gene{
			Geneid: rec.Get("geneid"),
			Chr:    rec.Get("chr"),
			Start:  rec.Get("start"),
			End:    rec.Get("end"),
			Strand: rec.Get("strand"),
			Length: int(length),
			Count:  count,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("no header: %w", io.ErrUnexpectedEOF)
	}
	return genes, nil
}

// parseWhole accepts integers and float spellings of them ("12", "12.0").
func parseWhole(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return int64(f), nil
}

func ParseFeatureCountsFile(path string) ([]Gene, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	genes, err := ParseFeatureCounts(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return genes, nil
}
