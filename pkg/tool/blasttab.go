package tool

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// BlastOutFmt is the -outfmt string the tabular parser expects.
const BlastOutFmt = "6 qseqid sseqid pident length mismatch gapopen qstart qend sstart send evalue bitscore stitle qcovs"

// BlastHit is one row of BLAST tabular output. Stitle and Qcovs are zero
// when the row carries only the 12 standard columns.
type BlastHit struct {
	Qseqid   string
	Sseqid   string
	Pident   float64
	Length   int
	Mismatch int
	Gapopen  int
	Qstart   int
	Qend     int
	Sstart   int
	Send     int
	Evalue   float64
	Bitscore float64
	Stitle   string
	Qcovs    float64
}

// ParseBlastTab reads tab-separated BLAST rows with 12 to 14 columns. Shorter
// rows and comment lines are skipped.
func ParseBlastTab(r io.Reader) ([]BlastHit, error) {
	var hits []BlastHit

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f := strings.Split(text, "\t")
		if len(f) < 12 {
			continue
		}

		h := BlastHit{Qseqid: f[0], Sseqid: f[1]}
		var err error
		floats := []struct {
			dst *float64
			col int
		}{
			{&h.Pident, 2},
			{&h.Evalue, 10},
			{&h.Bitscore, 11},
		}
		for _, c := range floats {
			if *c.dst, err = strconv.ParseFloat(strings.TrimSpace(f[c.col]), 64); err != nil {
				return nil, fmt.Errorf("blast line %d column %d: %w", line, c.col+1, err)
			}
		}
		ints := []struct {
			dst *int
			col int
		}{
			{&h.Length, 3}, {&h.Mismatch, 4}, {&h.Gapopen, 5},
			{&h.Qstart, 6}, {&h.Qend, 7}, {&h.Sstart, 8}, {&h.Send, 9},
		}
		for _, c := range ints {
			if *c.dst, err = strconv.Atoi(strings.TrimSpace(f[c.col])); err != nil {
				return nil, fmt.Errorf("blast line %d column %d: %w", line, c.col+1, err)
			}
		}

		if len(f) > 12 {
			h.Stitle = f[12]
		}
		if len(f) > 13 {
			if h.Qcovs, err = strconv.ParseFloat(strings.TrimSpace(f[13]), 64); err != nil {
				return nil, fmt.Errorf("blast line %d qcovs: %w", line, err)
			}
		}
		hits = append(hits, h)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// ParseBlastTabFile parses a BLAST tabular file. A missing file yields no hits.
func ParseBlastTabFile(path string) ([]BlastHit, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hits, err := ParseBlastTab(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hits, nil
}
