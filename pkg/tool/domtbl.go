package tool

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// DomainHit is one row of an HMMER --domtblout table.
type DomainHit struct {
	TargetName string
	TargetAcc  string
	TargetLen  int
	Query      string
	QueryLen   int
	IEvalue    float64
	HMMFrom    int
	HMMTo      int
	AliFrom    int
	AliTo      int
}

// HMMCoverage is the fraction of the profile covered by the alignment.
func (h DomainHit) HMMCoverage() float64 {
	if h.TargetLen <= 0 {
		return 0
	}
	return float64(span(h.HMMFrom, h.HMMTo)) / float64(h.TargetLen)
}

// QueryCoverage is the fraction of the protein covered by the alignment.
// queryLen overrides the length reported by the scanner when positive.
func (h DomainHit) QueryCoverage(queryLen int) float64 {
	if queryLen <= 0 {
		queryLen = h.QueryLen
	}
	if queryLen <= 0 {
		return 0
	}
	return float64(span(h.AliFrom, h.AliTo)) / float64(queryLen)
}

func span(from, to int) int {
	d := to - from
	if d < 0 {
		d = -d
	}
	return d + 1
}

// domtblout columns consumed.
const (
	colTargetName = 0
	colTargetAcc  = 1
	colTargetLen  = 2
	colQueryName  = 3
	colQueryLen   = 5
	colIEvalue    = 12
	colHMMFrom    = 15
	colHMMTo      = 16
	colAliFrom    = 17
	colAliTo      = 18
	domtblMinCols = 23
)

// ParseDomtbl reads whitespace-separated domtblout rows. Comment lines and
// rows with fewer than 23 columns are skipped; a malformed number is an error.
func ParseDomtbl(r io.Reader) ([]DomainHit, error) {
	var hits []DomainHit

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f := strings.Fields(text)
		if len(f) < domtblMinCols {
			continue
		}

		h := DomainHit{
			TargetName: f[colTargetName],
			TargetAcc:  f[colTargetAcc],
			Query:      f[colQueryName],
		}
		var err error
		ints := []struct {
			dst *int
			col int
		}{
			{&h.TargetLen, colTargetLen},
			{&h.QueryLen, colQueryLen},
			{&h.HMMFrom, colHMMFrom},
			{&h.HMMTo, colHMMTo},
			{&h.AliFrom, colAliFrom},
			{&h.AliTo, colAliTo},
		}
		for _, c := range ints {
			if *c.dst, err = strconv.Atoi(f[c.col]); err != nil {
				return nil, fmt.Errorf("domtblout line %d column %d: %w", line, c.col+1, err)
			}
		}
		if h.IEvalue, err = strconv.ParseFloat(f[colIEvalue], 64); err != nil {
			return nil, fmt.Errorf("domtblout line %d i-evalue: %w", line, err)
		}
		if math.IsNaN(h.IEvalue) {
			return nil, fmt.Errorf("domtblout line %d: i-evalue is NaN", line)
		}

		hits = append(hits, h)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// ParseDomtblFile parses a domtblout file.
func ParseDomtblFile(path string) ([]DomainHit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hits, err := ParseDomtbl(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hits, nil
}

// GroupByQuery indexes hits by query name, keeping file order within a query.
func GroupByQuery(hits []DomainHit) map[string][]DomainHit {
	out := make(map[string][]DomainHit)
	for _, h := range hits {
		out[h.Query] = append(out[h.Query], h)
	}
	return out
}
