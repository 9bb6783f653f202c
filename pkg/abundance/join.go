package abundance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yumyai/magscreen/pkg/tabular"
)

// Taxonomy columns, most specific last. They are never time points.
var taxonomyRanks = []string{"domain", "kingdom", "phylum", "class", "order", "family", "genus", "species"}

var tableSchema = func() tabular.Schema {
	s := tabular.Schema{{Key: "clade"}}
	for _, rank := range taxonomyRanks {
		s = append(s, tabular.Column{Key: rank, Optional: true})
	}
	return s
}()

// cladeColumns are appended after the abundance columns.
var cladeColumns = []string{
	"ANI_clade", "metabolism", "covered_step_ids", "total_required_genes",
	"present_required_genes", "gene_presence_fraction", "matched_kos", "Label",
}

// Table is a relative-abundance table keyed by clade.
type Table struct {
	Columns []string
	Records []tabular.Record
	header  tabular.Header
}

func ReadTable(path string) (*Table, error) {
	r, err := tabular.Open(path, tabular.CommaFor(path), tableSchema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Table{Columns: r.Columns(), Records: recs, header: r.Header()}, nil
}

func (t *Table) isTaxonomy(idx int) bool {
	if idx == t.header["clade"] {
		return true
	}
	for _, rank := range taxonomyRanks {
		if i, ok := t.header[rank]; ok && i == idx {
			return true
		}
	}
	return false
}

// TimeColumns returns the numeric, non-taxonomy columns in file order. A column
// qualifies when it has at least one value and every value parses as a number.
func (t *Table) TimeColumns() []string {
	var out []string
	for i, name := range t.Columns {
		if t.isTaxonomy(i) {
			continue
		}
		seen, numeric := false, true
		for _, rec := range t.Records {
			if i >= len(rec.Fields) {
				continue
			}
			v := strings.TrimSpace(rec.Fields[i])
			if v == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				numeric = false
				break
			}
		}
		if seen && numeric {
			out = append(out, name)
		}
	}
	return out
}

// Label names a clade by its species, or by the most specific rank known.
func Label(clade string, rec tabular.Record) string {
	if sp := taxon(rec, "species"); sp != "" {
		return clade + "_" + sp
	}
	for i := len(taxonomyRanks) - 2; i >= 0; i-- {
		if v := taxon(rec, taxonomyRanks[i]); v != "" {
			return clade + "_" + v + " sp."
		}
	}
	return clade + "_Unclassified sp."
}

func taxon(rec tabular.Record, rank string) string {
	v := rec.Get(rank)
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}

// Joined is one abundance row matched with one passing clade verdict.
type Joined struct {
	Record tabular.Record
	Clade  *CladeResult
	Label  string
}

// Join inner-joins the table with the passing clade results on clade id.
// Rows keep table order; a clade passing for several metabolisms yields one
// row per metabolism.
func Join(t *Table, clades []CladeResult) []Joined {
	passing := make(map[string][]*CladeResult)
	for i := range clades {
		if c := &clades[i]; c.Pass {
			passing[c.Clade] = append(passing[c.Clade], c)
		}
	}

	var out []Joined
	for _, rec := range t.Records {
		clade := rec.Get("clade")
		for _, c := range passing[clade] {
			out = append(out, Joined{Record: rec, Clade: c, Label: Label(clade, rec)})
		}
	}
	return out
}

// Header is the merged-table header: the abundance columns without the clade
// column, then the clade verdict columns.
func (t *Table) Header() []string {
	cladeIdx := t.header["clade"]
	out := make([]string, 0, len(t.Columns)+len(cladeColumns))
	for i, c := range t.Columns {
		if i != cladeIdx {
			out = append(out, c)
		}
	}
	return append(out, cladeColumns...)
}

// Row renders a joined row under Header.
func (t *Table) Row(j Joined) []string {
	cladeIdx := t.header["clade"]
	out := make([]string, 0, len(t.Columns)+len(cladeColumns))
	for i := range t.Columns {
		if i == cladeIdx {
			continue
		}
		v := ""
		if i < len(j.Record.Fields) {
			v = j.Record.Fields[i]
		}
		out = append(out, v)
	}
	c := j.Clade
	return append(out,
		c.Clade,
		c.Metabolism,
		strings.Join(c.CoveredStepIDs, ","),
		strconv.Itoa(c.TotalGenes),
		strconv.Itoa(c.PresentGenes),
		fmt.Sprintf("%.4f", c.GenePresence),
		strings.Join(c.MatchedKOs, ","),
		j.Label,
	)
}

// Values returns the numeric values of the named columns for a row; anything
// unparsable counts as zero.
func (t *Table) Values(rec tabular.Record, columns []string) []float64 {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}
	out := make([]float64, len(columns))
	for k, c := range columns {
		i, ok := idx[c]
		if !ok || i >= len(rec.Fields) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec.Fields[i]), 64)
		if err == nil {
			out[k] = v
		}
	}
	return out
}

// Series is one stacked layer of a trend: a name and one value per time point.
type Series struct {
	Name   string
	Values []float64
}

// Trend sums the time columns of joined rows by the key function, sorted by key.
func Trend(t *Table, rows []Joined, columns []string, key func(Joined) string) []Series {
	sums := make(map[string][]float64)
	for _, j := range rows {
		k := key(j)
		acc, ok := sums[k]
		if !ok {
			acc = make([]float64, len(columns))
			sums[k] = acc
		}
		for i, v := range t.Values(j.Record, columns) {
			acc[i] += v
		}
	}

	out := make([]Series, 0, len(sums))
	for k, v := range sums {
		out = append(out, Series{Name: k, Values: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
