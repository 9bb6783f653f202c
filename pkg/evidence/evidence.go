// Package evidence records which predicted proteins of a candidate MAG
// support which metabolism steps.
//
// Each eggNOG query's KOs are mapped back through the gene set to step ids;
// one row is written per (step, KO, query), enriched with the Bakta product,
// PFAM cross-references and protein length.
package evidence

import (
	"sort"
	"strconv"
	"strings"

	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/tabular"
)

type Row struct {
	Step           string `csv:"step"`
	KO             string `csv:"KEGG_ko"`
	GeneSetProduct string `csv:"gene_set_product"`
	Query          string `csv:"query"`
	BaktaProduct   string `csv:"bakta_product"`
	BaktaPFAM      string `csv:"bakta_PFAM"`
	ProteinLength  string `csv:"protein_length_aa"`
}

func (r Row) key() [7]string {
	return [7]string{r.Step, r.KO, r.GeneSetProduct, r.Query, r.BaktaProduct, r.BaktaPFAM, r.ProteinLength}
}

// Length returns the protein length, or 0 when it was unknown.
func (r Row) Length() int {
	n, _ := strconv.Atoi(r.ProteinLength)
	return n
}

// Stats counts what could not be enriched while building rows.
type Stats struct {
	Genes        int
	MissingInGFF int
	MissingInFAA int
}

// BuildRows maps annotated queries onto the steps of m. Rows are unique and
// sorted by all columns.
func BuildRows(m *geneset.Metabolism, queryKOs map[string]tabular.Set, gff map[string]CDS, lengths map[string]int) ([]Row, Stats) {
	index := m.KOIndex()

	var (
		rows  []Row
		stats Stats
	)
	queries := make([]string, 0, len(queryKOs))
	for q := range queryKOs {
		queries = append(queries, q)
	}
	sort.Strings(queries)

	for _, q := range queries {
		var hits []Row
		for _, ko := range queryKOs[q].Sorted() {
			for _, step := range index[ko] {
				hits = append(hits, Row{
					Step:           step,
					KO:             ko,
					GeneSetProduct: strings.Join(m.Products(ko), ";"),
					Query:          q,
				})
			}
		}
		if len(hits) == 0 {
			continue
		}
		stats.Genes++

		cds, inGFF := gff[q]
		if !inGFF {
			stats.MissingInGFF++
		}
		length, inFAA := lengths[q]
		if !inFAA {
			stats.MissingInFAA++
		}

		for _, h := range hits {
			h.BaktaProduct = cds.Product
			h.BaktaPFAM = strings.Join(cds.PFAMs, ";")
			if inFAA {
				h.ProteinLength = strconv.Itoa(length)
			}
			rows = append(rows, h)
		}
	}
	return Dedup(rows), stats
}

// Dedup removes duplicate rows and sorts the rest.
func Dedup(rows []Row) []Row {
	seen := make(map[[7]string]struct{}, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		k := r.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key(), out[j].key()
		for x := range a {
			if a[x] != b[x] {
				return a[x] < b[x]
			}
		}
		return false
	})
	return out
}

// Write stores rows as the per-MAG evidence CSV.
func Write(path string, rows []Row) error {
	return tabular.WriteTable(path, tabular.CSV, Dedup(rows))
}

// Read loads a per-MAG evidence CSV.
func Read(path string) ([]Row, error) {
	var rows []Row
	if err := tabular.ReadTable(path, tabular.CSV, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FileName is the evidence CSV of a MAG inside its metabolism directory.
func FileName(mag string) string {
	return mag + ".csv"
}
