package homology

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/yumyai/magscreen/pkg/tabular"
	"github.com/yumyai/magscreen/pkg/validate"
)

// GeneTableSchema is the subset of the domain validation gene table read here.
var GeneTableSchema = tabular.Schema{
	{Key: "metabolism"},
	{Key: "mag_id", Aliases: []string{"mag"}},
	{Key: "step"},
	{Key: "kegg_ko"},
	{Key: "query"},
	{Key: "protein_length_aa"},
	{Key: "label"},
}

// Query is one distinct (MAG, query) pair that failed or was held by domain
// validation.
type Query struct {
	Metabolism    string
	MAG           string
	Query         string
	Label         string // HOLD or FAIL
	ProteinLength string
	Steps         tabular.Set
	KOs           tabular.Set
}

// ID is the sequence id used in the search FASTA.
func (q *Query) ID() string {
	return q.MAG + "|" + q.Query
}

// merge folds another row of the same pair in. HOLD outranks FAIL.
func (q *Query) merge(label, step, ko string) {
	if step != "" {
		q.Steps.Add(step)
	}
	if ko != "" {
		q.KOs.Add(ko)
	}
	if label == validate.LabelHold {
		q.Label = validate.LabelHold
	}
}

// ReadQueries loads the HOLD and FAIL pairs of a gene table, sorted by MAG then
// query. A table missing a required column is an error wrapping
// tabular.ErrMissingColumns.
func ReadQueries(path string) ([]*Query, error) {
	r, err := tabular.Open(path, tabular.TSV, GeneTableSchema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	type key struct{ mag, query string }
	byKey := make(map[key]*Query)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		label := rec.Get("label")
		if label != validate.LabelHold && label != validate.LabelFail {
			continue
		}
		k := key{rec.Get("mag_id"), rec.Get("query")}
		if k.mag == "" || k.query == "" {
			continue
		}

		q, ok := byKey[k]
		if !ok {
			q = &Query{
				Metabolism:    rec.Get("metabolism"),
				MAG:           k.mag,
				Query:         k.query,
				Label:         label,
				ProteinLength: rec.Get("protein_length_aa"),
				Steps:         tabular.NewSet(),
				KOs:           tabular.NewSet(),
			}
			byKey[k] = q
		}
		q.merge(label, rec.Get("step"), rec.Get("kegg_ko"))
	}

	out := make([]*Query, 0, len(byKey))
	for _, q := range byKey {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MAG != out[j].MAG {
			return out[i].MAG < out[j].MAG
		}
		return out[i].Query < out[j].Query
	})
	return out, nil
}
