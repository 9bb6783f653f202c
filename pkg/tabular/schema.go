// Column alias tables for the loosely specified TSV/CSV inputs of the pipeline.
//
// Every input format is described once by a Schema. The header line is resolved
// against it at load time, so downstream code reads a record by canonical key and
// never re-checks alternate spellings.

package tabular

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrMissingColumns = errors.New("missing required columns")

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeHeader lower-cases a header cell and collapses punctuation to "_".
// "KEGG_ko", "kegg ko" and "#KEGG-KO" all become "kegg_ko".
func NormalizeHeader(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.Trim(nonAlnum.ReplaceAllString(s, "_"), "_")
}

type Column struct {
	Key      string   // canonical key used by callers
	Aliases  []string // accepted spellings besides Key, compared after NormalizeHeader
	Optional bool
}

type Schema []Column

// Header maps canonical keys to field positions.
type Header map[string]int

// Resolve matches a header line against the schema. The first matching column wins
// when a file carries two spellings of the same key.
func (s Schema) Resolve(fields []string) (Header, error) {
	norm := make(map[string]int, len(fields))
	for i, f := range fields {
		n := NormalizeHeader(f)
		if _, seen := norm[n]; !seen {
			norm[n] = i
		}
	}

	h := make(Header, len(s))
	var missing []string
	for _, col := range s {
		idx, ok := lookup(norm, col)
		if ok {
			h[col.Key] = idx
			continue
		}
		if !col.Optional {
			missing = append(missing, col.Key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return h, nil
}

func lookup(norm map[string]int, col Column) (int, bool) {
	if idx, ok := norm[NormalizeHeader(col.Key)]; ok {
		return idx, true
	}
	for _, alias := range col.Aliases {
		if idx, ok := norm[NormalizeHeader(alias)]; ok {
			return idx, true
		}
	}
	return 0, false
}

// Has reports whether the key was present in the resolved header.
func (h Header) Has(key string) bool {
	_, ok := h[key]
	return ok
}

// Record is one data row viewed through a resolved header.
type Record struct {
	Fields []string
	header Header
}

func NewRecord(fields []string, h Header) Record {
	return Record{Fields: fields, header: h}
}

// Get returns the trimmed value for key, or "" when the column is absent or the
// row is short.
func (r Record) Get(key string) string {
	idx, ok := r.header[key]
	if !ok || idx >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[idx])
}

// Covers reports whether the row is long enough to hold all given keys.
func (r Record) Covers(keys ...string) bool {
	for _, k := range keys {
		idx, ok := r.header[k]
		if !ok || idx >= len(r.Fields) {
			return false
		}
	}
	return true
}
