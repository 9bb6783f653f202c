// Package annotation reads eggNOG-mapper annotation tables.
//
// An annotation file starts with "##" metadata lines, followed by a "#query"
// header and one tab-separated record per predicted protein. Only the query id
// and the KEGG_ko column are consumed.
package annotation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yumyai/magscreen/pkg/tabular"
)

const DefaultSuffix = ".eggnog.emapper.annotations"

var Schema = tabular.Schema{
	{Key: "query", Aliases: []string{"query_name", "qseqid"}},
	{Key: "kegg_ko", Aliases: []string{"ko", "kegg_kos"}},
}

// Hit is the KO content of one annotated protein.
type Hit struct {
	Query string
	KOs   []string
}

// Discover walks root and groups annotation files by MAG id, the file name
// without suffix. Paths are sorted within each MAG.
func Discover(root, suffix string) (map[string][]string, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}

	files := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		mag := strings.TrimSuffix(d.Name(), suffix)
		if mag == "" {
			return nil
		}
		files[mag] = append(files[mag], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan annotations under %s: %w", root, err)
	}

	for mag := range files {
		sort.Strings(files[mag])
	}
	return files, nil
}

// Parse reads annotation records from r. Records without a query id are
// dropped. A header missing the query or KO column is an error wrapping
// tabular.ErrMissingColumns.
func Parse(r io.Reader) ([]Hit, error) {
	var (
		header tabular.Header
		hits   []Hit
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "##") {
			continue
		}

		isHeader := strings.HasPrefix(line, "#query")
		if !isHeader && strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if isHeader || header == nil {
			h, err := Schema.Resolve(fields)
			if err != nil {
				return nil, err
			}
			header = h
			continue
		}

		rec := tabular.NewRecord(fields, header)
		query := rec.Get("query")
		if query == "" || !rec.Covers("kegg_ko") {
			continue
		}
		hits = append(hits, Hit{Query: query, KOs: tabular.ParseKOs(rec.Get("kegg_ko"))})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// ParseFile reads one annotation file, plain or compressed.
func ParseFile(path string) ([]Hit, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open annotation %s: %w", path, err)
	}
	defer f.Close()

	hits, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("annotation %s: %w", path, err)
	}
	return hits, nil
}

// KOSet is the union of KOs over every record of every file.
func KOSet(paths []string) (tabular.Set, error) {
	set := tabular.NewSet()
	for _, p := range paths {
		hits, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			set.Add(h.KOs...)
		}
	}
	return set, nil
}

// QueryKOs maps each query id to the KOs it was annotated with across files.
func QueryKOs(paths []string) (map[string]tabular.Set, error) {
	out := make(map[string]tabular.Set)
	for _, p := range paths {
		hits, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if len(h.KOs) == 0 {
				continue
			}
			if out[h.Query] == nil {
				out[h.Query] = tabular.NewSet()
			}
			out[h.Query].Add(h.KOs...)
		}
	}
	return out, nil
}

// Table is an annotation file with every column kept. Columns holds the header
// with the leading "#" of "#query" removed.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of column name, matched exactly first and then
// after header normalisation. It is -1 when the column is absent.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	want := tabular.NormalizeHeader(name)
	for i, c := range t.Columns {
		if tabular.NormalizeHeader(c) == want {
			return i
		}
	}
	return -1
}

// ErrNoHeader is returned when a file has no "#query" header line.
var ErrNoHeader = errors.New("no #query header line")

// ReadTable reads every record after the "#query" header. Comment lines are
// skipped on both sides of the header.
func ReadTable(r io.Reader) (*Table, error) {
	var t *Table

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if t == nil {
			if strings.HasPrefix(line, "#query") {
				t = &Table{Columns: strings.Split(strings.TrimPrefix(line, "#"), "\t")}
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t.Rows = append(t.Rows, strings.Split(line, "\t"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNoHeader
	}
	return t, nil
}

// ReadTableFile is ReadTable over a plain or compressed file.
func ReadTableFile(path string) (*Table, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open annotation %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("annotation %s: %w", path, err)
	}
	return t, nil
}
