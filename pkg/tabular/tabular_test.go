package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"KEGG_ko", "kegg_ko"},
		{"  Kegg KO ", "kegg_ko"},
		{"#query", "query"},
		{"MAG ID", "mag_id"},
		{"\ufeffMetabolism", "metabolism"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeHeader(tt.in); got != tt.want {
				t.Errorf("NormalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseKOs(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"empty", "", nil},
		{"dash", "-", nil},
		{"prefixed", "ko:K00925,ko:K00625", []string{"K00625", "K00925"}},
		{"junk ignored", "K01,foo,K13788", []string{"K13788"}},
		{"duplicates", "K00001, ko:K00001", []string{"K00001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKOs(tt.value)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ParseKOs(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestSchemaResolve(t *testing.T) {
	schema := Schema{
		{Key: "metabolism"},
		{Key: "kegg_ko", Aliases: []string{"ko", "kegg_kos"}},
		{Key: "product", Optional: true},
	}

	h, err := schema.Resolve([]string{"\ufeffMetabolism", "Step", "KO"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h["metabolism"] != 0 || h["kegg_ko"] != 2 {
		t.Errorf("unexpected header: %v", h)
	}
	if h.Has("product") {
		t.Errorf("optional column should be absent")
	}

	_, err = schema.Resolve([]string{"Step", "Product"})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	if !strings.Contains(err.Error(), "metabolism") || !strings.Contains(err.Error(), "kegg_ko") {
		t.Errorf("error should name missing columns: %v", err)
	}
}

func TestReaderSkipsBlankRows(t *testing.T) {
	in := "a\tb\n1\t2\n\t\n3\n"
	r, err := NewReader(strings.NewReader(in), TSV, Schema{{Key: "a"}, {Key: "b"}})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	recs, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[1].Get("b") != "" || recs[1].Covers("b") {
		t.Errorf("short row should report missing b")
	}
}

func TestCandidatesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), CandidateFileName("Acetate"))
	if filepath.Base(path) != "candidate_mags_acetate.txt" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}

	if err := WriteCandidates(path, []string{"MAG_b", "MAG_a", "MAG_b"}); err != nil {
		t.Fatalf("WriteCandidates: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if string(raw) != "MAG_a\nMAG_b\n" {
		t.Errorf("unexpected content %q", raw)
	}

	got, err := ReadCandidates(path)
	if err != nil {
		t.Fatalf("ReadCandidates: %v", err)
	}
	if strings.Join(got, ",") != "MAG_a,MAG_b" {
		t.Errorf("unexpected candidates %v", got)
	}
}

type row struct {
	Name  string `csv:"name"`
	Count int    `csv:"count"`
}

func TestWriteTableEmptyKeepsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	if err := WriteTable(path, TSV, []row{}); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "name\tcount\n" {
		t.Errorf("unexpected content %q", raw)
	}

	rows := []row{{"x,y", 2}}
	if err := WriteTable(path, TSV, rows); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}

	var back []row
	if err := ReadTable(path, TSV, &back); err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(back) != 1 || back[0] != rows[0] {
		t.Errorf("unexpected rows %+v", back)
	}
}

func TestWriteRowsAndComma(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trend.tsv.gz")
	if CommaFor(path) != TSV || CommaFor("abundance.CSV") != CSV {
		t.Fatalf("unexpected delimiter guess")
	}

	if err := WriteRows(path, TSV, []string{"Label", "d0"}, [][]string{{"c1_Foo sp.", "0.5"}}); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	r, err := Open(path, TSV, Schema{{Key: "label"}, {Key: "d0"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	recs, err := r.ReadAll()
	if err != nil || len(recs) != 1 {
		t.Fatalf("ReadAll: %v %v", recs, err)
	}
	if recs[0].Get("label") != "c1_Foo sp." || recs[0].Get("d0") != "0.5" {
		t.Errorf("unexpected record %v", recs[0].Fields)
	}
}

func TestOpenFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	mags, err := ReadCandidates(path)
	if err != nil {
		t.Fatalf("ReadCandidates on empty file: %v", err)
	}
	if len(mags) != 0 {
		t.Errorf("expected no candidates, got %v", mags)
	}

	_, err = ReadCandidates(filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
