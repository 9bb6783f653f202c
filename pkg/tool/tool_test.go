package tool

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const domtblSample = `#                                                                            --- full sequence --- -------------- this domain -------------   hmm coord   ali coord   env coord
# target name        accession   tlen query name           accession   qlen   E-value  score  bias   #  of  c-Evalue  i-Evalue  score  bias  from    to  from    to  from    to  acc description of target
Acetate_kinase       PF00871.20   388 MAG_1_00001          -            400  1.2e-120  401.2   0.1   1   1  1.1e-123  1.5e-120  400.9   0.1     3   385     5   395     4   396 0.98 Acetokinase family
PTA_PTB              PF01515.22   319 MAG_1_00002          -            330   3.4e-08   30.1   0.0   1   2   2.0e-10   3.0e-08   29.9   0.0   100   180    20   100    18   102 0.90 Phosphate acetyl/butyryl transferase
short line
`

const blastSample = "MAG_1|q1\tsp|P0A9M8|PTA\t71.50\t400\t110\t2\t1\t400\t1\t400\t1e-150\t520.3\tPhosphate acetyltransferase\t98\n" +
	"MAG_1|q1\tsp|Q00000|X\t40.00\t100\t60\t0\t1\t100\t1\t100\t1e-5\t50.0\tOther\n" +
	"MAG_1|q2\tsp|P1\t30.0\t50\t35\t0\t1\t50\t1\t50\t0.001\t20.1\n" +
	"too\tshort\n"

func TestParseDomtbl(t *testing.T) {
	hits, err := ParseDomtbl(strings.NewReader(domtblSample))
	if err != nil {
		t.Fatalf("ParseDomtbl: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}

	h := hits[0]
	if h.TargetName != "Acetate_kinase" || h.TargetAcc != "PF00871.20" || h.Query != "MAG_1_00001" {
		t.Errorf("hit = %+v", h)
	}
	if h.IEvalue != 1.5e-120 {
		t.Errorf("IEvalue = %v, want 1.5e-120", h.IEvalue)
	}
	coverages := []struct {
		name      string
		got, want float64
	}{
		{"hmm", h.HMMCoverage(), 383.0 / 388.0},
		{"query", h.QueryCoverage(0), 391.0 / 400.0},
		{"query with length", h.QueryCoverage(391), 1},
	}
	for _, c := range coverages {
		if math.Abs(c.got-c.want) > 1e-12 {
			t.Errorf("%s coverage = %v, want %v", c.name, c.got, c.want)
		}
	}

	if grouped := GroupByQuery(hits); len(grouped["MAG_1_00002"]) != 1 {
		t.Errorf("GroupByQuery = %v", grouped)
	}
}

func TestParseDomtblBadNumber(t *testing.T) {
	bad := strings.Replace(domtblSample, "1.5e-120", "oops", 1)
	if _, err := ParseDomtbl(strings.NewReader(bad)); err == nil {
		t.Error("ParseDomtbl succeeded on a bad number")
	}
}

func TestParseBlastTab(t *testing.T) {
	hits, err := ParseBlastTab(strings.NewReader(blastSample))
	if err != nil {
		t.Fatalf("ParseBlastTab: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}

	h := hits[0]
	if h.Qseqid != "MAG_1|q1" || h.Pident != 71.5 || h.Qcovs != 98.0 || h.Length != 400 {
		t.Errorf("hits[0] = %+v", h)
	}
	if h.Stitle != "Phosphate acetyltransferase" {
		t.Errorf("hits[0].Stitle = %q", h.Stitle)
	}
	if hits[1].Stitle != "Other" || hits[1].Qcovs != 0 {
		t.Errorf("hits[1] = %+v, want title Other without qcovs", hits[1])
	}
	if hits[2].Stitle != "" {
		t.Errorf("hits[2].Stitle = %q, want empty", hits[2].Stitle)
	}
}

func TestParseBlastTabFileMissing(t *testing.T) {
	hits, err := ParseBlastTabFile(filepath.Join(t.TempDir(), "none.tsv"))
	if err != nil {
		t.Fatalf("ParseBlastTabFile: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from a missing file", len(hits))
	}
}

// writeFakeTool installs a shell script named name that copies body to the
// file following flag in its argument list.
func writeFakeTool(t *testing.T, dir, name, flag, body string, exit int) {
	t.Helper()
	script := "#!/usr/bin/env bash\n" +
		"out=''\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"" + flag + "\" ]; then out=\"$2\"; shift; fi\n" +
		"  shift\n" +
		"done\n" +
		"cat > \"$out\" <<'EOF'\n" + body + "EOF\n" +
		"echo 'fake tool says hi' >&2\n" +
		"exit " + string(rune('0'+exit)) + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

// prepend a directory to PATH for this test
func prependPath(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestHmmscanWithFakeExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are bash scripts")
	}
	bin := t.TempDir()
	writeFakeTool(t, bin, "hmmscan", "--domtblout", domtblSample, 0)
	prependPath(t, bin)

	db := filepath.Join(t.TempDir(), "Pfam-A.hmm")
	touch(t, db)

	h := &Hmmscan{Database: db, CPU: 2}
	if err := h.Check(); !errors.Is(err, ErrDatabaseNotReady) {
		t.Fatalf("Check() = %v, want ErrDatabaseNotReady", err)
	}

	for _, ext := range []string{".h3f", ".h3i", ".h3m", ".h3p"} {
		touch(t, db+ext)
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check() with pressed files: %v", err)
	}

	out := filepath.Join(t.TempDir(), "q.domtblout")
	hits, err := h.Scan(context.Background(), "q.faa", out)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestBlastpWithFakeExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are bash scripts")
	}
	bin := t.TempDir()
	writeFakeTool(t, bin, "blastp", "-out", blastSample, 0)
	prependPath(t, bin)

	prefix := filepath.Join(t.TempDir(), "refdb")
	b := &Blastp{Database: prefix, Threads: 4, Evalue: 1e-5}
	if err := b.Check(); !errors.Is(err, ErrDatabaseNotReady) {
		t.Fatalf("Check() = %v, want ErrDatabaseNotReady", err)
	}

	touch(t, prefix+".pal")
	if err := b.Check(); err != nil {
		t.Fatalf("Check() with alias file: %v", err)
	}

	hits, err := b.Search(context.Background(), "q.faa", filepath.Join(t.TempDir(), "hits.tsv"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3", len(hits))
	}
}

func TestToolFailureCarriesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are bash scripts")
	}
	bin := t.TempDir()
	writeFakeTool(t, bin, "hmmscan", "--domtblout", "", 1)
	prependPath(t, bin)

	h := &Hmmscan{Database: "db.hmm"}
	err := h.Run(context.Background(), "q.faa", filepath.Join(t.TempDir(), "out"))
	if err == nil || !strings.Contains(err.Error(), "fake tool says hi") {
		t.Fatalf("err = %v, want the tool's stderr", err)
	}
}

func TestToolNotFound(t *testing.T) {
	h := &Hmmscan{Bin: "definitely-not-a-real-hmmscan"}
	err := h.Run(context.Background(), "q.faa", "out")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}
