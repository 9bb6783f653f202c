package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/evidence"
	"github.com/yumyai/magscreen/pkg/tool"
)

var defaultCriteria = Criteria{EvaluePass: 1e-5, CovPass: 0.60, CovHold: 0.40}

// hit builds a domain hit on a 100-residue profile covering hmmLen positions.
func hit(query, acc string, ievalue float64, hmmLen int) tool.DomainHit {
	return tool.DomainHit{
		TargetName: "dom_" + acc,
		TargetAcc:  acc,
		TargetLen:  100,
		Query:      query,
		QueryLen:   200,
		IEvalue:    ievalue,
		HMMFrom:    1,
		HMMTo:      hmmLen,
		AliFrom:    11,
		AliTo:      60,
	}
}

func TestLabelQuery(t *testing.T) {
	tests := []struct {
		name string
		hits []tool.DomainHit
		want string
	}{
		{"no hits", nil, LabelNoDomain},
		{"pass coverage", []tool.DomainHit{hit("q", "PF1", 1e-20, 65)}, LabelPass},
		{"hold coverage", []tool.DomainHit{hit("q", "PF1", 1e-20, 45)}, LabelHold},
		{"low coverage", []tool.DomainHit{hit("q", "PF1", 1e-20, 10)}, LabelFail},
		{"pass boundary inclusive", []tool.DomainHit{hit("q", "PF1", 1e-20, 60)}, LabelPass},
		{"hold boundary inclusive", []tool.DomainHit{hit("q", "PF1", 1e-20, 40)}, LabelHold},
		{"no qualifying evalue", []tool.DomainHit{hit("q", "PF1", 1e-3, 90)}, LabelFail},
		{
			"any qualifying hit can pass",
			[]tool.DomainHit{hit("q", "PF1", 1e-30, 20), hit("q", "PF2", 1e-6, 70)},
			LabelPass,
		},
		{
			"non-qualifying coverage ignored",
			[]tool.DomainHit{hit("q", "PF1", 1e-2, 90), hit("q", "PF2", 1e-9, 45)},
			LabelHold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LabelQuery(tt.hits, defaultCriteria); got != tt.want {
				t.Errorf("LabelQuery() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBestHitIgnoresOrder(t *testing.T) {
	a := hit("q", "PF_weak", 1e-8, 50)
	b := hit("q", "PF_strong", 1e-10, 50)

	best, ok := BestHit([]tool.DomainHit{a, b})
	if !ok || best.TargetAcc != "PF_strong" {
		t.Errorf("BestHit(a, b) = %s, %v", best.TargetAcc, ok)
	}
	if best, _ = BestHit([]tool.DomainHit{b, a}); best.TargetAcc != "PF_strong" {
		t.Errorf("BestHit(b, a) = %s", best.TargetAcc)
	}

	first := hit("q", "PF_first", 1e-10, 50)
	if best, _ = BestHit([]tool.DomainHit{first, b}); best.TargetAcc != "PF_first" {
		t.Errorf("tie should keep the first hit, got %s", best.TargetAcc)
	}
	if _, ok = BestHit(nil); ok {
		t.Error("BestHit(nil) reported a hit")
	}
}

func TestMAGLabelFor(t *testing.T) {
	threshold := StepThreshold(4, 0.75)
	if threshold != 3 {
		t.Fatalf("StepThreshold(4, 0.75) = %d, want 3", threshold)
	}

	tests := []struct {
		total, pass, holdOrPass, threshold int
		want                               string
	}{
		{4, 3, 3, threshold, MAGConfirmed},
		{4, 2, 3, threshold, MAGPutative},
		{4, 2, 2, threshold, MAGNotSupported},
		{0, 0, 0, StepThreshold(0, 0.75), MAGNotSupported},
	}
	for _, tt := range tests {
		if got := MAGLabelFor(tt.total, tt.pass, tt.holdOrPass, tt.threshold); got != tt.want {
			t.Errorf("MAGLabelFor(%d, %d, %d, %d) = %s, want %s", tt.total, tt.pass, tt.holdOrPass, tt.threshold, got, tt.want)
		}
	}
}

// cannedScanner returns fixed hits and records the FASTA files it was given.
type cannedScanner struct {
	hits  []tool.DomainHit
	calls []string
	err   error
}

func (c *cannedScanner) Scan(_ context.Context, queryFasta, outPath string) ([]tool.DomainHit, error) {
	c.calls = append(c.calls, queryFasta)
	if c.err != nil {
		return nil, c.err
	}
	return c.hits, nil
}

const reusedDomtbl = "# target name accession tlen query name accession qlen ...\n" +
	"PF_A PF00001.1 100 MAG_2_q1 - 200 1e-20 50.0 0.0 1 1 1e-22 1e-20 50.0 0.0 1 80 1 100 1 100 0.90 reused domain\n"

type fixture struct {
	cfg     *config.Config
	scanner *cannedScanner
	v       *Validator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		BaktaRoot:   filepath.Join(root, "bakta"),
		WorkDir:     filepath.Join(root, "work"),
		Metabolisms: []string{"acetate"},
		Threshold:   0.75,
		Hmmscan:     config.Hmmscan{EvaluePass: 1e-5, CovPass: 0.60, CovHold: 0.40},
	}
	dir := cfg.MetabolismDir("acetate")

	mag1 := []evidence.Row{
		{Step: "S1", KO: "K00001", Query: "q1", ProteinLength: "200"},
		{Step: "S1", KO: "K00005", Query: "q5", ProteinLength: "200"},
		{Step: "S2", KO: "K00002", Query: "q2", ProteinLength: "200"},
		{Step: "S3", KO: "K00003", Query: "q3", ProteinLength: "200"},
		{Step: "S4", KO: "K00004", Query: "q4", ProteinLength: "200"},
	}
	writeEvidence(t, filepath.Join(dir, "MAG_1.csv"), mag1)
	writeProteins(t, cfg.BaktaRoot, "MAG_1", "q1", "q2", "q3", "q4", "q5")

	mag2 := []evidence.Row{{Step: "S1", KO: "K00001", Query: "MAG_2_q1", ProteinLength: "150"}}
	writeEvidence(t, filepath.Join(dir, "MAG_2.csv"), mag2)
	writeProteins(t, cfg.BaktaRoot, "MAG_2", "MAG_2_q1")
	if err := os.WriteFile(filepath.Join(dir, DomtblName("MAG_2")), []byte(reusedDomtbl), 0o644); err != nil {
		t.Fatalf("write domtbl: %v", err)
	}

	// No protein FASTA: skipped.
	writeEvidence(t, filepath.Join(dir, "MAG_3.csv"), mag2)

	proteins, err := db.NewProteinDB(cfg.BaktaRoot)
	if err != nil {
		t.Fatalf("NewProteinDB: %v", err)
	}

	scanner := &cannedScanner{hits: []tool.DomainHit{
		hit("q1", "PF_pass", 1e-30, 65),
		hit("q2", "PF_pass", 1e-25, 90),
		hit("q3", "PF_hold", 1e-12, 45),
		hit("q5", "PF_weak", 1e-3, 90),
	}}
	return fixture{
		cfg:     cfg,
		scanner: scanner,
		v:       &Validator{Config: cfg, Proteins: proteins, Scanner: scanner},
	}
}

func writeEvidence(t *testing.T, path string, rows []evidence.Row) {
	t.Helper()
	if err := evidence.Write(path, rows); err != nil {
		t.Fatalf("write evidence %s: %v", path, err)
	}
}

func writeProteins(t *testing.T, root, mag string, ids ...string) {
	t.Helper()
	path := filepath.Join(root, mag, mag+".faa")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	var body []byte
	for _, id := range ids {
		body = append(body, ">"+id+" some protein\nMSTNPKPQRKTKRNTNRRPQDVKFPGG*\n"...)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write proteins: %v", err)
	}
}

func TestValidatorRun(t *testing.T) {
	f := newFixture(t)

	res, err := f.v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := f.cfg.MetabolismDir("acetate")
	wantCalls := []string{filepath.Join(dir, SubsetFastaName("MAG_1"))}
	if !reflect.DeepEqual(f.scanner.calls, wantCalls) {
		t.Errorf("scanner calls = %v, want %v (MAG_2 reuses its domain table)", f.scanner.calls, wantCalls)
	}

	if len(res.MAGs) != 2 {
		t.Fatalf("got %d MAG rows, want 2", len(res.MAGs))
	}
	want := MAGResult{
		Metabolism:          "acetate",
		MAG:                 "MAG_1",
		NQueries:            5,
		NPass:               2,
		NHold:               1,
		NFail:               1,
		NNoDomain:           1,
		StepsTotal:          4,
		StepThreshold:       3,
		StepsWithPass:       2,
		StepsWithHoldOrPass: 3,
		Label:               MAGPutative,
	}
	if res.MAGs[0] != want {
		t.Errorf("MAG_1 summary = %+v, want %+v", res.MAGs[0], want)
	}
	if m2 := res.MAGs[1]; m2.MAG != "MAG_2" || m2.Label != MAGConfirmed {
		t.Errorf("MAG_2 summary = %s %s, want MAG_2 CONFIRMED", m2.MAG, m2.Label)
	}

	labels := map[string]string{}
	for _, g := range res.Genes {
		labels[g.Query] = g.Label
	}
	if labels["q4"] != LabelNoDomain {
		t.Errorf("q4 = %s, absence of hits should be NO_DOMAIN", labels["q4"])
	}
	if labels["q5"] != LabelFail {
		t.Errorf("q5 = %s, want FAIL", labels["q5"])
	}
	if labels["q3"] != LabelHold {
		t.Errorf("q3 = %s, want HOLD", labels["q3"])
	}

	rows, err := ReadGeneLevel(filepath.Join(f.cfg.WorkDir, GeneLevelFile))
	if err != nil {
		t.Fatalf("ReadGeneLevel: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("got %d gene rows, want 6", len(rows))
	}
	first := rows[0]
	if first.Query != "q1" || first.BestDomainAcc != "PF_pass" {
		t.Errorf("first row = %s %s", first.Query, first.BestDomainAcc)
	}
	if first.BestIEvalue != "1.00e-30" || first.BestHMMCov != "0.650" {
		t.Errorf("best hit = %s %s", first.BestIEvalue, first.BestHMMCov)
	}
	// 50 aligned residues over the 27-residue subset sequence
	if first.BestQueryCov != "1.852" {
		t.Errorf("BestQueryCov = %s, want 1.852", first.BestQueryCov)
	}
	if first.AllDomainHits != "dom_PF_pass|PF_pass|1.00e-30|0.650" {
		t.Errorf("AllDomainHits = %s", first.AllDomainHits)
	}

	for _, r := range rows {
		if r.Query == "q4" && (r.BestDomainAcc != "" || r.BestIEvalue != "") {
			t.Errorf("q4 has a best hit: %+v", r)
		}
		if r.Query == "q5" && (r.BestDomainAcc != "PF_weak" || r.AllDomainHits != "") {
			t.Errorf("q5 = %s %q", r.BestDomainAcc, r.AllDomainHits)
		}
	}

	raw, err := os.ReadFile(filepath.Join(f.cfg.WorkDir, MAGLevelFile))
	if err != nil {
		t.Fatal(err)
	}
	if line := "acetate\tMAG_1\t5\t2\t1\t1\t1\t0.400\t0.200\t4\t2\t3\tPUTATIVE\n"; !strings.Contains(string(raw), line) {
		t.Errorf("MAG table missing %q:\n%s", line, raw)
	}

	subset, err := db.ReadFasta(filepath.Join(dir, SubsetFastaName("MAG_1")))
	if err != nil {
		t.Fatalf("ReadFasta: %v", err)
	}
	if len(subset) != 5 || subset["q1"].Len() != 27 {
		t.Errorf("subset has %d sequences, q1 length %d", len(subset), subset["q1"].Len())
	}
}

func TestValidatorKeepsMAGWithoutCandidateSequences(t *testing.T) {
	f := newFixture(t)
	dir := f.cfg.MetabolismDir("acetate")
	writeEvidence(t, filepath.Join(dir, "MAG_4.csv"), []evidence.Row{
		{Step: "S1", KO: "K00001", Query: "MAG_4_q1", ProteinLength: "120"},
		{Step: "S2", KO: "K00002", Query: "MAG_4_q2", ProteinLength: "130"},
	})
	writeProteins(t, f.cfg.BaktaRoot, "MAG_4", "unrelated_protein")

	res, err := f.v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, call := range f.scanner.calls {
		if strings.Contains(call, "MAG_4") {
			t.Errorf("MAG_4 should not be scanned, got call %s", call)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, SubsetFastaName("MAG_4"))); !os.IsNotExist(err) {
		t.Errorf("no subset FASTA expected for MAG_4, stat err = %v", err)
	}

	var m4 *MAGResult
	for i := range res.MAGs {
		if res.MAGs[i].MAG == "MAG_4" {
			m4 = &res.MAGs[i]
		}
	}
	if m4 == nil {
		t.Fatalf("MAG_4 missing from MAG rows: %+v", res.MAGs)
	}
	if m4.Label != MAGNotSupported || m4.NNoDomain != 2 || m4.StepsTotal != 2 {
		t.Errorf("MAG_4 summary = %+v, want NOT_SUPPORTED with 2 NO_DOMAIN queries", *m4)
	}

	n := 0
	for _, g := range res.Genes {
		if g.MAG != "MAG_4" {
			continue
		}
		n++
		if g.Label != LabelNoDomain || g.Best != nil {
			t.Errorf("gene %s = %s, want NO_DOMAIN without a best hit", g.Query, g.Label)
		}
	}
	if n != 2 {
		t.Errorf("got %d MAG_4 gene rows, want 2", n)
	}

	raw, err := os.ReadFile(filepath.Join(f.cfg.WorkDir, MAGLevelFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "acetate\tMAG_4\t") {
		t.Errorf("MAG table has no MAG_4 row:\n%s", raw)
	}
}

func TestValidatorScannerFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.scanner.err = errors.New("hmmscan exploded")

	_, err := f.v.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "hmmscan exploded") {
		t.Fatalf("Run error = %v, want the scanner failure", err)
	}
}

func TestValidatorOverwriteRescans(t *testing.T) {
	f := newFixture(t)
	f.cfg.Overwrite = true

	if _, err := f.v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.scanner.calls) != 2 {
		t.Errorf("scanner called %d times, want 2", len(f.scanner.calls))
	}
}
