package evidence

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/tabular"
)

const geneSetTSV = "Metabolism\tStep\tKEGG_ko\tProduct\n" +
	"acetate\tS1\tK00925\tacetate kinase\n" +
	"acetate\tS2\tK00625\tphosphate acetyltransferase\n"

const annotationTSV = "## emapper-2.1.12\n" +
	"#query\tseed_ortholog\tKEGG_ko\n" +
	"MAG_1_00001\tx\tko:K00925\n" +
	"MAG_1_00002\tx\tko:K00625,ko:K00925\n" +
	"MAG_1_00003\tx\t-\n"

const gffText = "##gff-version 3\n" +
	"contig_1\tBakta\tgene\t1\t300\t.\t+\t.\tID=gene_1\n" +
	"contig_1\tBakta\tCDS\t1\t300\t.\t+\t0\tID=MAG_1_00001;product=acetate%20kinase;Dbxref=PFAM:PF00871,UniRef:UniRef50_X,PFAM:PF00871\n" +
	"contig_1\tBakta\tCDS\t400\t700\t.\t-\t0\tproduct=no id\n" +
	"##FASTA\n" +
	">contig_1\n" +
	"ACGT\n"

const faaText = ">MAG_1_00001 acetate kinase\nMKV*\n>MAG_1_00002 hypothetical\nMKVL\n"

func TestParseGFF3(t *testing.T) {
	cds, err := ParseGFF3(strings.NewReader(gffText))
	if err != nil {
		t.Fatalf("ParseGFF3: %v", err)
	}
	if len(cds) != 1 {
		t.Fatalf("got %d CDS, want 1", len(cds))
	}

	c := cds["MAG_1_00001"]
	if c.Product != "acetate kinase" {
		t.Errorf("Product = %q", c.Product)
	}
	if want := []string{"PF00871"}; !reflect.DeepEqual(c.PFAMs, want) {
		t.Errorf("PFAMs = %v, want %v", c.PFAMs, want)
	}
}

func TestParseGFF3StopsAtFasta(t *testing.T) {
	text := "##FASTA\n" +
		"contig_1\tBakta\tCDS\t1\t300\t.\t+\t0\tID=after_fasta\n"
	cds, err := ParseGFF3(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseGFF3: %v", err)
	}
	if len(cds) != 0 {
		t.Errorf("got %d CDS after ##FASTA, want none", len(cds))
	}
}

func TestBuildRows(t *testing.T) {
	gs, err := geneset.Parse(strings.NewReader(geneSetTSV), tabular.NewSet("acetate"))
	if err != nil {
		t.Fatalf("geneset.Parse: %v", err)
	}
	m, _ := gs.Get("acetate")

	queryKOs := map[string]tabular.Set{
		"q1": tabular.NewSet("K00925"),
		"q2": tabular.NewSet("K00625", "K00925"),
		"q3": tabular.NewSet("K99999"),
	}
	gff := map[string]CDS{"q1": {Product: "acetate kinase", PFAMs: []string{"PF00871", "PF01515"}}}
	lengths := map[string]int{"q1": 400}

	rows, stats := BuildRows(m, queryKOs, gff, lengths)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if want := (Stats{Genes: 2, MissingInGFF: 1, MissingInFAA: 1}); stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	want := Row{
		Step:           "S1",
		KO:             "K00925",
		GeneSetProduct: "acetate kinase",
		Query:          "q1",
		BaktaProduct:   "acetate kinase",
		BaktaPFAM:      "PF00871;PF01515",
		ProteinLength:  "400",
	}
	if rows[0] != want {
		t.Errorf("rows[0] = %+v, want %+v", rows[0], want)
	}
	if rows[1].Query != "q2" || rows[2].Step != "S2" {
		t.Errorf("order = %s, %s", rows[1].Query, rows[2].Step)
	}
	if rows[2].ProteinLength != "" || rows[2].Length() != 0 {
		t.Errorf("rows[2] length = %q / %d, want unknown", rows[2].ProteinLength, rows[2].Length())
	}
}

func TestDedup(t *testing.T) {
	rows := []Row{
		{Step: "S2", KO: "K2", Query: "b"},
		{Step: "S1", KO: "K1", Query: "a"},
		{Step: "S2", KO: "K2", Query: "b"},
	}
	out := Dedup(rows)
	if len(out) != 2 || out[0].Step != "S1" || out[1].Step != "S2" {
		t.Errorf("Dedup() = %+v", out)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestExtractorRun(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		AnnotationRoot: filepath.Join(root, "eggnog"),
		BaktaRoot:      filepath.Join(root, "bakta"),
		WorkDir:        filepath.Join(root, "work"),
		Metabolisms:    []string{"acetate", "butyrate"},
	}

	writeFile(t, filepath.Join(cfg.AnnotationRoot, "batch1", "MAG_1.eggnog.emapper.annotations"), annotationTSV)
	writeFile(t, filepath.Join(cfg.BaktaRoot, "MAG_1", "MAG_1.gff3"), gffText)
	writeFile(t, filepath.Join(cfg.BaktaRoot, "MAG_1", "MAG_1.faa"), faaText)
	// MAG_2 has no annotation and is skipped.
	if err := tabular.WriteCandidates(cfg.CandidatePath("acetate"), []string{"MAG_2", "MAG_1"}); err != nil {
		t.Fatal(err)
	}

	gs, err := geneset.Parse(strings.NewReader(geneSetTSV), cfg.Vocabulary())
	if err != nil {
		t.Fatalf("geneset.Parse: %v", err)
	}
	proteins, err := db.NewProteinDB(cfg.BaktaRoot)
	if err != nil {
		t.Fatalf("NewProteinDB: %v", err)
	}

	ex := &Extractor{Config: cfg, GeneSet: gs, Proteins: proteins}
	sums, err := ex.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// butyrate has no candidate list and is skipped.
	if len(sums) != 1 {
		t.Fatalf("got %d summaries, want 1", len(sums))
	}
	s := sums[0]
	if s.Metabolism != "acetate" || s.MAGs != 1 || s.Rows != 3 || s.MissingInGFF != 1 || s.MissingInFAA != 0 {
		t.Errorf("summary = %+v", s)
	}

	out := filepath.Join(cfg.MetabolismDir("acetate"), FileName("MAG_1"))
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if want := "step,KEGG_ko,gene_set_product,query,bakta_product,bakta_PFAM,protein_length_aa"; lines[0] != want {
		t.Errorf("header = %q", lines[0])
	}
	if want := "S1,K00925,acetate kinase,MAG_1_00001,acetate kinase,PF00871,3"; lines[1] != want {
		t.Errorf("first row = %q, want %q", lines[1], want)
	}

	rows, err := Read(out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[2].Query != "MAG_1_00002" || rows[2].Length() != 4 {
		t.Errorf("rows[2] = %+v", rows[2])
	}

	if _, err := os.Stat(filepath.Join(cfg.MetabolismDir("acetate"), FileName("MAG_2"))); !os.IsNotExist(err) {
		t.Errorf("evidence written for MAG_2 without annotation (stat err %v)", err)
	}
}
