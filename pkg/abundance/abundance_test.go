package abundance

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/screen"
	"github.com/yumyai/magscreen/pkg/tabular"
)

const geneSetTSV = "Metabolism\tStep\tKEGG_ko\n" +
	"acetate\tS1\tK00925\n" +
	"acetate\tS2\tK00625\n" +
	"acetate\tS3\tK01895\n" +
	"acetate\tS4\tK13788\n"

const abundanceCSV = "Clade,Domain,Phylum,Genus,Species,d0,d7,note\n" +
	"C1,Bacteria,Firmicutes,Syntrophomonas,Syntrophomonas wolfei,0.1,0.3,x\n" +
	"C1,Bacteria,Firmicutes,nan,,0.2,0.1,y\n" +
	"C2,Bacteria,,,,0.5,0.5,z\n"

type fixture struct {
	cfg *config.Config
	gs  *geneset.GeneSet
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		WorkDir:               filepath.Join(root, "work"),
		Metabolisms:           []string{"acetate"},
		Threshold:             0.75,
		GenePresenceThreshold: 0.5,
		Abundance: config.Abundance{
			Table:           filepath.Join(root, "abundance.csv"),
			CladeMembership: filepath.Join(root, "membership.tsv"),
		},
	}
	gs, err := geneset.Parse(strings.NewReader(geneSetTSV), cfg.Vocabulary())
	if err != nil {
		t.Fatalf("geneset.Parse: %v", err)
	}

	writeFile(t, cfg.Abundance.Table, abundanceCSV)
	writeFile(t, cfg.Abundance.CladeMembership, "user_genome\tANI_clade\nMAG_a\tC1\nMAG_b\tC1\nMAG_c\tC2\nMAG_d\t\n")

	summary := []screen.SummaryRow{
		{MAG: "MAG_a", Metabolism: "acetate", CoveredStepIDs: "S1,S2", MatchedKOs: "K00625,K00925"},
		{MAG: "MAG_b", Metabolism: "acetate", CoveredStepIDs: "S3", MatchedKOs: "K01895"},
		{MAG: "MAG_c", Metabolism: "acetate", CoveredStepIDs: "S1", MatchedKOs: "K00925"},
	}
	if err := tabular.WriteTable(filepath.Join(cfg.ScreenDir(), screen.SummaryFile), tabular.TSV, summary); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	return fixture{cfg: cfg, gs: gs}
}

func TestFromMembership(t *testing.T) {
	f := newFixture(t)
	j := &Joiner{Config: f.cfg, GeneSet: f.gs}

	clades, err := j.Clades()
	if err != nil {
		t.Fatalf("Clades: %v", err)
	}
	if len(clades) != 2 {
		t.Fatalf("got %d clades, want 2", len(clades))
	}

	c1 := clades[0]
	if c1.Clade != "C1" {
		t.Errorf("first clade = %s, want C1", c1.Clade)
	}
	if want := []string{"S1", "S2", "S3"}; !reflect.DeepEqual(c1.CoveredStepIDs, want) {
		t.Errorf("C1 steps = %v, want %v", c1.CoveredStepIDs, want)
	}
	if c1.RequiredSteps != 3 || c1.PresentGenes != 3 {
		t.Errorf("C1 required steps %d, present genes %d", c1.RequiredSteps, c1.PresentGenes)
	}
	if math.Abs(c1.GenePresence-0.75) > 1e-12 {
		t.Errorf("C1 gene presence = %v, want 0.75", c1.GenePresence)
	}
	if !c1.Pass {
		t.Error("C1 should pass")
	}

	if c2 := clades[1]; c2.Clade != "C2" || c2.Pass {
		t.Errorf("second clade = %s pass=%v, want C2 failing", c2.Clade, c2.Pass)
	}
}

func TestReadCladeSummary(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "ani_clade_summary.tsv")
	writeFile(t, path, "ANI_clade\tmetabolism\tcovered_step_ids\tmatched_kos\n"+
		"C1\tAcetate\tS1,S2,S4\tK00925,K00625,K13788\n"+
		"C2\tacetate\tS1,S2,S3\tK00925\n"+
		"C3\tpropionate\tP1\tK01026\n")

	clades, err := ReadCladeSummary(path, f.gs, f.cfg)
	if err != nil {
		t.Fatalf("ReadCladeSummary: %v", err)
	}
	if len(clades) != 2 {
		t.Fatalf("got %d clades, want 2", len(clades))
	}
	if !clades[0].Pass || clades[0].Metabolism != "acetate" {
		t.Errorf("C1 = %+v, want a passing acetate clade", clades[0])
	}
	// three steps but only one of four KOs present
	if clades[1].Pass {
		t.Error("C2 should fail on gene presence")
	}

	bad := filepath.Join(t.TempDir(), "bad.tsv")
	writeFile(t, bad, "ANI_clade\tmetabolism\tcovered_step_ids\nC1\tacetate\tS1\n")
	if _, err := ReadCladeSummary(bad, f.gs, f.cfg); !errors.Is(err, tabular.ErrMissingColumns) {
		t.Errorf("err = %v, want ErrMissingColumns", err)
	}
}

func TestLabel(t *testing.T) {
	header, err := tableSchema.Resolve([]string{"Clade", "Domain", "Phylum", "Genus", "Species"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	tests := []struct {
		fields []string
		want   string
	}{
		{[]string{"C1", "Bacteria", "Firmicutes", "Syntrophomonas", "Syntrophomonas wolfei"}, "C1_Syntrophomonas wolfei"},
		{[]string{"C1", "Bacteria", "Firmicutes", "Syntrophomonas", "nan"}, "C1_Syntrophomonas sp."},
		{[]string{"C1", "Bacteria", "", "", ""}, "C1_Bacteria sp."},
		{[]string{"C1", "", "", "", ""}, "C1_Unclassified sp."},
	}
	for _, tt := range tests {
		if got := Label("C1", tabular.NewRecord(tt.fields, header)); got != tt.want {
			t.Errorf("Label(%v) = %q, want %q", tt.fields, got, tt.want)
		}
	}
}

func TestJoinerRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.Abundance.PlotDir = filepath.Join(t.TempDir(), "plots")
	j := &Joiner{Config: f.cfg, GeneSet: f.gs}

	res, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Joined) != 2 {
		t.Fatalf("got %d joined rows, want 2", len(res.Joined))
	}
	if want := []string{"d0", "d7"}; !reflect.DeepEqual(res.TimeColumns, want) {
		t.Errorf("time columns = %v, want %v", res.TimeColumns, want)
	}

	raw, err := os.ReadFile(res.OutCSV)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	header := "Domain,Phylum,Genus,Species,d0,d7,note,ANI_clade,metabolism,covered_step_ids," +
		"total_required_genes,present_required_genes,gene_presence_fraction,matched_kos,Label"
	if lines[0] != header {
		t.Errorf("header = %q", lines[0])
	}
	first := `Bacteria,Firmicutes,Syntrophomonas,Syntrophomonas wolfei,0.1,0.3,x,C1,acetate,"S1,S2,S3",4,3,0.7500,"K00625,K00925,K01895",C1_Syntrophomonas wolfei`
	if lines[1] != first {
		t.Errorf("first row = %q\nwant %q", lines[1], first)
	}
	if !strings.HasSuffix(lines[2], ",C1_Firmicutes sp.") {
		t.Errorf("second row = %q", lines[2])
	}

	trend, err := os.ReadFile(filepath.Join(filepath.Dir(res.OutCSV), TrendFile("acetate")))
	if err != nil {
		t.Fatal(err)
	}
	if want := "Label\td0\td7\nC1_Firmicutes sp.\t0.2\t0.1\nC1_Syntrophomonas wolfei\t0.1\t0.3\n"; string(trend) != want {
		t.Errorf("trend = %q, want %q", trend, want)
	}

	combined, err := os.ReadFile(filepath.Join(filepath.Dir(res.OutCSV), TrendFile(CombinedName)))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(combined), "acetate\t0.30000000000000004\t0.4\n") {
		t.Errorf("combined trend = %q", combined)
	}

	for _, name := range []string{"acetate", CombinedName} {
		info, err := os.Stat(filepath.Join(f.cfg.Abundance.PlotDir, PlotFile(name)))
		if err != nil {
			t.Fatalf("plot %s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Errorf("plot %s is empty", name)
		}
	}
}

func TestJoinerNeedsCladeSource(t *testing.T) {
	f := newFixture(t)
	f.cfg.Abundance.CladeMembership = ""
	_, err := (&Joiner{Config: f.cfg, GeneSet: f.gs}).Run(context.Background())
	if !errors.Is(err, ErrNoCladeSource) {
		t.Fatalf("err = %v, want ErrNoCladeSource", err)
	}
}

func TestConfiguredTimeColumnsMissing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Abundance.TimeColumns = []string{"d0", "d99"}

	res, err := (&Joiner{Config: f.cfg, GeneSet: f.gs}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.TimeColumns) != 0 {
		t.Errorf("time columns = %v, want none", res.TimeColumns)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(res.OutCSV), TrendFile("acetate"))); !os.IsNotExist(err) {
		t.Errorf("trend written despite missing columns (stat err %v)", err)
	}
}
