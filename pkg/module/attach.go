package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/internal/util"
	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/expression"
	"github.com/yumyai/magscreen/pkg/tabular"
)

var (
	ErrNoNormalizedDir = errors.New("no normalized expression folder configured")
	ErrBadHitFileName  = errors.New("hit table name is not <MAG>_Mxxxxx.tsv")
	ErrNoGeneTable     = errors.New("gene TPM/RPKM table not found")
)

var (
	moduleIDPattern = regexp.MustCompile(`^M\d{5}$`)
	hitNamePattern  = regexp.MustCompile(`^(.+?)_(M\d{5})\.tsv$`)
)

var moduleTableSchema = tabular.Schema{
	{Key: "module_id", Aliases: []string{"module", "id"}, Optional: true},
	{Key: "out_dir", Aliases: []string{"outdir", "dir", "folder"}, Optional: true},
	{Key: "label", Aliases: []string{"name", "module_name"}, Optional: true},
}

var geneTableSchema = tabular.Schema{
	{Key: "MAG", Aliases: []string{"Bin"}},
	{Key: "Geneid"},
	{Key: "TPM", Optional: true},
	{Key: "RPKM", Optional: true},
	{Key: "Count", Optional: true},
	{Key: "Length", Optional: true},
}

// expressionColumns are appended to each hit row, in this order, when the
// gene table has them.
var expressionColumns = []string{"TPM", "RPKM", "Count", "Length"}

// ParseHitFileName splits "<MAG>_Mxxxxx.tsv" into MAG and module id.
func ParseHitFileName(name string) (mag, moduleID string, err error) {
	m := hitNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("%w: %s", ErrBadHitFileName, name)
	}
	return m[1], m[2], nil
}

// ResolveModule maps target, a folder name, module id or label, onto the hit
// folder and module id. The module table is optional; without a match the
// target itself names the folder. The id is empty when unknown.
func ResolveModule(target, moduleTable string) (dir, id string, err error) {
	if moduleIDPattern.MatchString(target) {
		id = target
	}
	if moduleTable != "" && util.FileExists(moduleTable) {
		r, err := tabular.Open(moduleTable, tabular.TSV, moduleTableSchema)
		if err != nil {
			return "", "", err
		}
		defer r.Close()
		recs, err := r.ReadAll()
		if err != nil {
			return "", "", fmt.Errorf("%s: %w", moduleTable, err)
		}
		h := r.Header()

		if h.Has("out_dir") {
			if rec, ok := find(recs, "out_dir", target, strings.EqualFold); ok {
				dir = rec.Get("out_dir")
				if h.Has("module_id") {
					id = rec.Get("module_id")
				}
			}
		}
		if dir == "" && id != "" && h.Has("module_id") && h.Has("out_dir") {
			if rec, ok := find(recs, "module_id", id, strings.EqualFold); ok {
				dir = rec.Get("out_dir")
			}
		}
		if dir == "" && h.Has("label") && h.Has("out_dir") {
			if rec, ok := find(recs, "label", target, strings.EqualFold); ok {
				dir = rec.Get("out_dir")
				if h.Has("module_id") {
					id = rec.Get("module_id")
				}
			}
		}
	}
	if dir == "" {
		dir = target
	}
	return dir, id, nil
}

func find(recs []tabular.Record, key, want string, eq func(a, b string) bool) (tabular.Record, bool) {
	for _, rec := range recs {
		if eq(rec.Get(key), want) {
			return rec, true
		}
	}
	return tabular.Record{}, false
}

// GeneTable holds the expression values of one sample keyed by MAG and gene id.
type GeneTable struct {
	Columns []string
	genes   map[string]map[string][]string
}

// LoadGeneTable reads a per-sample table written by the normalizer. The MAG
// column may also be spelled Bin.
func LoadGeneTable(path string) (*GeneTable, error) {
	r, err := tabular.Open(path, tabular.TSV, geneTableSchema)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := r.Header()
	gt := &GeneTable{genes: make(map[string]map[string][]string)}
	for _, c := range expressionColumns {
		if h.Has(c) {
			gt.Columns = append(gt.Columns, c)
		}
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		mag, gene := rec.Get("MAG"), rec.Get("Geneid")
		if gt.genes[mag] == nil {
			gt.genes[mag] = make(map[string][]string)
		}
		vals := make([]string, len(gt.Columns))
		for i, c := range gt.Columns {
			vals[i] = rec.Get(c)
		}
		gt.genes[mag][gene] = vals
	}
	return gt, nil
}

// Lookup returns the expression values of a gene, or nil when it is absent.
func (gt *GeneTable) Lookup(mag, gene string) []string {
	return gt.genes[mag][gene]
}

// AttachRows renames the query column of a hit table to Geneid and appends
// MAG plus the expression columns. Genes without expression get empty cells.
func AttachRows(columns []string, rows [][]string, queryIdx int, mag string, gt *GeneTable) ([]string, [][]string) {
	header := append([]string(nil), columns...)
	header[queryIdx] = "Geneid"
	header = append(header, "MAG")
	header = append(header, gt.Columns...)

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		joined := make([]string, len(columns), len(header))
		copy(joined, row)

		gene := ""
		if queryIdx < len(row) {
			gene = strings.TrimSpace(row[queryIdx])
		}
		if vals := gt.Lookup(mag, gene); vals != nil {
			joined = append(joined, mag)
			joined = append(joined, vals...)
		} else {
			joined = append(joined, make([]string, 1+len(gt.Columns))...)
		}
		out = append(out, joined)
	}
	return header, out
}

// Attacher joins the hit tables of one module with per-gene expression.
type Attacher struct {
	Config *config.Config

	tables map[string]*GeneTable
}

// AttachResult describes what Run read and wrote.
type AttachResult struct {
	Dir      string
	ModuleID string
	OutDir   string
	Files    int
}

func (a *Attacher) normalizedDir() string {
	if d := a.Config.Module.NormalizedDir; d != "" {
		return d
	}
	return a.Config.Expression.OutDir
}

// geneTable loads and caches the gene table of sample, compressed or plain.
func (a *Attacher) geneTable(sample string) (*GeneTable, error) {
	if gt, ok := a.tables[sample]; ok {
		return gt, nil
	}
	dir := a.normalizedDir()
	var path string
	for _, compressed := range []bool{true, false} {
		p := filepath.Join(dir, expression.GeneTableName(sample, compressed))
		if util.FileExists(p) {
			path = p
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w for sample %s in %s", ErrNoGeneTable, sample, dir)
	}
	gt, err := LoadGeneTable(path)
	if err != nil {
		return nil, err
	}
	a.tables[sample] = gt
	return gt, nil
}

// Run writes <out>/<MAG>_<ID>.withTPM.tsv[.gz] for every hit table of the
// configured module. With DryRun set the plan is logged and nothing is written.
func (a *Attacher) Run(ctx context.Context) (*AttachResult, error) {
	c := a.Config
	if a.normalizedDir() == "" {
		return nil, ErrNoNormalizedDir
	}
	dir, id, err := ResolveModule(c.Module.Target, c.Module.ModuleTable)
	if err != nil {
		return nil, err
	}

	inDir := filepath.Join(c.ModuleHitsDir(), dir)
	if !util.DirExists(inDir) {
		return nil, fmt.Errorf("module folder %s: %w", inDir, os.ErrNotExist)
	}
	files, err := filepath.Glob(filepath.Join(inDir, "*.tsv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if id != "" {
		kept := files[:0]
		for _, f := range files {
			if strings.HasSuffix(f, "_"+id+".tsv") {
				kept = append(kept, f)
			}
		}
		files = kept
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoHitFiles, inDir)
	}

	res := &AttachResult{Dir: dir, ModuleID: id, OutDir: c.Module.AttachDir}
	if res.OutDir == "" {
		res.OutDir = filepath.Join(c.ModuleHitsDir(), dir+"_withTPM")
	}
	a.tables = make(map[string]*GeneTable)

	for _, fp := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mag, _, err := ParseHitFileName(filepath.Base(fp))
		if err != nil {
			return nil, err
		}
		gt, err := a.geneTable(expression.SampleOf(mag))
		if err != nil {
			return nil, err
		}

		out := filepath.Join(res.OutDir, strings.TrimSuffix(filepath.Base(fp), ".tsv")+".withTPM.tsv")
		if c.Module.Compress {
			out += ".gz"
		}
		if c.Module.DryRun {
			logger.Info("Planned join", zap.String("hits", fp), zap.String("out", out))
			continue
		}

		if err := attachFile(fp, out, mag, gt); err != nil {
			return nil, err
		}
		res.Files++
	}
	return res, nil
}

func attachFile(in, out, mag string, gt *GeneTable) error {
	r, err := tabular.Open(in, tabular.TSV, tabular.Schema{{Key: "query"}})
	if err != nil {
		return err
	}
	defer r.Close()

	recs, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		rows[i] = rec.Fields
	}
	header, joined := AttachRows(r.Columns(), rows, r.Header()["query"], mag, gt)
	return tabular.WriteRows(out, tabular.TSV, header, joined)
}
