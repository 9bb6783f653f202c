// Package geneset loads the metabolism -> step -> KO reference table.
package geneset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/tabular"
	"go.uber.org/zap"
)

var Schema = tabular.Schema{
	{Key: "metabolism", Aliases: []string{"pathway"}},
	{Key: "step", Aliases: []string{"step_id"}},
	{Key: "kegg_ko", Aliases: []string{"ko", "kegg_kos", "kos"}},
	{Key: "product", Aliases: []string{"gene_product", "enzyme"}, Optional: true},
}

// Step is one enzymatic step. An empty KO set is legal; such a step counts
// toward the total but is never covered.
type Step struct {
	ID  string
	KOs tabular.Set
}

type Metabolism struct {
	Name  string
	Steps []*Step

	byID     map[string]*Step
	products map[string]tabular.Set // KO -> gene-set product names
}

func newMetabolism(name string) *Metabolism {
	return &Metabolism{
		Name:     name,
		byID:     make(map[string]*Step),
		products: make(map[string]tabular.Set),
	}
}

func (m *Metabolism) step(id string) *Step {
	if s, ok := m.byID[id]; ok {
		return s
	}
	s := &Step{ID: id, KOs: tabular.NewSet()}
	m.byID[id] = s
	m.Steps = append(m.Steps, s)
	return s
}

// Step returns the step with the given id.
func (m *Metabolism) Step(id string) (*Step, bool) {
	s, ok := m.byID[id]
	return s, ok
}

func (m *Metabolism) TotalSteps() int {
	return len(m.Steps)
}

// KOUnion is every KO required by any step.
func (m *Metabolism) KOUnion() tabular.Set {
	u := tabular.NewSet()
	for _, s := range m.Steps {
		u.Union(s.KOs)
	}
	return u
}

// StepsForKO returns the ids of the steps a KO satisfies, in step order.
func (m *Metabolism) StepsForKO(ko string) []string {
	var out []string
	for _, s := range m.Steps {
		if s.KOs.Has(ko) {
			out = append(out, s.ID)
		}
	}
	return out
}

// KOIndex maps each KO to the steps it satisfies.
func (m *Metabolism) KOIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, s := range m.Steps {
		for _, ko := range s.KOs.Sorted() {
			idx[ko] = append(idx[ko], s.ID)
		}
	}
	return idx
}

// Products returns the gene-set product names listed for a KO, sorted.
func (m *Metabolism) Products(ko string) []string {
	return m.products[ko].Sorted()
}

// GeneSet holds every requested metabolism, keyed by canonical name.
type GeneSet struct {
	metabolisms map[string]*Metabolism
}

// Get looks a metabolism up by name, ignoring case.
func (g *GeneSet) Get(name string) (*Metabolism, bool) {
	m, ok := g.metabolisms[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// Names returns the loaded metabolism names, sorted.
func (g *GeneSet) Names() []string {
	out := make([]string, 0, len(g.metabolisms))
	for name := range g.metabolisms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load reads the gene-set TSV at path, keeping only metabolisms in vocabulary.
func Load(path string, vocabulary tabular.Set) (*GeneSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gene set: %w", err)
	}
	defer f.Close()

	gs, err := Parse(f, vocabulary)
	if err != nil {
		return nil, fmt.Errorf("gene set %s: %w", path, err)
	}
	return gs, nil
}

// Parse reads a gene-set table. Metabolism names are compared lower-cased, so
// vocabulary must already be canonical.
func Parse(r io.Reader, vocabulary tabular.Set) (*GeneSet, error) {
	tr, err := tabular.NewReader(r, tabular.TSV, Schema)
	if err != nil {
		return nil, err
	}

	gs := &GeneSet{metabolisms: make(map[string]*Metabolism)}
	for {
		rec, err := tr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !rec.Covers("metabolism", "step", "kegg_ko") {
			continue
		}

		name := strings.ToLower(rec.Get("metabolism"))
		if name == "" || !vocabulary.Has(name) {
			continue
		}
		stepID := rec.Get("step")
		if stepID == "" {
			continue
		}

		m, ok := gs.metabolisms[name]
		if !ok {
			m = newMetabolism(name)
			gs.metabolisms[name] = m
		}

		s := m.step(stepID)
		kos := tabular.ParseKOs(rec.Get("kegg_ko"))
		s.KOs.Add(kos...)

		if product := rec.Get("product"); product != "" {
			for _, ko := range kos {
				if m.products[ko] == nil {
					m.products[ko] = tabular.NewSet()
				}
				m.products[ko].Add(product)
			}
		}
	}

	for _, name := range vocabulary.Sorted() {
		if _, ok := gs.metabolisms[name]; !ok {
			logger.Warn("Metabolism has no rows in gene set", zap.String("metabolism", name))
			gs.metabolisms[name] = newMetabolism(name)
		}
	}

	return gs, nil
}
