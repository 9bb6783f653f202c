// Package module filters eggNOG annotations down to KEGG module (or pathway)
// members, counts the hits per MAG and joins them with abundance and
// expression tables.
//
// Hits of one target live in <hits dir>/<subdir>/<MAG>_<ID>.tsv, one file per
// MAG, with the annotation header kept.
package module

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yumyai/magscreen/pkg/tabular"
)

var (
	ErrNoTargets  = errors.New("no targets in targets map")
	ErrNoHitFiles = errors.New("no target hit tables found")
)

// Target is one row of the targets map: an id such as M00567 or map00680, the
// folder its hit tables are written to, and a display label.
type Target struct {
	ID     string
	Subdir string
	Label  string
}

// LoadTargets reads a headerless tab-separated targets map with columns id,
// subdir and an optional label. Lines starting with "#" and rows without an id
// are skipped. The label defaults to the id.
func LoadTargets(path string) ([]Target, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open targets map %s: %w", path, err)
	}
	defer f.Close()

	var out []Target
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("targets map %s line %d: need id and subdir columns, got %d", path, n, len(fields))
		}
		t := Target{ID: strings.TrimSpace(fields[0]), Subdir: strings.TrimSpace(fields[1])}
		if t.ID == "" {
			continue
		}
		if len(fields) > 2 {
			t.Label = strings.TrimSpace(fields[2])
		}
		if t.Label == "" {
			t.Label = t.ID
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read targets map %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTargets, path)
	}
	return out, nil
}

// HitFileName is the hit table of mag for target id.
func HitFileName(mag, id string) string {
	return mag + "_" + id + ".tsv"
}

// MAGFromHitFile recovers the MAG id from a hit table name. A name that does
// not end in _<id>.tsv falls back to the name without extension.
func MAGFromHitFile(name, id string) string {
	if mag, ok := strings.CutSuffix(name, "_"+id+".tsv"); ok {
		return mag
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
