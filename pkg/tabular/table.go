package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shenwei356/xopen"
)

// WriteTable marshals a slice of csv-tagged structs to path. A ".gz" suffix
// compresses the output. The header is written even for an empty slice.
func WriteTable(path string, comma rune, rows interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(out)
	w.Comma = comma
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}

// ReadTable unmarshals a table written by WriteTable (or any file with the same
// header names) into out, a pointer to a slice of csv-tagged structs.
func ReadTable(path string, comma rune, out interface{}) error {
	in, err := OpenFile(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.Comma = comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	if err := gocsv.UnmarshalCSV(r, out); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// WriteRows writes a table whose columns are only known at run time.
func WriteRows(path string, comma rune, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(out)
	w.Comma = comma
	if err := w.Write(header); err != nil {
		out.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}

// CommaFor guesses the delimiter from the file name: tab for .tsv, .tab and
// .txt, comma otherwise. A trailing .gz is ignored.
func CommaFor(path string) rune {
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	switch filepath.Ext(name) {
	case ".tsv", ".tab", ".txt":
		return TSV
	}
	return CSV
}
