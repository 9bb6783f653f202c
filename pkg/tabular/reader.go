package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	TSV = '\t'
	CSV = ','
)

// Reader yields schema-resolved records from a delimited file with a header line.
type Reader struct {
	csv     *csv.Reader
	closer  io.Closer
	header  Header
	columns []string
}

// NewReader reads the header line from r and resolves it against s.
func NewReader(r io.Reader, comma rune, s Schema) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	fields, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty table: %w", io.ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(fields) > 0 {
		fields[0] = strings.TrimPrefix(fields[0], "\ufeff")
	}

	h, err := s.Resolve(fields)
	if err != nil {
		return nil, err
	}

	return &Reader{csv: cr, header: h, columns: fields}, nil
}

// Open opens path (plain or compressed) and resolves its header.
func Open(path string, comma rune, s Schema) (*Reader, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r, err := NewReader(f, comma, s)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// Header returns the resolved canonical key positions.
func (r *Reader) Header() Header {
	return r.header
}

// Columns returns the raw header cells in file order.
func (r *Reader) Columns() []string {
	return r.columns
}

// Read returns the next non-blank record, or io.EOF.
func (r *Reader) Read() (Record, error) {
	for {
		fields, err := r.csv.Read()
		if err != nil {
			return Record{}, err
		}
		if blank(fields) {
			continue
		}
		return NewRecord(fields, r.header), nil
	}
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
