package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/shenwei356/xopen"

	"github.com/yumyai/magscreen/pkg/tabular"
)

// Defining possible error
var ErrNoSequence = errors.New("sequence not found")

type NoSequenceError struct {
	MAG string
	Msg string // additional context for the error
}

func (e *NoSequenceError) Error() string {
	return fmt.Sprintf("sequence error (%s): %s", e.MAG, e.Msg)
}

func (e *NoSequenceError) Unwrap() error {
	return ErrNoSequence
}

// ProteinDB is a folder holding one protein FASTA per MAG, laid out the way
// Bakta writes it: <Dir>/<mag>/<mag>.faa.
type ProteinDB struct {
	Dir string

	mu    sync.Mutex
	cache map[string]map[string]*linear.Seq
}

func NewProteinDB(dir string) (*ProteinDB, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("protein folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("protein folder %s is not a directory", dir)
	}
	return &ProteinDB{Dir: dir}, nil
}

// Path returns the first existing FASTA for a MAG, or the canonical location
// when none exists.
func (p *ProteinDB) Path(mag string) string {
	candidates := []string{
		filepath.Join(p.Dir, mag, mag+".faa"),
		filepath.Join(p.Dir, mag, mag+".faa.gz"),
		filepath.Join(p.Dir, mag+".faa"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

// Load reads every protein of a MAG, keyed by the first word of its header.
// Trailing stop markers are removed. Results are cached per MAG.
func (p *ProteinDB) Load(mag string) (map[string]*linear.Seq, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seqs, ok := p.cache[mag]; ok {
		return seqs, nil
	}

	path := p.Path(mag)
	if _, err := os.Stat(path); err != nil {
		return nil, &NoSequenceError{MAG: mag, Msg: fmt.Sprintf("missing %s", path)}
	}

	seqs, err := ReadFasta(path)
	if err != nil {
		return nil, err
	}

	if p.cache == nil {
		p.cache = make(map[string]map[string]*linear.Seq)
	}
	p.cache[mag] = seqs
	return seqs, nil
}

// Lengths returns the protein length of every query of a MAG.
func (p *ProteinDB) Lengths(mag string) (map[string]int, error) {
	seqs, err := p.Load(mag)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(seqs))
	for id, s := range seqs {
		out[id] = s.Len()
	}
	return out, nil
}

// Subset returns the requested proteins in the order given, plus the ids that
// could not be found.
func (p *ProteinDB) Subset(mag string, ids []string) ([]*linear.Seq, []string, error) {
	seqs, err := p.Load(mag)
	if err != nil {
		return nil, nil, err
	}

	var (
		found   []*linear.Seq
		missing []string
	)
	for _, id := range ids {
		s, ok := seqs[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		found = append(found, s)
	}
	return found, missing, nil
}

// ReadFasta reads a (possibly compressed) protein FASTA into a map keyed by
// sequence id.
func ReadFasta(path string) (map[string]*linear.Seq, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	seqs := make(map[string]*linear.Seq)
	sc := seqio.NewScanner(fasta.NewReader(f, linear.NewSeq("", nil, alphabet.Protein)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		s.Seq = trimStop(s.Seq)
		if _, dup := seqs[s.ID]; !dup {
			seqs[s.ID] = s
		}
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return seqs, nil
}

// WriteFasta writes seqs folded at 60 columns. The parent directory is created.
func WriteFasta(path string, seqs []*linear.Seq) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := xopen.Wopen(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := fasta.NewWriter(out, 60)
	for _, s := range seqs {
		if _, err := w.Write(s); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return out.Close()
}

// Renamed copies a sequence under a new id and drops its description.
func Renamed(s *linear.Seq, id string) *linear.Seq {
	return linear.NewSeq(id, append(alphabet.Letters(nil), s.Seq...), s.Alphabet())
}

func trimStop(l alphabet.Letters) alphabet.Letters {
	for len(l) > 0 && l[len(l)-1] == '*' {
		l = l[:len(l)-1]
	}
	return l
}
