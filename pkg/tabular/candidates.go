package tabular

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CandidateFileName is the per-metabolism candidate list written by the screener.
func CandidateFileName(metabolism string) string {
	return fmt.Sprintf("candidate_mags_%s.txt", strings.ToLower(metabolism))
}

// ReadCandidates reads one MAG id per line, skipping blank lines.
func ReadCandidates(path string) ([]string, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open candidate list %s: %w", path, err)
	}
	defer f.Close()

	var mags []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if mag := strings.TrimSpace(sc.Text()); mag != "" {
			mags = append(mags, mag)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read candidate list %s: %w", path, err)
	}
	return mags, nil
}

// WriteCandidates writes the deduplicated, sorted ids, one per line.
func WriteCandidates(path string, mags []string) error {
	ids := NewSet(mags...).Sorted()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create candidate list %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, id := range ids {
		w.WriteString(id)
		w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
