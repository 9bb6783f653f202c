package tabular

import (
	"errors"
	"io"
	"strings"

	"github.com/shenwei356/xopen"
)

// OpenFile opens a plain or compressed file for reading. An empty file reads
// as empty instead of failing.
func OpenFile(path string) (io.ReadCloser, error) {
	r, err := xopen.Ropen(path)
	if errors.Is(err, xopen.ErrNoContent) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
