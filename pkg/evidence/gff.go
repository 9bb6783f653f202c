package evidence

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/yumyai/magscreen/pkg/tabular"
)

var pfamPattern = regexp.MustCompile(`PFAM:(PF\d{5})`)

// CDS is the annotation Bakta attached to one coding sequence.
type CDS struct {
	Product string
	PFAMs   []string // sorted, unique
}

// ParseGFF3 indexes the CDS features of a Bakta GFF3 by their ID attribute.
// Parsing stops at the ##FASTA section.
func ParseGFF3(r io.Reader) (map[string]CDS, error) {
	out := make(map[string]CDS)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(line, "##FASTA") {
			break
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		f := strings.Split(line, "\t")
		if len(f) < 9 || f[2] != "CDS" {
			continue
		}

		attrs := parseAttributes(f[8])
		id := strings.TrimSpace(attrs["ID"])
		if id == "" {
			continue
		}

		pfams := tabular.NewSet()
		for _, m := range pfamPattern.FindAllStringSubmatch(attrs["Dbxref"], -1) {
			pfams.Add(m[1])
		}
		out[id] = CDS{
			Product: strings.TrimSpace(attrs["product"]),
			PFAMs:   pfams.Sorted(),
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseAttributes splits column 9 into key=value pairs, undoing GFF3
// percent-encoding.
func parseAttributes(col string) map[string]string {
	attrs := make(map[string]string)
	for _, item := range strings.Split(col, ";") {
		key, val, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		if dec, err := url.PathUnescape(val); err == nil {
			val = dec
		}
		attrs[strings.TrimSpace(key)] = val
	}
	return attrs
}

// ParseGFF3File reads a plain or compressed GFF3.
func ParseGFF3File(path string) (map[string]CDS, error) {
	f, err := tabular.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open gff3 %s: %w", path, err)
	}
	defer f.Close()

	cds, err := ParseGFF3(f)
	if err != nil {
		return nil, fmt.Errorf("gff3 %s: %w", path, err)
	}
	return cds, nil
}
