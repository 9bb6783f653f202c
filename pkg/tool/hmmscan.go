package tool

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Hmmscan runs HMMER hmmscan against a pressed profile database.
type Hmmscan struct {
	Bin      string
	Database string
	CPU      int
}

// Check fails when the executable is missing or the database was not
// hmmpress'ed.
func (h *Hmmscan) Check() error {
	if _, err := lookPath(h.bin()); err != nil {
		return err
	}
	if _, err := os.Stat(h.Database); err != nil {
		return fmt.Errorf("%w: profile database %s: %v", ErrDatabaseNotReady, h.Database, err)
	}
	if missing := missingFiles(h.Database, ".h3f", ".h3i", ".h3m", ".h3p"); len(missing) > 0 {
		return fmt.Errorf("%w: run hmmpress %s (missing %s)", ErrDatabaseNotReady, h.Database, strings.Join(missing, ", "))
	}
	return nil
}

// Run writes the per-domain table of queryFasta to outPath.
func (h *Hmmscan) Run(ctx context.Context, queryFasta, outPath string) error {
	cpu := h.CPU
	if cpu <= 0 {
		cpu = 1
	}
	return runCommand(ctx, h.bin(),
		"--cpu", strconv.Itoa(cpu),
		"--domtblout", outPath,
		h.Database,
		queryFasta,
	)
}

// Scan runs hmmscan and parses its domain table.
func (h *Hmmscan) Scan(ctx context.Context, queryFasta, outPath string) ([]DomainHit, error) {
	if err := h.Run(ctx, queryFasta, outPath); err != nil {
		return nil, err
	}
	return ParseDomtblFile(outPath)
}

func (h *Hmmscan) bin() string {
	if h.Bin == "" {
		return "hmmscan"
	}
	return h.Bin
}
