package tool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Blastp runs NCBI blastp against a formatted protein database.
type Blastp struct {
	Bin           string
	Database      string // database prefix as given to -db
	Threads       int
	Evalue        float64
	MaxTargetSeqs int
}

// Check fails when the executable is missing or the database prefix has
// neither volume files nor an alias file.
func (b *Blastp) Check() error {
	if _, err := lookPath(b.bin()); err != nil {
		return err
	}
	if len(missingFiles(b.Database, ".pal")) == 0 {
		return nil
	}
	if missing := missingFiles(b.Database, ".pin", ".psq", ".phr"); len(missing) > 0 {
		return fmt.Errorf("%w: expected .pin/.psq/.phr for %s (missing %s)",
			ErrDatabaseNotReady, b.Database, strings.Join(missing, ", "))
	}
	return nil
}

func (b *Blastp) Run(ctx context.Context, queryFasta, outPath string) error {
	threads := b.Threads
	if threads <= 0 {
		threads = 1
	}
	maxTargets := b.MaxTargetSeqs
	if maxTargets <= 0 {
		maxTargets = 10
	}
	return runCommand(ctx, b.bin(),
		"-query", queryFasta,
		"-db", b.Database,
		"-num_threads", strconv.Itoa(threads),
		"-evalue", strconv.FormatFloat(b.Evalue, 'g', -1, 64),
		"-max_target_seqs", strconv.Itoa(maxTargets),
		"-outfmt", BlastOutFmt,
		"-out", outPath,
	)
}

// Search runs blastp and parses its tabular output.
func (b *Blastp) Search(ctx context.Context, queryFasta, outPath string) ([]BlastHit, error) {
	if err := b.Run(ctx, queryFasta, outPath); err != nil {
		return nil, err
	}
	return ParseBlastTabFile(outPath)
}

func (b *Blastp) bin() string {
	if b.Bin == "" {
		return "blastp"
	}
	return b.Bin
}
