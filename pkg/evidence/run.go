package evidence

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/annotation"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/tabular"
)

// Extractor writes evidence CSVs for the candidate MAGs of each metabolism.
type Extractor struct {
	Config   *config.Config
	GeneSet  *geneset.GeneSet
	Proteins *db.ProteinDB

	annotations map[string][]string
}

// Summary is the per-metabolism outcome of Run.
type Summary struct {
	Metabolism string
	MAGs       int
	Rows       int
	Stats
}

// Run processes every configured metabolism. A MAG missing any of its input
// files is skipped with a warning.
func (e *Extractor) Run(ctx context.Context) ([]Summary, error) {
	files, err := annotation.Discover(e.Config.AnnotationRoot, e.Config.AnnotationSuffix)
	if err != nil {
		return nil, err
	}
	e.annotations = files

	var out []Summary
	for _, name := range e.Config.SortedMetabolisms() {
		m, ok := e.GeneSet.Get(name)
		if !ok {
			continue
		}

		candPath := e.Config.CandidatePath(name)
		mags, err := tabular.ReadCandidates(candPath)
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Missing candidate list", zap.String("path", candPath))
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(mags) == 0 {
			logger.Warn("No candidate MAGs", zap.String("metabolism", name))
			continue
		}

		sum := Summary{Metabolism: name}
		for _, mag := range mags {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n, stats, err := e.extractMAG(m, mag)
			if err != nil {
				logger.Warn("Skipping MAG", zap.String("metabolism", name), zap.String("mag", mag), zap.Error(err))
				continue
			}
			if n == 0 {
				continue
			}
			sum.MAGs++
			sum.Rows += n
			sum.Genes += stats.Genes
			sum.MissingInGFF += stats.MissingInGFF
			sum.MissingInFAA += stats.MissingInFAA
		}

		logger.Info("Evidence extracted",
			zap.String("metabolism", name),
			zap.Int("mags", sum.MAGs),
			zap.Int("ko_hit_genes", sum.Genes),
			zap.Int("missing_in_gff3", sum.MissingInGFF),
			zap.Int("missing_in_faa", sum.MissingInFAA),
			zap.Int("rows", sum.Rows),
		)
		out = append(out, sum)
	}
	return out, nil
}

func (e *Extractor) extractMAG(m *geneset.Metabolism, mag string) (int, Stats, error) {
	paths, ok := e.annotations[mag]
	if !ok {
		return 0, Stats{}, errors.New("no eggNOG annotation")
	}
	gffPath := filepath.Join(e.Config.BaktaRoot, mag, mag+".gff3")
	if _, err := os.Stat(gffPath); err != nil {
		return 0, Stats{}, err
	}

	queryKOs, err := annotation.QueryKOs(paths)
	if err != nil {
		return 0, Stats{}, err
	}
	lengths, err := e.Proteins.Lengths(mag)
	if err != nil {
		return 0, Stats{}, err
	}
	gff, err := ParseGFF3File(gffPath)
	if err != nil {
		return 0, Stats{}, err
	}

	rows, stats := BuildRows(m, queryKOs, gff, lengths)
	if len(rows) == 0 {
		return 0, stats, nil
	}

	out := filepath.Join(e.Config.MetabolismDir(m.Name), FileName(mag))
	if err := Write(out, rows); err != nil {
		return 0, stats, err
	}
	return len(rows), stats, nil
}
