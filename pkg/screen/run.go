package screen

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/annotation"
	"github.com/yumyai/magscreen/pkg/config"
	"github.com/yumyai/magscreen/pkg/geneset"
	"github.com/yumyai/magscreen/pkg/tabular"
)

// LoadMAGKOs discovers annotation files and unions KOs per MAG. A MAG whose
// file cannot be parsed is skipped with a warning.
func LoadMAGKOs(ctx context.Context, root, suffix string) (map[string]tabular.Set, error) {
	files, err := annotation.Discover(root, suffix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	mags := make(map[string]tabular.Set, len(files))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kos, err := annotation.KOSet(files[id])
		if err != nil {
			logger.Warn("Skipping MAG with unreadable annotation", zap.String("mag", id), zap.Error(err))
			continue
		}
		mags[id] = kos
	}
	return mags, nil
}

// Run executes the coverage screen and writes its outputs under cfg.ScreenDir().
func Run(ctx context.Context, cfg *config.Config, gs *geneset.GeneSet) ([]Evidence, error) {
	logger.Info("Scanning annotations", zap.String("root", cfg.AnnotationRoot))
	mags, err := LoadMAGKOs(ctx, cfg.AnnotationRoot, cfg.AnnotationSuffix)
	if err != nil {
		return nil, err
	}
	logger.Info("Found MAGs with annotations", zap.Int("mags", len(mags)))
	if len(mags) == 0 {
		logger.Warn("No annotation files found", zap.String("root", cfg.AnnotationRoot))
	}

	evs := Screen(mags, gs, cfg, cfg.GenePresenceThreshold)

	if err := WriteOutputs(cfg.ScreenDir(), evs, gs.Names()); err != nil {
		return nil, fmt.Errorf("write screen outputs: %w", err)
	}

	for name, ids := range Candidates(evs, gs.Names()) {
		logger.Info("Candidates", zap.String("metabolism", name), zap.Int("mags", len(ids)))
	}
	return evs, nil
}
