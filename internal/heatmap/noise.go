package heatmap

import (
	"math"
	"sort"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/models"
)

// Reducer отфильтровывает слабые и слипшиеся кластеры.
// Качество уровня складывается из силы, величины OI и близости к цене;
// из пары уровней ближе minClusterDistancePct выживает более качественный.
type Reducer struct {
	cfg config.HeatmapConfig
}

// NewReducer создает новый фильтр шума
func NewReducer(cfg config.HeatmapConfig) *Reducer {
	return &Reducer{cfg: cfg}
}

// Reduce возвращает отфильтрованную копию уровней, отсортированную по цене
func (r *Reducer) Reduce(levels []models.LiquidationLevel, markPrice float64) []models.LiquidationLevel {
	if len(levels) == 0 || markPrice <= 0 {
		return nil
	}

	sorted := make([]models.LiquidationLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool {
		qi, qj := r.quality(sorted[i]), r.quality(sorted[j])
		if qi != qj {
			return qi > qj
		}
		return sorted[i].PriceLevel < sorted[j].PriceLevel
	})

	var accepted []models.LiquidationLevel
	for _, level := range sorted {
		if r.quality(level) < r.cfg.MinQualityScore {
			break
		}

		tooClose := false
		for _, kept := range accepted {
			distPct := math.Abs(level.PriceLevel-kept.PriceLevel) / markPrice * 100
			if distPct < r.cfg.MinClusterDistancePct {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}

		accepted = append(accepted, level)
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].PriceLevel < accepted[j].PriceLevel })
	return accepted
}

// quality оценивает уровень: 50% сила, 30% объем OI, 20% близость к цене
func (r *Reducer) quality(level models.LiquidationLevel) float64 {
	oiScore := math.Min(1, level.OpenInterest/r.cfg.OIReferenceNotional)
	proximity := 1 / (1 + level.DistanceFromPrice/10)
	return 0.5*level.Strength + 0.3*oiScore + 0.2*proximity
}
