package heatmap

import (
	"math"
	"time"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/internal/marketdata"
	"github.com/skalibog/liqmap/pkg/models"
)

// Calculator вычисляет кандидаты уровней ликвидаций по закрытой формуле:
// лонг с плечом L ликвидируется на mark×(1−1/L), шорт — на mark×(1+1/L).
// Открытый интерес распределяется по плечам с весами 1/√L (нормированными),
// уровни ниже динамического пола OI не выдаются.
type Calculator struct {
	cfg   config.HeatmapConfig
	cache *marketdata.Cache
}

// NewCalculator создает новый формульный калькулятор
func NewCalculator(cfg config.HeatmapConfig, cache *marketdata.Cache) *Calculator {
	return &Calculator{
		cfg:   cfg,
		cache: cache,
	}
}

// Candidates возвращает кандидаты уровней для символа. Пустой результат —
// не ошибка: так кодируется отсутствие цены или открытого интереса.
func (c *Calculator) Candidates(symbol string, markPrice float64) []models.LiquidationLevel {
	if markPrice <= 0 {
		return nil
	}

	oi, ok := c.cache.OpenInterest(symbol)
	if !ok || oi.TotalNotional <= 0 {
		return nil
	}

	weights := tierWeights(c.cfg.LeverageTiers)
	oiFloor := math.Max(c.cfg.MinOINotional, oi.TotalNotional*c.cfg.MinOIPct)
	now := time.Now()

	var levels []models.LiquidationLevel
	for _, part := range []struct {
		side   models.Side
		sideOI float64
	}{
		{models.SideLong, oi.LongNotional},
		{models.SideShort, oi.ShortNotional},
	} {
		for _, tier := range c.cfg.LeverageTiers {
			tierOI := part.sideOI * weights[tier]
			if tierOI < oiFloor {
				continue
			}

			var price float64
			if part.side == models.SideLong {
				price = markPrice * (1 - 1/tier)
			} else {
				price = markPrice * (1 + 1/tier)
			}

			levels = append(levels, models.LiquidationLevel{
				PriceLevel:        price,
				Side:              part.side,
				LeverageTier:      tier,
				OpenInterest:      tierOI,
				LiquidationCount:  int(tierOI / c.cfg.AvgPositionNotional),
				Strength:          strengthFromShare(tierOI / oi.TotalNotional),
				DistanceFromPrice: math.Abs(price-markPrice) / markPrice * 100,
				LastUpdated:       now,
			})
		}
	}

	return levels
}

// tierWeights возвращает нормированные веса 1/√L по настроенным плечам.
// Высокие плечи получают меньшую долю OI: крупные игроки торгуют с малым плечом.
func tierWeights(tiers []float64) map[float64]float64 {
	weights := make(map[float64]float64, len(tiers))
	var sum float64
	for _, tier := range tiers {
		if tier <= 0 {
			continue
		}
		w := 1 / math.Sqrt(tier)
		weights[tier] = w
		sum += w
	}

	if sum <= 0 {
		return weights
	}
	for tier := range weights {
		weights[tier] /= sum
	}
	return weights
}

// strengthFromShare переводит долю OI уровня в силу 0..1
func strengthFromShare(share float64) float64 {
	if share <= 0 {
		return 0
	}
	return math.Min(1, math.Sqrt(3*share))
}
