package heatmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/internal/marketdata"
	"github.com/skalibog/liqmap/pkg/models"
)

func testHeatmapConfig() config.HeatmapConfig {
	return config.HeatmapConfig{
		LeverageTiers:         []float64{10, 5},
		PriceBucketPct:        0.005,
		MinOINotional:         1000,
		MinOIPct:              0.0001,
		MinClusterDistancePct: 0.3,
		MinQualityScore:       0.15,
		OIReferenceNotional:   10_000_000,
		AvgPositionNotional:   1000,
	}
}

func TestTierWeightsNormalized(t *testing.T) {
	weights := tierWeights([]float64{100, 50, 25, 10, 5})

	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// меньшее плечо получает большую долю
	assert.Greater(t, weights[5], weights[100])
}

func TestTierWeightsIgnoresNonPositive(t *testing.T) {
	weights := tierWeights([]float64{10, 0, -5})
	assert.Len(t, weights, 1)
	assert.InDelta(t, 1.0, weights[10], 1e-9)
}

func TestCandidatesFormula(t *testing.T) {
	cache := marketdata.NewCache()
	cache.SetOpenInterest("BTCUSDT", models.OpenInterestSnapshot{
		TotalNotional: 1_000_000,
		LongNotional:  500_000,
		ShortNotional: 500_000,
	})

	calc := NewCalculator(testHeatmapConfig(), cache)
	candidates := calc.Candidates("BTCUSDT", 100)
	require.Len(t, candidates, 4)

	byPrice := make(map[float64]models.LiquidationLevel)
	for _, c := range candidates {
		byPrice[math.Round(c.PriceLevel)] = c
	}

	// лонги ниже цены, шорты выше
	require.Contains(t, byPrice, 90.0)
	require.Contains(t, byPrice, 80.0)
	require.Contains(t, byPrice, 110.0)
	require.Contains(t, byPrice, 120.0)
	assert.Equal(t, models.SideLong, byPrice[90.0].Side)
	assert.Equal(t, models.SideLong, byPrice[80.0].Side)
	assert.Equal(t, models.SideShort, byPrice[110.0].Side)
	assert.Equal(t, models.SideShort, byPrice[120.0].Side)

	// OI распределен с весами 1/√L
	w10 := (1 / math.Sqrt(10)) / (1/math.Sqrt(10) + 1/math.Sqrt(5))
	assert.InDelta(t, 500_000*w10, byPrice[90.0].OpenInterest, 1e-6)
	assert.InDelta(t, 500_000*(1-w10), byPrice[80.0].OpenInterest, 1e-6)

	// число позиций из среднего размера
	assert.Equal(t, int(500_000*w10/1000), byPrice[90.0].LiquidationCount)

	// дистанция в процентах
	assert.InDelta(t, 10.0, byPrice[90.0].DistanceFromPrice, 1e-9)
	assert.InDelta(t, 20.0, byPrice[120.0].DistanceFromPrice, 1e-9)
}

func TestCandidatesStrengthBounds(t *testing.T) {
	cache := marketdata.NewCache()
	cache.SetOpenInterest("BTCUSDT", models.OpenInterestSnapshot{
		TotalNotional: 1_000_000,
		LongNotional:  1_000_000,
	})

	cfg := testHeatmapConfig()
	cfg.LeverageTiers = []float64{2}
	calc := NewCalculator(cfg, cache)

	candidates := calc.Candidates("BTCUSDT", 100)
	require.Len(t, candidates, 1)

	// вся масса OI в одном уровне: сила упирается в 1
	assert.Equal(t, 1.0, candidates[0].Strength)
}

func TestCandidatesStrengthMonotonicInShare(t *testing.T) {
	assert.Equal(t, 0.0, strengthFromShare(0))
	assert.Less(t, strengthFromShare(0.01), strengthFromShare(0.1))
	assert.Less(t, strengthFromShare(0.1), strengthFromShare(0.3))
	assert.Equal(t, 1.0, strengthFromShare(0.5))
	for _, share := range []float64{0.001, 0.05, 0.2, 0.9} {
		s := strengthFromShare(share)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestCandidatesEmptyOnMissingInputs(t *testing.T) {
	cache := marketdata.NewCache()
	calc := NewCalculator(testHeatmapConfig(), cache)

	// нет снимка OI
	assert.Empty(t, calc.Candidates("BTCUSDT", 100))

	// неположительная цена
	cache.SetOpenInterest("BTCUSDT", models.OpenInterestSnapshot{TotalNotional: 1_000_000})
	assert.Empty(t, calc.Candidates("BTCUSDT", 0))
	assert.Empty(t, calc.Candidates("BTCUSDT", -5))

	// нулевой суммарный OI
	cache.SetOpenInterest("ETHUSDT", models.OpenInterestSnapshot{TotalNotional: 0})
	assert.Empty(t, calc.Candidates("ETHUSDT", 100))
}

func TestCandidatesDynamicFloor(t *testing.T) {
	cache := marketdata.NewCache()
	cache.SetOpenInterest("BTCUSDT", models.OpenInterestSnapshot{
		TotalNotional: 1_000_000,
		LongNotional:  500_000,
		ShortNotional: 500_000,
	})

	cfg := testHeatmapConfig()
	// относительный пол выше любой доли уровня
	cfg.MinOIPct = 0.5
	calc := NewCalculator(cfg, cache)
	assert.Empty(t, calc.Candidates("BTCUSDT", 100))

	// абсолютный пол, отсекающий все уровни
	cfg = testHeatmapConfig()
	cfg.MinOINotional = 10_000_000
	calc = NewCalculator(cfg, cache)
	assert.Empty(t, calc.Candidates("BTCUSDT", 100))
}
