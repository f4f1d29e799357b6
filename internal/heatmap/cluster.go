package heatmap

import (
	"math"
	"sort"
	"time"

	"github.com/skalibog/liqmap/pkg/models"
)

// bucketAgg накапливает статистику одного ценового бакета
type bucketAgg struct {
	weightedPrice float64
	weightSum     float64
	priceSum      float64
	totalOI       float64
	count         int
	members       int
	longOI        float64
	shortOI       float64
	leverageSum   float64
	maxStrength   float64
}

// clusterLevels сливает кандидаты в один уровень на ценовой бакет шириной
// bucketPct (доля от mark-цены). Ключ бакета — floor(|p−mark|/mark/bucketPct),
// поэтому результат не зависит от порядка кандидатов на входе. Вес кандидата
// берется из поля OpenInterest.
func clusterLevels(candidates []models.LiquidationLevel, markPrice, bucketPct float64) []models.LiquidationLevel {
	if len(candidates) == 0 || markPrice <= 0 || bucketPct <= 0 {
		return nil
	}

	buckets := make(map[int]*bucketAgg)
	for _, cand := range candidates {
		key := int(math.Floor(math.Abs(cand.PriceLevel-markPrice) / markPrice / bucketPct))
		agg, ok := buckets[key]
		if !ok {
			agg = &bucketAgg{}
			buckets[key] = agg
		}

		weight := cand.OpenInterest
		agg.weightedPrice += cand.PriceLevel * weight
		agg.weightSum += weight
		agg.priceSum += cand.PriceLevel
		agg.totalOI += cand.OpenInterest
		agg.count += cand.LiquidationCount
		agg.members++
		agg.leverageSum += cand.LeverageTier
		if cand.Side == models.SideLong {
			agg.longOI += cand.OpenInterest
		} else {
			agg.shortOI += cand.OpenInterest
		}
		if cand.Strength > agg.maxStrength {
			agg.maxStrength = cand.Strength
		}
	}

	now := time.Now()
	levels := make([]models.LiquidationLevel, 0, len(buckets))
	for _, agg := range buckets {
		price := agg.priceSum / float64(agg.members)
		if agg.weightSum > 0 {
			price = agg.weightedPrice / agg.weightSum
		}

		side := models.SideShort
		if agg.longOI > agg.shortOI {
			side = models.SideLong
		}

		levels = append(levels, models.LiquidationLevel{
			PriceLevel:        price,
			Side:              side,
			LeverageTier:      agg.leverageSum / float64(agg.members),
			OpenInterest:      agg.totalOI,
			LiquidationCount:  agg.count,
			Strength:          agg.maxStrength,
			DistanceFromPrice: math.Abs(price-markPrice) / markPrice * 100,
			LastUpdated:       now,
		})
	}

	// идентификаторы по возрастанию цены
	sort.Slice(levels, func(i, j int) bool { return levels[i].PriceLevel < levels[j].PriceLevel })
	for i := range levels {
		levels[i].ClusterID = i
	}

	return levels
}
