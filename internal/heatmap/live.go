package heatmap

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/internal/marketdata"
	"github.com/skalibog/liqmap/internal/storage"
	"github.com/skalibog/liqmap/pkg/logger"
	"github.com/skalibog/liqmap/pkg/models"
)

// дистанция до кластера, на которой сделка считается идеальной
const idealDistance = 0.035

// LiveHeatmap строит кластеры из наблюдаемых ликвидаций потока forceOrder.
// В отличие от формульного калькулятора здесь нет предсказаний: вес кластера
// складывается из реальных событий, затухающих по возрасту.
type LiveHeatmap struct {
	cfg   config.LiveConfig
	cache *marketdata.Cache
	store storage.Storage // nil — события не сохраняются

	mu     sync.RWMutex
	events map[string][]models.LiquidationEvent
}

// NewLiveHeatmap создает новую живую карту ликвидаций
func NewLiveHeatmap(cfg config.LiveConfig, cache *marketdata.Cache, store storage.Storage) *LiveHeatmap {
	return &LiveHeatmap{
		cfg:    cfg,
		cache:  cache,
		store:  store,
		events: make(map[string][]models.LiquidationEvent),
	}
}

// HandleEvent принимает событие ликвидации из потока. Буфер на символ
// ограничен: при переполнении вытесняются старейшие события.
func (h *LiveHeatmap) HandleEvent(event models.LiquidationEvent) {
	h.mu.Lock()
	evs := append(h.events[event.Symbol], event)
	if overflow := len(evs) - h.cfg.BufferSize; overflow > 0 {
		copy(evs, evs[overflow:])
		evs = evs[:h.cfg.BufferSize]
	}
	h.events[event.Symbol] = evs
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.SaveLiquidationEvent(context.Background(), event); err != nil {
			logger.Warn("Не удалось сохранить событие ликвидации",
				zap.String("symbol", event.Symbol), zap.Error(err))
		}
	}
}

// EventCount возвращает число буферизованных событий символа
func (h *LiveHeatmap) EventCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events[symbol])
}

// Candidates превращает буферизованные события в кандидаты для кластеризации.
// Вес события — нотионал, затухающий экспоненциально с возрастом.
func (h *LiveHeatmap) Candidates(symbol string, markPrice float64) []models.LiquidationLevel {
	if markPrice <= 0 {
		return nil
	}

	h.mu.RLock()
	evs := h.events[symbol]
	now := time.Now()
	decay := float64(h.cfg.DecayMinutes)

	var candidates []models.LiquidationLevel
	for _, ev := range evs {
		ageMinutes := now.Sub(ev.Timestamp).Minutes()
		if ageMinutes > decay {
			continue
		}
		distancePct := math.Abs(ev.Price-markPrice) / markPrice * 100
		if distancePct > h.cfg.MaxDistancePct {
			continue
		}

		candidates = append(candidates, models.LiquidationLevel{
			PriceLevel:        ev.Price,
			Side:              ev.Side,
			OpenInterest:      ev.Notional * math.Exp(-ageMinutes/decay),
			LiquidationCount:  1,
			DistanceFromPrice: distancePct,
			LastUpdated:       ev.Timestamp,
		})
	}
	h.mu.RUnlock()

	return candidates
}

// Clusters возвращает живые кластеры символа, сильнейшие первыми.
// Лонги и шорты кластеризуются раздельно, сила нормируется на сильнейший
// кластер своей стороны: 40% — число событий, 60% — затухший нотионал.
func (h *LiveHeatmap) Clusters(symbol string) []models.LiquidationLevel {
	markPrice, ok := h.cache.Price(symbol)
	if !ok {
		return nil
	}

	candidates := h.Candidates(symbol, markPrice)
	if len(candidates) < h.cfg.MinClusterSize {
		return nil
	}

	var bySide [2][]models.LiquidationLevel
	for _, cand := range candidates {
		if cand.Side == models.SideLong {
			bySide[0] = append(bySide[0], cand)
		} else {
			bySide[1] = append(bySide[1], cand)
		}
	}

	var clusters []models.LiquidationLevel
	for _, sideCandidates := range bySide {
		if len(sideCandidates) < h.cfg.MinClusterSize {
			continue
		}
		clusters = append(clusters, h.scoreSide(sideCandidates, markPrice)...)
	}

	// идентификаторы по возрастанию цены, выдача по убыванию силы
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].PriceLevel < clusters[j].PriceLevel })
	for i := range clusters {
		clusters[i].ClusterID = i
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Strength > clusters[j].Strength })

	return clusters
}

// scoreSide кластеризует кандидаты одной стороны и вычисляет силу кластеров
func (h *LiveHeatmap) scoreSide(candidates []models.LiquidationLevel, markPrice float64) []models.LiquidationLevel {
	clustered := clusterLevels(candidates, markPrice, h.cfg.ClusterWindowPct)

	var maxCount int
	var maxNotional float64
	for _, cl := range clustered {
		if cl.LiquidationCount > maxCount {
			maxCount = cl.LiquidationCount
		}
		if cl.OpenInterest > maxNotional {
			maxNotional = cl.OpenInterest
		}
	}

	var result []models.LiquidationLevel
	for _, cl := range clustered {
		if cl.LiquidationCount < h.cfg.MinClusterSize {
			continue
		}

		var countShare, notionalShare float64
		if maxCount > 0 {
			countShare = float64(cl.LiquidationCount) / float64(maxCount)
		}
		if maxNotional > 0 {
			notionalShare = cl.OpenInterest / maxNotional
		}
		cl.Strength = 0.4*countShare + 0.6*notionalShare
		result = append(result, cl)
	}

	return result
}

// BestCluster возвращает кластер, к которому цена может двигаться: лонговые
// ликвидации ниже цены, шортовые выше. Оценка — 70% сила, 30% близость
// дистанции к идеальной.
func (h *LiveHeatmap) BestCluster(symbol string, minStrength float64) *models.LiquidationLevel {
	markPrice, ok := h.cache.Price(symbol)
	if !ok {
		return nil
	}

	var best *models.LiquidationLevel
	var bestScore float64
	for _, cluster := range h.Clusters(symbol) {
		if cluster.Strength < minStrength {
			continue
		}

		tradable := (cluster.Side == models.SideLong && markPrice > cluster.PriceLevel) ||
			(cluster.Side == models.SideShort && markPrice < cluster.PriceLevel)
		if !tradable {
			continue
		}

		distanceScore := 1 - math.Min(math.Abs(cluster.DistanceFromPrice/100-idealDistance)/idealDistance, 1)
		score := 0.7*cluster.Strength + 0.3*distanceScore
		if score > bestScore {
			bestScore = score
			c := cluster
			best = &c
		}
	}

	return best
}
