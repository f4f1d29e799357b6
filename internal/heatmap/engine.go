package heatmap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/internal/marketdata"
	"github.com/skalibog/liqmap/internal/storage"
	"github.com/skalibog/liqmap/pkg/logger"
	"github.com/skalibog/liqmap/pkg/models"
)

// MarketFetcher часть биржевого клиента, нужная циклам обновления
type MarketFetcher interface {
	GetMarkPrices(ctx context.Context) (map[string]float64, error)
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (bids, asks []models.BookLevel, err error)
}

// Engine связывает кэш рыночных данных, источник кандидатов и фильтр шума.
// Три независимых цикла обновляют цены, открытый интерес и пересчитывают
// уровни; опубликованный список на символ заменяется целиком под мьютексом,
// читатели никогда не видят наполовину обновленный срез.
type Engine struct {
	cfg     *config.Config
	fetcher MarketFetcher
	cache   *marketdata.Cache
	source  CandidateSource
	reducer *Reducer
	store   storage.Storage // nil — история не ведется

	mu     sync.RWMutex
	levels map[string][]models.LiquidationLevel
}

// NewEngine создает новый движок тепловой карты
func NewEngine(cfg *config.Config, fetcher MarketFetcher, cache *marketdata.Cache, source CandidateSource, store storage.Storage) *Engine {
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   cache,
		source:  source,
		reducer: NewReducer(cfg.Heatmap),
		store:   store,
		levels:  make(map[string][]models.LiquidationLevel),
	}
}

// Start запускает фоновые циклы; они работают до отмены контекста
func (e *Engine) Start(ctx context.Context) {
	go e.priceLoop(ctx)
	go e.oiLoop(ctx)
	go e.recomputeLoop(ctx)
}

// priceLoop обновляет цены всех символов одним запросом
func (e *Engine) priceLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Heatmap.PriceIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.refreshPrices(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshPrices(ctx)
		}
	}
}

// refreshPrices выполняет одно обновление цен. При ошибке запроса кэш
// не трогается: старые цены лучше, чем никакие.
func (e *Engine) refreshPrices(ctx context.Context) marketdata.FetchResult {
	prices, err := e.fetcher.GetMarkPrices(ctx)
	if err != nil {
		logger.Warn("Не удалось обновить цены, используются прежние",
			zap.Error(err), zap.String("result", marketdata.Stale.String()))
		return marketdata.Stale
	}

	for _, symbol := range e.cfg.Trading.Symbols {
		if price, ok := prices[symbol]; ok {
			e.cache.SetPrice(symbol, price)
		}
	}
	return marketdata.Fresh
}

// oiLoop обновляет открытый интерес по символам с паузой между запросами,
// чтобы не упираться в лимиты биржи
func (e *Engine) oiLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Heatmap.OIIntervalSec) * time.Second
	pause := time.Duration(e.cfg.Heatmap.SymbolPauseMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.cfg.Trading.Symbols {
				e.refreshOpenInterest(ctx, symbol)
				select {
				case <-ctx.Done():
					return
				case <-time.After(pause):
				}
			}
		}
	}
}

// refreshOpenInterest выполняет одно обновление OI символа. Разбиение на
// лонги и шорты оценивается по дисбалансу верхушки стакана; если стакан
// недоступен, берется 50/50.
func (e *Engine) refreshOpenInterest(ctx context.Context, symbol string) marketdata.FetchResult {
	price, ok := e.cache.Price(symbol)
	if !ok {
		return marketdata.Stale
	}

	quantity, err := e.fetcher.GetOpenInterest(ctx, symbol)
	if err != nil {
		logger.Warn("Не удалось обновить открытый интерес",
			zap.String("symbol", symbol), zap.Error(err), zap.String("result", marketdata.Stale.String()))
		return marketdata.Stale
	}

	longRatio := 0.5
	bids, asks, err := e.fetcher.GetOrderBook(ctx, symbol, e.cfg.Heatmap.DepthLimit)
	if err != nil {
		logger.Debug("Стакан недоступен, распределение 50/50",
			zap.String("symbol", symbol), zap.Error(err))
	} else {
		var bidNotional, askNotional float64
		for _, b := range bids {
			bidNotional += b.Price * b.Quantity
		}
		for _, a := range asks {
			askNotional += a.Price * a.Quantity
		}
		if bidNotional+askNotional > 0 {
			longRatio = bidNotional / (bidNotional + askNotional)
		}
	}

	total := quantity * price
	e.cache.SetOpenInterest(symbol, models.OpenInterestSnapshot{
		TotalNotional:  total,
		LongNotional:   total * longRatio,
		ShortNotional:  total * (1 - longRatio),
		LongShortRatio: longRatio,
		Bids:           bids,
		Asks:           asks,
		ObservedAt:     time.Now(),
	})
	return marketdata.Fresh
}

// recomputeLoop пересчитывает уровни по символам, для которых есть и цена, и OI
func (e *Engine) recomputeLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Heatmap.RecomputeIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.cfg.Trading.Symbols {
				price, ok := e.cache.Price(symbol)
				if !ok {
					continue
				}
				if _, ok := e.cache.OpenInterest(symbol); !ok {
					continue
				}
				e.RecomputeSymbol(ctx, symbol, price)
			}
		}
	}
}

// RecomputeSymbol пересчитывает и публикует уровни одного символа.
// Расчет идет вне блокировки, под блокировкой только замена среза.
func (e *Engine) RecomputeSymbol(ctx context.Context, symbol string, markPrice float64) {
	candidates := e.source.Candidates(symbol, markPrice)
	clustered := clusterLevels(candidates, markPrice, e.cfg.Heatmap.PriceBucketPct)
	reduced := e.reducer.Reduce(clustered, markPrice)

	e.mu.Lock()
	e.levels[symbol] = reduced
	e.mu.Unlock()

	if e.store != nil && len(reduced) > 0 {
		if err := e.store.SaveLevels(ctx, symbol, markPrice, reduced); err != nil {
			logger.Warn("Не удалось сохранить уровни в хранилище",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// Levels возвращает отфильтрованную копию опубликованных уровней символа.
// Пустой срез означает «пока не посчитано» — это не ошибка.
// maxDistancePct <= 0 отключает фильтр по дистанции.
func (e *Engine) Levels(symbol string, minStrength, maxDistancePct float64) []models.LiquidationLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := e.levels[symbol]
	result := make([]models.LiquidationLevel, 0, len(published))
	for _, level := range published {
		if level.Strength < minStrength {
			continue
		}
		if maxDistancePct > 0 && level.DistanceFromPrice > maxDistancePct {
			continue
		}
		result = append(result, level)
	}
	return result
}

// BestLevel возвращает сильнейший уровень символа; при равной силе
// побеждает более близкий к цене. nil — подходящих уровней нет.
func (e *Engine) BestLevel(symbol string, minStrength float64) *models.LiquidationLevel {
	levels := e.Levels(symbol, minStrength, 0)

	var best *models.LiquidationLevel
	for i := range levels {
		level := levels[i]
		if best == nil ||
			level.Strength > best.Strength ||
			(level.Strength == best.Strength && level.DistanceFromPrice < best.DistanceFromPrice) {
			best = &level
		}
	}
	return best
}

// CurrentPrice возвращает последнюю известную цену символа
func (e *Engine) CurrentPrice(symbol string) (float64, bool) {
	return e.cache.Price(symbol)
}

// Symbols возвращает список отслеживаемых символов
func (e *Engine) Symbols() []string {
	return e.cfg.Trading.Symbols
}
