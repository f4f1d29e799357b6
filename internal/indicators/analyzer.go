package indicators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/models"
)

// KlineFetcher часть биржевого клиента, нужная анализатору
type KlineFetcher interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// Analyzer рассчитывает панель индикаторов (RSI, Bollinger, ATR) по свечам.
// Результат кэшируется на короткий TTL: панель опрашивается чаще, чем
// закрываются свечи.
type Analyzer struct {
	cfg     config.IndicatorsConfig
	fetcher KlineFetcher

	mu    sync.Mutex
	cache map[string]cachedSnapshot
}

type cachedSnapshot struct {
	snapshot models.IndicatorSnapshot
	at       time.Time
}

// NewAnalyzer создает новый анализатор индикаторов
func NewAnalyzer(cfg config.IndicatorsConfig, fetcher KlineFetcher) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   make(map[string]cachedSnapshot),
	}
}

// Analyze возвращает снимок индикаторов символа, при необходимости обновляя его
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (models.IndicatorSnapshot, error) {
	ttl := time.Duration(a.cfg.CacheTTLSec) * time.Second

	a.mu.Lock()
	cached, ok := a.cache[symbol]
	a.mu.Unlock()
	if ok && time.Since(cached.at) < ttl {
		return cached.snapshot, nil
	}

	candles, err := a.fetcher.GetKlines(ctx, symbol, a.cfg.Interval, a.cfg.KlineLimit)
	if err != nil {
		return models.IndicatorSnapshot{}, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	snapshot, err := a.compute(symbol, candles)
	if err != nil {
		return models.IndicatorSnapshot{}, err
	}

	a.mu.Lock()
	a.cache[symbol] = cachedSnapshot{snapshot: snapshot, at: time.Now()}
	a.mu.Unlock()

	return snapshot, nil
}

// compute рассчитывает индикаторы по готовым свечам
func (a *Analyzer) compute(symbol string, candles []*models.Candle) (models.IndicatorSnapshot, error) {
	minLen := a.cfg.BBPeriod
	if a.cfg.RSIPeriod > minLen {
		minLen = a.cfg.RSIPeriod
	}
	if a.cfg.ATRPeriod > minLen {
		minLen = a.cfg.ATRPeriod
	}
	if len(candles) <= minLen {
		return models.IndicatorSnapshot{}, fmt.Errorf("недостаточно данных для анализа: %d свечей", len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	lastClose := closes[len(closes)-1]

	rsi := talib.Rsi(closes, a.cfg.RSIPeriod)
	lastRSI := rsi[len(rsi)-1]

	upper, middle, lower := talib.BBands(closes, a.cfg.BBPeriod, 2.0, 2.0, 0)
	lastUpper := upper[len(upper)-1]
	lastMiddle := middle[len(middle)-1]
	lastLower := lower[len(lower)-1]

	var percentB, bandwidth float64
	if lastUpper > lastLower {
		percentB = (lastClose - lastLower) / (lastUpper - lastLower)
	}
	if lastMiddle > 0 {
		bandwidth = (lastUpper - lastLower) / lastMiddle
	}

	atr := talib.Atr(highs, lows, closes, a.cfg.ATRPeriod)
	lastATR := atr[len(atr)-1]
	var atrPercent float64
	if lastClose > 0 {
		atrPercent = lastATR / lastClose * 100
	}

	return models.IndicatorSnapshot{
		Symbol:     symbol,
		RSI:        lastRSI,
		PercentB:   percentB,
		Bandwidth:  bandwidth,
		ATRPercent: atrPercent,
		Price:      lastClose,
		UpdatedAt:  time.Now(),
	}, nil
}
