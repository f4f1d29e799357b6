package heatmap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/internal/marketdata"
	"github.com/skalibog/liqmap/pkg/models"
)

// fakeFetcher подменяет биржевой клиент в тестах
type fakeFetcher struct {
	prices    map[string]float64
	priceErr  error
	oi        float64
	oiErr     error
	bids      []models.BookLevel
	asks      []models.BookLevel
	bookErr   error
	oiCalls   int
	bookCalls int
}

func (f *fakeFetcher) GetMarkPrices(ctx context.Context) (map[string]float64, error) {
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return f.prices, nil
}

func (f *fakeFetcher) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	f.oiCalls++
	if f.oiErr != nil {
		return 0, f.oiErr
	}
	return f.oi, nil
}

func (f *fakeFetcher) GetOrderBook(ctx context.Context, symbol string, limit int) ([]models.BookLevel, []models.BookLevel, error) {
	f.bookCalls++
	if f.bookErr != nil {
		return nil, nil, f.bookErr
	}
	return f.bids, f.asks, nil
}

// staticSource выдает фиксированный набор кандидатов
type staticSource struct {
	mu         sync.Mutex
	candidates []models.LiquidationLevel
}

func (s *staticSource) Candidates(symbol string, markPrice float64) []models.LiquidationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LiquidationLevel, len(s.candidates))
	copy(out, s.candidates)
	return out
}

func (s *staticSource) set(candidates []models.LiquidationLevel) {
	s.mu.Lock()
	s.candidates = candidates
	s.mu.Unlock()
}

// failingStore имитирует недоступное хранилище истории
type failingStore struct {
	saveCalls int
}

func (f *failingStore) SaveLevels(ctx context.Context, symbol string, markPrice float64, levels []models.LiquidationLevel) error {
	f.saveCalls++
	return errors.New("хранилище недоступно")
}

func (f *failingStore) GetLevelHistory(ctx context.Context, symbol string, limit int) ([]models.LiquidationLevel, error) {
	return nil, errors.New("хранилище недоступно")
}

func (f *failingStore) SaveLiquidationEvent(ctx context.Context, event models.LiquidationEvent) error {
	return errors.New("хранилище недоступно")
}

func (f *failingStore) GetRecentEvents(ctx context.Context, symbol string, since time.Duration) ([]models.LiquidationEvent, error) {
	return nil, errors.New("хранилище недоступно")
}

func (f *failingStore) Close() {}

func testEngineConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{Symbols: []string{"BTCUSDT"}},
		Heatmap: testHeatmapConfig(),
	}
}

func TestRefreshPricesUpdatesCache(t *testing.T) {
	cache := marketdata.NewCache()
	fetcher := &fakeFetcher{prices: map[string]float64{"BTCUSDT": 65000, "ETHUSDT": 3200}}
	e := NewEngine(testEngineConfig(), fetcher, cache, &staticSource{}, nil)

	result := e.refreshPrices(context.Background())
	assert.Equal(t, marketdata.Fresh, result)

	price, ok := cache.Price("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 65000.0, price)

	// неотслеживаемый символ не попадает в кэш
	_, ok = cache.Price("ETHUSDT")
	assert.False(t, ok)
}

func TestRefreshPricesKeepsStaleOnError(t *testing.T) {
	cache := marketdata.NewCache()
	cache.SetPrice("BTCUSDT", 64000)
	fetcher := &fakeFetcher{priceErr: errors.New("таймаут")}
	e := NewEngine(testEngineConfig(), fetcher, cache, &staticSource{}, nil)

	result := e.refreshPrices(context.Background())
	assert.Equal(t, marketdata.Stale, result)

	price, ok := cache.Price("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 64000.0, price)
}

func TestRefreshOpenInterestSplitsByBookImbalance(t *testing.T) {
	cache := marketdata.NewCache()
	cache.SetPrice("BTCUSDT", 100)
	fetcher := &fakeFetcher{
		oi:   10000, // в базовой валюте
		bids: []models.BookLevel{{Price: 99, Quantity: 3}},
		asks: []models.BookLevel{{Price: 101, Quantity: 1}},
	}
	e := NewEngine(testEngineConfig(), fetcher, cache, &staticSource{}, nil)

	result := e.refreshOpenInterest(context.Background(), "BTCUSDT")
	assert.Equal(t, marketdata.Fresh, result)

	snap, ok := cache.OpenInterest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1_000_000.0, snap.TotalNotional)

	expectedRatio := (99.0 * 3) / (99.0*3 + 101.0*1)
	assert.InDelta(t, expectedRatio, snap.LongShortRatio, 1e-9)
	assert.InDelta(t, snap.TotalNotional*expectedRatio, snap.LongNotional, 1e-6)
	assert.InDelta(t, snap.TotalNotional, snap.LongNotional+snap.ShortNotional, 1e-6)
}

func TestRefreshOpenInterestFallbackFiftyFifty(t *testing.T) {
	cache := marketdata.NewCache()
	cache.SetPrice("BTCUSDT", 100)
	fetcher := &fakeFetcher{oi: 10000, bookErr: errors.New("недоступен")}
	e := NewEngine(testEngineConfig(), fetcher, cache, &staticSource{}, nil)

	result := e.refreshOpenInterest(context.Background(), "BTCUSDT")
	assert.Equal(t, marketdata.Fresh, result)

	snap, _ := cache.OpenInterest("BTCUSDT")
	assert.InDelta(t, 0.5, snap.LongShortRatio, 1e-9)
	assert.InDelta(t, snap.LongNotional, snap.ShortNotional, 1e-6)
}

func TestRefreshOpenInterestRequiresPrice(t *testing.T) {
	cache := marketdata.NewCache()
	fetcher := &fakeFetcher{oi: 10000}
	e := NewEngine(testEngineConfig(), fetcher, cache, &staticSource{}, nil)

	// без цены нотионал не посчитать: запрос к бирже даже не выполняется
	result := e.refreshOpenInterest(context.Background(), "BTCUSDT")
	assert.Equal(t, marketdata.Stale, result)
	assert.Zero(t, fetcher.oiCalls)
}

func TestRecomputePublishesFilteredLevels(t *testing.T) {
	cache := marketdata.NewCache()
	source := &staticSource{}
	source.set([]models.LiquidationLevel{
		{PriceLevel: 90, Side: models.SideLong, OpenInterest: 5_000_000, LiquidationCount: 50, Strength: 0.8, DistanceFromPrice: 10},
		{PriceLevel: 112, Side: models.SideShort, OpenInterest: 2_000_000, LiquidationCount: 20, Strength: 0.5, DistanceFromPrice: 12},
	})
	e := NewEngine(testEngineConfig(), &fakeFetcher{}, cache, source, nil)

	e.RecomputeSymbol(context.Background(), "BTCUSDT", 100)

	all := e.Levels("BTCUSDT", 0, 0)
	require.Len(t, all, 2)

	strong := e.Levels("BTCUSDT", 0.6, 0)
	require.Len(t, strong, 1)
	assert.Equal(t, 90.0, strong[0].PriceLevel)

	near := e.Levels("BTCUSDT", 0, 5)
	assert.Empty(t, near)
}

func TestRecomputePublishesDespiteStoreError(t *testing.T) {
	cache := marketdata.NewCache()
	source := &staticSource{}
	source.set([]models.LiquidationLevel{
		{PriceLevel: 90, Side: models.SideLong, OpenInterest: 5_000_000, LiquidationCount: 50, Strength: 0.8, DistanceFromPrice: 10},
		{PriceLevel: 112, Side: models.SideShort, OpenInterest: 2_000_000, LiquidationCount: 20, Strength: 0.5, DistanceFromPrice: 12},
	})
	store := &failingStore{}
	e := NewEngine(testEngineConfig(), &fakeFetcher{}, cache, source, store)

	e.RecomputeSymbol(context.Background(), "BTCUSDT", 100)

	// ошибка записи в хранилище не мешает публикации уровней
	assert.Equal(t, 1, store.saveCalls)
	levels := e.Levels("BTCUSDT", 0, 0)
	require.Len(t, levels, 2)
}

func TestRecomputeIdempotent(t *testing.T) {
	cache := marketdata.NewCache()
	source := &staticSource{}
	source.set([]models.LiquidationLevel{
		{PriceLevel: 90, Side: models.SideLong, OpenInterest: 5_000_000, LiquidationCount: 50, Strength: 0.8, DistanceFromPrice: 10},
		{PriceLevel: 112, Side: models.SideShort, OpenInterest: 2_000_000, LiquidationCount: 20, Strength: 0.5, DistanceFromPrice: 12},
	})
	e := NewEngine(testEngineConfig(), &fakeFetcher{}, cache, source, nil)

	e.RecomputeSymbol(context.Background(), "BTCUSDT", 100)
	first := e.Levels("BTCUSDT", 0, 0)
	e.RecomputeSymbol(context.Background(), "BTCUSDT", 100)
	second := e.Levels("BTCUSDT", 0, 0)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].PriceLevel, second[i].PriceLevel)
		assert.Equal(t, first[i].Side, second[i].Side)
		assert.Equal(t, first[i].Strength, second[i].Strength)
		assert.Equal(t, first[i].ClusterID, second[i].ClusterID)
	}
}

func TestBestLevelOrdering(t *testing.T) {
	cache := marketdata.NewCache()
	source := &staticSource{}
	source.set([]models.LiquidationLevel{
		{PriceLevel: 90, Side: models.SideLong, OpenInterest: 5_000_000, Strength: 0.8, DistanceFromPrice: 10},
		{PriceLevel: 95, Side: models.SideLong, OpenInterest: 5_000_000, Strength: 0.8, DistanceFromPrice: 5},
		{PriceLevel: 112, Side: models.SideShort, OpenInterest: 2_000_000, Strength: 0.5, DistanceFromPrice: 12},
	})
	e := NewEngine(testEngineConfig(), &fakeFetcher{}, cache, source, nil)
	e.RecomputeSymbol(context.Background(), "BTCUSDT", 100)

	// при равной силе побеждает более близкий уровень
	best := e.BestLevel("BTCUSDT", 0)
	require.NotNil(t, best)
	assert.Equal(t, 95.0, best.PriceLevel)

	assert.Nil(t, e.BestLevel("BTCUSDT", 0.95))
	assert.Nil(t, e.BestLevel("XRPUSDT", 0))
}

func TestLevelsEmptyBeforeFirstRecompute(t *testing.T) {
	e := NewEngine(testEngineConfig(), &fakeFetcher{}, marketdata.NewCache(), &staticSource{}, nil)

	levels := e.Levels("BTCUSDT", 0, 0)
	assert.NotNil(t, levels)
	assert.Empty(t, levels)
}

func TestConcurrentReadsNeverSeeMixedList(t *testing.T) {
	setA := []models.LiquidationLevel{
		{PriceLevel: 90, Side: models.SideLong, OpenInterest: 5_000_000, Strength: 0.8, DistanceFromPrice: 10},
		{PriceLevel: 112, Side: models.SideShort, OpenInterest: 5_000_000, Strength: 0.8, DistanceFromPrice: 12},
	}
	setB := []models.LiquidationLevel{
		{PriceLevel: 85, Side: models.SideLong, OpenInterest: 5_000_000, Strength: 0.8, DistanceFromPrice: 15},
		{PriceLevel: 117, Side: models.SideShort, OpenInterest: 5_000_000, Strength: 0.8, DistanceFromPrice: 17},
	}

	cache := marketdata.NewCache()
	source := &staticSource{}
	e := NewEngine(testEngineConfig(), &fakeFetcher{}, cache, source, nil)

	fromSetA := map[float64]bool{90: true, 112: true}
	fromSetB := map[float64]bool{85: true, 117: true}

	var readers sync.WaitGroup
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				source.set(setA)
			} else {
				source.set(setB)
			}
			e.RecomputeSymbol(context.Background(), "BTCUSDT", 100)
		}
	}()

	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 2000; i++ {
				levels := e.Levels("BTCUSDT", 0, 0)
				var sawA, sawB bool
				for _, l := range levels {
					if fromSetA[l.PriceLevel] {
						sawA = true
					}
					if fromSetB[l.PriceLevel] {
						sawB = true
					}
				}
				assert.False(t, sawA && sawB, "опубликованный список собран из двух пересчетов")
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}
