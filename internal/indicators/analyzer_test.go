package indicators

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/models"
)

type fakeKlines struct {
	candles []*models.Candle
	err     error
	calls   int
}

func (f *fakeKlines) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func testIndicatorsConfig() config.IndicatorsConfig {
	return config.IndicatorsConfig{
		Interval:    "5m",
		KlineLimit:  100,
		RSIPeriod:   14,
		BBPeriod:    20,
		ATRPeriod:   14,
		CacheTTLSec: 30,
	}
}

func syntheticCandles(n int) []*models.Candle {
	candles := make([]*models.Candle, n)
	base := time.Now().Add(-time.Duration(n) * 5 * time.Minute)
	for i := 0; i < n; i++ {
		price := 100 + 5*math.Sin(float64(i)/7)
		candles[i] = &models.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "5m",
			OpenTime:  base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.2,
			Volume:    10,
			CloseTime: base.Add(time.Duration(i+1) * 5 * time.Minute),
		}
	}
	return candles
}

func TestAnalyzeComputesSnapshot(t *testing.T) {
	fetcher := &fakeKlines{candles: syntheticCandles(100)}
	a := NewAnalyzer(testIndicatorsConfig(), fetcher)

	snap, err := a.Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.GreaterOrEqual(t, snap.RSI, 0.0)
	assert.LessOrEqual(t, snap.RSI, 100.0)
	assert.Greater(t, snap.Bandwidth, 0.0)
	assert.Greater(t, snap.ATRPercent, 0.0)
	assert.Greater(t, snap.Price, 0.0)
}

func TestAnalyzeUsesCacheWithinTTL(t *testing.T) {
	fetcher := &fakeKlines{candles: syntheticCandles(100)}
	a := NewAnalyzer(testIndicatorsConfig(), fetcher)

	_, err := a.Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
}

func TestAnalyzeFetchError(t *testing.T) {
	fetcher := &fakeKlines{err: errors.New("таймаут")}
	a := NewAnalyzer(testIndicatorsConfig(), fetcher)

	_, err := a.Analyze(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	fetcher := &fakeKlines{candles: syntheticCandles(10)}
	a := NewAnalyzer(testIndicatorsConfig(), fetcher)

	_, err := a.Analyze(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
