package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/logger"
	"github.com/skalibog/liqmap/pkg/models"
)

// BinanceClient клиент для взаимодействия с Binance Futures
type BinanceClient struct {
	futures *futures.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	futures.UseTestnet = cfg.Testnet
	futuresClient := futures.NewClient(cfg.APIKey, cfg.APISecret)

	return &BinanceClient{
		futures: futuresClient,
	}, nil
}

// GetMarkPrices получает цены всех фьючерсных символов одним запросом
func (c *BinanceClient) GetMarkPrices(ctx context.Context) (map[string]float64, error) {
	prices, err := c.futures.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения цен: %w", err)
	}

	result := make(map[string]float64, len(prices))
	for _, p := range prices {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		result[p.Symbol] = price
	}

	return result, nil
}

// GetOpenInterest получает текущий открытый интерес в базовой валюте
func (c *BinanceClient) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	oi, err := c.futures.NewGetOpenInterestService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения открытого интереса: %w", err)
	}

	value, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка парсинга открытого интереса: %w", err)
	}

	return value, nil
}

// GetOrderBook получает верхушку стакана заявок
func (c *BinanceClient) GetOrderBook(ctx context.Context, symbol string, limit int) (bids, asks []models.BookLevel, err error) {
	ob, err := c.futures.NewDepthService().
		Symbol(symbol).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка получения стакана: %w", err)
	}

	bids = make([]models.BookLevel, 0, len(ob.Bids))
	for _, bid := range ob.Bids {
		price, perr := strconv.ParseFloat(bid.Price, 64)
		qty, qerr := strconv.ParseFloat(bid.Quantity, 64)
		if perr != nil || qerr != nil {
			continue
		}
		bids = append(bids, models.BookLevel{Price: price, Quantity: qty})
	}

	asks = make([]models.BookLevel, 0, len(ob.Asks))
	for _, ask := range ob.Asks {
		price, perr := strconv.ParseFloat(ask.Price, 64)
		qty, qerr := strconv.ParseFloat(ask.Quantity, 64)
		if perr != nil || qerr != nil {
			continue
		}
		asks = append(asks, models.BookLevel{Price: price, Quantity: qty})
	}

	return bids, asks, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]*models.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.Unix(k.CloseTime/1000, 0),
		})
	}

	return candles, nil
}

// StreamLiquidations подписывается на поток принудительных ликвидаций по всему рынку
// и передает события по отслеживаемым символам в handler. BUY означает ликвидацию
// лонга (цена упала до уровня), SELL — ликвидацию шорта.
// Блокируется до отмены контекста; при обрыве соединения переподключается
// с нарастающей паузой.
func (c *BinanceClient) StreamLiquidations(ctx context.Context, symbols []string, handler func(models.LiquidationEvent)) {
	watched := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		watched[s] = true
	}

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	wsHandler := func(event *futures.WsLiquidationOrderEvent) {
		order := event.LiquidationOrder
		if !watched[order.Symbol] {
			return
		}

		price, perr := strconv.ParseFloat(order.Price, 64)
		qty, qerr := strconv.ParseFloat(order.OrigQuantity, 64)
		if perr != nil || qerr != nil || price <= 0 || qty <= 0 {
			return
		}

		side := models.SideShort
		if order.Side == futures.SideTypeBuy {
			side = models.SideLong
		}

		handler(models.LiquidationEvent{
			Symbol:    order.Symbol,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Notional:  price * qty,
			Timestamp: time.Unix(order.TradeTime/1000, 0),
		})
	}

	for {
		errC := make(chan error, 1)
		doneC, stopC, err := futures.WsAllLiquidationOrderServe(wsHandler, func(err error) {
			select {
			case errC <- err:
			default:
			}
		})
		if err != nil {
			logger.Error("Ошибка подключения к потоку ликвидаций", zap.Error(err))
		} else {
			b.Reset()
			select {
			case <-ctx.Done():
				close(stopC)
				return
			case err := <-errC:
				logger.Warn("Поток ликвидаций оборвался", zap.Error(err))
				close(stopC)
			case <-doneC:
				logger.Warn("Поток ликвидаций завершился")
			}
		}

		pause := b.Duration()
		logger.Info("Переподключение к потоку ликвидаций", zap.Duration("pause", pause))
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}
