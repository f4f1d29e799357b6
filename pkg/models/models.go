package models

import (
	"time"
)

// Side сторона позиции, которая ликвидируется на уровне
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// MarkPriceSnapshot представляет последнюю известную mark-цену символа
type MarkPriceSnapshot struct {
	Symbol     string
	Price      float64
	ObservedAt time.Time
}

// BookLevel представляет уровень стакана с численными значениями
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OpenInterestSnapshot представляет последний снимок открытого интереса символа.
// Bids/Asks — небольшая выборка верхушки стакана, используется только для оценки
// распределения long/short, когда биржа не отдает его напрямую.
type OpenInterestSnapshot struct {
	Symbol         string
	TotalNotional  float64 // суммарный OI в USD
	LongNotional   float64
	ShortNotional  float64
	LongShortRatio float64
	Bids           []BookLevel
	Asks           []BookLevel
	ObservedAt     time.Time
}

// LiquidationLevel представляет предсказанный (или наблюдаемый) уровень ликвидаций.
// Side=long означает, что на этом уровне принудительно закрываются лонги
// (уровень ниже текущей цены); short — зеркальный случай выше цены.
type LiquidationLevel struct {
	PriceLevel        float64   `json:"price_level"`
	Side              Side      `json:"side"`
	LeverageTier      float64   `json:"leverage_tier"`
	OpenInterest      float64   `json:"open_interest"`
	LiquidationCount  int       `json:"liquidation_count"`
	Strength          float64   `json:"strength"`            // 0-1
	DistanceFromPrice float64   `json:"distance_from_price"` // % от текущей цены
	ClusterID         int       `json:"cluster_id"`
	LastUpdated       time.Time `json:"last_updated"`
}

// LiquidationEvent представляет событие принудительной ликвидации из потока биржи
type LiquidationEvent struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Notional  float64   `json:"notional"` // USD
	Timestamp time.Time `json:"timestamp"`
}

// Candle представляет свечу для панели индикаторов
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// IndicatorSnapshot представляет рассчитанные индикаторы по символу
type IndicatorSnapshot struct {
	Symbol     string    `json:"symbol"`
	RSI        float64   `json:"rsi"`
	PercentB   float64   `json:"percent_b"`
	Bandwidth  float64   `json:"bandwidth"`
	ATRPercent float64   `json:"atr_percent"`
	Price      float64   `json:"price"`
	UpdatedAt  time.Time `json:"updated_at"`
}
