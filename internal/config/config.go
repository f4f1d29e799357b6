package config

import (
	"os"

	"github.com/skalibog/liqmap/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig    `yaml:"binance"`
	Trading    TradingConfig    `yaml:"trading"`
	Heatmap    HeatmapConfig    `yaml:"heatmap"`
	Live       LiveConfig       `yaml:"live"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	UI         UIConfig         `yaml:"ui"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит список отслеживаемых символов
type TradingConfig struct {
	Symbols []string `yaml:"symbols"`
}

// HeatmapConfig содержит настройки предиктивной тепловой карты ликвидаций.
// Веса распределения OI по плечам (1/√L) и формула силы (√(3·доля)) —
// эмпирические калибровки, а не выведенные величины.
type HeatmapConfig struct {
	LeverageTiers         []float64 `yaml:"leverage_tiers"`
	PriceBucketPct        float64   `yaml:"price_bucket_pct"`         // доля от цены, 0.005 = 0.5%
	MinOINotional         float64   `yaml:"min_oi_notional"`          // абсолютный пол OI (USD)
	MinOIPct              float64   `yaml:"min_oi_pct"`               // относительный пол, доля от общего OI
	MinClusterDistancePct float64   `yaml:"min_cluster_distance_pct"` // минимальная дистанция между кластерами (%)
	MinQualityScore       float64   `yaml:"min_quality_score"`
	OIReferenceNotional   float64   `yaml:"oi_reference_notional"` // нормировка OI в оценке качества (USD)
	AvgPositionNotional   float64   `yaml:"avg_position_notional"` // грубая оценка среднего размера позиции (USD)
	PriceIntervalSec      int       `yaml:"price_interval_sec"`
	OIIntervalSec         int       `yaml:"oi_interval_sec"`
	RecomputeIntervalSec  int       `yaml:"recompute_interval_sec"`
	SymbolPauseMs         int       `yaml:"symbol_pause_ms"` // пауза между символами внутри OI-цикла
	DepthLimit            int       `yaml:"depth_limit"`
}

// LiveConfig содержит настройки живой карты по потоку ликвидаций
type LiveConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ClusterWindowPct float64 `yaml:"cluster_window_pct"` // доля от цены, 0.02 = 2%
	MinClusterSize   int     `yaml:"min_cluster_size"`
	DecayMinutes     int     `yaml:"decay_minutes"`
	MaxDistancePct   float64 `yaml:"max_distance_pct"` // события дальше этого не кластеризуются (%)
	BufferSize       int     `yaml:"buffer_size"`
}

// IndicatorsConfig содержит настройки панели индикаторов
type IndicatorsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	KlineLimit  int    `yaml:"kline_limit"`
	RSIPeriod   int    `yaml:"rsi_period"`
	BBPeriod    int    `yaml:"bb_period"`
	ATRPeriod   int    `yaml:"atr_period"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// StorageConfig содержит настройки хранения истории
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// ServerConfig содержит настройки HTTP-сервера
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// UIConfig содержит настройки терминального интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("Ошибка чтения файла конфигурации", zap.Error(err))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		logger.Fatal("Ошибка разбора файла конфигурации", zap.Error(err))
	}

	config.applyDefaults()

	logger.Info("Загружена конфигурация", zap.Any("Symbols", config.Trading.Symbols))
	return &config, nil
}

// applyDefaults подставляет значения по умолчанию для пропущенных полей
func (c *Config) applyDefaults() {
	h := &c.Heatmap
	if len(h.LeverageTiers) == 0 {
		h.LeverageTiers = []float64{100, 50, 25, 10, 5}
	}
	if h.PriceBucketPct <= 0 {
		h.PriceBucketPct = 0.005
	}
	if h.MinOINotional <= 0 {
		h.MinOINotional = 25000
	}
	if h.MinOIPct <= 0 {
		h.MinOIPct = 0.02
	}
	if h.MinClusterDistancePct <= 0 {
		h.MinClusterDistancePct = 0.3
	}
	if h.MinQualityScore <= 0 {
		h.MinQualityScore = 0.15
	}
	if h.OIReferenceNotional <= 0 {
		h.OIReferenceNotional = 10_000_000
	}
	if h.AvgPositionNotional <= 0 {
		h.AvgPositionNotional = 1000
	}
	if h.PriceIntervalSec <= 0 {
		h.PriceIntervalSec = 5
	}
	if h.OIIntervalSec <= 0 {
		h.OIIntervalSec = 15
	}
	if h.RecomputeIntervalSec <= 0 {
		h.RecomputeIntervalSec = 3
	}
	if h.SymbolPauseMs <= 0 {
		h.SymbolPauseMs = 250
	}
	if h.DepthLimit <= 0 {
		h.DepthLimit = 100
	}

	l := &c.Live
	if l.ClusterWindowPct <= 0 {
		l.ClusterWindowPct = 0.02
	}
	if l.MinClusterSize <= 0 {
		l.MinClusterSize = 5
	}
	if l.DecayMinutes <= 0 {
		l.DecayMinutes = 60
	}
	if l.MaxDistancePct <= 0 {
		l.MaxDistancePct = 10.0
	}
	if l.BufferSize <= 0 {
		l.BufferSize = 10000
	}

	i := &c.Indicators
	if i.Interval == "" {
		i.Interval = "5m"
	}
	if i.KlineLimit <= 0 {
		i.KlineLimit = 100
	}
	if i.RSIPeriod <= 0 {
		i.RSIPeriod = 14
	}
	if i.BBPeriod <= 0 {
		i.BBPeriod = 20
	}
	if i.ATRPeriod <= 0 {
		i.ATRPeriod = 14
	}
	if i.CacheTTLSec <= 0 {
		i.CacheTTLSec = 30
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
	if c.UI.RefreshRate <= 0 {
		c.UI.RefreshRate = 1000
	}
}
