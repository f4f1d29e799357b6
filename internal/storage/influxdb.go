// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/models"
)

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	queryAPI := client.QueryAPI(cfg.Organization)
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	return &InfluxDBStorage{
		client:   client,
		queryAPI: queryAPI,
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// SaveLevels сохраняет опубликованный набор уровней символа
func (s *InfluxDBStorage) SaveLevels(ctx context.Context, symbol string, markPrice float64, levels []models.LiquidationLevel) error {
	now := time.Now()
	for _, level := range levels {
		point := influxdb2.NewPoint(
			"liquidation_levels",
			map[string]string{
				"symbol": symbol,
				"side":   string(level.Side),
			},
			map[string]interface{}{
				"price_level":   level.PriceLevel,
				"mark_price":    markPrice,
				"leverage_tier": level.LeverageTier,
				"open_interest": level.OpenInterest,
				"count":         level.LiquidationCount,
				"strength":      level.Strength,
				"distance_pct":  level.DistanceFromPrice,
				"cluster_id":    level.ClusterID,
			},
			now,
		)
		s.writeAPI.WritePoint(point)
	}

	s.writeAPI.Flush()
	return nil
}

// SaveLiquidationEvent сохраняет событие принудительной ликвидации из потока
func (s *InfluxDBStorage) SaveLiquidationEvent(ctx context.Context, event models.LiquidationEvent) error {
	point := influxdb2.NewPoint(
		"liquidation_events",
		map[string]string{
			"symbol": event.Symbol,
			"side":   string(event.Side),
		},
		map[string]interface{}{
			"price":    event.Price,
			"quantity": event.Quantity,
			"notional": event.Notional,
		},
		event.Timestamp,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// GetLevelHistory получает историю опубликованных уровней символа
func (s *InfluxDBStorage) GetLevelHistory(ctx context.Context, symbol string, limit int) ([]models.LiquidationLevel, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -7d)
			|> filter(fn: (r) => r._measurement == "liquidation_levels")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	// Выполняем запрос
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории уровней: %w", err)
	}

	// Обрабатываем результаты
	var levels []models.LiquidationLevel
	for result.Next() {
		record := result.Record()

		side, _ := record.ValueByKey("side").(string)
		price, _ := record.ValueByKey("price_level").(float64)
		leverage, _ := record.ValueByKey("leverage_tier").(float64)
		oi, _ := record.ValueByKey("open_interest").(float64)
		count, _ := record.ValueByKey("count").(int64)
		strength, _ := record.ValueByKey("strength").(float64)
		distance, _ := record.ValueByKey("distance_pct").(float64)
		clusterID, _ := record.ValueByKey("cluster_id").(int64)

		levels = append(levels, models.LiquidationLevel{
			PriceLevel:        price,
			Side:              models.Side(side),
			LeverageTier:      leverage,
			OpenInterest:      oi,
			LiquidationCount:  int(count),
			Strength:          strength,
			DistanceFromPrice: distance,
			ClusterID:         int(clusterID),
			LastUpdated:       record.Time(),
		})
	}

	// Проверяем на ошибки при обработке результатов
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return levels, nil
}

// GetRecentEvents получает недавние события ликвидаций символа
func (s *InfluxDBStorage) GetRecentEvents(ctx context.Context, symbol string, since time.Duration) ([]models.LiquidationEvent, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -%ds)
			|> filter(fn: (r) => r._measurement == "liquidation_events")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
	`, s.bucket, int(since.Seconds()), symbol)

	// Выполняем запрос
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса событий ликвидаций: %w", err)
	}

	// Обрабатываем результаты
	var events []models.LiquidationEvent
	for result.Next() {
		record := result.Record()

		side, _ := record.ValueByKey("side").(string)
		price, _ := record.ValueByKey("price").(float64)
		quantity, _ := record.ValueByKey("quantity").(float64)
		notional, _ := record.ValueByKey("notional").(float64)

		events = append(events, models.LiquidationEvent{
			Symbol:    symbol,
			Side:      models.Side(side),
			Price:     price,
			Quantity:  quantity,
			Notional:  notional,
			Timestamp: record.Time(),
		})
	}

	// Проверяем на ошибки
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return events, nil
}

// Storage интерфейс для работы с хранилищем истории
type Storage interface {
	// Методы для уровней ликвидаций
	SaveLevels(ctx context.Context, symbol string, markPrice float64, levels []models.LiquidationLevel) error
	GetLevelHistory(ctx context.Context, symbol string, limit int) ([]models.LiquidationLevel, error)

	// Методы для событий ликвидаций
	SaveLiquidationEvent(ctx context.Context, event models.LiquidationEvent) error
	GetRecentEvents(ctx context.Context, symbol string, since time.Duration) ([]models.LiquidationEvent, error)

	Close()
}
