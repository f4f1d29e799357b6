package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/internal/exchange"
	"github.com/skalibog/liqmap/internal/heatmap"
	"github.com/skalibog/liqmap/internal/indicators"
	"github.com/skalibog/liqmap/internal/marketdata"
	"github.com/skalibog/liqmap/internal/server"
	"github.com/skalibog/liqmap/internal/storage"
	"github.com/skalibog/liqmap/internal/ui"
	"github.com/skalibog/liqmap/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(5 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	// Инициализируем хранилище истории (опционально)
	var store storage.Storage
	if cfg.Storage.Enabled {
		influx, err := storage.NewInfluxDBStorage(cfg.Storage)
		if err != nil {
			logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
		}
		defer influx.Close()
		store = influx
	}

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Кэш рыночных данных и формульный источник кандидатов
	cache := marketdata.NewCache()
	calculator := heatmap.NewCalculator(cfg.Heatmap, cache)

	// Движок тепловой карты: циклы цен, OI и пересчета
	engine := heatmap.NewEngine(cfg, client, cache, calculator, store)
	engine.Start(ctx)

	// Живая карта по потоку принудительных ликвидаций (опционально)
	var live *heatmap.LiveHeatmap
	if cfg.Live.Enabled {
		live = heatmap.NewLiveHeatmap(cfg.Live, cache, store)
		go client.StreamLiquidations(ctx, cfg.Trading.Symbols, live.HandleEvent)
	}

	// Панель индикаторов (опционально)
	var panel *indicators.Analyzer
	if cfg.Indicators.Enabled {
		panel = indicators.NewAnalyzer(cfg.Indicators, client)
	}

	// HTTP-сервер (опционально)
	if cfg.Server.Enabled {
		var liveMap server.LiveMap
		if live != nil {
			liveMap = live
		}
		var indPanel server.IndicatorPanel
		if panel != nil {
			indPanel = panel
		}
		var history server.HistoryStore
		if store != nil {
			history = store
		}
		srv := server.NewServer(cfg.Server, engine, liveMap, indPanel, history)
		srv.Start(ctx)
	}

	// Терминальный интерфейс
	if cfg.UI.Enabled {
		userInterface, err := ui.NewTermUI(cfg.UI, engine, ctx)
		if err != nil {
			logger.Fatal("Ошибка инициализации пользовательского интерфейса", zap.Error(err))
		}

		// Запускаем UI в основном потоке (блокирующий вызов)
		userInterface.Start()
		cancel()
		return
	}

	logger.Info("liqmap запущен без терминального интерфейса")
	<-ctx.Done()
}
