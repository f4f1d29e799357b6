package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/logger"
	"github.com/skalibog/liqmap/pkg/models"
)

// Heatmap часть движка, нужная HTTP-срезу
type Heatmap interface {
	Levels(symbol string, minStrength, maxDistancePct float64) []models.LiquidationLevel
	BestLevel(symbol string, minStrength float64) *models.LiquidationLevel
	CurrentPrice(symbol string) (float64, bool)
	Symbols() []string
}

// LiveMap живая карта по потоку ликвидаций
type LiveMap interface {
	Clusters(symbol string) []models.LiquidationLevel
	BestCluster(symbol string, minStrength float64) *models.LiquidationLevel
	EventCount(symbol string) int
}

// IndicatorPanel панель индикаторов
type IndicatorPanel interface {
	Analyze(ctx context.Context, symbol string) (models.IndicatorSnapshot, error)
}

// HistoryStore читающая часть хранилища истории
type HistoryStore interface {
	GetLevelHistory(ctx context.Context, symbol string, limit int) ([]models.LiquidationLevel, error)
	GetRecentEvents(ctx context.Context, symbol string, since time.Duration) ([]models.LiquidationEvent, error)
}

// Server отдает тепловую карту по HTTP
type Server struct {
	cfg        config.ServerConfig
	heatmap    Heatmap
	live       LiveMap        // nil — живая карта выключена
	indicators IndicatorPanel // nil — панель выключена
	history    HistoryStore   // nil — хранилище выключено
	httpServer *http.Server
}

// heatmapResponse ответ эндпоинта тепловой карты
type heatmapResponse struct {
	Symbol       string                    `json:"symbol"`
	CurrentPrice float64                   `json:"current_price"`
	Count        int                       `json:"count"`
	Levels       []models.LiquidationLevel `json:"levels"`
}

// NewServer создает новый HTTP-сервер
func NewServer(cfg config.ServerConfig, heatmap Heatmap, live LiveMap, indicators IndicatorPanel, history HistoryStore) *Server {
	s := &Server{
		cfg:        cfg,
		heatmap:    heatmap,
		live:       live,
		indicators: indicators,
		history:    history,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Router собирает маршруты сервера
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/symbols", s.handleSymbols).Methods(http.MethodGet)
	r.HandleFunc("/api/heatmap/{symbol}", s.handleHeatmap).Methods(http.MethodGet)
	r.HandleFunc("/api/heatmap/{symbol}/best", s.handleBestLevel).Methods(http.MethodGet)
	r.HandleFunc("/api/heatmap/{symbol}/history", s.handleLevelHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/live/{symbol}", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/api/live/{symbol}/recent", s.handleRecentEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/indicators/{symbol}", s.handleIndicators).Methods(http.MethodGet)
	return r
}

// Start запускает сервер и останавливает его при отмене контекста
func (s *Server) Start(ctx context.Context) {
	go func() {
		logger.Info("HTTP-сервер запущен", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Ошибка HTTP-сервера", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ошибка остановки HTTP-сервера", zap.Error(err))
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": s.heatmap.Symbols()})
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	minStrength := queryFloat(r, "min_strength", 0)
	maxDistance := queryFloat(r, "max_distance", 10)

	levels := s.heatmap.Levels(symbol, minStrength, maxDistance)
	price, _ := s.heatmap.CurrentPrice(symbol)

	writeJSON(w, http.StatusOK, heatmapResponse{
		Symbol:       symbol,
		CurrentPrice: price,
		Count:        len(levels),
		Levels:       levels,
	})
}

func (s *Server) handleBestLevel(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	minStrength := queryFloat(r, "min_strength", 0.6)

	best := s.heatmap.BestLevel(symbol, minStrength)
	if best == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "подходящий уровень не найден"})
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "живая карта выключена"})
		return
	}

	symbol := mux.Vars(r)["symbol"]
	clusters := s.live.Clusters(symbol)
	price, _ := s.heatmap.CurrentPrice(symbol)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":        symbol,
		"current_price": price,
		"event_count":   s.live.EventCount(symbol),
		"count":         len(clusters),
		"clusters":      clusters,
	})
}

func (s *Server) handleLevelHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "хранилище выключено"})
		return
	}

	symbol := mux.Vars(r)["symbol"]
	limit := queryInt(r, "limit", 100)

	levels, err := s.history.GetLevelHistory(r.Context(), symbol, limit)
	if err != nil {
		logger.Warn("Не удалось прочитать историю уровней", zap.String("symbol", symbol), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "данные недоступны"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"count":  len(levels),
		"levels": levels,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "хранилище выключено"})
		return
	}

	symbol := mux.Vars(r)["symbol"]
	minutes := queryInt(r, "minutes", 60)

	events, err := s.history.GetRecentEvents(r.Context(), symbol, time.Duration(minutes)*time.Minute)
	if err != nil {
		logger.Warn("Не удалось прочитать недавние ликвидации", zap.String("symbol", symbol), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "данные недоступны"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	if s.indicators == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "панель индикаторов выключена"})
		return
	}

	symbol := mux.Vars(r)["symbol"]
	snapshot, err := s.indicators.Analyze(r.Context(), symbol)
	if err != nil {
		logger.Warn("Не удалось рассчитать индикаторы", zap.String("symbol", symbol), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "данные недоступны"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// queryFloat читает числовой query-параметр с дефолтом
func queryFloat(r *http.Request, name string, def float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return value
}

// queryInt читает целочисленный query-параметр с дефолтом
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("Ошибка сериализации ответа", zap.Error(err))
	}
}
