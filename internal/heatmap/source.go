package heatmap

import (
	"github.com/skalibog/liqmap/pkg/models"
)

// CandidateSource выдает сырые кандидаты уровней ликвидаций для кластеризации.
// Вес кандидата передается в поле OpenInterest. Реализации: формульный
// калькулятор (предиктивный режим) и буфер живых событий (наблюдаемый режим).
type CandidateSource interface {
	Candidates(symbol string, markPrice float64) []models.LiquidationLevel
}
