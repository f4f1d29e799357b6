package marketdata

import (
	"sync"
	"time"

	"github.com/skalibog/liqmap/pkg/models"
)

// FetchResult представляет исход попытки обновления данных коллектором
type FetchResult int

const (
	// Fresh — получено и записано новое значение
	Fresh FetchResult = iota
	// Stale — запрос не удался, в кэше осталось прежнее значение
	Stale
)

// String возвращает текстовое представление исхода
func (r FetchResult) String() string {
	if r == Fresh {
		return "fresh"
	}
	return "stale"
}

// Cache хранит последние известные рыночные данные по символам.
// Только перезапись: истории нет, записи не удаляются до конца работы процесса.
// Все методы безопасны для конкурентного вызова.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]models.MarkPriceSnapshot
	oi     map[string]models.OpenInterestSnapshot
}

// NewCache создает новый кэш рыночных данных
func NewCache() *Cache {
	return &Cache{
		prices: make(map[string]models.MarkPriceSnapshot),
		oi:     make(map[string]models.OpenInterestSnapshot),
	}
}

// SetPrice записывает mark-цену символа. Неположительные цены
// молча отбрасываются, в кэше остается предыдущее значение.
func (c *Cache) SetPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prices[symbol] = models.MarkPriceSnapshot{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Now(),
	}
}

// SetOpenInterest записывает снимок открытого интереса символа
func (c *Cache) SetOpenInterest(symbol string, snapshot models.OpenInterestSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot.Symbol = symbol
	c.oi[symbol] = snapshot
}

// Price возвращает последнюю известную mark-цену символа
func (c *Cache) Price(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.prices[symbol]
	if !ok {
		return 0, false
	}
	return snap.Price, true
}

// PriceSnapshot возвращает снимок цены вместе со временем наблюдения
func (c *Cache) PriceSnapshot(symbol string) (models.MarkPriceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.prices[symbol]
	return snap, ok
}

// OpenInterest возвращает последний снимок открытого интереса символа
func (c *Cache) OpenInterest(symbol string) (models.OpenInterestSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.oi[symbol]
	return snap, ok
}
