package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/skalibog/liqmap/internal/config"
	"github.com/skalibog/liqmap/pkg/logger"
	"github.com/skalibog/liqmap/pkg/models"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	// Главный контейнер
	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	// Заголовок
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	// Секция уровней
	levelsHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#ffffff")).
				Background(secondaryColor).
				Padding(0, 1)
	levelsSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor).
				Padding(0, 1)
	// Секция логов
	logsHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	logsSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor).
				Padding(0, 1)
	// Футер
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)

	longStyle  = lipgloss.NewStyle().Foreground(successColor)
	shortStyle = lipgloss.NewStyle().Foreground(errorColor)
)

// LevelSource часть движка, нужная терминальному интерфейсу
type LevelSource interface {
	Symbols() []string
	Levels(symbol string, minStrength, maxDistancePct float64) []models.LiquidationLevel
	CurrentPrice(symbol string) (float64, bool)
}

// TermUI представляет терминальный интерфейс
type TermUI struct {
	source        LevelSource
	logs          []string
	logsMutex     sync.RWMutex
	config        config.UIConfig
	program       *tea.Program
	selectedIndex int
	width         int
	height        int
	logFile       string
}

// Сообщения для обновления UI
type refreshMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

func NewTermUI(cfg config.UIConfig, source LevelSource, ctx context.Context) (*TermUI, error) {
	ui := &TermUI{
		source:        source,
		logs:          []string{"liqmap запущен. Ожидание данных..."},
		config:        cfg,
		selectedIndex: 0,
		width:         120,
		height:        40,
		logFile:       logger.JSONLogFile,
	}

	// Загружаем логи из файла при запуске
	if err := ui.loadLogsFromFile(); err != nil {
		ui.logs = append(ui.logs, fmt.Sprintf("Ошибка загрузки логов: %v", err))
	}

	// Таймер обновления логов и таблицы уровней
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.RefreshRate) * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ui.loadLogsFromFile(); err != nil {
					logger.Warn("Ошибка загрузки логов", zap.Error(err))
				}
				if ui.program != nil {
					ui.program.Send(refreshMsg{})
				}
			}
		}
	}()

	return ui, nil
}

func (ui *TermUI) Start() {
	model := bubbleModel{ui: ui}
	ui.program = tea.NewProgram(model, tea.WithAltScreen())

	// Запускаем UI
	if err := ui.program.Start(); err != nil {
		fmt.Printf("Ошибка запуска UI: %v\n", err)
	}
}

// loadLogsFromFile читает хвост JSON-лога для секции логов
func (ui *TermUI) loadLogsFromFile() error {
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			// Файл не существует, это не ошибка
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var logs []string

	// Регулярное выражение для удаления ANSI-цветов
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)

	for scanner.Scan() {
		line := scanner.Text()

		// Пытаемся распарсить JSON
		var zapLog map[string]interface{}
		if err := json.Unmarshal([]byte(line), &zapLog); err == nil {
			level, _ := zapLog["level"].(string)
			ts, _ := zapLog["ts"].(string)
			msg, _ := zapLog["msg"].(string)

			level = ansiRegex.ReplaceAllString(level, "")

			timestamp := ""
			if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
				timestamp = t.Format("15:04:05")
			}

			formattedMsg := fmt.Sprintf("[%s] [%s] %s", timestamp, level, msg)

			for k, v := range zapLog {
				if k != "level" && k != "ts" && k != "msg" && k != "caller" {
					formattedMsg += fmt.Sprintf(" (%s: %v)", k, v)
				}
			}

			logs = append(logs, formattedMsg)
		} else {
			logs = append(logs, line)
		}

		// Ограничиваем количество логов
		if len(logs) > 50 {
			logs = logs[1:]
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	ui.logsMutex.Lock()
	defer ui.logsMutex.Unlock()

	if len(logs) > 0 {
		ui.logs = logs
		if len(ui.logs) > 50 {
			ui.logs = ui.logs[len(ui.logs)-50:]
		}
	}

	return nil
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return nil
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.selectedIndex = max(0, m.ui.selectedIndex-1)
		case "down":
			m.ui.selectedIndex = min(len(m.ui.source.Symbols())-1, m.ui.selectedIndex+1)
		}

	case tea.WindowSizeMsg:
		m.ui.width = msg.Width
		m.ui.height = msg.Height

	case refreshMsg:
		// Просто обновляем UI
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.logsMutex.RLock()
	defer m.ui.logsMutex.RUnlock()

	title := titleStyle.Render("LIQMAP - карта уровней ликвидаций Binance Futures")
	levels := renderLevelsSection(m.ui.source, m.ui.selectedIndex)
	logs := renderLogsSection(m.ui.logs)
	footer := footerStyle.Render("Клавиши: ↑/↓ - выбор символа, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			levels,
			"\n",
			logs,
			"\n",
			footer,
		),
	)
}

// renderLevelsSection рисует таблицу уровней выбранного символа
func renderLevelsSection(source LevelSource, selectedIndex int) string {
	header := levelsHeaderStyle.Render("УРОВНИ ЛИКВИДАЦИЙ")
	content := strings.Builder{}

	symbols := source.Symbols()
	if len(symbols) == 0 {
		content.WriteString("  Нет отслеживаемых символов\n")
		return levelsSectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
	}

	selectedIndex = min(max(0, selectedIndex), len(symbols)-1)

	// Строка выбора символа
	for i, symbol := range symbols {
		label := "  " + symbol
		if i == selectedIndex {
			label = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render("> " + symbol)
		}
		content.WriteString(label)
	}
	content.WriteString("\n\n")

	symbol := symbols[selectedIndex]
	price, ok := source.CurrentPrice(symbol)
	if !ok {
		content.WriteString("  Ожидание цены...\n")
		return levelsSectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
	}

	content.WriteString(fmt.Sprintf("  Цена: %.2f\n\n", price))

	levels := source.Levels(symbol, 0, 0)
	if len(levels) == 0 {
		content.WriteString("  Ожидание уровней...\n")
	} else {
		content.WriteString(fmt.Sprintf("  %-7s %-12s %-12s %-8s %-14s %s\n",
			"СТОРОНА", "ЦЕНА", "СИЛА", "ДИСТ.%", "OI", "ПЛЕЧО"))
		for _, level := range levels {
			side := shortStyle.Render("SHORT")
			if level.Side == models.SideLong {
				side = longStyle.Render("LONG ")
			}
			content.WriteString(fmt.Sprintf("  %s   %-12.2f %-12s %-8.2f %-14.0f %.0fx\n",
				side, level.PriceLevel, strengthBar(level.Strength), level.DistanceFromPrice,
				level.OpenInterest, level.LeverageTier))
		}
	}

	return levelsSectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			content.String(),
		),
	)
}

// strengthBar рисует шкалу силы уровня
func strengthBar(strength float64) string {
	const width = 10
	filled := int(strength*width + 0.5)
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderLogsSection(logs []string) string {
	header := logsHeaderStyle.Render("ЛОГИ")
	content := strings.Builder{}

	maxLogsToShow := 50
	if logsSectionStyle.GetHeight() > 8 {
		maxLogsToShow = logsSectionStyle.GetHeight() - 2
	}

	start := 0
	if len(logs) > maxLogsToShow {
		start = len(logs) - maxLogsToShow
	}

	for i := start; i < len(logs); i++ {
		log := logs[i]

		// Выделение по уровню логирования
		if strings.Contains(log, "[ERROR]") {
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		} else if strings.Contains(log, "[INFO]") {
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		} else if strings.Contains(log, "[WARN]") {
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		} else if strings.Contains(log, "[DEBUG]") {
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}

		content.WriteString("  " + log + "\n")
	}

	return logsSectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			content.String(),
		),
	)
}

// Вспомогательные функции min/max для Go до 1.21
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
