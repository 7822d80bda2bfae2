// Package loader загружает снимок панели для пользователя и хранит состояние загрузки.
package loader

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

// ErrorMessage задаёт сообщение, показываемое пользователю при сбое загрузки.
const ErrorMessage = "Erreur lors du chargement des données"

// Source описывает источник снимков панели.
type Source interface {
	GetDashboardData(ctx context.Context, userID string) (*model.DashboardSnapshot, error)
}

// State описывает состояние загрузки, доступное слою представления.
type State struct {
	Loading bool                     `json:"loading"`
	Data    *model.DashboardSnapshot `json:"data"`
	Error   string                   `json:"error,omitempty"`
}

// Loader загружает снимок панели. Каждый запуск помечается поколением:
// результат устаревшего поколения отбрасывается, побеждает результат последнего запроса.
type Loader struct {
	source Source
	logger *zap.Logger

	mu         sync.Mutex
	generation uint64
	userID     string
	state      State
}

// New создаёт Loader поверх источника данных.
func New(source Source, logger *zap.Logger) *Loader {
	return &Loader{
		source: source,
		logger: logger,
	}
}

// State возвращает текущее состояние загрузки.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Load загружает снимок для userID и возвращает состояние после завершения загрузки.
// Пустой userID означает, что пользователь ещё не определён: запрос не выполняется.
func (l *Loader) Load(ctx context.Context, userID string) State {
	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.userID = userID

	if userID == "" {
		l.state = State{}
		st := l.state
		l.mu.Unlock()
		return st
	}

	l.state.Loading = true
	l.mu.Unlock()

	data, err := l.source.GetDashboardData(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		l.logger.Debug("discarding superseded dashboard result",
			zap.String("userID", userID),
			zap.Uint64("generation", gen),
			zap.Uint64("latest", l.generation),
		)
		return l.state
	}

	if err != nil {
		l.logger.Error("dashboard data fetch failed", zap.Error(err), zap.String("userID", userID))
		l.state = State{
			Loading: false,
			Data:    model.EmptyDashboardSnapshot(),
			Error:   ErrorMessage,
		}
		return l.state
	}

	if data == nil {
		data = model.EmptyDashboardSnapshot()
	}
	data.Normalize()

	l.state = State{
		Loading: false,
		Data:    data,
	}
	return l.state
}

// Refresh повторяет загрузку для последнего запрошенного пользователя.
func (l *Loader) Refresh(ctx context.Context) State {
	l.mu.Lock()
	userID := l.userID
	l.mu.Unlock()

	return l.Load(ctx, userID)
}
