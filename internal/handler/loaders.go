package handler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/loader"
)

// userLoaders хранит по одному загрузчику панели на пользователя, чтобы
// одновременные запросы одного пользователя разделяли поколения загрузки.
type userLoaders struct {
	source loader.Source
	logger *zap.Logger

	mu     sync.Mutex
	byUser map[string]*loader.Loader
}

func newUserLoaders(source loader.Source, logger *zap.Logger) *userLoaders {
	return &userLoaders{
		source: source,
		logger: logger,
		byUser: make(map[string]*loader.Loader),
	}
}

// get возвращает загрузчик пользователя. created сообщает, что загрузчик создан только что
// и ещё не знает идентичность пользователя. Для пустого userID возвращается одноразовый загрузчик.
func (ls *userLoaders) get(userID string) (l *loader.Loader, created bool) {
	if userID == "" {
		return loader.New(ls.source, ls.logger), true
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if l, ok := ls.byUser[userID]; ok {
		return l, false
	}
	l = loader.New(ls.source, ls.logger)
	ls.byUser[userID] = l
	return l, true
}

func (ls *userLoaders) drop(userID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.byUser, userID)
}
