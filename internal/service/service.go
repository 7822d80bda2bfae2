// Package service реализует бизнес-логику панели фрилансера.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/dashboard"
	"github.com/mmeshcher/freelance-dashboard/internal/model"
	"github.com/mmeshcher/freelance-dashboard/internal/repository"
)

// Repository описывает контракт доступа к журналу транзакций, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error)
	RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	AddTransaction(ctx context.Context, tx model.Transaction) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	GetSettings(ctx context.Context, userID string) (model.Settings, error)
	UpsertSettings(ctx context.Context, s model.Settings) error
}

// SnapshotCache описывает кэш снимков панели.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*model.DashboardSnapshot, error)
	Set(ctx context.Context, userID string, snap *model.DashboardSnapshot) error
	Invalidate(ctx context.Context, userID string) error
}

// AuthProvider описывает операции провайдера аутентификации, доступные пользователю.
type AuthProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Service содержит бизнес-логику панели фрилансера.
type Service struct {
	repo     Repository
	cache    SnapshotCache
	provider AuthProvider
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт новый сервис. cache может быть nil, тогда снимки строятся при каждом запросе.
func NewService(repo Repository, cache SnapshotCache, provider AuthProvider, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// GetDashboardData возвращает снимок панели пользователя, используя кэш при его наличии.
func (s *Service) GetDashboardData(ctx context.Context, userID string) (*model.DashboardSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, userID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("snapshot cache read failed", zap.Error(err), zap.String("userID", userID))
		}
	}

	now := s.now()
	from, to := dashboard.Window(now)

	txs, err := s.repo.ListTransactions(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	settings, err := s.repo.GetSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	snap := dashboard.Build(txs, settings, now)

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, snap); err != nil {
			s.logger.Warn("snapshot cache write failed", zap.Error(err), zap.String("userID", userID))
		}
	}

	return snap, nil
}

// InvalidateDashboard сбрасывает кэшированный снимок пользователя.
func (s *Service) InvalidateDashboard(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("snapshot cache invalidation failed", zap.Error(err), zap.String("userID", userID))
	}
}

// ListTransactions возвращает транзакции пользователя за интервал [from, to).
func (s *Service) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, from, to)
}

// RecentTransactions возвращает последние транзакции пользователя.
func (s *Service) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.repo.RecentTransactions(ctx, userID, limit)
}

// AddTransaction сохраняет новую транзакцию пользователя и сбрасывает кэш панели.
func (s *Service) AddTransaction(ctx context.Context, userID string, tx model.Transaction) (model.Transaction, error) {
	tx.ID = uuid.NewString()
	tx.UserID = userID
	tx.CreatedAt = s.now()
	if tx.Status == "" {
		tx.Status = model.TransactionPaid
	}

	if err := s.repo.AddTransaction(ctx, tx); err != nil {
		return model.Transaction{}, err
	}

	s.InvalidateDashboard(ctx, userID)
	return tx, nil
}

// DeleteTransaction удаляет транзакцию пользователя и сбрасывает кэш панели.
func (s *Service) DeleteTransaction(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrTransactionNotFound
	}

	if err := s.repo.DeleteTransaction(ctx, userID, id); err != nil {
		return err
	}

	s.InvalidateDashboard(ctx, userID)
	return nil
}

// GetSettings возвращает параметры пользователя.
func (s *Service) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	return s.repo.GetSettings(ctx, userID)
}

// UpdateSettings сохраняет параметры пользователя и сбрасывает кэш панели.
func (s *Service) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if err := s.repo.UpsertSettings(ctx, settings); err != nil {
		return err
	}
	s.InvalidateDashboard(ctx, settings.UserID)
	return nil
}

// SignIn выполняет вход по email и паролю.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	return s.provider.SignInWithPassword(ctx, email, password)
}

// SignUp регистрирует пользователя у провайдера.
func (s *Service) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	return s.provider.SignUp(ctx, email, password)
}

// SignOut отзывает сессию у провайдера.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	return s.provider.SignOut(ctx, accessToken)
}
