// Package handler содержит HTTP-обработчики страниц и API панели фрилансера.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/auth"
	"github.com/mmeshcher/freelance-dashboard/internal/loader"
	"github.com/mmeshcher/freelance-dashboard/internal/middleware"
	"github.com/mmeshcher/freelance-dashboard/internal/model"
	"github.com/mmeshcher/freelance-dashboard/internal/report"
	"github.com/mmeshcher/freelance-dashboard/internal/repository"
	"github.com/mmeshcher/freelance-dashboard/internal/validation"
	"github.com/mmeshcher/freelance-dashboard/internal/view"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
	transactionsPageLimit    = 200
	dateLayout               = "2006-01-02"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	loader.Source
	InvalidateDashboard(ctx context.Context, userID string)
	ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error)
	RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	AddTransaction(ctx context.Context, userID string, tx model.Transaction) (model.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, id string) error
	GetSettings(ctx context.Context, userID string) (model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики панели фрилансера.
type Handler struct {
	service       Service
	logger        *zap.Logger
	guard         *middleware.Guard
	cookieName    string
	secureCookies bool
	loaders       *userLoaders
	now           func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, guard *middleware.Guard, cookieName string, secureCookies bool) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		guard:         guard,
		cookieName:    cookieName,
		secureCookies: secureCookies,
		loaders:       newUserLoaders(s, logger),
		now:           time.Now,
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writePage(w http.ResponseWriter, status int, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		h.logger.Error("render page error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func currentUser(r *http.Request) (string, string, bool) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok || s.User.ID == "" {
		return "", "", false
	}
	return s.User.ID, s.User.Email, true
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
	}
	req.Email = strings.TrimSpace(req.Email)
	return req, nil
}

func (h *Handler) loadDashboard(ctx context.Context, userID string) loader.State {
	l, _ := h.loaders.get(userID)
	return l.Load(ctx, userID)
}

// LoginPage отображает страницу входа.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
		return view.RenderAuth(buf, view.LoginPage())
	})
}

// SignupPage отображает страницу регистрации.
func (h *Handler) SignupPage(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
		return view.RenderAuth(buf, view.SignupPage())
	})
}

func (h *Handler) authFailed(w http.ResponseWriter, r *http.Request, page view.AuthPage, status int, msg string) {
	if wantsJSON(r) {
		http.Error(w, http.StatusText(status), status)
		return
	}
	page.Error = msg
	h.writePage(w, status, func(buf *bytes.Buffer) error {
		return view.RenderAuth(buf, page)
	})
}

func (h *Handler) authSucceeded(w http.ResponseWriter, r *http.Request, session *model.Session) {
	auth.SetSessionCookies(w, r, h.cookieName, session, h.secureCookies)
	if wantsJSON(r) {
		h.writeJSON(w, http.StatusOK, session.User)
		return
	}
	http.Redirect(w, r, middleware.DashboardPath, http.StatusSeeOther)
}

// Login выполняет вход через провайдера и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	page := view.LoginPage()

	req, err := decodeCredentials(r)
	if err != nil {
		h.authFailed(w, r, page, http.StatusBadRequest, "Requête invalide")
		return
	}
	page.FormEmail = req.Email

	if err := validation.Struct(req); err != nil {
		h.authFailed(w, r, page, http.StatusBadRequest, "Email ou mot de passe invalide")
		return
	}

	session, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.authFailed(w, r, page, http.StatusUnauthorized, "Identifiants invalides")
			return
		}
		h.logger.Error("login error", zap.Error(err))
		h.authFailed(w, r, page, http.StatusBadGateway, "Service d'authentification indisponible")
		return
	}

	h.authSucceeded(w, r, session)
}

// Signup регистрирует пользователя через провайдера.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	page := view.SignupPage()

	req, err := decodeCredentials(r)
	if err != nil {
		h.authFailed(w, r, page, http.StatusBadRequest, "Requête invalide")
		return
	}
	page.FormEmail = req.Email

	if err := validation.Struct(req); err != nil {
		h.authFailed(w, r, page, http.StatusBadRequest, "Email invalide ou mot de passe trop court")
		return
	}

	session, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrSignUpRejected) {
			h.authFailed(w, r, page, http.StatusConflict, "Inscription refusée")
			return
		}
		h.logger.Error("signup error", zap.Error(err))
		h.authFailed(w, r, page, http.StatusBadGateway, "Service d'authentification indisponible")
		return
	}

	if session == nil {
		if wantsJSON(r) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		page.Info = "Vérifiez votre boîte mail pour confirmer votre compte."
		h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
			return view.RenderAuth(buf, page)
		})
		return
	}

	h.authSucceeded(w, r, session)
}

// Logout отзывает сессию у провайдера и удаляет cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := middleware.SessionFromContext(r.Context()); ok {
		if err := h.service.SignOut(r.Context(), s.AccessToken); err != nil {
			h.logger.Warn("provider sign out error", zap.Error(err), zap.String("userID", s.User.ID))
		}
		h.loaders.drop(s.User.ID)
	}

	auth.ClearSessionCookies(w, r, h.cookieName)
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

// DashboardPage отображает панель текущего пользователя.
func (h *Handler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	userID, email, _ := currentUser(r)

	state := h.loadDashboard(r.Context(), userID)

	h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
		return view.RenderDashboard(buf, view.DashboardPage{
			Page:     view.Page{Email: email},
			Loading:  state.Loading,
			Error:    state.Error,
			Snapshot: state.Data,
		})
	})
}

// GetDashboard возвращает состояние загрузки панели в JSON.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	state := h.loadDashboard(r.Context(), userID)
	h.writeJSON(w, http.StatusOK, state)
}

// RefreshDashboard сбрасывает кэш снимка и загружает панель заново.
func (h *Handler) RefreshDashboard(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.service.InvalidateDashboard(r.Context(), userID)

	if !wantsJSON(r) {
		http.Redirect(w, r, middleware.DashboardPath, http.StatusSeeOther)
		return
	}

	l, created := h.loaders.get(userID)

	var state loader.State
	if created {
		state = l.Load(r.Context(), userID)
	} else {
		state = l.Refresh(r.Context())
	}
	h.writeJSON(w, http.StatusOK, state)
}

type transactionRequest struct {
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	Label    string          `json:"label" validate:"required,max=200"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	Type     string          `json:"type" validate:"required,oneof=income expense"`
	Category string          `json:"category" validate:"max=64"`
	VATRate  decimal.Decimal `json:"vatRate" validate:"gte=0,lte=100"`
	Status   string          `json:"status" validate:"omitempty,oneof=paid pending"`
}

type transactionResponse struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	Label     string          `json:"label"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Category  string          `json:"category"`
	VATRate   decimal.Decimal `json:"vatRate"`
	VAT       decimal.Decimal `json:"vat"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"createdAt"`
}

func toTransactionResponse(tx model.Transaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID,
		Date:      tx.Date.Format(dateLayout),
		Label:     tx.Label,
		Amount:    tx.Amount,
		Type:      string(tx.Kind),
		Category:  tx.Category,
		VATRate:   tx.VATRate,
		VAT:       tx.VAT().Round(2),
		Status:    string(tx.Status),
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	}
}

// ListTransactions возвращает транзакции текущего пользователя.
// С параметрами from и to (YYYY-MM-DD) возвращается интервал, иначе последние limit записей.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()

	var (
		txs []model.Transaction
		err error
	)

	if q.Get("from") != "" || q.Get("to") != "" {
		from, errFrom := time.Parse(dateLayout, q.Get("from"))
		to, errTo := time.Parse(dateLayout, q.Get("to"))
		if errFrom != nil || errTo != nil || !from.Before(to) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		txs, err = h.service.ListTransactions(r.Context(), userID, from, to)
	} else {
		limit := defaultTransactionsLimit
		if raw := q.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			limit = min(n, maxTransactionsLimit)
		}
		txs, err = h.service.RecentTransactions(r.Context(), userID, limit)
	}

	if err != nil {
		h.logger.Error("list transactions error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, toTransactionResponse(tx))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// AddTransaction добавляет транзакцию в журнал текущего пользователя.
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := validation.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	date, _ := time.Parse(dateLayout, req.Date)
	category := strings.TrimSpace(req.Category)

	tx, err := h.service.AddTransaction(r.Context(), userID, model.Transaction{
		Date:     date,
		Label:    strings.TrimSpace(req.Label),
		Amount:   req.Amount,
		Kind:     model.TransactionKind(req.Type),
		Category: category,
		VATRate:  req.VATRate,
		Status:   model.TransactionStatus(req.Status),
	})
	if err != nil {
		if errors.Is(err, repository.ErrTransactionExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("add transaction error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

// DeleteTransaction удаляет транзакцию текущего пользователя.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")

	if err := h.service.DeleteTransaction(r.Context(), userID, id); err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete transaction error", zap.Error(err), zap.String("userID", userID), zap.String("id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TransactionsPage отображает журнал транзакций.
func (h *Handler) TransactionsPage(w http.ResponseWriter, r *http.Request) {
	userID, email, ok := currentUser(r)

	page := view.TransactionsPage{Page: view.Page{Email: email}}
	if ok {
		txs, err := h.service.RecentTransactions(r.Context(), userID, transactionsPageLimit)
		if err != nil {
			h.logger.Error("list transactions error", zap.Error(err), zap.String("userID", userID))
			page.Error = loader.ErrorMessage
		}
		page.Transactions = txs
	}

	h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
		return view.RenderTransactions(buf, page)
	})
}

// ReportsPage отображает сводку за текущий год.
func (h *Handler) ReportsPage(w http.ResponseWriter, r *http.Request) {
	userID, email, _ := currentUser(r)

	state := h.loadDashboard(r.Context(), userID)

	h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
		return view.RenderReports(buf, view.ReportsPage{
			Page:     view.Page{Email: email},
			Snapshot: state.Data,
		})
	})
}

// ExportTransactions выгружает журнал текущего года в XLSX.
func (h *Handler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	now := h.now()
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	to := from.AddDate(1, 0, 0)

	txs, err := h.service.ListTransactions(r.Context(), userID, from, to)
	if err != nil {
		h.logger.Error("export transactions error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, txs); err != nil {
		h.logger.Error("build xlsx error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="journal-`+strconv.Itoa(now.Year())+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type settingsRequest struct {
	DeclarationType string `json:"declarationType" validate:"required,oneof=monthly quarterly annual"`
}

// SettingsPage отображает параметры пользователя.
func (h *Handler) SettingsPage(w http.ResponseWriter, r *http.Request) {
	userID, email, ok := currentUser(r)

	page := view.SettingsPage{
		Page:            view.Page{Email: email},
		DeclarationType: model.DeclarationMonthly,
		Saved:           r.URL.Query().Get("saved") == "1",
	}
	if ok {
		settings, err := h.service.GetSettings(r.Context(), userID)
		if err != nil {
			h.logger.Error("get settings error", zap.Error(err), zap.String("userID", userID))
			page.Error = loader.ErrorMessage
		} else {
			page.DeclarationType = settings.DeclarationType
		}
	}

	h.writePage(w, http.StatusOK, func(buf *bytes.Buffer) error {
		return view.RenderSettings(buf, page)
	})
}

// UpdateSettings сохраняет режим декларации НДС.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, email, ok := currentUser(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req settingsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		req.DeclarationType = r.PostFormValue("declarationType")
	}

	if err := validation.Struct(req); err != nil {
		if wantsJSON(r) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.writePage(w, http.StatusUnprocessableEntity, func(buf *bytes.Buffer) error {
			return view.RenderSettings(buf, view.SettingsPage{
				Page:            view.Page{Email: email},
				DeclarationType: model.DeclarationMonthly,
				Error:           "Régime de déclaration inconnu",
			})
		})
		return
	}

	err := h.service.UpdateSettings(r.Context(), model.Settings{
		UserID:          userID,
		DeclarationType: model.DeclarationType(req.DeclarationType),
	})
	if err != nil {
		h.logger.Error("update settings error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/parametres?saved=1", http.StatusSeeOther)
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
