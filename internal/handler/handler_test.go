package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/auth"
	"github.com/mmeshcher/freelance-dashboard/internal/loader"
	"github.com/mmeshcher/freelance-dashboard/internal/middleware"
	"github.com/mmeshcher/freelance-dashboard/internal/model"
	"github.com/mmeshcher/freelance-dashboard/internal/report"
	"github.com/mmeshcher/freelance-dashboard/internal/repository"
)

const testCookieName = "sb-testref-auth-token"

type stubService struct {
	snapshot    *model.DashboardSnapshot
	snapshotErr error
	dashCalls   int
	invalidated []string

	txs    []model.Transaction
	txsErr error

	added  []model.Transaction
	addErr error

	deleteErr error

	settings   model.Settings
	updated    []model.Settings
	updateErr  error
	signInResp *model.Session
	signInErr  error
	signUpResp *model.Session
	signUpErr  error
	signedOut  []string
	pingErr    error
}

func (s *stubService) GetDashboardData(ctx context.Context, userID string) (*model.DashboardSnapshot, error) {
	s.dashCalls++
	return s.snapshot, s.snapshotErr
}

func (s *stubService) InvalidateDashboard(ctx context.Context, userID string) {
	s.invalidated = append(s.invalidated, userID)
}

func (s *stubService) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error) {
	return s.txs, s.txsErr
}

func (s *stubService) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.txs, s.txsErr
}

func (s *stubService) AddTransaction(ctx context.Context, userID string, tx model.Transaction) (model.Transaction, error) {
	if s.addErr != nil {
		return model.Transaction{}, s.addErr
	}
	tx.ID = "7f1d3c1e-8a51-4d8e-9c57-1c4c8f0f1a2b"
	tx.UserID = userID
	s.added = append(s.added, tx)
	return tx, nil
}

func (s *stubService) DeleteTransaction(ctx context.Context, userID, id string) error {
	return s.deleteErr
}

func (s *stubService) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	return s.settings, nil
}

func (s *stubService) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, settings)
	return nil
}

func (s *stubService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	return s.signInResp, s.signInErr
}

func (s *stubService) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	return s.signUpResp, s.signUpErr
}

func (s *stubService) SignOut(ctx context.Context, accessToken string) error {
	s.signedOut = append(s.signedOut, accessToken)
	return nil
}

func (s *stubService) Ping(ctx context.Context) error {
	return s.pingErr
}

type tokenVerifier map[string]model.User

func (v tokenVerifier) Verify(ctx context.Context, accessToken string) (*model.User, error) {
	u, ok := v[accessToken]
	if !ok {
		return nil, auth.ErrInvalidSession
	}
	return &u, nil
}

var testUser = model.User{ID: "user-42", Email: "marie@example.com"}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	guard := middleware.NewGuard(testCookieName, tokenVerifier{"good-token": testUser}, false, false, logger)
	return NewHandler(svc, logger, guard, testCookieName, false)
}

func withUser(r *http.Request) *http.Request {
	return r.WithContext(middleware.WithSession(r.Context(), &model.Session{
		AccessToken: "good-token",
		User:        testUser,
	}))
}

func sessionCookies() []*http.Cookie {
	return auth.EncodeSession(testCookieName, &model.Session{AccessToken: "good-token"}, false)
}

func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin_FormSuccessSetsCookie(t *testing.T) {
	svc := &stubService{
		signInResp: &model.Session{AccessToken: "good-token", User: testUser},
	}
	h := newTestHandler(t, svc)

	form := url.Values{"email": {"marie@example.com"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/dashboard", res.Header.Get("Location"))

	c := findCookie(res, testCookieName)
	require.NotNil(t, c)
	s, err := auth.ParseSession(c.Value)
	require.NoError(t, err)
	assert.Equal(t, "good-token", s.AccessToken)
}

func TestLogin_JSON(t *testing.T) {
	tests := []struct {
		name       string
		body       credentialsRequest
		signInErr  error
		wantStatus int
	}{
		{
			name:       "invalid credentials",
			body:       credentialsRequest{Email: "marie@example.com", Password: "wrong-pass"},
			signInErr:  auth.ErrInvalidCredentials,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "provider unavailable",
			body:       credentialsRequest{Email: "marie@example.com", Password: "secret123"},
			signInErr:  context.DeadlineExceeded,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "malformed email",
			body:       credentialsRequest{Email: "marie", Password: "secret123"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{signInErr: tt.signInErr}
			h := newTestHandler(t, svc)

			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			h.Login(rec, req)

			res := rec.Result()
			defer res.Body.Close()
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Nil(t, findCookie(res, testCookieName))
		})
	}
}

func TestSignup_ConfirmationRequired(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	form := url.Values{"email": {"new@example.com"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.Signup(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, rec.Body.String(), "Vérifiez votre boîte mail")
	assert.Nil(t, findCookie(res, testCookieName))
}

func TestLogout_ClearsCookie(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	h.loaders.get(testUser.ID)

	req := withUser(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	for _, c := range sessionCookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))
	assert.Equal(t, []string{"good-token"}, svc.signedOut)

	_, created := h.loaders.get(testUser.ID)
	assert.True(t, created)

	c := findCookie(res, testCookieName)
	require.NotNil(t, c)
	assert.Equal(t, -1, c.MaxAge)
}

func TestGetDashboard_Unauthorized(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rec := httptest.NewRecorder()

	h.GetDashboard(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, svc.dashCalls)
}

func TestGetDashboard_Success(t *testing.T) {
	snap := model.EmptyDashboardSnapshot()
	snap.KPIs.TotalRevenue = 6500
	svc := &stubService{snapshot: snap}
	h := newTestHandler(t, svc)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	rec := httptest.NewRecorder()

	h.GetDashboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var state loader.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Loading)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.Data)
	assert.Equal(t, 6500.0, state.Data.KPIs.TotalRevenue)
}

func TestGetDashboard_SourceFailureYieldsEmptySnapshot(t *testing.T) {
	svc := &stubService{snapshotErr: errors.New("db down")}
	h := newTestHandler(t, svc)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	rec := httptest.NewRecorder()

	h.GetDashboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, loader.ErrorMessage)
	assert.Contains(t, body, `"vatThreshold":36800`)
	assert.Contains(t, body, `"alerts":[]`)
}

func TestRefreshDashboard_Invalidates(t *testing.T) {
	svc := &stubService{snapshot: model.EmptyDashboardSnapshot()}
	h := newTestHandler(t, svc)

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()

	h.RefreshDashboard(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"user-42"}, svc.invalidated)
	assert.Equal(t, 1, svc.dashCalls)
}

func TestRefreshDashboard_ReusesUserLoader(t *testing.T) {
	svc := &stubService{snapshot: model.EmptyDashboardSnapshot()}
	h := newTestHandler(t, svc)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	rec := httptest.NewRecorder()
	h.GetDashboard(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	first, created := h.loaders.get("user-42")
	require.False(t, created)

	fresh := model.EmptyDashboardSnapshot()
	fresh.KPIs.TotalRevenue = 4200
	svc.snapshot = fresh

	req = withUser(httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.RefreshDashboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.dashCalls)

	var state loader.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.NotNil(t, state.Data)
	assert.Equal(t, 4200.0, state.Data.KPIs.TotalRevenue)

	again, _ := h.loaders.get("user-42")
	assert.Same(t, first, again)
	assert.Equal(t, 4200.0, first.State().Data.KPIs.TotalRevenue)
}

func TestDashboardPage_NoIdentitySkipsLoad(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()

	h.DashboardPage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, svc.dashCalls)
	assert.NotContains(t, rec.Body.String(), "Franchise de TVA")
}

func TestAddTransaction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		addErr     error
		wantStatus int
	}{
		{
			name:       "created",
			body:       `{"date":"2026-06-01","label":"Mission","amount":"1500.00","type":"income","category":"Prestation","vatRate":20}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "negative amount",
			body:       `{"date":"2026-06-01","label":"Mission","amount":-5,"type":"income"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "bad date",
			body:       `{"date":"01/06/2026","label":"Mission","amount":5,"type":"income"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "not json",
			body:       `amount=5`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate",
			body:       `{"date":"2026-06-01","label":"Mission","amount":5,"type":"expense"}`,
			addErr:     repository.ErrTransactionExists,
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{addErr: tt.addErr}
			h := newTestHandler(t, svc)

			req := withUser(httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			h.AddTransaction(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAddTransaction_PassesFields(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body := `{"date":"2026-06-01","label":" Mission ","amount":"1500.00","type":"income","category":"Prestation","vatRate":20,"status":"pending"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.AddTransaction(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.added, 1)

	tx := svc.added[0]
	assert.Equal(t, "user-42", tx.UserID)
	assert.Equal(t, "Mission", tx.Label)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1500")))
	assert.Equal(t, model.TransactionIncome, tx.Kind)
	assert.Equal(t, model.TransactionPending, tx.Status)
	assert.Equal(t, time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC), tx.Date)

	var resp transactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-06-01", resp.Date)
	assert.True(t, resp.VAT.Equal(decimal.NewFromInt(300)))
}

func TestListTransactions(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/transactions", nil))
	rec := httptest.NewRecorder()
	h.ListTransactions(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = withUser(httptest.NewRequest(http.MethodGet, "/api/transactions?from=2026-06-01&to=2026-01-01", nil))
	rec = httptest.NewRecorder()
	h.ListTransactions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = withUser(httptest.NewRequest(http.MethodGet, "/api/transactions?limit=abc", nil))
	rec = httptest.NewRecorder()
	h.ListTransactions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc := &stubService{txs: []model.Transaction{{
		ID:     "t1",
		Date:   time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC),
		Label:  "Mission",
		Amount: decimal.NewFromInt(100),
		Kind:   model.TransactionIncome,
	}}}
	h = newTestHandler(t, svc)
	req = withUser(httptest.NewRequest(http.MethodGet, "/api/transactions?from=2026-01-01&to=2027-01-01", nil))
	rec = httptest.NewRecorder()
	h.ListTransactions(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"label":"Mission"`)
}

func TestUpdateSettings(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	form := url.Values{"declarationType": {"weekly"}}
	req := withUser(httptest.NewRequest(http.MethodPost, "/parametres", strings.NewReader(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, svc.updated)

	form = url.Values{"declarationType": {"quarterly"}}
	req = withUser(httptest.NewRequest(http.MethodPost, "/parametres", strings.NewReader(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.UpdateSettings(rec, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	require.Len(t, svc.updated, 1)
	assert.Equal(t, model.Settings{UserID: "user-42", DeclarationType: model.DeclarationQuarterly}, svc.updated[0])
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestHandler(t, &stubService{pingErr: errors.New("down")})
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_GuardRedirects(t *testing.T) {
	h := newTestHandler(t, &stubService{snapshot: model.EmptyDashboardSnapshot()})
	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	res, err := client.Get(srv.URL + "/dashboard")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, res.StatusCode)
	assert.Equal(t, srv.URL+"/login", res.Header.Get("Location"))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/login", nil)
	for _, c := range sessionCookies() {
		req.AddCookie(c)
	}
	res, err = client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, res.StatusCode)
	assert.Equal(t, srv.URL+"/dashboard", res.Header.Get("Location"))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/dashboard", nil)
	for _, c := range sessionCookies() {
		req.AddCookie(c)
	}
	res, err = client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRouter_DeleteTransactionNotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{deleteErr: repository.ErrTransactionNotFound})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/transactions/abc", nil)
	for _, c := range sessionCookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ExportXLSX(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/reports/export.xlsx", nil)
	for _, c := range sessionCookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, rec.Body.Len())
}
