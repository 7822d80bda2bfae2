// Package middleware содержит HTTP middleware панели фрилансера.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/freelance-dashboard/internal/auth"
	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

// Пути, используемые политикой доступа.
const (
	LoginPath     = "/login"
	SignupPath    = "/signup"
	DashboardPath = "/dashboard"
	RootPath      = "/"
)

var protectedPrefixes = []string{"/dashboard", "/transactions", "/reports", "/parametres"}

var excludedPrefixes = []string{"/static/", "/_next/static/", "/_next/image", "/favicon.ico"}

var excludedExtensions = []string{".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Outcome описывает результат проверки маршрута.
type Outcome int

const (
	// Pass пропускает запрос дальше без изменений.
	Pass Outcome = iota
	// RedirectLogin перенаправляет на страницу входа.
	RedirectLogin
	// RedirectDashboard перенаправляет на панель.
	RedirectDashboard
)

func (o Outcome) String() string {
	switch o {
	case RedirectLogin:
		return "redirect_login"
	case RedirectDashboard:
		return "redirect_dashboard"
	default:
		return "pass"
	}
}

// Decide применяет политику доступа к пути. Правила проверяются по порядку, срабатывает первое.
func Decide(path string, hasSession bool) Outcome {
	if hasSession && (path == LoginPath || path == SignupPath) {
		return RedirectDashboard
	}

	if !hasSession && isProtected(path) {
		return RedirectLogin
	}

	if path == RootPath {
		if hasSession {
			return RedirectDashboard
		}
		return RedirectLogin
	}

	return Pass
}

func isProtected(path string) bool {
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// IsExcluded сообщает, что путь относится к статическим ресурсам и не проверяется.
func IsExcluded(path string) bool {
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	lower := strings.ToLower(path)
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SessionState содержит состояние сессии, вычисленное для одного запроса.
type SessionState struct {
	// CookiePresent: cookie сессии присутствует в запросе.
	CookiePresent bool
	// Valid: сессия подтверждена или допущена политикой fail-open.
	Valid bool
	// Stale: cookie есть, но сессия недействительна, cookie нужно удалить.
	Stale bool
	// Session заполнена только для подтверждённой сессии.
	Session *model.Session
}

// Guard проверяет доступ к страницам по cookie сессии провайдера аутентификации.
type Guard struct {
	cookieName string
	verifier   auth.Verifier
	failOpen   bool
	trustProxy bool
	logger     *zap.Logger
}

// NewGuard создаёт Guard. failOpen определяет поведение при недоступности провайдера.
// trustProxy разрешает строить адрес перенаправления по заголовкам X-Forwarded-*;
// включать только за доверенным обратным прокси.
func NewGuard(cookieName string, verifier auth.Verifier, failOpen, trustProxy bool, logger *zap.Logger) *Guard {
	return &Guard{
		cookieName: cookieName,
		verifier:   verifier,
		failOpen:   failOpen,
		trustProxy: trustProxy,
		logger:     logger,
	}
}

// Resolve вычисляет состояние сессии запроса.
func (g *Guard) Resolve(r *http.Request) SessionState {
	raw, present := auth.ReadSessionCookie(r, g.cookieName)
	if !present {
		return SessionState{}
	}

	state := SessionState{CookiePresent: true}

	session, err := auth.ParseSession(raw)
	if err != nil {
		state.Stale = true
		return state
	}

	user, err := g.verifier.Verify(r.Context(), session.AccessToken)
	if err != nil {
		if auth.IsInvalidSession(err) {
			state.Stale = true
			return state
		}

		g.logger.Error("session check failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.Bool("failOpen", g.failOpen),
		)
		state.Valid = g.failOpen
		return state
	}

	session.User = *user
	state.Valid = true
	state.Session = session
	return state
}

// Middleware применяет политику доступа к каждому запросу, кроме статических ресурсов.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		state := g.Resolve(r)
		if state.Stale {
			auth.ClearSessionCookies(w, r, g.cookieName)
		}

		switch Decide(r.URL.Path, state.Valid) {
		case RedirectLogin:
			http.Redirect(w, r, g.absoluteURL(r, LoginPath), http.StatusTemporaryRedirect)
			return
		case RedirectDashboard:
			http.Redirect(w, r, g.absoluteURL(r, DashboardPath), http.StatusTemporaryRedirect)
			return
		}

		if state.Session != nil {
			r = r.WithContext(WithSession(r.Context(), state.Session))
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if g.trustProxy {
		if proto := firstForwarded(r.Header.Get("X-Forwarded-Proto")); proto == "http" || proto == "https" {
			scheme = proto
		}
		if fwd := firstForwarded(r.Header.Get("X-Forwarded-Host")); fwd != "" {
			host = fwd
		}
	}

	return scheme + "://" + host + path
}

func firstForwarded(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.ToLower(strings.TrimSpace(first))
}

// SessionFromContext извлекает подтверждённую сессию из контекста запроса.
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*model.Session)
	return s, ok && s != nil
}

// UserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.User.ID == "" {
		return "", false
	}
	return s.User.ID, true
}

// WithSession возвращает контекст с сессией.
func WithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}
