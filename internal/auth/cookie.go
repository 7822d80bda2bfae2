// Package auth работает с сессиями внешнего провайдера аутентификации:
// разбор cookie сессии, проверка токена доступа и кэширование результатов проверки.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

const (
	base64Prefix   = "base64-"
	maxChunkSize   = 3180
	sessionMaxAge  = 400 * 24 * time.Hour
	chunkSeparator = "."
)

// ErrMalformedSession возвращается, если значение cookie не удаётся разобрать как сессию.
var ErrMalformedSession = errors.New("malformed session cookie")

// wireSession описывает формат сессии провайдера в cookie и в ответах token-эндпоинта.
type wireSession struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type,omitempty"`
	ExpiresIn    int64       `json:"expires_in,omitempty"`
	ExpiresAt    int64       `json:"expires_at,omitempty"`
	RefreshToken string      `json:"refresh_token"`
	User         *model.User `json:"user,omitempty"`
}

func (ws wireSession) toModel() *model.Session {
	s := &model.Session{
		AccessToken:  ws.AccessToken,
		RefreshToken: ws.RefreshToken,
	}
	if ws.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(ws.ExpiresAt, 0)
	}
	if ws.User != nil {
		s.User = *ws.User
	}
	return s
}

// requestCookies разбирает заголовки Cookie запроса без проверки допустимых символов значения:
// net/http отбрасывает значения с кавычками, а сессия провайдера может храниться как сырой JSON.
// При повторе имени используется первое значение.
func requestCookies(r *http.Request) (map[string]string, []string) {
	values := make(map[string]string)
	var names []string
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || name == "" {
				continue
			}
			if _, seen := values[name]; seen {
				continue
			}
			if len(value) > 1 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
			values[name] = value
			names = append(names, name)
		}
	}
	return values, names
}

// ReadSessionCookie возвращает значение cookie сессии, собирая его из частей name.0, name.1, ...
// при необходимости. Второе значение сообщает, присутствует ли cookie в запросе.
func ReadSessionCookie(r *http.Request, name string) (string, bool) {
	values, _ := requestCookies(r)
	if v, ok := values[name]; ok {
		return v, true
	}

	var b strings.Builder
	found := false
	for i := 0; ; i++ {
		v, ok := values[name+chunkSeparator+strconv.Itoa(i)]
		if !ok {
			break
		}
		found = true
		b.WriteString(v)
	}

	return b.String(), found
}

// SessionCookieNames возвращает имена всех cookie запроса, относящихся к сессии name.
func SessionCookieNames(r *http.Request, name string) []string {
	_, all := requestCookies(r)
	var names []string
	for _, n := range all {
		if n == name || isChunkName(n, name) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func isChunkName(candidate, name string) bool {
	suffix, ok := strings.CutPrefix(candidate, name+chunkSeparator)
	if !ok || suffix == "" {
		return false
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

// ParseSession разбирает значение cookie сессии.
// Поддерживаются форматы base64-<json>, JSON-объект, JSON-массив и URL-кодированные значения.
func ParseSession(raw string) (*model.Session, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, ErrMalformedSession
	}

	if encoded, ok := strings.CutPrefix(value, base64Prefix); ok {
		decoded, err := decodeBase64(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
		}
		value = string(decoded)
	} else if strings.HasPrefix(value, "%") {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
		}
		value = unescaped
	}

	value = strings.TrimSpace(value)

	var ws wireSession
	switch {
	case strings.HasPrefix(value, "["):
		var parts []*string
		if err := json.Unmarshal([]byte(value), &parts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
		}
		if len(parts) > 0 && parts[0] != nil {
			ws.AccessToken = *parts[0]
		}
		if len(parts) > 1 && parts[1] != nil {
			ws.RefreshToken = *parts[1]
		}
	case strings.HasPrefix(value, "{"):
		if err := json.Unmarshal([]byte(value), &ws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
		}
	default:
		return nil, ErrMalformedSession
	}

	if ws.AccessToken == "" {
		return nil, ErrMalformedSession
	}

	return ws.toModel(), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// EncodeSession сериализует сессию в набор cookie, разбивая длинные значения на части.
func EncodeSession(name string, s *model.Session, secure bool) []*http.Cookie {
	ws := wireSession{
		AccessToken:  s.AccessToken,
		TokenType:    "bearer",
		RefreshToken: s.RefreshToken,
		User:         &s.User,
	}
	if !s.ExpiresAt.IsZero() {
		ws.ExpiresAt = s.ExpiresAt.Unix()
	}

	payload, _ := json.Marshal(ws)
	value := base64Prefix + base64.RawURLEncoding.EncodeToString(payload)

	if len(value) <= maxChunkSize {
		return []*http.Cookie{newSessionCookie(name, value, secure)}
	}

	var cookies []*http.Cookie
	for i := 0; len(value) > 0; i++ {
		n := min(maxChunkSize, len(value))
		cookies = append(cookies, newSessionCookie(name+chunkSeparator+strconv.Itoa(i), value[:n], secure))
		value = value[n:]
	}
	return cookies
}

func newSessionCookie(name, value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionMaxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookies записывает сессию в ответ, удаляя устаревшие части из запроса.
func SetSessionCookies(w http.ResponseWriter, r *http.Request, name string, s *model.Session, secure bool) {
	cookies := EncodeSession(name, s, secure)
	written := make(map[string]struct{}, len(cookies))
	for _, c := range cookies {
		written[c.Name] = struct{}{}
		http.SetCookie(w, c)
	}
	for _, existing := range SessionCookieNames(r, name) {
		if _, ok := written[existing]; !ok {
			http.SetCookie(w, expiredCookie(existing))
		}
	}
}

// ClearSessionCookies удаляет cookie сессии и все его части из ответа.
func ClearSessionCookies(w http.ResponseWriter, r *http.Request, name string) {
	names := SessionCookieNames(r, name)
	if len(names) == 0 {
		names = []string{name}
	}
	for _, n := range names {
		http.SetCookie(w, expiredCookie(n))
	}
}

func expiredCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
