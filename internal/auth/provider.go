package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

var (
	// ErrInvalidSession возвращается, если провайдер однозначно отверг токен доступа.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSignUpRejected возвращается, если провайдер отклонил регистрацию.
	ErrSignUpRejected = errors.New("sign up rejected")
)

// Verifier проверяет токен доступа и возвращает связанного с ним пользователя.
// ErrInvalidSession означает недействительный токен, любая другая ошибка означает сбой проверки.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*model.User, error)
}

// ProviderClient инкапсулирует HTTP-взаимодействие с REST API провайдера аутентификации.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewProviderClient создаёт клиент провайдера аутентификации по адресу проекта и публичному ключу.
func NewProviderClient(baseURL, apiKey string) *ProviderClient {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	return &ProviderClient{
		baseURL: base,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type providerError struct {
	Code             any    `json:"code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e providerError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *ProviderClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("auth provider not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Verify запрашивает у провайдера пользователя, которому принадлежит токен доступа.
func (c *ProviderClient) Verify(ctx context.Context, accessToken string) (*model.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidSession
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var user model.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if user.ID == "" {
		return nil, ErrInvalidSession
	}

	return &user, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithPassword обменивает email и пароль на новую сессию.
func (c *ProviderClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", credentials{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var ws wireSession
	if err := json.NewDecoder(resp.Body).Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if ws.AccessToken == "" {
		return nil, fmt.Errorf("decode response: empty access token")
	}
	if ws.ExpiresAt == 0 && ws.ExpiresIn > 0 {
		ws.ExpiresAt = time.Now().Add(time.Duration(ws.ExpiresIn) * time.Second).Unix()
	}

	return ws.toModel(), nil
}

// SignUp регистрирует пользователя. Если провайдер требует подтверждения email,
// возвращается nil-сессия без ошибки.
func (c *ProviderClient) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/signup", credentials{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		var pe providerError
		_ = json.NewDecoder(resp.Body).Decode(&pe)
		if msg := pe.text(); msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrSignUpRejected, msg)
		}
		return nil, ErrSignUpRejected
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var ws wireSession
	if err := json.NewDecoder(resp.Body).Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if ws.AccessToken == "" {
		return nil, nil
	}
	if ws.ExpiresAt == 0 && ws.ExpiresIn > 0 {
		ws.ExpiresAt = time.Now().Add(time.Duration(ws.ExpiresIn) * time.Second).Unix()
	}

	return ws.toModel(), nil
}

// SignOut отзывает сессию на стороне провайдера.
func (c *ProviderClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusUnauthorized, http.StatusForbidden:
		return nil
	default:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
