package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.StandardClaims
}

// JWTVerifier проверяет токен доступа локально.
// Просроченные токены отклоняются без обращения к провайдеру. Если секрет подписи
// не задан, проверка подписи делегируется next.
type JWTVerifier struct {
	secret []byte
	next   Verifier
	now    func() time.Time
}

// NewJWTVerifier создаёт локальный верификатор токенов.
func NewJWTVerifier(secret string, next Verifier) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		next:   next,
		now:    time.Now,
	}
}

// Verify проверяет срок действия и, при наличии секрета, подпись токена.
func (v *JWTVerifier) Verify(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := parseUnverified(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt != 0 && v.now().Unix() >= claims.ExpiresAt {
		return nil, ErrInvalidSession
	}

	if len(v.secret) == 0 {
		if v.next == nil {
			return nil, fmt.Errorf("no verifier configured")
		}
		return v.next.Verify(ctx, accessToken)
	}

	parser := &jwt.Parser{SkipClaimsValidation: true}
	verified := &tokenClaims{}
	_, err = parser.ParseWithClaims(accessToken, verified, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidSession
	}
	if verified.Subject == "" {
		return nil, ErrInvalidSession
	}

	return &model.User{ID: verified.Subject, Email: verified.Email}, nil
}

func parseUnverified(accessToken string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(accessToken, claims); err != nil {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// TokenExpiry возвращает момент истечения токена или нулевое время, если его нельзя определить.
func TokenExpiry(accessToken string) time.Time {
	claims, err := parseUnverified(accessToken)
	if err != nil || claims.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(claims.ExpiresAt, 0)
}

// IsInvalidSession сообщает, что ошибка означает недействительную сессию, а не сбой проверки.
func IsInvalidSession(err error) bool {
	return errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrMalformedSession)
}
