// Package config содержит логику чтения конфигурации панели фрилансера.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Режимы поведения при недоступности провайдера аутентификации.
const (
	AuthFailClosed = "closed"
	AuthFailOpen   = "open"
)

const (
	defaultRunAddress       = "localhost:8080"
	defaultSnapshotCacheTTL = 5 * time.Minute
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	RedisAddress       string        `env:"REDIS_ADDRESS"`
	SupabaseURL        string        `env:"SUPABASE_URL"`
	SupabaseAnonKey    string        `env:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret  string        `env:"SUPABASE_JWT_SECRET"`
	SupabaseProjectRef string        `env:"SUPABASE_PROJECT_REF"`
	AuthFailMode       string        `env:"AUTH_FAIL_MODE" envDefault:"closed"`
	SnapshotCacheTTL   time.Duration `env:"SNAPSHOT_CACHE_TTL"`
	SecureCookies      bool          `env:"SECURE_COOKIES"`
	TrustProxyHeaders  bool          `env:"TRUST_PROXY_HEADERS"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envSupabaseURL := cfg.SupabaseURL
	envCacheTTL := cfg.SnapshotCacheTTL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address")
	flag.StringVar(&cfg.SupabaseURL, "s", "", "supabase project URL")
	flag.DurationVar(&cfg.SnapshotCacheTTL, "ttl", defaultSnapshotCacheTTL, "dashboard snapshot cache TTL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envSupabaseURL != "" {
		cfg.SupabaseURL = envSupabaseURL
	}
	if envCacheTTL != 0 {
		cfg.SnapshotCacheTTL = envCacheTTL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SnapshotCacheTTL <= 0 {
		cfg.SnapshotCacheTTL = defaultSnapshotCacheTTL
	}

	if cfg.SupabaseProjectRef == "" {
		cfg.SupabaseProjectRef = ProjectRefFromURL(cfg.SupabaseURL)
	}

	cfg.AuthFailMode = strings.ToLower(strings.TrimSpace(cfg.AuthFailMode))
	if cfg.AuthFailMode != AuthFailClosed && cfg.AuthFailMode != AuthFailOpen {
		return nil, fmt.Errorf("invalid AUTH_FAIL_MODE %q", cfg.AuthFailMode)
	}

	return cfg, nil
}

// Validate проверяет, что заданы параметры, без которых сервис не может работать.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURI == "" {
		errs = append(errs, errors.New("database URI is required"))
	}
	if c.SupabaseURL == "" {
		errs = append(errs, errors.New("supabase URL is required"))
	}
	if c.SupabaseProjectRef == "" {
		errs = append(errs, errors.New("supabase project ref is required"))
	}
	return errors.Join(errs...)
}

// AuthCookieName возвращает имя cookie сессии провайдера.
func (c *Config) AuthCookieName() string {
	return "sb-" + c.SupabaseProjectRef + "-auth-token"
}

// ProjectRefFromURL извлекает идентификатор проекта из адреса вида https://<ref>.supabase.co.
func ProjectRefFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	ref, _, found := strings.Cut(host, ".")
	if !found {
		return ""
	}
	return ref
}
