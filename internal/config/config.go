// Пакет config — загрузка и валидация конфигурации Dashboard Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Dashboard Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 120s — streaming download архивов)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь БД
	DBUser string
	// Пароль БД
	DBPassword string
	// Режим SSL (disable, require, verify-full)
	DBSSLMode string

	// --- CRM (upstream ATS/CRM REST API) ---

	// Базовый URL CRM API
	CRMURL string
	// Client ID для client_credentials grant
	CRMClientID string
	// Client Secret для client_credentials grant
	CRMClientSecret string
	// Путь к CA-сертификату CRM (пустая строка — стандартный пул)
	CRMCACertPath string
	// Таймаут обычных запросов к CRM (по умолчанию 30s)
	CRMTimeout time.Duration
	// Таймаут скачивания архива документов (по умолчанию 120s)
	CRMDownloadTimeout time.Duration
	// Путь health endpoint CRM для readiness/dephealth (по умолчанию /health)
	CRMHealthPath string

	// --- Табличный движок ---

	// Размер страницы по умолчанию (по умолчанию 25)
	DefaultPageSize int
	// Максимальный размер страницы (по умолчанию 200)
	MaxPageSize int
	// Интервал debounce поискового ввода (по умолчанию 500ms)
	SearchDebounce time.Duration
	// Таймаут best-effort сохранения фильтров (по умолчанию 3s)
	FilterPersistTimeout time.Duration

	// --- Сессии (табличные и документные) ---

	// Максимальное количество живых сессий на инстанс (по умолчанию 1000)
	SessionMaxCount int
	// TTL неактивной сессии (по умолчанию 30m)
	SessionTTL time.Duration

	// --- Чат: presence polling ---

	// Интервал опроса online-статусов (по умолчанию 30s)
	PresenceInterval time.Duration

	// --- JWT / JWKS ---

	// URL JWKS endpoint Keycloak (пустая строка — auth отключён)
	JWKSURL string
	// Путь к CA-сертификату для JWKS (пустая строка — стандартный пул)
	JWKSCACertPath string
	// Ожидаемый issuer JWT (пустая строка — не проверяется)
	JWTIssuer string
	// Группы IdP, маппящиеся в роль admin
	AdminGroups []string
	// Группы IdP, маппящиеся в роль recruiter
	RecruiterGroups []string
	// Таймаут HTTP-клиента JWKS (по умолчанию 10s)
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей (по умолчанию 5m)
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT (по умолчанию 30s)
	JWTLeeway time.Duration

	// --- Dephealth (topologymetrics) ---

	// Включение мониторинга зависимостей (по умолчанию true)
	DephealthEnabled bool
	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 30s)
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop // сложность обусловлена количеством параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DM_PORT: %w", err)
	}

	// DM_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("DM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DM_LOG_LEVEL: %w", err)
	}

	// DM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("DM_HTTP_WRITE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("DM_DB_HOST", "localhost")

	cfg.DBPort, err = getEnvInt("DM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DM_DB_PORT: %w", err)
	}

	cfg.DBName = getEnvDefault("DM_DB_NAME", "staffdesk")
	cfg.DBUser = getEnvDefault("DM_DB_USER", "staffdesk")

	cfg.DBPassword, err = getEnvRequired("DM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("DM_DB_SSLMODE", "disable")

	// --- CRM ---

	cfg.CRMURL, err = getEnvRequired("DM_CRM_URL")
	if err != nil {
		return nil, err
	}
	cfg.CRMURL = strings.TrimRight(cfg.CRMURL, "/")

	cfg.CRMClientID = getEnvDefault("DM_CRM_CLIENT_ID", "dashboard-module")
	cfg.CRMClientSecret = os.Getenv("DM_CRM_CLIENT_SECRET")
	cfg.CRMCACertPath = os.Getenv("DM_CRM_CA_CERT_PATH")

	cfg.CRMTimeout, err = getEnvDuration("DM_CRM_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_CRM_TIMEOUT: %w", err)
	}

	cfg.CRMDownloadTimeout, err = getEnvDuration("DM_CRM_DOWNLOAD_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_CRM_DOWNLOAD_TIMEOUT: %w", err)
	}

	cfg.CRMHealthPath = getEnvDefault("DM_CRM_HEALTH_PATH", "/health")

	// --- Табличный движок ---

	cfg.DefaultPageSize, err = getEnvInt("DM_DEFAULT_PAGE_SIZE", 25)
	if err != nil {
		return nil, fmt.Errorf("DM_DEFAULT_PAGE_SIZE: %w", err)
	}
	if cfg.DefaultPageSize < 1 {
		return nil, fmt.Errorf("DM_DEFAULT_PAGE_SIZE: значение должно быть > 0")
	}

	cfg.MaxPageSize, err = getEnvInt("DM_MAX_PAGE_SIZE", 200)
	if err != nil {
		return nil, fmt.Errorf("DM_MAX_PAGE_SIZE: %w", err)
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		return nil, fmt.Errorf("DM_MAX_PAGE_SIZE: значение должно быть >= DM_DEFAULT_PAGE_SIZE")
	}

	cfg.SearchDebounce, err = getEnvDuration("DM_SEARCH_DEBOUNCE", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("DM_SEARCH_DEBOUNCE: %w", err)
	}

	cfg.FilterPersistTimeout, err = getEnvDuration("DM_FILTER_PERSIST_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_FILTER_PERSIST_TIMEOUT: %w", err)
	}

	// --- Сессии ---

	cfg.SessionMaxCount, err = getEnvInt("DM_SESSION_MAX_COUNT", 1000)
	if err != nil {
		return nil, fmt.Errorf("DM_SESSION_MAX_COUNT: %w", err)
	}

	cfg.SessionTTL, err = getEnvDuration("DM_SESSION_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_SESSION_TTL: %w", err)
	}

	// --- Presence ---

	cfg.PresenceInterval, err = getEnvDuration("DM_PRESENCE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_PRESENCE_INTERVAL: %w", err)
	}

	// --- JWT / JWKS ---

	cfg.JWKSURL = os.Getenv("DM_JWKS_URL")
	cfg.JWKSCACertPath = os.Getenv("DM_JWKS_CA_CERT_PATH")
	cfg.JWTIssuer = os.Getenv("DM_JWT_ISSUER")
	cfg.AdminGroups = getEnvList("DM_ADMIN_GROUPS", "/staffdesk-admins")
	cfg.RecruiterGroups = getEnvList("DM_RECRUITER_GROUPS", "/staffdesk-recruiters")

	cfg.JWKSClientTimeout, err = getEnvDuration("DM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("DM_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("DM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_JWT_LEEWAY: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthEnabled, err = getEnvBool("DM_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("DM_DEPHEALTH_ENABLED: %w", err)
	}

	cfg.DephealthGroup = getEnvDefault("DM_DEPHEALTH_GROUP", "staffdesk")

	cfg.DephealthCheckInterval, err = getEnvDuration("DM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvList возвращает список значений из переменной окружения (через запятую).
func getEnvList(key, defaultVal string) []string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
