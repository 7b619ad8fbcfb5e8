// Пакет crmclient — HTTP-клиент для взаимодействия с ATS/CRM API.
// Получает SA-токен через client_credentials grant, выполняет поиск
// записей для табличных представлений, скачивает контейнеры документов
// клиентов и опрашивает онлайн-статусы сотрудников.
package crmclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/datatable"
)

// ClientInfo — карточка клиента (из API CRM).
type ClientInfo struct {
	// ID — UUID клиента
	ID string `json:"id"`
	// Name — человекочитаемое имя клиента
	Name string `json:"name"`
	// Status — статус клиента (active, archived)
	Status string `json:"status"`
}

// PresenceEntry — онлайн-статус одного сотрудника.
type PresenceEntry struct {
	// UserID — UUID сотрудника
	UserID string `json:"user_id"`
	// DisplayName — отображаемое имя
	DisplayName string `json:"display_name"`
	// Status — статус (online, away, offline)
	Status string `json:"status"`
	// LastSeen — время последней активности
	LastSeen time.Time `json:"last_seen"`
}

// searchRequest — тело запроса поиска записей CRM.
type searchRequest struct {
	Limit   int                            `json:"limit"`
	Offset  int                            `json:"offset"`
	Search  string                         `json:"search,omitempty"`
	Filters map[string]datatable.FilterSpec `json:"filters,omitempty"`
}

// searchResponse — ответ CRM на поиск записей.
type searchResponse struct {
	Items []json.RawMessage `json:"items"`
	Total int               `json:"total"`
}

// tokenInfo — закэшированный SA-токен с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// Client — HTTP-клиент для CRM.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	crmURL         string
	clientID       string
	clientSecret   string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	healthPath     string
	logger         *slog.Logger

	// Кэш SA-токена (thread-safe)
	mu    sync.RWMutex
	token *tokenInfo
}

// Config — параметры создания CRM-клиента.
type Config struct {
	// URL — базовый URL CRM (например, https://crm.internal:8443)
	URL string
	// ClientID, ClientSecret — учётные данные client_credentials grant
	ClientID     string
	ClientSecret string
	// CACertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул)
	CACertPath string
	// Timeout — таймаут обычных запросов (из DM_CRM_TIMEOUT)
	Timeout time.Duration
	// DownloadTimeout — таймаут скачивания контейнеров (из DM_CRM_DOWNLOAD_TIMEOUT)
	DownloadTimeout time.Duration
	// HealthPath — путь health-проверки CRM (из DM_CRM_HEALTH_PATH)
	HealthPath string
}

// New создаёт CRM-клиент.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата CRM: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат CRM добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		downloadClient: &http.Client{
			Timeout:   cfg.DownloadTimeout,
			Transport: transport,
		},
		crmURL:       strings.TrimRight(cfg.URL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		healthPath:   cfg.HealthPath,
		logger:       logger.With(slog.String("component", "crm_client")),
	}, nil
}

// GetToken возвращает SA-токен для авторизации запросов.
// Использует кэш: если токен ещё валиден (exp - 30s), возвращает закэшированный.
// Иначе запрашивает новый через client_credentials grant.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	// Проверяем кэш (read lock)
	c.mu.RLock()
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		token := c.token.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	// Запрашиваем новый токен (write lock)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		return c.token.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	return token, nil
}

// SearchRecords запрашивает страницу записей представления.
// POST /api/v1/{view}/search с limit/offset/search/filters.
// Возвращает записи страницы и общее количество по запросу.
func (c *Client) SearchRecords(ctx context.Context, view string, q datatable.Query) ([]json.RawMessage, int, error) {
	reqURL := fmt.Sprintf("%s/api/v1/%s/search", c.crmURL, view)

	body, err := json.Marshal(searchRequest{
		Limit:   q.PageSize,
		Offset:  q.Page * q.PageSize,
		Search:  q.SearchTerm,
		Filters: q.Filters,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("сериализация запроса поиска: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("создание запроса SearchRecords: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.authorize(ctx, req); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, 0, fmt.Errorf("запрос SearchRecords к %s: %w", c.crmURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("CRM вернул статус %d для поиска %s: %s",
			resp.StatusCode, view, string(respBody))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, 0, fmt.Errorf("декодирование ответа поиска от CRM: %w", err)
	}

	return sr.Items, sr.Total, nil
}

// DownloadArchive скачивает целиком ZIP-контейнер документов клиента.
// GET /api/v1/clients/{id}/documents/downloadAll
func (c *Client) DownloadArchive(ctx context.Context, clientID string) ([]byte, error) {
	resp, err := c.StreamArchive(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("CRM вернул статус %d для контейнера клиента %s: %s",
			resp.StatusCode, clientID, string(body))
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение контейнера клиента %s: %w", clientID, err)
	}

	return blob, nil
}

// StreamArchive выполняет streaming-загрузку контейнера документов.
// Возвращает *http.Response — вызывающий код ОБЯЗАН закрыть resp.Body.
func (c *Client) StreamArchive(ctx context.Context, clientID string) (*http.Response, error) {
	reqURL := fmt.Sprintf("%s/api/v1/clients/%s/documents/downloadAll", c.crmURL, clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса StreamArchive: %w", err)
	}

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.downloadClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос StreamArchive к %s: %w", c.crmURL, err)
	}

	// Не закрываем resp.Body — вызывающий код отвечает за это (streaming)
	return resp, nil
}

// ListDocumentNames запрашивает список имён документов клиента.
// GET /api/v1/clients/{id}/documents
// Используется для деградированного индекса, когда контейнер недоступен.
func (c *Client) ListDocumentNames(ctx context.Context, clientID string) ([]string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/clients/%s/documents", c.crmURL, clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса ListDocumentNames: %w", err)
	}

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос ListDocumentNames к %s: %w", c.crmURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("CRM вернул статус %d для документов клиента %s: %s",
			resp.StatusCode, clientID, string(body))
	}

	var out struct {
		Documents []struct {
			Name string `json:"name"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("декодирование списка документов от CRM: %w", err)
	}

	names := make([]string, 0, len(out.Documents))
	for _, d := range out.Documents {
		names = append(names, d.Name)
	}
	return names, nil
}

// GetClient запрашивает карточку клиента по ID.
// GET /api/v1/clients/{id}
func (c *Client) GetClient(ctx context.Context, clientID string) (*ClientInfo, error) {
	reqURL := fmt.Sprintf("%s/api/v1/clients/%s", c.crmURL, clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса GetClient: %w", err)
	}

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос GetClient к %s: %w", c.crmURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("CRM вернул статус %d для клиента %s: %s",
			resp.StatusCode, clientID, string(body))
	}

	var info ClientInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("декодирование карточки клиента от CRM: %w", err)
	}

	return &info, nil
}

// Presence запрашивает онлайн-статусы сотрудников.
// GET /api/v1/presence
func (c *Client) Presence(ctx context.Context) ([]PresenceEntry, error) {
	reqURL := c.crmURL + "/api/v1/presence"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Presence: %w", err)
	}

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос Presence к %s: %w", c.crmURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("CRM вернул статус %d для presence: %s",
			resp.StatusCode, string(body))
	}

	var out struct {
		Users []PresenceEntry `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("декодирование presence от CRM: %w", err)
	}

	return out.Users, nil
}

// HealthURL возвращает URL health-проверки CRM для dephealth.
func (c *Client) HealthURL() string {
	return c.crmURL + c.healthPath
}

// ReadinessChecker — проверка доступности CRM для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	client *Client
}

// NewReadinessChecker создаёт проверку готовности CRM.
func NewReadinessChecker(client *Client) *ReadinessChecker {
	return &ReadinessChecker{client: client}
}

// CheckReady проверяет доступность health endpoint CRM.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.client.HealthURL(), http.NoBody)
	if err != nil {
		return "fail", fmt.Sprintf("ошибка создания запроса: %v", err)
	}

	resp, err := c.client.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "fail", fmt.Sprintf("CRM недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("CRM health вернул статус %d", resp.StatusCode)
	}
	return "ok", "CRM доступен"
}

// authorize добавляет SA-токен в заголовок запроса.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	token, err := c.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("получение токена для CRM: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// requestToken запрашивает новый SA-токен через client_credentials grant.
// Вызывается под write lock.
func (c *Client) requestToken(ctx context.Context) (string, error) {
	tokenURL := c.crmURL + "/auth/token"

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос token к CRM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("CRM token endpoint вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token     string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn int    `json:"expires_in"`
		TokenType string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("декодирование token response: %w", err)
	}

	if tokenResp.Token == "" {
		return "", fmt.Errorf("пустой access_token в ответе CRM")
	}

	// Кэшируем токен (с запасом 30 секунд до истечения)
	c.token = &tokenInfo{
		accessToken: tokenResp.Token,
		expiresAt:   time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second),
	}

	c.logger.Debug("SA-токен получен от CRM",
		slog.Int("expires_in", tokenResp.ExpiresIn),
	)

	return tokenResp.Token, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
