// Пакет service — бизнес-логика Dashboard Module.
// ViewService — сессии табличных представлений поверх движка datatable.
// Каждая сессия держит собственный движок; сессии живут в expirable
// LRU и закрываются при вытеснении по TTL.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/datatable"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/domain/model"
)

// Prometheus-метрики сессий представлений.
var (
	viewSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dm_view_sessions_active",
		Help: "Количество живых сессий табличных представлений.",
	})

	viewSessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_view_sessions_created_total",
		Help: "Количество созданных сессий табличных представлений.",
	}, []string{"view"})
)

// Имена табличных представлений.
const (
	ViewConsultants  = "consultants"
	ViewRequirements = "requirements"
	ViewSubmissions  = "submissions"
)

// RecordSearcher — поисковый интерфейс CRM-клиента.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, view string, q datatable.Query) ([]json.RawMessage, int, error)
}

// Notice — уведомление пользователю, накопленное сессией.
type Notice struct {
	// Level — уровень (error, warning, info)
	Level string `json:"level"`
	// Message — текст уведомления
	Message string `json:"message"`
	// At — время возникновения
	At time.Time `json:"at"`
}

// noticeBuffer — потокобезопасный накопитель уведомлений сессии.
// Snapshot забирает накопленное и очищает буфер.
type noticeBuffer struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify реализует datatable.Notifier.
func (b *noticeBuffer) Notify(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{
		Level:   level,
		Message: message,
		At:      time.Now(),
	})
}

// drain возвращает накопленные уведомления и очищает буфер.
func (b *noticeBuffer) drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// SessionState — видимое состояние сессии для API.
type SessionState struct {
	// SessionID — идентификатор сессии
	SessionID string `json:"session_id"`
	// View — имя представления
	View string `json:"view"`
	// Rows — записи текущей страницы
	Rows []json.RawMessage `json:"rows"`
	// Total — общее количество записей
	Total int `json:"total"`
	// Loading — идёт ли загрузка последнего выданного запроса
	Loading bool `json:"loading"`
	// Page, PageSize — текущая страница и её размер
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	// SearchTerm — устоявшийся поисковый запрос
	SearchTerm string `json:"search_term"`
	// RawSearchTerm — сырой поисковый ввод (до debounce)
	RawSearchTerm string `json:"raw_search_term"`
	// Filters — текущие фильтры
	Filters map[string]datatable.FilterSpec `json:"filters"`
	// Notices — уведомления, накопленные с прошлого снимка
	Notices []Notice `json:"notices,omitempty"`
}

// tableSession — недженериковый интерфейс над движком с конкретным
// типом записи. Позволяет держать сессии разных представлений
// в одном LRU.
type tableSession interface {
	Open(ctx context.Context)
	SetSearchTerm(term string)
	SetPage(page int) error
	SetPageSize(size int) error
	SetFilters(filters map[string]datatable.FilterSpec) error
	Refresh()
	Snapshot() (rows []json.RawMessage, total int, loading bool, q datatable.Query, rawSearch string)
	Close()
}

// viewSession — адаптер Engine[R] к интерфейсу tableSession.
type viewSession[R any] struct {
	engine *datatable.Engine[R]
}

func (s *viewSession[R]) Open(ctx context.Context)  { s.engine.Open(ctx) }
func (s *viewSession[R]) SetSearchTerm(term string) { s.engine.SetSearchTerm(term) }
func (s *viewSession[R]) SetPage(page int) error    { return s.engine.SetPage(page) }
func (s *viewSession[R]) SetPageSize(size int) error {
	return s.engine.SetPageSize(size)
}
func (s *viewSession[R]) SetFilters(filters map[string]datatable.FilterSpec) error {
	return s.engine.SetFilters(filters)
}
func (s *viewSession[R]) Refresh() { s.engine.Refresh() }
func (s *viewSession[R]) Close()   { s.engine.Close() }

func (s *viewSession[R]) Snapshot() ([]json.RawMessage, int, bool, datatable.Query, string) {
	st := s.engine.Snapshot()

	rows := make([]json.RawMessage, 0, len(st.Rows))
	for _, r := range st.Rows {
		raw, err := json.Marshal(r)
		if err != nil {
			continue
		}
		rows = append(rows, raw)
	}
	return rows, st.Total, st.Loading, st.Query, st.RawSearchTerm
}

// sessionEntry — запись LRU: сессия + её буфер уведомлений.
type sessionEntry struct {
	view    string
	table   tableSession
	notices *noticeBuffer
}

// ViewConfig — параметры создания сессий представлений.
type ViewConfig struct {
	// DefaultPageSize — размер страницы по умолчанию
	DefaultPageSize int
	// SearchDebounce — интервал устаканивания поиска
	SearchDebounce time.Duration
	// FilterPersistTimeout — таймаут best-effort записи фильтров
	FilterPersistTimeout time.Duration
	// SessionMaxCount — максимум живых сессий в LRU
	SessionMaxCount int
	// SessionTTL — время жизни сессии без обращений
	SessionTTL time.Duration
}

// ViewService — сервис сессий табличных представлений.
type ViewService struct {
	crm    RecordSearcher
	store  datatable.FilterStore
	cfg    ViewConfig
	logger *slog.Logger

	sessions *expirable.LRU[string, *sessionEntry]
}

// NewViewService создаёт сервис представлений.
// store может быть nil — тогда фильтры не сохраняются.
func NewViewService(crm RecordSearcher, store datatable.FilterStore, cfg ViewConfig, logger *slog.Logger) *ViewService {
	s := &ViewService{
		crm:    crm,
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "view_service")),
	}

	// Вытеснение по TTL или переполнению закрывает сессию
	s.sessions = expirable.NewLRU(cfg.SessionMaxCount,
		func(sessionID string, entry *sessionEntry) {
			entry.table.Close()
			viewSessionsActive.Dec()
			s.logger.Debug("Сессия представления вытеснена",
				slog.String("session_id", sessionID),
				slog.String("view", entry.view),
			)
		}, cfg.SessionTTL)

	return s
}

// decodeRows разбирает записи CRM в типизированные модели.
func decodeRows[R any](items []json.RawMessage) ([]R, error) {
	rows := make([]R, 0, len(items))
	for i, item := range items {
		var r R
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("разбор записи %d: %w", i, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// newFetcher строит Fetcher движка поверх поиска CRM.
func newFetcher[R any](crm RecordSearcher, view string) datatable.Fetcher[R] {
	return func(ctx context.Context, q datatable.Query) (datatable.Result[R], error) {
		items, total, err := crm.SearchRecords(ctx, view, q)
		if err != nil {
			return datatable.Result[R]{}, err
		}
		rows, err := decodeRows[R](items)
		if err != nil {
			return datatable.Result[R]{}, err
		}
		return datatable.Result[R]{Rows: rows, Total: total}, nil
	}
}

// viewColumns — дескрипторы колонок представлений.
// Ключи повторяют поля поисковых endpoint'ов CRM.
var viewColumns = map[string][]datatable.Column{
	ViewConsultants: {
		{Key: "name", Filter: datatable.FilterText},
		{Key: "grade", Filter: datatable.FilterSelect},
		{Key: "status", Filter: datatable.FilterSelect},
		{Key: "rate", Filter: datatable.FilterNumber},
		{Key: "available_from", Filter: datatable.FilterDateRange},
	},
	ViewRequirements: {
		{Key: "client_name", Filter: datatable.FilterText},
		{Key: "title", Filter: datatable.FilterText},
		{Key: "status", Filter: datatable.FilterSelect},
		{Key: "positions", Filter: datatable.FilterNumber},
		{Key: "created_at", Filter: datatable.FilterDateRange},
	},
	ViewSubmissions: {
		{Key: "consultant_name", Filter: datatable.FilterText},
		{Key: "requirement_title", Filter: datatable.FilterText},
		{Key: "stage", Filter: datatable.FilterSelect},
		{Key: "submitted_at", Filter: datatable.FilterDateRange},
	},
}

// newEngineSession создаёт движок для представления и оборачивает его
// в tableSession.
func newEngineSession[R any](s *ViewService, view, storageKey string, notices *noticeBuffer) (tableSession, error) {
	var store datatable.FilterStore
	if storageKey != "" {
		store = s.store
	}

	engine, err := datatable.NewEngine(datatable.EngineConfig[R]{
		Fetcher:          newFetcher[R](s.crm, view),
		Columns:          viewColumns[view],
		PageSize:         s.cfg.DefaultPageSize,
		DebounceInterval: s.cfg.SearchDebounce,
		Store:            store,
		StorageKey:       storageKey,
		PersistTimeout:   s.cfg.FilterPersistTimeout,
		Notifier:         notices,
		Logger:           s.logger,
	})
	if err != nil {
		return nil, err
	}
	return &viewSession[R]{engine: engine}, nil
}

// CreateSession создаёт сессию представления и выдаёт первый fetch.
// storageKey — ключ персистентности фильтров (пустой — без неё).
func (s *ViewService) CreateSession(ctx context.Context, view, storageKey string) (string, error) {
	notices := &noticeBuffer{}

	var (
		table tableSession
		err   error
	)
	switch view {
	case ViewConsultants:
		table, err = newEngineSession[model.Consultant](s, view, storageKey, notices)
	case ViewRequirements:
		table, err = newEngineSession[model.Requirement](s, view, storageKey, notices)
	case ViewSubmissions:
		table, err = newEngineSession[model.Submission](s, view, storageKey, notices)
	default:
		return "", fmt.Errorf("неизвестное представление: %q", view)
	}
	if err != nil {
		return "", fmt.Errorf("создание сессии %s: %w", view, err)
	}

	sessionID := uuid.NewString()
	s.sessions.Add(sessionID, &sessionEntry{
		view:    view,
		table:   table,
		notices: notices,
	})
	viewSessionsActive.Inc()
	viewSessionsCreated.WithLabelValues(view).Inc()

	// Первый fetch: восстановление фильтров + диспетчеризация
	table.Open(ctx)

	s.logger.Info("Сессия представления создана",
		slog.String("session_id", sessionID),
		slog.String("view", view),
		slog.String("storage_key", storageKey),
	)
	return sessionID, nil
}

// ErrSessionNotFound — сессия не найдена или вытеснена по TTL.
var ErrSessionNotFound = errors.New("сессия не найдена или истекла")

// get возвращает запись сессии или ошибку.
func (s *ViewService) get(sessionID string) (*sessionEntry, error) {
	entry, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("сессия %s: %w", sessionID, ErrSessionNotFound)
	}
	return entry, nil
}

// Search передаёт сырой поисковый ввод сессии (debounce внутри движка).
func (s *ViewService) Search(sessionID, term string) error {
	entry, err := s.get(sessionID)
	if err != nil {
		return err
	}
	entry.table.SetSearchTerm(term)
	return nil
}

// SetPage меняет страницу и/или размер страницы сессии.
// nil-параметр означает "не менять".
func (s *ViewService) SetPage(sessionID string, page, pageSize *int) error {
	entry, err := s.get(sessionID)
	if err != nil {
		return err
	}
	if pageSize != nil {
		if err := entry.table.SetPageSize(*pageSize); err != nil {
			return err
		}
	}
	if page != nil {
		if err := entry.table.SetPage(*page); err != nil {
			return err
		}
	}
	return nil
}

// SetFilters заменяет фильтры сессии.
func (s *ViewService) SetFilters(sessionID string, filters map[string]datatable.FilterSpec) error {
	entry, err := s.get(sessionID)
	if err != nil {
		return err
	}
	return entry.table.SetFilters(filters)
}

// Refresh безусловно повторяет fetch сессии.
func (s *ViewService) Refresh(sessionID string) error {
	entry, err := s.get(sessionID)
	if err != nil {
		return err
	}
	entry.table.Refresh()
	return nil
}

// Snapshot возвращает видимое состояние сессии и накопленные
// уведомления.
func (s *ViewService) Snapshot(sessionID string) (*SessionState, error) {
	entry, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	rows, total, loading, q, rawSearch := entry.table.Snapshot()
	return &SessionState{
		SessionID:     sessionID,
		View:          entry.view,
		Rows:          rows,
		Total:         total,
		Loading:       loading,
		Page:          q.Page,
		PageSize:      q.PageSize,
		SearchTerm:    q.SearchTerm,
		RawSearchTerm: rawSearch,
		Filters:       q.Filters,
		Notices:       entry.notices.drain(),
	}, nil
}

// CloseSession закрывает сессию и удаляет её из LRU.
func (s *ViewService) CloseSession(sessionID string) error {
	if _, ok := s.sessions.Peek(sessionID); !ok {
		return fmt.Errorf("сессия %s: %w", sessionID, ErrSessionNotFound)
	}
	// Remove вызывает onEvict, который закрывает движок
	s.sessions.Remove(sessionID)
	return nil
}

// Close закрывает все сессии (graceful shutdown).
func (s *ViewService) Close() {
	s.sessions.Purge()
}
