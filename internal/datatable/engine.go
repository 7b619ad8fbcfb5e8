// engine.go — ядро табличного движка: диспетчеризация fetch с
// упорядочиванием по порядку выдачи (supersession), debounce поиска,
// сброс страницы при изменении запроса, best-effort персистентность
// фильтров.
//
// Дисциплина supersession: каждому fetch присваивается монотонно
// растущий идентификатор; к видимому состоянию применяется только
// завершение с идентификатором последнего выданного запроса.
// Устаревшие завершения — включая ошибки — молча отбрасываются.
package datatable

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики табличного движка.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_table_fetches_total",
		Help: "Количество fetch-запросов табличного движка (по исходу).",
	}, []string{"result"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_table_fetch_duration_seconds",
		Help:    "Длительность fetch-запросов табличного движка.",
		Buckets: prometheus.DefBuckets,
	})
)

// Исходы fetch для лейбла result.
const (
	fetchApplied = "applied"
	fetchStale   = "stale"
	fetchFailed  = "failed"
)

// Fetcher — асинхронный источник данных таблицы.
// Вызывающий код владеет транспортом (HTTP, БД); движок — только
// упорядочиванием. ctx отменяется при supersession и при Close.
type Fetcher[R any] func(ctx context.Context, q Query) (Result[R], error)

// Notifier — внешний приёмник уведомлений (toast-сервис).
// Движок решает только, о чём уведомлять, не как отображать.
type Notifier interface {
	Notify(level, message string)
}

// NotifierFunc — адаптер функции к интерфейсу Notifier.
type NotifierFunc func(level, message string)

// Notify вызывает функцию-адаптер.
func (f NotifierFunc) Notify(level, message string) { f(level, message) }

// EngineConfig — параметры создания движка.
type EngineConfig[R any] struct {
	// Fetcher — источник данных (обязателен)
	Fetcher Fetcher[R]
	// Columns — дескрипторы колонок для валидации фильтров
	Columns []Column
	// PageSize — начальный размер страницы (> 0)
	PageSize int
	// DebounceInterval — интервал устаканивания поиска (по умолчанию 500ms)
	DebounceInterval time.Duration
	// Store — персистентность фильтров (nil — не сохраняются)
	Store FilterStore
	// StorageKey — ключ хранения фильтров (пустой — не сохраняются)
	StorageKey string
	// PersistTimeout — таймаут best-effort записи фильтров (по умолчанию 3s)
	PersistTimeout time.Duration
	// Notifier — приёмник уведомлений (nil — уведомления отбрасываются)
	Notifier Notifier
	// Logger — логгер (nil — slog.Default)
	Logger *slog.Logger
}

// State — видимое состояние таблицы на момент снимка.
type State[R any] struct {
	// Rows — записи текущей страницы
	Rows []R
	// Total — общее количество записей
	Total int
	// Loading — true между диспетчеризацией и завершением последнего запроса
	Loading bool
	// Query — текущее состояние запроса (устоявшийся поиск)
	Query Query
	// RawSearchTerm — сырой поисковый ввод (до debounce)
	RawSearchTerm string
}

// Engine — движок пагинированной удалённой таблицы.
// Потокобезопасен; все мутации видимого состояния — под мьютексом.
type Engine[R any] struct {
	fetcher        Fetcher[R]
	columns        []Column
	store          FilterStore
	storageKey     string
	persistTimeout time.Duration
	notifier       Notifier
	logger         *slog.Logger

	mu         sync.Mutex
	query      Query
	rawSearch  string
	rows       []R
	total      int
	loading    bool
	lastIssued uint64
	cancel     context.CancelFunc
	closed     bool

	// baseCtx — контекст жизни движка; отменяется в Close
	baseCtx    context.Context
	baseCancel context.CancelFunc

	debouncer *Debouncer[string]
}

// NewEngine создаёт табличный движок. Fetch не выполняется до Open.
func NewEngine[R any](cfg EngineConfig[R]) (*Engine[R], error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("datatable: Fetcher обязателен")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("datatable: PageSize должен быть > 0, получен %d", cfg.PageSize)
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 500 * time.Millisecond
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	e := &Engine[R]{
		fetcher:        cfg.Fetcher,
		columns:        cfg.Columns,
		store:          cfg.Store,
		storageKey:     cfg.StorageKey,
		persistTimeout: cfg.PersistTimeout,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger.With(slog.String("component", "datatable")),
		query: Query{
			Page:     0,
			PageSize: cfg.PageSize,
			Filters:  make(map[string]FilterSpec),
		},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}

	e.debouncer = NewDebouncer(cfg.DebounceInterval, e.applyEffectiveSearch)

	return e, nil
}

// Open восстанавливает сохранённые фильтры (best-effort) и выдаёт
// первый fetch. Ошибка хранилища деградирует к пустым фильтрам.
func (e *Engine[R]) Open(ctx context.Context) {
	if e.store != nil && e.storageKey != "" {
		filters, err := e.store.Load(ctx, e.storageKey)
		if err != nil {
			e.logger.Warn("Фильтры не восстановлены, используются пустые",
				slog.String("storage_key", e.storageKey),
				slog.String("error", err.Error()),
			)
		} else if len(filters) > 0 {
			if verr := ValidateFilters(e.columns, filters); verr != nil {
				// Повреждённые сохранённые фильтры — деградация к пустым
				e.logger.Warn("Сохранённые фильтры невалидны, отброшены",
					slog.String("storage_key", e.storageKey),
					slog.String("error", verr.Error()),
				)
			} else {
				e.mu.Lock()
				e.query.Filters = filters
				e.mu.Unlock()
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatchLocked()
}

// SetSearchTerm сохраняет сырой ввод немедленно; эффективный поисковый
// запрос применяется после устаканивания (debounce). Каждое изменение
// перезапускает задержку.
func (e *Engine[R]) SetSearchTerm(term string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.rawSearch = term
	e.mu.Unlock()

	e.debouncer.Trigger(term)
}

// applyEffectiveSearch — срабатывание debounce: устоявшийся поиск
// записывается в запрос, страница сбрасывается, выдаётся fetch.
func (e *Engine[R]) applyEffectiveSearch(term string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || term == e.query.SearchTerm {
		return
	}

	e.query.SearchTerm = term
	e.query.Page = 0
	e.dispatchLocked()
}

// SetPage переходит на указанную страницу. Единственная мутация
// запроса, НЕ сбрасывающая номер страницы.
func (e *Engine[R]) SetPage(page int) error {
	if page < 0 {
		return fmt.Errorf("datatable: номер страницы не может быть отрицательным: %d", page)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || page == e.query.Page {
		return nil
	}

	e.query.Page = page
	e.dispatchLocked()
	return nil
}

// SetPageSize меняет размер страницы и сбрасывает страницу на 0.
func (e *Engine[R]) SetPageSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("datatable: размер страницы должен быть > 0: %d", size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || size == e.query.PageSize {
		return nil
	}

	e.query.PageSize = size
	e.query.Page = 0
	e.dispatchLocked()
	return nil
}

// SetFilters заменяет фильтры, сбрасывает страницу на 0 и сохраняет
// фильтры в хранилище best-effort (асинхронно, ошибка не блокирует).
func (e *Engine[R]) SetFilters(filters map[string]FilterSpec) error {
	if filters == nil {
		filters = make(map[string]FilterSpec)
	}
	if err := ValidateFilters(e.columns, filters); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.query.Filters = filters
	e.query.Page = 0
	e.dispatchLocked()
	e.mu.Unlock()

	e.persistFilters(filters)
	return nil
}

// Refresh безусловно повторяет fetch с текущим состоянием запроса.
func (e *Engine[R]) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.dispatchLocked()
}

// Snapshot возвращает снимок видимого состояния таблицы.
func (e *Engine[R]) Snapshot() State[R] {
	e.mu.Lock()
	defer e.mu.Unlock()

	return State[R]{
		Rows:          e.rows,
		Total:         e.total,
		Loading:       e.loading,
		Query:         e.query.Clone(),
		RawSearchTerm: e.rawSearch,
	}
}

// Close отменяет in-flight fetch, останавливает debounce и запрещает
// дальнейшие операции. Идемпотентен.
func (e *Engine[R]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.baseCancel()
	e.debouncer.Stop()
}

// dispatchLocked выдаёт новый fetch под мьютексом:
// отменяет предыдущий in-flight, присваивает следующий идентификатор,
// выставляет loading и запускает горутину выполнения.
func (e *Engine[R]) dispatchLocked() {
	if e.cancel != nil {
		// Предыдущий запрос отменяется в момент выдачи нового
		e.cancel()
	}

	e.lastIssued++
	id := e.lastIssued

	ctx, cancel := context.WithCancel(e.baseCtx)
	e.cancel = cancel
	e.loading = true

	q := e.query.Clone()

	go e.run(ctx, id, q)
}

// run выполняет один fetch и применяет результат, только если запрос
// всё ещё последний выданный. Устаревшие завершения (и ошибки)
// отбрасываются молча — уведомление об ошибке брошенного запроса
// было бы шумом для пользователя.
func (e *Engine[R]) run(ctx context.Context, id uint64, q Query) {
	start := time.Now()
	res, err := e.fetcher(ctx, q)
	duration := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || id != e.lastIssued {
		fetchesTotal.WithLabelValues(fetchStale).Inc()
		e.logger.Debug("Устаревший fetch отброшен",
			slog.Uint64("request_id", id),
			slog.Uint64("latest", e.lastIssued),
			slog.Bool("failed", err != nil),
		)
		return
	}

	e.loading = false
	e.cancel = nil
	fetchDuration.Observe(duration.Seconds())

	if err != nil {
		// Актуальный запрос завершился ошибкой: пустой результат + уведомление
		e.rows = nil
		e.total = 0
		fetchesTotal.WithLabelValues(fetchFailed).Inc()
		e.logger.Error("Ошибка fetch таблицы",
			slog.Uint64("request_id", id),
			slog.Int("page", q.Page),
			slog.String("error", err.Error()),
		)
		if e.notifier != nil {
			e.notifier.Notify("error", "Не удалось загрузить данные таблицы")
		}
		return
	}

	e.rows = res.Rows
	e.total = res.Total
	fetchesTotal.WithLabelValues(fetchApplied).Inc()
	e.logger.Debug("Fetch применён",
		slog.Uint64("request_id", id),
		slog.Int("rows", len(res.Rows)),
		slog.Int("total", res.Total),
		slog.Duration("duration", duration),
	)
}

// persistFilters сохраняет фильтры асинхронно, best-effort.
// Недоступность хранилища деградирует к in-memory фильтрам.
func (e *Engine[R]) persistFilters(filters map[string]FilterSpec) {
	if e.store == nil || e.storageKey == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(e.baseCtx, e.persistTimeout)
		defer cancel()

		if err := e.store.Save(ctx, e.storageKey, filters); err != nil {
			e.logger.Warn("Фильтры не сохранены",
				slog.String("storage_key", e.storageKey),
				slog.String("error", err.Error()),
			)
		}
	}()
}
