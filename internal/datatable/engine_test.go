package datatable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor опрашивает условие до истечения таймаута.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("таймаут ожидания: %s", msg)
}

// rowsOf — тестовый результат из одной строки-маркера.
func rowsOf(marker string, total int) Result[string] {
	return Result[string]{Rows: []string{marker}, Total: total}
}

// collectNotifier — накапливающий Notifier для проверки уведомлений.
type collectNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *collectNotifier) Notify(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, level+": "+message)
}

func (n *collectNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// newTestEngine создаёт движок с коротким debounce для тестов.
func newTestEngine(t *testing.T, fetcher Fetcher[string], opts ...func(*EngineConfig[string])) *Engine[string] {
	t.Helper()

	cfg := EngineConfig[string]{
		Fetcher:          fetcher,
		PageSize:         10,
		DebounceInterval: 40 * time.Millisecond,
		Columns: []Column{
			{Key: "name", Filter: FilterText},
			{Key: "status", Filter: FilterSelect},
			{Key: "rate", Filter: FilterNumber},
			{Key: "available_from", Filter: FilterDateRange},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine ошибка: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// TestEngine_InitialFetch проверяет первый fetch при Open.
func TestEngine_InitialFetch(t *testing.T) {
	e := newTestEngine(t, func(_ context.Context, q Query) (Result[string], error) {
		if q.Page != 0 {
			t.Errorf("Page = %d, ожидался 0", q.Page)
		}
		return rowsOf("initial", 42), nil
	})

	e.Open(context.Background())

	waitFor(t, time.Second, func() bool {
		s := e.Snapshot()
		return !s.Loading && s.Total == 42
	}, "применение первого fetch")

	s := e.Snapshot()
	if len(s.Rows) != 1 || s.Rows[0] != "initial" {
		t.Errorf("Rows = %v, ожидался [initial]", s.Rows)
	}
}

// TestEngine_Supersession проверяет дисциплину last-writer-wins по
// порядку выдачи: медленный запрос A, выданный раньше быстрого B,
// не должен перезаписать результат B, даже завершившись позже.
func TestEngine_Supersession(t *testing.T) {
	releaseA := make(chan struct{})
	var mu sync.Mutex
	call := 0

	e := newTestEngine(t, func(_ context.Context, _ Query) (Result[string], error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()

		if n == 1 {
			// Запрос A: блокируется до releaseA
			<-releaseA
			return rowsOf("A", 1), nil
		}
		return rowsOf("B", 2), nil
	})

	e.Open(context.Background()) // выдаёт A (висит)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return call == 1
	}, "выдача запроса A")

	// Выдаём B, пока A в полёте
	e.Refresh()

	waitFor(t, time.Second, func() bool {
		s := e.Snapshot()
		return !s.Loading && s.Total == 2
	}, "применение результата B")

	// A завершается после B — его результат должен быть отброшен
	close(releaseA)
	time.Sleep(50 * time.Millisecond)

	s := e.Snapshot()
	if s.Total != 2 || len(s.Rows) != 1 || s.Rows[0] != "B" {
		t.Errorf("видимое состояние = %v (total %d), ожидался результат B", s.Rows, s.Total)
	}
}

// TestEngine_LoadingDuringSupersession проверяет, что loading остаётся
// true, пока последний выданный запрос не завершён, даже если
// устаревший запрос уже вернулся.
func TestEngine_LoadingDuringSupersession(t *testing.T) {
	releaseB := make(chan struct{})
	var mu sync.Mutex
	call := 0

	e := newTestEngine(t, func(_ context.Context, _ Query) (Result[string], error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()

		if n == 2 {
			<-releaseB
		}
		return rowsOf("r", n), nil
	})

	e.Open(context.Background()) // A — завершается сразу

	waitFor(t, time.Second, func() bool {
		return !e.Snapshot().Loading
	}, "завершение запроса A")

	e.Refresh() // B — висит

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return call == 2
	}, "выдача запроса B")

	if !e.Snapshot().Loading {
		t.Error("Loading = false при незавершённом последнем запросе, ожидался true")
	}

	close(releaseB)
	waitFor(t, time.Second, func() bool {
		return !e.Snapshot().Loading
	}, "завершение запроса B")
}

// TestEngine_StaleErrorSuppressed проверяет, что ошибка устаревшего
// запроса не даёт ни уведомления, ни изменения видимого состояния.
func TestEngine_StaleErrorSuppressed(t *testing.T) {
	failA := make(chan struct{})
	var mu sync.Mutex
	call := 0
	notifier := &collectNotifier{}

	e := newTestEngine(t, func(_ context.Context, _ Query) (Result[string], error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()

		if n == 1 {
			<-failA
			return Result[string]{}, errors.New("сеть недоступна")
		}
		return rowsOf("B", 2), nil
	}, func(cfg *EngineConfig[string]) {
		cfg.Notifier = notifier
	})

	e.Open(context.Background()) // A — упадёт позже

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return call == 1
	}, "выдача запроса A")

	e.Refresh() // B

	waitFor(t, time.Second, func() bool {
		s := e.Snapshot()
		return !s.Loading && s.Total == 2
	}, "применение результата B")

	// A падает после применения B
	close(failA)
	time.Sleep(50 * time.Millisecond)

	if notifier.count() != 0 {
		t.Errorf("уведомлений = %d, ожидалось 0 (ошибка устаревшего запроса)", notifier.count())
	}
	if s := e.Snapshot(); s.Total != 2 {
		t.Errorf("Total = %d, ожидался 2 (результат B не перезаписан)", s.Total)
	}
}

// TestEngine_CurrentErrorSurfaced проверяет, что ошибка актуального
// запроса даёт пустой результат и уведомление.
func TestEngine_CurrentErrorSurfaced(t *testing.T) {
	notifier := &collectNotifier{}

	e := newTestEngine(t, func(_ context.Context, _ Query) (Result[string], error) {
		return Result[string]{}, errors.New("CRM вернул 502")
	}, func(cfg *EngineConfig[string]) {
		cfg.Notifier = notifier
	})

	e.Open(context.Background())

	waitFor(t, time.Second, func() bool {
		return !e.Snapshot().Loading
	}, "завершение запроса с ошибкой")

	s := e.Snapshot()
	if len(s.Rows) != 0 || s.Total != 0 {
		t.Errorf("состояние после ошибки = %v (total %d), ожидалось пустое", s.Rows, s.Total)
	}
	if notifier.count() != 1 {
		t.Errorf("уведомлений = %d, ожидалось 1", notifier.count())
	}
}

// TestEngine_PageResetOnFilterChange проверяет сброс страницы на 0
// при изменении фильтров и поиска; смена страницы сброса не делает.
func TestEngine_PageResetOnFilterChange(t *testing.T) {
	var mu sync.Mutex
	var lastQuery Query

	e := newTestEngine(t, func(_ context.Context, q Query) (Result[string], error) {
		mu.Lock()
		lastQuery = q
		mu.Unlock()
		return Result[string]{Total: 100}, nil
	})

	e.Open(context.Background())
	waitFor(t, time.Second, func() bool { return !e.Snapshot().Loading }, "первый fetch")

	// Уходим на страницу 3
	if err := e.SetPage(3); err != nil {
		t.Fatalf("SetPage ошибка: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastQuery.Page == 3
	}, "fetch со страницей 3")

	// Меняем фильтр — страница должна сброситься в выданном запросе
	err := e.SetFilters(map[string]FilterSpec{
		"status": {Kind: FilterSelect, Text: "active"},
	})
	if err != nil {
		t.Fatalf("SetFilters ошибка: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastQuery.Page == 0 && len(lastQuery.Filters) == 1
	}, "fetch со сброшенной страницей")

	// Снова страница 2, затем поиск — тоже сброс
	if err := e.SetPage(2); err != nil {
		t.Fatalf("SetPage ошибка: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastQuery.Page == 2
	}, "fetch со страницей 2")

	e.SetSearchTerm("golang")
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastQuery.SearchTerm == "golang" && lastQuery.Page == 0
	}, "fetch с устоявшимся поиском и сброшенной страницей")
}

// TestEngine_SearchDebounce проверяет, что серия быстрых вводов даёт
// один fetch с последним значением поиска.
func TestEngine_SearchDebounce(t *testing.T) {
	var mu sync.Mutex
	var searches []string

	e := newTestEngine(t, func(_ context.Context, q Query) (Result[string], error) {
		mu.Lock()
		searches = append(searches, q.SearchTerm)
		mu.Unlock()
		return Result[string]{}, nil
	})

	e.Open(context.Background())
	waitFor(t, time.Second, func() bool { return !e.Snapshot().Loading }, "первый fetch")

	e.SetSearchTerm("j")
	e.SetSearchTerm("ja")
	e.SetSearchTerm("java")

	// Сырой ввод виден сразу, до устаканивания
	if s := e.Snapshot(); s.RawSearchTerm != "java" {
		t.Errorf("RawSearchTerm = %q, ожидался %q", s.RawSearchTerm, "java")
	}
	if s := e.Snapshot(); s.Query.SearchTerm != "" {
		t.Errorf("эффективный поиск = %q до устаканивания, ожидался пустой", s.Query.SearchTerm)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(searches) == 2 // первый fetch + один после debounce
	}, "fetch после устаканивания")

	mu.Lock()
	defer mu.Unlock()
	if searches[1] != "java" {
		t.Errorf("поиск в fetch = %q, ожидался %q", searches[1], "java")
	}
}

// TestEngine_CloseDuringDebounce проверяет, что срабатывание debounce,
// пришедшееся на момент Close, отбрасывается: закрытый движок не
// выдаёт fetch и не меняет видимое состояние.
func TestEngine_CloseDuringDebounce(t *testing.T) {
	var mu sync.Mutex
	fetches := 0

	e := newTestEngine(t, func(_ context.Context, _ Query) (Result[string], error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		return Result[string]{}, nil
	})

	e.Open(context.Background())
	waitFor(t, time.Second, func() bool { return !e.Snapshot().Loading }, "первый fetch")

	// Закрытие до истечения задержки — и сразу после, наперегонки
	// с таймер-горутиной
	e.SetSearchTerm("golang")
	e.Close()

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	got := fetches
	mu.Unlock()
	if got != 1 {
		t.Errorf("fetch-ей = %d, ожидался 1 (только первый, до Close)", got)
	}
	if s := e.Snapshot(); s.Query.SearchTerm != "" {
		t.Errorf("эффективный поиск после Close = %q, ожидался пустой", s.Query.SearchTerm)
	}

	// Поздний Trigger после Stop тоже игнорируется
	e.SetSearchTerm("java")
	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fetches != 1 {
		t.Errorf("fetch-ей после SetSearchTerm на закрытом движке = %d, ожидался 1", fetches)
	}
}

// TestEngine_FilterPersistence проверяет восстановление фильтров при
// Open и best-effort сохранение при SetFilters.
func TestEngine_FilterPersistence(t *testing.T) {
	store := NewMemoryFilterStore()
	saved := map[string]FilterSpec{
		"name": {Kind: FilterText, Text: "Ivanov"},
	}
	if err := store.Save(context.Background(), "consultants", saved); err != nil {
		t.Fatalf("подготовка хранилища: %v", err)
	}

	var mu sync.Mutex
	var firstQuery Query
	got := false

	e := newTestEngine(t, func(_ context.Context, q Query) (Result[string], error) {
		mu.Lock()
		if !got {
			firstQuery = q
			got = true
		}
		mu.Unlock()
		return Result[string]{}, nil
	}, func(cfg *EngineConfig[string]) {
		cfg.Store = store
		cfg.StorageKey = "consultants"
	})

	e.Open(context.Background())

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	}, "первый fetch")

	mu.Lock()
	restored := firstQuery.Filters
	mu.Unlock()
	if len(restored) != 1 || restored["name"].Text != "Ivanov" {
		t.Errorf("восстановленные фильтры = %v, ожидался name=Ivanov", restored)
	}

	// Новые фильтры сохраняются асинхронно
	err := e.SetFilters(map[string]FilterSpec{
		"status": {Kind: FilterSelect, Text: "bench"},
	})
	if err != nil {
		t.Fatalf("SetFilters ошибка: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		filters, _ := store.Load(context.Background(), "consultants")
		_, ok := filters["status"]
		return ok
	}, "сохранение фильтров в хранилище")
}

// TestEngine_PersistenceFailureDegrades проверяет, что ошибка
// хранилища не мешает работе движка (in-memory деградация).
func TestEngine_PersistenceFailureDegrades(t *testing.T) {
	e := newTestEngine(t, func(_ context.Context, _ Query) (Result[string], error) {
		return rowsOf("ok", 1), nil
	}, func(cfg *EngineConfig[string]) {
		cfg.Store = failingStore{}
		cfg.StorageKey = "consultants"
	})

	e.Open(context.Background())

	waitFor(t, time.Second, func() bool {
		s := e.Snapshot()
		return !s.Loading && s.Total == 1
	}, "fetch при недоступном хранилище")

	err := e.SetFilters(map[string]FilterSpec{
		"name": {Kind: FilterText, Text: "x"},
	})
	if err != nil {
		t.Errorf("SetFilters при недоступном хранилище: %v, ожидался nil", err)
	}
}

// failingStore — FilterStore, всегда возвращающий ошибку.
type failingStore struct{}

func (failingStore) Load(context.Context, string) (map[string]FilterSpec, error) {
	return nil, errors.New("хранилище недоступно")
}

func (failingStore) Save(context.Context, string, map[string]FilterSpec) error {
	return errors.New("хранилище недоступно")
}

// TestEngine_CloseCancelsInflight проверяет отмену контекста
// in-flight запроса при Close.
func TestEngine_CloseCancelsInflight(t *testing.T) {
	cancelled := make(chan struct{})

	e := newTestEngine(t, func(ctx context.Context, _ Query) (Result[string], error) {
		<-ctx.Done()
		close(cancelled)
		return Result[string]{}, ctx.Err()
	})

	e.Open(context.Background())
	time.Sleep(20 * time.Millisecond)
	e.Close()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("контекст in-flight запроса не отменён при Close")
	}
}
