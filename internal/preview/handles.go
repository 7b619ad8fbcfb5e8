// handles.go — хранилище временных дескрипторов содержимого.
// Дескриптор (handle) — это пара token → (байты + MIME), доступная
// по GET /api/v1/handles/{token} на время жизни предпросмотра.
//
// Инвариант: строгая парность create/release. Каждый созданный
// дескриптор освобождается ровно один раз; баланс виден в метрике
// dm_preview_handles_active.
package preview

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики дескрипторов.
var (
	handlesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dm_preview_handles_active",
		Help: "Количество незакрытых временных дескрипторов предпросмотра.",
	})

	handlesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_preview_handles_created_total",
		Help: "Количество созданных временных дескрипторов.",
	})

	handlesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_preview_handles_released_total",
		Help: "Количество освобождённых временных дескрипторов.",
	})
)

// Handle — временный дескриптор содержимого одной записи.
type Handle struct {
	// Token — уникальный идентификатор для URL
	Token string
	// Name — имя записи в контейнере
	Name string
	// MIME — тип содержимого для отдачи
	MIME string
	// Data — распакованные байты записи
	Data []byte
}

// Store — потокобезопасное хранилище дескрипторов.
// Одно на процесс; сессии создают и освобождают свои дескрипторы.
type Store struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// NewStore создаёт пустое хранилище дескрипторов.
func NewStore() *Store {
	return &Store{
		handles: make(map[string]Handle),
	}
}

// Create регистрирует новый дескриптор и возвращает его.
func (s *Store) Create(name, mime string, data []byte) Handle {
	h := Handle{
		Token: uuid.NewString(),
		Name:  name,
		MIME:  mime,
		Data:  data,
	}

	s.mu.Lock()
	s.handles[h.Token] = h
	s.mu.Unlock()

	handlesCreated.Inc()
	handlesActive.Inc()
	return h
}

// Get возвращает дескриптор по токену.
func (s *Store) Get(token string) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handles[token]
	return h, ok
}

// Release освобождает дескриптор. Повторный Release того же токена
// не учитывается в метриках (парность create/release сохраняется).
func (s *Store) Release(token string) bool {
	s.mu.Lock()
	_, ok := s.handles[token]
	if ok {
		delete(s.handles, token)
	}
	s.mu.Unlock()

	if ok {
		handlesReleased.Inc()
		handlesActive.Dec()
	}
	return ok
}

// Active возвращает количество незакрытых дескрипторов.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}
