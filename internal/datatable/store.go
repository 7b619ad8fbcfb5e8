// store.go — интерфейс best-effort персистентности фильтров.
// Сохраняются только фильтры (не страница и не поисковый запрос),
// под ключом хранения, выбранным вызывающим кодом.
package datatable

import (
	"context"
	"sync"
)

// FilterStore — долговременное хранилище фильтров таблицы.
// Реализации: PostgreSQL (internal/repository) и in-memory (тесты).
// Отсутствие или повреждение сохранённых данных деградирует
// к пустым фильтрам, никогда не паникует.
type FilterStore interface {
	// Load возвращает сохранённые фильтры по ключу.
	// Отсутствие записи — (nil, nil), не ошибка.
	Load(ctx context.Context, storageKey string) (map[string]FilterSpec, error)
	// Save сохраняет фильтры под ключом (upsert).
	Save(ctx context.Context, storageKey string, filters map[string]FilterSpec) error
}

// MemoryFilterStore — in-memory реализация FilterStore.
// Используется в тестах и как fallback при недоступном PostgreSQL.
type MemoryFilterStore struct {
	mu   sync.RWMutex
	data map[string]map[string]FilterSpec
}

// NewMemoryFilterStore создаёт пустое in-memory хранилище фильтров.
func NewMemoryFilterStore() *MemoryFilterStore {
	return &MemoryFilterStore{
		data: make(map[string]map[string]FilterSpec),
	}
}

// Load возвращает сохранённые фильтры по ключу.
func (s *MemoryFilterStore) Load(_ context.Context, storageKey string) (map[string]FilterSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filters, ok := s.data[storageKey]
	if !ok {
		return nil, nil
	}

	cp := make(map[string]FilterSpec, len(filters))
	for k, v := range filters {
		cp[k] = v
	}
	return cp, nil
}

// Save сохраняет копию фильтров под ключом.
func (s *MemoryFilterStore) Save(_ context.Context, storageKey string, filters map[string]FilterSpec) error {
	cp := make(map[string]FilterSpec, len(filters))
	for k, v := range filters {
		cp[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[storageKey] = cp
	return nil
}
