package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/datatable"
)

// SavedFilters — модель записи из таблицы saved_filters.
type SavedFilters struct {
	// Ключ хранения (например, "consultants:user-uuid")
	StorageKey string
	// Сохранённая карта фильтров
	Filters map[string]datatable.FilterSpec
	// Время последнего обновления
	UpdatedAt time.Time
	// Кто обновил фильтры (username)
	UpdatedBy string
}

// SavedFiltersRepository — интерфейс для таблицы saved_filters.
type SavedFiltersRepository interface {
	// Get возвращает сохранённые фильтры по ключу. Если не найдены — ErrNotFound.
	Get(ctx context.Context, storageKey string) (*SavedFilters, error)
	// Set создаёт или обновляет фильтры (upsert).
	Set(ctx context.Context, storageKey string, filters map[string]datatable.FilterSpec, updatedBy string) error
	// Delete удаляет фильтры по ключу.
	Delete(ctx context.Context, storageKey string) error
}

// savedFiltersRepo — реализация SavedFiltersRepository.
type savedFiltersRepo struct {
	db DBTX
}

// NewSavedFiltersRepository создаёт репозиторий сохранённых фильтров.
func NewSavedFiltersRepository(db DBTX) SavedFiltersRepository {
	return &savedFiltersRepo{db: db}
}

// Get возвращает сохранённые фильтры по ключу.
func (r *savedFiltersRepo) Get(ctx context.Context, storageKey string) (*SavedFilters, error) {
	query := `
		SELECT storage_key, filters, updated_at, updated_by
		FROM saved_filters
		WHERE storage_key = $1`

	s := &SavedFilters{}
	var raw []byte
	err := r.db.QueryRow(ctx, query, storageKey).Scan(
		&s.StorageKey, &raw, &s.UpdatedAt, &s.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения saved_filters[%s]: %w", storageKey, err)
	}

	if err := json.Unmarshal(raw, &s.Filters); err != nil {
		return nil, fmt.Errorf("разбор JSONB фильтров [%s]: %w", storageKey, err)
	}
	return s, nil
}

// Set создаёт или обновляет фильтры (INSERT ... ON CONFLICT DO UPDATE).
func (r *savedFiltersRepo) Set(ctx context.Context, storageKey string, filters map[string]datatable.FilterSpec, updatedBy string) error {
	raw, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("сериализация фильтров [%s]: %w", storageKey, err)
	}

	query := `
		INSERT INTO saved_filters (storage_key, filters, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (storage_key) DO UPDATE
		SET filters = EXCLUDED.filters,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	_, err = r.db.Exec(ctx, query, storageKey, raw, updatedBy)
	if err != nil {
		return fmt.Errorf("ошибка сохранения saved_filters[%s]: %w", storageKey, err)
	}
	return nil
}

// Delete удаляет фильтры по ключу.
func (r *savedFiltersRepo) Delete(ctx context.Context, storageKey string) error {
	query := `DELETE FROM saved_filters WHERE storage_key = $1`
	tag, err := r.db.Exec(ctx, query, storageKey)
	if err != nil {
		return fmt.Errorf("ошибка удаления saved_filters[%s]: %w", storageKey, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FilterStore адаптирует репозиторий к интерфейсу datatable.FilterStore.
// Отсутствие записи — не ошибка (пустые фильтры).
type FilterStore struct {
	repo SavedFiltersRepository
}

// NewFilterStore создаёт адаптер FilterStore над репозиторием.
func NewFilterStore(repo SavedFiltersRepository) *FilterStore {
	return &FilterStore{repo: repo}
}

// Load возвращает сохранённые фильтры по ключу; отсутствие — (nil, nil).
func (s *FilterStore) Load(ctx context.Context, storageKey string) (map[string]datatable.FilterSpec, error) {
	saved, err := s.repo.Get(ctx, storageKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return saved.Filters, nil
}

// Save сохраняет фильтры под ключом.
func (s *FilterStore) Save(ctx context.Context, storageKey string, filters map[string]datatable.FilterSpec) error {
	return s.repo.Set(ctx, storageKey, filters, "dashboard-module")
}
