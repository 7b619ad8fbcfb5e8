package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/datatable"
)

// mockRow — мок pgx.Row с функцией сканирования.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// mockDBTX — мок подключения к БД.
type mockDBTX struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFunc(ctx, sql, args...)
}

func (m *mockDBTX) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("не используется")
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFunc(ctx, sql, args...)
}

// TestSavedFiltersRepo_Get проверяет разбор JSONB-фильтров.
func TestSavedFiltersRepo_Get(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	filtersJSON, _ := json.Marshal(map[string]datatable.FilterSpec{
		"status": {Kind: datatable.FilterSelect, Text: "active"},
	})

	db := &mockDBTX{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[0] != "consultants:u1" {
				t.Errorf("storage_key = %v, ожидался consultants:u1", args[0])
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "consultants:u1"
				*dest[1].(*[]byte) = filtersJSON
				*dest[2].(*time.Time) = now
				*dest[3].(*string) = "user-1"
				return nil
			}}
		},
	}

	repo := NewSavedFiltersRepository(db)
	saved, err := repo.Get(context.Background(), "consultants:u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	spec, ok := saved.Filters["status"]
	if !ok {
		t.Fatal("фильтр status не разобран из JSONB")
	}
	if spec.Kind != datatable.FilterSelect || spec.Text != "active" {
		t.Errorf("spec = %+v, ожидался select/active", spec)
	}
	if saved.UpdatedBy != "user-1" {
		t.Errorf("UpdatedBy = %q, ожидался user-1", saved.UpdatedBy)
	}
}

// TestSavedFiltersRepo_GetNotFound проверяет маппинг pgx.ErrNoRows.
func TestSavedFiltersRepo_GetNotFound(t *testing.T) {
	db := &mockDBTX{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(_ ...any) error {
				return pgx.ErrNoRows
			}}
		},
	}

	repo := NewSavedFiltersRepository(db)
	_, err := repo.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestSavedFiltersRepo_Set проверяет сериализацию фильтров в upsert.
func TestSavedFiltersRepo_Set(t *testing.T) {
	var gotArgs []any
	db := &mockDBTX{
		execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	repo := NewSavedFiltersRepository(db)
	err := repo.Set(context.Background(), "consultants:u1",
		map[string]datatable.FilterSpec{"name": {Kind: datatable.FilterText, Text: "Иванов"}},
		"user-1",
	)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	if len(gotArgs) != 3 {
		t.Fatalf("аргументов = %d, ожидалось 3", len(gotArgs))
	}
	var decoded map[string]datatable.FilterSpec
	if err := json.Unmarshal(gotArgs[1].([]byte), &decoded); err != nil {
		t.Fatalf("разбор сериализованных фильтров: %v", err)
	}
	if decoded["name"].Text != "Иванов" {
		t.Errorf("текст фильтра = %q, ожидался Иванов", decoded["name"].Text)
	}
	if gotArgs[2] != "user-1" {
		t.Errorf("updated_by = %v, ожидался user-1", gotArgs[2])
	}
}

// TestSavedFiltersRepo_DeleteNotFound проверяет ErrNotFound
// при нулевом числе затронутых строк.
func TestSavedFiltersRepo_DeleteNotFound(t *testing.T) {
	db := &mockDBTX{
		execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
	}

	repo := NewSavedFiltersRepository(db)
	err := repo.Delete(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestFilterStore_LoadMissing проверяет, что отсутствие сохранённых
// фильтров — не ошибка для движка.
func TestFilterStore_LoadMissing(t *testing.T) {
	db := &mockDBTX{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(_ ...any) error {
				return pgx.ErrNoRows
			}}
		},
	}

	store := NewFilterStore(NewSavedFiltersRepository(db))
	filters, err := store.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load вернул ошибку при отсутствии записи: %v", err)
	}
	if filters != nil {
		t.Errorf("filters = %v, ожидался nil", filters)
	}
}
