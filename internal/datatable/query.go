// Пакет datatable — движок удалённой пагинированной таблицы.
// Управляет состоянием запроса (страница, поиск, фильтры), debounce
// поискового ввода и упорядочиванием асинхронных fetch-ответов:
// применяется только результат последнего выданного запроса.
package datatable

import (
	"fmt"
	"time"
)

// FilterKind — вид фильтра колонки.
type FilterKind string

const (
	// FilterText — подстрочный текстовый фильтр.
	FilterText FilterKind = "text"
	// FilterSelect — выбор из фиксированного набора значений.
	FilterSelect FilterKind = "select"
	// FilterNumber — числовой фильтр.
	FilterNumber FilterKind = "number"
	// FilterDateRange — диапазон дат (from/to, обе границы опциональны).
	FilterDateRange FilterKind = "dateRange"
)

// FilterSpec — значение фильтра одной колонки (tagged union по Kind).
// Для text/select заполняется Text, для number — Number,
// для dateRange — From/To (nil = граница не задана).
type FilterSpec struct {
	Kind   FilterKind `json:"kind"`
	Text   string     `json:"text,omitempty"`
	Number *float64   `json:"number,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

// Validate проверяет согласованность значения с видом фильтра.
func (f FilterSpec) Validate() error {
	switch f.Kind {
	case FilterText, FilterSelect:
		if f.Number != nil || f.From != nil || f.To != nil {
			return fmt.Errorf("фильтр %s: допустимо только текстовое значение", f.Kind)
		}
	case FilterNumber:
		if f.Number == nil {
			return fmt.Errorf("фильтр number: значение не задано")
		}
	case FilterDateRange:
		if f.From == nil && f.To == nil {
			return fmt.Errorf("фильтр dateRange: обе границы пусты")
		}
		if f.From != nil && f.To != nil && f.From.After(*f.To) {
			return fmt.Errorf("фильтр dateRange: from не может быть позже to")
		}
	default:
		return fmt.Errorf("неизвестный вид фильтра: %q", f.Kind)
	}
	return nil
}

// Column — дескриптор колонки таблицы, задаётся вызывающим кодом.
// Движок использует только Key и Filter для валидации фильтров,
// сами строки остаются непрозрачными записями.
type Column struct {
	// Key — ключ поля в записи
	Key string
	// Filter — вид фильтра колонки (пустая строка — колонка не фильтруется)
	Filter FilterKind
}

// Query — состояние запроса таблицы.
type Query struct {
	// Page — номер страницы, начиная с 0
	Page int
	// PageSize — размер страницы (> 0)
	PageSize int
	// SearchTerm — устоявшийся (после debounce) поисковый запрос
	SearchTerm string
	// Filters — фильтры по колонкам
	Filters map[string]FilterSpec
}

// Clone возвращает глубокую копию состояния запроса.
// Используется при диспетчеризации fetch, чтобы последующие
// мутации состояния не были видны выполняющемуся запросу.
func (q Query) Clone() Query {
	cp := q
	if q.Filters != nil {
		cp.Filters = make(map[string]FilterSpec, len(q.Filters))
		for k, v := range q.Filters {
			cp.Filters[k] = v
		}
	}
	return cp
}

// ValidateFilters проверяет фильтры против дескрипторов колонок:
// ключ должен существовать, вид — совпадать с объявленным.
func ValidateFilters(columns []Column, filters map[string]FilterSpec) error {
	byKey := make(map[string]FilterKind, len(columns))
	for _, c := range columns {
		byKey[c.Key] = c.Filter
	}

	for key, spec := range filters {
		kind, ok := byKey[key]
		if !ok {
			return fmt.Errorf("неизвестная колонка фильтра: %q", key)
		}
		if kind == "" {
			return fmt.Errorf("колонка %q не фильтруется", key)
		}
		if spec.Kind != kind {
			return fmt.Errorf("колонка %q: вид фильтра %q, ожидался %q", key, spec.Kind, kind)
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("колонка %q: %w", key, err)
		}
	}
	return nil
}

// Result — страница результатов одного fetch.
type Result[R any] struct {
	// Rows — записи текущей страницы (len <= PageSize)
	Rows []R
	// Total — общее количество записей по текущему запросу
	Total int
}
