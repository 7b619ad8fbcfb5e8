// Пакет preview — сессия просмотра документов клиента: конечный
// автомат состояний, временные дескрипторы содержимого (handle) и
// построение описателя отрисовки по категории документа.
package preview

import "fmt"

// State — состояние сессии просмотра.
type State int

const (
	// StateIdle — сессия создана, контейнер не загружен.
	StateIdle State = iota
	// StateIndexing — идёт индексация контейнера.
	StateIndexing
	// StateIndexed — индекс готов, предпросмотр не открыт.
	StateIndexed
	// StatePreviewing — открыт предпросмотр одной записи.
	StatePreviewing
	// StateClosed — сессия закрыта, ресурсы освобождены.
	StateClosed
)

// String возвращает имя состояния для логов и ошибок.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIndexing:
		return "indexing"
	case StateIndexed:
		return "indexed"
	case StatePreviewing:
		return "previewing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// validTransitions — допустимые переходы конечного автомата.
// Close допустим из любого состояния и в таблице не перечисляется.
var validTransitions = map[State][]State{
	StateIdle:       {StateIndexing},
	StateIndexing:   {StateIndexed},
	StateIndexed:    {StatePreviewing},
	StatePreviewing: {StateIndexed},
	StateClosed:     {},
}

// canTransition проверяет допустимость перехода from → to.
func canTransition(from, to State) bool {
	if to == StateClosed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
