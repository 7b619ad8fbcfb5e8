// debounce.go — примитив отложенного устаканивания значения.
// Каждый Trigger перезапускает таймер; fire вызывается один раз
// с последним значением, когда ввод прекратился на interval.
package datatable

import (
	"sync"
	"time"
)

// Debouncer откладывает применение значения до паузы во вводе.
// Потокобезопасен. fire вызывается из таймер-горутины.
type Debouncer[T any] struct {
	mu       sync.Mutex
	interval time.Duration
	fire     func(T)
	timer    *time.Timer
	stopped  bool
}

// NewDebouncer создаёт debouncer с указанным интервалом устаканивания.
func NewDebouncer[T any](interval time.Duration, fire func(T)) *Debouncer[T] {
	return &Debouncer[T]{
		interval: interval,
		fire:     fire,
	}
}

// Trigger регистрирует новое значение и перезапускает таймер.
// Предыдущее незажжённое значение отбрасывается.
func (d *Debouncer[T]) Trigger(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fire(value)
		}
	})
}

// Stop запрещает дальнейшие Trigger и отменяет отложенное срабатывание,
// если таймер ещё не сработал. Таймер-горутина, уже прошедшая проверку
// stopped, может вызвать fire один раз после возврата из Stop —
// получатель обязан сам отбрасывать поздний вызов (fire не держит mu,
// иначе возможен deadlock с получателем, вызывающим Stop под своим
// мьютексом).
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
