package datatable

import (
	"sync"
	"testing"
	"time"
)

// TestDebouncer_SingleFire проверяет, что серия быстрых Trigger
// даёт ровно одно срабатывание с последним значением.
func TestDebouncer_SingleFire(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	d := NewDebouncer(100*time.Millisecond, func(v string) {
		mu.Lock()
		fired = append(fired, v)
		mu.Unlock()
	})
	defer d.Stop()

	// Три ввода с паузами меньше интервала устаканивания
	d.Trigger("a")
	time.Sleep(30 * time.Millisecond)
	d.Trigger("ab")
	time.Sleep(30 * time.Millisecond)
	d.Trigger("abc")

	// Ждём устаканивания с запасом
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("срабатываний = %d, ожидалось 1", len(fired))
	}
	if fired[0] != "abc" {
		t.Errorf("значение = %q, ожидалось %q (последний ввод)", fired[0], "abc")
	}
}

// TestDebouncer_RestartDelay проверяет, что каждый Trigger
// перезапускает задержку: до паузы срабатывания нет.
func TestDebouncer_RestartDelay(t *testing.T) {
	var mu sync.Mutex
	count := 0

	d := NewDebouncer(80*time.Millisecond, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer d.Stop()

	// Вводим чаще интервала — срабатывания быть не должно
	for i := 0; i < 5; i++ {
		d.Trigger("x")
		time.Sleep(30 * time.Millisecond)
	}

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 0 {
		t.Fatalf("срабатываний до паузы = %d, ожидалось 0", got)
	}

	// После паузы — ровно одно
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	got = count
	mu.Unlock()
	if got != 1 {
		t.Errorf("срабатываний после паузы = %d, ожидалось 1", got)
	}
}

// TestDebouncer_Stop проверяет, что после Stop fire не вызывается.
func TestDebouncer_Stop(t *testing.T) {
	var mu sync.Mutex
	count := 0

	d := NewDebouncer(50*time.Millisecond, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	d.Trigger("x")
	d.Stop()

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("срабатываний после Stop = %d, ожидалось 0", count)
	}

	// Trigger после Stop игнорируется
	d.Trigger("y")
	time.Sleep(100 * time.Millisecond)
	if count != 0 {
		t.Errorf("срабатываний после Stop+Trigger = %d, ожидалось 0", count)
	}
}
