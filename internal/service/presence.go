// presence.go — фоновый опрос онлайн-статусов сотрудников.
// Опрос идёт с фиксированным интервалом и чисто останавливается при
// shutdown: после Stop таймер не мутирует снимок.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/crmclient"
)

// Prometheus-метрики presence.
var (
	presencePollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_presence_polls_total",
		Help: "Количество опросов presence (по исходу).",
	}, []string{"result"})

	presenceOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dm_presence_online_users",
		Help: "Количество сотрудников со статусом online по последнему опросу.",
	})
)

// PresenceProvider — интерфейс CRM-клиента для опроса статусов.
type PresenceProvider interface {
	Presence(ctx context.Context) ([]crmclient.PresenceEntry, error)
}

// PresenceSnapshot — снимок статусов на момент последнего опроса.
type PresenceSnapshot struct {
	// Users — статусы сотрудников
	Users []crmclient.PresenceEntry `json:"users"`
	// UpdatedAt — время последнего успешного опроса
	UpdatedAt time.Time `json:"updated_at"`
	// Stale — true, если последний опрос завершился ошибкой
	Stale bool `json:"stale"`
}

// PresenceService — фоновый опросчик онлайн-статусов.
type PresenceService struct {
	crm      PresenceProvider
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot PresenceSnapshot

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPresenceService создаёт опросчик статусов.
// interval — период опроса; timeout — таймаут одного запроса.
func NewPresenceService(crm PresenceProvider, interval, timeout time.Duration, logger *slog.Logger) *PresenceService {
	return &PresenceService{
		crm:      crm,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "presence")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start запускает фоновый опрос. Первый опрос выполняется сразу.
func (s *PresenceService) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		s.poll(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.poll(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("Опрос presence запущен",
		slog.Duration("interval", s.interval),
	)
}

// Stop останавливает опрос и дожидается завершения горутины.
// После возврата снимок больше не мутируется.
func (s *PresenceService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	s.logger.Info("Опрос presence остановлен")
}

// Snapshot возвращает снимок статусов на момент последнего опроса.
func (s *PresenceService) Snapshot() PresenceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// poll выполняет один опрос и обновляет снимок.
// Ошибка опроса помечает снимок устаревшим, но не стирает данные.
func (s *PresenceService) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.crm.Presence(pollCtx)
	if err != nil {
		presencePollsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Опрос presence не удался",
			slog.String("error", err.Error()),
		)
		s.mu.Lock()
		s.snapshot.Stale = true
		s.mu.Unlock()
		return
	}

	online := 0
	for _, u := range users {
		if u.Status == "online" {
			online++
		}
	}
	presenceOnline.Set(float64(online))
	presencePollsTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.snapshot = PresenceSnapshot{
		Users:     users,
		UpdatedAt: time.Now(),
		Stale:     false,
	}
	s.mu.Unlock()
}
