// Пакет server — HTTP-сервер Dashboard Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/handlers"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/config"
)

// Handlers — набор HTTP-обработчиков, монтируемых на роутер.
type Handlers struct {
	Health    *handlers.HealthHandler
	Views     *handlers.ViewsHandler
	Documents *handlers.DocumentsHandler
	Filters   *handlers.FiltersHandler
	Presence  *handlers.PresenceHandler
}

// Server — HTTP-сервер Dashboard Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// AccessControl — RBAC middleware по областям API.
// NoopMiddleware в обоих полях отключает авторизацию.
type AccessControl struct {
	// Views — представления, сохранённые фильтры, presence
	Views func(http.Handler) http.Handler
	// Documents — документные сессии и скачивания
	Documents func(http.Handler) http.Handler
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// middlewares — глобальные middleware (logging, metrics, JWT),
// добавляются в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, access AccessControl, middlewares ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()

	for _, mw := range middlewares {
		router.Use(mw)
	}

	// Health и метрики (исключены из JWT через JWTAuthWithExclusions)
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Табличные представления
		r.Route("/views", func(r chi.Router) {
			r.Use(access.Views)
			r.Post("/{view}", h.Views.CreateSession)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", h.Views.Snapshot)
				r.Delete("/", h.Views.CloseSession)
				r.Post("/search", h.Views.Search)
				r.Post("/page", h.Views.SetPage)
				r.Post("/filters", h.Views.SetFilters)
				r.Post("/refresh", h.Views.Refresh)
			})
		})

		// Документы клиентов
		r.Route("/documents", func(r chi.Router) {
			r.Use(access.Documents)
			r.Post("/{clientID}", h.Documents.OpenSession)
			r.Get("/{clientID}/download-all", h.Documents.DownloadAll)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Delete("/", h.Documents.CloseSession)
				r.Get("/entries", h.Documents.Entries)
				r.Post("/preview", h.Documents.Preview)
				r.Delete("/preview", h.Documents.ClosePreview)
				r.Get("/entries/{name}/download", h.Documents.DownloadOne)
			})
		})

		// Временные дескрипторы предпросмотра (токен — единственный секрет,
		// контент отдаётся в iframe/img без Authorization-заголовка)
		r.Get("/handles/{token}", h.Documents.Handle)

		// Сохранённые фильтры
		r.Route("/filters", func(r chi.Router) {
			r.Use(access.Views)
			r.Get("/{storageKey}", h.Filters.Get)
			r.Put("/{storageKey}", h.Filters.Put)
			r.Delete("/{storageKey}", h.Filters.Delete)
		})

		// Online-статусы сотрудников
		r.With(access.Views).Get("/presence", h.Presence.Snapshot)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NoopMiddleware пропускает все запросы без проверок.
// Используется вместо RBAC middleware при отключённом auth.
func NoopMiddleware(next http.Handler) http.Handler {
	return next
}

// JWTAuthWithExclusions оборачивает middleware, пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без middleware.
func JWTAuthWithExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			mw(next).ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
