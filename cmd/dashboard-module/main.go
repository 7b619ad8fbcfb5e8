// Точка входа Dashboard Module — дашборд рекрутингового контура StaffDesk.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт CRM-клиент и сервисный слой (табличные представления, документные
// сессии, presence), запускает topologymetrics, HTTP-сервер с JWT middleware
// и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/handlers"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/middleware"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/config"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/crmclient"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/database"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/preview"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/repository"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/server"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Dashboard Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("DM_DEPHEALTH_GROUP") == "" {
		logger.Warn("DM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. CRM-клиент (client_credentials, кэш токена, отдельный
	// HTTP-клиент для длительных скачиваний архивов)
	crm, err := crmclient.New(crmclient.Config{
		URL:             cfg.CRMURL,
		ClientID:        cfg.CRMClientID,
		ClientSecret:    cfg.CRMClientSecret,
		CACertPath:      cfg.CRMCACertPath,
		Timeout:         cfg.CRMTimeout,
		DownloadTimeout: cfg.CRMDownloadTimeout,
		HealthPath:      cfg.CRMHealthPath,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания CRM-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("CRM-клиент создан", slog.String("url", cfg.CRMURL))

	// 6. Repositories
	filtersRepo := repository.NewSavedFiltersRepository(pool)
	filterStore := repository.NewFilterStore(filtersRepo)

	// 7. Services
	viewsSvc := service.NewViewService(crm, filterStore, service.ViewConfig{
		DefaultPageSize:      cfg.DefaultPageSize,
		SearchDebounce:       cfg.SearchDebounce,
		FilterPersistTimeout: cfg.FilterPersistTimeout,
		SessionMaxCount:      cfg.SessionMaxCount,
		SessionTTL:           cfg.SessionTTL,
	}, logger)
	defer viewsSvc.Close()

	handleStore := preview.NewStore()
	docsSvc := service.NewDocumentService(crm, handleStore, service.DocumentConfig{
		SessionMaxCount: cfg.SessionMaxCount,
		SessionTTL:      cfg.SessionTTL,
		NamesCacheSize:  cfg.SessionMaxCount,
		NamesCacheTTL:   cfg.SessionTTL,
	}, logger)
	defer docsSvc.Close()

	presenceSvc := service.NewPresenceService(crm, cfg.PresenceInterval, cfg.CRMTimeout, logger)
	presenceSvc.Start(ctx)
	defer presenceSvc.Stop()

	// 8. Readiness checkers (PostgreSQL + CRM)
	pgChecker := database.NewReadinessChecker(pool)
	crmChecker := crmclient.NewReadinessChecker(crm)
	healthHandler := handlers.NewHealthHandler(pgChecker, crmChecker)

	// 9. JWT middleware (опционально — DM_JWKS_URL пустая отключает auth)
	access := server.AccessControl{
		Views:     server.NoopMiddleware,
		Documents: server.NoopMiddleware,
	}
	globalMiddlewares := []func(http.Handler) http.Handler{
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	}

	if cfg.JWKSURL != "" {
		jwtAuth, jwtErr := middleware.NewJWTAuth(
			cfg.JWKSURL,
			cfg.JWKSCACertPath,
			cfg.JWTIssuer,
			cfg.AdminGroups,
			cfg.RecruiterGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if jwtErr != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", jwtErr.Error()))
			os.Exit(1)
		}
		defer jwtAuth.Close()

		// Health, метрики и контент дескрипторов (токен в URL) — без JWT
		globalMiddlewares = append(globalMiddlewares, server.JWTAuthWithExclusions(
			jwtAuth.Middleware(),
			"/health/", "/metrics", "/api/v1/handles/",
		))
		dashboardRoles := []string{middleware.RoleAdmin, middleware.RoleRecruiter}
		access.Views = middleware.RequireRoleOrScope(dashboardRoles, []string{"views:read"})
		access.Documents = middleware.RequireRoleOrScope(dashboardRoles, []string{"documents:read"})
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("DM_JWKS_URL не задана, аутентификация отключена")
	}

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + CRM)
	var dephealthSvc *service.DephealthService
	if cfg.DephealthEnabled {
		dephealthSvc, err = service.NewDephealthService(
			"dashboard-module",
			cfg.DephealthGroup,
			pgDB,
			cfg.DatabaseDSN(),
			cfg.CRMURL,
			cfg.CRMHealthPath,
			cfg.DephealthCheckInterval,
			cfg.DephealthIsEntry,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Handlers{
		Health:    healthHandler,
		Views:     handlers.NewViewsHandler(viewsSvc, logger),
		Documents: handlers.NewDocumentsHandler(docsSvc, logger),
		Filters:   handlers.NewFiltersHandler(filtersRepo, logger),
		Presence:  handlers.NewPresenceHandler(presenceSvc),
	}, access, globalMiddlewares...)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Dashboard Module остановлен")
}
