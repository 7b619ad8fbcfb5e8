// documents.go — сессии просмотра документов клиентов.
// Открытие сессии скачивает контейнер и список имён параллельно:
// контейнер даёт полный индекс, список имён — fallback для
// деградированного режима и пополнение кэша известных имён.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/archive"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/crmclient"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/preview"
)

// Prometheus-метрики документных сессий.
var (
	docSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dm_document_sessions_active",
		Help: "Количество живых сессий просмотра документов.",
	})

	docSessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_document_sessions_created_total",
		Help: "Количество созданных документных сессий (по режиму индекса).",
	}, []string{"mode"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_downloads_total",
		Help: "Количество скачиваний документов (по типу).",
	}, []string{"type"})

	namesCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_names_cache_hits_total",
		Help: "Попадания в кэш известных имён документов.",
	})

	namesCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_names_cache_misses_total",
		Help: "Промахи кэша известных имён документов.",
	})
)

// DocumentFetcher — интерфейс CRM-клиента для документных потоков.
type DocumentFetcher interface {
	DownloadArchive(ctx context.Context, clientID string) ([]byte, error)
	StreamArchive(ctx context.Context, clientID string) (*http.Response, error)
	ListDocumentNames(ctx context.Context, clientID string) ([]string, error)
	GetClient(ctx context.Context, clientID string) (*crmclient.ClientInfo, error)
}

// DocumentConfig — параметры документных сессий.
type DocumentConfig struct {
	// SessionMaxCount — максимум живых сессий в LRU
	SessionMaxCount int
	// SessionTTL — время жизни сессии без обращений
	SessionTTL time.Duration
	// NamesCacheSize, NamesCacheTTL — кэш известных имён документов
	NamesCacheSize int
	NamesCacheTTL  time.Duration
}

// DocumentService — сервис сессий просмотра документов.
type DocumentService struct {
	crm    DocumentFetcher
	store  *preview.Store
	cfg    DocumentConfig
	logger *slog.Logger

	sessions *expirable.LRU[string, *preview.Session]
	// namesCache — последние известные имена документов по clientID,
	// fallback для деградированного индекса при недоступном CRM
	namesCache *expirable.LRU[string, []string]
}

// NewDocumentService создаёт сервис документных сессий.
func NewDocumentService(crm DocumentFetcher, store *preview.Store, cfg DocumentConfig, logger *slog.Logger) *DocumentService {
	s := &DocumentService{
		crm:    crm,
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "document_service")),
	}

	s.sessions = expirable.NewLRU(cfg.SessionMaxCount,
		func(sessionID string, sess *preview.Session) {
			sess.Close()
			docSessionsActive.Dec()
			s.logger.Debug("Документная сессия вытеснена",
				slog.String("session_id", sessionID),
			)
		}, cfg.SessionTTL)

	s.namesCache = expirable.NewLRU[string, []string](cfg.NamesCacheSize, nil, cfg.NamesCacheTTL)

	return s
}

// OpenSession открывает сессию просмотра документов клиента.
// Контейнер и список имён запрашиваются параллельно; при недоступном
// контейнере сессия деградирует к индексу из списка имён (из CRM или
// из кэша известных имён).
func (s *DocumentService) OpenSession(ctx context.Context, clientID string) (string, *preview.Session, error) {
	var (
		blob     []byte
		blobErr  error
		names    []string
		namesErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		blob, blobErr = s.crm.DownloadArchive(gctx, clientID)
		return nil
	})
	g.Go(func() error {
		names, namesErr = s.crm.ListDocumentNames(gctx, clientID)
		return nil
	})
	_ = g.Wait() // ошибки собраны в blobErr/namesErr

	sess := preview.NewSession(s.store, s.logger)
	mode := "full"

	switch {
	case blobErr == nil:
		if err := sess.Open(blob); err != nil {
			return "", nil, fmt.Errorf("индексация контейнера клиента %s: %w", clientID, err)
		}
	default:
		s.logger.Warn("Контейнер недоступен, переход в деградированный режим",
			slog.String("client_id", clientID),
			slog.String("error", blobErr.Error()),
		)
		fallback := names
		if namesErr != nil {
			cached, ok := s.namesCache.Get(clientID)
			if !ok {
				namesCacheMisses.Inc()
				return "", nil, fmt.Errorf("контейнер и список документов клиента %s недоступны: %w", clientID, blobErr)
			}
			namesCacheHits.Inc()
			fallback = cached
		}
		if err := sess.OpenDegraded(fallback); err != nil {
			return "", nil, fmt.Errorf("построение деградированного индекса клиента %s: %w", clientID, err)
		}
		mode = "degraded"
	}

	// Пополняем кэш известных имён для будущих деградаций
	if namesErr == nil && len(names) > 0 {
		s.namesCache.Add(clientID, names)
	} else if entries, err := sess.Entries(); err == nil && len(entries) > 0 && !sess.Degraded() {
		fromIndex := make([]string, 0, len(entries))
		for _, e := range entries {
			fromIndex = append(fromIndex, e.Name)
		}
		s.namesCache.Add(clientID, fromIndex)
	}

	sessionID := uuid.NewString()
	s.sessions.Add(sessionID, sess)
	docSessionsActive.Inc()
	docSessionsCreated.WithLabelValues(mode).Inc()

	s.logger.Info("Документная сессия открыта",
		slog.String("session_id", sessionID),
		slog.String("client_id", clientID),
		slog.String("mode", mode),
	)
	return sessionID, sess, nil
}

// get возвращает сессию или ошибку.
func (s *DocumentService) get(sessionID string) (*preview.Session, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("документная сессия %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess, nil
}

// Entries возвращает записи индекса; непустой pattern фильтрует их
// glob-шаблоном по базовому имени.
func (s *DocumentService) Entries(sessionID, pattern string) ([]archive.Entry, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	if pattern != "" {
		return sess.Filter(pattern)
	}
	return sess.Entries()
}

// Preview открывает предпросмотр записи.
func (s *DocumentService) Preview(sessionID, name string) (preview.Descriptor, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return preview.Descriptor{}, err
	}
	return sess.Preview(name)
}

// ClosePreview закрывает открытый предпросмотр.
func (s *DocumentService) ClosePreview(sessionID string) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}
	return sess.ClosePreview()
}

// DownloadOne извлекает одну запись из удерживаемого контейнера.
func (s *DocumentService) DownloadOne(sessionID, name string) ([]byte, string, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, "", err
	}

	data, mime, err := sess.DownloadOne(name)
	if err != nil {
		return nil, "", err
	}
	downloadsTotal.WithLabelValues("one").Inc()
	return data, mime, nil
}

// DownloadAll выполняет streaming-загрузку контейнера для проксирования.
// Возвращает ответ CRM (вызывающий код закрывает Body) и имя файла,
// построенное из человекочитаемого имени клиента.
func (s *DocumentService) DownloadAll(ctx context.Context, clientID string) (*http.Response, string, error) {
	filename := clientID + "-documents.zip"
	if info, err := s.crm.GetClient(ctx, clientID); err == nil && info.Name != "" {
		filename = info.Name + "-documents.zip"
	} else if err != nil {
		// Имя клиента — best-effort, скачивание важнее
		s.logger.Warn("Карточка клиента недоступна, имя файла по ID",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}

	resp, err := s.crm.StreamArchive(ctx, clientID)
	if err != nil {
		return nil, "", fmt.Errorf("скачивание контейнера клиента %s: %w", clientID, err)
	}

	downloadsTotal.WithLabelValues("all").Inc()
	return resp, filename, nil
}

// Handle возвращает временный дескриптор по токену.
func (s *DocumentService) Handle(token string) (preview.Handle, bool) {
	return s.store.Get(token)
}

// CloseSession закрывает документную сессию.
func (s *DocumentService) CloseSession(sessionID string) error {
	if _, ok := s.sessions.Peek(sessionID); !ok {
		return fmt.Errorf("документная сессия %s: %w", sessionID, ErrSessionNotFound)
	}
	// Remove вызывает onEvict, который закрывает сессию
	s.sessions.Remove(sessionID)
	return nil
}

// Close закрывает все сессии (graceful shutdown).
func (s *DocumentService) Close() {
	s.sessions.Purge()
}
