// session.go — сессия просмотра документов одного клиента.
// Держит контейнер в памяти, отслеживает состояние конечного автомата
// и гарантирует парность create/release временных дескрипторов.
package preview

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/archive"
)

// Session — сессия просмотра документов.
// Потокобезопасна; все переходы состояния — под мьютексом.
type Session struct {
	store  *Store
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	arc     *archive.Archive
	current Descriptor
	// token текущего выделенного дескриптора; пустой — не выделен
	token string
}

// NewSession создаёт сессию в состоянии Idle.
func NewSession(store *Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:  store,
		logger: logger.With(slog.String("component", "preview")),
		state:  StateIdle,
	}
}

// transitionLocked выполняет переход состояния или возвращает ошибку.
func (s *Session) transitionLocked(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("недопустимый переход состояния: %s → %s", s.state, to)
	}
	s.state = to
	return nil
}

// State возвращает текущее состояние сессии.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Degraded сообщает, построен ли индекс без содержимого контейнера.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arc != nil && s.arc.Degraded()
}

// Open индексирует контейнер из блоба: Idle → Indexing → Indexed.
// Ошибка индексации возвращает сессию в Idle.
func (s *Session) Open(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(StateIndexing); err != nil {
		return err
	}

	arc, err := archive.Open(blob)
	if err != nil {
		s.state = StateIdle
		return fmt.Errorf("индексация контейнера: %w", err)
	}

	s.arc = arc
	s.state = StateIndexed
	s.logger.Debug("Контейнер проиндексирован",
		slog.Int("entries", arc.Len()),
	)
	return nil
}

// OpenDegraded строит деградированный индекс из списка имён:
// Idle → Indexing → Indexed. Доступны только download-потоки.
func (s *Session) OpenDegraded(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(StateIndexing); err != nil {
		return err
	}

	s.arc = archive.OpenFallback(names)
	s.state = StateIndexed
	s.logger.Warn("Индекс построен в деградированном режиме",
		slog.Int("entries", s.arc.Len()),
	)
	return nil
}

// Entries возвращает записи индекса.
func (s *Session) Entries() ([]archive.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.arc == nil {
		return nil, fmt.Errorf("контейнер не проиндексирован (состояние %s)", s.state)
	}
	return s.arc.Entries(), nil
}

// Filter возвращает записи индекса по glob-шаблону.
func (s *Session) Filter(pattern string) ([]archive.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.arc == nil {
		return nil, fmt.Errorf("контейнер не проиндексирован (состояние %s)", s.state)
	}
	return s.arc.Filter(pattern)
}

// Preview открывает предпросмотр одной записи. Дескриптор предыдущего
// предпросмотра освобождается ДО выделения нового. Ошибка извлечения
// изолирована: возвращается описатель-ошибка, индекс остаётся валиден.
func (s *Session) Preview(name string) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIndexed && s.state != StatePreviewing {
		return Descriptor{}, fmt.Errorf("предпросмотр недоступен в состоянии %s", s.state)
	}

	entry, ok := s.arc.Lookup(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("запись %q не найдена в контейнере", name)
	}

	// Сначала освобождаем предыдущий дескриптор
	s.releaseCurrentLocked()

	data, err := s.arc.Extract(name)
	if err != nil {
		s.logger.Warn("Извлечение записи не удалось",
			slog.String("entry", name),
			slog.String("error", err.Error()),
		)
		s.current = errorDescriptor(name, entry.Kind, err)
		s.state = StatePreviewing
		return s.current, nil
	}

	s.current = buildDescriptor(s.store, name, entry.Kind, data)
	s.token = s.current.HandleToken
	s.state = StatePreviewing

	s.logger.Debug("Предпросмотр открыт",
		slog.String("entry", name),
		slog.String("kind", string(entry.Kind)),
		slog.String("mode", s.current.Mode),
	)
	return s.current, nil
}

// ClosePreview закрывает предпросмотр: Previewing → Indexed.
func (s *Session) ClosePreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePreviewing {
		return fmt.Errorf("предпросмотр не открыт (состояние %s)", s.state)
	}

	s.releaseCurrentLocked()
	s.state = StateIndexed
	return nil
}

// DownloadOne извлекает одну запись из удерживаемого контейнера,
// даже если она ни разу не просматривалась. Возвращает байты и MIME.
func (s *Session) DownloadOne(name string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.arc == nil {
		return nil, "", fmt.Errorf("контейнер не проиндексирован (состояние %s)", s.state)
	}

	data, err := s.arc.Extract(name)
	if err != nil {
		return nil, "", err
	}
	return data, archive.MIMEFromName(name), nil
}

// Close освобождает контейнер и все дескрипторы сессии.
// Допустим из любого состояния, идемпотентен.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	s.releaseCurrentLocked()
	s.arc = nil
	s.state = StateClosed
}

// releaseCurrentLocked освобождает дескриптор текущего предпросмотра.
func (s *Session) releaseCurrentLocked() {
	if s.token != "" {
		s.store.Release(s.token)
		s.token = ""
	}
	s.current = Descriptor{}
}
