// documents.go — обработчики сессий просмотра документов.
// Сессия удерживает проиндексированный контейнер документов клиента;
// скачивание всего контейнера проксируется потоково из CRM.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/errors"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/service"
)

// DocumentsHandler — обработчик документных сессий.
type DocumentsHandler struct {
	docs   *service.DocumentService
	logger *slog.Logger
}

// NewDocumentsHandler создаёт обработчик документов.
func NewDocumentsHandler(docs *service.DocumentService, logger *slog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		docs:   docs,
		logger: logger.With(slog.String("component", "documents_handler")),
	}
}

// openSessionResponse — ответ POST /api/v1/documents/{clientID}.
type openSessionResponse struct {
	SessionID string `json:"session_id"`
	Degraded  bool   `json:"degraded"`
	Entries   any    `json:"entries"`
}

// OpenSession — POST /api/v1/documents/{clientID}.
// Скачивает и индексирует контейнер документов клиента; опциональный
// query-параметр filter применяет glob-шаблон к начальному списку.
func (h *DocumentsHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	pattern := r.URL.Query().Get("filter")

	sessionID, sess, err := h.docs.OpenSession(r.Context(), clientID)
	if err != nil {
		apierrors.CRMUnavailable(w, err.Error())
		return
	}

	entries, err := h.docs.Entries(sessionID, pattern)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, openSessionResponse{
		SessionID: sessionID,
		Degraded:  sess.Degraded(),
		Entries:   entries,
	})
}

// Entries — GET /api/v1/documents/sessions/{sessionID}/entries.
// Опциональный query-параметр filter — glob-шаблон по базовому имени.
func (h *DocumentsHandler) Entries(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	pattern := r.URL.Query().Get("filter")

	entries, err := h.docs.Entries(sessionID, pattern)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// previewRequest — тело POST .../preview.
type previewRequest struct {
	// Name — имя записи внутри контейнера
	Name string `json:"name"`
}

// Preview — POST /api/v1/documents/sessions/{sessionID}/preview.
// Открывает предпросмотр записи; предыдущий предпросмотр сессии
// закрывается автоматически.
func (h *DocumentsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		apierrors.ValidationError(w, "Требуется имя записи")
		return
	}

	desc, err := h.docs.Preview(sessionID, req.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// ClosePreview — DELETE /api/v1/documents/sessions/{sessionID}/preview.
func (h *DocumentsHandler) ClosePreview(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.docs.ClosePreview(sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadOne — GET /api/v1/documents/sessions/{sessionID}/entries/{name}/download.
// Извлекает одну запись из удерживаемого контейнера без обращения к CRM.
func (h *DocumentsHandler) DownloadOne(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректное имя записи")
		return
	}

	data, mime, err := h.docs.DownloadOne(sessionID, name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DownloadAll — GET /api/v1/documents/{clientID}/download-all.
// Потоковое проксирование контейнера из CRM без буферизации в памяти.
func (h *DocumentsHandler) DownloadAll(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	resp, filename, err := h.docs.DownloadAll(r.Context(), clientID)
	if err != nil {
		apierrors.CRMUnavailable(w, err.Error())
		return
	}
	defer resp.Body.Close()

	// CRM может ответить ошибкой уже после установления соединения —
	// такое тело не является контейнером и не отдаётся как вложение
	if resp.StatusCode == http.StatusNotFound {
		apierrors.NotFound(w, "Документы клиента не найдены")
		return
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		h.logger.Error("CRM вернула ошибку при скачивании контейнера",
			slog.String("client_id", clientID),
			slog.Int("upstream_status", resp.StatusCode),
		)
		apierrors.CRMUnavailable(w, fmt.Sprintf("CRM вернула статус %d", resp.StatusCode))
		return
	}

	copyHeaders(w, resp)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		// Заголовки уже отправлены — только логируем
		h.logger.Error("Ошибка streaming-проксирования контейнера",
			slog.String("client_id", clientID),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
	}
}

// CloseSession — DELETE /api/v1/documents/sessions/{sessionID}.
func (h *DocumentsHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.docs.CloseSession(sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Handle — GET /api/v1/handles/{token}.
// Отдаёт содержимое временного дескриптора предпросмотра.
func (h *DocumentsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	handle, ok := h.docs.Handle(token)
	if !ok {
		apierrors.NotFound(w, "Дескриптор не найден или освобождён")
		return
	}

	w.Header().Set("Content-Type", handle.MIME)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(handle.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", handle.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(handle.Data)
}

// copyHeaders пробрасывает заголовки ответа CRM клиенту.
func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	headersToProxy := []string{
		"Content-Type",
		"Content-Length",
		"ETag",
		"Last-Modified",
	}
	for _, header := range headersToProxy {
		if value := resp.Header.Get(header); value != "" {
			w.Header().Set(header, value)
		}
	}
}

// writeServiceError маппит ошибки сервисного слоя на HTTP-ответы.
func (h *DocumentsHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrSessionNotFound) {
		apierrors.NotFound(w, err.Error())
		return
	}
	apierrors.ValidationError(w, err.Error())
}
