// views.go — обработчики сессий табличных представлений.
// Жизненный цикл: POST /views/{view} создаёт сессию, события
// (search/page/filters/refresh) мутируют её, GET снимает состояние,
// DELETE закрывает.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/errors"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/datatable"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/service"
)

// ViewsHandler — обработчик табличных представлений.
type ViewsHandler struct {
	views  *service.ViewService
	logger *slog.Logger
}

// NewViewsHandler создаёт обработчик представлений.
func NewViewsHandler(views *service.ViewService, logger *slog.Logger) *ViewsHandler {
	return &ViewsHandler{
		views:  views,
		logger: logger.With(slog.String("component", "views_handler")),
	}
}

// createSessionRequest — тело POST /api/v1/views/{view}.
type createSessionRequest struct {
	// StorageKey — ключ персистентности фильтров (опционален)
	StorageKey string `json:"storage_key,omitempty"`
}

// CreateSession — POST /api/v1/views/{view}.
// Создаёт сессию представления и возвращает её первый снимок.
func (h *ViewsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	view := chi.URLParam(r, "view")

	var req createSessionRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	sessionID, err := h.views.CreateSession(r.Context(), view, req.StorageKey)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	state, err := h.views.Snapshot(sessionID)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// searchRequest — тело POST .../search.
type searchRequest struct {
	// Term — сырой поисковый ввод
	Term string `json:"term"`
}

// Search — POST /api/v1/views/sessions/{sessionID}/search.
// Передаёт сырой поисковый ввод; эффективный запрос устаканивается
// на сервере (debounce).
func (h *ViewsHandler) Search(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.views.Search(sessionID, req.Term); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// pageRequest — тело POST .../page.
type pageRequest struct {
	// Page — номер страницы (nil — не менять)
	Page *int `json:"page,omitempty"`
	// PageSize — размер страницы (nil — не менять)
	PageSize *int `json:"page_size,omitempty"`
}

// SetPage — POST /api/v1/views/sessions/{sessionID}/page.
func (h *ViewsHandler) SetPage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req pageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Page == nil && req.PageSize == nil {
		apierrors.ValidationError(w, "Требуется page и/или page_size")
		return
	}

	if err := h.views.SetPage(sessionID, req.Page, req.PageSize); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// filtersRequest — тело POST .../filters.
type filtersRequest struct {
	// Filters — полная замена карты фильтров
	Filters map[string]datatable.FilterSpec `json:"filters"`
}

// SetFilters — POST /api/v1/views/sessions/{sessionID}/filters.
func (h *ViewsHandler) SetFilters(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req filtersRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.views.SetFilters(sessionID, req.Filters); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Refresh — POST /api/v1/views/sessions/{sessionID}/refresh.
func (h *ViewsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.views.Refresh(sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Snapshot — GET /api/v1/views/sessions/{sessionID}.
func (h *ViewsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.views.Snapshot(sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// CloseSession — DELETE /api/v1/views/sessions/{sessionID}.
func (h *ViewsHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.views.CloseSession(sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError маппит ошибки сервисного слоя на HTTP-ответы.
func (h *ViewsHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrSessionNotFound) {
		apierrors.NotFound(w, err.Error())
		return
	}
	apierrors.ValidationError(w, err.Error())
}
