// filters.go — обработчики сохранённых фильтров.
// Прямой CRUD-доступ к персистентности фильтров; табличные сессии
// используют её неявно через ключ хранения.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/errors"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/middleware"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/datatable"
	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/repository"
)

// FiltersHandler — обработчик сохранённых фильтров.
type FiltersHandler struct {
	repo   repository.SavedFiltersRepository
	logger *slog.Logger
}

// NewFiltersHandler создаёт обработчик сохранённых фильтров.
func NewFiltersHandler(repo repository.SavedFiltersRepository, logger *slog.Logger) *FiltersHandler {
	return &FiltersHandler{
		repo:   repo,
		logger: logger.With(slog.String("component", "filters_handler")),
	}
}

// savedFiltersResponse — ответ GET /api/v1/filters/{storageKey}.
type savedFiltersResponse struct {
	StorageKey string                          `json:"storage_key"`
	Filters    map[string]datatable.FilterSpec `json:"filters"`
	UpdatedAt  time.Time                       `json:"updated_at"`
	UpdatedBy  string                          `json:"updated_by,omitempty"`
}

// Get — GET /api/v1/filters/{storageKey}.
func (h *FiltersHandler) Get(w http.ResponseWriter, r *http.Request) {
	storageKey := chi.URLParam(r, "storageKey")

	saved, err := h.repo.Get(r.Context(), storageKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Сохранённые фильтры не найдены")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, savedFiltersResponse{
		StorageKey: saved.StorageKey,
		Filters:    saved.Filters,
		UpdatedAt:  saved.UpdatedAt,
		UpdatedBy:  saved.UpdatedBy,
	})
}

// putFiltersRequest — тело PUT /api/v1/filters/{storageKey}.
type putFiltersRequest struct {
	Filters map[string]datatable.FilterSpec `json:"filters"`
}

// Put — PUT /api/v1/filters/{storageKey}. Upsert.
func (h *FiltersHandler) Put(w http.ResponseWriter, r *http.Request) {
	storageKey := chi.URLParam(r, "storageKey")

	var req putFiltersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Filters == nil {
		apierrors.ValidationError(w, "Требуется поле filters")
		return
	}

	updatedBy := middleware.SubjectFromContext(r.Context())
	if updatedBy == "" {
		updatedBy = "dashboard-module"
	}

	if err := h.repo.Set(r.Context(), storageKey, req.Filters, updatedBy); err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete — DELETE /api/v1/filters/{storageKey}.
func (h *FiltersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	storageKey := chi.URLParam(r, "storageKey")

	if err := h.repo.Delete(r.Context(), storageKey); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Сохранённые фильтры не найдены")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
