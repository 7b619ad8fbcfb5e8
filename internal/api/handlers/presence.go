// presence.go — обработчик online-статусов сотрудников.
package handlers

import (
	"net/http"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/service"
)

// PresenceHandler — обработчик online-статусов.
type PresenceHandler struct {
	presence *service.PresenceService
}

// NewPresenceHandler создаёт обработчик online-статусов.
func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Snapshot — GET /api/v1/presence.
// Возвращает последний снимок опроса; при недоступном CRM снимок
// помечен stale, но данные сохраняются.
func (h *PresenceHandler) Snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.Snapshot())
}
