// Пакет handlers — HTTP-обработчики Dashboard Module.
// Обработчики разбирают запрос, делегируют в сервисный слой и
// сериализуют ответ; бизнес-логики здесь нет.
package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/gostaffdesk/dashboard-module/internal/api/errors"
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody разбирает JSON-тело запроса в dst.
// При ошибке пишет 400 и возвращает false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}
