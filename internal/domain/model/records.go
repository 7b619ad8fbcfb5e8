// Пакет model — доменные модели записей табличных представлений.
// Схема повторяет ответы поисковых endpoint'ов CRM.
package model

import "time"

// Consultant — запись представления консультантов.
type Consultant struct {
	// ID — UUID консультанта
	ID string `json:"id"`
	// Name — полное имя
	Name string `json:"name"`
	// Grade — грейд (junior, middle, senior, lead)
	Grade string `json:"grade"`
	// Skills — ключевые навыки
	Skills []string `json:"skills"`
	// Status — статус (bench, assigned, vacation)
	Status string `json:"status"`
	// Rate — ставка в час
	Rate float64 `json:"rate"`
	// AvailableFrom — дата доступности
	AvailableFrom *time.Time `json:"available_from,omitempty"`
}

// Requirement — запись представления потребностей клиентов.
type Requirement struct {
	// ID — UUID потребности
	ID string `json:"id"`
	// ClientID — UUID клиента
	ClientID string `json:"client_id"`
	// ClientName — имя клиента
	ClientName string `json:"client_name"`
	// Title — название позиции
	Title string `json:"title"`
	// Status — статус (open, on_hold, closed)
	Status string `json:"status"`
	// Positions — количество позиций
	Positions int `json:"positions"`
	// CreatedAt — дата создания
	CreatedAt time.Time `json:"created_at"`
}

// Submission — запись представления откликов (консультант → потребность).
type Submission struct {
	// ID — UUID отклика
	ID string `json:"id"`
	// ConsultantID — UUID консультанта
	ConsultantID string `json:"consultant_id"`
	// ConsultantName — имя консультанта
	ConsultantName string `json:"consultant_name"`
	// RequirementID — UUID потребности
	RequirementID string `json:"requirement_id"`
	// RequirementTitle — название позиции
	RequirementTitle string `json:"requirement_title"`
	// Stage — этап (submitted, interview, offer, rejected, hired)
	Stage string `json:"stage"`
	// SubmittedAt — дата отклика
	SubmittedAt time.Time `json:"submitted_at"`
}
