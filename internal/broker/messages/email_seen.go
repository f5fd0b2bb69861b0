package messages

import "time"

// EmailSeen публикуется pixel-сервисом после подтверждённого открытия и
// доезжает до dashboard-API, который раздаёт его подписчикам.
// Поля повторяют payload живой подписки: id, seen, seen_at.
type EmailSeen struct {
	EmailID uint64    `json:"email_id"`
	UserID  string    `json:"user_id"`
	Seen    bool      `json:"seen"`
	SeenAt  time.Time `json:"seen_at"`

	Token string `json:"token,omitempty"`
}
