package models

import "time"

// Email — одно отслеживаемое письмо. img_text хранит токен пикселя.
type Email struct {
	ID          uint64
	UserID      string
	Email       string
	Description string
	ImgText     string
	Seen        bool
	SeenAt      *time.Time
	CreatedAt   time.Time
}

type EmailCreateInput struct {
	UserID      string
	Email       string
	Description string
	ImgText     string
}

type EmailStats struct {
	Total  int64
	Seen   int64
	Unseen int64
}
