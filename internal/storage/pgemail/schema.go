package pgemail

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS emails (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL,
  email TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  img_text TEXT NOT NULL,
  seen BOOLEAN NOT NULL DEFAULT FALSE,
  seen_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_user_id_created_at ON emails(user_id, created_at DESC)`,
		// Токен ищется на каждый фетч пикселя; уникальность намеренно не
		// навешиваем, дубликат — ошибка уровня выборки (см. GetEmailByToken).
		`CREATE INDEX IF NOT EXISTS idx_emails_img_text ON emails(img_text)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_user_id_seen ON emails(user_id, seen)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
