package pgemail

import (
	"context"
	"time"

	"github.com/BearBump/MailBeacon/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	ErrNotFound       = errors.New("email not found")
	ErrAmbiguousToken = errors.New("token matches more than one email")
)

const emailColumns = `id, user_id, email, description, img_text, seen, seen_at, created_at`

func (s *Storage) CreateEmail(ctx context.Context, in models.EmailCreateInput) (*models.Email, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO emails (user_id, email, description, img_text, seen, seen_at, created_at)
VALUES ($1,$2,$3,$4,FALSE,NULL,$5)
RETURNING id
`, in.UserID, in.Email, in.Description, in.ImgText, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert email")
	}

	return s.GetEmailByID(ctx, id)
}

func (s *Storage) GetEmailByID(ctx context.Context, id uint64) (*models.Email, error) {
	row := s.db.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	e, err := scanEmail(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select email by id")
	}
	return e, nil
}

// GetEmailByToken ищет письмо по токену пикселя. Дубликат токена считаем
// ошибкой данных, а не "берём первый": на нём держится корректность confirm.
func (s *Storage) GetEmailByToken(ctx context.Context, token string) (*models.Email, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+emailColumns+`
FROM emails
WHERE img_text = $1
LIMIT 2
`, token)
	if err != nil {
		return nil, errors.Wrap(err, "select email by token")
	}
	defer rows.Close()

	var out []*models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan email")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	switch len(out) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return out[0], nil
	default:
		return nil, ErrAmbiguousToken
	}
}

// MarkSeen проставляет seen/seen_at. При onlyUnseen апдейт срабатывает только
// на ещё не открытом письме (режим "фиксируем первое открытие").
func (s *Storage) MarkSeen(ctx context.Context, id uint64, seenAt time.Time, onlyUnseen bool) (int64, error) {
	q := `UPDATE emails SET seen = TRUE, seen_at = $2 WHERE id = $1`
	if onlyUnseen {
		q += ` AND seen = FALSE`
	}

	tag, err := s.db.Exec(ctx, q, id, seenAt.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "mark seen")
	}
	return tag.RowsAffected(), nil
}

func (s *Storage) ListEmailsByUser(ctx context.Context, userID string) ([]*models.Email, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+emailColumns+`
FROM emails
WHERE user_id = $1
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select emails")
	}
	defer rows.Close()

	var out []*models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan email")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) DeleteEmail(ctx context.Context, id uint64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return 0, errors.Wrap(err, "delete email")
	}
	return tag.RowsAffected(), nil
}

func (s *Storage) CountEmailsByUser(ctx context.Context, userID string) (models.EmailStats, error) {
	var st models.EmailStats
	err := s.db.QueryRow(ctx, `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE seen),
  COUNT(*) FILTER (WHERE NOT seen)
FROM emails
WHERE user_id = $1
`, userID).Scan(&st.Total, &st.Seen, &st.Unseen)
	if err != nil {
		return models.EmailStats{}, errors.Wrap(err, "count emails")
	}
	return st, nil
}

func (s *Storage) ListRecentlySeen(ctx context.Context, userID string, limit int) ([]*models.Email, error) {
	if limit <= 0 || limit > 100 {
		limit = 5
	}

	rows, err := s.db.Query(ctx, `
SELECT `+emailColumns+`
FROM emails
WHERE user_id = $1 AND seen
ORDER BY seen_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select recently seen")
	}
	defer rows.Close()

	var out []*models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan email")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanEmail(row pgx.Row) (*models.Email, error) {
	var e models.Email
	var seenAt *time.Time
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Email, &e.Description, &e.ImgText,
		&e.Seen, &seenAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.SeenAt = seenAt
	return &e, nil
}
