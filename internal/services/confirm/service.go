package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/MailBeacon/internal/broker/messages"
	"github.com/BearBump/MailBeacon/internal/models"
	"github.com/pkg/errors"
)

// Ошибки ядра подтверждения. NotFound и AmbiguousToken приходят из репозитория
// (pgemail), эти два — наши: "апдейт не зацепил строк" и "перечитка не
// подтвердила запись". Наружу они схлопываются в один 500, различаются логом.
var (
	ErrUpdateFailed       = errors.New("update affected no rows")
	ErrVerificationFailed = errors.New("update verification failed")
)

type Repository interface {
	GetEmailByToken(ctx context.Context, token string) (*models.Email, error)
	MarkSeen(ctx context.Context, id uint64, seenAt time.Time, onlyUnseen bool) (int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo     Repository
	producer Producer
	rl       RateLimiter
	topic    string

	// firstOpenOnly: seen_at фиксируется один раз, повторные фетчи пикселя —
	// no-op. По умолчанию выключено: каждое открытие сдвигает seen_at, как
	// вела себя исходная версия продукта.
	firstOpenOnly bool

	publishPerMinute int64

	now func() time.Time
}

func New(repo Repository, producer Producer, topic string) *Service {
	return &Service{
		repo:             repo,
		producer:         producer,
		topic:            topic,
		publishPerMinute: 30,
		now:              time.Now,
	}
}

func (s *Service) WithFirstOpenOnly(on bool) *Service {
	s.firstOpenOnly = on
	return s
}

// WithRateLimiter гасит шторм дублей от почтовых прокси: ограничивает только
// публикацию в kafka, семантика confirm не меняется.
func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	if perMinute > 0 {
		s.publishPerMinute = perMinute
	}
	return s
}

type Result struct {
	ID          uint64
	UserID      string
	SeenAt      time.Time
	AlreadySeen bool
}

// Confirm: lookup -> mark seen -> verify. Одна мутация на запрос, ретраев нет,
// все гонки разруливает постгрес. seen_at генерируется один раз и возвращается
// ровно тем значением, которое ушло в апдейт.
func (s *Service) Confirm(ctx context.Context, token string) (Result, error) {
	e, err := s.repo.GetEmailByToken(ctx, token)
	if err != nil {
		return Result{}, err
	}
	slog.Info("email matched", "token", token, "email_id", e.ID, "seen", e.Seen)

	seenAt := s.now().UTC().Truncate(time.Millisecond)
	slog.Info("marking email seen", "email_id", e.ID, "seen_at", seenAt)

	affected, err := s.repo.MarkSeen(ctx, e.ID, seenAt, s.firstOpenOnly)
	if err != nil {
		return Result{}, errors.Wrap(err, "mark seen")
	}

	if affected == 0 {
		// В режиме firstOpenOnly ноль строк — это штатный повторный фетч уже
		// открытого письма: подтверждаем перечиткой и отвечаем прежним seen_at.
		v, verr := s.repo.GetEmailByToken(ctx, token)
		if s.firstOpenOnly && verr == nil && v.Seen && v.SeenAt != nil {
			slog.Info("email already seen", "email_id", e.ID, "seen_at", *v.SeenAt)
			return Result{ID: e.ID, UserID: e.UserID, SeenAt: *v.SeenAt, AlreadySeen: true}, nil
		}
		return Result{}, ErrUpdateFailed
	}

	v, err := s.repo.GetEmailByToken(ctx, token)
	if err != nil {
		return Result{}, errors.Wrapf(ErrVerificationFailed, "re-read: %v", err)
	}
	if !v.Seen {
		slog.Error("verification read shows unseen email", "email_id", e.ID)
		return Result{}, ErrVerificationFailed
	}
	slog.Info("verification ok", "email_id", e.ID)

	s.publishSeen(ctx, e, token, seenAt)

	return Result{ID: e.ID, UserID: e.UserID, SeenAt: seenAt}, nil
}

// publishSeen — best effort: живые обновления дашборда не стоят ответа
// почтовому клиенту, ошибки только логируем.
func (s *Service) publishSeen(ctx context.Context, e *models.Email, token string, seenAt time.Time) {
	if s.producer == nil {
		return
	}

	if s.rl != nil && s.publishPerMinute > 0 {
		key := fmt.Sprintf("rl:pixel:%s:%s", token, seenAt.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, key, s.publishPerMinute, 70*time.Second)
		if err == nil && !allowed {
			slog.Warn("pixel storm, skip publish", "token", token, "count", n)
			return
		}
	}

	msg := messages.EmailSeen{
		EmailID: e.ID,
		UserID:  e.UserID,
		Seen:    true,
		SeenAt:  seenAt,
		Token:   token,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal email.seen", "error", err.Error())
		return
	}

	key := []byte(fmt.Sprintf("%d", e.ID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("publish email.seen", "email_id", e.ID, "error", err.Error())
	}
}
