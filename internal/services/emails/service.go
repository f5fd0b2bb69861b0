package emails

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/BearBump/MailBeacon/internal/broker/messages"
	"github.com/BearBump/MailBeacon/internal/cache"
	"github.com/BearBump/MailBeacon/internal/models"
	"github.com/BearBump/MailBeacon/internal/watch"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateEmail(ctx context.Context, in models.EmailCreateInput) (*models.Email, error)
	ListEmailsByUser(ctx context.Context, userID string) ([]*models.Email, error)
	DeleteEmail(ctx context.Context, id uint64) (int64, error)
	CountEmailsByUser(ctx context.Context, userID string) (models.EmailStats, error)
	ListRecentlySeen(ctx context.Context, userID string, limit int) ([]*models.Email, error)
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	hub      *watch.Hub
	statsTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, hub *watch.Hub, statsTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, hub: hub, statsTTL: statsTTL}
}

func (s *Service) Create(ctx context.Context, in models.EmailCreateInput) (*models.Email, error) {
	if in.UserID == "" {
		return nil, errors.New("userId is required")
	}
	if in.Email == "" {
		return nil, errors.New("email is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, errors.Wrap(err, "bad email address")
	}
	if in.ImgText == "" {
		return nil, errors.New("imgText is required")
	}

	e, err := s.repo.CreateEmail(ctx, in)
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, in.UserID)
	return e, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]*models.Email, error) {
	if userID == "" {
		return nil, errors.New("userId is required")
	}
	return s.repo.ListEmailsByUser(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, userID string, id uint64) (int64, error) {
	if id == 0 {
		return 0, errors.New("id is required")
	}
	affected, err := s.repo.DeleteEmail(ctx, id)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.invalidateStats(ctx, userID)
	}
	return affected, nil
}

type Stats struct {
	Total        int64           `json:"total"`
	Seen         int64           `json:"seen"`
	Unseen       int64           `json:"unseen"`
	RecentlySeen []*models.Email `json:"-"`
}

// Stats считает сводку по пользователю. Кэшируем только счётчики, как JSON
// целиком, best effort: кэш не обязан быть всегда.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, errors.New("userId is required")
	}

	var st Stats
	cached := false
	if s.cache != nil && s.statsTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, statsKey(userID)); err == nil && ok {
			if json.Unmarshal(b, &st) == nil {
				cached = true
			}
		}
	}

	if !cached {
		counts, err := s.repo.CountEmailsByUser(ctx, userID)
		if err != nil {
			return Stats{}, err
		}
		st = Stats{Total: counts.Total, Seen: counts.Seen, Unseen: counts.Unseen}
		if s.cache != nil && s.statsTTL > 0 {
			b, _ := json.Marshal(st)
			_ = s.cache.Set(ctx, statsKey(userID), b, s.statsTTL)
		}
	}

	recent, err := s.repo.ListRecentlySeen(ctx, userID, 5)
	if err != nil {
		return Stats{}, err
	}
	st.RecentlySeen = recent
	return st, nil
}

func (s *Service) Watch(userID string) (<-chan watch.Update, func()) {
	return s.hub.Subscribe(userID)
}

// ApplyKafkaUpdate применяет событие email.seen к живому представлению:
// сбрасывает кэш счётчиков и проталкивает частичный апдейт подписчикам.
func (s *Service) ApplyKafkaUpdate(ctx context.Context, msg messages.EmailSeen) error {
	if msg.EmailID == 0 {
		return errors.New("email_id is required")
	}
	if msg.UserID == "" {
		return errors.New("user_id is required")
	}
	if msg.SeenAt.IsZero() {
		msg.SeenAt = time.Now().UTC()
	}

	s.invalidateStats(ctx, msg.UserID)

	if s.hub != nil {
		seenAt := msg.SeenAt
		s.hub.Publish(msg.UserID, watch.Update{ID: msg.EmailID, Seen: msg.Seen, SeenAt: &seenAt})
	}
	return nil
}

func (s *Service) invalidateStats(ctx context.Context, userID string) {
	if s.cache == nil || s.statsTTL <= 0 {
		return
	}
	if err := s.cache.Del(ctx, statsKey(userID)); err != nil {
		slog.Warn("invalidate stats cache", "user_id", userID, "error", err.Error())
	}
}

func statsKey(userID string) string {
	return fmt.Sprintf("emails:%s:stats", userID)
}
