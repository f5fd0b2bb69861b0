package watch

import (
	"sync"
	"time"

	"github.com/BearBump/MailBeacon/internal/models"
)

// Update — частичное обновление строки дашборда. Подписка шлёт ровно те поля,
// что меняет confirm: id, seen, seen_at.
type Update struct {
	ID     uint64     `json:"id"`
	Seen   bool       `json:"seen"`
	SeenAt *time.Time `json:"seen_at"`
}

// Hub раздаёт обновления подписчикам, сгруппированным по user id.
// Медленный подписчик не блокирует остальных: переполненный канал пропускаем.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[uint64]chan Update
	next uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]chan Update{}}
}

func (h *Hub) Subscribe(userID string) (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	ch := make(chan Update, 16)
	if h.subs[userID] == nil {
		h.subs[userID] = map[uint64]chan Update{}
	}
	h.subs[userID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subs[userID]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, userID)
			}
		}
	}
	return ch, cancel
}

func (h *Hub) Publish(userID string, upd Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[userID] {
		select {
		case ch <- upd:
		default:
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Merge вливает частичное обновление в список по id: трогаем только seen и
// seen_at, прочие поля строки остаются как были. Строки без совпадения не
// добавляются и не удаляются — удаление доезжает отдельным перезапросом.
func Merge(list []*models.Email, upd Update) {
	for _, e := range list {
		if e.ID == upd.ID {
			e.Seen = upd.Seen
			e.SeenAt = upd.SeenAt
			return
		}
	}
}
