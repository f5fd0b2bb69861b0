package emails_api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/MailBeacon/internal/models"
	"github.com/BearBump/MailBeacon/internal/services/emails"
	"github.com/BearBump/MailBeacon/internal/token"
	"github.com/go-chi/chi/v5"
)

// Идентификацию даёт внешний слой аутентификации, сюда пользователь
// доезжает готовым заголовком.
const userHeader = "X-User-ID"

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type EmailsAPI struct {
	svc *emails.Service

	pixelBaseURL string

	rl              RateLimiter
	createPerMinute int64
}

func New(svc *emails.Service, pixelBaseURL string) *EmailsAPI {
	return &EmailsAPI{svc: svc, pixelBaseURL: pixelBaseURL, createPerMinute: 20}
}

func (a *EmailsAPI) WithRateLimiter(rl RateLimiter, perMinute int64) *EmailsAPI {
	a.rl = rl
	if perMinute > 0 {
		a.createPerMinute = perMinute
	}
	return a
}

func (a *EmailsAPI) Register(r chi.Router) {
	r.Route("/api/emails", func(r chi.Router) {
		r.Get("/", a.handleList)
		r.Post("/", a.handleCreate)
		r.Get("/stats", a.handleStats)
		r.Get("/watch", a.handleWatch)
		r.Delete("/{id}", a.handleDelete)
	})
}

type emailView struct {
	ID          uint64  `json:"id"`
	UserID      string  `json:"user_id"`
	Email       string  `json:"email"`
	Description string  `json:"description"`
	ImgText     string  `json:"img_text"`
	Seen        bool    `json:"seen"`
	SeenAt      *string `json:"seen_at"`
	CreatedAt   string  `json:"created_at"`
}

func toView(e *models.Email) emailView {
	v := emailView{
		ID:          e.ID,
		UserID:      e.UserID,
		Email:       e.Email,
		Description: e.Description,
		ImgText:     e.ImgText,
		Seen:        e.Seen,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.SeenAt != nil {
		s := e.SeenAt.UTC().Format(time.RFC3339Nano)
		v.SeenAt = &s
	}
	return v
}

func toViews(es []*models.Email) []emailView {
	out := make([]emailView, 0, len(es))
	for _, e := range es {
		out = append(out, toView(e))
	}
	return out
}

func (a *EmailsAPI) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	list, err := a.svc.List(r.Context(), userID)
	if err != nil {
		slog.Error("list emails", "user_id", userID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": toViews(list)})
}

type createRequest struct {
	Email       string `json:"email"`
	Description string `json:"description"`
	ImgText     string `json:"img_text"`
}

func (a *EmailsAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	if a.rl != nil && a.createPerMinute > 0 {
		key := fmt.Sprintf("rl:create:%s:%s", userID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := a.rl.Allow(r.Context(), key, a.createPerMinute, 70*time.Second)
		if err == nil && !allowed {
			slog.Warn("create rate limit exceeded", "user_id", userID, "count", n)
			writeError(w, http.StatusTooManyRequests, "too many emails created, slow down")
			return
		}
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	// Токен обычно приходит из формы; если его нет, генерируем сами.
	if req.ImgText == "" {
		req.ImgText = token.Generate(time.Now())
	}

	e, err := a.svc.Create(r.Context(), models.EmailCreateInput{
		UserID:      userID,
		Email:       req.Email,
		Description: req.Description,
		ImgText:     req.ImgText,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pixelURL, err := token.PixelURL(a.pixelBaseURL, e.ImgText)
	if err != nil {
		slog.Error("build pixel url", "email_id", e.ID, "error", err.Error())
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"email":     toView(e),
		"pixel_url": pixelURL,
	})
}

func (a *EmailsAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "bad email id")
		return
	}

	affected, err := a.svc.Delete(r.Context(), userID, id)
	if err != nil {
		slog.Error("delete email", "email_id", id, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to delete email")
		return
	}
	if affected == 0 {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}
	// Клиент после удаления перечитывает список целиком, подписка удаления
	// не доставляет.
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "affected_rows": affected})
}

func (a *EmailsAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	st, err := a.svc.Stats(r.Context(), userID)
	if err != nil {
		slog.Error("email stats", "user_id", userID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         st.Total,
		"seen":          st.Seen,
		"unseen":        st.Unseen,
		"recently_seen": toViews(st.RecentlySeen),
	})
}

// handleWatch — SSE-поток частичных обновлений {id, seen, seen_at} по
// пользователю. Дашборд вливает их в свой список по id.
func (a *EmailsAPI) handleWatch(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := a.svc.Watch(userID)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(upd)
			fmt.Fprintf(w, "event: email_update\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"message": msg})
}
