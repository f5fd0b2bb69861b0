package pixel_api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/MailBeacon/internal/services/confirm"
	"github.com/BearBump/MailBeacon/internal/storage/pgemail"
	"github.com/go-chi/chi/v5"
)

// Тексты ответов зафиксированы, дашборд и письма старых версий их знают.
const (
	msgNoTrackingID = "No tracking ID provided"
	msgNotFound     = "Email not found"
	msgUpdateFailed = "Update failed"
	msgTracked      = "Email tracked successfully"
)

// 1x1 прозрачный GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Confirmer interface {
	Confirm(ctx context.Context, token string) (confirm.Result, error)
}

type PixelAPI struct {
	svc Confirmer

	// pixelResponse: отвечать настоящей картинкой и всегда 200, чтобы почтовый
	// клиент не считал загрузку сломанной. Выключено — старое JSON-поведение
	// со статусами 200/400/404/500.
	pixelResponse bool
}

func New(svc Confirmer) *PixelAPI {
	return &PixelAPI{svc: svc}
}

func (a *PixelAPI) WithPixelResponse(on bool) *PixelAPI {
	a.pixelResponse = on
	return a
}

func (a *PixelAPI) Register(r chi.Router) {
	r.Get("/update", a.handleUpdate)
}

type seenData struct {
	ID     uint64 `json:"id"`
	Seen   bool   `json:"seen"`
	SeenAt string `json:"seen_at"`
}

type successBody struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    seenData `json:"data"`
}

func (a *PixelAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("text")
	slog.Info("tracking request received", "token", token)

	if token == "" {
		// без токена в бэкенд не ходим вообще
		a.respondError(w, http.StatusBadRequest, map[string]any{"message": msgNoTrackingID})
		return
	}

	res, err := a.svc.Confirm(r.Context(), token)
	switch {
	case err == nil:
		a.respondOK(w, res)
	case errors.Is(err, pgemail.ErrNotFound):
		slog.Info("no email for token", "token", token)
		a.respondError(w, http.StatusNotFound, map[string]any{"message": msgNotFound})
	default:
		slog.Error("confirm failed", "token", token, "error", err.Error())
		a.respondError(w, http.StatusInternalServerError, map[string]any{
			"error":   msgUpdateFailed,
			"details": err.Error(),
		})
	}
}

func (a *PixelAPI) respondOK(w http.ResponseWriter, res confirm.Result) {
	if a.pixelResponse {
		writePixel(w)
		return
	}
	writeJSON(w, http.StatusOK, successBody{
		Success: true,
		Message: msgTracked,
		Data: seenData{
			ID:     res.ID,
			Seen:   true,
			SeenAt: res.SeenAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// respondError: в pixel-режиме любая ошибка уже залогирована, клиенту всё
// равно отдаём картинку и 200 — битый ответ ломает рендер письма.
func (a *PixelAPI) respondError(w http.ResponseWriter, status int, body map[string]any) {
	if a.pixelResponse {
		writePixel(w)
		return
	}
	writeJSON(w, status, body)
}

func writePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
