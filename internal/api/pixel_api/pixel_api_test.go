package pixel_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/MailBeacon/internal/models"
	"github.com/BearBump/MailBeacon/internal/services/confirm"
	"github.com/BearBump/MailBeacon/internal/storage/pgemail"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	emails map[string]*models.Email

	getCalls  int
	markCalls int

	affectedOverride *int64
}

func (f *fakeRepo) GetEmailByToken(ctx context.Context, token string) (*models.Email, error) {
	f.getCalls++
	e, ok := f.emails[token]
	if !ok {
		return nil, pgemail.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (f *fakeRepo) MarkSeen(ctx context.Context, id uint64, seenAt time.Time, onlyUnseen bool) (int64, error) {
	f.markCalls++
	if f.affectedOverride != nil {
		return *f.affectedOverride, nil
	}
	for _, e := range f.emails {
		if e.ID == id {
			if onlyUnseen && e.Seen {
				return 0, nil
			}
			e.Seen = true
			t := seenAt
			e.SeenAt = &t
			return 1, nil
		}
	}
	return 0, nil
}

func newServer(t *testing.T, repo *fakeRepo, pixel bool) *httptest.Server {
	t.Helper()
	svc := confirm.New(repo, nil, "email.seen")
	api := New(svc).WithPixelResponse(pixel)

	r := chi.NewRouter()
	api.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestUpdate_MissingToken(t *testing.T) {
	repo := &fakeRepo{emails: map[string]*models.Email{}}
	srv := newServer(t, repo, false)

	status, body := getJSON(t, srv.URL+"/update")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "No tracking ID provided", body["message"])
	require.Zero(t, repo.getCalls) // в бэкенд не ходили
	require.Zero(t, repo.markCalls)
}

func TestUpdate_NotFound(t *testing.T) {
	repo := &fakeRepo{emails: map[string]*models.Email{}}
	srv := newServer(t, repo, false)

	status, body := getJSON(t, srv.URL+"/update?text=missing-token")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Email not found", body["message"])
	require.Zero(t, repo.markCalls) // мутация не пыталась
}

func TestUpdate_Success(t *testing.T) {
	repo := &fakeRepo{emails: map[string]*models.Email{
		"1700000000000": {ID: 42, UserID: "u1", ImgText: "1700000000000"},
	}}
	srv := newServer(t, repo, false)

	status, body := getJSON(t, srv.URL+"/update?text=1700000000000")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Email tracked successfully", body["message"])

	data := body["data"].(map[string]any)
	require.Equal(t, float64(42), data["id"])
	require.Equal(t, true, data["seen"])

	// seen_at в ответе совпадает с тем, что легло в запись
	seenAt, err := time.Parse(time.RFC3339Nano, data["seen_at"].(string))
	require.NoError(t, err)
	e := repo.emails["1700000000000"]
	require.True(t, e.Seen)
	require.Equal(t, e.SeenAt.UTC(), seenAt.UTC())
}

func TestUpdate_RepeatReturns200WithLaterSeenAt(t *testing.T) {
	repo := &fakeRepo{emails: map[string]*models.Email{
		"tok": {ID: 1, UserID: "u1", ImgText: "tok"},
	}}
	srv := newServer(t, repo, false)

	_, body1 := getJSON(t, srv.URL+"/update?text=tok")
	t1, _ := time.Parse(time.RFC3339Nano, body1["data"].(map[string]any)["seen_at"].(string))

	time.Sleep(5 * time.Millisecond)

	status, body2 := getJSON(t, srv.URL+"/update?text=tok")
	require.Equal(t, http.StatusOK, status)
	t2, _ := time.Parse(time.RFC3339Nano, body2["data"].(map[string]any)["seen_at"].(string))
	require.True(t, t2.After(t1))
}

func TestUpdate_ZeroAffectedRowsIs500(t *testing.T) {
	zero := int64(0)
	repo := &fakeRepo{
		emails:           map[string]*models.Email{"tok": {ID: 1, UserID: "u1", ImgText: "tok"}},
		affectedOverride: &zero,
	}
	srv := newServer(t, repo, false)

	status, body := getJSON(t, srv.URL+"/update?text=tok")
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Update failed", body["error"])
}

func TestUpdate_VerificationFailureIs500WithDetail(t *testing.T) {
	// апдейт отчитался строкой, но запись так и не seen
	one := int64(1)
	repo := &fakeRepo{
		emails:           map[string]*models.Email{"tok": {ID: 1, UserID: "u1", ImgText: "tok"}},
		affectedOverride: &one,
	}
	srv := newServer(t, repo, false)

	status, body := getJSON(t, srv.URL+"/update?text=tok")
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Update failed", body["error"])
	require.Contains(t, body["details"], "verification")
}

func TestUpdate_PixelModeAlwaysServesImage(t *testing.T) {
	repo := &fakeRepo{emails: map[string]*models.Email{
		"tok": {ID: 1, UserID: "u1", ImgText: "tok"},
	}}
	srv := newServer(t, repo, true)

	for _, url := range []string{
		srv.URL + "/update?text=tok",           // успех
		srv.URL + "/update?text=missing-token", // not found
		srv.URL + "/update",                    // нет токена
	} {
		resp, err := http.Get(url)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
		resp.Body.Close()
	}

	// работа при этом выполнена
	require.True(t, repo.emails["tok"].Seen)
}
