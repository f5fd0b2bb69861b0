package token

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Generate выдаёт токен пикселя: millisecond epoch на момент создания письма.
// Сервер никогда не разбирает токен обратно, для него это непрозрачный ключ.
func Generate(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// PixelURL собирает URL однопиксельной картинки для вставки в письмо.
func PixelURL(base, tok string) (string, error) {
	if tok == "" {
		return "", errors.New("token is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = "/update"

	q := u.Query()
	q.Set("text", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseToken проверяет, что токен выглядит как наш (число миллисекунд).
// Используется только на стороне создания письма, endpoint принимает всё.
func ParseToken(tok string) (time.Time, error) {
	ms, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad token %q: %w", tok, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
