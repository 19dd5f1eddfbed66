// Package middleware содержит HTTP middleware сервиса доступа.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const accessExpiryKey contextKey = "accessExpiry"

const accessCookieName = "access_until"

// AccessMiddleware хранит окно доступа клиента в подписанном cookie.
// Значение cookie: время окончания доступа в unix-миллисекундах и HMAC-подпись.
type AccessMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAccessMiddleware создаёт middleware с указанным ключом подписи.
// При пустом ключе генерируется случайный, и выданные окна не переживают перезапуск.
func NewAccessMiddleware(secret string) *AccessMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte("accessgate-secret-key")
		}
	}

	return &AccessMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware извлекает окно доступа из cookie и кладёт его в контекст запроса.
// Запросы без cookie или с неверной подписью пропускаются без окна.
func (a *AccessMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(accessCookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		expiresAt, ok := a.parse(cookie.Value)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), accessExpiryKey, expiresAt)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAccessCookie записывает окно доступа, заканчивающееся в expiresAt.
func (a *AccessMiddleware) SetAccessCookie(w http.ResponseWriter, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    a.sign(expiresAt.UnixMilli()),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Extend продлевает окно доступа на d от большего из текущего момента и текущего окончания.
func (a *AccessMiddleware) Extend(ctx context.Context, d time.Duration) time.Time {
	start := a.now()
	if current, ok := ExpiresFromContext(ctx); ok && current.After(start) {
		start = current
	}
	return start.Add(d)
}

func (a *AccessMiddleware) sign(unixMilli int64) string {
	value := strconv.FormatInt(unixMilli, 10)
	return value + "." + a.signature(value)
}

func (a *AccessMiddleware) signature(value string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AccessMiddleware) parse(cookieValue string) (time.Time, bool) {
	value, signature, ok := strings.Cut(cookieValue, ".")
	if !ok {
		return time.Time{}, false
	}

	if !hmac.Equal([]byte(signature), []byte(a.signature(value))) {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.UnixMilli(ms), true
}

// ExpiresFromContext возвращает окончание окна доступа из контекста запроса.
func ExpiresFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(accessExpiryKey).(time.Time)
	return t, ok
}
