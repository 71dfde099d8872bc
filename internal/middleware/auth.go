// Package middleware содержит HTTP middleware сервиса заказов.
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
)

type contextKey string

const userIDKey contextKey = "userID"

// AuthCookieName содержит имя cookie с подписанным идентификатором пользователя.
const AuthCookieName = "auth_token"

const bearerPrefix = "Bearer "

// AuthMiddleware проверяет подписанный идентификатор пользователя из cookie или заголовка Authorization.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный: токены перестают быть действительными после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware добавляет идентификатор пользователя в контекст запроса или отвечает 401.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeUnauthorized(w)
			return
		}

		userID, ok := a.parseToken(token)
		if !ok {
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Token возвращает подписанный токен для пользователя.
func (a *AuthMiddleware) Token(userID int64) string {
	return SignToken(a.secretKey, userID)
}

// SignToken подписывает идентификатор пользователя ключом secret.
func SignToken(secret []byte, userID int64) string {
	idStr := strconv.FormatInt(userID, 10)
	return idStr + "." + sign(secret, idStr)
}

func sign(secret []byte, idStr string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(idStr))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (int64, bool) {
	idStr, signature, found := strings.Cut(token, ".")
	if !found {
		return 0, false
	}

	if !hmac.Equal([]byte(signature), []byte(sign(a.secretKey, idStr))) {
		return 0, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if cookie, err := r.Cookie(AuthCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized","message":"authentication required"}`))
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
