// Package middleware содержит HTTP middleware для сервиса маркетплейса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mmeshcher/marketplace/internal/model"
)

type contextKey string

const (
	callerKey     contextKey = "caller"
	callerSlotKey contextKey = "caller_slot"
)

// callerSlot передаёт идентификатор вызывающего внешним middleware, которые
// видят запрос до аутентификации.
type callerSlot struct {
	id model.Identity
	ok bool
}

func withCallerSlot(ctx context.Context) (context.Context, *callerSlot) {
	slot := &callerSlot{}
	return context.WithValue(ctx, callerSlotKey, slot), slot
}

const bearerPrefix = "Bearer "

// AuthMiddleware проверяет токен вызывающего, выданный шлюзом аутентификации.
// Токен имеет вид "<адрес>.<hmac-sha256 адреса>"; сервис доверяет адресу из
// токена с корректной подписью и не проверяет ключи счетов.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом секрете генерируется случайный ключ: такие токены действуют только
// в пределах процесса.
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

// Middleware проверяет заголовок Authorization и добавляет идентификатор вызывающего в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller, ok := a.ParseToken(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := WithCaller(r.Context(), caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Token возвращает подписанный токен для идентификатора.
func (a *AuthMiddleware) Token(id model.Identity) string {
	addr := id.Hex()
	return addr + "." + a.sign(addr)
}

// SetAuthHeader добавляет в запрос заголовок Authorization для идентификатора.
func (a *AuthMiddleware) SetAuthHeader(r *http.Request, id model.Identity) {
	r.Header.Set("Authorization", bearerPrefix+a.Token(id))
}

func (a *AuthMiddleware) sign(addr string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(addr))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseToken проверяет подпись токена и возвращает идентификатор.
func (a *AuthMiddleware) ParseToken(token string) (model.Identity, bool) {
	addr, signature, found := strings.Cut(token, ".")
	if !found {
		return model.Identity{}, false
	}

	id, err := model.ParseIdentity(addr)
	if err != nil {
		return model.Identity{}, false
	}

	// подпись считается по каноническому виду адреса
	if !hmac.Equal([]byte(signature), []byte(a.sign(id.Hex()))) {
		return model.Identity{}, false
	}

	return id, true
}

// WithCaller возвращает контекст с идентификатором вызывающего.
func WithCaller(ctx context.Context, id model.Identity) context.Context {
	if slot, ok := ctx.Value(callerSlotKey).(*callerSlot); ok {
		slot.id, slot.ok = id, true
	}
	return context.WithValue(ctx, callerKey, id)
}

// CallerFromContext извлекает идентификатор вызывающего из контекста запроса.
func CallerFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(callerKey).(model.Identity)
	return id, ok
}
