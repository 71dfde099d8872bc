package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyHeader содержит клиентский ключ повторной отправки запроса.
	IdempotencyHeader = "Idempotency-Key"
	replayHeader      = "X-Idempotent-Replay"

	// DefaultIdempotencyTTL задаёт время хранения сохранённых ответов.
	DefaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyKeyLen  = 128

	// MaxRequestBody ограничивает тело запроса, которое middleware читает целиком.
	MaxRequestBody = 1 << 20
)

// IdempotencyRecord описывает состояние ключа: резерв или сохранённый ответ.
type IdempotencyRecord struct {
	Fingerprint string `json:"fingerprint"`
	Completed   bool   `json:"completed"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// IdempotencyStore хранит ключи идемпотентности.
type IdempotencyStore interface {
	// Reserve резервирует ключ. Если ключ уже занят, возвращает существующую запись и false.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (IdempotencyRecord, bool, error)
	// Complete сохраняет ответ для ключа.
	Complete(ctx context.Context, key string, rec IdempotencyRecord, ttl time.Duration) error
	// Release снимает резерв, чтобы запрос можно было повторить.
	Release(ctx context.Context, key string) error
}

// RedisClient содержит используемое подмножество команд go-redis; ему удовлетворяет *redis.Client.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisIdempotencyStore хранит ключи в Redis, поэтому дедупликация работает между репликами сервиса.
type RedisIdempotencyStore struct {
	client RedisClient
	prefix string
}

// NewRedisIdempotencyStore создаёт хранилище ключей поверх клиента Redis.
func NewRedisIdempotencyStore(client RedisClient, prefix string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Reserve резервирует ключ через SET NX.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (IdempotencyRecord, bool, error) {
	pending := IdempotencyRecord{Fingerprint: fingerprint}
	payload, err := json.Marshal(pending)
	if err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.fullKey(key), payload, ttl).Result()
	if err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return pending, true, nil
	}

	raw, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Ключ истёк между SETNX и GET: считаем его занятым, клиент повторит запрос.
			return pending, false, nil
		}
		return IdempotencyRecord{}, false, fmt.Errorf("get idempotency key: %w", err)
	}

	var existing IdempotencyRecord
	if err := json.Unmarshal(raw, &existing); err != nil {
		return IdempotencyRecord{}, false, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return existing, false, nil
}

// Complete сохраняет ответ для ключа.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, rec IdempotencyRecord, ttl time.Duration) error {
	rec.Completed = true
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.fullKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

// Release удаляет ключ.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

type memoryEntry struct {
	rec       IdempotencyRecord
	expiresAt time.Time
}

// MemoryIdempotencyStore хранит ключи в памяти процесса. Используется, когда Redis не настроен.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryIdempotencyStore создаёт пустое хранилище ключей в памяти.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Reserve резервирует ключ, если он свободен или истёк.
func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.rec, false, nil
	}

	rec := IdempotencyRecord{Fingerprint: fingerprint}
	s.entries[key] = memoryEntry{rec: rec, expiresAt: now.Add(ttl)}
	return rec, true, nil
}

// Complete сохраняет ответ для ключа.
func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, rec IdempotencyRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Completed = true
	rec.Body = append([]byte(nil), rec.Body...)
	s.entries[key] = memoryEntry{rec: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

// Release удаляет ключ.
func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Idempotency повторяет сохранённый ответ, если запрос пришёл с уже использованным
// заголовком Idempotency-Key. Запросы без заголовка обрабатываются как обычно.
// Ключ действует в пределах пользователя, поэтому middleware ставится после аутентификации.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeJSONError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is too long")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body is too large")
					return
				}
				writeJSONError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			userID, _ := GetUserIDFromContext(r.Context())
			scoped := strconv.FormatInt(userID, 10) + ":" + r.URL.Path + ":" + key
			fingerprint := fingerprintBody(body)

			existing, reserved, err := store.Reserve(r.Context(), scoped, fingerprint, ttl)
			if err != nil {
				logger.Error("reserve idempotency key", zap.Error(err))
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "unable to process idempotency key")
				return
			}

			if !reserved {
				switch {
				case existing.Fingerprint != fingerprint:
					writeJSONError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key already used for a different request")
				case !existing.Completed:
					writeJSONError(w, http.StatusConflict, "request_in_progress", "another request with this idempotency key is in progress")
				default:
					replay(w, existing)
				}
				return
			}

			rec := &bufferedResponse{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			// Ответы с ошибкой сервера не сохраняются: клиент может повторить запрос с тем же ключом.
			if rec.statusCode() >= http.StatusInternalServerError {
				if err := store.Release(context.WithoutCancel(r.Context()), scoped); err != nil {
					logger.Warn("release idempotency key", zap.Error(err))
				}
			} else {
				err := store.Complete(context.WithoutCancel(r.Context()), scoped, IdempotencyRecord{
					Fingerprint: fingerprint,
					Status:      rec.statusCode(),
					ContentType: rec.header.Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}, ttl)
				if err != nil {
					logger.Warn("save idempotent response", zap.Error(err))
				}
			}

			rec.flush(w)
		})
	}
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func replay(w http.ResponseWriter, rec IdempotencyRecord) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	status := rec.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(rec.Body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// bufferedResponse накапливает ответ обработчика, чтобы сохранить его до отправки клиенту.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
