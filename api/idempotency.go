package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// IDEMPOTENCY - Replay submissions retried with the same Idempotency-Key
// =============================================================================

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "Idempotent-Replay"

	idempotencyLockTTL = 30 * time.Second
)

// storedResponse is what is cached under an idempotency key.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency caches the first response to a POST carrying an
// Idempotency-Key and replays it for the same actor and key. A concurrent
// duplicate gets 409 PROCESSING. Server errors are not cached. If Redis is
// unreachable the request proceeds without idempotency.
func Idempotency(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			actor, _ := ActorFrom(ctx)
			cacheKey := IdempotencyCacheKey(string(actor.ID), key)
			lockKey := cacheKey + ":lock"

			val, err := rdb.Get(ctx, cacheKey).Bytes()
			switch {
			case err == nil:
				var stored storedResponse
				if jerr := json.Unmarshal(val, &stored); jerr == nil {
					w.Header().Set(ReplayHeader, "true")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(stored.Status)
					w.Write(stored.Body)
					return
				}
				logger.Warn("discarding unreadable idempotency entry", zap.String("key", cacheKey))
			case !errors.Is(err, redis.Nil):
				logger.Warn("idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "locked", idempotencyLockTTL).Result()
			if err != nil {
				logger.Warn("idempotency lock failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				writeJSON(w, http.StatusConflict, ErrorResponse{
					Code:    CodeProcessing,
					Message: "a request with this Idempotency-Key is still being processed",
				})
				return
			}
			defer rdb.Del(ctx, lockKey)

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(storedResponse{Status: rec.status, Body: bytes.TrimSpace(rec.body.Bytes())})
			if err != nil {
				return
			}
			if err := rdb.Set(ctx, cacheKey, payload, ttl).Err(); err != nil {
				logger.Warn("idempotency save failed", zap.String("key", cacheKey), zap.Error(err))
			}
		})
	}
}

// IdempotencyCacheKey scopes a client key to the acting employee.
func IdempotencyCacheKey(actorID, key string) string {
	return fmt.Sprintf("idemp:requests:%s:%s", actorID, key)
}

// recordingWriter tees the response so it can be cached.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
