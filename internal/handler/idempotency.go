package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader carries the client's idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from the store.
	IdempotentReplayHeader = "Idempotent-Replayed"

	idempotencyKeyPrefix    = "idempotency:"
	defaultProcessingTTL    = 60 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	maxIdempotencyKeyLength = 255
)

type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

// idempotencyRecord is the stored state of one keyed request.
type idempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// RedisClient is the subset of the go-redis client the middleware uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL of completed records.
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight record blocks retries if
	// the process dies before completing it.
	ProcessingTTL time.Duration
	Log           *zap.Logger
}

// Idempotency replays the stored response of a completed request carrying
// the same Idempotency-Key, actor and request. Requests without the header
// pass through. 5xx responses are never stored, so a retry after a busy or
// failed attempt executes again. Redis failures fail open.
//
// It must run after authentication: records are scoped to the actor.
func Idempotency(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultIdempotencyTTL
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = defaultProcessingTTL
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	log := cfg.Log.Named("idempotency")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key must be at most 255 characters")
				return
			}
			actor, ok := ActorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication credentials were not provided")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			redisKey := idempotencyKeyPrefix + actor.ID + ":" + key
			hash := requestHash(r, actor.ID, body)

			record := &idempotencyRecord{
				Status:      statusProcessing,
				RequestHash: hash,
				CreatedAt:   time.Now().UTC(),
			}
			acquired, err := trySetRecord(ctx, cfg.Redis, redisKey, record, cfg.ProcessingTTL)
			if err != nil {
				log.Warn("idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				existing, err := getRecord(ctx, cfg.Redis, redisKey)
				switch {
				case errors.Is(err, redis.Nil):
					// Expired between SETNX and GET; treat as a fresh request
					// without protection rather than failing it.
					next.ServeHTTP(w, r)
				case err != nil:
					log.Warn("idempotency store unavailable", zap.Error(err))
					next.ServeHTTP(w, r)
				case existing.RequestHash != hash:
					writeError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED",
						"Idempotency-Key was already used with a different request")
				case existing.Status == statusProcessing:
					writeError(w, http.StatusConflict, "REQUEST_IN_PROGRESS",
						"a request with this Idempotency-Key is already being processed")
				default:
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(IdempotentReplayHeader, "true")
					w.WriteHeader(existing.ResponseCode)
					_, _ = io.WriteString(w, existing.ResponseBody)
				}
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Store with a context that survives client disconnects.
			storeCtx := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				if err := cfg.Redis.Del(storeCtx, redisKey).Err(); err != nil {
					log.Warn("failed to release idempotency key", zap.Error(err))
				}
				return
			}
			now := time.Now().UTC()
			record.Status = statusCompleted
			record.ResponseCode = rec.status
			record.ResponseBody = rec.body.String()
			record.CompletedAt = &now
			if err := saveRecord(storeCtx, cfg.Redis, redisKey, record, cfg.TTL); err != nil {
				log.Warn("failed to store idempotent response", zap.Error(err))
			}
		})
	}
}

// recordingWriter captures the response for storage while writing it
// through.
type recordingWriter struct {
	http.ResponseWriter
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func requestHash(r *http.Request, actorID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(actorID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func getRecord(ctx context.Context, rdb RedisClient, key string) (*idempotencyRecord, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func trySetRecord(ctx context.Context, rdb RedisClient, key string, record *idempotencyRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return rdb.SetNX(ctx, key, string(data), ttl).Result()
}

func saveRecord(ctx context.Context, rdb RedisClient, key string, record *idempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, string(data), ttl).Err()
}
