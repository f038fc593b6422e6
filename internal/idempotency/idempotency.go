// Package idempotency replays the stored response of a request that
// carries an Idempotency-Key the caller already used. Issuance is
// idempotent on its own; this saves the oracle round trip on client
// retries and gives transfers a stable answer.
package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/lumentix-tickets/internal/adapters/redis"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLen      = 128
)

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Middleware struct {
	store   Store
	scope   func(r *http.Request) string
	ttl     time.Duration
	lockTTL time.Duration
	logger  observability.Logger
}

// New builds the middleware. scope namespaces keys, normally by caller, so
// two users reusing a key never see each other's responses.
func New(store Store, scope func(r *http.Request) string, ttl time.Duration, logger observability.Logger) *Middleware {
	return &Middleware{store: store, scope: scope, ttl: ttl, lockTTL: 30 * time.Second, logger: logger}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderKey)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(raw) > maxKeyLen {
			http.Error(w, `{"error":"invalid_input","message":"idempotency key too long"}`, http.StatusBadRequest)
			return
		}
		key := m.scope(r) + ":" + r.Method + ":" + r.URL.Path + ":" + raw
		ctx := r.Context()
		log := m.logger.WithField("idempotency_key", raw)

		cached, err := m.store.Get(ctx, key)
		if err != nil {
			// Redis is an optimization here; the handler is safe to run.
			log.WithError(err).Warn("idempotency lookup failed")
			next.ServeHTTP(w, r)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Result)
			return
		}

		locked, err := m.store.Lock(ctx, key, m.lockTTL)
		if err != nil {
			log.WithError(err).Warn("idempotency lock failed")
			next.ServeHTTP(w, r)
			return
		}
		if !locked {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"conflict","message":"a request with this idempotency key is in progress"}`))
			return
		}
		defer func() {
			if err := m.store.Unlock(context.WithoutCancel(ctx), key); err != nil {
				log.WithError(err).Warn("idempotency unlock failed")
			}
		}()

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Retryable failures must be retried, not replayed.
		if rec.status >= 500 {
			return
		}
		err = m.store.Set(context.WithoutCancel(ctx), key, redisadapter.IdempResponse{Status: rec.status, Result: rec.body.Bytes()}, m.ttl)
		if err != nil {
			log.WithError(err).Warn("idempotency store failed")
		}
	})
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
