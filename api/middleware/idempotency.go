package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/apexlabs-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	idempotencyInFlightTTL = 2 * time.Minute
	maxIdempotentBodyBytes = 1 << 20

	recordPending  = "pending"
	recordComplete = "complete"
)

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// idempotentRoutes maps "METHOD pattern" to how long a finished response is
// replayed. A key is always optional: storefront clients send one on submit so a
// retried checkout replays the first answer instead of creating a second order.
var idempotentRoutes = map[string]time.Duration{
	http.MethodPost + " /api/orders":                               defaultIdempotencyTTL,
	http.MethodPatch + " /api/admin/orders/{orderNumber}/status": defaultIdempotencyTTL,
}

type idempotencyRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency reserves the key before the handler runs, so two concurrent
// submits with the same key never both reach the ingestor. The finished
// response is stored for replay; a 5xx releases the key so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := idempotentRoutes[r.Method+" "+routePattern(r)]
			header := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !ok || store == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if !idempotencyKeyPattern.MatchString(header) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid Idempotency-Key header").
					WithDetails(map[string]any{"max_length": 128}))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBodyBytes+1))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			// oversized bodies are rejected by the handler; there is nothing worth caching
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			if int64(len(body)) > maxIdempotentBodyBytes {
				next.ServeHTTP(w, r)
				return
			}

			hash := hashBody(body)
			key := store.IdempotencyKey(SessionIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, header)

			reserved, err := reserve(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayOrReject(ctx, logg, w, store, key, hash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			saveCtx := context.WithoutCancel(ctx)
			status := rec.statusOrOK()
			if status >= http.StatusInternalServerError {
				if err := store.Del(saveCtx, key); err != nil && logg != nil {
					logg.Error(saveCtx, "idempotency.release_failed", err)
				}
				return
			}

			payload, err := json.Marshal(idempotencyRecord{
				State:       recordComplete,
				RequestHash: hash,
				Status:      status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err == nil {
				err = store.Set(saveCtx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(saveCtx, "idempotency.persist_failed", err)
			}
		})
	}
}

func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	marker, err := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), idempotencyInFlightTTL)
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, hash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// released between SetNX and Get: the first attempt failed with a 5xx
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "previous attempt failed; retry the request"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != recordComplete:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
