package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
)

const storeProbeTimeout = 3 * time.Second

type pendingLister interface {
	ListAll(ctx context.Context) ([]outbox.Entry, error)
}

type pendingDrainer interface {
	Drain(ctx context.Context) (pendingsync.Report, error)
}

type depthReader interface {
	Len(ctx context.Context) (int, error)
}

// PendingList returns the orders waiting in the fallback outbox.
func PendingList(queue pendingLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox unavailable"))
			return
		}
		entries, err := queue.ListAll(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read outbox"))
			return
		}
		if entries == nil {
			entries = []outbox.Entry{}
		}
		responses.WriteSuccess(w, map[string]any{"entries": entries})
	}
}

// SyncPending runs one drain of the outbox and reports what reached the store.
func SyncPending(drainer pendingDrainer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if drainer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pending sync unavailable"))
			return
		}
		// the drain finishes even if the operator closes the tab
		report, err := drainer.Drain(context.WithoutCancel(r.Context()))
		if err != nil {
			// ErrDrainInProgress carries CONFLICT and answers 409
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, report)
	}
}

type storeStatus struct {
	OK          bool   `json:"ok"`
	LatencyMS   int64  `json:"latency_ms"`
	Error       string `json:"error,omitempty"`
	OutboxDepth int    `json:"outbox_depth"`
}

// StoreStatus checks the order store and reports the outbox backlog. A store
// failure is reported in the body, not as an HTTP error.
func StoreStatus(store pinger, queue depthReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil || queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store status unavailable"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), storeProbeTimeout)
		start := time.Now()
		err := store.Ping(ctx)
		latency := time.Since(start)
		cancel()

		status := storeStatus{OK: err == nil, LatencyMS: latency.Milliseconds()}
		if err != nil {
			status.Error = err.Error()
		}

		depth, depthErr := queue.Len(r.Context())
		if depthErr != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, depthErr, "read outbox"))
			return
		}
		status.OutboxDepth = depth

		responses.WriteSuccess(w, status)
	}
}
