package pendingsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
)

const (
	defaultWriteTimeout = 5 * time.Second
	removeTimeout       = 10 * time.Second
)

// ErrDrainInProgress is returned when another drain holds the in-process or shared lock.
var ErrDrainInProgress = pkgerrors.New(pkgerrors.CodeConflict, "a pending sync drain is already running")

type pendingQueue interface {
	ListAll(ctx context.Context) ([]outbox.Entry, error)
	RemoveByOrderNumber(ctx context.Context, numbers map[string]struct{}) (int, error)
}

type orderWriter interface {
	Create(ctx context.Context, order *models.Order) error
}

// Locker guards drains across processes. cron.RedisLock satisfies it.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Metrics records drain outcomes.
type Metrics interface {
	AddSynced(n int)
	AddSyncFailed(n int)
	SetOutboxDepth(depth int)
}

// Failure describes one queued order that did not reach the store.
type Failure struct {
	OrderNumber string `json:"orderNumber"`
	Error       string `json:"error"`
}

// Report summarises a drain pass.
type Report struct {
	Synced    int       `json:"synced"`
	Failures  []Failure `json:"failures"`
	Remaining int       `json:"remaining"`
}

// Params wires a Reconciler.
type Params struct {
	Queue        pendingQueue
	Orders       orderWriter
	Logger       *logger.Logger
	Lock         Locker
	Metrics      Metrics
	WriteTimeout time.Duration
	DrainTimeout time.Duration
}

// Reconciler drains the fallback outbox into the order store.
type Reconciler struct {
	queue        pendingQueue
	orders       orderWriter
	logg         *logger.Logger
	lock         Locker
	metrics      Metrics
	writeTimeout time.Duration
	drainTimeout time.Duration

	mu sync.Mutex
}

// New validates params and builds a Reconciler.
func New(params Params) (*Reconciler, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("outbox queue required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	writeTimeout := params.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Reconciler{
		queue:        params.Queue,
		orders:       params.Orders,
		logg:         params.Logger,
		lock:         params.Lock,
		metrics:      params.Metrics,
		writeTimeout: writeTimeout,
		drainTimeout: params.DrainTimeout,
	}, nil
}

// Drain inserts every queued order and removes the ones now present in the
// store. Orders already in the store (duplicate order number) count as synced.
// Entries appended while the drain runs are left for the next pass.
func (r *Reconciler) Drain(ctx context.Context) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrDrainInProgress
	}
	defer r.mu.Unlock()

	if r.drainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.drainTimeout)
		defer cancel()
	}

	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx)
		if err != nil {
			return Report{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire pending sync lock")
		}
		if !ok {
			return Report{}, ErrDrainInProgress
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
				r.logg.Error(ctx, "pending_sync.lock.release_failed", err)
			}
		}()
	}

	entries, err := r.queue.ListAll(ctx)
	if err != nil {
		return Report{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pending orders")
	}

	report := Report{Failures: []Failure{}}
	if len(entries) == 0 {
		r.observeDepth(0)
		return report, nil
	}

	synced := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, done := synced[entry.OrderNumber]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, Failure{OrderNumber: entry.OrderNumber, Error: err.Error()})
			continue
		}
		if err := r.syncEntry(ctx, entry); err != nil {
			report.Failures = append(report.Failures, Failure{OrderNumber: entry.OrderNumber, Error: err.Error()})
			logCtx := r.logg.WithOrderNumber(ctx, entry.OrderNumber)
			r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "pending_sync.entry.failed")
			continue
		}
		synced[entry.OrderNumber] = struct{}{}
	}
	report.Synced = len(synced)

	remaining := len(entries) - countQueued(entries, synced)
	if len(synced) > 0 {
		removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		remaining, err = r.queue.RemoveByOrderNumber(removeCtx, synced)
		cancel()
		if err != nil {
			r.record(report)
			return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove synced orders from outbox")
		}
	}
	report.Remaining = remaining
	r.record(report)

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"synced":    report.Synced,
		"failed":    len(report.Failures),
		"remaining": remaining,
	})
	r.logg.Info(logCtx, "pending_sync.drain.complete")
	return report, nil
}

func (r *Reconciler) syncEntry(ctx context.Context, entry outbox.Entry) error {
	var payload orders.OrderPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Errorf("decode queued payload: %w", err)
	}
	order := payload.ToOrder(entry.OrderNumber)
	if !entry.CreatedAt.IsZero() {
		order.CreatedAt = entry.CreatedAt
		order.UpdatedAt = entry.CreatedAt
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	err := r.orders.Create(writeCtx, order)
	if err == nil {
		return nil
	}
	if errors.Is(err, orders.ErrDuplicateOrderNumber) {
		r.logg.Info(r.logg.WithOrderNumber(ctx, entry.OrderNumber), "pending_sync.entry.already_present")
		return nil
	}
	return err
}

func (r *Reconciler) record(report Report) {
	if r.metrics == nil {
		return
	}
	r.metrics.AddSynced(report.Synced)
	r.metrics.AddSyncFailed(len(report.Failures))
	r.metrics.SetOutboxDepth(report.Remaining)
}

func (r *Reconciler) observeDepth(depth int) {
	if r.metrics != nil {
		r.metrics.SetOutboxDepth(depth)
	}
}

func countQueued(entries []outbox.Entry, numbers map[string]struct{}) int {
	n := 0
	for _, e := range entries {
		if _, ok := numbers[e.OrderNumber]; ok {
			n++
		}
	}
	return n
}
