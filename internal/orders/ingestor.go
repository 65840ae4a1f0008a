package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/metrics"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxInsertAttempts   = 3
)

// QueuedWarning is returned to the customer when the order was accepted into the outbox.
const QueuedWarning = "order %s was queued for sync; the order store is currently unavailable"

type numberAllocator interface {
	Allocate(ctx context.Context) (string, bool)
	Fallback(ctx context.Context) string
}

type pendingQueue interface {
	Append(ctx context.Context, entry outbox.Entry) error
}

// Notifier delivers order notifications. Independent failures come back
// combined with multierr so each one can be surfaced as a warning.
type Notifier interface {
	NotifyOrderPlaced(ctx context.Context, order *models.Order) error
}

// IngestMetrics records ingestion outcomes.
type IngestMetrics interface {
	IncSubmitted(outcome string)
}

// IngestorParams wires an Ingestor.
type IngestorParams struct {
	Repo         Repository
	Allocator    numberAllocator
	Outbox       pendingQueue
	Notifier     Notifier
	Catalog      PriceCatalog
	Metrics      IngestMetrics
	Logger       *logger.Logger
	WriteTimeout time.Duration
}

// Ingestor accepts storefront orders and records them durably, falling back
// to the local outbox when the order store is unavailable.
type Ingestor struct {
	repo         Repository
	alloc        numberAllocator
	outbox       pendingQueue
	notifier     Notifier
	catalog      PriceCatalog
	metrics      IngestMetrics
	logg         *logger.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

// NewIngestor validates params and builds an Ingestor.
func NewIngestor(params IngestorParams) (*Ingestor, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("order number allocator required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := params.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Ingestor{
		repo:         params.Repo,
		alloc:        params.Allocator,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		catalog:      params.Catalog,
		metrics:      params.Metrics,
		logg:         params.Logger,
		writeTimeout: timeout,
		now:          time.Now,
	}, nil
}

// Submit validates, numbers and records an order. A store failure is not an
// error for the caller: the order is queued and a warning is returned.
func (i *Ingestor) Submit(ctx context.Context, payload OrderPayload) (SubmitResult, error) {
	payload.Normalize()
	if err := validatePayload(payload, i.catalog); err != nil {
		i.record(metrics.OutcomeRejected)
		return SubmitResult{}, err
	}

	number, degraded := i.alloc.Allocate(ctx)
	var (
		order    *models.Order
		storeErr error
	)
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		order = payload.ToOrder(number)
		storeErr = i.insert(ctx, order)
		if storeErr == nil || !errors.Is(storeErr, ErrDuplicateOrderNumber) {
			break
		}

		logCtx := i.logg.WithFields(ctx, map[string]any{
			"order_number": number,
			"attempt":      attempt,
		})
		i.logg.Warn(logCtx, "orders.submit.duplicate_number")
		if attempt == maxInsertAttempts {
			i.record(metrics.OutcomeFailed)
			return SubmitResult{}, pkgerrors.Wrap(pkgerrors.CodeConflict, storeErr, "could not allocate a unique order number")
		}
		if attempt == maxInsertAttempts-1 {
			number, degraded = i.alloc.Fallback(ctx), true
		} else {
			number, degraded = i.alloc.Allocate(ctx)
		}
	}

	result := SubmitResult{
		OrderNumber: number,
		Subtotal:    payload.Subtotal,
		Total:       payload.Total,
		Degraded:    degraded,
	}
	ctx = i.logg.WithOrderNumber(ctx, number)

	if storeErr != nil {
		if err := i.enqueue(ctx, number, payload, storeErr); err != nil {
			i.record(metrics.OutcomeFailed)
			return SubmitResult{}, err
		}
		result.Queued = true
		result.Warnings = append(result.Warnings, fmt.Sprintf(QueuedWarning, number))
		i.record(metrics.OutcomeQueued)
	} else {
		i.logg.Info(ctx, "orders.submit.stored")
		i.record(metrics.OutcomeStored)
	}

	result.Warnings = append(result.Warnings, i.notify(ctx, order)...)
	return result, nil
}

func (i *Ingestor) insert(ctx context.Context, order *models.Order) error {
	writeCtx, cancel := context.WithTimeout(ctx, i.writeTimeout)
	defer cancel()
	return i.repo.Create(writeCtx, order)
}

func (i *Ingestor) enqueue(ctx context.Context, number string, payload OrderPayload, storeErr error) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode queued order")
	}
	entry := outbox.Entry{
		OrderNumber: number,
		Payload:     raw,
		CreatedAt:   i.now().UTC(),
	}
	if err := i.outbox.Append(ctx, entry); err != nil {
		combined := multierr.Append(storeErr, err)
		i.logg.Error(ctx, "orders.submit.outbox_failed", combined)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, combined, "order could not be recorded")
	}
	i.logg.Warn(i.logg.WithField(ctx, "store_error", storeErr.Error()), "orders.submit.queued")
	return nil
}

func (i *Ingestor) notify(ctx context.Context, order *models.Order) []string {
	if i.notifier == nil || order == nil {
		return nil
	}
	err := i.notifier.NotifyOrderPlaced(ctx, order)
	if err == nil {
		return nil
	}
	var warnings []string
	for _, e := range multierr.Errors(err) {
		warnings = append(warnings, e.Error())
	}
	i.logg.Warn(i.logg.WithField(ctx, "warnings", warnings), "orders.submit.notification_failed")
	return warnings
}

func (i *Ingestor) record(outcome string) {
	if i.metrics != nil {
		i.metrics.IncSubmitted(outcome)
	}
}
