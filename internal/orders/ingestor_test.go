package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
)

type stubRepo struct {
	Repository
	create  func(ctx context.Context, order *models.Order) error
	created []*models.Order
}

func (s *stubRepo) Create(ctx context.Context, order *models.Order) error {
	if s.create != nil {
		if err := s.create(ctx, order); err != nil {
			return err
		}
	}
	s.created = append(s.created, order)
	return nil
}

func (s *stubRepo) Exists(context.Context, string) (bool, error) {
	return false, nil
}

type stubAllocator struct {
	numbers   []string
	fallbacks int
}

func (s *stubAllocator) Allocate(context.Context) (string, bool) {
	n := s.numbers[0]
	s.numbers = s.numbers[1:]
	return n, false
}

func (s *stubAllocator) Fallback(context.Context) string {
	s.fallbacks++
	return fmt.Sprintf("17000000000000%d", s.fallbacks)
}

type recordingNotifier struct {
	orders []*models.Order
	err    error
}

func (r *recordingNotifier) NotifyOrderPlaced(_ context.Context, order *models.Order) error {
	r.orders = append(r.orders, order)
	return r.err
}

type staticCatalog map[string]string

func (c staticCatalog) UnitPrice(id string) (decimal.Decimal, bool) {
	v, ok := c[id]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(v), true
}

type queueRecorder struct {
	entries []outbox.Entry
	err     error
}

func (q *queueRecorder) Append(_ context.Context, entry outbox.Entry) error {
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, entry)
	return nil
}

func newTestIngestor(t *testing.T, repo Repository, alloc numberAllocator, queue pendingQueue, notifier Notifier) *Ingestor {
	t.Helper()
	ing, err := NewIngestor(IngestorParams{
		Repo:      repo,
		Allocator: alloc,
		Outbox:    queue,
		Notifier:  notifier,
		Catalog:   staticCatalog{"bpc-157": "90"},
		Logger:    newTestLogger(),
	})
	require.NoError(t, err)
	return ing
}

func TestSubmitQueuesWhenStoreUnavailable(t *testing.T) {
	queue, err := outbox.New(outbox.Options{Path: filepath.Join(t.TempDir(), "pending-orders.json")})
	require.NoError(t, err)

	repo := &stubRepo{create: func(context.Context, *models.Order) error {
		return errors.New(`relation "orders" does not exist`)
	}}
	store := &memoryNumbers{}
	alloc := newTestAllocator(t, store, nil, nil)
	notifier := &recordingNotifier{}
	ing := newTestIngestor(t, repo, alloc, queue, notifier)

	result, err := ing.Submit(context.Background(), bpcPayload())
	require.NoError(t, err)

	assert.Regexp(t, fiveDigits, result.OrderNumber)
	assert.True(t, result.Subtotal.Equal(money("180")))
	assert.True(t, result.Total.Equal(money("200")))
	assert.True(t, result.Queued)
	assert.Equal(t, []string{fmt.Sprintf(QueuedWarning, result.OrderNumber)}, result.Warnings)

	entries, err := queue.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.OrderNumber, entries[0].OrderNumber)

	var queued OrderPayload
	require.NoError(t, json.Unmarshal(entries[0].Payload, &queued))
	assert.Equal(t, "researcher@example.com", queued.Email)
	assert.True(t, queued.Total.Equal(money("200")))

	require.Len(t, notifier.orders, 1, "customers are notified for queued orders too")
	assert.Equal(t, result.OrderNumber, notifier.orders[0].OrderNumber)
}

func TestSubmitStoresOrder(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	queue := &queueRecorder{}
	ing := newTestIngestor(t, repo, &stubAllocator{numbers: []string{"48213"}}, queue, &recordingNotifier{})

	result, err := ing.Submit(context.Background(), bpcPayload())
	require.NoError(t, err)
	assert.Equal(t, "48213", result.OrderNumber)
	assert.False(t, result.Queued)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, queue.entries)

	stored, err := repo.FindByNumber(context.Background(), "48213")
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(money("200")))
}

func TestSubmitNotificationFailuresBecomeWarnings(t *testing.T) {
	notifier := &recordingNotifier{err: multierr.Combine(
		errors.New("owner notification failed: sendgrid returned 401"),
		errors.New("customer confirmation failed: sendgrid returned 401"),
	)}
	ing := newTestIngestor(t, &stubRepo{}, &stubAllocator{numbers: []string{"48213"}}, &queueRecorder{}, notifier)

	result, err := ing.Submit(context.Background(), bpcPayload())
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 2)
}

func TestSubmitRetriesDuplicateNumbersThenUsesFallback(t *testing.T) {
	attempts := 0
	repo := &stubRepo{create: func(_ context.Context, order *models.Order) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
		}
		return nil
	}}
	alloc := &stubAllocator{numbers: []string{"10001", "10002"}}
	ing := newTestIngestor(t, repo, alloc, &queueRecorder{}, nil)

	result, err := ing.Submit(context.Background(), bpcPayload())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, alloc.fallbacks)
	assert.True(t, result.Degraded)
	assert.Equal(t, "170000000000001", result.OrderNumber)
}

func TestSubmitGivesUpAfterThreeDuplicates(t *testing.T) {
	queue := &queueRecorder{}
	repo := &stubRepo{create: func(_ context.Context, order *models.Order) error {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}}
	ing := newTestIngestor(t, repo, &stubAllocator{numbers: []string{"10001", "10002"}}, queue, nil)

	_, err := ing.Submit(context.Background(), bpcPayload())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	assert.Empty(t, queue.entries, "duplicates must never be queued")
}

func TestSubmitOutboxFailureIsDependencyError(t *testing.T) {
	repo := &stubRepo{create: func(context.Context, *models.Order) error { return errors.New("dial tcp: connection refused") }}
	queue := &queueRecorder{err: errors.New("disk full")}
	notifier := &recordingNotifier{}
	ing := newTestIngestor(t, repo, &stubAllocator{numbers: []string{"48213"}}, queue, notifier)

	_, err := ing.Submit(context.Background(), bpcPayload())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, notifier.orders)
}

func TestSubmitValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *OrderPayload)
		message string
		field   string
	}{
		{name: "email", mutate: func(p *OrderPayload) { p.Email = "not-an-email" }, message: "Valid email is required", field: "email"},
		{name: "first name", mutate: func(p *OrderPayload) { p.Shipping.FirstName = "   " }, message: "First name is required", field: "shipping.firstName"},
		{name: "postcode", mutate: func(p *OrderPayload) { p.Shipping.Postcode = "" }, message: "Postcode is required", field: "shipping.postcode"},
		{name: "payment", mutate: func(p *OrderPayload) { p.PaymentMethod = "" }, message: "Payment method is required", field: "paymentMethod"},
		{name: "empty cart", mutate: func(p *OrderPayload) {
			p.Items = []ItemPayload{}
			p.Subtotal = decimal.Zero
			p.Total = money("20")
		}, message: "Cart cannot be empty", field: "items"},
		{name: "quantity", mutate: func(p *OrderPayload) {
			p.Items[0].Quantity = 0
			p.Subtotal = decimal.Zero
			p.Total = money("20")
		}, message: "items[0].quantity must be at least 1", field: "items[0].quantity"},
		{name: "subtotal", mutate: func(p *OrderPayload) {
			p.Subtotal = money("170")
			p.Total = money("190")
		}, message: "Subtotal 170.00 does not match items (expected 180.00)", field: "subtotal"},
		{name: "total", mutate: func(p *OrderPayload) { p.Total = money("180") }, message: "Total 180.00 does not equal subtotal plus shipping (expected 200.00)", field: "total"},
		{name: "catalog price", mutate: func(p *OrderPayload) {
			p.Items[0].Price = money("1")
			p.Subtotal = money("2")
			p.Total = money("22")
		}, message: "Price for BPC-157 does not match the catalog", field: "items[0].price"},
		{name: "unknown product", mutate: func(p *OrderPayload) { p.Items[0].ProductID = "mystery" }, message: "Unknown product BPC-157", field: "items[0].productId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{}
			queue := &queueRecorder{}
			notifier := &recordingNotifier{}
			ing := newTestIngestor(t, repo, &stubAllocator{numbers: []string{"48213"}}, queue, notifier)

			payload := bpcPayload()
			tt.mutate(&payload)
			_, err := ing.Submit(context.Background(), payload)
			require.Error(t, err)

			appErr := pkgerrors.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
			assert.Contains(t, appErr.Message(), tt.message)
			details, ok := appErr.Details().(map[string]string)
			require.True(t, ok)
			assert.Contains(t, details, tt.field)

			assert.Empty(t, repo.created)
			assert.Empty(t, queue.entries)
			assert.Empty(t, notifier.orders)
		})
	}
}

func TestSubmitAcceptsPromoDiscount(t *testing.T) {
	ing := newTestIngestor(t, &stubRepo{}, &stubAllocator{numbers: []string{"48213"}}, &queueRecorder{}, nil)

	payload := bpcPayload()
	code := "RESEARCH10"
	discount := money("18")
	payload.PromoCode = &code
	payload.PromoDiscount = &discount
	payload.Subtotal = money("162")
	payload.Total = money("182")

	result, err := ing.Submit(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, result.Total.Equal(money("182")))
}

type stalledRepo struct {
	Repository
	stallExists bool
}

func (s *stalledRepo) Exists(ctx context.Context, _ string) (bool, error) {
	if !s.stallExists {
		return false, nil
	}
	<-ctx.Done()
	return false, ctx.Err()
}

func (s *stalledRepo) Create(ctx context.Context, _ *models.Order) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSubmitQueuesWhenStoreHangs(t *testing.T) {
	tests := []struct {
		name        string
		stallExists bool
	}{
		{name: "insert hangs"},
		{name: "existence check and insert hang", stallExists: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stalledRepo{stallExists: tt.stallExists}
			node, err := snowflake.NewNode(3)
			require.NoError(t, err)
			alloc, err := NewAllocator(AllocatorParams{
				Store:        repo,
				Logger:       newTestLogger(),
				Node:         node,
				CheckTimeout: 20 * time.Millisecond,
			})
			require.NoError(t, err)

			queue := &queueRecorder{}
			ing, err := NewIngestor(IngestorParams{
				Repo:         repo,
				Allocator:    alloc,
				Outbox:       queue,
				Notifier:     &recordingNotifier{},
				Catalog:      staticCatalog{"bpc-157": "90"},
				Logger:       newTestLogger(),
				WriteTimeout: 50 * time.Millisecond,
			})
			require.NoError(t, err)

			done := make(chan SubmitResult, 1)
			go func() {
				result, err := ing.Submit(context.Background(), bpcPayload())
				assert.NoError(t, err)
				done <- result
			}()

			select {
			case result := <-done:
				assert.True(t, result.Queued)
				assert.Equal(t, []string{fmt.Sprintf(QueuedWarning, result.OrderNumber)}, result.Warnings)
				require.Len(t, queue.entries, 1)
				assert.Equal(t, result.OrderNumber, queue.entries[0].OrderNumber)
			case <-time.After(2 * time.Second):
				t.Fatal("Submit did not return within its store timeouts")
			}
		})
	}
}
