package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
)

func TestRepositoryCreateAndFind(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	order := bpcPayload().ToOrder("48213")
	require.NoError(t, repo.Create(ctx, order))

	found, err := repo.FindByNumber(ctx, "48213")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, enums.OrderStatusPending, found.Status)
	assert.Equal(t, "bank_transfer", found.PaymentMethod)
	assert.Equal(t, "Ada", found.FirstName)
	assert.Equal(t, "4000", found.Postcode)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "bpc-157", found.Items[0].ProductID)
	assert.True(t, found.Items[0].UnitPrice.Equal(money("90")))
	assert.True(t, found.Subtotal.Equal(money("180")))
	assert.True(t, found.Total.Equal(money("200")))

	exists, err := repo.Exists(ctx, "48213")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "11111")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepositoryCreateDuplicateNumber(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, bpcPayload().ToOrder("48213")))
	err := repo.Create(ctx, bpcPayload().ToOrder("48213"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateOrderNumber), "got %v", err)
}

func TestRepositoryListChangedSince(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	old := bpcPayload().ToOrder("10001")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	old.UpdatedAt = old.CreatedAt
	require.NoError(t, repo.Create(ctx, old))

	fresh := bpcPayload().ToOrder("10002")
	require.NoError(t, repo.Create(ctx, fresh))

	rows, err := repo.ListChangedSince(ctx, time.Now().UTC().Add(-time.Hour), 200)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "10002", rows[0].OrderNumber)

	recent, err := repo.ListRecent(ctx, 200)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "10002", recent[0].OrderNumber)
}

func TestRepositoryUpdateStatus(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, bpcPayload().ToOrder("48213")))
	require.NoError(t, repo.UpdateStatus(ctx, "48213", enums.OrderStatusShipped))

	found, err := repo.FindByNumber(ctx, "48213")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, found.Status)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "99999", enums.OrderStatusPaid), ErrOrderNotFound)

	_, err = repo.FindByNumber(ctx, "99999")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
