package orders

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/migrate"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, migrate.EnsureSQLiteSchema(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "orders-test", Level: zerolog.Disabled, Output: io.Discard})
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// bpcPayload is two BPC-157 vials at 90 with 20 shipping.
func bpcPayload() OrderPayload {
	return OrderPayload{
		Email: "researcher@example.com",
		Shipping: ShippingPayload{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Address1:  "1 Queen St",
			Suburb:    "Brisbane City",
			State:     "QLD",
			Postcode:  "4000",
			Country:   "Australia",
		},
		PaymentMethod: "Direct bank transfer",
		ShippingCost:  money("20"),
		Items: []ItemPayload{
			{ID: "bpc-157", ProductID: "bpc-157", Name: "BPC-157", Price: money("90"), Quantity: 2},
		},
		Subtotal: money("180"),
		Total:    money("200"),
	}
}
