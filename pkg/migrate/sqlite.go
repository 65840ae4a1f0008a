package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the Postgres orders migrations for local sqlite stores.
// It has no change-feed trigger; the stream endpoint needs Postgres.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL,
  email TEXT NOT NULL,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  phone TEXT,
  country TEXT NOT NULL DEFAULT 'Australia',
  address1 TEXT NOT NULL,
  address2 TEXT,
  suburb TEXT NOT NULL,
  state TEXT NOT NULL,
  postcode TEXT NOT NULL,
  note TEXT,
  promo_code TEXT,
  promo_discount NUMERIC NOT NULL DEFAULT 0,
  payment_method TEXT NOT NULL DEFAULT 'bank_transfer',
  status TEXT NOT NULL DEFAULT 'pending',
  items TEXT NOT NULL DEFAULT '[]',
  subtotal NUMERIC NOT NULL,
  shipping NUMERIC NOT NULL DEFAULT 0,
  total NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT orders_order_number_key UNIQUE (order_number)
);`,
	`CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at);`,
	`CREATE INDEX IF NOT EXISTS orders_updated_at_idx ON orders (updated_at);`,
}

// EnsureSQLiteSchema creates the orders table on a sqlite connection.
func EnsureSQLiteSchema(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	for _, stmt := range sqliteSchema {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}
