package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
	pqErr := &pq.Error{Code: "23505", Constraint: "orders_order_number_key"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgx any", err: fmt.Errorf("insert: %w", pgxErr), want: true},
		{name: "pgx matching constraint", err: pgxErr, constraint: "order_number", want: true},
		{name: "pgx other constraint", err: pgxErr, constraint: "orders_pkey", want: false},
		{name: "pgx other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "pq matching", err: pqErr, constraint: "order_number", want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: orders.order_number"), constraint: "order_number", want: true},
		{name: "plain", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.True(t, IsUnavailable(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "08006"})))
	assert.True(t, IsUnavailable(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, IsUnavailable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUnavailable(nil))
}
