package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodePayloadTooLarge, status: http.StatusRequestEntityTooLarge, publicMsg: "request body too large", detailsOK: true},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", retryable: true},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key conflict", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if got := wrapped.Error(); got != "CONFLICT: ctx: boom" {
		t.Fatalf("unexpected error string %q", got)
	}
	if got := Newf(CodeNotFound, "order %s not found", "48213").Error(); got != "NOT_FOUND: order 48213 not found" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Wrap(CodeDependency, stdErrors.New("dial tcp"), "insert order")) {
		t.Fatalf("dependency errors should be retryable")
	}
	if IsRetryable(fmt.Errorf("submit: %w", New(CodeValidation, "bad email"))) {
		t.Fatalf("validation errors are final")
	}
	if !IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("untyped errors default to internal")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestHasCodeFollowsWrappedChain(t *testing.T) {
	inner := New(CodeDependency, "order store unavailable")
	outer := fmt.Errorf("submit: %w", inner)
	if !HasCode(outer, CodeDependency) {
		t.Fatalf("expected wrapped dependency code to be detected")
	}
	if HasCode(outer, CodeValidation) {
		t.Fatalf("did not expect validation code")
	}
	if HasCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestDumpExtractsPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key", TableName: "orders", Message: "duplicate key value violates unique constraint"}
	err := Wrap(CodeConflict, pgErr, "insert order")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if dump.PGCode != "23505" || dump.PGConstraint != "orders_order_number_key" {
		t.Fatalf("unexpected pg details %+v", dump)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", dump.Chain)
	}

	fields := dump.Fields()
	if fields["pg_table"] != "orders" {
		t.Fatalf("expected pg_table field, got %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty pg fields should be omitted: %v", fields)
	}
}

func TestDumpSQLiteConstraint(t *testing.T) {
	dump := Dump(Wrap(CodeDependency, stdErrors.New("UNIQUE constraint failed: orders.order_number"), "insert order"))
	if dump.SQLiteMessage == "" {
		t.Fatalf("expected sqlite message to be captured: %+v", dump)
	}
	if dump.PGCode != "" {
		t.Fatalf("sqlite error should not populate pg fields")
	}
}
