package postgres

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestAsPgError_UnwrapsWrappedErrors(t *testing.T) {
	t.Parallel()

	base := &pgconn.PgError{Code: UniqueViolationCode, ConstraintName: "car_images_pkey"}
	pe, ok := AsPgError(fmt.Errorf("insert: %w", base))
	if !ok || pe.Code != UniqueViolationCode {
		t.Fatalf("AsPgError()=%v,%v", pe, ok)
	}
	if _, ok := AsPgError(fmt.Errorf("plain")); ok {
		t.Fatalf("AsPgError(plain) ok=true")
	}
}
