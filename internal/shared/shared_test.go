package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsMatchSentinel(t *testing.T) {
	err := fmt.Errorf("create order: %w", ValidationErrors{"serial_no": "required", "quantity": "must be positive"})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "create order: validation failed: quantity: must be positive; serial_no: required", err.Error())

	var fields ValidationErrors
	require.True(t, errors.As(err, &fields))
	require.Len(t, fields, 2)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(fmt.Errorf("lock order: %w", ErrStaleWorkflowState)))
	require.False(t, IsRetryable(ErrInvalidTransition))
	require.False(t, IsRetryable(nil))
}

func TestDisplayCode(t *testing.T) {
	at := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "WO25-0042", DisplayCode("WO", at, 42))
	require.Equal(t, "CH25-12345", DisplayCode("CH", at, 12345))
}

func TestStockLockKeyStable(t *testing.T) {
	a := StockLockKey("p1", "w1")
	require.Equal(t, a, StockLockKey("p1", "w1"))
	require.NotEqual(t, a, StockLockKey("p1", "w2"))
}

func TestPaginationOffset(t *testing.T) {
	p := NewPagination(3, 10, 45)
	require.Equal(t, 20, p.Offset())
	require.Equal(t, 5, p.TotalPages)
	require.True(t, p.HasNext)
	require.False(t, NewPagination(5, 10, 45).HasNext)

	p = NewPagination(0, 0, 0)
	require.Equal(t, 0, p.Offset())
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 0, p.TotalPages)

	require.Equal(t, 100, NewPagination(1, 500, 0).PerPage)
}

func TestAuditLogValidate(t *testing.T) {
	require.NoError(t, AuditLog{Action: "order.created", Entity: "order", EntityID: "o1"}.Validate())
	err := AuditLog{Action: "order.created", Entity: "order"}.Validate()
	require.ErrorIs(t, err, ErrValidation)
	var fields ValidationErrors
	require.True(t, errors.As(err, &fields))
	require.Contains(t, fields, "entity_id")
}
