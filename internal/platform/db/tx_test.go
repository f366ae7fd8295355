package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/repairflow/internal/shared"
)

func TestTranslateErrorConflicts(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := TranslateError(fmt.Errorf("lock order: %w", &pgconn.PgError{Code: code, Message: "could not serialize access"}))
		require.ErrorIs(t, err, shared.ErrStaleWorkflowState, code)
		require.True(t, shared.IsRetryable(err))
	}
}

func TestTranslateErrorPassthrough(t *testing.T) {
	require.NoError(t, TranslateError(nil))

	unique := &pgconn.PgError{Code: "23505"}
	require.Same(t, unique, TranslateError(unique))

	plain := errors.New("boom")
	require.Equal(t, plain, TranslateError(plain))
}

func TestIsNoRows(t *testing.T) {
	require.True(t, IsNoRows(fmt.Errorf("get order: %w", pgx.ErrNoRows)))
	require.False(t, IsNoRows(errors.New("other")))
}
