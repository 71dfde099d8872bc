package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo() *PostgresRepository {
	return &PostgresRepository{delays: []time.Duration{time.Millisecond, time.Millisecond}}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, want: true},
		{name: "deadlock", err: fmt.Errorf("update: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "other", err: errors.New("syntax error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})))
	assert.False(t, isUniqueViolation(errors.New("unique")))
}

func TestWithRetry(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		r := newTestRepo()
		calls := 0
		err := r.withRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after all delays", func(t *testing.T) {
		r := newTestRepo()
		calls := 0
		err := r.withRetry(context.Background(), func() error {
			calls++
			return errors.New("connection reset by peer")
		})
		require.Error(t, err)
		assert.Equal(t, len(r.delays)+1, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		r := newTestRepo()
		calls := 0
		err := r.withRetry(context.Background(), func() error {
			calls++
			return &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		r := &PostgresRepository{delays: []time.Duration{time.Hour}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := r.withRetry(ctx, func() error {
			return errors.New("broken pipe")
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestAmount(t *testing.T) {
	assert.Equal(t, "120.00", amount(decimal.NewFromInt(120)))
	assert.Equal(t, "0.10", amount(decimal.RequireFromString("0.1")))

	d, err := parseAmount("59.90")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("59.9").Equal(d))

	_, err = parseAmount("abc")
	require.Error(t, err)
}

func TestNullableJSON(t *testing.T) {
	assert.Nil(t, nullableJSON(nil))
	assert.Equal(t, `{"city":"Lviv"}`, nullableJSON([]byte(`{"city":"Lviv"}`)))
}
