package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kartapay/soltx/pkg/retry/backoff"
)

func TestRetry_NoStrategies(t *testing.T) {
	err := errors.New("terminal")

	calls := 0
	attempts, actual := Retry(func() error {
		calls++
		if calls < 3 {
			return err
		}
		return nil
	})
	assert.Equal(t, uint(3), attempts)
	assert.NoError(t, actual)
}

func TestRetry_Limit(t *testing.T) {
	err := errors.New("failure")

	calls := 0
	attempts, actual := Retry(func() error {
		calls++
		return err
	}, Limit(3))
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint(3), attempts)
	assert.Equal(t, err, actual)
}

func TestRetry_RetriableErrors(t *testing.T) {
	retriable := errors.New("retriable")
	terminal := errors.New("terminal")

	calls := 0
	attempts, actual := Retry(func() error {
		calls++
		if calls < 3 {
			return retriable
		}
		return terminal
	}, RetriableErrors(retriable))
	assert.Equal(t, uint(3), attempts)
	assert.Equal(t, terminal, actual)
}

func TestRetry_NonRetriableErrors(t *testing.T) {
	retriable := errors.New("retriable")
	terminal := errors.New("terminal")

	calls := 0
	attempts, actual := Retry(func() error {
		calls++
		if calls < 3 {
			return retriable
		}
		return terminal
	}, NonRetriableErrors(terminal))
	assert.Equal(t, uint(3), attempts)
	assert.Equal(t, terminal, actual)
}

func TestRetry_Backoff(t *testing.T) {
	err := errors.New("failure")

	start := time.Now()
	attempts, actual := Retry(func() error {
		return err
	}, Limit(4), Backoff(backoff.Constant(50*time.Millisecond), time.Second))
	assert.Equal(t, uint(4), attempts)
	assert.Equal(t, err, actual)
	assert.True(t, time.Since(start) >= 150*time.Millisecond)
}
