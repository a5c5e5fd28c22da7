package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Constant(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConstant_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0
	err := Constant(func() error {
		calls++
		return sentinel
	}, time.Millisecond, 3)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestExponential_RejectsZeroInterval(t *testing.T) {
	err := Exponential(func() error { return nil }, ExponentialConfig{})
	assert.Error(t, err)
}

func TestExponential_NotifiesOnRetry(t *testing.T) {
	retries := 0
	calls := 0
	err := Exponential(func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, ExponentialConfig{
		InitialInterval: time.Millisecond,
		OnRetry:         func(error, time.Duration) { retries++ },
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, retries)
}
