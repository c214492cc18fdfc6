package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocksSerializeSameKey(t *testing.T) {
	locks := NewLocalLocks()
	ctx := context.Background()

	unlock, err := locks.Acquire(ctx, "delegation:a", time.Second)
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(timeout, "delegation:a", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	unlockB, err := locks.Acquire(ctx, "delegation:b", time.Second)
	require.NoError(t, err)
	unlockB()

	unlock()
	unlock() // second call is a no-op

	unlock, err = locks.Acquire(ctx, "delegation:a", time.Second)
	require.NoError(t, err)
	unlock()

	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}
