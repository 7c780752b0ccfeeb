package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionFinish(t *testing.T) {
	t.Run("PendingToOK", func(t *testing.T) {
		e := &Execution{Status: StatusPending}
		elapsed := 1500 * time.Millisecond

		require.True(t, e.Finish(StatusOK, &elapsed))
		assert.Equal(t, StatusOK, e.Status)
		require.NotNil(t, e.ExecutionTimeMs)
		assert.Equal(t, int64(1500), *e.ExecutionTimeMs)
	})

	t.Run("InterruptWithoutElapsed", func(t *testing.T) {
		e := &Execution{Status: StatusPending}

		require.True(t, e.Finish(StatusInterrupted, nil))
		assert.Equal(t, StatusInterrupted, e.Status)
		assert.Nil(t, e.ExecutionTimeMs)
	})

	t.Run("OKIsNeverDowngraded", func(t *testing.T) {
		e := &Execution{Status: StatusPending}
		elapsed := time.Second
		require.True(t, e.Finish(StatusOK, &elapsed))

		later := 5 * time.Second
		assert.False(t, e.Finish(StatusInterrupted, &later))
		assert.Equal(t, StatusOK, e.Status)
		assert.Equal(t, int64(1000), *e.ExecutionTimeMs)
	})
}

func TestExecutionClone(t *testing.T) {
	ms := int64(10)
	now := time.Now()
	e := &Execution{ID: "a", ExecutionTimeMs: &ms, ExecutedAt: &now}

	c := e.Clone()
	*c.ExecutionTimeMs = 20
	*c.ExecutedAt = now.Add(time.Hour)

	assert.Equal(t, int64(10), *e.ExecutionTimeMs)
	assert.True(t, e.ExecutedAt.Equal(now))
}
