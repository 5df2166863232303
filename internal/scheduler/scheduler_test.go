package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsDuplicateNames(t *testing.T) {
	m := New()
	require.NoError(t, m.Add("heartbeat", 0, time.Second, func(*Task) Result { return Wait }))
	err := m.Add("heartbeat", 0, time.Second, func(*Task) Result { return Wait })
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestRunInvokesDoneTaskOnceThenRemoves(t *testing.T) {
	m := New()
	runs := 0
	require.NoError(t, m.Add("once", 0, 0, func(*Task) Result {
		runs++
		return Done
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, m.Len())
}

func TestContinueReRunsWithoutDelay(t *testing.T) {
	m := New()
	runs := 0
	require.NoError(t, m.Add("spin", 0, time.Hour, func(*Task) Result {
		runs++
		if runs >= 3 {
			return Done
		}
		return Continue
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	assert.GreaterOrEqual(t, runs, 3)
}

func TestWaitRespectsDelayBeforeRunningAgain(t *testing.T) {
	m := New()
	var runTimes []time.Time
	require.NoError(t, m.Add("periodic", 0, 40*time.Millisecond, func(*Task) Result {
		runTimes = append(runTimes, time.Now())
		return Wait
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 130*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	require.GreaterOrEqual(t, len(runTimes), 2)
	gap := runTimes[1].Sub(runTimes[0])
	assert.GreaterOrEqual(t, gap, 30*time.Millisecond)
}

func TestPriorityOrdersSameTickTasks(t *testing.T) {
	m := New()
	var order []string

	require.NoError(t, m.Add("low-priority-first", 5, time.Hour, func(*Task) Result {
		order = append(order, "low-priority-first")
		return Wait
	}))
	require.NoError(t, m.Add("high-priority-first", 1, time.Hour, func(*Task) Result {
		order = append(order, "high-priority-first")
		return Wait
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	require.Len(t, order, 2)
	assert.Equal(t, "high-priority-first", order[0])
}
