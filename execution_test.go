package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewExecution(t *testing.T) {
	execution := NewExecution("demo", map[string]any{"key": "value"})
	require.NotEmpty(t, execution.ID)
	require.Contains(t, execution.ID, "exec_")
	require.Equal(t, "demo", execution.WorkflowID)
	require.Equal(t, StatusPending, execution.Status)
	require.Equal(t, map[string]any{"key": "value"}, execution.Parameters)
	require.True(t, execution.StartedAt.IsZero())
	require.True(t, execution.CompletedAt.IsZero())
	require.Nil(t, execution.Result)
	require.Empty(t, execution.Error)
}

func TestExecutionIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := NewExecutionID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.True(t, StatusSucceeded.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusTimedOut.Terminal())
}

func TestExecutionTransitions(t *testing.T) {
	t.Run("pending to running stamps start time", func(t *testing.T) {
		execution := NewExecution("demo", nil)
		running, err := execution.Start()
		require.NoError(t, err)
		require.Equal(t, StatusRunning, running.Status)
		require.False(t, running.StartedAt.IsZero())

		// The original record is untouched.
		require.Equal(t, StatusPending, execution.Status)
		require.True(t, execution.StartedAt.IsZero())
	})

	t.Run("running to succeeded records the result", func(t *testing.T) {
		running := mustStart(t, NewExecution("demo", nil))
		done, err := running.Succeed(map[string]any{"ok": true})
		require.NoError(t, err)
		require.Equal(t, StatusSucceeded, done.Status)
		require.Equal(t, map[string]any{"ok": true}, done.Result)
		require.Empty(t, done.Error)
		require.False(t, done.CompletedAt.IsZero())
	})

	t.Run("running to failed records the error", func(t *testing.T) {
		running := mustStart(t, NewExecution("demo", nil))
		done, err := running.Fail(errors.New("remote exploded"))
		require.NoError(t, err)
		require.Equal(t, StatusFailed, done.Status)
		require.Nil(t, done.Result)
		require.Equal(t, "remote exploded", done.Error)
	})

	t.Run("running to cancelled and timed out", func(t *testing.T) {
		running := mustStart(t, NewExecution("demo", nil))

		cancelled, err := running.Cancel(errors.New("caller gave up"))
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, cancelled.Status)
		require.Equal(t, "caller gave up", cancelled.Error)

		timedOut, err := running.Timeout(errors.New("out of time"))
		require.NoError(t, err)
		require.Equal(t, StatusTimedOut, timedOut.Status)
		require.Equal(t, "out of time", timedOut.Error)
	})

	t.Run("pending record may fail before starting", func(t *testing.T) {
		execution := NewExecution("demo", nil)
		done, err := execution.Fail(errors.New("vetoed"))
		require.NoError(t, err)
		require.Equal(t, StatusFailed, done.Status)
	})

	t.Run("cannot succeed without running", func(t *testing.T) {
		execution := NewExecution("demo", nil)
		_, err := execution.Succeed("result")
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot succeed")
	})

	t.Run("cannot start twice", func(t *testing.T) {
		running := mustStart(t, NewExecution("demo", nil))
		_, err := running.Start()
		require.Error(t, err)
	})

	t.Run("terminal records never transition again", func(t *testing.T) {
		running := mustStart(t, NewExecution("demo", nil))
		done, err := running.Succeed("result")
		require.NoError(t, err)

		_, err = done.Start()
		require.Error(t, err)
		_, err = done.Succeed("again")
		require.Error(t, err)
		_, err = done.Fail(errors.New("late failure"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "already finished")
		_, err = done.Cancel(errors.New("late cancel"))
		require.Error(t, err)
		_, err = done.Timeout(errors.New("late timeout"))
		require.Error(t, err)
	})

	t.Run("failure transitions require a cause", func(t *testing.T) {
		running := mustStart(t, NewExecution("demo", nil))
		_, err := running.Fail(nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "without an error")
	})
}

func TestExecutionTerminalHasExactlyOneOutcome(t *testing.T) {
	running := mustStart(t, NewExecution("demo", nil))

	succeeded, err := running.Succeed("value")
	require.NoError(t, err)
	require.NotNil(t, succeeded.Result)
	require.Empty(t, succeeded.Error)

	failed, err := running.Fail(errors.New("nope"))
	require.NoError(t, err)
	require.Nil(t, failed.Result)
	require.NotEmpty(t, failed.Error)
}

func TestExecutionDuration(t *testing.T) {
	execution := NewExecution("demo", nil)
	_, ok := execution.Duration()
	require.False(t, ok)

	running := mustStart(t, execution)
	_, ok = running.Duration()
	require.False(t, ok)

	done, err := running.Succeed("result")
	require.NoError(t, err)
	d, ok := done.Duration()
	require.True(t, ok)
	require.GreaterOrEqual(t, d, time.Duration(0))

	// A skewed clock can never produce a negative duration.
	skewed := done.Clone()
	skewed.CompletedAt = skewed.StartedAt.Add(-time.Second)
	d, ok = skewed.Duration()
	require.True(t, ok)
	require.Equal(t, time.Duration(0), d)
}

func TestExecutionCloneIsolation(t *testing.T) {
	execution := NewExecution("demo", map[string]any{"a": 1})
	execution.Metadata["note"] = "original"

	clone := execution.Clone()
	clone.Parameters["a"] = 2
	clone.Metadata["note"] = "changed"

	require.Equal(t, 1, execution.Parameters["a"])
	require.Equal(t, "original", execution.Metadata["note"])
}

func TestExecutionWithMetadata(t *testing.T) {
	execution := NewExecution("demo", nil)
	annotated := execution.WithMetadata("trace", "abc123")
	require.Equal(t, "abc123", annotated.Metadata["trace"])
	require.NotContains(t, execution.Metadata, "trace")
}

func TestExecutionSummary(t *testing.T) {
	running := mustStart(t, NewExecution("demo", nil))
	done, err := running.Fail(errors.New("boom"))
	require.NoError(t, err)

	summary := done.Summary()
	require.Equal(t, done.ID, summary.ExecutionID)
	require.Equal(t, "demo", summary.WorkflowID)
	require.Equal(t, string(StatusFailed), summary.Status)
	require.Equal(t, "boom", summary.Error)
	require.GreaterOrEqual(t, summary.Duration, time.Duration(0))
}

func mustStart(t *testing.T, execution *Execution) *Execution {
	t.Helper()
	running, err := execution.Start()
	require.NoError(t, err)
	return running
}
