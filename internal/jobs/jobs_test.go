package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueue(t *testing.T) {
	t.Parallel()

	engine := NewEngine(context.Background())

	okID := engine.Enqueue(func(context.Context) error { return nil })
	failID := engine.Enqueue(func(context.Context) error { return fmt.Errorf("boom") })
	require.NotEqual(t, okID, failID)

	require.Eventually(t, func() bool {
		status, ok := engine.Status(okID)
		return ok && status == StatusCompleted
	}, time.Second*5, time.Millisecond*10)

	require.Eventually(t, func() bool {
		status, ok := engine.Status(failID)
		return ok && status == StatusFailed
	}, time.Second*5, time.Millisecond*10)
}

func TestStatusUnknownID(t *testing.T) {
	t.Parallel()

	engine := NewEngine(context.Background())
	_, ok := engine.Status("nope")
	require.False(t, ok)
}

func TestJobsInheritBaseContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(ctx)
	cancel()

	id := engine.Enqueue(func(ctx context.Context) error { return ctx.Err() })
	require.Eventually(t, func() bool {
		status, ok := engine.Status(id)
		return ok && status == StatusFailed
	}, time.Second*5, time.Millisecond*10)
}
