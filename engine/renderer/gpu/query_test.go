package gpu

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

func TestTimestampQueries(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	q, err := NewTimestampQueries(ctx, 2)
	require.NoError(t, err)
	defer q.Destroy()
	require.True(t, q.Enabled())

	_, ok, err := q.Results()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ctx.Immediate(driver.QueueGraphics, func(cb *CommandBuffer) error {
		if err := q.Reset(cb); err != nil {
			return err
		}
		if err := q.Write(cb, driver.StageTopOfPipe, 0); err != nil {
			return err
		}
		return q.Write(cb, driver.StageBottomOfPipe, 1)
	}))

	micros, ok, err := q.Results()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, micros, 2)
	require.InDelta(t, 1.0, micros[1]-micros[0], 1e-9)
	requireNoViolations(t, dev)
}

func TestTimestampQueriesOutOfRange(t *testing.T) {
	ctx, _ := newTestContext(t, true)
	q, err := NewTimestampQueries(ctx, 2)
	require.NoError(t, err)
	defer q.Destroy()

	err = ctx.Immediate(driver.QueueGraphics, func(cb *CommandBuffer) error {
		return q.Write(cb, driver.StageTopOfPipe, 2)
	})
	require.True(t, core.IsPrecondition(err))
}

func TestTimestampQueriesUnsupported(t *testing.T) {
	ctx, dev := newTestContext(t, true, drivertest.WithLimits(driver.Limits{NonCoherentAtomSize: 64}))
	q, err := NewTimestampQueries(ctx, 8)
	require.NoError(t, err)
	defer q.Destroy()

	require.False(t, q.Enabled())
	require.Equal(t, 0, dev.Live(drivertest.KindQueryPool))
	require.NoError(t, ctx.Immediate(driver.QueueGraphics, func(cb *CommandBuffer) error {
		return q.Write(cb, driver.StageTopOfPipe, 0)
	}))
	micros, ok, err := q.Results()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, micros)
}

func TestFenceWaitTimeoutIsFatal(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	fence, err := NewFence(ctx, false)
	require.NoError(t, err)
	defer fence.Destroy()

	cmds, err := NewCommandPool(ctx, driver.QueueGraphics, driver.CommandBufferPrimary, true)
	require.NoError(t, err)
	defer cmds.Destroy()
	cb, err := cmds.Allocate()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(true))
	require.NoError(t, cb.End())
	require.NoError(t, Submit(ctx, driver.QueueGraphics, []Submission{{CommandBuffers: []*CommandBuffer{cb}}}, fence))

	dev.SetHangFences(true)
	err = fence.Wait(10 * time.Millisecond)
	require.True(t, core.IsFatal(err))
	require.True(t, errors.Is(err, driver.ErrTimeout))
	require.False(t, fence.IsSignaled())

	dev.SetHangFences(false)
	require.NoError(t, fence.Wait(10*time.Millisecond))
	require.True(t, fence.IsSignaled())
	require.NoError(t, fence.Reset())
	require.False(t, fence.IsSignaled())
}
