package gpu

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

type commandFixture struct {
	*pipelineFixture
	fb       *Framebuffer
	set      *PipelineSet
	pipeline *Pipeline
	vertices *Buffer
	indices  *Buffer
	pool     *CommandPool
}

func newCommandFixture(t *testing.T, strict bool) *commandFixture {
	t.Helper()
	f := newPipelineFixture(t)
	f.ctx.Strict = strict
	c := &commandFixture{pipelineFixture: f}

	var err error
	_, c.fb = testPass(t, f.ctx, f.normal.Config())
	c.set, err = NewPipelineSet(f.ctx, f.spec())
	require.NoError(t, err)
	c.pipeline, err = c.set.Get(VariantNormal)
	require.NoError(t, err)
	c.vertices = hostBuffer(t, f.ctx, 1024, driver.BufferUsageVertex)
	c.indices = hostBuffer(t, f.ctx, 256, driver.BufferUsageIndex)
	c.pool, err = NewCommandPool(f.ctx, driver.QueueGraphics, driver.CommandBufferPrimary, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.pool.Destroy()
		c.indices.Destroy()
		c.vertices.Destroy()
		c.set.Destroy()
	})
	return c
}

func (c *commandFixture) primary(t *testing.T) *CommandBuffer {
	t.Helper()
	cb, err := c.pool.Allocate()
	require.NoError(t, err)
	require.Equal(t, CommandBufferStateReady, cb.State())
	return cb
}

func (c *commandFixture) inPass(t *testing.T, contents driver.SubpassContents) *CommandBuffer {
	t.Helper()
	cb := c.primary(t)
	require.NoError(t, cb.Begin(false))
	require.NoError(t, c.normal.Begin(cb, c.fb, contents))
	require.Equal(t, CommandBufferStateInRenderPass, cb.State())
	return cb
}

var commandPreconditionTestCases = map[string]func(t *testing.T, c *commandFixture) error{
	"draw outside a render pass": func(t *testing.T, c *commandFixture) error {
		cb := c.primary(t)
		require.NoError(t, cb.Begin(false))
		require.NoError(t, cb.BindPipeline(c.pipeline))
		return cb.Draw(3, 1, 0, 0)
	},
	"draw without a pipeline": func(t *testing.T, c *commandFixture) error {
		return c.inPass(t, driver.SubpassContentsInline).Draw(3, 1, 0, 0)
	},
	"draw indexed without an index buffer": func(t *testing.T, c *commandFixture) error {
		cb := c.inPass(t, driver.SubpassContentsInline)
		require.NoError(t, cb.BindPipeline(c.pipeline))
		return cb.DrawIndexed(3, 1, 0, 0, 0)
	},
	"draw in a pass begun for secondaries": func(t *testing.T, c *commandFixture) error {
		cb := c.inPass(t, driver.SubpassContentsSecondary)
		require.NoError(t, cb.BindPipeline(c.pipeline))
		return cb.Draw(3, 1, 0, 0)
	},
	"copy inside a render pass": func(t *testing.T, c *commandFixture) error {
		return c.inPass(t, driver.SubpassContentsInline).CopyBuffer(c.vertices, c.indices)
	},
	"end inside a render pass": func(t *testing.T, c *commandFixture) error {
		return c.inPass(t, driver.SubpassContentsInline).End()
	},
	"begin twice": func(t *testing.T, c *commandFixture) error {
		cb := c.primary(t)
		require.NoError(t, cb.Begin(false))
		return cb.Begin(false)
	},
	"nested render pass": func(t *testing.T, c *commandFixture) error {
		cb := c.inPass(t, driver.SubpassContentsInline)
		return c.normal.Begin(cb, c.fb, driver.SubpassContentsInline)
	},
	"end pass without a pass": func(t *testing.T, c *commandFixture) error {
		cb := c.primary(t)
		require.NoError(t, cb.Begin(false))
		return c.normal.End(cb)
	},
	"reset queries inside a render pass": func(t *testing.T, c *commandFixture) error {
		q, err := NewTimestampQueries(c.ctx, 4)
		require.NoError(t, err)
		t.Cleanup(q.Destroy)
		return q.Reset(c.inPass(t, driver.SubpassContentsInline))
	},
	"execute a secondary that was not ended": func(t *testing.T, c *commandFixture) error {
		owner := uuid.New()
		pool, err := c.ctx.TakeSecondaryPool(owner)
		require.NoError(t, err)
		t.Cleanup(func() { c.ctx.ReturnSecondaryPool(owner, pool) })
		secondary, err := pool.Allocate()
		require.NoError(t, err)
		require.NoError(t, secondary.StartSubmission(c.normal, c.fb))
		return c.inPass(t, driver.SubpassContentsSecondary).ExecuteCommands(secondary)
	},
	"execute into an inline pass": func(t *testing.T, c *commandFixture) error {
		owner := uuid.New()
		pool, err := c.ctx.TakeSecondaryPool(owner)
		require.NoError(t, err)
		t.Cleanup(func() { c.ctx.ReturnSecondaryPool(owner, pool) })
		secondary, err := pool.Allocate()
		require.NoError(t, err)
		require.NoError(t, secondary.StartSubmission(c.normal, c.fb))
		require.NoError(t, secondary.End())
		return c.inPass(t, driver.SubpassContentsInline).ExecuteCommands(secondary)
	},
	"primary continuing a render pass": func(t *testing.T, c *commandFixture) error {
		return c.primary(t).StartSubmission(c.normal, c.fb)
	},
	"record into a buffer that is not recording": func(t *testing.T, c *commandFixture) error {
		return c.primary(t).SetViewport(64, 64)
	},
}

func TestCommandBufferPreconditions(t *testing.T) {
	for testName, setup := range commandPreconditionTestCases {
		t.Run(testName+" strict", func(t *testing.T) {
			c := newCommandFixture(t, true)
			err := setup(t, c)
			require.Error(t, err)
			require.True(t, core.IsPrecondition(err))
			require.False(t, core.IsFatal(err))
		})
		t.Run(testName+" lenient", func(t *testing.T) {
			c := newCommandFixture(t, false)
			require.NoError(t, setup(t, c))
			// the offending command was skipped, so the driver saw nothing wrong
			requireNoViolations(t, c.dev)
		})
	}
}

func TestCommandBufferInlineFrame(t *testing.T) {
	c := newCommandFixture(t, true)
	fence, err := NewFence(c.ctx, false)
	require.NoError(t, err)
	defer fence.Destroy()

	cb := c.inPass(t, driver.SubpassContentsInline)
	require.NoError(t, cb.SetViewport(64, 64))
	require.NoError(t, cb.SetScissor(64, 64))
	require.NoError(t, cb.BindPipeline(c.pipeline))
	require.NoError(t, cb.BindVertexBuffers(0, []*Buffer{c.vertices}, nil))
	require.NoError(t, cb.BindIndexBuffer(c.indices, 0, driver.IndexTypeUint32))
	require.NoError(t, cb.DrawIndexed(6, 1, 0, 0, 0))
	require.NoError(t, cb.Draw(3, 1, 0, 0))
	require.NoError(t, c.normal.End(cb))
	require.NoError(t, cb.End())
	require.Equal(t, CommandBufferStateRecordingEnded, cb.State())

	require.NoError(t, Submit(c.ctx, driver.QueueGraphics, []Submission{{CommandBuffers: []*CommandBuffer{cb}}}, fence))
	require.Equal(t, CommandBufferStateSubmitted, cb.State())
	require.Equal(t, 2, c.dev.DrawCalls())

	require.NoError(t, fence.Wait(c.ctx.FrameTimeout))
	require.True(t, fence.IsSignaled())
	requireNoViolations(t, c.dev)
}

func TestSubmitRequiresEndedBuffers(t *testing.T) {
	c := newCommandFixture(t, true)
	cb := c.primary(t)
	require.NoError(t, cb.Begin(true))

	err := Submit(c.ctx, driver.QueueGraphics, []Submission{{CommandBuffers: []*CommandBuffer{cb}}}, nil)
	require.True(t, core.IsPrecondition(err))
	require.Equal(t, 0, c.dev.Submits())
}

func TestSecondaryCommandBuffers(t *testing.T) {
	c := newCommandFixture(t, true)
	owner := uuid.New()
	fence, err := NewFence(c.ctx, false)
	require.NoError(t, err)
	defer fence.Destroy()

	var pools []*CommandPool
	var secondaries []*CommandBuffer
	for i := 0; i < 3; i++ {
		pool, err := c.ctx.TakeSecondaryPool(owner)
		require.NoError(t, err)
		pool.AttachFence(fence)
		secondary, err := pool.Allocate()
		require.NoError(t, err)
		require.Equal(t, driver.CommandBufferSecondary, secondary.Level())

		require.NoError(t, secondary.StartSubmission(c.normal, c.fb))
		require.NoError(t, secondary.SetViewport(64, 64))
		require.NoError(t, secondary.BindPipeline(c.pipeline))
		require.NoError(t, secondary.Draw(3, 1, 0, 0))
		require.NoError(t, secondary.End())
		pools = append(pools, pool)
		secondaries = append(secondaries, secondary)
	}

	cb := c.inPass(t, driver.SubpassContentsSecondary)
	require.NoError(t, cb.ExecuteCommands(secondaries...))
	require.NoError(t, c.normal.End(cb))
	require.NoError(t, cb.End())
	require.NoError(t, Submit(c.ctx, driver.QueueGraphics, []Submission{{CommandBuffers: []*CommandBuffer{cb}}}, fence))
	require.Equal(t, 3, c.dev.DrawCalls())
	for _, s := range secondaries {
		require.Equal(t, CommandBufferStateSubmitted, s.State())
	}

	// resetting before the fence signals would race the GPU
	require.True(t, core.IsPrecondition(pools[0].Reset()))

	require.NoError(t, fence.Wait(c.ctx.FrameTimeout))
	for _, p := range pools {
		c.ctx.ReturnSecondaryPool(owner, p)
	}

	again, err := c.ctx.TakeSecondaryPool(owner)
	require.NoError(t, err)
	require.Contains(t, pools, again)
	for _, s := range secondaries {
		if s.pool == again {
			require.Equal(t, CommandBufferStateReady, s.State())
		}
	}
	c.ctx.ReturnSecondaryPool(owner, again)

	c.ctx.FreeSecondaryPools(owner)
	require.Equal(t, 1, c.dev.Live(drivertest.KindCommandPool))
	requireNoViolations(t, c.dev)
}

func TestImmediateFallsBackToGraphicsQueue(t *testing.T) {
	ctx, dev := newTestContext(t, true, drivertest.WithoutQueue(driver.QueueTransfer))
	require.Equal(t, driver.QueueGraphics, ctx.TransferQueue())

	src := hostBuffer(t, ctx, 64, driver.BufferUsageTransferSrc)
	defer src.Destroy()
	dst := hostBuffer(t, ctx, 64, driver.BufferUsageTransferDst)
	defer dst.Destroy()
	data, err := src.Map()
	require.NoError(t, err)
	data[10] = 7

	require.NoError(t, ctx.Immediate(driver.QueueTransfer, func(cb *CommandBuffer) error {
		return cb.CopyBuffer(src, dst)
	}))
	require.Equal(t, byte(7), dev.BufferContents(dst.Handle())[10])
	requireNoViolations(t, dev)
}
