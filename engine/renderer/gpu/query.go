package gpu

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

// TimestampQueries is a pool of GPU timestamps. On devices without timestamp
// support every call is a no-op and Results reports nothing.
type TimestampQueries struct {
	ctx    *Context
	handle driver.QueryPool
	count  uint32
	period float32
}

func NewTimestampQueries(ctx *Context, count uint32) (*TimestampQueries, error) {
	q := &TimestampQueries{ctx: ctx, count: count, period: ctx.Limits.TimestampPeriod}
	if !ctx.Limits.TimestampsSupported || count == 0 {
		return q, nil
	}
	handle, err := ctx.Device.CreateQueryPool(count)
	if err != nil {
		return nil, core.Fatal(errors.Wrap(err, "creating timestamp query pool"))
	}
	q.handle = handle
	return q, nil
}

func (q *TimestampQueries) Enabled() bool {
	return q.handle != 0
}

func (q *TimestampQueries) Count() uint32 {
	return q.count
}

func (q *TimestampQueries) Reset(cb *CommandBuffer) error {
	if !q.Enabled() {
		return nil
	}
	return cb.ResetQueries(q.handle, 0, q.count)
}

func (q *TimestampQueries) Write(cb *CommandBuffer, stage driver.PipelineStageFlags, index uint32) error {
	if !q.Enabled() {
		return nil
	}
	if index >= q.count {
		return q.ctx.violation("timestamp %d out of %d", index, q.count)
	}
	return cb.WriteTimestamp(stage, q.handle, index)
}

// Results returns the timestamps converted to microseconds. ok is false while
// any of them is still pending.
func (q *TimestampQueries) Results() (micros []float64, ok bool, err error) {
	if !q.Enabled() {
		return nil, false, nil
	}
	ticks, err := q.ctx.Device.GetQueryResults(q.handle, 0, q.count)
	if errors.Is(err, driver.ErrNotReady) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.Fatal(errors.Wrap(err, "reading timestamps"))
	}
	micros = make([]float64, len(ticks))
	for i, t := range ticks {
		micros[i] = float64(t) * float64(q.period) / 1000
	}
	return micros, true, nil
}

func (q *TimestampQueries) Destroy() {
	if q.handle != 0 {
		q.ctx.Device.DestroyQueryPool(q.handle)
		q.handle = 0
	}
}
