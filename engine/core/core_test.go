package core

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestMetricsRollingAverage(t *testing.T) {
	m := NewMetrics()
	require.Zero(t, m.FrameTime())

	for i := 0; i < AVG_COUNT; i++ {
		m.Update(0.010)
	}
	require.InDelta(t, 10.0, m.FrameTime(), 1e-9)

	// a full window of 20ms samples replaces every 10ms sample
	for i := 0; i < AVG_COUNT; i++ {
		m.Update(0.020)
	}
	require.InDelta(t, 20.0, m.FrameTime(), 1e-9)
}

func TestMetricsStages(t *testing.T) {
	m := NewMetrics()
	m.RecordStage("depth", 100)
	m.RecordStage("render", 300)
	m.RecordStage("depth", 200)

	require.Equal(t, []string{"depth", "render"}, m.Stages())
	require.InDelta(t, 150.0, m.StageTime("depth"), 1e-9)
	require.InDelta(t, 300.0, m.StageTime("render"), 1e-9)
	require.Zero(t, m.StageTime("bloom"))
}

func TestEventBus(t *testing.T) {
	b := NewEventBus()
	calls := []string{}

	first := b.Register(EVENT_CODE_RESIZED, func(ctx EventContext) bool {
		calls = append(calls, "first")
		return false
	})
	b.Register(EVENT_CODE_RESIZED, func(ctx EventContext) bool {
		calls = append(calls, "second")
		require.Equal(t, uint32(640), ctx.Width)
		return true
	})
	b.Register(EVENT_CODE_RESIZED, func(ctx EventContext) bool {
		calls = append(calls, "third")
		return false
	})

	require.True(t, b.Fire(EventContext{Type: EVENT_CODE_RESIZED, Width: 640, Height: 480}))
	require.Equal(t, []string{"first", "second"}, calls)

	require.True(t, b.Unregister(EVENT_CODE_RESIZED, first))
	require.False(t, b.Unregister(EVENT_CODE_RESIZED, first))
	require.False(t, b.Fire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
}

func TestErrorTaxonomy(t *testing.T) {
	testCases := map[string]struct {
		err          error
		fatal        bool
		booting      bool
		precondition bool
	}{
		"fatal": {
			err:   Fatalf("device lost on queue %d", 0),
			fatal: true,
		},
		"wrapped fatal": {
			err:   errors.Wrap(Fatal(errors.New("out of device memory")), "creating buffer"),
			fatal: true,
		},
		"booting nil": {
			err:     Booting(nil),
			booting: true,
		},
		"booting wrapped": {
			err:     Booting(errors.New("out of date")),
			booting: true,
		},
		"precondition": {
			err:          Preconditionf("draw without pipeline"),
			precondition: true,
		},
		"plain": {
			err: errors.New("plain"),
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.fatal, IsFatal(tc.err))
			require.Equal(t, tc.booting, IsBooting(tc.err))
			require.Equal(t, tc.precondition, IsPrecondition(tc.err))
		})
	}
	require.Nil(t, Fatal(nil))
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("INFO"))
	require.NoError(t, SetLogLevel("debug"))
	require.Error(t, SetLogLevel("loud"))
}
