package core

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/containers"
)

const AVG_COUNT = 30

// Metrics keeps rolling frame-time and per-stage GPU-time averages over the
// last AVG_COUNT samples.
type Metrics struct {
	frameTimes         *containers.RingQueue[float64]
	stageTimes         map[string]*containers.RingQueue[float64]
	stageOrder         []string
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		frameTimes: containers.NewRingQueue[float64](AVG_COUNT),
		stageTimes: make(map[string]*containers.RingQueue[float64]),
	}
}

// Update records one frame that took frameElapsedTime seconds.
func (m *Metrics) Update(frameElapsedTime float64) {
	frameMS := frameElapsedTime * 1000.0
	m.frameTimes.Push(frameMS)

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

// RecordStage records the GPU time of one stage in microseconds.
func (m *Metrics) RecordStage(name string, us float64) {
	q, ok := m.stageTimes[name]
	if !ok {
		q = containers.NewRingQueue[float64](AVG_COUNT)
		m.stageTimes[name] = q
		m.stageOrder = append(m.stageOrder, name)
	}
	q.Push(us)
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

// FrameTime returns the average frame time in milliseconds.
func (m *Metrics) FrameTime() float64 {
	return average(m.frameTimes)
}

// StageTime returns the average GPU time of a stage in microseconds.
func (m *Metrics) StageTime(name string) float64 {
	q, ok := m.stageTimes[name]
	if !ok {
		return 0
	}
	return average(q)
}

// Stages returns the recorded stage names in first-seen order.
func (m *Metrics) Stages() []string {
	return append([]string(nil), m.stageOrder...)
}

func average(q *containers.RingQueue[float64]) float64 {
	if q.IsEmpty() {
		return 0
	}
	var sum float64
	q.Each(func(v float64) { sum += v })
	return sum / float64(q.Len())
}

var onceMetrics sync.Once
var metricsState *Metrics = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = NewMetrics()
	})
	return nil
}

func MetricsUpdate(frameElapsedTime float64) {
	metricsState.Update(frameElapsedTime)
}

// MetricsRecordStage is a no-op until MetricsInitialize has run.
func MetricsRecordStage(name string, us float64) {
	if metricsState == nil {
		return
	}
	metricsState.RecordStage(name, us)
}

func MetricsFPS() float64 {
	return metricsState.FPS()
}

func MetricsFrameTime() float64 {
	return metricsState.FrameTime()
}

func MetricsFrame() (float64, float64) {
	return metricsState.FPS(), metricsState.FrameTime()
}

func MetricsStageTime(name string) float64 {
	return metricsState.StageTime(name)
}
