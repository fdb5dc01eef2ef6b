package frame

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// StageTimings are the GPU times of one completed frame. They are read when
// the frame's slot comes around again, so they trail the current frame by
// the number of frames in flight.
type StageTimings struct {
	Frame  uint64
	Valid  bool
	Micros [stageCount]float64
}

// Stage returns the microseconds spent in s.
func (t StageTimings) Stage(s Stage) float64 {
	if s >= stageCount {
		return 0
	}
	return t.Micros[s]
}

func (t StageTimings) Total() float64 {
	var total float64
	for _, us := range t.Micros {
		total += us
	}
	return total
}

func (t StageTimings) WriteJSON(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("Frame").Int(int(t.Frame))
	obj.Name("Valid").Bool(t.Valid)
	obj.Name("Total").Float64(t.Total())
	stages := obj.Name("Stages").Object()
	for _, s := range Stages() {
		stages.Name(s.String()).Float64(t.Micros[s])
	}
	stages.End()
}

// timingsFrom turns the begin and end timestamps of every stage into
// durations.
func timingsFrom(frame uint64, micros []float64) StageTimings {
	t := StageTimings{Frame: frame}
	if len(micros) < 2*int(stageCount) {
		return t
	}
	for _, s := range Stages() {
		begin, end := s.queries()
		t.Micros[s] = max(micros[end]-micros[begin], 0)
	}
	t.Valid = true
	return t
}
