package gpu

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
)

type memoryStats struct {
	count int
	bytes uint64
}

// WriteStatistics emits per-heap and per-type allocation totals and the list
// of dedicated allocations.
func (a *MemoryAllocator) WriteStatistics(writer *jwriter.Writer) {
	heaps := make([]memoryStats, len(a.props.Heaps))
	types := make([]memoryStats, len(a.props.Types))
	var dedicated []*MemoryAllocation

	a.live.Iter(func(_ driver.Memory, alloc *MemoryAllocation) bool {
		heaps[alloc.heapIndex].count++
		heaps[alloc.heapIndex].bytes += alloc.size
		types[alloc.typeIndex].count++
		types[alloc.typeIndex].bytes += alloc.size
		if alloc.Dedicated {
			dedicated = append(dedicated, alloc)
		}
		return false
	})
	slices.SortFunc(dedicated, func(x, y *MemoryAllocation) int {
		switch {
		case x.handle < y.handle:
			return -1
		case x.handle > y.handle:
			return 1
		default:
			return 0
		}
	})

	obj := writer.Object()
	defer obj.End()

	obj.Name("TotalAllocations").Int(a.live.Count())

	heapArr := obj.Name("Heaps").Array()
	for i, h := range a.props.Heaps {
		o := heapArr.Object()
		o.Name("Index").Int(i)
		o.Name("Size").Float64(float64(h.Size))
		o.Name("DeviceLocal").Bool(h.Flags&driver.MemoryHeapDeviceLocal != 0)
		o.Name("Allocations").Int(heaps[i].count)
		o.Name("AllocatedBytes").Float64(float64(heaps[i].bytes))
		o.End()
	}
	heapArr.End()

	typeArr := obj.Name("Types").Array()
	for i, t := range a.props.Types {
		if types[i].count == 0 {
			continue
		}
		o := typeArr.Object()
		o.Name("Index").Int(i)
		o.Name("Heap").Int(int(t.HeapIndex))
		o.Name("Allocations").Int(types[i].count)
		o.Name("AllocatedBytes").Float64(float64(types[i].bytes))
		o.End()
	}
	typeArr.End()

	dedArr := obj.Name("Dedicated").Array()
	for _, alloc := range dedicated {
		o := dedArr.Object()
		alloc.printParameters(&o)
		o.End()
	}
	dedArr.End()
}

func (m *MemoryAllocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Type").Int(int(m.typeIndex))
	json.Name("Size").Float64(float64(m.size))
	json.Name("References").Int(int(m.refs.Count()))
	json.Name("Mapped").Bool(m.mapped != nil)
}

// StatisticsJSON renders WriteStatistics into a byte slice.
func (a *MemoryAllocator) StatisticsJSON() []byte {
	w := jwriter.NewWriter()
	a.WriteStatistics(&w)
	return w.Bytes()
}
