package gpu

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/driver/drivertest"
)

func twoTypeProperties(first, second driver.MemoryPropertyFlags) driver.MemoryProperties {
	return driver.MemoryProperties{
		Heaps: []driver.MemoryHeap{
			{Size: 64 << 20, Flags: driver.MemoryHeapDeviceLocal},
			{Size: 64 << 20},
		},
		Types: []driver.MemoryType{
			{PropertyFlags: first, HeapIndex: 0},
			{PropertyFlags: second, HeapIndex: 1},
		},
	}
}

var findMemoryTypeTestCases = map[string]struct {
	props    driver.MemoryProperties
	criteria MemoryCriteria
	expected uint32
	fails    bool
}{
	"device local only beats host visible only": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Must, HostVisible: MustNot},
		expected: 0,
	},
	"order of the types does not matter": {
		props:    twoTypeProperties(driver.MemoryHostVisible, driver.MemoryDeviceLocal),
		criteria: MemoryCriteria{DeviceLocal: Must, HostVisible: MustNot},
		expected: 1,
	},
	"preferred outweighs dont care": {
		props:    twoTypeProperties(driver.MemoryHostVisible, driver.MemoryHostVisible|driver.MemoryHostCoherent),
		criteria: MemoryCriteria{HostVisible: Must, HostCoherent: Preferred},
		expected: 1,
	},
	"preferred not picks the type without the flag": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal|driver.MemoryHostVisible, driver.MemoryDeviceLocal),
		criteria: MemoryCriteria{DeviceLocal: Must, HostVisible: PreferredNot},
		expected: 1,
	},
	"ties go to the lowest index": {
		props:    twoTypeProperties(driver.MemoryHostVisible, driver.MemoryHostVisible),
		criteria: MemoryCriteria{HostVisible: Must},
		expected: 0,
	},
	"type bits exclude a better type": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Preferred, TypeBits: 0b10},
		expected: 1,
	},
	"protected memory is rejected unless allowed": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal|driver.MemoryProtected, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Preferred},
		expected: 1,
	},
	"protected memory is accepted when allowed": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal|driver.MemoryProtected, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Preferred, Allow: driver.MemoryProtected},
		expected: 0,
	},
	"lazily allocated memory is rejected": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal|driver.MemoryLazilyAllocated, driver.MemoryDeviceLocal),
		criteria: MemoryCriteria{DeviceLocal: Must},
		expected: 1,
	},
	"amd device coherent memory is rejected": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal|driver.MemoryDeviceCoherentAMD, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Must},
		fails:    true,
	},
	"heap too small": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Must, Size: 128 << 20},
		fails:    true,
	},
	"unsatisfiable must": {
		props:    twoTypeProperties(driver.MemoryDeviceLocal, driver.MemoryHostVisible),
		criteria: MemoryCriteria{DeviceLocal: Must, HostVisible: Must},
		fails:    true,
	},
}

func TestFindMemoryType(t *testing.T) {
	for testName, testCase := range findMemoryTypeTestCases {
		t.Run(testName, func(t *testing.T) {
			ctx, _ := newTestContext(t, true, drivertest.WithMemoryProperties(testCase.props))

			index, err := ctx.Allocator.FindMemoryType(testCase.criteria)
			if testCase.fails {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrNoMemoryType))
				require.True(t, core.IsFatal(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.expected, index)
		})
	}
}

// Every combination of criteria either fails or picks a type that meets
// every Must and MustNot.
func TestFindMemoryTypeHonoursMust(t *testing.T) {
	ctx, _ := newTestContext(t, true)
	props := drivertest.DefaultMemoryProperties()
	criteria := []Criterion{DontCare, Must, Preferred, PreferredNot, MustNot}
	flags := []driver.MemoryPropertyFlags{
		driver.MemoryDeviceLocal, driver.MemoryHostVisible, driver.MemoryHostCoherent, driver.MemoryHostCached,
	}

	satisfies := func(c [4]Criterion, typeFlags driver.MemoryPropertyFlags) bool {
		for i, flag := range flags {
			if c[i] == Must && !typeFlags.Has(flag) {
				return false
			}
			if c[i] == MustNot && typeFlags.Has(flag) {
				return false
			}
		}
		return true
	}

	for _, dl := range criteria {
		for _, hv := range criteria {
			for _, hc := range criteria {
				for _, cached := range criteria {
					c := [4]Criterion{dl, hv, hc, cached}
					index, err := ctx.Allocator.FindMemoryType(MemoryCriteria{
						DeviceLocal: dl, HostVisible: hv, HostCoherent: hc, HostCached: cached,
					})

					anySatisfies := false
					for _, mt := range props.Types {
						anySatisfies = anySatisfies || satisfies(c, mt.PropertyFlags)
					}
					if err != nil {
						require.False(t, anySatisfies, "criteria %v failed with a satisfying type", c)
						require.True(t, errors.Is(err, ErrNoMemoryType))
						continue
					}
					require.True(t, satisfies(c, props.Types[index].PropertyFlags), "criteria %v picked type %d", c, index)
				}
			}
		}
	}
}

func TestAllocationFlushAlignment(t *testing.T) {
	props := twoTypeProperties(driver.MemoryDeviceLocal, driver.MemoryHostVisible)
	ctx, dev := newTestContext(t, true, drivertest.WithMemoryProperties(props))

	alloc, err := ctx.Allocator.Allocate(MemoryCriteria{HostVisible: Must, Size: 1024}, false)
	require.NoError(t, err)
	defer alloc.Release()
	require.False(t, alloc.HostCoherent)

	require.NoError(t, alloc.Flush(100, 10))
	require.NoError(t, alloc.Flush(1000, 100))
	require.NoError(t, alloc.Flush(0, 1024))
	require.NoError(t, alloc.Flush(130, WholeSize))
	require.NoError(t, alloc.Flush(900, 1<<40))

	flushes := dev.Flushes()
	require.Len(t, flushes, 5)
	require.Equal(t, drivertest.MemoryRange{Memory: alloc.Handle(), Offset: 64, Size: 64}, flushes[0])
	require.Equal(t, drivertest.MemoryRange{Memory: alloc.Handle(), Offset: 960, Size: 64}, flushes[1])
	require.Equal(t, drivertest.MemoryRange{Memory: alloc.Handle(), Offset: 0, Size: 1024}, flushes[2])
	require.Equal(t, drivertest.MemoryRange{Memory: alloc.Handle(), Offset: 128, Size: 896}, flushes[3])
	require.Equal(t, drivertest.MemoryRange{Memory: alloc.Handle(), Offset: 896, Size: 128}, flushes[4])
}

func TestAllocationCoherentFlushIsNoop(t *testing.T) {
	ctx, dev := newTestContext(t, true)

	alloc, err := ctx.Allocator.Allocate(MemoryCriteria{HostVisible: Must, HostCoherent: Must, Size: 256}, false)
	require.NoError(t, err)
	defer alloc.Release()

	require.NoError(t, alloc.Flush(0, 256))
	require.NoError(t, alloc.Invalidate(0, 256))
	require.Empty(t, dev.Flushes())
}

func TestAllocationMapping(t *testing.T) {
	ctx, _ := newTestContext(t, true)

	host, err := ctx.Allocator.Allocate(MemoryCriteria{HostVisible: Must, Size: 128}, false)
	require.NoError(t, err)
	defer host.Release()

	first, err := host.Map()
	require.NoError(t, err)
	require.Len(t, first, 128)
	first[3] = 42
	second, err := host.Map()
	require.NoError(t, err)
	require.Equal(t, byte(42), second[3])

	device, err := ctx.Allocator.Allocate(MemoryCriteria{DeviceLocal: Must, HostVisible: MustNot, Size: 128}, false)
	require.NoError(t, err)
	defer device.Release()
	_, err = device.Map()
	require.True(t, core.IsPrecondition(err))
}

func TestAllocationSharedLifetime(t *testing.T) {
	ctx, dev := newTestContext(t, true)

	alloc, err := ctx.Allocator.Allocate(MemoryCriteria{HostVisible: Must, Size: 4096}, false)
	require.NoError(t, err)

	a, err := NewBuffer(ctx, 1024, driver.BufferUsageVertex)
	require.NoError(t, err)
	b, err := NewBuffer(ctx, 1024, driver.BufferUsageIndex)
	require.NoError(t, err)

	bufA, err := a.BindMemory(alloc, 0)
	require.NoError(t, err)
	bufB, err := b.BindMemory(alloc, 1024)
	require.NoError(t, err)
	alloc.Release()
	require.Equal(t, int32(2), alloc.References())

	bufA.Destroy()
	require.Equal(t, 1, ctx.Allocator.LiveCount())
	require.Equal(t, 1, dev.Live(drivertest.KindMemory))

	bufB.Destroy()
	require.Equal(t, 0, ctx.Allocator.LiveCount())
	require.Equal(t, 0, dev.Live(drivertest.KindMemory))
	requireNoViolations(t, dev)
}

func TestUnboundBufferConsumedOnce(t *testing.T) {
	ctx, dev := newTestContext(t, true)

	alloc, err := ctx.Allocator.Allocate(MemoryCriteria{HostVisible: Must, Size: 4096}, false)
	require.NoError(t, err)
	defer alloc.Release()

	u, err := NewBuffer(ctx, 256, driver.BufferUsageUniform)
	require.NoError(t, err)
	buf, err := u.BindMemory(alloc, 0)
	require.NoError(t, err)
	defer buf.Destroy()

	_, err = u.BindMemory(alloc, 256)
	require.True(t, core.IsPrecondition(err))

	tooBig, err := NewBuffer(ctx, 8192, driver.BufferUsageUniform)
	require.NoError(t, err)
	defer tooBig.Destroy()
	_, err = tooBig.BindMemory(alloc, 0)
	require.True(t, core.IsPrecondition(err))
	requireNoViolations(t, dev)
}

func TestAllocateDedicated(t *testing.T) {
	ctx, dev := newTestContext(t, true, drivertest.WithDedicatedAttachments())

	img, err := CreateAttachment(ctx, ImageConfig{
		Name: "hdr", Width: 32, Height: 32, Format: driver.FormatR16G16B16A16Sfloat,
		Usage: driver.ImageUsageColourAttachment | driver.ImageUsageSampled,
	})
	require.NoError(t, err)
	require.True(t, img.Memory().Dedicated)
	require.True(t, img.Memory().DeviceLocal)

	texture, err := CreateImage(ctx, ImageConfig{
		Name: "albedo", Width: 32, Height: 32, Format: driver.FormatR8G8B8A8Unorm,
		Usage: driver.ImageUsageSampled | driver.ImageUsageTransferDst,
	}, MemoryCriteria{DeviceLocal: Preferred}, false)
	require.NoError(t, err)
	require.False(t, texture.Memory().Dedicated)

	img.Destroy()
	texture.Destroy()
	require.Equal(t, 0, dev.Live(drivertest.KindMemory))
	require.Equal(t, 0, dev.Live(drivertest.KindImage))
}

func TestAllocateHonoursResourceTypeBits(t *testing.T) {
	// Resources accept types 1 (host coherent) and 3 (device local and host
	// visible) of the default layout.
	testCases := map[string]struct {
		criteria MemoryCriteria
		expected uint32
		fails    bool
	}{
		"resource mask alone": {
			criteria: MemoryCriteria{DeviceLocal: Preferred},
			expected: 3,
		},
		"caller mask inside the resource mask": {
			criteria: MemoryCriteria{DeviceLocal: Preferred, TypeBits: 0b0010},
			expected: 1,
		},
		"caller mask outside the resource mask": {
			criteria: MemoryCriteria{DeviceLocal: Preferred, TypeBits: 0b0101},
			fails:    true,
		},
		"must only met outside the resource mask": {
			criteria: MemoryCriteria{HostCached: Must},
			fails:    true,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			ctx, dev := newTestContext(t, true, drivertest.WithResourceTypeBits(0b1010))

			unbound, err := NewBuffer(ctx, 256, driver.BufferUsageVertex)
			require.NoError(t, err)
			defer unbound.Destroy()
			bufAlloc, bufErr := ctx.Allocator.AllocateForBuffer(unbound, tc.criteria, false)

			img, err := NewImage(ctx, ImageConfig{
				Name: "albedo", Width: 8, Height: 8, Format: driver.FormatR8G8B8A8Unorm,
				Usage: driver.ImageUsageSampled | driver.ImageUsageTransferDst,
			})
			require.NoError(t, err)
			defer img.Destroy()
			imgAlloc, imgErr := ctx.Allocator.AllocateForImage(img, tc.criteria, false)

			if tc.fails {
				for _, err := range []error{bufErr, imgErr} {
					require.Error(t, err)
					require.True(t, errors.Is(err, ErrNoMemoryType))
					require.True(t, core.IsFatal(err))
				}
				require.Equal(t, 0, dev.Live(drivertest.KindMemory))
				return
			}
			require.NoError(t, bufErr)
			require.NoError(t, imgErr)
			defer bufAlloc.Release()
			defer imgAlloc.Release()
			require.Equal(t, tc.expected, bufAlloc.TypeIndex())
			require.Equal(t, tc.expected, imgAlloc.TypeIndex())
			requireNoViolations(t, dev)
		})
	}
}

func TestBindRejectsIncompatibleMemoryType(t *testing.T) {
	ctx, dev := newTestContext(t, true, drivertest.WithResourceTypeBits(0b0010))

	alloc, err := ctx.Allocator.Allocate(MemoryCriteria{DeviceLocal: Must, HostVisible: MustNot, Size: 4096}, false)
	require.NoError(t, err)
	defer alloc.Release()
	require.Equal(t, uint32(0), alloc.TypeIndex())

	unbound, err := NewBuffer(ctx, 256, driver.BufferUsageVertex)
	require.NoError(t, err)
	defer unbound.Destroy()
	_, err = unbound.BindMemory(alloc, 0)
	require.True(t, core.IsPrecondition(err))

	img, err := NewImage(ctx, ImageConfig{
		Name: "albedo", Width: 8, Height: 8, Format: driver.FormatR8G8B8A8Unorm,
		Usage: driver.ImageUsageSampled,
	})
	require.NoError(t, err)
	defer img.Destroy()
	_, err = img.BindMemory(alloc, 0)
	require.True(t, core.IsPrecondition(err))
	requireNoViolations(t, dev)
}

func TestAllocateOutOfMemoryIsFatal(t *testing.T) {
	ctx, dev := newTestContext(t, true)
	dev.SetHeapBudget(0, 1024)

	_, err := CreateBuffer(ctx, 4096, driver.BufferUsageVertex, MemoryCriteria{DeviceLocal: Must, HostVisible: MustNot}, false)
	require.Error(t, err)
	require.True(t, core.IsFatal(err))
	require.True(t, driver.IsOutOfMemory(err))
	require.Equal(t, 0, dev.Live(drivertest.KindBuffer))
}

func TestWriteStatistics(t *testing.T) {
	ctx, _ := newTestContext(t, true, drivertest.WithDedicatedAttachments())

	buf := hostBuffer(t, ctx, 1024, driver.BufferUsageVertex)
	defer buf.Destroy()
	img, err := CreateAttachment(ctx, ImageConfig{
		Name: "depth", Width: 16, Height: 16, Format: driver.FormatD32Sfloat,
		Usage: driver.ImageUsageDepthStencilAttachment,
	})
	require.NoError(t, err)
	defer img.Destroy()

	var stats struct {
		TotalAllocations int
		Heaps            []struct {
			Index       int
			Allocations int
		}
		Types []struct {
			Index          int
			AllocatedBytes float64
		}
		Dedicated []struct {
			Type int
			Size float64
		}
	}
	require.NoError(t, json.Unmarshal(ctx.Allocator.StatisticsJSON(), &stats))
	require.Equal(t, 2, stats.TotalAllocations)
	require.Len(t, stats.Heaps, 3)
	require.Equal(t, 1, stats.Heaps[0].Allocations)
	require.Equal(t, 1, stats.Heaps[1].Allocations)
	require.Len(t, stats.Types, 2)
	require.Len(t, stats.Dedicated, 1)
	require.Equal(t, 0, stats.Dedicated[0].Type)
	require.Equal(t, float64(16*16*4), stats.Dedicated[0].Size)
}
