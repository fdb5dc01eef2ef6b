package systems

import (
	"fmt"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystem(t *testing.T) {
	testCases := map[string]struct {
		workers, size int
		err           error
	}{
		"valid":         {workers: 2, size: 4},
		"unbuffered":    {workers: 1},
		"no workers":    {workers: 0, size: 1, err: ErrNoWorkers},
		"negative size": {workers: 1, size: -1, err: ErrNegativeChannelSize},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			js, err := NewJobSystem(tc.workers, tc.size)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, js.Shutdown())
		})
	}
}

func TestJobSystemResults(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, js.Submit(Job{
			Name: fmt.Sprintf("job-%02d", i),
			Run: func() (interface{}, error) {
				switch i {
				case 3:
					return nil, boom
				case 7:
					panic("bad input")
				}
				return i * i, nil
			},
		}))
	}
	js.Wait()

	results := js.Update()
	require.Len(t, results, 10)
	sort.Slice(results, func(a, b int) bool { return results[a].Name < results[b].Name })
	for i, r := range results {
		switch i {
		case 3:
			require.ErrorIs(t, r.Err, boom)
		case 7:
			require.ErrorContains(t, r.Err, "panicked")
		default:
			require.NoError(t, r.Err)
			require.Equal(t, i*i, r.Value)
		}
	}
	require.Empty(t, js.Update())

	require.NoError(t, js.Shutdown())
	require.ErrorIs(t, js.Shutdown(), ErrJobSystemClosed)
	require.ErrorIs(t, js.Submit(Job{Name: "late"}), ErrJobSystemClosed)
}
