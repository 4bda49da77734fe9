package utils_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"imagebatch-backend/internal/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapInPool(t *testing.T) {
	inputs := make([]int, 40)
	for i := range inputs {
		inputs[i] = i
	}

	results := utils.MapInPool(func(n int) (string, error) {
		if n%4 == 0 {
			return "", fmt.Errorf("cannot handle %d", n)
		}
		return fmt.Sprintf("value-%d", n), nil
	}, inputs, 8)

	require.Len(t, results, len(inputs))

	// Results line up with inputs by index regardless of completion order.
	for i, result := range results {
		if i%4 == 0 {
			assert.EqualError(t, result.Error, fmt.Sprintf("cannot handle %d", i))
		} else {
			require.NoError(t, result.Error)
			assert.Equal(t, fmt.Sprintf("value-%d", i), result.Result)
		}
	}
}

func TestMapInPoolEmptyInput(t *testing.T) {
	results := utils.MapInPool(func(n int) (int, error) {
		return n, nil
	}, nil, 4)

	assert.Empty(t, results)
}

func TestMapInPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32

	block := make(chan struct{})
	done := make(chan struct{})

	go func() {
		utils.MapInPool(func(n int) (int, error) {
			current := active.Add(1)
			for {
				prev := peak.Load()
				if current <= prev || peak.CompareAndSwap(prev, current) {
					break
				}
			}
			<-block
			active.Add(-1)
			return n, nil
		}, []int{1, 2, 3, 4, 5, 6, 7, 8}, 3)
		close(done)
	}()

	close(block)
	<-done

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapInPoolSingleWorker(t *testing.T) {
	results := utils.MapInPool(func(n int) (int, error) {
		if n == 2 {
			return 0, errors.New("boom")
		}
		return n * n, nil
	}, []int{1, 2, 3}, 1)

	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Result)
	assert.Error(t, results[1].Error)
	assert.Equal(t, 9, results[2].Result)
}
