package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hls-player/internal/platform/logger"
)

// scriptedProbe replays levels and cancels the run once they are used up.
func scriptedProbe(cancel context.CancelFunc, levels ...float64) Probe {
	var mu sync.Mutex
	i := 0
	return func(context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(levels) {
			cancel()
			return 1, nil
		}
		l := levels[i]
		i++
		if l < 0 {
			return 0, errors.New("probe unavailable")
		}
		return l, nil
	}
}

func TestMonitor_edge_triggered(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	probe := scriptedProbe(cancel, 0.5, 0.1, 0.05, 0.1, 0.3, -1, 0.15, 0.9)
	m := NewMonitor(time.Millisecond, 0.2, probe, logger.Discard())

	var fired []float64
	require.NoError(t, m.Run(ctx, func(level float64) { fired = append(fired, level) }))

	// 0.1 fires, 0.05 and 0.1 stay below, 0.3 re-arms, probe error is ignored, 0.15 fires.
	assert.Equal(t, []float64{0.1, 0.15}, fired)
}

func TestMonitor_disabled(t *testing.T) {
	m := NewMonitor(0, 0.2, func(context.Context) (float64, error) {
		t.Fatal("probe should not be called")
		return 0, nil
	}, logger.Discard())
	assert.NoError(t, m.Run(context.Background(), func(float64) {}))
}

func TestMemoryProbe_fraction(t *testing.T) {
	level, err := MemoryProbe(context.Background())
	if err != nil {
		t.Skipf("memory stats unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, level, 0.0)
	assert.LessOrEqual(t, level, 1.0)
}
