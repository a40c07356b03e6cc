package task_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xray-tun-core/common/task"
)

func TestPeriodicRunsImmediatelyAndRepeats(t *testing.T) {
	var count atomic.Int32
	p := &task.Periodic{
		Interval: 10 * time.Millisecond,
		Execute: func() error {
			count.Add(1)
			return nil
		},
	}
	require.NoError(t, p.Start())
	defer p.Close()

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)
}

// TestPeriodicStopsOnError mirrors UdpTun's cleanupTask contract: once Execute returns an
// error, the cycle halts on its own without Close being called.
func TestPeriodicStopsOnError(t *testing.T) {
	var count atomic.Int32
	p := &task.Periodic{
		Interval: 5 * time.Millisecond,
		Execute: func() error {
			count.Add(1)
			return assertErr
		},
	}
	require.NoError(t, p.Start())

	assert.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, time.Millisecond)
	stopped := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, count.Load(), "Execute returning an error must stop the periodic cycle")
}

func TestPeriodicStartTwiceIsNoOp(t *testing.T) {
	var count atomic.Int32
	p := &task.Periodic{
		Interval: time.Hour,
		Execute: func() error {
			count.Add(1)
			return nil
		},
	}
	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	defer p.Close()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestPeriodicCloseStopsFutureRuns(t *testing.T) {
	var count atomic.Int32
	p := &task.Periodic{
		Interval: 5 * time.Millisecond,
		Execute: func() error {
			count.Add(1)
			return nil
		},
	}
	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Close())

	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, count.Load())
}

var assertErr = errTest{}

type errTest struct{}

func (errTest) Error() string { return "test stop" }
