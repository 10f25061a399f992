package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakePinger struct {
	Gateway
	failures int32
	pings    atomic.Int32
	ready    atomic.Bool
	onPing   func()
}

func (p *fakePinger) Ping(context.Context) error {
	n := p.pings.Add(1)
	if p.onPing != nil {
		p.onPing()
	}
	if p.failures < 0 || n <= p.failures {
		return errors.NewNetworkError(fmt.Sprintf("connection refused #%d", n), nil)
	}
	return nil
}

func (p *fakePinger) MarkReady() { p.ready.Store(true) }

func runRetryPing(pinger *fakePinger, ctx context.Context, options RetryPingOptions) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- RetryPing(ctx, pinger, options, logging.NewNullLogger())
	}()
	return result
}

func TestRetryPing_SucceedsAfterFailures(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	pinger := &fakePinger{failures: 2}

	result := runRetryPing(pinger, context.Background(), RetryPingOptions{RetryAttempts: 5, RetryInterval: time.Second, Clock: clk})
	for i := 0; i < 2; i++ {
		require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	}

	require.NoError(t, <-result)
	assert.EqualValues(t, 3, pinger.pings.Load())
	assert.True(t, pinger.ready.Load())
}

func TestRetryPing_ExhaustsAttempts(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	pinger := &fakePinger{failures: -1}

	result := runRetryPing(pinger, context.Background(), RetryPingOptions{RetryAttempts: 3, RetryInterval: time.Second, Clock: clk})
	for i := 0; i < 2; i++ {
		require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	}

	err := <-result
	require.Error(t, err)
	assert.True(t, errors.IsNotReadyError(err))
	assert.True(t, errors.IsNetworkError(err), "last ping error is kept as cause")
	assert.Contains(t, err.Error(), "connection refused #3")
	assert.False(t, pinger.ready.Load())
}

func TestRetryPing_Deadline(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	pinger := &fakePinger{failures: -1}

	result := runRetryPing(pinger, context.Background(), RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 10 * time.Second,
		Deadline:      5 * time.Second,
		Clock:         clk,
	})
	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 2))

	err := <-result
	assert.True(t, errors.IsNotReadyError(err))
	assert.Contains(t, err.Error(), "deadline")
	assert.EqualValues(t, 1, pinger.pings.Load())
}

func TestRetryPing_Cancelled(t *testing.T) {
	clk := testclock.NewClock(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pinger := &fakePinger{failures: -1, onPing: cancel}

	err := <-runRetryPing(pinger, ctx, RetryPingOptions{RetryAttempts: 5, RetryInterval: time.Second, Clock: clk})
	assert.True(t, errors.IsCancelledError(err))
}
