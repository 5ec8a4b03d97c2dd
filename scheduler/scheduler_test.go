package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/emberlink/chatd/scheduler"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTickerFires(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	defer s.Stop()

	var fired int32
	s.AddTicker("tick", 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tick"}, s.ListTickers())
}

func TestTickerReplacedByName(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	defer s.Stop()

	var first, second int32
	s.AddTicker("job", 10*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	s.AddTicker("job", 10*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&second) >= 2
	}, time.Second, 5*time.Millisecond)

	frozen := atomic.LoadInt32(&first)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, atomic.LoadInt32(&first))
	assert.Len(t, s.ListTickers(), 1)
}

func TestRemoveStopsTicker(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	defer s.Stop()

	var fired int32
	s.AddTicker("tick", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Remove("tick")
	assert.Empty(t, s.ListTickers())

	frozen := atomic.LoadInt32(&fired)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, atomic.LoadInt32(&fired))
}

func TestDelayRunsOnce(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	defer s.Stop()

	var fired int32
	s.AddDelay("later", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestPanickingTaskDoesNotKillScheduler(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	defer s.Stop()

	var fired int32
	s.AddTicker("bad", 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
		panic("boom")
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 2
	}, time.Second, 5*time.Millisecond)
}
