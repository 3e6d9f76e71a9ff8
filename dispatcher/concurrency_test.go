package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-automation"
)

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(nil)

	var wg sync.WaitGroup
	numGoroutines := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			sub := d.Subscribe(func(automation.Execution) {})
			time.Sleep(time.Millisecond)
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	d.mu.RLock()
	defer d.mu.RUnlock()
	assert.Empty(t, d.listeners)
}

func TestConcurrentOnEventNotifiesEveryRun(t *testing.T) {
	h := newHarness(t)
	h.save(t, leadRule("r1"))
	d := h.dispatcher(nil)

	var counter atomic.Int32
	numListeners := 5
	numEvents := 40

	for i := 0; i < numListeners; i++ {
		d.Subscribe(func(automation.Execution) { counter.Add(1) })
	}

	var wg sync.WaitGroup
	wg.Add(numEvents)
	for i := 0; i < numEvents; i++ {
		go func() {
			defer wg.Done()
			d.OnEvent(context.Background(), "LEAD_CREATED", hotLead())
		}()
	}
	wg.Wait()
	require.NoError(t, d.Close(context.Background()))

	assert.EqualValues(t, numListeners*numEvents, counter.Load())

	rule, err := h.mem.GetRule(context.Background(), "r1")
	require.NoError(t, err)
	assert.EqualValues(t, numEvents, rule.Stats.TotalRuns)
}
