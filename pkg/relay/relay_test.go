package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *recorder) deliver(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)
}

func (c *recorder) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Line
	}

	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met within deadline")
}

func TestBuffersUntilReady(t *testing.T) {
	rec := &recorder{}
	r := New(rec.deliver, logger.NewTestLogger())
	r.Start()

	r.Publish(models.Event{Type: models.EventInstallLog, Line: "one"})
	r.Publish(models.Event{Type: models.EventInstallLog, Line: "two"})

	// Not ready yet: nothing delivered.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.lines())

	r.MarkReady()
	waitFor(t, func() bool { return len(rec.lines()) == 2 })

	assert.Equal(t, []string{"one", "two"}, rec.lines())

	r.Stop()
}

func TestDeliveryOrderSingleProducer(t *testing.T) {
	rec := &recorder{}
	r := New(rec.deliver, logger.NewTestLogger())
	r.Start()
	r.MarkReady()

	for i := 0; i < 100; i++ {
		r.Publish(models.Event{Type: models.EventInstallLog, Line: fmt.Sprintf("%03d", i)})
	}

	waitFor(t, func() bool { return len(rec.lines()) == 100 })

	lines := rec.lines()
	for i := 0; i < 100; i++ {
		require.Equal(t, fmt.Sprintf("%03d", i), lines[i])
	}

	r.Stop()
}

func TestStopDrainsQueue(t *testing.T) {
	rec := &recorder{}
	r := New(rec.deliver, logger.NewTestLogger())
	r.Start()

	for i := 0; i < 10; i++ {
		r.Publish(models.Event{Type: models.EventInstallLog, Line: "x"})
	}

	r.MarkReady()
	r.Stop()

	assert.Len(t, rec.lines(), 10)

	// Publishing after Stop is a silent no-op.
	r.Publish(models.Event{Type: models.EventInstallLog, Line: "late"})
	assert.Len(t, rec.lines(), 10)
}

func TestStopWithoutReadyExits(t *testing.T) {
	rec := &recorder{}
	r := New(rec.deliver, logger.NewTestLogger())
	r.Start()

	r.Publish(models.Event{Type: models.EventInstallLog, Line: "orphan"})

	done := make(chan struct{})

	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Empty(t, rec.lines())
}

func TestConcurrentProducers(t *testing.T) {
	rec := &recorder{}
	r := New(rec.deliver, logger.NewTestLogger())
	r.Start()
	r.MarkReady()

	var wg sync.WaitGroup

	for p := 0; p < 8; p++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < 25; i++ {
				r.Publish(models.Event{Type: models.EventInstallLog, Line: "x"})
			}
		}()
	}

	wg.Wait()
	waitFor(t, func() bool { return len(rec.lines()) == 200 })

	r.Stop()
}
