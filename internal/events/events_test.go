package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("subscription did not finish")
			return nil
		}
	}
}

func TestLogPublishAssignsSequence(t *testing.T) {
	log := NewLog()
	log.Publish(DiscoveryStarted, nil)
	log.Publish(HostFound, "10.0.0.1")
	log.Publish(DiscoveryComplete, nil)

	events := log.Events(0)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.Equal(t, HostFound, events[1].Type)
	assert.Equal(t, "10.0.0.1", events[1].Data)
}

func TestLogEventsFrom(t *testing.T) {
	log := NewLog()
	for i := 0; i < 5; i++ {
		log.Publish(HostFound, i)
	}

	tests := []struct {
		name  string
		from  uint64
		count int
		first uint64
	}{
		{"zero means all", 0, 5, 1},
		{"one means all", 1, 5, 1},
		{"middle", 3, 3, 3},
		{"last", 5, 1, 5},
		{"past end", 6, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := log.Events(tt.from)
			require.Len(t, events, tt.count)
			if tt.count > 0 {
				assert.Equal(t, tt.first, events[0].Seq)
			}
		})
	}
}

func TestSubscribeReplaysThenFollows(t *testing.T) {
	log := NewLog()
	log.Publish(StepStarted, "interfaces")
	log.Publish(StepFinished, "interfaces")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := log.Subscribe(ctx, 0)

	go func() {
		log.Publish(StepStarted, "gateway")
		log.Publish(StepFinished, "gateway")
		log.Close()
	}()

	events := collect(t, ch)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq, "events must arrive in order")
	}
	assert.Equal(t, "gateway", events[3].Data)
}

func TestSubscribeFromMiddle(t *testing.T) {
	log := NewLog()
	for i := 0; i < 4; i++ {
		log.Publish(HostFound, i)
	}
	log.Close()

	events := collect(t, log.Subscribe(context.Background(), 3))
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Seq)
}

func TestSubscribeStopsOnContextCancel(t *testing.T) {
	log := NewLog()
	ctx, cancel := context.WithCancel(context.Background())
	ch := log.Subscribe(ctx, 0)

	cancel()
	events := collect(t, ch)
	assert.Empty(t, events)
}

func TestMultipleSubscribersSeeSameSequence(t *testing.T) {
	log := NewLog()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]Event, 3)
	for i := range results {
		ch := log.Subscribe(ctx, 0)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = collect(t, ch)
		}(i)
	}

	for i := 0; i < 50; i++ {
		log.Publish(ServiceDetected, i)
	}
	log.Close()
	wg.Wait()

	for _, events := range results {
		require.Len(t, events, 50)
		for i, ev := range events {
			assert.Equal(t, i, ev.Data)
		}
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	log := NewLog()
	log.Publish(RunFinished, nil)
	log.Close()
	log.Close()
	log.Publish(HostFound, nil)

	assert.True(t, log.Closed())
	assert.Equal(t, 1, log.Len())
}

func TestRecorderAndDiscard(t *testing.T) {
	rec := &Recorder{}
	var p Publisher = rec
	p.Publish(DiscoveryStarted, nil)
	p.Publish(DiscoveryComplete, nil)

	assert.Equal(t, []string{DiscoveryStarted, DiscoveryComplete}, rec.Types())
	assert.Len(t, rec.Events(), 2)

	assert.Equal(t, Discard, OrDiscard(nil))
	assert.Equal(t, p, OrDiscard(p))
	assert.NotPanics(t, func() { Discard.Publish(HostFound, nil) })
}
