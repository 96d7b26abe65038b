package event

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/status"
)

func drain(q *Queue) []Event {
	var events []Event
	for {
		e, ok := q.Process()
		if !ok {
			return events
		}
		events = append(events, e)
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := New()
	const (
		a ID = iota + 1
		b
		c
		d
	)
	require.NoError(t, q.Raise(PriorityLow, a, 0))
	require.NoError(t, q.Raise(PriorityHigh, b, 0))
	require.NoError(t, q.Raise(PriorityNormal, c, 0))
	require.NoError(t, q.Raise(PriorityHigh, d, 0))

	var ids []ID
	for _, e := range drain(q) {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []ID{b, d, c, a}, ids)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := New()
	require.NoError(t, q.RaiseDefault(1, 10))
	require.NoError(t, q.RaiseDefault(1, 20))
	require.NoError(t, q.Raise(PriorityNormal, 2, 30))
	require.Equal(t, []Event{{1, 10}, {1, 20}, {2, 30}}, drain(q))
}

func TestQueueFIFOManyEqual(t *testing.T) {
	q := New()
	for i := 0; i < MaxEvents; i++ {
		prio := PriorityNormal
		if i%4 == 0 {
			prio = PriorityHighest
		}
		require.NoError(t, q.Raise(prio, ID(prio), uint16(i)))
	}
	var last = map[ID]int{}
	for _, e := range drain(q) {
		if prev, ok := last[e.ID]; ok {
			require.Greater(t, int(e.Data), prev)
		}
		last[e.ID] = int(e.Data)
	}
}

func TestQueueFull(t *testing.T) {
	q := New()
	for i := 0; i < MaxEvents; i++ {
		require.NoError(t, q.RaiseDefault(ID(i), 0))
	}
	err := q.RaiseDefault(99, 0)
	require.True(t, errors.Is(err, status.ErrResourceExhausted))
	require.Equal(t, MaxEvents, q.Size())

	e, ok := q.Process()
	require.True(t, ok)
	require.Equal(t, ID(0), e.ID)
	require.NoError(t, q.RaiseDefault(99, 0))

	require.True(t, errors.Is(q.Raise(Priority(9), 1, 0), status.ErrInvalidArgs))
}

func TestQueueEmpty(t *testing.T) {
	q := New()
	_, ok := q.Process()
	require.False(t, ok)
}

func TestQueueNotify(t *testing.T) {
	q := New()
	var count int
	q.SetNotify(func() { count++ })
	require.NoError(t, q.RaiseDefault(1, 0))
	require.NoError(t, q.Raise(PriorityHigh, 2, 0))
	require.Equal(t, 2, count)
}

func TestQueueConcurrentRaise(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	var lock sync.Mutex
	raised := 0
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if q.Raise(Priority(p), ID(p), uint16(i)) == nil {
					lock.Lock()
					raised++
					lock.Unlock()
				}
			}
		}(p)
	}
	processed := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if _, ok := q.Process(); ok {
			processed++
			continue
		}
		select {
		case <-done:
			processed += len(drain(q))
			require.Equal(t, raised, processed)
			return
		default:
		}
	}
}
