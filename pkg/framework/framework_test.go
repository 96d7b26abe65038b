package framework

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/event"
)

type eventLog struct {
	lock   sync.Mutex
	events []event.Event
}

func (l *eventLog) add(e event.Event) {
	l.lock.Lock()
	l.events = append(l.events, e)
	l.lock.Unlock()
}

func (l *eventLog) get() []event.Event {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]event.Event(nil), l.events...)
}

func TestRunOnceOffersHandlersInOrder(t *testing.T) {
	q := event.New()
	loop := NewLoop(q)
	var first, second eventLog
	loop.Handle(
		HandleEventID(1, first.add),
		HandleEventFunc(func(e event.Event) bool {
			second.add(e)
			return true
		}),
	)

	require.False(t, loop.RunOnce())
	require.NoError(t, q.Raise(event.PriorityLow, 2, 20))
	require.NoError(t, q.Raise(event.PriorityHigh, 1, 10))
	require.True(t, loop.RunOnce())
	require.True(t, loop.RunOnce())
	require.False(t, loop.RunOnce())

	require.Equal(t, []event.Event{{ID: 1, Data: 10}}, first.get())
	require.Equal(t, []event.Event{{ID: 2, Data: 20}}, second.get())
}

func TestRunWakesOnRaise(t *testing.T) {
	q := event.New()
	loop := NewLoop(q)
	loop.Interval = time.Hour
	var log eventLog
	loop.Handle(HandleEventID(7, log.add))

	started := make(chan LoopControl, 1)
	loop.AddRunnable(RunFunc(func(ctx context.Context) error {
		started <- LoopCtlFrom(ctx)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	ctl := <-started
	require.NotNil(t, ctl)
	require.NoError(t, ctl.Raise(event.PriorityNormal, 7, 1))
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))
}

func TestRunnerAggregatesErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	r := NewRunner().Go(
		NamedRun("a", RunFunc(func(context.Context) error { return errA })),
		RunFunc(func(context.Context) error { return context.Canceled }),
		RunFunc(func(context.Context) error { return errB }),
	)
	err := r.Wait()
	require.Error(t, err)
	require.True(t, errors.Is(err, errA))
	require.True(t, errors.Is(err, errB))

	require.NoError(t, NewRunner().Go(RunFunc(func(context.Context) error { return nil })).Wait())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRunWithContextCloser(t *testing.T) {
	unblock := make(chan struct{})
	closed := 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunWithContextCloser(ctx, closerFunc(func() error {
		closed++
		close(unblock)
		return nil
	}), func() error {
		<-unblock
		return nil
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 1, closed)

	closed = 0
	err = RunWithContextCloser(context.Background(), closerFunc(func() error {
		closed++
		return nil
	}), func() error { return errors.New("done") })
	require.EqualError(t, err, "done")
	require.Equal(t, 1, closed)
}
