package framework

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/event"
)

// DefaultInterval is the poll interval when the loop is not woken earlier.
const DefaultInterval = 100 * time.Millisecond

// Loop is the single-threaded main loop. It drains the event queue and
// offers each event to the registered handlers in order.
type Loop struct {
	Queue    *event.Queue
	Interval time.Duration

	lock     sync.Mutex
	handlers []EventHandler
	runners  []Runnable

	wakeUpCh chan struct{}
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

var loopCtxKey = &Loop{}

// LoopCtlFrom gets LoopControl from the context passed to the loop's
// runners.
func LoopCtlFrom(ctx context.Context) LoopControl {
	ctl, _ := ctx.Value(loopCtxKey).(LoopControl)
	return ctl
}

// NewLoop creates a Loop draining q. The loop wakes as soon as an event is
// raised.
func NewLoop(q *event.Queue) *Loop {
	l := &Loop{
		Queue:    q,
		Interval: DefaultInterval,
		wakeUpCh: make(chan struct{}, 1),
	}
	q.SetNotify(l.TriggerNext)
	return l
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// Handle registers event handlers. Runnable handlers are also started with
// the loop.
func (l *Loop) Handle(handlers ...EventHandler) *Loop {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.handlers = append(l.handlers, handlers...)
	for _, h := range handlers {
		if runner, ok := h.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions started with the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.lock.Lock()
	l.runners = append(l.runners, runnables...)
	l.lock.Unlock()
	return l
}

// Raise implements LoopControl.
func (l *Loop) Raise(prio event.Priority, id event.ID, data uint16) error {
	return l.Queue.Raise(prio, id, data)
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// RunOnce processes one event, returning false if the queue was empty.
func (l *Loop) RunOnce() bool {
	e, ok := l.Queue.Process()
	if !ok {
		return false
	}
	l.lock.Lock()
	handlers := l.handlers
	l.lock.Unlock()
	for _, h := range handlers {
		if h.HandleEvent(e) {
			return true
		}
	}
	glog.V(2).Infof("unhandled event %d (%d)", e.ID, e.Data)
	return true
}

// Run implements Runnable. It returns when ctx is done, after the runners
// stopped.
func (l *Loop) Run(ctx context.Context) error {
	l.lock.Lock()
	runners := l.runners
	l.lock.Unlock()
	runner := NewRunnerWith(context.WithValue(ctx, loopCtxKey, LoopControl(l)))
	runner.Go(runners...)
	defer func() {
		if err := runner.Wait(); err != nil {
			glog.Errorf("loop runners: %v", err)
		}
	}()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for l.RunOnce() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-l.wakeUpCh:
		}
	}
}

// RunOrFail is intended to be used in main to simply run the loop.
func (l *Loop) RunOrFail() {
	if err := l.Run(context.TODO()); err != nil {
		log.Fatalln(err)
	}
}
