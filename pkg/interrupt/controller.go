// Package interrupt emulates an interrupt controller for hosted builds.
//
// Handlers registered on a line run one at a time on the controller's ISR
// goroutine with interrupts masked. Main-loop code that shares state with a
// handler wraps the mutation in Critical, which masks interrupts for the
// duration of fn. Handlers must not call Critical themselves.
package interrupt

import (
	"sync"

	"github.com/golang/glog"
)

// MaxLines is the number of interrupt lines.
const MaxLines = 32

// Line identifies a registered interrupt.
type Line uint8

// Handler is an interrupt service routine.
type Handler func()

// Controller dispatches triggered lines to their handlers.
type Controller struct {
	mask sync.Mutex

	lock     sync.Mutex
	handlers []Handler
	pending  uint32

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates and starts a Controller.
func New() *Controller {
	c := &Controller{
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.run()
	return c
}

// Register installs h on the next free line.
func (c *Controller) Register(h Handler) (Line, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.handlers) >= MaxLines {
		return 0, false
	}
	c.handlers = append(c.handlers, h)
	return Line(len(c.handlers) - 1), true
}

// Trigger marks line pending. The handler runs asynchronously; triggering an
// already pending line is coalesced.
func (c *Controller) Trigger(line Line) {
	c.lock.Lock()
	c.pending |= 1 << line
	c.lock.Unlock()
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Critical runs fn with interrupts masked.
func (c *Controller) Critical(fn func()) {
	c.mask.Lock()
	defer c.mask.Unlock()
	fn()
}

// Close stops the controller. Pending interrupts are dropped.
func (c *Controller) Close() error {
	select {
	case <-c.stopCh:
		return nil
	default:
	}
	close(c.stopCh)
	<-c.doneCh
	return nil
}

func (c *Controller) run() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.wakeCh:
		}
		for {
			c.lock.Lock()
			pending := c.pending
			c.pending = 0
			handlers := c.handlers
			c.lock.Unlock()
			if pending == 0 {
				break
			}
			// Lower lines have higher priority.
			for line := 0; line < len(handlers); line++ {
				if pending&(1<<uint(line)) == 0 {
					continue
				}
				glog.V(4).Infof("ISR line %d", line)
				c.mask.Lock()
				handlers[line]()
				c.mask.Unlock()
			}
		}
	}
}
