package can

import (
	"sync"

	"github.com/robotalks/canlink.go/pkg/status"
)

// MaxRxHandlers is the number of message ids with their own handler.
const MaxRxHandlers = 10

// RxHandler processes a received data message. For critical messages the
// status written to ackReply, AckOK unless changed, is sent back in the
// automatic ACK. Returning an error suppresses the ACK.
type RxHandler func(msg *Message, ackReply *AckStatus) error

type rxEntry struct {
	msgID   MsgID
	handler RxHandler
}

type rxTable struct {
	lock     sync.Mutex
	entries  [MaxRxHandlers]rxEntry
	count    int
	fallback RxHandler
}

func (t *rxTable) register(msgID MsgID, h RxHandler) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	for n := 0; n < t.count; n++ {
		if t.entries[n].msgID == msgID {
			t.entries[n].handler = h
			return nil
		}
	}
	if t.count >= MaxRxHandlers {
		return status.Codef(status.ResourceExhausted, "can: %d rx handlers registered", MaxRxHandlers)
	}
	t.entries[t.count] = rxEntry{msgID: msgID, handler: h}
	t.count++
	return nil
}

func (t *rxTable) reset() {
	t.lock.Lock()
	t.entries = [MaxRxHandlers]rxEntry{}
	t.count = 0
	t.fallback = nil
	t.lock.Unlock()
}

func (t *rxTable) setDefault(h RxHandler) {
	t.lock.Lock()
	t.fallback = h
	t.lock.Unlock()
}

func (t *rxTable) lookup(msgID MsgID) RxHandler {
	t.lock.Lock()
	defer t.lock.Unlock()
	for n := 0; n < t.count; n++ {
		if t.entries[n].msgID == msgID {
			return t.entries[n].handler
		}
	}
	return t.fallback
}
