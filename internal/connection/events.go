package connection

import (
	"sync"
	"time"

	"livesync/pkg/types"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	// EventMessage follows every dispatched inbound envelope, recognized or not.
	EventMessage      EventType = "message"
	EventReconnecting EventType = "reconnecting"
	// EventSendDropped is the warning raised when a send is discarded.
	EventSendDropped EventType = "send_dropped"
)

// Event carries the details of a lifecycle event. Only the members that
// make sense for Type are set.
type Event struct {
	Type      EventType
	SessionID string
	Envelope  types.Envelope
	Err       error
	Attempt   int
	Delay     time.Duration
}

// eventLoop runs posted callbacks one at a time, in order, on its own
// goroutine. Posting never blocks.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	once    sync.Once
}

func newEventLoop() *eventLoop {
	l := &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *eventLoop) run() {
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *eventLoop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

// stop refuses further posts. Callbacks already queued still run before the
// loop goroutine exits.
func (l *eventLoop) stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		close(l.done)
	})
}
