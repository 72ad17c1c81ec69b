package session

import (
	"sync"
	"time"

	"github.com/sorosurance/soro/internal/fsm"
)

// Notification is one state-change or timer update emitted by a Session.
type Notification struct {
	Seq            int64
	SessionID      string
	State          fsm.State
	ElapsedSeconds int
	LevelDBFS      float64
	Result         *Result
	Err            *Error
	At             time.Time
}

// Listener receives session notifications in sequence order.
type Listener interface {
	Notify(Notification)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Notification)

func (f ListenerFunc) Notify(n Notification) {
	f(n)
}

// Listeners fans one notification out to every non-nil listener in order.
func Listeners(listeners ...Listener) Listener {
	kept := make([]Listener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return ListenerFunc(func(n Notification) {
		for _, l := range kept {
			l.Notify(n)
		}
	})
}

// notifier delivers queued notifications from one goroutine so that
// listeners never run under the session mutex.
type notifier struct {
	listener Listener

	mu     sync.Mutex
	queue  []Notification
	closed bool

	wake    chan struct{}
	drained chan struct{}
}

func newNotifier(listener Listener) *notifier {
	n := &notifier{
		listener: listener,
		wake:     make(chan struct{}, 1),
		drained:  make(chan struct{}),
	}
	if listener == nil {
		n.closed = true
		close(n.drained)
		return n
	}
	go n.run()
	return n
}

func (n *notifier) push(ev Notification) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, ev)
	n.mu.Unlock()
	n.signal()
}

// close stops accepting notifications; queued ones are still delivered.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.drained)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, ev := range batch {
			n.listener.Notify(ev)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}
