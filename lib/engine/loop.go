package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/edwingeng/deque/v2"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("engine")

// delivery is one queued completion. final marks the last completion of an
// operation, which ends the operation's outstanding count.
type delivery struct {
	c     completion.Completion
	final bool
}

// loopConn is the loop side state of one connection
type loopConn struct {
	sink        Sink
	outstanding int
	closed      bool
}

// Loop is the completion queue shared by all connections of an engine.
// Push may be called from any goroutine; Poll and Wait deliver completions
// on the calling goroutine, one at a time and without holding any lock, so
// sinks may reenter the loop (issue operations, destroy connections, poll).
type Loop struct {
	mu     sync.Mutex
	ready  *deque.Deque[delivery]
	conns  map[completion.Handle]*loopConn
	signal chan struct{}
}

// NewLoop creates an empty loop
func NewLoop() *Loop {
	return &Loop{
		ready:  deque.NewDeque[delivery](),
		conns:  make(map[completion.Handle]*loopConn),
		signal: make(chan struct{}, 1),
	}
}

// --------------------------------------------------------------------------
// Connection bookkeeping
// --------------------------------------------------------------------------

// Register installs the sink of a new connection
func (l *Loop) Register(h completion.Handle, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("%w: nil sink", ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.conns[h]; ok {
		return fmt.Errorf("%w: %s", ErrHandleInUse, h)
	}
	l.conns[h] = &loopConn{sink: sink}
	return nil
}

// Unregister closes h for new operations. Completions that are already
// queued or still in flight keep being delivered to the sink; the loop
// forgets h once its last outstanding operation completed.
func (l *Loop) Unregister(h completion.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conns[h]
	if !ok || conn.closed {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	conn.closed = true
	if conn.outstanding <= 0 {
		delete(l.conns, h)
	}
	return nil
}

// Begin records a newly issued operation of h
func (l *Loop) Begin(h completion.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conns[h]
	if !ok || conn.closed {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	conn.outstanding++
	return nil
}

// Outstanding returns the number of operations of h that have not delivered
// their final completion yet
func (l *Loop) Outstanding(h completion.Handle) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conn, ok := l.conns[h]; ok {
		return conn.outstanding
	}
	return 0
}

// Active reports whether h is registered and not closed
func (l *Loop) Active(h completion.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conns[h]
	return ok && !conn.closed
}

// --------------------------------------------------------------------------
// Producing completions
// --------------------------------------------------------------------------

// Push queues c. final marks the last completion of the operation.
func (l *Loop) Push(c completion.Completion, final bool) {
	l.mu.Lock()
	l.ready.PushBack(delivery{c: c, final: final})
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// PushSequence queues cs in order and marks the last one final
func (l *Loop) PushSequence(cs []completion.Completion) {
	if len(cs) == 0 {
		return
	}
	l.mu.Lock()
	for i, c := range cs {
		l.ready.PushBack(delivery{c: c, final: i == len(cs)-1})
	}
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued completions
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready.Len()
}

// --------------------------------------------------------------------------
// Driving the loop
// --------------------------------------------------------------------------

// Poll delivers the completions that were queued when Poll was called and
// returns how many it delivered. Completions queued by the sinks themselves
// are left for the next call.
func (l *Loop) Poll() int {
	l.mu.Lock()
	n := l.ready.Len()
	l.mu.Unlock()

	delivered := 0
	for delivered < n && l.deliverOne() {
		delivered++
	}
	return delivered
}

// Wait delivers completions until h has no outstanding operation. It
// returns immediately for unknown handles and blocks only while waiting for
// background producers.
func (l *Loop) Wait(ctx context.Context, h completion.Handle) error {
	return l.waitUntil(ctx, func() bool {
		conn, ok := l.conns[h]
		return !ok || conn.outstanding <= 0
	})
}

// WaitAll delivers completions until no connection has an outstanding operation
func (l *Loop) WaitAll(ctx context.Context) error {
	return l.waitUntil(ctx, func() bool {
		for _, conn := range l.conns {
			if conn.outstanding > 0 {
				return false
			}
		}
		return true
	})
}

// waitUntil drains the queue and then blocks for new completions until done
// (evaluated under the loop lock) returns true
func (l *Loop) waitUntil(ctx context.Context, done func() bool) error {
	for {
		for l.deliverOne() {
		}

		l.mu.Lock()
		finished := done() && l.ready.Len() == 0
		l.mu.Unlock()
		if finished {
			return nil
		}

		select {
		case <-l.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// deliverOne pops the oldest completion and hands it to its sink. It
// reports whether there was anything to deliver.
func (l *Loop) deliverOne() bool {
	l.mu.Lock()
	if l.ready.Len() == 0 {
		l.mu.Unlock()
		return false
	}
	d := l.ready.PopFront()
	var sink Sink
	if conn, ok := l.conns[d.c.Handle]; ok {
		sink = conn.sink
	}
	l.mu.Unlock()

	if sink != nil {
		sink(d.c)
	} else {
		Logger.Debugf("no sink for %s completion of connection %s", d.c.Kind(), d.c.Handle)
	}

	if d.final {
		l.mu.Lock()
		if conn, ok := l.conns[d.c.Handle]; ok {
			conn.outstanding--
			if conn.closed && conn.outstanding <= 0 {
				delete(l.conns, d.c.Handle)
			}
		}
		l.mu.Unlock()
	}
	return true
}
