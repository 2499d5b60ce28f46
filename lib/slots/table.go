package slots

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("slots")

var (
	// ErrNotInvocable is returned by Set for a continuation that cannot be called
	ErrNotInvocable = errors.New("continuation is not invocable")
	// ErrUnknownKind is returned for a kind outside the declared enumeration
	ErrUnknownKind = errors.New("unknown operation kind")
	// ErrReleased is returned by Set once the table has been released
	ErrReleased = errors.New("slot table already released")
)

// slot is the registration point of one kind
type slot struct {
	cont     Continuation
	gen      uint64         // incremented on every change of cont
	pins     int            // number of running dispatches holding cont
	deferred []Continuation // displaced while pinned, released on last unpin
}

// Table maps every completion.Kind to at most one Continuation.
// The zero value is not usable, use NewTable.
type Table struct {
	mu       sync.Mutex
	slots    [completion.NumKinds]slot
	released bool
}

// NewTable returns a table with all slots unset
func NewTable() *Table {
	return &Table{}
}

// Set registers c for kind and releases the continuation it replaces.
// On error the previous registration stays untouched.
func (t *Table) Set(kind completion.Kind, c Continuation) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if !invocable(c) {
		return fmt.Errorf("%w: %s slot", ErrNotInvocable, kind)
	}

	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return ErrReleased
	}
	s := &t.slots[kind]
	prev := s.cont
	s.cont = c
	s.gen++
	if same(prev, c) {
		// re-registering the held continuation keeps its single reference
		t.mu.Unlock()
		return nil
	}
	prev = s.retire(prev)
	t.mu.Unlock()

	release(kind, prev)
	return nil
}

// Get returns the continuation registered for kind, or nil
func (t *Table) Get(kind completion.Kind) Continuation {
	if !kind.Valid() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[kind].cont
}

// Generation returns a counter that changes every time the slot of kind is
// set, unset or released
func (t *Table) Generation(kind completion.Kind) uint64 {
	if !kind.Valid() {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[kind].gen
}

// Unset clears the slot of kind and releases its continuation. It reports
// whether a continuation was registered.
func (t *Table) Unset(kind completion.Kind) bool {
	if !kind.Valid() {
		return false
	}

	t.mu.Lock()
	s := &t.slots[kind]
	prev := s.cont
	if prev == nil {
		t.mu.Unlock()
		return false
	}
	s.cont = nil
	s.gen++
	prev = s.retire(prev)
	t.mu.Unlock()

	release(kind, prev)
	return true
}

// Acquire returns the continuation of kind pinned for invocation together
// with the function that drops the pin. While pinned, a continuation
// displaced from the slot is not released. The returned function is safe to
// call more than once. Acquire returns (nil, no-op) for an unset slot.
func (t *Table) Acquire(kind completion.Kind) (Continuation, func()) {
	if !kind.Valid() {
		return nil, func() {}
	}

	t.mu.Lock()
	s := &t.slots[kind]
	c := s.cont
	if c == nil {
		t.mu.Unlock()
		return nil, func() {}
	}
	s.pins++
	t.mu.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() { t.unpin(kind) })
	}
}

// ReleaseAll clears every slot and releases each held continuation exactly
// once. Afterwards Set fails with ErrReleased. Calling it again is a no-op.
func (t *Table) ReleaseAll() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true

	var now []Continuation
	kinds := make([]completion.Kind, 0, completion.NumKinds)
	for i := range t.slots {
		s := &t.slots[i]
		if s.cont == nil {
			continue
		}
		prev := s.cont
		s.cont = nil
		s.gen++
		if prev = s.retire(prev); prev != nil {
			now = append(now, prev)
			kinds = append(kinds, completion.Kind(i))
		}
	}
	t.mu.Unlock()

	for i, c := range now {
		release(kinds[i], c)
	}
}

// Released reports whether ReleaseAll has been called
func (t *Table) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// Len returns the number of set slots
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].cont != nil {
			n++
		}
	}
	return n
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// retire hands back prev if it may be released right away. A pinned slot
// keeps it until the last pin is dropped. Must be called with the table lock.
func (s *slot) retire(prev Continuation) Continuation {
	if prev == nil {
		return nil
	}
	if s.pins > 0 {
		s.deferred = append(s.deferred, prev)
		return nil
	}
	return prev
}

// same reports whether a and b are the identical continuation. Values of
// incomparable dynamic types, such as ContinuationFunc, are never the same.
func same(a, b Continuation) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (t *Table) unpin(kind completion.Kind) {
	t.mu.Lock()
	s := &t.slots[kind]
	s.pins--
	var pending []Continuation
	if s.pins == 0 {
		pending = s.deferred
		s.deferred = nil
	}
	t.mu.Unlock()

	for _, c := range pending {
		release(kind, c)
	}
}

// release calls the Release hook of c, if any. A panicking hook is logged
// and does not stop the caller.
func release(kind completion.Kind, c Continuation) {
	r, ok := c.(Releaser)
	if !ok {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			Logger.Errorf("release hook of %s slot panicked: %v", kind, p)
		}
	}()
	r.Release()
}
