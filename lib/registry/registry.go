package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("registry")

var (
	// ErrDuplicateHandle is returned by Insert for a handle that is still live
	ErrDuplicateHandle = errors.New("duplicate connection handle")
	// ErrRegistryFull is returned by Insert when the configured capacity is reached
	ErrRegistryFull = errors.New("connection registry is full")
	// ErrNilHandle is returned by Insert for the zero handle
	ErrNilHandle = errors.New("nil connection handle")
)

// Entry is the registry record of one live connection
type Entry struct {
	handle  completion.Handle
	slots   *slots.Table
	seq     uint64
	created time.Time
}

// Handle returns the connection handle of the entry
func (e *Entry) Handle() completion.Handle { return e.handle }

// Slots returns the callback slot table of the entry
func (e *Entry) Slots() *slots.Table { return e.slots }

// Created returns the time the entry was inserted
func (e *Entry) Created() time.Time { return e.created }

// Option configures a Registry
type Option func(*Registry)

// WithMaxEntries limits the number of live entries. Zero means unlimited.
func WithMaxEntries(n int) Option {
	return func(r *Registry) {
		r.maxEntries = int64(n)
	}
}

// Registry holds one Entry per live connection handle
type Registry struct {
	entries    *xsync.MapOf[completion.Handle, *Entry]
	size       atomic.Int64
	seq        atomic.Uint64
	maxEntries int64
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: xsync.NewMapOf[completion.Handle, *Entry](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert creates a fresh entry with all slots unset for h. The entry is
// visible to Lookup as soon as Insert returns.
func (r *Registry) Insert(h completion.Handle) (*Entry, error) {
	if h.IsNil() {
		return nil, ErrNilHandle
	}

	if _, live := r.entries.Load(h); live {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateHandle, h)
	}

	// reserve capacity, give it back unless a new entry is stored
	if n := r.size.Add(1); r.maxEntries > 0 && n > r.maxEntries {
		r.size.Add(-1)
		return nil, fmt.Errorf("%w: limit of %d connections reached", ErrRegistryFull, r.maxEntries)
	}

	entry := &Entry{
		handle:  h,
		slots:   slots.NewTable(),
		seq:     r.seq.Add(1),
		created: time.Now(),
	}
	if _, loaded := r.entries.LoadOrStore(h, entry); loaded {
		r.size.Add(-1)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateHandle, h)
	}

	Logger.Debugf("registered connection %s", h)
	return entry, nil
}

// Lookup returns the live entry of h
func (r *Registry) Lookup(h completion.Handle) (*Entry, bool) {
	return r.entries.Load(h)
}

// Remove unlinks the entry of h and releases all of its continuations. It
// reports whether an entry existed; removing an unknown handle is a no-op.
func (r *Registry) Remove(h completion.Handle) bool {
	entry, ok := r.entries.LoadAndDelete(h)
	if !ok {
		return false
	}
	r.size.Add(-1)

	entry.slots.ReleaseAll()
	Logger.Debugf("removed connection %s", h)
	return true
}

// Len returns the number of live entries
func (r *Registry) Len() int {
	return r.entries.Size()
}

// Range calls fn for every live entry until fn returns false. Entries may be
// inserted or removed by fn.
func (r *Registry) Range(fn func(e *Entry) bool) {
	r.entries.Range(func(_ completion.Handle, e *Entry) bool {
		return fn(e)
	})
}

// Handles returns the handles of all live entries, most recently inserted first
func (r *Registry) Handles() []completion.Handle {
	entries := make([]*Entry, 0, r.Len())
	r.Range(func(e *Entry) bool {
		entries = append(entries, e)
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	handles := make([]completion.Handle, len(entries))
	for i, e := range entries {
		handles[i] = e.handle
	}
	return handles
}
