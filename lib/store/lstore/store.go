package lstore

import (
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Options configures a local store
type Options struct {
	NumShards int              // Number of shards (0 = 4 * GOMAXPROCS)
	Clock     func() time.Time // Time source (nil = time.Now)
}

// DefaultOptions returns the default options
func DefaultOptions() *Options {
	return &Options{
		NumShards: runtime.GOMAXPROCS(0) * 4,
		Clock:     time.Now,
	}
}

// entry is one stored item
type entry struct {
	value       []byte
	flags       uint32
	cas         uint64
	expireAt    time.Time // zero = never
	lockedUntil time.Time // zero = not locked
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

func (e *entry) locked(now time.Time) bool {
	return !e.lockedUntil.IsZero() && now.Before(e.lockedUntil)
}

type counters struct {
	cmdGet, getHits, getMisses       atomic.Uint64
	cmdSet, totalItems, casMisses    atomic.Uint64
	deleteHits, deleteMisses         atomic.Uint64
	incrHits, incrMisses, decrHits   atomic.Uint64
	decrMisses, touchHits, lockCalls atomic.Uint64
	flushes, expired                 atomic.Uint64
}

type storeImpl struct {
	shards  []*xsync.MapOf[string, entry]
	casSeq  atomic.Uint64
	now     func() time.Time
	started time.Time
	stats   counters
}

// NewLocalStore creates a new local store instance. nil options select
// DefaultOptions.
func NewLocalStore(opts *Options) store.IStore {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = DefaultOptions().NumShards
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	shards := make([]*xsync.MapOf[string, entry], opts.NumShards)
	for i := range shards {
		shards[i] = xsync.NewMapOf[string, entry]()
	}
	return &storeImpl{
		shards:  shards,
		now:     opts.Clock,
		started: opts.Clock(),
	}
}

// nextCAS returns a new CAS value. Each write gets a unique value.
func (s *storeImpl) nextCAS() uint64 {
	return s.casSeq.Add(1)
}

func (s *storeImpl) shard(key string) *xsync.MapOf[string, entry] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) (store.Item, error) {
	s.stats.cmdGet.Add(1)
	if err := checkKey(key); err != nil {
		return store.Item{}, err
	}

	now := s.now()
	var item store.Item
	found := false
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		if !loaded || e.expired(now) {
			return e, true
		}
		found = true
		item = toItem(key, &e)
		return e, false
	})

	if !found {
		s.stats.getMisses.Add(1)
		return store.Item{}, notFound(key)
	}
	s.stats.getHits.Add(1)
	return item, nil
}

func (s *storeImpl) GetAndLock(key string, lockFor time.Duration) (store.Item, error) {
	s.stats.lockCalls.Add(1)
	if err := checkKey(key); err != nil {
		return store.Item{}, err
	}
	if lockFor <= 0 {
		lockFor = store.DefaultLockTime
	}
	if lockFor > store.MaxLockTime {
		lockFor = store.MaxLockTime
	}

	now := s.now()
	var item store.Item
	var err error
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		if !loaded || e.expired(now) {
			err = notFound(key)
			return e, true
		}
		if e.locked(now) {
			err = store.NewError(store.RetCLocked, "item is locked: "+key)
			return e, false
		}
		e.cas = s.nextCAS()
		e.lockedUntil = now.Add(lockFor)
		item = toItem(key, &e)
		return e, false
	})
	return item, err
}

func (s *storeImpl) Store(mode store.Mode, key string, value []byte, flags uint32, expiry uint32, cas uint64) (uint64, error) {
	s.stats.cmdSet.Add(1)
	if err := checkKey(key); err != nil {
		return 0, err
	}
	if mode < store.ModeAdd || mode > store.ModePrepend {
		return 0, store.NewError(store.RetCInvalidArgument, "invalid store mode "+strconv.Itoa(int(mode)))
	}
	if len(value) > store.MaxValueSize {
		return 0, store.NewError(store.RetCTooBig, "value exceeds "+strconv.Itoa(store.MaxValueSize)+" bytes")
	}

	now := s.now()
	var newCAS uint64
	var err error
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		exists := loaded && !e.expired(now)

		if err = s.checkWrite(key, &e, exists, cas, now); err != nil {
			// a failed write must not resurrect an expired item
			return e, !exists
		}

		switch mode {
		case store.ModeAdd:
			if exists {
				err = store.NewError(store.RetCKeyExists, "key exists: "+key)
				return e, false
			}
		case store.ModeReplace:
			if !exists {
				err = notFound(key)
				return e, true
			}
		case store.ModeAppend, store.ModePrepend:
			if !exists {
				err = store.NewError(store.RetCNotStored, "not stored: "+key)
				return e, true
			}
			combined := make([]byte, 0, len(e.value)+len(value))
			if mode == store.ModeAppend {
				combined = append(append(combined, e.value...), value...)
			} else {
				combined = append(append(combined, value...), e.value...)
			}
			if len(combined) > store.MaxValueSize {
				err = store.NewError(store.RetCTooBig, "value exceeds "+strconv.Itoa(store.MaxValueSize)+" bytes")
				return e, false
			}
			newCAS = s.nextCAS()
			return entry{value: combined, flags: e.flags, cas: newCAS, expireAt: e.expireAt}, false
		}

		if !exists {
			s.stats.totalItems.Add(1)
		}
		newCAS = s.nextCAS()
		return entry{
			value:    cloneBytes(value),
			flags:    flags,
			cas:      newCAS,
			expireAt: store.ExpiryTime(expiry, now),
		}, false
	})
	return newCAS, err
}

func (s *storeImpl) Remove(key string, cas uint64) (uint64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}

	now := s.now()
	var newCAS uint64
	var err error
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		exists := loaded && !e.expired(now)
		if err = s.checkWrite(key, &e, exists, cas, now); err != nil {
			return e, !exists
		}
		if !exists {
			err = notFound(key)
			return e, true
		}
		newCAS = s.nextCAS()
		return e, true
	})

	if store.CodeOf(err) == store.RetCKeyNotFound {
		s.stats.deleteMisses.Add(1)
	} else if err == nil {
		s.stats.deleteHits.Add(1)
	}
	return newCAS, err
}

func (s *storeImpl) Arithmetic(key string, delta int64, initial uint64, create bool, expiry uint32) (uint64, uint64, error) {
	if err := checkKey(key); err != nil {
		return 0, 0, err
	}

	now := s.now()
	var value, newCAS uint64
	var err error
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		exists := loaded && !e.expired(now)
		if !exists {
			if !create {
				err = notFound(key)
				return e, true
			}
			s.stats.totalItems.Add(1)
			value = initial
			newCAS = s.nextCAS()
			return entry{
				value:    []byte(strconv.FormatUint(initial, 10)),
				cas:      newCAS,
				expireAt: store.ExpiryTime(expiry, now),
			}, false
		}
		if e.locked(now) {
			err = store.NewError(store.RetCLocked, "item is locked: "+key)
			return e, false
		}

		current, perr := strconv.ParseUint(strings.TrimSpace(string(e.value)), 10, 64)
		if perr != nil {
			err = store.NewError(store.RetCDeltaBadval, "value is not a number: "+key)
			return e, false
		}
		value = applyDelta(current, delta)
		newCAS = s.nextCAS()
		e.value = []byte(strconv.FormatUint(value, 10))
		e.cas = newCAS
		return e, false
	})

	switch {
	case err == nil && delta >= 0:
		s.stats.incrHits.Add(1)
	case err == nil:
		s.stats.decrHits.Add(1)
	case delta >= 0:
		s.stats.incrMisses.Add(1)
	default:
		s.stats.decrMisses.Add(1)
	}
	return value, newCAS, err
}

func (s *storeImpl) Touch(key string, expiry uint32) (uint64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}

	now := s.now()
	var newCAS uint64
	var err error
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		if !loaded || e.expired(now) {
			err = notFound(key)
			return e, true
		}
		if e.locked(now) {
			err = store.NewError(store.RetCLocked, "item is locked: "+key)
			return e, false
		}
		newCAS = s.nextCAS()
		e.cas = newCAS
		e.expireAt = store.ExpiryTime(expiry, now)
		return e, false
	})
	if err == nil {
		s.stats.touchHits.Add(1)
	}
	return newCAS, err
}

func (s *storeImpl) Unlock(key string, cas uint64) error {
	if err := checkKey(key); err != nil {
		return err
	}

	now := s.now()
	var err error
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		if !loaded || e.expired(now) {
			err = notFound(key)
			return e, true
		}
		if !e.locked(now) {
			err = store.NewError(store.RetCNotLocked, "item is not locked: "+key)
			return e, false
		}
		if e.cas != cas {
			err = store.NewError(store.RetCLocked, "cas does not match the lock: "+key)
			return e, false
		}
		e.lockedUntil = time.Time{}
		return e, false
	})
	return err
}

func (s *storeImpl) Observe(key string) (uint64, bool, error) {
	if err := checkKey(key); err != nil {
		return 0, false, err
	}

	now := s.now()
	var cas uint64
	found := false
	s.shard(key).Compute(key, func(e entry, loaded bool) (entry, bool) {
		if !loaded || e.expired(now) {
			return e, true
		}
		found = true
		cas = e.cas
		return e, false
	})
	return cas, found, nil
}

func (s *storeImpl) Flush() error {
	for _, shard := range s.shards {
		shard.Clear()
	}
	s.stats.flushes.Add(1)
	return nil
}

func (s *storeImpl) Stats() []store.Stat {
	s.Purge()

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	stats := []store.Stat{
		{Key: "cas_misses", Value: u(s.stats.casMisses.Load())},
		{Key: "cmd_flush", Value: u(s.stats.flushes.Load())},
		{Key: "cmd_get", Value: u(s.stats.cmdGet.Load())},
		{Key: "cmd_set", Value: u(s.stats.cmdSet.Load())},
		{Key: "cmd_getl", Value: u(s.stats.lockCalls.Load())},
		{Key: "curr_items", Value: strconv.Itoa(s.Len())},
		{Key: "decr_hits", Value: u(s.stats.decrHits.Load())},
		{Key: "decr_misses", Value: u(s.stats.decrMisses.Load())},
		{Key: "delete_hits", Value: u(s.stats.deleteHits.Load())},
		{Key: "delete_misses", Value: u(s.stats.deleteMisses.Load())},
		{Key: "expired_items", Value: u(s.stats.expired.Load())},
		{Key: "get_hits", Value: u(s.stats.getHits.Load())},
		{Key: "get_misses", Value: u(s.stats.getMisses.Load())},
		{Key: "incr_hits", Value: u(s.stats.incrHits.Load())},
		{Key: "incr_misses", Value: u(s.stats.incrMisses.Load())},
		{Key: "touch_hits", Value: u(s.stats.touchHits.Load())},
		{Key: "total_items", Value: u(s.stats.totalItems.Load())},
		{Key: "uptime", Value: strconv.FormatInt(int64(s.now().Sub(s.started)/time.Second), 10)},
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

func (s *storeImpl) Scan(fn func(item store.Item) bool) {
	now := s.now()
	items := make([]store.Item, 0, s.Len())
	for _, shard := range s.shards {
		shard.Range(func(key string, e entry) bool {
			if !e.expired(now) {
				items = append(items, toItem(key, &e))
			}
			return true
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	for _, item := range items {
		if !fn(item) {
			return
		}
	}
}

func (s *storeImpl) Len() int {
	now := s.now()
	n := 0
	for _, shard := range s.shards {
		shard.Range(func(_ string, e entry) bool {
			if !e.expired(now) {
				n++
			}
			return true
		})
	}
	return n
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// Purge removes all expired items and returns how many were removed
func (s *storeImpl) Purge() int {
	now := s.now()
	removed := 0
	for _, shard := range s.shards {
		var expired []string
		shard.Range(func(key string, e entry) bool {
			if e.expired(now) {
				expired = append(expired, key)
			}
			return true
		})
		for _, key := range expired {
			shard.Compute(key, func(e entry, loaded bool) (entry, bool) {
				if loaded && e.expired(now) {
					removed++
					return e, true
				}
				return e, !loaded
			})
		}
	}
	s.stats.expired.Add(uint64(removed))
	return removed
}

// checkWrite enforces CAS and lock rules shared by all writes
func (s *storeImpl) checkWrite(key string, e *entry, exists bool, cas uint64, now time.Time) error {
	if exists && e.locked(now) && e.cas != cas {
		return store.NewError(store.RetCLocked, "item is locked: "+key)
	}
	if cas == 0 {
		return nil
	}
	if !exists {
		return notFound(key)
	}
	if e.cas != cas {
		s.stats.casMisses.Add(1)
		return store.NewError(store.RetCKeyExists, "cas mismatch: "+key)
	}
	return nil
}

func checkKey(key string) error {
	if key == "" {
		return store.NewError(store.RetCInvalidArgument, "empty key")
	}
	if len(key) > store.MaxKeyLength {
		return store.NewError(store.RetCInvalidArgument, "key longer than "+strconv.Itoa(store.MaxKeyLength)+" bytes")
	}
	return nil
}

func notFound(key string) error {
	return store.NewError(store.RetCKeyNotFound, "key not found: "+key)
}

func toItem(key string, e *entry) store.Item {
	return store.Item{Key: key, Value: cloneBytes(e.value), Flags: e.flags, CAS: e.cas}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// applyDelta adds delta to v. Increments wrap around, decrements stop at zero.
func applyDelta(v uint64, delta int64) uint64 {
	if delta >= 0 {
		return v + uint64(delta)
	}
	d := uint64(-delta)
	if d > v {
		return 0
	}
	return v - d
}
