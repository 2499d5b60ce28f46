package testing

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/kvbind/lib/store"
)

// Factory creates a new, empty store reading the time from clock
type Factory func(clock *Clock) store.IStore

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at a fixed point in time
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current time of the clock
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RunStoreTests runs the test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("SetGet", func(t *testing.T) {
			testSetGet(t, factory(NewClock()))
		})

		t.Run("AddReplace", func(t *testing.T) {
			testAddReplace(t, factory(NewClock()))
		})

		t.Run("AppendPrepend", func(t *testing.T) {
			testAppendPrepend(t, factory(NewClock()))
		})

		t.Run("CAS", func(t *testing.T) {
			testCAS(t, factory(NewClock()))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(NewClock()))
		})

		t.Run("Arithmetic", func(t *testing.T) {
			testArithmetic(t, factory(NewClock()))
		})

		t.Run("Expiry", func(t *testing.T) {
			clock := NewClock()
			testExpiry(t, factory(clock), clock)
		})

		t.Run("Touch", func(t *testing.T) {
			clock := NewClock()
			testTouch(t, factory(clock), clock)
		})

		t.Run("Lock", func(t *testing.T) {
			clock := NewClock()
			testLock(t, factory(clock), clock)
		})

		t.Run("Observe", func(t *testing.T) {
			testObserve(t, factory(NewClock()))
		})

		t.Run("FlushScanStats", func(t *testing.T) {
			testFlushScanStats(t, factory(NewClock()))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(NewClock()))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory(NewClock()))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func expectCode(t *testing.T, err error, code store.RetCode, op string) {
	t.Helper()
	if got := store.CodeOf(err); got != code {
		t.Errorf("%s: expected %s, got %s (%v)", op, code, got, err)
	}
}

func mustStore(t *testing.T, s store.IStore, mode store.Mode, key, value string) uint64 {
	t.Helper()
	cas, err := s.Store(mode, key, []byte(value), 0, 0, 0)
	if err != nil {
		t.Fatalf("store %s: %v", key, err)
	}
	return cas
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s store.IStore) {
	cas1, err := s.Store(store.ModeSet, "test-key", []byte("value1"), 42, 0, 0)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if cas1 == 0 {
		t.Errorf("Expected a non-zero CAS")
	}

	item, err := s.Get("test-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(item.Value, []byte("value1")) || item.Flags != 42 || item.CAS != cas1 {
		t.Errorf("Unexpected item %+v", item)
	}

	cas2 := mustStore(t, s, store.ModeSet, "test-key", "value2")
	if cas2 == cas1 {
		t.Errorf("Expected a new CAS after overwrite")
	}

	item, _ = s.Get("test-key")
	if string(item.Value) != "value2" || item.Flags != 0 {
		t.Errorf("Expected overwritten item, got %+v", item)
	}

	// Get must return a copy
	item.Value[0] = 'X'
	again, _ := s.Get("test-key")
	if string(again.Value) != "value2" {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	_, err = s.Get("nonexistent-key")
	expectCode(t, err, store.RetCKeyNotFound, "get missing")
}

func testAddReplace(t *testing.T, s store.IStore) {
	_, err := s.Store(store.ModeReplace, "k", []byte("v"), 0, 0, 0)
	expectCode(t, err, store.RetCKeyNotFound, "replace missing")

	mustStore(t, s, store.ModeAdd, "k", "v1")

	_, err = s.Store(store.ModeAdd, "k", []byte("v2"), 0, 0, 0)
	expectCode(t, err, store.RetCKeyExists, "add existing")

	mustStore(t, s, store.ModeReplace, "k", "v3")
	item, _ := s.Get("k")
	if string(item.Value) != "v3" {
		t.Errorf("Expected v3, got %s", item.Value)
	}

	_, err = s.Store(store.Mode(0), "k", []byte("v"), 0, 0, 0)
	expectCode(t, err, store.RetCInvalidArgument, "invalid mode")
}

func testAppendPrepend(t *testing.T, s store.IStore) {
	_, err := s.Store(store.ModeAppend, "k", []byte("x"), 0, 0, 0)
	expectCode(t, err, store.RetCNotStored, "append missing")
	_, err = s.Store(store.ModePrepend, "k", []byte("x"), 0, 0, 0)
	expectCode(t, err, store.RetCNotStored, "prepend missing")

	if _, err := s.Store(store.ModeSet, "k", []byte("mid"), 7, 0, 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Store(store.ModeAppend, "k", []byte("-end"), 99, 0, 0); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := s.Store(store.ModePrepend, "k", []byte("start-"), 99, 0, 0); err != nil {
		t.Fatalf("Prepend failed: %v", err)
	}

	item, _ := s.Get("k")
	if string(item.Value) != "start-mid-end" {
		t.Errorf("Expected start-mid-end, got %s", item.Value)
	}
	if item.Flags != 7 {
		t.Errorf("Append must keep the flags, got %d", item.Flags)
	}
}

func testCAS(t *testing.T, s store.IStore) {
	cas := mustStore(t, s, store.ModeSet, "k", "v1")

	_, err := s.Store(store.ModeSet, "k", []byte("v2"), 0, 0, cas+1000)
	expectCode(t, err, store.RetCKeyExists, "cas mismatch")

	newCAS, err := s.Store(store.ModeSet, "k", []byte("v2"), 0, 0, cas)
	if err != nil {
		t.Fatalf("Store with matching CAS failed: %v", err)
	}
	if newCAS == cas {
		t.Errorf("Expected a new CAS")
	}

	_, err = s.Store(store.ModeSet, "missing", []byte("v"), 0, 0, 5)
	expectCode(t, err, store.RetCKeyNotFound, "cas on missing key")
}

func testRemove(t *testing.T, s store.IStore) {
	_, err := s.Remove("k", 0)
	expectCode(t, err, store.RetCKeyNotFound, "remove missing")

	cas := mustStore(t, s, store.ModeSet, "k", "v")
	_, err = s.Remove("k", cas+1)
	expectCode(t, err, store.RetCKeyExists, "remove with wrong cas")

	if _, err := s.Remove("k", cas); err != nil {
		t.Errorf("Remove failed: %v", err)
	}
	_, err = s.Get("k")
	expectCode(t, err, store.RetCKeyNotFound, "get after remove")
}

func testArithmetic(t *testing.T, s store.IStore) {
	_, _, err := s.Arithmetic("counter", 1, 0, false, 0)
	expectCode(t, err, store.RetCKeyNotFound, "incr missing without create")

	v, cas, err := s.Arithmetic("counter", 5, 10, true, 0)
	if err != nil || v != 10 || cas == 0 {
		t.Fatalf("Expected initial 10, got %d (%v)", v, err)
	}

	v, _, err = s.Arithmetic("counter", 5, 0, true, 0)
	if err != nil || v != 15 {
		t.Errorf("Expected 15, got %d (%v)", v, err)
	}

	v, _, err = s.Arithmetic("counter", -100, 0, false, 0)
	if err != nil || v != 0 {
		t.Errorf("Decrement must stop at zero, got %d (%v)", v, err)
	}

	item, _ := s.Get("counter")
	if string(item.Value) != "0" {
		t.Errorf("Expected stored value 0, got %s", item.Value)
	}

	mustStore(t, s, store.ModeSet, "text", "abc")
	_, _, err = s.Arithmetic("text", 1, 0, false, 0)
	expectCode(t, err, store.RetCDeltaBadval, "incr non-number")
}

func testExpiry(t *testing.T, s store.IStore, clock *Clock) {
	if _, err := s.Store(store.ModeSet, "short", []byte("v"), 0, 10, 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	mustStore(t, s, store.ModeSet, "forever", "v")

	absolute := uint32(clock.Now().Add(20 * time.Second).Unix())
	if _, err := s.Store(store.ModeSet, "absolute", []byte("v"), 0, absolute, 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	clock.Advance(9 * time.Second)
	if _, err := s.Get("short"); err != nil {
		t.Errorf("Key should still exist after 9s: %v", err)
	}

	clock.Advance(time.Second)
	_, err := s.Get("short")
	expectCode(t, err, store.RetCKeyNotFound, "get expired")

	if _, err := s.Get("absolute"); err != nil {
		t.Errorf("Absolute expiry should not have passed: %v", err)
	}
	clock.Advance(10 * time.Second)
	_, err = s.Get("absolute")
	expectCode(t, err, store.RetCKeyNotFound, "get expired absolute")

	clock.Advance(365 * 24 * time.Hour)
	if _, err := s.Get("forever"); err != nil {
		t.Errorf("Key without expiry must not expire: %v", err)
	}

	// add succeeds on an expired key
	mustStore(t, s, store.ModeAdd, "short", "again")
	if s.Len() != 2 {
		t.Errorf("Expected 2 live items, got %d", s.Len())
	}
}

func testTouch(t *testing.T, s store.IStore, clock *Clock) {
	_, err := s.Touch("k", 10)
	expectCode(t, err, store.RetCKeyNotFound, "touch missing")

	if _, err := s.Store(store.ModeSet, "k", []byte("v"), 0, 5, 0); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Touch("k", 100); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	clock.Advance(50 * time.Second)
	if _, err := s.Get("k"); err != nil {
		t.Errorf("Touched key should still exist: %v", err)
	}
}

func testLock(t *testing.T, s store.IStore, clock *Clock) {
	_, err := s.GetAndLock("k", time.Second)
	expectCode(t, err, store.RetCKeyNotFound, "lock missing")

	mustStore(t, s, store.ModeSet, "k", "v")
	err = s.Unlock("k", 1)
	expectCode(t, err, store.RetCNotLocked, "unlock unlocked")

	item, err := s.GetAndLock("k", 5*time.Second)
	if err != nil {
		t.Fatalf("GetAndLock failed: %v", err)
	}

	_, err = s.GetAndLock("k", time.Second)
	expectCode(t, err, store.RetCLocked, "lock locked")
	_, err = s.Store(store.ModeSet, "k", []byte("other"), 0, 0, 0)
	expectCode(t, err, store.RetCLocked, "write locked")
	_, err = s.Remove("k", 0)
	expectCode(t, err, store.RetCLocked, "remove locked")
	err = s.Unlock("k", item.CAS+1)
	expectCode(t, err, store.RetCLocked, "unlock with wrong cas")

	// reads are not blocked
	if _, err := s.Get("k"); err != nil {
		t.Errorf("Get on a locked item failed: %v", err)
	}

	if err := s.Unlock("k", item.CAS); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	mustStore(t, s, store.ModeSet, "k", "free")

	// a write with the lock CAS releases the lock
	item, _ = s.GetAndLock("k", 5*time.Second)
	if _, err := s.Store(store.ModeSet, "k", []byte("owner"), 0, 0, item.CAS); err != nil {
		t.Fatalf("Store with lock CAS failed: %v", err)
	}
	mustStore(t, s, store.ModeSet, "k", "after")

	// locks time out
	s.GetAndLock("k", 2*time.Second)
	clock.Advance(2 * time.Second)
	mustStore(t, s, store.ModeSet, "k", "timed out")

	// the lock duration is capped
	s.GetAndLock("k", time.Hour)
	clock.Advance(store.MaxLockTime)
	mustStore(t, s, store.ModeSet, "k", "capped")
}

func testObserve(t *testing.T, s store.IStore) {
	_, found, err := s.Observe("k")
	if err != nil || found {
		t.Errorf("Expected missing key, got found=%v err=%v", found, err)
	}

	cas := mustStore(t, s, store.ModeSet, "k", "v")
	got, found, err := s.Observe("k")
	if err != nil || !found || got != cas {
		t.Errorf("Expected cas %d, got %d (found=%v err=%v)", cas, got, found, err)
	}
}

func testFlushScanStats(t *testing.T, s store.IStore) {
	for i := 0; i < 10; i++ {
		mustStore(t, s, store.ModeSet, fmt.Sprintf("key-%02d", i), strconv.Itoa(i))
	}
	if s.Len() != 10 {
		t.Errorf("Expected 10 items, got %d", s.Len())
	}

	var keys []string
	s.Scan(func(item store.Item) bool {
		keys = append(keys, item.Key)
		return len(keys) < 5
	})
	if len(keys) != 5 || keys[0] != "key-00" || keys[4] != "key-04" {
		t.Errorf("Unexpected scan result %v", keys)
	}

	stats := s.Stats()
	if len(stats) == 0 {
		t.Fatalf("Expected stats")
	}
	for i := 1; i < len(stats); i++ {
		if stats[i-1].Key > stats[i].Key {
			t.Errorf("Stats must be sorted, %s > %s", stats[i-1].Key, stats[i].Key)
		}
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store after flush, got %d", s.Len())
	}
}

func testEdgeCases(t *testing.T, s store.IStore) {
	_, err := s.Store(store.ModeSet, "", []byte("v"), 0, 0, 0)
	expectCode(t, err, store.RetCInvalidArgument, "empty key")

	long := string(bytes.Repeat([]byte("k"), store.MaxKeyLength+1))
	_, err = s.Get(long)
	expectCode(t, err, store.RetCInvalidArgument, "long key")

	_, err = s.Store(store.ModeSet, "big", make([]byte, store.MaxValueSize+1), 0, 0, 0)
	expectCode(t, err, store.RetCTooBig, "big value")

	// empty values are valid
	mustStore(t, s, store.ModeSet, "empty", "")
	item, err := s.Get("empty")
	if err != nil || len(item.Value) != 0 {
		t.Errorf("Expected empty value, got %q (%v)", item.Value, err)
	}

	// binary keys and values
	key := string([]byte{0x00, 0xff, 0x10})
	if _, err := s.Store(store.ModeSet, key, []byte{0x00, 0x01}, 0, 0, 0); err != nil {
		t.Errorf("Binary key failed: %v", err)
	}
}

func testConcurrent(t *testing.T, s store.IStore) {
	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, _, err := s.Arithmetic("shared", 1, 0, true, 0); err != nil {
					t.Errorf("Arithmetic failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	item, err := s.Get("shared")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// the first call initialises the counter with 0
	want := strconv.Itoa(workers*perWorker - 1)
	if string(item.Value) != want {
		t.Errorf("Expected %s, got %s", want, item.Value)
	}
}
