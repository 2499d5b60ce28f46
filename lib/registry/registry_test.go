package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(completion.Completion) {}

func TestInsertLookup(t *testing.T) {
	r := New()
	h := completion.NewHandle()

	entry, err := r.Insert(h)
	require.NoError(t, err)
	assert.Equal(t, h, entry.Handle())
	assert.Equal(t, 0, entry.Slots().Len())
	assert.False(t, entry.Created().IsZero())

	found, ok := r.Lookup(h)
	require.True(t, ok)
	assert.Same(t, entry, found)

	_, ok = r.Lookup(completion.NewHandle())
	assert.False(t, ok)
}

func TestInsertDuplicateLeavesEntryUnchanged(t *testing.T) {
	r := New()
	h := completion.NewHandle()
	entry, err := r.Insert(h)
	require.NoError(t, err)
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(noop)))

	_, err = r.Insert(h)
	assert.True(t, errors.Is(err, ErrDuplicateHandle))

	found, ok := r.Lookup(h)
	require.True(t, ok)
	assert.Same(t, entry, found)
	assert.NotNil(t, found.Slots().Get(completion.KindGet))
	assert.Equal(t, 1, r.Len())
}

func TestInsertNilHandle(t *testing.T) {
	_, err := New().Insert(completion.NilHandle)
	assert.True(t, errors.Is(err, ErrNilHandle))
}

func TestInsertCapacity(t *testing.T) {
	r := New(WithMaxEntries(2))
	_, err := r.Insert(completion.NewHandle())
	require.NoError(t, err)
	h := completion.NewHandle()
	_, err = r.Insert(h)
	require.NoError(t, err)

	_, err = r.Insert(completion.NewHandle())
	assert.True(t, errors.Is(err, ErrRegistryFull))
	assert.Equal(t, 2, r.Len())

	// a duplicate must not consume capacity
	_, err = r.Insert(h)
	assert.True(t, errors.Is(err, ErrDuplicateHandle))

	r.Remove(h)
	_, err = r.Insert(completion.NewHandle())
	assert.NoError(t, err)
}

func TestInsertDuplicateIntoFullRegistry(t *testing.T) {
	r := New(WithMaxEntries(1))
	h := completion.NewHandle()
	entry, err := r.Insert(h)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = r.Insert(h)
		assert.True(t, errors.Is(err, ErrDuplicateHandle))
		assert.False(t, errors.Is(err, ErrRegistryFull))
	}

	got, ok := r.Lookup(h)
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.Equal(t, 1, r.Len())

	// the failed inserts did not leak capacity
	require.True(t, r.Remove(h))
	_, err = r.Insert(completion.NewHandle())
	assert.NoError(t, err)
}

func TestRemoveReleasesOnceAndIsIdempotent(t *testing.T) {
	r := New()
	h := completion.NewHandle()
	entry, err := r.Insert(h)
	require.NoError(t, err)

	released := 0
	for _, k := range []completion.Kind{completion.KindGet, completion.KindStore, completion.KindError} {
		require.NoError(t, entry.Slots().Set(k, slots.WithRelease(slots.ContinuationFunc(noop), func() { released++ })))
	}

	assert.True(t, r.Remove(h))
	assert.False(t, r.Remove(h))
	assert.Equal(t, 3, released)

	_, ok := r.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveBoundaryPositions(t *testing.T) {
	cases := map[string]int{"only": 0, "first": 0, "middle": 1, "last": 2}
	for name, idx := range cases {
		t.Run(name, func(t *testing.T) {
			r := New()
			n := 3
			if name == "only" {
				n = 1
			}
			handles := make([]completion.Handle, n)
			for i := range handles {
				handles[i] = completion.NewHandle()
				_, err := r.Insert(handles[i])
				require.NoError(t, err)
			}

			assert.True(t, r.Remove(handles[idx]))
			assert.Equal(t, n-1, r.Len())
			for i, h := range handles {
				_, ok := r.Lookup(h)
				assert.Equal(t, i != idx, ok)
			}
		})
	}

	t.Run("absent", func(t *testing.T) {
		r := New()
		assert.False(t, r.Remove(completion.NewHandle()))
	})
}

func TestReinsertAfterRemoveCreatesFreshEntry(t *testing.T) {
	r := New()
	h := completion.NewHandle()
	entry, err := r.Insert(h)
	require.NoError(t, err)
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(noop)))

	r.Remove(h)
	fresh, err := r.Insert(h)
	require.NoError(t, err)
	assert.NotSame(t, entry, fresh)
	assert.Equal(t, 0, fresh.Slots().Len())
}

func TestRemoveWhileRanging(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		_, err := r.Insert(completion.NewHandle())
		require.NoError(t, err)
	}

	visited := 0
	r.Range(func(e *Entry) bool {
		visited++
		r.Remove(e.Handle())
		return true
	})
	assert.Equal(t, 10, visited)
	assert.Equal(t, 0, r.Len())
}

func TestHandlesMostRecentFirst(t *testing.T) {
	r := New()
	var inserted []completion.Handle
	for i := 0; i < 5; i++ {
		h := completion.NewHandle()
		inserted = append(inserted, h)
		_, err := r.Insert(h)
		require.NoError(t, err)
	}

	handles := r.Handles()
	require.Len(t, handles, 5)
	for i := range handles {
		assert.Equal(t, inserted[len(inserted)-1-i], handles[i])
	}
}

func TestConcurrentInsertRemove(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h := completion.NewHandle()
				if _, err := r.Insert(h); err != nil {
					t.Errorf("insert failed: %v", err)
					return
				}
				if _, ok := r.Lookup(h); !ok {
					t.Errorf("lookup failed for %s", h)
				}
				r.Remove(h)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
