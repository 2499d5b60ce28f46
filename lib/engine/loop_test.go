package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopPollDeliversInOrder(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	var got []any
	require.NoError(t, l.Register(h, func(c completion.Completion) { got = append(got, c.Cookie) }))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Begin(h))
		l.Push(completion.Completion{Handle: h, Cookie: i, Payload: completion.Get{}}, true)
	}
	assert.Equal(t, 3, l.Outstanding(h))
	assert.Equal(t, 3, l.Poll())
	assert.Equal(t, []any{0, 1, 2}, got)
	assert.Equal(t, 0, l.Outstanding(h))
	assert.Equal(t, 0, l.Poll())
}

func TestLoopPollLeavesReentrantPushesForNextCall(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	calls := 0
	require.NoError(t, l.Register(h, func(c completion.Completion) {
		calls++
		if c.Cookie == "first" {
			require.NoError(t, l.Begin(h))
			l.Push(completion.Completion{Handle: h, Cookie: "second", Payload: completion.Get{}}, true)
		}
	}))
	require.NoError(t, l.Begin(h))
	l.Push(completion.Completion{Handle: h, Cookie: "first", Payload: completion.Get{}}, true)

	assert.Equal(t, 1, l.Poll())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, l.Poll())
	assert.Equal(t, 2, calls)
}

func TestLoopWaitFollowsReentrantOperations(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	var got []any
	require.NoError(t, l.Register(h, func(c completion.Completion) {
		got = append(got, c.Cookie)
		if c.Cookie == 1 {
			require.NoError(t, l.Begin(h))
			l.Push(completion.Completion{Handle: h, Cookie: 2, Payload: completion.Get{}}, true)
		}
	}))
	require.NoError(t, l.Begin(h))
	l.Push(completion.Completion{Handle: h, Cookie: 1, Payload: completion.Get{}}, true)

	require.NoError(t, l.Wait(context.Background(), h))
	assert.Equal(t, []any{1, 2}, got)
}

func TestLoopWaitBlocksForBackgroundProducer(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	delivered := 0
	require.NoError(t, l.Register(h, func(completion.Completion) { delivered++ }))
	require.NoError(t, l.Begin(h))

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Push(completion.Completion{Handle: h, Payload: completion.Stat{Server: "a", Key: "k"}}, false)
		l.Push(completion.Completion{Handle: h, Payload: completion.Stat{}}, true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx, h))
	assert.Equal(t, 2, delivered)
}

func TestLoopWaitHonoursContext(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	require.NoError(t, l.Register(h, func(completion.Completion) {}))
	require.NoError(t, l.Begin(h))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(l.Wait(ctx, h), context.DeadlineExceeded))
}

func TestLoopWaitUnknownHandleReturns(t *testing.T) {
	l := NewLoop()
	assert.NoError(t, l.Wait(context.Background(), completion.NewHandle()))
}

func TestLoopUnregisterKeepsInFlightDeliveries(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	delivered := 0
	require.NoError(t, l.Register(h, func(completion.Completion) { delivered++ }))
	require.NoError(t, l.Begin(h))
	require.NoError(t, l.Unregister(h))

	assert.False(t, l.Active(h))
	assert.True(t, errors.Is(l.Begin(h), ErrUnknownHandle))
	assert.True(t, errors.Is(l.Unregister(h), ErrUnknownHandle))

	// late completion of the operation issued before unregistering
	l.Push(completion.Completion{Handle: h, Payload: completion.Get{}}, true)
	assert.Equal(t, 1, l.Poll())
	assert.Equal(t, 1, delivered)

	// loop forgot the handle, it can be registered again
	assert.NoError(t, l.Register(h, func(completion.Completion) {}))
}

func TestLoopDropsCompletionsWithoutSink(t *testing.T) {
	l := NewLoop()
	l.Push(completion.Completion{Handle: completion.NewHandle(), Payload: completion.Get{}}, true)
	assert.Equal(t, 1, l.Poll())
	assert.Equal(t, 0, l.Pending())
}

func TestLoopRegisterTwice(t *testing.T) {
	l := NewLoop()
	h := completion.NewHandle()
	require.NoError(t, l.Register(h, func(completion.Completion) {}))
	assert.True(t, errors.Is(l.Register(h, func(completion.Completion) {}), ErrHandleInUse))
	assert.True(t, errors.Is(l.Register(completion.NewHandle(), nil), ErrInvalidArgument))
}

func TestLoopWaitAll(t *testing.T) {
	l := NewLoop()
	h1, h2 := completion.NewHandle(), completion.NewHandle()
	delivered := 0
	sink := func(completion.Completion) { delivered++ }
	require.NoError(t, l.Register(h1, sink))
	require.NoError(t, l.Register(h2, sink))
	require.NoError(t, l.Begin(h1))
	require.NoError(t, l.Begin(h2))
	l.PushSequence([]completion.Completion{
		{Handle: h1, Payload: completion.Flush{Server: "a"}},
		{Handle: h1, Payload: completion.Flush{}},
	})
	l.Push(completion.Completion{Handle: h2, Payload: completion.Version{}}, true)

	require.NoError(t, l.WaitAll(context.Background()))
	assert.Equal(t, 3, delivered)
}

func TestCommandValidation(t *testing.T) {
	assert.NoError(t, GetCmd{Key: "k"}.Validate())
	assert.True(t, errors.Is(GetCmd{}.Validate(), ErrInvalidArgument))
	assert.True(t, errors.Is(GetCmd{Key: string(make([]byte, MaxKeyLength+1))}.Validate(), ErrInvalidArgument))
	assert.True(t, errors.Is(StoreCmd{Key: "k"}.Validate(), ErrInvalidArgument))
	assert.NoError(t, StoreCmd{Key: "k", Operation: completion.StoreSet}.Validate())
	assert.True(t, errors.Is(UnlockCmd{Key: "k"}.Validate(), ErrInvalidArgument))
	assert.True(t, errors.Is(HTTPCmd{Method: 9}.Validate(), ErrInvalidArgument))
	assert.Equal(t, MaxLockTime, GetCmd{Key: "k", Lock: time.Hour}.LockDuration())
}

func TestConnConfigDefaults(t *testing.T) {
	cfg := ConnConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.Bucket)
	assert.Equal(t, "default", cfg.User)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)

	cluster := ConnConfig{Type: completion.ConnectionCluster, User: "admin"}
	require.NoError(t, cluster.Validate())
	assert.Equal(t, "", cluster.Bucket)

	bad := ConnConfig{Type: 7}
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidArgument))
	bad = ConnConfig{Timeout: -time.Second}
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidArgument))
}
