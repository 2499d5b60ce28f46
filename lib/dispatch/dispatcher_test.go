package dispatch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/registry"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	cookie any
	status completion.Status
	key    string
	value  string
}

func setup(t *testing.T, opts ...Option) (*registry.Registry, *Dispatcher, completion.Handle, *registry.Entry) {
	t.Helper()
	r := registry.New()
	d := New(r, opts...)
	h := completion.NewHandle()
	entry, err := r.Insert(h)
	require.NoError(t, err)
	return r, d, h, entry
}

func getCompletion(h completion.Handle, cookie any) completion.Completion {
	return completion.Completion{
		Handle:  h,
		Cookie:  cookie,
		Status:  completion.StatusSuccess,
		Payload: completion.Get{Key: "x", Value: []byte("42")},
	}
}

func TestScenarioGetThenLateDuplicate(t *testing.T) {
	r, d, h, entry := setup(t)

	var calls []call
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.For(func(c completion.Completion, p completion.Get) {
		calls = append(calls, call{c.Cookie, c.Status, p.Key, string(p.Value)})
	})))

	d.Dispatch(getCompletion(h, "K1"))
	require.Len(t, calls, 1)
	assert.Equal(t, call{"K1", completion.StatusSuccess, "x", "42"}, calls[0])

	r.Remove(h)
	assert.NotPanics(t, func() { d.Dispatch(getCompletion(h, "K1")) })
	assert.Len(t, calls, 1)
	assert.Equal(t, uint64(1), d.Stats().DroppedUnknown)
}

func TestDispatchToUnsetSlotIsSilent(t *testing.T) {
	_, d, h, entry := setup(t)
	errCalls := 0
	require.NoError(t, entry.Slots().Set(completion.KindError, slots.ContinuationFunc(func(completion.Completion) { errCalls++ })))

	for _, k := range completion.Kinds() {
		if k == completion.KindError {
			continue
		}
		d.Dispatch(completion.Completion{Handle: h, Payload: payloadOf(k)})
	}
	assert.Equal(t, 0, errCalls)
	assert.Equal(t, uint64(completion.NumKinds-1), d.Stats().DroppedUnset)
	assert.Equal(t, uint64(0), d.Stats().Dispatched)
}

func TestDispatchAfterTeardownForEveryKind(t *testing.T) {
	r, d, h, entry := setup(t)
	calls := 0
	for _, k := range completion.Kinds() {
		require.NoError(t, entry.Slots().Set(k, slots.ContinuationFunc(func(completion.Completion) { calls++ })))
	}
	r.Remove(h)

	for _, k := range completion.Kinds() {
		assert.NotPanics(t, func() { d.Dispatch(completion.Completion{Handle: h, Payload: payloadOf(k)}) })
	}
	assert.Equal(t, 0, calls)
}

func TestReentrantTeardownFromContinuation(t *testing.T) {
	r, d, h, entry := setup(t)

	released := 0
	calls := 0
	cont := slots.WithRelease(slots.ContinuationFunc(func(c completion.Completion) {
		calls++
		assert.True(t, r.Remove(c.Handle))
		assert.Equal(t, 0, released, "running continuation released too early")
	}), func() { released++ })
	require.NoError(t, entry.Slots().Set(completion.KindStore, cont))

	d.Dispatch(completion.Completion{Handle: h, Payload: completion.Store{Key: "k"}})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, released)

	fresh, err := r.Insert(h)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Slots().Len())

	d.Dispatch(completion.Completion{Handle: h, Payload: completion.Store{Key: "k"}})
	assert.Equal(t, 1, calls)
}

func TestReentrantSetOfRunningSlot(t *testing.T) {
	_, d, h, entry := setup(t)

	var order []string
	second := slots.ContinuationFunc(func(completion.Completion) { order = append(order, "second") })
	first := slots.ContinuationFunc(func(completion.Completion) {
		order = append(order, "first")
		require.NoError(t, entry.Slots().Set(completion.KindGet, second))
	})
	require.NoError(t, entry.Slots().Set(completion.KindGet, first))

	d.Dispatch(getCompletion(h, nil))
	d.Dispatch(getCompletion(h, nil))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNestedDispatchFromContinuation(t *testing.T) {
	_, d, h, entry := setup(t)

	var seen []any
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(c completion.Completion) {
		seen = append(seen, c.Cookie)
		if c.Cookie == "outer" {
			d.Dispatch(getCompletion(h, "inner"))
		}
	})))

	d.Dispatch(getCompletion(h, "outer"))
	assert.Equal(t, []any{"outer", "inner"}, seen)
}

func TestPanicIsRoutedToErrorSlot(t *testing.T) {
	_, d, h, entry := setup(t)

	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(completion.Completion) {
		panic("boom")
	})))
	var errs []completion.Completion
	require.NoError(t, entry.Slots().Set(completion.KindError, slots.ContinuationFunc(func(c completion.Completion) {
		errs = append(errs, c)
	})))

	assert.NotPanics(t, func() { d.Dispatch(getCompletion(h, "K1")) })
	require.Len(t, errs, 1)
	assert.Equal(t, completion.StatusCallbackFailure, errs[0].Status)
	assert.Equal(t, "K1", errs[0].Cookie)
	info := errs[0].Payload.(completion.Error).Info
	assert.Contains(t, info, "boom")
	assert.Equal(t, uint64(1), d.Stats().Failures)
}

func TestPanicWithoutErrorSlotGoesToDiagnostic(t *testing.T) {
	var diag []error
	_, d, h, entry := setup(t, WithDiagnostic(func(_ completion.Handle, err error) { diag = append(diag, err) }))

	sentinel := errors.New("sentinel")
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(completion.Completion) {
		panic(sentinel)
	})))

	d.Dispatch(getCompletion(h, nil))
	require.Len(t, diag, 1)
	assert.True(t, errors.Is(diag[0], sentinel))

	var pe *PanicError
	require.True(t, errors.As(diag[0], &pe))
	assert.Equal(t, completion.KindGet, pe.Kind)
	assert.NotEmpty(t, pe.Stack)
}

func TestPanickingDiagnosticIsContained(t *testing.T) {
	hooked := 0
	_, d, h, entry := setup(t, WithDiagnostic(func(completion.Handle, error) {
		hooked++
		panic("diagnostic failed")
	}))

	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(completion.Completion) {
		panic("continuation failed")
	})))

	assert.NotPanics(t, func() { d.Dispatch(getCompletion(h, nil)) })
	assert.Equal(t, 1, hooked)

	// the dispatcher keeps working afterwards
	got := 0
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(completion.Completion) { got++ })))
	d.Dispatch(getCompletion(h, nil))
	assert.Equal(t, 1, got)
}

func TestPanickingErrorSlotGoesToDiagnostic(t *testing.T) {
	var diag []error
	_, d, h, entry := setup(t, WithDiagnostic(func(_ completion.Handle, err error) { diag = append(diag, err) }))

	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(completion.Completion) { panic("first") })))
	require.NoError(t, entry.Slots().Set(completion.KindError, slots.ContinuationFunc(func(completion.Completion) { panic("second") })))

	assert.NotPanics(t, func() { d.Dispatch(getCompletion(h, nil)) })
	require.Len(t, diag, 1)
	assert.Contains(t, diag[0].Error(), "first")
	assert.Contains(t, diag[0].Error(), "second")
	assert.Equal(t, uint64(2), d.Stats().Failures)

	// an error completion that panics is not re-routed to itself
	diag = nil
	d.Dispatch(completion.Completion{Handle: h, Payload: completion.Error{Info: "net"}})
	assert.Len(t, diag, 1)
}

func TestPanicAfterSelfTeardownGoesToDiagnostic(t *testing.T) {
	var diag []error
	r, d, h, entry := setup(t, WithDiagnostic(func(_ completion.Handle, err error) { diag = append(diag, err) }))

	errCalls := 0
	require.NoError(t, entry.Slots().Set(completion.KindError, slots.ContinuationFunc(func(completion.Completion) { errCalls++ })))
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(c completion.Completion) {
		r.Remove(c.Handle)
		panic("after teardown")
	})))

	d.Dispatch(getCompletion(h, nil))
	assert.Equal(t, 0, errCalls)
	assert.Len(t, diag, 1)
}

func TestMalformedCompletionFansInToErrorSlot(t *testing.T) {
	_, d, h, entry := setup(t)
	var errs []completion.Completion
	require.NoError(t, entry.Slots().Set(completion.KindError, slots.ContinuationFunc(func(c completion.Completion) {
		errs = append(errs, c)
	})))

	d.Dispatch(completion.Completion{Handle: h, Cookie: 7})
	require.Len(t, errs, 1)
	assert.Equal(t, completion.StatusEinternal, errs[0].Status)
	assert.Equal(t, 7, errs[0].Cookie)
	assert.Equal(t, uint64(1), d.Stats().Malformed)
}

func TestMetricsAreExported(t *testing.T) {
	_, d, h, entry := setup(t)
	require.NoError(t, entry.Slots().Set(completion.KindGet, slots.ContinuationFunc(func(completion.Completion) {})))
	d.Dispatch(getCompletion(h, nil))

	var buf bytes.Buffer
	d.Metrics().WritePrometheus(&buf)
	assert.Contains(t, buf.String(), `kvbind_dispatch_completions_total{kind="get"} 1`)
}

func TestSentryDiagnosticDoesNotPanic(t *testing.T) {
	client, err := sentry.NewClient(sentry.ClientOptions{})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	diag := SentryDiagnostic(hub)
	assert.NotPanics(t, func() {
		diag(completion.NewHandle(), &PanicError{Kind: completion.KindGet, Value: "boom", Stack: []byte("stack")})
	})
	assert.NotPanics(t, func() { SentryDiagnostic(nil)(completion.NewHandle(), errors.New("x")) })
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func payloadOf(k completion.Kind) completion.Payload {
	switch k {
	case completion.KindGet:
		return completion.Get{}
	case completion.KindStore:
		return completion.Store{}
	case completion.KindRemove:
		return completion.Remove{}
	case completion.KindArithmetic:
		return completion.Arithmetic{}
	case completion.KindStat:
		return completion.Stat{}
	case completion.KindFlush:
		return completion.Flush{}
	case completion.KindHTTPComplete:
		return completion.HTTPComplete{}
	case completion.KindHTTPData:
		return completion.HTTPData{}
	case completion.KindObserve:
		return completion.Observe{}
	case completion.KindTouch:
		return completion.Touch{}
	case completion.KindUnlock:
		return completion.Unlock{}
	case completion.KindVerbosity:
		return completion.Verbosity{}
	case completion.KindVersion:
		return completion.Version{}
	case completion.KindConfiguration:
		return completion.Configuration{}
	default:
		return completion.Error{}
	}
}
