package slots

import (
	"reflect"

	"github.com/ValentinKolb/kvbind/lib/completion"
)

// Continuation is invoked by the dispatcher with a completion that matches
// the slot it is registered in
type Continuation interface {
	Invoke(c completion.Completion)
}

// Releaser is implemented by continuations that hold resources. Release is
// called exactly once per registration, when the table lets go of the
// continuation.
type Releaser interface {
	Release()
}

// ContinuationFunc adapts a plain function to a Continuation
type ContinuationFunc func(c completion.Completion)

func (f ContinuationFunc) Invoke(c completion.Completion) {
	f(c)
}

// For adapts a function handling one payload type to a Continuation.
// Completions whose payload has a different type are ignored. A nil fn
// yields a nil Continuation.
//
// Usage:
//
//	table.Set(completion.KindGet, slots.For(func(c completion.Completion, p completion.Get) {
//		fmt.Printf("%v: %s=%s\n", c.Cookie, p.Key, p.Value)
//	}))
func For[P completion.Payload](fn func(c completion.Completion, p P)) Continuation {
	if fn == nil {
		return nil
	}
	return ContinuationFunc(func(c completion.Completion) {
		if p, ok := c.Payload.(P); ok {
			fn(c, p)
		}
	})
}

// WithRelease attaches a release hook to a continuation
func WithRelease(c Continuation, release func()) Continuation {
	if !invocable(c) {
		return c
	}
	return &releasable{Continuation: c, release: release}
}

type releasable struct {
	Continuation
	release func()
}

func (r *releasable) Release() {
	if r.release != nil {
		r.release()
	}
}

// invocable reports whether c can be called. Typed nils wrapped in the
// interface are rejected as well.
func invocable(c Continuation) bool {
	if c == nil {
		return false
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return !v.IsNil()
	default:
		return true
	}
}
