package completion

import (
	"fmt"
	"net/http"
)

// Completion is one completion event as delivered by an engine. Cookie is the
// correlation token given when the operation was issued and is never
// inspected by the binding.
type Completion struct {
	Handle  Handle
	Cookie  any
	Status  Status
	Payload Payload
}

// Kind returns the kind of the payload. A completion without payload reports
// KindError since it can only be handled by the error slot.
func (c Completion) Kind() Kind {
	if c.Payload == nil {
		return KindError
	}
	return c.Payload.Kind()
}

// Err is a shortcut for c.Status.Err()
func (c Completion) Err() error {
	return c.Status.Err()
}

func (c Completion) String() string {
	return fmt.Sprintf("completion{handle=%s kind=%s status=%s cookie=%v}", c.Handle, c.Kind(), c.Status, c.Cookie)
}

// Payload is the kind specific part of a completion. The set of
// implementations is closed.
type Payload interface {
	Kind() Kind
	sealed()
}

// --------------------------------------------------------------------------
// Payload variants
// --------------------------------------------------------------------------

// Get is the result of a fetch
type Get struct {
	Key   string
	Value []byte
	Flags uint32
	CAS   uint64
}

// Store is the result of a store command
type Store struct {
	Operation StoreOperation
	Key       string
	CAS       uint64
}

// Remove is the result of a remove command
type Remove struct {
	Key string
	CAS uint64
}

// Arithmetic is the result of an increment or decrement
type Arithmetic struct {
	Key   string
	Value uint64
	CAS   uint64
}

// Stat is one row of a stats response. A Stat with an empty Server
// terminates the sequence.
type Stat struct {
	Server string
	Key    string
	Value  []byte
}

// Flush reports that one server flushed. An empty Server terminates the
// sequence.
type Flush struct {
	Server string
}

// HTTPComplete is the final completion of an HTTP request
type HTTPComplete struct {
	StatusCode int
	Path       string
	Headers    http.Header
	Body       []byte
}

// HTTPData is one body chunk of a chunked HTTP request
type HTTPData struct {
	StatusCode int
	Path       string
	Headers    http.Header
	Chunk      []byte
}

// Observe reports the state of a key on one server. An Observe with an empty
// Server terminates the sequence.
type Observe struct {
	Key    string
	Server string
	State  ObserveState
	CAS    uint64
	Master bool
}

// Touch is the result of an expiry update
type Touch struct {
	Key string
	CAS uint64
}

// Unlock is the result of an unlock command
type Unlock struct {
	Key string
}

// Verbosity reports that one server changed its verbosity. An empty Server
// terminates the sequence.
type Verbosity struct {
	Server string
}

// Version reports the version of one server. An empty Server terminates the
// sequence.
type Version struct {
	Server  string
	Version string
}

// Configuration reports a cluster configuration event
type Configuration struct {
	State ConfigState
}

// Error is a connection level failure
type Error struct {
	Info string
}

func (Get) Kind() Kind           { return KindGet }
func (Store) Kind() Kind         { return KindStore }
func (Remove) Kind() Kind        { return KindRemove }
func (Arithmetic) Kind() Kind    { return KindArithmetic }
func (Stat) Kind() Kind          { return KindStat }
func (Flush) Kind() Kind         { return KindFlush }
func (HTTPComplete) Kind() Kind  { return KindHTTPComplete }
func (HTTPData) Kind() Kind      { return KindHTTPData }
func (Observe) Kind() Kind       { return KindObserve }
func (Touch) Kind() Kind         { return KindTouch }
func (Unlock) Kind() Kind        { return KindUnlock }
func (Verbosity) Kind() Kind     { return KindVerbosity }
func (Version) Kind() Kind       { return KindVersion }
func (Configuration) Kind() Kind { return KindConfiguration }
func (Error) Kind() Kind         { return KindError }

func (Get) sealed()           {}
func (Store) sealed()         {}
func (Remove) sealed()        {}
func (Arithmetic) sealed()    {}
func (Stat) sealed()          {}
func (Flush) sealed()         {}
func (HTTPComplete) sealed()  {}
func (HTTPData) sealed()      {}
func (Observe) sealed()       {}
func (Touch) sealed()         {}
func (Unlock) sealed()        {}
func (Verbosity) sealed()     {}
func (Version) sealed()       {}
func (Configuration) sealed() {}
func (Error) sealed()         {}

// Terminal reports whether p ends a multi-row sequence (stats, flush,
// observe, verbosity, version). Payloads of other kinds are always terminal.
func Terminal(p Payload) bool {
	switch v := p.(type) {
	case Stat:
		return v.Server == ""
	case Flush:
		return v.Server == ""
	case Observe:
		return v.Server == ""
	case Verbosity:
		return v.Server == ""
	case Version:
		return v.Server == ""
	case HTTPData:
		return false
	default:
		return true
	}
}
