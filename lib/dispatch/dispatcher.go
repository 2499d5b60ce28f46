package dispatch

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/registry"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dispatch")

// DiagnosticFunc receives continuation failures that could not be delivered
// to the error slot of their connection
type DiagnosticFunc func(h completion.Handle, err error)

// PanicError describes a recovered panic of a continuation
type PanicError struct {
	Kind  completion.Kind
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("continuation for %s panicked: %v", e.Kind, e.Value)
}

// Unwrap exposes the panic value if it was an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDiagnostic replaces the default (logging) diagnostic hook
func WithDiagnostic(fn DiagnosticFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.diagnostic = fn
		}
	}
}

// WithMetricsSet registers the dispatcher counters in set instead of a
// private one
func WithMetricsSet(set *metrics.Set) Option {
	return func(d *Dispatcher) {
		if set != nil {
			d.set = set
		}
	}
}

// Dispatcher routes completions to the continuations registered in a registry
type Dispatcher struct {
	registry   *registry.Registry
	diagnostic DiagnosticFunc
	set        *metrics.Set
	m          *dispatchMetrics
}

// New creates a dispatcher for the connections in r
func New(r *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   r,
		diagnostic: logDiagnostic,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.set == nil {
		d.set = metrics.NewSet()
	}
	d.m = newDispatchMetrics(d.set)
	return d
}

// Registry returns the registry the dispatcher resolves connections in
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Metrics returns the metrics set holding the dispatcher counters
func (d *Dispatcher) Metrics() *metrics.Set {
	return d.set
}

// Dispatch delivers c to the continuation registered for its kind on its
// connection. It never panics because of a continuation.
func (d *Dispatcher) Dispatch(c completion.Completion) {
	if c.Payload == nil {
		d.m.malformed.Inc()
		status := c.Status
		if status.OK() {
			status = completion.StatusEinternal
		}
		c = completion.Completion{
			Handle:  c.Handle,
			Cookie:  c.Cookie,
			Status:  status,
			Payload: completion.Error{Info: "malformed completion without payload"},
		}
	}

	entry, ok := d.registry.Lookup(c.Handle)
	if !ok {
		d.m.droppedUnknown.Inc()
		Logger.Debugf("dropping %s completion for unknown connection %s", c.Kind(), c.Handle)
		return
	}

	kind := c.Kind()
	cont, done := entry.Slots().Acquire(kind)
	if cont == nil {
		d.m.droppedUnset.Inc()
		return
	}
	err := invoke(kind, cont, c)
	done()
	d.m.dispatched[kind].Inc()

	if err != nil {
		d.m.failures.Inc()
		d.reportFailure(entry, c, err)
	}
}

// Stats is a snapshot of the dispatcher counters
type Stats struct {
	Dispatched     uint64
	DroppedUnknown uint64
	DroppedUnset   uint64
	Malformed      uint64
	Failures       uint64
}

// Stats returns the current counter values
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		DroppedUnknown: d.m.droppedUnknown.Get(),
		DroppedUnset:   d.m.droppedUnset.Get(),
		Malformed:      d.m.malformed.Get(),
		Failures:       d.m.failures.Get(),
	}
	for _, c := range d.m.dispatched {
		s.Dispatched += c.Get()
	}
	return s
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// reportFailure routes a continuation failure to the error slot of the
// connection or, failing that, to the diagnostic hook
func (d *Dispatcher) reportFailure(entry *registry.Entry, c completion.Completion, err error) {
	Logger.Warningf("continuation for %s on connection %s failed: %v", c.Kind(), c.Handle, err)

	if c.Kind() == completion.KindError {
		d.diagnose(c.Handle, err)
		return
	}

	// the entry may have been torn down by the failing continuation, in
	// which case its table is released and Acquire finds nothing
	cont, done := entry.Slots().Acquire(completion.KindError)
	if cont == nil {
		d.diagnose(c.Handle, err)
		return
	}
	errC := completion.Completion{
		Handle:  c.Handle,
		Cookie:  c.Cookie,
		Status:  completion.StatusCallbackFailure,
		Payload: completion.Error{Info: err.Error()},
	}
	errErr := invoke(completion.KindError, cont, errC)
	done()
	d.m.dispatched[completion.KindError].Inc()

	if errErr != nil {
		d.m.failures.Inc()
		d.diagnose(c.Handle, errors.Join(err, errErr))
	}
}

// diagnose runs the diagnostic hook. A panicking hook is logged and does not
// unwind into the driving loop.
func (d *Dispatcher) diagnose(h completion.Handle, err error) {
	defer func() {
		if p := recover(); p != nil {
			Logger.Errorf("diagnostic hook panicked for connection %s: %v", h, p)
		}
	}()
	d.diagnostic(h, err)
}

// invoke calls cont and converts a panic into a *PanicError
func invoke(kind completion.Kind, cont slots.Continuation, c completion.Completion) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Kind: kind, Value: p, Stack: debug.Stack()}
		}
	}()
	cont.Invoke(c)
	return nil
}

func logDiagnostic(h completion.Handle, err error) {
	Logger.Errorf("unhandled continuation failure on connection %s: %v", h, err)
}
