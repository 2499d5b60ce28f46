package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/dispatch"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/lib/registry"
	"github.com/ValentinKolb/kvbind/lib/slots"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
)

var Logger = logger.GetLogger("binding")

// ErrDestroyed is returned for operations on a destroyed connection
var ErrDestroyed = errors.New("connection destroyed")

type options struct {
	registry []registry.Option
	dispatch []dispatch.Option
}

// Option configures a Binding
type Option func(*options)

// WithMaxConnections limits the number of live connections
func WithMaxConnections(n int) Option {
	return func(o *options) {
		o.registry = append(o.registry, registry.WithMaxEntries(n))
	}
}

// WithDispatchOptions passes options to the completion dispatcher
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(o *options) {
		o.dispatch = append(o.dispatch, opts...)
	}
}

// Binding creates connections on an engine and dispatches their completions
type Binding struct {
	engine     engine.Engine
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	conns      *xsync.MapOf[completion.Handle, *Connection]
}

// New creates a binding for e
func New(e engine.Engine, opts ...Option) *Binding {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	r := registry.New(o.registry...)
	return &Binding{
		engine:     e,
		registry:   r,
		dispatcher: dispatch.New(r, o.dispatch...),
		conns:      xsync.NewMapOf[completion.Handle, *Connection](),
	}
}

// Engine returns the engine of the binding
func (b *Binding) Engine() engine.Engine { return b.engine }

// Registry returns the connection registry
func (b *Binding) Registry() *registry.Registry { return b.registry }

// Dispatcher returns the completion dispatcher
func (b *Binding) Dispatcher() *dispatch.Dispatcher { return b.dispatcher }

// Create opens a new connection with all callback slots unset. The
// connection is not connected yet, see Connection.Connect.
func (b *Binding) Create(cfg engine.ConnConfig) (*Connection, error) {
	h, err := b.engine.Create(cfg, b.dispatcher.Dispatch)
	if err != nil {
		return nil, err
	}
	entry, err := b.registry.Insert(h)
	if err != nil {
		if derr := b.engine.Destroy(h); derr != nil {
			Logger.Warningf("failed to destroy connection %s after registry error: %v", h, derr)
		}
		return nil, err
	}
	Logger.Debugf("connection %s created", h)
	conn := &Connection{binding: b, handle: h, entry: entry}
	b.conns.Store(h, conn)
	return conn, nil
}

// Poll delivers the completions that are ready right now and returns how
// many were delivered
func (b *Binding) Poll() int {
	return b.engine.Poll()
}

// Close destroys every live connection and closes the engine. Afterwards
// operations on those connections fail with ErrDestroyed.
func (b *Binding) Close() error {
	var err error
	b.conns.Range(func(_ completion.Handle, conn *Connection) bool {
		err = multierr.Append(err, conn.Destroy())
		return true
	})
	return multierr.Append(err, b.engine.Close())
}

// Strerror returns the description of a status code
func Strerror(s completion.Status) string {
	return s.Strerror()
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Connection is one engine connection with its callback slots
type Connection struct {
	binding     *Binding
	handle      completion.Handle
	entry       *registry.Entry
	destroyOnce sync.Once
	destroyErr  error
	destroyed   bool
	mu          sync.Mutex
}

// Handle returns the engine handle of the connection
func (c *Connection) Handle() completion.Handle { return c.handle }

// SetCallback registers cont for completions of kind, replacing (and
// releasing) the previous continuation
func (c *Connection) SetCallback(kind completion.Kind, cont slots.Continuation) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.entry.Slots().Set(kind, cont); err != nil {
		if errors.Is(err, slots.ErrReleased) {
			return fmt.Errorf("%w: %s", ErrDestroyed, c.handle)
		}
		return err
	}
	return nil
}

// Callback returns the continuation registered for kind
func (c *Connection) Callback(kind completion.Kind) slots.Continuation {
	return c.entry.Slots().Get(kind)
}

// Connect authenticates the connection. It completes on the configuration
// slot on success and on the error slot otherwise.
func (c *Connection) Connect() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.binding.engine.Connect(c.handle)
}

func (c *Connection) Get(cookie any, cmd engine.GetCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Get(c.handle, cookie, cmd) })
}

func (c *Connection) Store(cookie any, cmd engine.StoreCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Store(c.handle, cookie, cmd) })
}

func (c *Connection) Remove(cookie any, cmd engine.RemoveCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Remove(c.handle, cookie, cmd) })
}

func (c *Connection) Arithmetic(cookie any, cmd engine.ArithmeticCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Arithmetic(c.handle, cookie, cmd) })
}

func (c *Connection) Stats(cookie any, cmd engine.StatsCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Stats(c.handle, cookie, cmd) })
}

func (c *Connection) Flush(cookie any, cmd engine.FlushCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Flush(c.handle, cookie, cmd) })
}

func (c *Connection) HTTPRequest(cookie any, cmd engine.HTTPCmd) error {
	return c.issue(func(e engine.Engine) error { return e.HTTPRequest(c.handle, cookie, cmd) })
}

func (c *Connection) Observe(cookie any, cmd engine.ObserveCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Observe(c.handle, cookie, cmd) })
}

func (c *Connection) Touch(cookie any, cmd engine.TouchCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Touch(c.handle, cookie, cmd) })
}

func (c *Connection) Unlock(cookie any, cmd engine.UnlockCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Unlock(c.handle, cookie, cmd) })
}

func (c *Connection) Verbosity(cookie any, cmd engine.VerbosityCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Verbosity(c.handle, cookie, cmd) })
}

func (c *Connection) Version(cookie any, cmd engine.VersionCmd) error {
	return c.issue(func(e engine.Engine) error { return e.Version(c.handle, cookie, cmd) })
}

// Wait drives the engine until every operation of the connection delivered
// its final completion or ctx is done. Completions of other connections
// that become ready meanwhile are delivered too.
func (c *Connection) Wait(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.binding.engine.Wait(ctx, c.handle)
}

// Timeout returns the operation timeout of the connection
func (c *Connection) Timeout() (time.Duration, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.binding.engine.Timeout(c.handle)
}

// SetTimeout sets the operation timeout of the connection
func (c *Connection) SetTimeout(d time.Duration) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.binding.engine.SetTimeout(c.handle, d)
}

// Destroy unregisters the connection, releases its continuations and
// destroys the engine connection. Completions arriving afterwards are
// dropped. Calling Destroy again is a no-op; it is safe to call from a
// continuation of the connection itself.
func (c *Connection) Destroy() error {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		c.destroyed = true
		c.mu.Unlock()

		c.binding.registry.Remove(c.handle)
		c.binding.conns.Delete(c.handle)
		if err := c.binding.engine.Destroy(c.handle); err != nil && !errors.Is(err, engine.ErrUnknownHandle) {
			c.destroyErr = err
		}
		Logger.Debugf("connection %s destroyed", c.handle)
	})
	return c.destroyErr
}

// Destroyed reports whether Destroy was called
func (c *Connection) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Connection) check() error {
	if c.Destroyed() {
		return fmt.Errorf("%w: %s", ErrDestroyed, c.handle)
	}
	return nil
}

func (c *Connection) issue(op func(e engine.Engine) error) error {
	if err := c.check(); err != nil {
		return err
	}
	return op(c.binding.engine)
}
