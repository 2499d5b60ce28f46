package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
)

// DefaultTimeout is the per-connection operation timeout of a new connection
const DefaultTimeout = 2500 * time.Millisecond

var (
	// ErrUnknownHandle is returned for operations on a handle the engine does not know
	ErrUnknownHandle = errors.New("unknown connection handle")
	// ErrInvalidArgument is returned for commands or configurations that fail validation
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrHandleInUse is returned by Loop.Register for a handle that is already registered
	ErrHandleInUse = errors.New("connection handle already registered")
	// ErrClosed is returned by engines after Close
	ErrClosed = errors.New("engine closed")
)

// Sink receives the completions of one connection. It is installed once per
// connection at creation and is called on the goroutine driving the loop.
type Sink func(c completion.Completion)

// Engine is the storage engine client consumed by the binding. All operation
// methods only schedule work: they return synchronously with an error if the
// command is rejected, otherwise exactly one completion sequence is produced
// for the cookie and delivered by Poll or Wait.
type Engine interface {
	// Create allocates a new connection and installs sink for its completions
	Create(cfg ConnConfig, sink Sink) (completion.Handle, error)
	// Connect authenticates the connection. It completes with a
	// completion.Configuration or a completion.Error.
	Connect(h completion.Handle) error

	Get(h completion.Handle, cookie any, cmd GetCmd) error
	Store(h completion.Handle, cookie any, cmd StoreCmd) error
	Remove(h completion.Handle, cookie any, cmd RemoveCmd) error
	Arithmetic(h completion.Handle, cookie any, cmd ArithmeticCmd) error
	Stats(h completion.Handle, cookie any, cmd StatsCmd) error
	Flush(h completion.Handle, cookie any, cmd FlushCmd) error
	HTTPRequest(h completion.Handle, cookie any, cmd HTTPCmd) error
	Observe(h completion.Handle, cookie any, cmd ObserveCmd) error
	Touch(h completion.Handle, cookie any, cmd TouchCmd) error
	Unlock(h completion.Handle, cookie any, cmd UnlockCmd) error
	Verbosity(h completion.Handle, cookie any, cmd VerbosityCmd) error
	Version(h completion.Handle, cookie any, cmd VersionCmd) error

	// Poll delivers the completions that are ready right now and returns
	// how many were delivered. It never blocks.
	Poll() int
	// Wait drives the loop until h has no outstanding operations
	Wait(ctx context.Context, h completion.Handle) error
	// Destroy releases the engine resources of h. Completions already in
	// flight may still be delivered to the sink afterwards.
	Destroy(h completion.Handle) error

	Timeout(h completion.Handle) (time.Duration, error)
	SetTimeout(h completion.Handle, d time.Duration) error

	// Close destroys all connections of the engine
	Close() error
}
