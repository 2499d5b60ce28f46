package engine

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
)

const (
	// MaxKeyLength is the longest key accepted by any command
	MaxKeyLength = 250
	// MaxLockTime is the longest lock a GetCmd may request
	MaxLockTime = 30 * time.Second
)

// GetCmd fetches a key. A non-zero Lock locks the item for that duration
// (capped at MaxLockTime).
type GetCmd struct {
	Key  string
	Lock time.Duration
}

// StoreCmd writes a key. CAS, if non-zero, must match the current item.
// Expiry is in seconds; values above thirty days are absolute unix times.
type StoreCmd struct {
	Operation completion.StoreOperation
	Key       string
	Value     []byte
	Flags     uint32
	Expiry    uint32
	CAS       uint64
}

// RemoveCmd deletes a key
type RemoveCmd struct {
	Key string
	CAS uint64
}

// ArithmeticCmd adds Delta to a decimal counter. If the key is missing and
// Create is set the counter is initialised with Initial.
type ArithmeticCmd struct {
	Key     string
	Delta   int64
	Initial uint64
	Expiry  uint32
	Create  bool
}

// StatsCmd requests the statistics group Name ("" for the default group)
type StatsCmd struct {
	Name string
}

// FlushCmd removes every item of the bucket
type FlushCmd struct{}

// HTTPCmd issues an HTTP request against the view or management service.
// With Chunked set the body is delivered as completion.HTTPData chunks before
// the final completion.HTTPComplete.
type HTTPCmd struct {
	Type        completion.HTTPType
	Method      completion.HTTPMethod
	Path        string
	Body        []byte
	ContentType string
	Chunked     bool
}

// ObserveCmd asks every server for the state of a key
type ObserveCmd struct {
	Key string
}

// TouchCmd updates the expiry of a key
type TouchCmd struct {
	Key    string
	Expiry uint32
}

// UnlockCmd releases a lock taken with GetCmd.Lock. CAS must be the value
// returned by the locking get.
type UnlockCmd struct {
	Key string
	CAS uint64
}

// VerbosityCmd sets the log verbosity of Server, or of every server if empty
type VerbosityCmd struct {
	Level  uint8
	Server string
}

// VersionCmd asks every server for its version
type VersionCmd struct{}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key longer than %d bytes", ErrInvalidArgument, MaxKeyLength)
	}
	return nil
}

func (c GetCmd) Validate() error {
	if c.Lock < 0 {
		return fmt.Errorf("%w: negative lock time", ErrInvalidArgument)
	}
	return validateKey(c.Key)
}

func (c StoreCmd) Validate() error {
	if !c.Operation.Valid() {
		return fmt.Errorf("%w: store operation %s", ErrInvalidArgument, c.Operation)
	}
	return validateKey(c.Key)
}

func (c RemoveCmd) Validate() error     { return validateKey(c.Key) }
func (c ArithmeticCmd) Validate() error { return validateKey(c.Key) }
func (c ObserveCmd) Validate() error    { return validateKey(c.Key) }
func (c TouchCmd) Validate() error      { return validateKey(c.Key) }

func (c UnlockCmd) Validate() error {
	if c.CAS == 0 {
		return fmt.Errorf("%w: unlock requires the cas of the lock", ErrInvalidArgument)
	}
	return validateKey(c.Key)
}

func (c HTTPCmd) Validate() error {
	if c.Type > completion.HTTPTypeRaw {
		return fmt.Errorf("%w: http type %s", ErrInvalidArgument, c.Type)
	}
	if c.Method > completion.HTTPDelete {
		return fmt.Errorf("%w: http method %s", ErrInvalidArgument, c.Method)
	}
	return nil
}

// LockDuration returns the effective lock time of the command
func (c GetCmd) LockDuration() time.Duration {
	if c.Lock > MaxLockTime {
		return MaxLockTime
	}
	return c.Lock
}
