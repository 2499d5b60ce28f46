package store

import (
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Mode selects the semantics of IStore.Store
type Mode uint8

const (
	ModeAdd     Mode = 1 // fail if the key exists
	ModeReplace Mode = 2 // fail if the key is missing
	ModeSet     Mode = 3 // unconditional write
	ModeAppend  Mode = 4 // append to an existing value
	ModePrepend Mode = 5 // prepend to an existing value
)

const (
	// MaxKeyLength is the longest accepted key
	MaxKeyLength = 250
	// MaxValueSize is the largest accepted value
	MaxValueSize = 20 * 1024 * 1024
	// DefaultLockTime is used by GetAndLock for a zero duration
	DefaultLockTime = 15 * time.Second
	// MaxLockTime caps the duration of GetAndLock
	MaxLockTime = 30 * time.Second
	// RelativeExpiryLimit is the largest expiry (in seconds) that is
	// interpreted relative to now; larger values are absolute unix times
	RelativeExpiryLimit = 30 * 24 * 60 * 60
)

// Item is a stored value with its metadata
type Item struct {
	Key   string
	Value []byte
	Flags uint32
	CAS   uint64
}

// Stat is one named statistic of a store
type Stat struct {
	Key   string
	Value string
}

// IStore is the storage contract of one bucket. Every write returns the new
// CAS of the item. All errors are of type *Error.
type IStore interface {
	// Get returns the item stored under key
	Get(key string) (item Item, err error)
	// GetAndLock returns the item and locks it for lockFor (DefaultLockTime
	// if zero, capped at MaxLockTime). The returned CAS unlocks the item.
	GetAndLock(key string, lockFor time.Duration) (item Item, err error)
	// Store writes value according to mode. A non-zero cas must match the
	// current item. Append and prepend keep the flags and expiry of the item.
	Store(mode Mode, key string, value []byte, flags uint32, expiry uint32, cas uint64) (newCAS uint64, err error)
	// Remove deletes key. A non-zero cas must match the current item.
	Remove(key string, cas uint64) (newCAS uint64, err error)
	// Arithmetic adds delta to the decimal counter stored under key.
	// Decrementing below zero yields zero. If the key is missing and create
	// is set, the counter is initialised with initial.
	Arithmetic(key string, delta int64, initial uint64, create bool, expiry uint32) (value uint64, newCAS uint64, err error)
	// Touch updates the expiry of key
	Touch(key string, expiry uint32) (newCAS uint64, err error)
	// Unlock releases a lock taken by GetAndLock
	Unlock(key string, cas uint64) (err error)
	// Observe returns the CAS of key and whether it exists
	Observe(key string) (cas uint64, found bool, err error)
	// Flush removes all items
	Flush() (err error)
	// Stats returns the statistics of the store sorted by key
	Stats() []Stat
	// Scan calls fn for all live items in key order until fn returns false
	Scan(fn func(item Item) bool)
	// Len returns the number of live items
	Len() int
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store error (code %s): %s", e.Code, e.Msg)
}

// Is matches errors with the same return code
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf returns the return code carried by err, RetCSuccess for nil and
// RetCInternalError for foreign errors
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCKeyNotFound                         // 4: The key does not exist.
	RetCKeyExists                           // 5: The key exists or the CAS did not match.
	RetCNotStored                           // 6: Append or prepend to a missing key.
	RetCLocked                              // 7: The item is locked.
	RetCNotLocked                           // 8: Unlock of an item that is not locked.
	RetCDeltaBadval                         // 9: Arithmetic on a value that is not a number.
	RetCTooBig                              // 10: Value exceeds MaxValueSize.
	RetCInvalidArgument                     // 11: Malformed key or argument.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCKeyNotFound:
		return "KeyNotFound"
	case RetCKeyExists:
		return "KeyExists"
	case RetCNotStored:
		return "NotStored"
	case RetCLocked:
		return "Locked"
	case RetCNotLocked:
		return "NotLocked"
	case RetCDeltaBadval:
		return "DeltaBadval"
	case RetCTooBig:
		return "TooBig"
	case RetCInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// ExpiryTime converts a memcached style expiry to an absolute time. Zero
// means no expiry.
func ExpiryTime(expiry uint32, now time.Time) time.Time {
	if expiry == 0 {
		return time.Time{}
	}
	if expiry <= RelativeExpiryLimit {
		return now.Add(time.Duration(expiry) * time.Second)
	}
	return time.Unix(int64(expiry), 0)
}
