package completion

import (
	"errors"
	"fmt"
)

// Status is the result code of an operation. The numeric values follow the
// error table of the data-store client library so that codes travel
// unchanged between engines and over the wire.
type Status uint16

const (
	StatusSuccess        Status = 0x00
	StatusAuthContinue   Status = 0x01
	StatusAuthError      Status = 0x02
	StatusDeltaBadval    Status = 0x03
	StatusE2Big          Status = 0x04
	StatusEbusy          Status = 0x05
	StatusEinternal      Status = 0x06
	StatusEinval         Status = 0x07
	StatusEnomem         Status = 0x08
	StatusErange         Status = 0x09
	StatusError          Status = 0x0a
	StatusEtmpfail       Status = 0x0b
	StatusKeyEexists     Status = 0x0c
	StatusKeyEnoent      Status = 0x0d
	StatusNetworkError   Status = 0x10
	StatusNotMyVbucket   Status = 0x11
	StatusNotStored      Status = 0x12
	StatusNotSupported   Status = 0x13
	StatusUnknownCommand Status = 0x14
	StatusUnknownHost    Status = 0x15
	StatusProtocolError  Status = 0x16
	StatusEtimedout      Status = 0x17
	StatusConnectError   Status = 0x18
	StatusBucketEnoent   Status = 0x19
	StatusClientEnomem   Status = 0x1a

	// StatusCallbackFailure is reported on the error slot when a registered
	// continuation panicked
	StatusCallbackFailure Status = 0x40
)

type statusInfo struct {
	name string
	desc string
}

var statusTable = map[Status]statusInfo{
	StatusSuccess:         {"SUCCESS", "Success"},
	StatusAuthContinue:    {"AUTH_CONTINUE", "Continue authentication"},
	StatusAuthError:       {"AUTH_ERROR", "Authentication error"},
	StatusDeltaBadval:     {"DELTA_BADVAL", "Not a number"},
	StatusE2Big:           {"E2BIG", "Object too big"},
	StatusEbusy:           {"EBUSY", "Too busy. Try again later"},
	StatusEinternal:       {"EINTERNAL", "Internal error"},
	StatusEinval:          {"EINVAL", "Invalid arguments"},
	StatusEnomem:          {"ENOMEM", "Out of memory"},
	StatusErange:          {"ERANGE", "Invalid range"},
	StatusError:           {"ERROR", "Generic error"},
	StatusEtmpfail:        {"ETMPFAIL", "Temporary failure. Try again later"},
	StatusKeyEexists:      {"KEY_EEXISTS", "Key exists (with a different CAS value)"},
	StatusKeyEnoent:       {"KEY_ENOENT", "No such key"},
	StatusNetworkError:    {"NETWORK_ERROR", "Network error"},
	StatusNotMyVbucket:    {"NOT_MY_VBUCKET", "The vbucket is not located on this server"},
	StatusNotStored:       {"NOT_STORED", "Not stored"},
	StatusNotSupported:    {"NOT_SUPPORTED", "Not supported"},
	StatusUnknownCommand:  {"UNKNOWN_COMMAND", "Unknown command"},
	StatusUnknownHost:     {"UNKNOWN_HOST", "Unknown host"},
	StatusProtocolError:   {"PROTOCOL_ERROR", "Protocol error"},
	StatusEtimedout:       {"ETIMEDOUT", "Operation timed out"},
	StatusConnectError:    {"CONNECT_ERROR", "Connection failure"},
	StatusBucketEnoent:    {"BUCKET_ENOENT", "No such bucket"},
	StatusClientEnomem:    {"CLIENT_ENOMEM", "Out of client memory"},
	StatusCallbackFailure: {"CALLBACK_FAILURE", "Continuation failed while handling a completion"},
}

// OK reports whether s is StatusSuccess
func (s Status) OK() bool {
	return s == StatusSuccess
}

func (s Status) String() string {
	if info, ok := statusTable[s]; ok {
		return info.name
	}
	return fmt.Sprintf("STATUS(0x%02x)", uint16(s))
}

// Strerror returns a human readable description of the status
func (s Status) Strerror() string {
	if info, ok := statusTable[s]; ok {
		return info.desc
	}
	return fmt.Sprintf("Unknown error: 0x%02x", uint16(s))
}

// Err returns nil for StatusSuccess and a *StatusErr otherwise
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &StatusErr{Status: s}
}

// StatusErr wraps a non-success Status as an error
type StatusErr struct {
	Status Status
}

func (e *StatusErr) Error() string {
	return fmt.Sprintf("%s (%s)", e.Status.Strerror(), e.Status)
}

// Is allows errors.Is(err, StatusKeyEnoent.Err()) style comparisons
func (e *StatusErr) Is(target error) bool {
	var other *StatusErr
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// StatusOf extracts the Status from err. nil maps to StatusSuccess and errors
// that carry no status map to StatusError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusErr
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusError
}
