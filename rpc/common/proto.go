package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Session fields
	Bucket string `json:"bucket,omitempty"` // Used for: Auth (request)
	Token  string `json:"token,omitempty"`  // Session token returned by Auth, required by all other requests

	// General fields
	Key     string `json:"key,omitempty"`     // Item key; user name for Auth, group name for Stats
	Value   []byte `json:"value,omitempty"`   // Item value; password for Auth, version string for Version
	Flags   uint32 `json:"flags,omitempty"`   // Used for: Store (request), Get (response)
	Expiry  uint32 `json:"expiry,omitempty"`  // Used for: Store, Arithmetic, Touch
	CAS     uint64 `json:"cas,omitempty"`     // Used for: Store, Remove, Unlock (request), all item responses
	Delta   int64  `json:"delta,omitempty"`   // Used for: Arithmetic
	Initial uint64 `json:"initial,omitempty"` // Used for: Arithmetic (request), counter value (response)
	Mode    uint8  `json:"mode,omitempty"`    // Store mode, Arithmetic create flag, Verbosity level, Observe state
	Lock    uint32 `json:"lock,omitempty"`    // Lock time in milliseconds for Get

	// Response only fields
	Status uint16 `json:"status,omitempty"` // completion.Status of the operation
	Server string `json:"server,omitempty"` // Node that executed the operation; target node for Verbosity requests
	Rows   []Row  `json:"rows,omitempty"`   // Used for: Stats (response)
	Err    string `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
}

// Row is one key/value pair of a multi row response
type Row struct {
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewAuthRequest creates a new Auth request
func NewAuthRequest(bucket, user, password string) *Message {
	return &Message{
		MsgType: MsgTAuth,
		Bucket:  bucket,
		Key:     user,
		Value:   []byte(password),
	}
}

// NewAuthResponse creates a new Auth response
func NewAuthResponse(token, server string, status uint16) *Message {
	return &Message{
		MsgType: MsgTAuth,
		Token:   token,
		Server:  server,
		Status:  status,
	}
}

// NewGetRequest creates a new Get request. A positive lock locks the item.
func NewGetRequest(token, key string, lock time.Duration) *Message {
	return &Message{
		MsgType: MsgTGet,
		Token:   token,
		Key:     key,
		Lock:    uint32(lock / time.Millisecond),
	}
}

// NewStoreRequest creates a new Store request
func NewStoreRequest(token string, mode uint8, key string, value []byte, flags, expiry uint32, cas uint64) *Message {
	return &Message{
		MsgType: MsgTStore,
		Token:   token,
		Mode:    mode,
		Key:     key,
		Value:   value,
		Flags:   flags,
		Expiry:  expiry,
		CAS:     cas,
	}
}

// NewRemoveRequest creates a new Remove request
func NewRemoveRequest(token, key string, cas uint64) *Message {
	return &Message{
		MsgType: MsgTRemove,
		Token:   token,
		Key:     key,
		CAS:     cas,
	}
}

// NewArithmeticRequest creates a new Arithmetic request
func NewArithmeticRequest(token, key string, delta int64, initial uint64, create bool, expiry uint32) *Message {
	msg := &Message{
		MsgType: MsgTArithmetic,
		Token:   token,
		Key:     key,
		Delta:   delta,
		Initial: initial,
		Expiry:  expiry,
	}
	if create {
		msg.Mode = 1
	}
	return msg
}

// NewStatsRequest creates a new Stats request for the given group
func NewStatsRequest(token, group string) *Message {
	return &Message{
		MsgType: MsgTStats,
		Token:   token,
		Key:     group,
	}
}

// NewFlushRequest creates a new Flush request
func NewFlushRequest(token string) *Message {
	return &Message{MsgType: MsgTFlush, Token: token}
}

// NewObserveRequest creates a new Observe request
func NewObserveRequest(token, key string) *Message {
	return &Message{MsgType: MsgTObserve, Token: token, Key: key}
}

// NewTouchRequest creates a new Touch request
func NewTouchRequest(token, key string, expiry uint32) *Message {
	return &Message{MsgType: MsgTTouch, Token: token, Key: key, Expiry: expiry}
}

// NewUnlockRequest creates a new Unlock request
func NewUnlockRequest(token, key string, cas uint64) *Message {
	return &Message{MsgType: MsgTUnlock, Token: token, Key: key, CAS: cas}
}

// NewVerbosityRequest creates a new Verbosity request. An empty server
// addresses every node.
func NewVerbosityRequest(token string, level uint8, server string) *Message {
	return &Message{MsgType: MsgTVerbosity, Token: token, Mode: level, Server: server}
}

// NewVersionRequest creates a new Version request
func NewVersionRequest(token string) *Message {
	return &Message{MsgType: MsgTVersion, Token: token}
}

// NewLogoutRequest creates a new Logout request ending the session
func NewLogoutRequest(token string) *Message {
	return &Message{MsgType: MsgTLogout, Token: token}
}

// NewStatusResponse creates a response of type t carrying only a status
func NewStatusResponse(t MessageType, status uint16, server string) *Message {
	return &Message{
		MsgType: t,
		Status:  status,
		Server:  server,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTUnknown:    "unknown",
	MsgTError:      "error",
	MsgTAuth:       "auth",
	MsgTLogout:     "logout",
	MsgTGet:        "get",
	MsgTStore:      "store",
	MsgTRemove:     "remove",
	MsgTArithmetic: "arithmetic",
	MsgTStats:      "stats",
	MsgTFlush:      "flush",
	MsgTObserve:    "observe",
	MsgTTouch:      "touch",
	MsgTUnlock:     "unlock",
	MsgTVerbosity:  "verbosity",
	MsgTVersion:    "version",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTError               // Indicates a protocol error

	// Session operations

	MsgTAuth   // Authenticate against a bucket and open a session
	MsgTLogout // Close a session

	// Key-value operations

	MsgTGet        // Get (and optionally lock) an item
	MsgTStore      // Add, replace, set, append or prepend
	MsgTRemove     // Delete an item
	MsgTArithmetic // Increment or decrement a counter
	MsgTObserve    // Query the state of an item
	MsgTTouch      // Update the expiry of an item
	MsgTUnlock     // Release a lock taken by Get

	// Node operations

	MsgTStats     // Read a statistics group
	MsgTFlush     // Remove all items of the bucket
	MsgTVerbosity // Set the log verbosity
	MsgTVersion   // Read the server version
)
