package serializer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/kvbind/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTVersion},

		// Auth request
		*common.NewAuthRequest("default", "default", "secret"),

		// Store request
		{
			MsgType: common.MsgTStore,
			Token:   "5f0c2c3e-6a57-4d1e-9a3f-0b8f1c1e2d3a",
			Mode:    3,
			Key:     "test-key",
			Value:   []byte("test-value"),
			Flags:   0xdeadbeef,
			Expiry:  60,
			CAS:     42,
		},

		// Get response
		{
			MsgType: common.MsgTGet,
			Key:     "test-key",
			Value:   []byte("test-value"),
			Flags:   7,
			CAS:     1 << 40,
			Server:  "127.0.0.1:11210",
		},

		// Arithmetic request with a negative delta
		*common.NewArithmeticRequest("token", "counter", -5, 100, true, 30),

		// Stats response
		{
			MsgType: common.MsgTStats,
			Server:  "127.0.0.1:11210",
			Rows: []common.Row{
				{Key: "curr_items", Value: []byte("3")},
				{Key: "uptime", Value: []byte("12")},
				{Key: "empty"},
			},
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},

		// Status response
		*common.NewStatusResponse(common.MsgTUnlock, 0x0d, "node-1"),

		// Get with lock
		{
			MsgType: common.MsgTGet,
			Token:   "token",
			Key:     "lock-me",
			Lock:    15000,
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTError; msgType <= common.MsgTVersion; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTStore,
				Key:     "test",
				Value:   []byte{},
			},
		},
		{
			name: "Message with empty rows slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTStats,
				Rows:    []common.Row{},
			},
		},
		{
			name: "Row with empty but not nil value",
			msg: common.Message{
				MsgType: common.MsgTStats,
				Rows:    []common.Row{{Key: "k", Value: []byte{}}, {Key: "n"}},
			},
		},
		{
			name: "Extreme numeric values",
			msg: common.Message{
				MsgType: common.MsgTArithmetic,
				Delta:   -1 << 63,
				Initial: ^uint64(0),
				CAS:     ^uint64(0),
				Flags:   ^uint32(0),
				Status:  ^uint16(0),
				Mode:    255,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Serialize
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// Deserialize
			var result common.Message
			err = serializer.Deserialize(data, &result)
			if err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// The binary format keeps the difference between nil and empty slices
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Message doesn't match after round trip:\nOriginal: %+v\nResult: %+v", tc.msg, result)
			}
		})
	}
}

// TestBinaryDeserializeResetsFields tests that reusing a message does not leak old fields
func TestBinaryDeserializeResetsFields(t *testing.T) {
	serializer := NewBinarySerializer()

	data, err := serializer.Serialize(common.Message{MsgType: common.MsgTVersion})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	msg := common.Message{
		MsgType: common.MsgTGet,
		Key:     "old",
		Value:   []byte("old"),
		CAS:     99,
		Rows:    []common.Row{{Key: "old"}},
		Err:     "old",
	}
	if err := serializer.Deserialize(data, &msg); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if !reflect.DeepEqual(msg, common.Message{MsgType: common.MsgTVersion}) {
		t.Errorf("Expected a clean message, got %+v", msg)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half of the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 4, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 8, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Truncated status",
			data:        []byte{1, 0x08, 0, 0}, // Status needs two bytes
			expectError: true,
		},
		{
			name:        "Too many rows",
			data:        []byte{1, 0x20, 0, 0xff, 0xff, 0xff, 0xff}, // Claims 2^32-1 rows
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestMalformedInput tests that every serializer reports undecodable input as ErrMalformed
func TestMalformedInput(t *testing.T) {
	inputs := map[string][]byte{
		"Empty":   {},
		"Garbage": {0xff},
	}
	for name, factory := range testSerializers {
		serializer := factory()
		for inputName, data := range inputs {
			t.Run(name+"/"+inputName, func(t *testing.T) {
				var msg common.Message
				err := serializer.Deserialize(data, &msg)
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("Expected ErrMalformed, got %v", err)
				}
			})
		}
	}
}

// TestDeserializeResetsFields tests that decoding into a used message leaves no stale fields
func TestDeserializeResetsFields(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(common.Message{MsgType: common.MsgTVersion})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			msg := common.Message{MsgType: common.MsgTGet, Key: "stale", Value: []byte("stale"), Err: "stale"}
			if err := serializer.Deserialize(data, &msg); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if msg.MsgType != common.MsgTVersion || msg.Key != "" || msg.Value != nil || msg.Err != "" {
				t.Errorf("Expected a clean message, got %+v", msg)
			}
		})
	}
}
