package serializer

import (
	"errors"

	"github.com/ValentinKolb/kvbind/rpc/common"
)

// ErrMalformed is returned by Deserialize for input that does not decode to a
// Message, and by Serialize for messages that cannot be encoded
var ErrMalformed = errors.New("malformed message")

// IRPCSerializer is the interface for all Message serializers. A serializer
// is stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes msg. Errors wrap ErrMalformed.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Fields that are absent in b are reset
	// to their zero value. Errors wrap ErrMalformed.
	Deserialize(b []byte, msg *common.Message) error
}
