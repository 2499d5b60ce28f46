package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/kvbind/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: json encode %s: %w", ErrMalformed, msg.MsgType, err)
	}
	return b, nil
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty json input", ErrMalformed)
	}
	var decoded common.Message
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("%w: json decode: %w", ErrMalformed, err)
	}
	*msg = decoded
	return nil
}
