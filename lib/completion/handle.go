package completion

import "github.com/google/uuid"

// Handle identifies one connection. The zero Handle is never issued by an engine.
type Handle uuid.UUID

// NilHandle is the zero handle
var NilHandle Handle

// NewHandle returns a fresh random handle
func NewHandle() Handle {
	return Handle(uuid.New())
}

// ParseHandle parses the textual form produced by Handle.String
func ParseHandle(s string) (Handle, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilHandle, err
	}
	return Handle(u), nil
}

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// IsNil reports whether h is the zero handle
func (h Handle) IsNil() bool {
	return h == NilHandle
}
