package completion

import (
	"encoding/json"
	"fmt"
)

// Kind is the operation kind of a completion. Every connection has exactly one
// callback slot per Kind.
type Kind uint8

const (
	KindGet Kind = iota
	KindStore
	KindRemove
	KindArithmetic
	KindStat
	KindFlush
	KindHTTPComplete
	KindHTTPData
	KindObserve
	KindTouch
	KindUnlock
	KindVerbosity
	KindVersion
	KindConfiguration
	KindError

	// NumKinds is the number of valid kinds
	NumKinds = int(KindError) + 1
)

var kindNames = [NumKinds]string{
	KindGet:           "get",
	KindStore:         "store",
	KindRemove:        "remove",
	KindArithmetic:    "arithmetic",
	KindStat:          "stat",
	KindFlush:         "flush",
	KindHTTPComplete:  "http-complete",
	KindHTTPData:      "http-data",
	KindObserve:       "observe",
	KindTouch:         "touch",
	KindUnlock:        "unlock",
	KindVerbosity:     "verbosity",
	KindVersion:       "version",
	KindConfiguration: "configuration",
	KindError:         "error",
}

// Kinds returns all valid kinds in declaration order
func Kinds() []Kind {
	kinds := make([]Kind, NumKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// Valid reports whether k is one of the declared kinds
func (k Kind) Valid() bool {
	return int(k) < NumKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind returns the kind with the given name (as returned by Kind.String)
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", name)
}

// MarshalJSON encodes the kind by name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its name
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
