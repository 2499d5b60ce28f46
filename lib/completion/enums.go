package completion

import "fmt"

// StoreOperation selects the semantics of a store command
type StoreOperation uint8

const (
	StoreAdd     StoreOperation = 1
	StoreReplace StoreOperation = 2
	StoreSet     StoreOperation = 3
	StoreAppend  StoreOperation = 4
	StorePrepend StoreOperation = 5
)

func (op StoreOperation) String() string {
	switch op {
	case StoreAdd:
		return "add"
	case StoreReplace:
		return "replace"
	case StoreSet:
		return "set"
	case StoreAppend:
		return "append"
	case StorePrepend:
		return "prepend"
	default:
		return fmt.Sprintf("store-operation(%d)", uint8(op))
	}
}

// Valid reports whether op is a declared store operation
func (op StoreOperation) Valid() bool {
	return op >= StoreAdd && op <= StorePrepend
}

// HTTPType selects which service of the cluster an HTTP request targets
type HTTPType uint8

const (
	HTTPTypeView       HTTPType = 0
	HTTPTypeManagement HTTPType = 1
	HTTPTypeRaw        HTTPType = 2
)

func (t HTTPType) String() string {
	switch t {
	case HTTPTypeView:
		return "view"
	case HTTPTypeManagement:
		return "management"
	case HTTPTypeRaw:
		return "raw"
	default:
		return fmt.Sprintf("http-type(%d)", uint8(t))
	}
}

// HTTPMethod is the method of an HTTP request
type HTTPMethod uint8

const (
	HTTPGet    HTTPMethod = 0
	HTTPPost   HTTPMethod = 1
	HTTPPut    HTTPMethod = 2
	HTTPDelete HTTPMethod = 3
)

func (m HTTPMethod) String() string {
	switch m {
	case HTTPGet:
		return "GET"
	case HTTPPost:
		return "POST"
	case HTTPPut:
		return "PUT"
	case HTTPDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("METHOD(%d)", uint8(m))
	}
}

// ParseHTTPMethod maps "GET", "POST", "PUT" and "DELETE" to their HTTPMethod
func ParseHTTPMethod(s string) (HTTPMethod, error) {
	for _, m := range []HTTPMethod{HTTPGet, HTTPPost, HTTPPut, HTTPDelete} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unsupported http method %q", s)
}

// ConfigState describes a cluster configuration change seen by a connection
type ConfigState uint8

const (
	ConfigNew       ConfigState = 0
	ConfigChanged   ConfigState = 1
	ConfigUnchanged ConfigState = 2
)

func (s ConfigState) String() string {
	switch s {
	case ConfigNew:
		return "new"
	case ConfigChanged:
		return "changed"
	case ConfigUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("config-state(%d)", uint8(s))
	}
}

// ObserveState is the durability state of a key on one server
type ObserveState uint8

const (
	ObserveFound            ObserveState = 0x00
	ObservePersisted        ObserveState = 0x01
	ObserveNotFound         ObserveState = 0x80
	ObserveLogicallyDeleted ObserveState = 0x81
)

func (s ObserveState) String() string {
	switch s {
	case ObserveFound:
		return "found"
	case ObservePersisted:
		return "persisted"
	case ObserveNotFound:
		return "not-found"
	case ObserveLogicallyDeleted:
		return "logically-deleted"
	default:
		return fmt.Sprintf("observe-state(0x%02x)", uint8(s))
	}
}

// ConnectionType selects whether a connection talks to one bucket or to the
// cluster management service
type ConnectionType uint8

const (
	ConnectionBucket  ConnectionType = 0
	ConnectionCluster ConnectionType = 1
)

func (t ConnectionType) String() string {
	if t == ConnectionCluster {
		return "cluster"
	}
	return "bucket"
}
