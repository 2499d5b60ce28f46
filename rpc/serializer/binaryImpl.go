package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/kvbind/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte) | presence flags (2 bytes) | present fields in
// the order of the flag bits. Strings and byte slices are prefixed with
// a uint32 length.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasBucket  uint16 = 1 << 0
	hasToken   uint16 = 1 << 1
	hasKey     uint16 = 1 << 2
	hasValue   uint16 = 1 << 3
	hasFlags   uint16 = 1 << 4
	hasExpiry  uint16 = 1 << 5
	hasCAS     uint16 = 1 << 6
	hasDelta   uint16 = 1 << 7
	hasInitial uint16 = 1 << 8
	hasMode    uint16 = 1 << 9
	hasLock    uint16 = 1 << 10
	hasStatus  uint16 = 1 << 11
	hasServer  uint16 = 1 << 12
	hasRows    uint16 = 1 << 13
	hasErr     uint16 = 1 << 14
)

// headerSize is MsgType + flags
const headerSize = 3

// nilLength marks a nil byte slice inside a row
const nilLength = ^uint32(0)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	flags := b.flags(msg)
	w := binWriter{buf: make([]byte, b.sizeBytes(msg, flags))}

	// Write header
	w.buf[0] = byte(msg.MsgType)
	binary.BigEndian.PutUint16(w.buf[1:3], flags)
	w.pos = headerSize

	if flags&hasBucket != 0 {
		w.putString(msg.Bucket)
	}
	if flags&hasToken != 0 {
		w.putString(msg.Token)
	}
	if flags&hasKey != 0 {
		w.putString(msg.Key)
	}
	if flags&hasValue != 0 {
		w.putBytes(msg.Value)
	}
	if flags&hasFlags != 0 {
		w.putUint32(msg.Flags)
	}
	if flags&hasExpiry != 0 {
		w.putUint32(msg.Expiry)
	}
	if flags&hasCAS != 0 {
		w.putUint64(msg.CAS)
	}
	if flags&hasDelta != 0 {
		w.putUint64(uint64(msg.Delta))
	}
	if flags&hasInitial != 0 {
		w.putUint64(msg.Initial)
	}
	if flags&hasMode != 0 {
		w.buf[w.pos] = msg.Mode
		w.pos++
	}
	if flags&hasLock != 0 {
		w.putUint32(msg.Lock)
	}
	if flags&hasStatus != 0 {
		binary.BigEndian.PutUint16(w.buf[w.pos:w.pos+2], msg.Status)
		w.pos += 2
	}
	if flags&hasServer != 0 {
		w.putString(msg.Server)
	}
	if flags&hasRows != 0 {
		w.putUint32(uint32(len(msg.Rows)))
		for _, row := range msg.Rows {
			w.putString(row.Key)
			if row.Value == nil {
				w.putUint32(nilLength)
			} else {
				w.putBytes(row.Value)
			}
		}
	}
	if flags&hasErr != 0 {
		w.putString(msg.Err)
	}

	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("%w: data too short for message header", ErrMalformed)
	}

	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])
	r := binReader{data: data, pos: headerSize}

	msg.Bucket = ""
	if flags&hasBucket != 0 {
		msg.Bucket = r.string("bucket")
	}
	msg.Token = ""
	if flags&hasToken != 0 {
		msg.Token = r.string("token")
	}
	msg.Key = ""
	if flags&hasKey != 0 {
		msg.Key = r.string("key")
	}

	// Read value, an empty slice (not nil) if present with length 0
	if flags&hasValue != 0 {
		n := r.uint32("value length")
		raw := r.next(int(n), "value data")
		if msg.Value == nil || cap(msg.Value) < len(raw) {
			msg.Value = make([]byte, len(raw))
		} else {
			msg.Value = msg.Value[:len(raw)]
		}
		copy(msg.Value, raw)
	} else {
		msg.Value = nil
	}

	msg.Flags = 0
	if flags&hasFlags != 0 {
		msg.Flags = r.uint32("flags")
	}
	msg.Expiry = 0
	if flags&hasExpiry != 0 {
		msg.Expiry = r.uint32("expiry")
	}
	msg.CAS = 0
	if flags&hasCAS != 0 {
		msg.CAS = r.uint64("cas")
	}
	msg.Delta = 0
	if flags&hasDelta != 0 {
		msg.Delta = int64(r.uint64("delta"))
	}
	msg.Initial = 0
	if flags&hasInitial != 0 {
		msg.Initial = r.uint64("initial")
	}
	msg.Mode = 0
	if flags&hasMode != 0 {
		if raw := r.next(1, "mode"); raw != nil {
			msg.Mode = raw[0]
		}
	}
	msg.Lock = 0
	if flags&hasLock != 0 {
		msg.Lock = r.uint32("lock")
	}
	msg.Status = 0
	if flags&hasStatus != 0 {
		if raw := r.next(2, "status"); raw != nil {
			msg.Status = binary.BigEndian.Uint16(raw)
		}
	}
	msg.Server = ""
	if flags&hasServer != 0 {
		msg.Server = r.string("server")
	}

	msg.Rows = nil
	if flags&hasRows != 0 {
		n := int(r.uint32("row count"))
		// every row needs at least 8 bytes
		if r.err == nil && n > (len(data)-r.pos)/8 {
			return fmt.Errorf("%w: data too short for %d rows", ErrMalformed, n)
		}
		msg.Rows = make([]common.Row, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			row := common.Row{Key: r.string("row key")}
			if l := r.uint32("row value length"); l != nilLength {
				row.Value = append([]byte{}, r.next(int(l), "row value")...)
			}
			msg.Rows = append(msg.Rows, row)
		}
	}

	msg.Err = ""
	if flags&hasErr != 0 {
		msg.Err = r.string("error")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// flags returns the presence flags of a message
func (b binarySerializerImpl) flags(msg common.Message) uint16 {
	var flags uint16
	set := func(cond bool, flag uint16) {
		if cond {
			flags |= flag
		}
	}
	set(msg.Bucket != "", hasBucket)
	set(msg.Token != "", hasToken)
	set(msg.Key != "", hasKey)
	set(msg.Value != nil, hasValue)
	set(msg.Flags != 0, hasFlags)
	set(msg.Expiry != 0, hasExpiry)
	set(msg.CAS != 0, hasCAS)
	set(msg.Delta != 0, hasDelta)
	set(msg.Initial != 0, hasInitial)
	set(msg.Mode != 0, hasMode)
	set(msg.Lock != 0, hasLock)
	set(msg.Status != 0, hasStatus)
	set(msg.Server != "", hasServer)
	set(msg.Rows != nil, hasRows)
	set(msg.Err != "", hasErr)
	return flags
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message, flags uint16) int {
	size := headerSize

	str := func(flag uint16, n int) {
		if flags&flag != 0 {
			size += 4 + n // 4 bytes for length + data
		}
	}
	fixed := func(flag uint16, n int) {
		if flags&flag != 0 {
			size += n
		}
	}

	str(hasBucket, len(msg.Bucket))
	str(hasToken, len(msg.Token))
	str(hasKey, len(msg.Key))
	str(hasValue, len(msg.Value))
	fixed(hasFlags, 4)
	fixed(hasExpiry, 4)
	fixed(hasCAS, 8)
	fixed(hasDelta, 8)
	fixed(hasInitial, 8)
	fixed(hasMode, 1)
	fixed(hasLock, 4)
	fixed(hasStatus, 2)
	str(hasServer, len(msg.Server))
	if flags&hasRows != 0 {
		size += 4
		for _, row := range msg.Rows {
			size += 8 + len(row.Key) + len(row.Value)
		}
	}
	str(hasErr, len(msg.Err))

	return size
}

// binWriter writes big endian fields into a preallocated buffer
type binWriter struct {
	buf []byte
	pos int
}

func (w *binWriter) putUint32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[w.pos:w.pos+4], v)
	w.pos += 4
}

func (w *binWriter) putUint64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[w.pos:w.pos+8], v)
	w.pos += 8
}

func (w *binWriter) putBytes(v []byte) {
	w.putUint32(uint32(len(v)))
	w.pos += copy(w.buf[w.pos:], v)
}

func (w *binWriter) putString(v string) {
	w.putUint32(uint32(len(v)))
	w.pos += copy(w.buf[w.pos:], v)
}

// binReader reads big endian fields. The first error is kept, all
// later reads return zero values.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) next(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: data too short for %s", ErrMalformed, field)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *binReader) uint32(field string) uint32 {
	if b := r.next(4, field); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *binReader) uint64(field string) uint64 {
	if b := r.next(8, field); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *binReader) string(field string) string {
	n := r.uint32(field + " length")
	return string(r.next(int(n), field+" data"))
}
