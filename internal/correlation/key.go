package correlation

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Kind tags the source type embedded in a Key so that equal numbers taken
// from different source types never compare equal.
type Kind uint8

const (
	KindNone Kind = iota
	KindGUID
	KindInt32
	KindInt64
	KindUInt32
	KindUInt64
	KindString
	KindThread
	KindActivity
	KindProcess
)

var kindNames = [...]string{"none", "guid", "int32", "int64", "uint32", "uint64", "string", "thread", "activity", "process"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Key pairs a start event with its stop event.
type Key struct {
	Provider uuid.UUID
	Task     int
	Kind     Kind
	Value    uuid.UUID
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s:%s", k.Provider, k.Task, k.Kind, k.Value)
}

func int64Payload(v int64) uuid.UUID {
	var u uuid.UUID
	binary.LittleEndian.PutUint64(u[:8], uint64(v))
	return u
}

func uint64Payload(v uint64) uuid.UUID {
	var u uuid.UUID
	binary.LittleEndian.PutUint64(u[:8], v)
	return u
}

func threadPayload(tid, pid int) uuid.UUID {
	var u uuid.UUID
	binary.LittleEndian.PutUint64(u[:8], uint64(int64(tid)))
	binary.LittleEndian.PutUint64(u[8:], uint64(int64(pid)))
	return u
}

var stringSpace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// Embed converts a payload value into a (kind, 128-bit) pair. ok is false for
// nil values.
func Embed(v interface{}) (Kind, uuid.UUID, bool) {
	switch val := v.(type) {
	case nil:
		return KindNone, uuid.Nil, false
	case uuid.UUID:
		return KindGUID, val, true
	case [16]byte:
		return KindGUID, uuid.UUID(val), true
	case []byte:
		if len(val) == 16 {
			u, _ := uuid.FromBytes(val)
			return KindGUID, u, true
		}
		return KindString, uuid.NewSHA1(stringSpace, val), true
	case int8:
		return KindInt32, int64Payload(int64(val)), true
	case int16:
		return KindInt32, int64Payload(int64(val)), true
	case int32:
		return KindInt32, int64Payload(int64(val)), true
	case int:
		return KindInt64, int64Payload(int64(val)), true
	case int64:
		return KindInt64, int64Payload(val), true
	case uint8:
		return KindUInt32, uint64Payload(uint64(val)), true
	case uint16:
		return KindUInt32, uint64Payload(uint64(val)), true
	case uint32:
		return KindUInt32, uint64Payload(uint64(val)), true
	case uint:
		return KindUInt64, uint64Payload(uint64(val)), true
	case uint64:
		return KindUInt64, uint64Payload(val), true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<63 {
			return KindInt64, int64Payload(int64(val)), true
		}
		return KindString, uuid.NewSHA1(stringSpace, []byte(fmt.Sprintf("%g", val))), true
	case string:
		s := strings.TrimSpace(val)
		if u, err := uuid.Parse(s); err == nil {
			return KindGUID, u, true
		}
		return KindString, uuid.NewSHA1(stringSpace, []byte(val)), true
	default:
		return KindString, uuid.NewSHA1(stringSpace, []byte(fmt.Sprintf("%v", val))), true
	}
}
