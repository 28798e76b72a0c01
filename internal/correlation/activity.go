package correlation

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const activityPathSalt = 0x599D99AD

// words returns the four 32-bit words of id as laid out in Windows GUID
// memory order (Data1, Data2|Data3<<16, then the last eight bytes).
func words(id uuid.UUID) [4]uint32 {
	return [4]uint32{
		binary.BigEndian.Uint32(id[0:4]),
		uint32(binary.BigEndian.Uint16(id[4:6])) | uint32(binary.BigEndian.Uint16(id[6:8]))<<16,
		binary.LittleEndian.Uint32(id[8:12]),
		binary.LittleEndian.Uint32(id[12:16]),
	}
}

func fromWords(w [4]uint32) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint32(id[0:4], w[0])
	binary.BigEndian.PutUint16(id[4:6], uint16(w[1]))
	binary.BigEndian.PutUint16(id[6:8], uint16(w[1]>>16))
	binary.LittleEndian.PutUint32(id[8:12], w[2])
	binary.LittleEndian.PutUint32(id[12:16], w[3])
	return id
}

// IsActivityPath reports whether id carries the hierarchical activity path
// encoding: the last word is a checksum of the first three, xored with the
// process id. With pid 0 only the process-independent upper bits are checked.
func IsActivityPath(id uuid.UUID, pid int) bool {
	if id == uuid.Nil {
		return false
	}
	w := words(id)
	sum := w[0] + w[1] + w[2] + activityPathSalt
	if pid == 0 {
		return sum&0xFFF00000 == w[3]&0xFFF00000
	}
	if sum^uint32(pid) == w[3] {
		return true
	}
	return sum == w[3]
}
