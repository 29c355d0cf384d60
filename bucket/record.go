package bucket

import (
	"encoding/binary"

	"github.com/IvanBrykalov/shardindex/internal/util"
)

const (
	headerSize = 17

	flagTombstone uint8 = 1 << 0
	flagZstd      uint8 = 1 << 1
)

type header struct {
	keyLen uint32
	valLen uint32
	flags  uint8
	sum    uint64
}

func decodeHeader(b []byte) header {
	return header{
		keyLen: binary.LittleEndian.Uint32(b[0:4]),
		valLen: binary.LittleEndian.Uint32(b[4:8]),
		flags:  b[8],
		sum:    binary.LittleEndian.Uint64(b[9:17]),
	}
}

// bodyLen is the number of bytes following the header.
func (h header) bodyLen() int64 { return int64(h.keyLen) + int64(h.valLen) }

// valid recomputes the checksum over the raw header prefix and body.
func (h header) valid(raw []byte, key, payload []byte) bool {
	return util.Checksum(raw[:9], key, payload) == h.sum
}

// appendRecord encodes one record onto dst.
func appendRecord(dst, key, payload []byte, flags uint8) []byte {
	var h [headerSize]byte
	binary.LittleEndian.PutUint32(h[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(h[4:8], uint32(len(payload)))
	h[8] = flags
	binary.LittleEndian.PutUint64(h[9:17], util.Checksum(h[:9], key, payload))

	dst = append(dst, h[:]...)
	dst = append(dst, key...)
	return append(dst, payload...)
}
