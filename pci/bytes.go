package pci

import (
	"bytes"
	"encoding/binary"
)

// BytesToNum assembles a little-endian byte slice into a number.
func BytesToNum(b []byte) uint64 {
	res := uint64(0)

	for i, x := range b {
		res |= uint64(x) << (i * 8)
	}

	return res
}

// NumToBytes encodes an unsigned integer little-endian. Unsupported types
// return an empty slice.
func NumToBytes(x interface{}) []byte {
	buf := new(bytes.Buffer)

	var err error

	switch v := x.(type) {
	case uint8:
		err = binary.Write(buf, binary.LittleEndian, v)
	case uint16:
		err = binary.Write(buf, binary.LittleEndian, v)
	case uint32:
		err = binary.Write(buf, binary.LittleEndian, v)
	case uint64:
		err = binary.Write(buf, binary.LittleEndian, v)
	default:
		return []byte{}
	}

	if err != nil {
		return []byte{}
	}

	return buf.Bytes()
}
