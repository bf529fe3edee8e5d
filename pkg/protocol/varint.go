package protocol

import (
	"io"

	"github.com/rotisserie/eris"
)

const (
	segmentBits  = 0x7f
	continueBit  = 0x80
	maxVarIntLen = 5
)

var (
	// ErrVarIntTooBig is returned if a VarInt doesn't terminate within 5 bytes
	ErrVarIntTooBig = eris.New("not a valid varint")

	// ErrNonPositiveLength is returned if a length prefix is zero or negative
	ErrNonPositiveLength = eris.New("varint not bigger than 0")
)

// ReadVarInt decodes a single VarInt from r
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32

	for i := 0; i < maxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		result |= uint32(b&segmentBits) << (7 * i)
		if b&continueBit == 0 {
			return int32(result), nil
		}
	}

	return 0, ErrVarIntTooBig
}

// ReadLength decodes a VarInt that is used as a length or count and therefore has to be positive.
func ReadLength(r io.ByteReader) (int, error) {
	value, err := ReadVarInt(r)
	if err != nil {
		return 0, err
	}

	if value <= 0 {
		return 0, eris.Wrapf(ErrNonPositiveLength, "got %d", value)
	}

	return int(value), nil
}

// AppendVarInt appends the VarInt encoding of v to dst
func AppendVarInt(dst []byte, v int32) []byte {
	value := uint32(v)
	for value&^segmentBits != 0 {
		dst = append(dst, byte(value&segmentBits)|continueBit)
		value >>= 7
	}

	return append(dst, byte(value))
}

// VarIntSize returns the number of bytes AppendVarInt would produce for v
func VarIntSize(v int32) int {
	value := uint32(v)
	size := 1
	for value&^segmentBits != 0 {
		value >>= 7
		size++
	}

	return size
}
