// Package leb128 implements the variable-length integer encoding used
// throughout the Wasm binary format. Grounded on the teacher's
// internal/leb128 package (same function names, same error shape).
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a varint would not fit in the target width.
var ErrOverflow = errors.New("leb128: overflow")

// DecodeUint32 reads an unsigned LEB128 value into a uint32.
func DecodeUint32(r io.ByteReader) (uint32, uint32, error) {
	v, n, err := decodeUint(r, 32)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128 value into a uint64.
func DecodeUint64(r io.ByteReader) (uint64, uint32, error) {
	return decodeUint(r, 64)
}

func decodeUint(r io.ByteReader, width int) (uint64, uint32, error) {
	var result uint64
	var shift uint
	var n uint32
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n, err
		}
		n++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if shift+7 < uint(width) || (shift < uint(width) && b>>(uint(width)-shift) == 0) {
				return result, n, nil
			}
			return 0, n, ErrOverflow
		}
		shift += 7
		if shift >= 70 {
			return 0, n, ErrOverflow
		}
	}
}

// DecodeInt32 reads a signed LEB128 value into an int32.
func DecodeInt32(r io.ByteReader) (int32, uint32, error) {
	v, n, err := decodeInt(r, 32)
	return int32(v), n, err
}

// DecodeInt64 reads a signed LEB128 value into an int64.
func DecodeInt64(r io.ByteReader) (int64, uint32, error) {
	return decodeInt(r, 64)
}

func decodeInt(r io.ByteReader, width int) (int64, uint32, error) {
	var result int64
	var shift uint
	var n uint32
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, n, err
		}
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 70 {
			return 0, n, ErrOverflow
		}
	}
	if shift < uint(width) && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}

// EncodeUint32 appends the unsigned LEB128 encoding of v to dst.
func EncodeUint32(dst []byte, v uint32) []byte {
	return EncodeUint64(dst, uint64(v))
}

// EncodeUint64 appends the unsigned LEB128 encoding of v to dst.
func EncodeUint64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// EncodeInt32 appends the signed LEB128 encoding of v to dst.
func EncodeInt32(dst []byte, v int32) []byte {
	return EncodeInt64(dst, int64(v))
}

// EncodeInt64 appends the signed LEB128 encoding of v to dst.
func EncodeInt64(dst []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
