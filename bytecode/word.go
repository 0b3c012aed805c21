package bytecode

import (
	"encoding/binary"
	"math"
)

// WordSize is the size in bytes of an instruction or header word.
const WordSize = 8

// Align rounds i up to the next word boundary.
func Align(i int) int {
	return (i + WordSize - 1) &^ (WordSize - 1)
}

// ReadWord reads the little-endian word at byte offset off.
func ReadWord(bc []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(bc[off:])
}

// ReadInt reads the word at byte offset off as a signed integer.
func ReadInt(bc []byte, off int) int {
	return int(int64(ReadWord(bc, off)))
}

// ReadUint32 reads a little-endian 32-bit value at byte offset off.
func ReadUint32(bc []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(bc[off:])
}

// ReadFloat reads the IEEE 754 double at byte offset off.
func ReadFloat(bc []byte, off int) float64 {
	return math.Float64frombits(ReadWord(bc, off))
}

// ExtractStr returns the size bytes at off as a string.
func ExtractStr(bc []byte, off, size int) string {
	return string(bc[off : off+size])
}

// ---------------------------------------------------------------------------
// Writers
// ---------------------------------------------------------------------------

// AppendWord appends w as a little-endian word.
func AppendWord(buf []byte, w uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, w)
}

// AppendUint32 appends v as a little-endian 32-bit value.
func AppendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// AppendPadded appends s followed by zero bytes up to the next word boundary.
func AppendPadded(buf []byte, s string) []byte {
	buf = append(buf, s...)
	for len(buf)%WordSize != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// PutWord overwrites the word at byte offset off.
func PutWord(buf []byte, off int, w uint64) {
	binary.LittleEndian.PutUint64(buf[off:], w)
}
