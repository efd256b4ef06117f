package advm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire codec: big-endian primitive and length-prefixed-sequence
// read/write, grounded on original_source/assembly.cpp's free dump/parse
// overload set, adapted to io.Reader/io.Writer and to big-endian byte
// order per spec.md §4.1 (the teacher's own uint32FromBytes/uint32ToBytes
// in vm.go do the equivalent job for its little-endian format).
//
// A short read never partially commits a value: readU8/readU32 either
// fully populate their result or return ErrParseError and leave the
// caller's value untouched.

func readU8(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	return buf[0], nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeU8(w io.Writer, v byte) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// readSeqLen reads the four-byte element count prefixing any seq<T>.
func readSeqLen(r io.Reader) (uint32, error) {
	return readU32(r)
}

// readBytes reads n raw bytes: the payload of any seq<u8>, such as a
// function's packed instruction stream, once its caller has already
// consumed the length prefix via readSeqLen.
func readBytes(r io.Reader, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	return buf, nil
}
