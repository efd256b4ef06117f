package advm

import "encoding/binary"

// Packed-encoding instruction builders used only by tests: a text
// assembler is out of scope (SPEC_FULL.md §1), so test programs are
// built directly as byte sequences.

func beU32(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

func insNone(op Opcode) []byte {
	return []byte{byte(op)}
}

func insTag(op Opcode, tag OperandType) []byte {
	return []byte{byte(op), byte(tag)}
}

func insIdx(op Opcode, idx uint32) []byte {
	return append([]byte{byte(op)}, beU32(idx)...)
}

func insIdx2(op Opcode, idx1, idx2 uint32) []byte {
	b := []byte{byte(op)}
	b = append(b, beU32(idx1)...)
	b = append(b, beU32(idx2)...)
	return b
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
