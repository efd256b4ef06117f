package advm

import "fmt"

// decodedInstr is one decoded packed instruction: its opcode, the
// immediates relevant to its shape, and the pc of the following
// instruction. Shared between the validator and the interpreter so the
// two agree on the encoding, per spec.md §4.6's requirement that an
// implementation "pick one [encoding] and keep validator and
// interpreter in agreement."
type decodedInstr struct {
	op   Opcode
	tag  OperandType
	idx  uint32
	idx2 uint32
	next uint32
}

// decodeInstruction reads one packed instruction starting at pc
// (spec.md §4.6 "Packed" encoding): one opcode byte followed by zero,
// one (operand-type tag), four (one index), or eight (two indices,
// mkadt) immediate bytes, depending on the opcode's fixed shape.
func decodeInstruction(code []byte, pc uint32) (decodedInstr, error) {
	if pc >= uint32(len(code)) {
		return decodedInstr{}, fmt.Errorf("%w: pc %d out of range (code length %d)", ErrInvalidBytecode, pc, len(code))
	}
	op := Opcode(code[pc])
	shape, ok := opShapes[op]
	if !ok {
		return decodedInstr{}, fmt.Errorf("%w: unknown opcode %d at pc %d", ErrInvalidBytecode, op, pc)
	}

	cur := pc + 1
	d := decodedInstr{op: op}

	switch shape {
	case shapeNone:
		// no immediate
	case shapeTypeTag:
		b, err := byteAt(code, cur)
		if err != nil {
			return decodedInstr{}, err
		}
		d.tag = OperandType(b)
		cur++
	case shapeIndex:
		v, err := u32At(code, cur)
		if err != nil {
			return decodedInstr{}, err
		}
		d.idx = v
		cur += 4
	case shapeTwoIndex:
		v1, err := u32At(code, cur)
		if err != nil {
			return decodedInstr{}, err
		}
		v2, err := u32At(code, cur+4)
		if err != nil {
			return decodedInstr{}, err
		}
		d.idx, d.idx2 = v1, v2
		cur += 8
	}

	d.next = cur
	return d, nil
}

func byteAt(code []byte, i uint32) (byte, error) {
	if i >= uint32(len(code)) {
		return 0, fmt.Errorf("%w: truncated immediate at offset %d", ErrInvalidBytecode, i)
	}
	return code[i], nil
}

func u32At(code []byte, i uint32) (uint32, error) {
	if uint64(i)+4 > uint64(len(code)) {
		return 0, fmt.Errorf("%w: truncated immediate at offset %d", ErrInvalidBytecode, i)
	}
	return uint32(code[i])<<24 | uint32(code[i+1])<<16 | uint32(code[i+2])<<8 | uint32(code[i+3]), nil
}
