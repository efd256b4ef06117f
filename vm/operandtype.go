package advm

// OperandType is the one-byte tag carried by arithmetic, logic, and
// comparison instructions. Values start at 1, matching
// original_source/instruction.h's OperandType enum (spec.md §3).
type OperandType byte

const (
	TypeI8      OperandType = 1
	TypeI32     OperandType = 2
	TypePointer OperandType = 3
	TypeAdt     OperandType = 4
)

func (t OperandType) valid() bool {
	return t >= TypeI8 && t <= TypeAdt
}

func (t OperandType) String() string {
	switch t {
	case TypeI8:
		return "i8"
	case TypeI32:
		return "i32"
	case TypePointer:
		return "pointer"
	case TypeAdt:
		return "adt"
	default:
		return "?unknown?"
	}
}
