package advm

import "fmt"

// ValueKind discriminates the Value sum type (spec.md §3's runtime
// rt_value union, translated per design note 9 into a tagged struct).
type ValueKind byte

const (
	KindI8      ValueKind = 1
	KindI32     ValueKind = 2
	KindPointer ValueKind = 3
	KindAdtRef  ValueKind = 4
)

func (k ValueKind) String() string {
	return OperandType(k).String()
}

// StackPtr is an absolute index into the operand stack, the target of
// ldind/stind and the value produced by ldloca/ldarga (spec.md §3's
// "stack-index" case, §4.4's StackPtr(u32)).
type StackPtr uint32

// AdtRef is a handle into the heap, naming one live heap-allocated ADT
// instance (spec.md §3's "ADT reference").
type AdtRef uint64

// Value is one tagged runtime union member: an i8, an i32, a stack
// pointer, or an ADT reference. Exactly one of I8/I32/Ptr/Adt is
// meaningful, selected by Kind (design note 9: "tagged value union ->
// sum type", mirrors original_source/rvm.h's rt_value).
type Value struct {
	Kind ValueKind

	I8  int8
	I32 int32
	Ptr StackPtr
	Adt AdtRef
}

func I8Value(v int8) Value      { return Value{Kind: KindI8, I8: v} }
func I32Value(v int32) Value    { return Value{Kind: KindI32, I32: v} }
func PtrValue(p StackPtr) Value { return Value{Kind: KindPointer, Ptr: p} }
func AdtValue(r AdtRef) Value   { return Value{Kind: KindAdtRef, Adt: r} }

func (v Value) String() string {
	switch v.Kind {
	case KindI8:
		return fmt.Sprintf("i8(%d)", v.I8)
	case KindI32:
		return fmt.Sprintf("i32(%d)", v.I32)
	case KindPointer:
		return fmt.Sprintf("ptr(%d)", v.Ptr)
	case KindAdtRef:
		return fmt.Sprintf("adt(#%d)", v.Adt)
	default:
		return "?unknown?"
	}
}

// bits canonicalizes v into a (kind, payload) pair suitable for
// bit-pattern equality: the payload of the active case is zero-extended
// to 64 bits, so unused payload fields never affect the comparison
// (spec.md §4.5's teq/tne semantics).
func (v Value) bits() (ValueKind, uint64) {
	switch v.Kind {
	case KindI8:
		return v.Kind, uint64(uint8(v.I8))
	case KindI32:
		return v.Kind, uint64(uint32(v.I32))
	case KindPointer:
		return v.Kind, uint64(uint32(v.Ptr))
	case KindAdtRef:
		return v.Kind, uint64(v.Adt)
	default:
		return v.Kind, 0
	}
}

// Equal implements teq/tne's bit-pattern equality: same tag and same
// payload. Cross-tag comparisons (e.g. an i8 against a pointer) are
// always unequal, because the tag is compared along with the payload
// bits.
func (v Value) Equal(other Value) bool {
	vk, vb := v.bits()
	ok, ob := other.bits()
	return vk == ok && vb == ob
}
