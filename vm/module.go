package advm

import (
	"fmt"
	"io"
)

// MagicNumber is the four-byte module header (spec.md §4.2, §6).
const MagicNumber uint32 = 0xBADDCAFE

// MainFunctionIndex is the entry point the interpreter enters on load,
// matching original_source's MAIN_FUNCTION_INDEX.
const MainFunctionIndex uint32 = 0

// ConstructorDescriptor declares the arity of one ADT constructor.
type ConstructorDescriptor struct {
	NumFields uint32
}

// AdtDescriptor is the ordered set of constructors for one ADT; its
// position in Module.Adts is the ADT's identity.
type AdtDescriptor []ConstructorDescriptor

// ConstantTag discriminates the Constant sum type.
type ConstantTag byte

const (
	ConstI8  ConstantTag = 1
	ConstI32 ConstantTag = 2
	ConstAdt ConstantTag = 3
)

// Constant is a tagged constant-pool entry (spec.md §3). It is a single
// Go struct rather than an interface, mirroring the C++ source's
// union+tag ConstantInfo (design note 9): exactly one of I8/I32/
// (AdtID,CtorID,Fields) is meaningful, selected by Tag.
type Constant struct {
	Tag ConstantTag

	I8  int8
	I32 int32

	AdtID  uint32
	CtorID uint32
	Fields []Constant
}

func I8Const(v int8) Constant   { return Constant{Tag: ConstI8, I8: v} }
func I32Const(v int32) Constant { return Constant{Tag: ConstI32, I32: v} }
func AdtConst(adtID, ctorID uint32, fields []Constant) Constant {
	return Constant{Tag: ConstAdt, AdtID: adtID, CtorID: ctorID, Fields: fields}
}

// FunctionKind discriminates a Function's origin: managed bytecode or a
// host-supplied foreign callable.
type FunctionKind byte

const (
	FuncManaged FunctionKind = 1
	FuncForeign FunctionKind = 2
)

// ForeignFunc is the calling convention for a host-provided operation
// (spec.md §6, GLOSSARY "Foreign function"). It receives a slice of
// exactly NumArgs operand-stack values and must return exactly one. It
// must not observe or mutate interpreter frames (spec.md §3 invariants).
type ForeignFunc func(args []Value) (Value, error)

// Function is either a managed function (bytecode body) or a foreign
// function (host callable, registered post-load and never serialized).
type Function struct {
	Kind      FunctionKind
	NumArgs   uint32
	NumLocals uint32

	// Code is the packed instruction stream; only meaningful when
	// Kind == FuncManaged.
	Code []byte

	// Foreign is the host callable; only meaningful when
	// Kind == FuncForeign, and never populated by Parse (registered
	// later via Interpreter.RegisterForeign).
	Foreign ForeignFunc
}

// Module is the in-memory representation of a parsed bytecode module:
// ADT table, constant pool, and function table (spec.md §3, §4.2).
type Module struct {
	Adts      []AdtDescriptor
	Constants []Constant
	Functions []Function
}

// Parse reads a module from r per the wire format in spec.md §4.2/§6.
// It fails with ErrParseError on a short stream or bad magic number and
// never returns a partially built Module.
func Parse(r io.Reader) (*Module, error) {
	magic, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("%w: bad magic number %#x", ErrParseError, magic)
	}

	adts, err := parseAdtTable(r)
	if err != nil {
		return nil, err
	}
	consts, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}
	fns, err := parseFunctionTable(r)
	if err != nil {
		return nil, err
	}

	return &Module{Adts: adts, Constants: consts, Functions: fns}, nil
}

func parseAdtTable(r io.Reader) ([]AdtDescriptor, error) {
	n, err := readSeqLen(r)
	if err != nil {
		return nil, err
	}
	adts := make([]AdtDescriptor, n)
	for i := range adts {
		adts[i], err = parseAdtDescriptor(r)
		if err != nil {
			return nil, err
		}
	}
	return adts, nil
}

func parseAdtDescriptor(r io.Reader) (AdtDescriptor, error) {
	n, err := readSeqLen(r)
	if err != nil {
		return nil, err
	}
	ctors := make(AdtDescriptor, n)
	for i := range ctors {
		nf, err := readU32(r)
		if err != nil {
			return nil, err
		}
		ctors[i] = ConstructorDescriptor{NumFields: nf}
	}
	return ctors, nil
}

func parseConstantPool(r io.Reader) ([]Constant, error) {
	n, err := readSeqLen(r)
	if err != nil {
		return nil, err
	}
	consts := make([]Constant, n)
	for i := range consts {
		consts[i], err = parseConstant(r)
		if err != nil {
			return nil, err
		}
	}
	return consts, nil
}

func parseConstant(r io.Reader) (Constant, error) {
	tag, err := readU8(r)
	if err != nil {
		return Constant{}, err
	}
	switch ConstantTag(tag) {
	case ConstI8:
		b, err := readU8(r)
		if err != nil {
			return Constant{}, err
		}
		return I8Const(int8(b)), nil
	case ConstI32:
		u, err := readU32(r)
		if err != nil {
			return Constant{}, err
		}
		return I32Const(int32(u)), nil
	case ConstAdt:
		// Each field is read exactly once: original_source's
		// assembly.cpp parse(Adt*, ...) reads adt_table_index twice
		// and never reads constructor_index — fixed here (SPEC_FULL.md §6).
		adtID, err := readU32(r)
		if err != nil {
			return Constant{}, err
		}
		ctorID, err := readU32(r)
		if err != nil {
			return Constant{}, err
		}
		n, err := readU32(r)
		if err != nil {
			return Constant{}, err
		}
		fields := make([]Constant, n)
		for i := range fields {
			fields[i], err = parseConstant(r)
			if err != nil {
				return Constant{}, err
			}
		}
		return AdtConst(adtID, ctorID, fields), nil
	default:
		return Constant{}, fmt.Errorf("%w: unknown constant tag %d", ErrParseError, tag)
	}
}

func parseFunctionTable(r io.Reader) ([]Function, error) {
	n, err := readSeqLen(r)
	if err != nil {
		return nil, err
	}
	fns := make([]Function, n)
	for i := range fns {
		numArgs, err := readU32(r)
		if err != nil {
			return nil, err
		}
		numLocals, err := readU32(r)
		if err != nil {
			return nil, err
		}
		codeLen, err := readSeqLen(r)
		if err != nil {
			return nil, err
		}
		code, err := readBytes(r, codeLen)
		if err != nil {
			return nil, err
		}
		// A zero-length code body marks a foreign slot: the host
		// registers its callable after Parse (spec.md §4.2's "foreign
		// functions are not serialized"); the wire format carries no
		// separate foreign/managed flag, so an empty body is the only
		// on-disk signal (Dump's mirror-image choice, see DESIGN.md).
		kind := FuncManaged
		if codeLen == 0 {
			kind = FuncForeign
		}
		fns[i] = Function{
			Kind:      kind,
			NumArgs:   numArgs,
			NumLocals: numLocals,
			Code:      code,
		}
	}
	return fns, nil
}

// Dump serializes m to w as the exact inverse of Parse: parse(dump(m))
// round-trips byte-for-byte (spec.md §4.2, §8 invariant 1). Foreign
// functions are not serialized; a Function with Kind == FuncForeign is
// dumped with an empty code body and must be re-registered by the host
// after the next Parse.
func (m *Module) Dump(w io.Writer) error {
	if err := writeU32(w, MagicNumber); err != nil {
		return err
	}
	if err := dumpAdtTable(w, m.Adts); err != nil {
		return err
	}
	if err := dumpConstantPool(w, m.Constants); err != nil {
		return err
	}
	return dumpFunctionTable(w, m.Functions)
}

func dumpAdtTable(w io.Writer, adts []AdtDescriptor) error {
	if err := writeU32(w, uint32(len(adts))); err != nil {
		return err
	}
	for _, a := range adts {
		if err := writeU32(w, uint32(len(a))); err != nil {
			return err
		}
		for _, c := range a {
			if err := writeU32(w, c.NumFields); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpConstantPool(w io.Writer, consts []Constant) error {
	if err := writeU32(w, uint32(len(consts))); err != nil {
		return err
	}
	for _, c := range consts {
		if err := dumpConstant(w, c); err != nil {
			return err
		}
	}
	return nil
}

func dumpConstant(w io.Writer, c Constant) error {
	if err := writeU8(w, byte(c.Tag)); err != nil {
		return err
	}
	switch c.Tag {
	case ConstI8:
		return writeU8(w, byte(c.I8))
	case ConstI32:
		return writeU32(w, uint32(c.I32))
	case ConstAdt:
		if err := writeU32(w, c.AdtID); err != nil {
			return err
		}
		if err := writeU32(w, c.CtorID); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(c.Fields))); err != nil {
			return err
		}
		for _, f := range c.Fields {
			if err := dumpConstant(w, f); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown constant tag %d", ErrInvalidBytecode, c.Tag)
	}
}

func dumpFunctionTable(w io.Writer, fns []Function) error {
	if err := writeU32(w, uint32(len(fns))); err != nil {
		return err
	}
	for _, f := range fns {
		if err := writeU32(w, f.NumArgs); err != nil {
			return err
		}
		if err := writeU32(w, f.NumLocals); err != nil {
			return err
		}
		code := f.Code
		if f.Kind == FuncForeign {
			code = nil
		}
		if err := writeU32(w, uint32(len(code))); err != nil {
			return err
		}
		if len(code) > 0 {
			if _, err := w.Write(code); err != nil {
				return err
			}
		}
	}
	return nil
}
