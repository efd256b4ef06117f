package advm

import "fmt"

// Validate performs the single-pass static check of spec.md §4.3 over
// every managed function in m, failing fast on the first violation
// (mirrors the teacher's compile.go post-assembly bounds-check pass,
// generalized from a text assembler's output to a parsed Module).
// Foreign functions carry no bytecode and are skipped.
func Validate(m *Module) error {
	for fnIdx, fn := range m.Functions {
		if fn.Kind != FuncManaged {
			continue
		}
		if err := validateFunction(m, uint32(fnIdx), fn); err != nil {
			return err
		}
	}
	return nil
}

func validateFunction(m *Module, fnIdx uint32, fn Function) error {
	boundaries, err := instructionBoundaries(fn.Code)
	if err != nil {
		return faultAt(err, fnIdx, 0)
	}

	pc := uint32(0)
	for pc < uint32(len(fn.Code)) {
		d, err := decodeInstruction(fn.Code, pc)
		if err != nil {
			return faultAt(err, fnIdx, pc)
		}

		if err := validateInstruction(m, fn, d); err != nil {
			return faultAt(err, fnIdx, pc)
		}
		if d.op == OpBr || d.op == OpBrtrue {
			if !boundaries[d.idx] {
				return faultAt(fmt.Errorf("%w: branch target %d is not an instruction boundary", ErrInvalidBytecode, d.idx), fnIdx, pc)
			}
		}

		pc = d.next
	}
	return nil
}

// instructionBoundaries walks code once and records every offset at
// which a decoded instruction begins, for br/brtrue target validation.
func instructionBoundaries(code []byte) (map[uint32]bool, error) {
	boundaries := make(map[uint32]bool)
	pc := uint32(0)
	for pc < uint32(len(code)) {
		boundaries[pc] = true
		d, err := decodeInstruction(code, pc)
		if err != nil {
			return nil, err
		}
		pc = d.next
	}
	return boundaries, nil
}

func validateInstruction(m *Module, fn Function, d decodedInstr) error {
	switch opShapes[d.op] {
	case shapeTypeTag:
		if !d.tag.valid() {
			return fmt.Errorf("%w: invalid operand-type tag %d on %s", ErrInvalidBytecode, d.tag, d.op)
		}
	}

	switch d.op {
	case OpLdloc, OpStloc, OpLdloca:
		if d.idx >= fn.NumLocals {
			return fmt.Errorf("%w: %s index %d out of range (num_locals=%d)", ErrInvalidBytecode, d.op, d.idx, fn.NumLocals)
		}
	case OpLdarg, OpStarg, OpLdarga:
		if d.idx >= fn.NumArgs {
			return fmt.Errorf("%w: %s index %d out of range (num_args=%d)", ErrInvalidBytecode, d.op, d.idx, fn.NumArgs)
		}
	case OpLdc:
		if d.idx >= uint32(len(m.Constants)) {
			return fmt.Errorf("%w: ldc index %d out of range (constant pool len=%d)", ErrInvalidBytecode, d.idx, len(m.Constants))
		}
	case OpCall, OpLdfuna:
		if d.idx >= uint32(len(m.Functions)) {
			return fmt.Errorf("%w: %s index %d out of range (function table len=%d)", ErrInvalidBytecode, d.op, d.idx, len(m.Functions))
		}
	case OpMkadt:
		if d.idx >= uint32(len(m.Adts)) {
			return fmt.Errorf("%w: mkadt adt_id %d out of range (adt table len=%d)", ErrInvalidBytecode, d.idx, len(m.Adts))
		}
		if d.idx2 >= uint32(len(m.Adts[d.idx])) {
			return fmt.Errorf("%w: mkadt ctor_id %d out of range for adt %d", ErrInvalidBytecode, d.idx2, d.idx)
		}
	case OpLdfld, OpStfld:
		// Field index bounds depend on the heap object's runtime
		// (adt_id, ctor_id) and can't be checked statically; ldfld/stfld
		// carry no table-index operand under this encoding (§4.3 lists
		// them among the opcodes with no static range check).
	}
	return nil
}
