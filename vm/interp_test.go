package advm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustRun(t *testing.T, m *Module, register func(vm *Interpreter)) *Interpreter {
	t.Helper()
	require.NoError(t, Validate(m))
	vm := NewInterpreter(m)
	if register != nil {
		register(vm)
	}
	require.NoError(t, vm.Run())
	require.False(t, vm.Running())
	return vm
}

// S2: a do-while loop from 1 to 10 calling a foreign "print" function
// each iteration must record the sequence 1..10 in source order.
func TestInterpreterLoopCallsForeignInOrder(t *testing.T) {
	const loopStart = 10 // byte offset of the first ldloc 0 in the body

	code := concat(
		insIdx(OpLdc, 0), // push 1
		insIdx(OpStloc, 0),
		// loopStart:
		insIdx(OpLdloc, 0),
		insIdx(OpCall, 1), // call foreign print(local0)
		insNone(OpDrop),
		insIdx(OpLdloc, 0),
		insIdx(OpLdc, 0), // push 1
		insTag(OpAdd, TypeI32),
		insIdx(OpStloc, 0),
		insIdx(OpLdloc, 0),
		insIdx(OpLdc, 1), // push 10
		insTag(OpTleS, TypeI32),
		insIdx(OpBrtrue, loopStart),
		insIdx(OpLdloc, 0),
		insNone(OpRet),
	)

	m := &Module{
		Constants: []Constant{I32Const(1), I32Const(10)},
		Functions: []Function{
			{Kind: FuncManaged, NumArgs: 0, NumLocals: 1, Code: code},
			{Kind: FuncForeign, NumArgs: 1},
		},
	}

	var recorded []int32
	vm := mustRun(t, m, func(vm *Interpreter) {
		require.NoError(t, vm.RegisterForeign(1, func(args []Value) (Value, error) {
			recorded = append(recorded, args[0].I32)
			return I32Value(0), nil
		}))
	})

	result, err := vm.Result()
	require.NoError(t, err)
	require.Equal(t, I32Value(11), result)
	require.Equal(t, []int32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, recorded)
}

// S3: construct an ADT, read both fields back through dup/ldfld.
func TestInterpreterAdtConstructAndReadFields(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0), // push 7
		insIdx(OpLdc, 1), // push 9
		insIdx2(OpMkadt, 0, 0),
		insNone(OpDup),
		insIdx(OpLdfld, 0),
		insIdx(OpStloc, 0),
		insIdx(OpLdfld, 1),
		insNone(OpRet),
	)
	m := &Module{
		Adts:      []AdtDescriptor{{{NumFields: 2}}},
		Constants: []Constant{I32Const(7), I32Const(9)},
		Functions: []Function{
			{Kind: FuncManaged, NumArgs: 0, NumLocals: 1, Code: code},
		},
	}

	vm := mustRun(t, m, nil)
	result, err := vm.Result()
	require.NoError(t, err)
	require.Equal(t, I32Value(9), result)
	require.Equal(t, I32Value(7), vm.stack[vm.localSlot(0)])
}

// S4: the same bit pattern compares differently under tlt and tlt_s.
func TestInterpreterSignedVsUnsignedCompare(t *testing.T) {
	newCompareModule := func(op Opcode) *Module {
		code := concat(
			insIdx(OpLdc, 0), // push bit pattern 0xFFFFFFFF
			insIdx(OpLdc, 1), // push 1
			insTag(op, TypeI32),
			insNone(OpRet),
		)
		return &Module{
			Constants: []Constant{I32Const(-1), I32Const(1)},
			Functions: []Function{
				{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: code},
			},
		}
	}

	vmUnsigned := mustRun(t, newCompareModule(OpTlt), nil)
	r, err := vmUnsigned.Result()
	require.NoError(t, err)
	require.Equal(t, I8Value(0), r, "0xFFFFFFFF is not unsigned-less-than 1")

	vmSigned := mustRun(t, newCompareModule(OpTltS), nil)
	r, err = vmSigned.Result()
	require.NoError(t, err)
	require.Equal(t, I8Value(1), r, "-1 is signed-less-than 1")
}

// design note 9's fixed bug: tgt/tge must use strict-greater and
// greater-or-equal, not reuse tlt/tle's comparator.
func TestInterpreterTgtTgeUseCorrectComparator(t *testing.T) {
	newModule := func(op Opcode, a, b int32) *Module {
		code := concat(
			insIdx(OpLdc, 0),
			insIdx(OpLdc, 1),
			insTag(op, TypeI32),
			insNone(OpRet),
		)
		return &Module{
			Constants: []Constant{I32Const(a), I32Const(b)},
			Functions: []Function{
				{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: code},
			},
		}
	}

	vm := mustRun(t, newModule(OpTgt, 5, 3), nil)
	r, _ := vm.Result()
	require.Equal(t, I8Value(1), r, "5 > 3")

	vm = mustRun(t, newModule(OpTgt, 3, 3), nil)
	r, _ = vm.Result()
	require.Equal(t, I8Value(0), r, "3 is not strictly > 3")

	vm = mustRun(t, newModule(OpTge, 3, 3), nil)
	r, _ = vm.Result()
	require.Equal(t, I8Value(1), r, "3 >= 3")
}

// teq over two loads of the same i32 constant pushes I8(1) (invariant
// 6). Cross-tag equality is checked on Value.Equal in value_test.go.
func TestInterpreterTeqTneUnionEquality(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0),
		insIdx(OpLdc, 0),
		insNone(OpTeq),
		insNone(OpRet),
	)
	m := &Module{
		Constants: []Constant{I32Const(42)},
		Functions: []Function{{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: code}},
	}
	vm := mustRun(t, m, nil)
	r, _ := vm.Result()
	require.Equal(t, I8Value(1), r)
}

func TestInterpreterDivisionByZeroFaults(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0),
		insIdx(OpLdc, 1),
		insTag(OpDiv, TypeI32),
		insNone(OpRet),
	)
	m := &Module{
		Constants: []Constant{I32Const(10), I32Const(0)},
		Functions: []Function{{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: code}},
	}
	require.NoError(t, Validate(m))
	vm := NewInterpreter(m)
	err := vm.Run()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrArithmetic))
}

func TestInterpreterDropOnLocalsSlotFaults(t *testing.T) {
	m := &Module{
		Functions: []Function{
			{Kind: FuncManaged, NumArgs: 0, NumLocals: 1, Code: insNone(OpDrop)},
		},
	}
	require.NoError(t, Validate(m))
	vm := NewInterpreter(m)
	err := vm.Run()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStackUnderflow))
}

// calla/ldfuna: an indirect call through a first-class function index.
func TestInterpreterIndirectCallThroughLdfuna(t *testing.T) {
	mainCode := concat(
		insIdx(OpLdc, 0), // argument
		insIdx(OpLdfuna, 1),
		insNone(OpCalla),
		insNone(OpRet),
	)
	calleeCode := concat(
		insIdx(OpLdarg, 0),
		insIdx(OpLdc, 1),
		insTag(OpAdd, TypeI32),
		insNone(OpRet),
	)
	m := &Module{
		Constants: []Constant{I32Const(4), I32Const(1)},
		Functions: []Function{
			{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: mainCode},
			{Kind: FuncManaged, NumArgs: 1, NumLocals: 0, Code: calleeCode},
		},
	}
	vm := mustRun(t, m, nil)
	r, err := vm.Result()
	require.NoError(t, err)
	require.Equal(t, I32Value(5), r)
}

func TestInterpreterCallaOutOfRangeIsIndexOutOfBounds(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0), // push an out-of-range function index
		insNone(OpCalla),
		insNone(OpRet),
	)
	m := &Module{
		Constants: []Constant{I32Const(99)},
		Functions: []Function{{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: code}},
	}
	require.NoError(t, Validate(m))
	vm := NewInterpreter(m)
	err := vm.Run()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIndexOutOfBounds))
}

// ldloca with stind and ldind: write and read a local through a stack
// pointer rather than ldloc/stloc directly.
func TestInterpreterLdindStindThroughStackPtr(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0), // push 7
		insIdx(OpStloc, 0),
		insIdx(OpLdloca, 0),
		insIdx(OpLdc, 1), // push 100
		insIdx(OpLdloca, 0),
		insNone(OpStind), // local0 = 100 (pops ptr then value)
		insIdx(OpLdloca, 0),
		insNone(OpLdind),
		insNone(OpRet),
	)
	m := &Module{
		Constants: []Constant{I32Const(7), I32Const(100)},
		Functions: []Function{{Kind: FuncManaged, NumArgs: 0, NumLocals: 1, Code: code}},
	}
	vm := mustRun(t, m, nil)
	r, err := vm.Result()
	require.NoError(t, err)
	require.Equal(t, I32Value(100), r)
}

func TestInterpreterArithmeticWrapsModulo(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0),
		insIdx(OpLdc, 1),
		insTag(OpAdd, TypeI8),
		insNone(OpRet),
	)
	m := &Module{
		Constants: []Constant{I8Const(127), I8Const(1)},
		Functions: []Function{{Kind: FuncManaged, NumArgs: 0, NumLocals: 0, Code: code}},
	}
	vm := mustRun(t, m, nil)
	r, err := vm.Result()
	require.NoError(t, err)
	require.Equal(t, I8Value(-128), r, "127+1 wraps to -128 in two's-complement i8")
}

// stfld pops the AdtRef before the value (spec.md §4.5: "pop an AdtRef,
// then pop a value v"); a local stashes the ref since the opcode set
// has no stack-reorder operation.
func TestInterpreterStfldRoundTrip(t *testing.T) {
	code := concat(
		insIdx(OpLdc, 0), // field 0 initial
		insIdx2(OpMkadt, 0, 0),
		insIdx(OpStloc, 0), // stash ref
		insIdx(OpLdloc, 0),
		insIdx(OpLdc, 1), // new value
		insIdx(OpLdloc, 0),
		insIdx(OpStfld, 0), // pops ref, then value
		insIdx(OpLdloc, 0),
		insIdx(OpLdfld, 0),
		insNone(OpRet),
	)
	m := &Module{
		Adts:      []AdtDescriptor{{{NumFields: 1}}},
		Constants: []Constant{I32Const(1), I32Const(55)},
		Functions: []Function{{Kind: FuncManaged, NumArgs: 0, NumLocals: 1, Code: code}},
	}
	vm := mustRun(t, m, nil)
	r, err := vm.Result()
	require.NoError(t, err)
	require.Equal(t, I32Value(55), r)
}
