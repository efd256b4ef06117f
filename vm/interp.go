package advm

import "fmt"

// frame is one call-frame's saved bookkeeping: the base pointer into
// the operand stack (spec.md §3's "call frame") plus enough of the
// callee's shape to make Leave's unwind self-contained.
type frame struct {
	base      uint32
	numArgs   uint32
	numLocals uint32
}

// Interpreter holds all of a running VM instance's mutable state: the
// operand stack, the frame stack, the current function/pc, and the ADT
// heap (spec.md §4.5). Two Interpreters over the same Module share
// nothing; the VM is a value with no process-wide state (design note 9).
type Interpreter struct {
	module *Module

	stack   []Value
	frames  []frame
	cf      uint32
	pc      uint32
	running bool

	heap *heap
}

// NewInterpreter creates an interpreter over m in its initial state
// (spec.md §4.5's "State machine"): running, pc=0, cf=0, a single root
// frame whose locals are already allocated. m should already have
// passed Validate. MAIN (function index 0) takes no arguments; its
// locals occupy stack[0, num_locals) with no saved-cf/saved-pc slots
// below them, since there is no caller to return to.
func NewInterpreter(m *Module) *Interpreter {
	var numLocals uint32
	if len(m.Functions) > 0 && m.Functions[MainFunctionIndex].Kind == FuncManaged {
		numLocals = m.Functions[MainFunctionIndex].NumLocals
	}
	return &Interpreter{
		module:  m,
		stack:   make([]Value, numLocals, numLocals+64),
		frames:  []frame{{base: 0, numArgs: 0, numLocals: numLocals}},
		cf:      MainFunctionIndex,
		pc:      0,
		running: true,
		heap:    newHeap(),
	}
}

// RegisterForeign attaches fn as the callable for function-table slot
// idx, which must already name a FuncForeign entry (spec.md §4.2's
// "foreign functions are not serialized; they are registered
// post-load").
func (vm *Interpreter) RegisterForeign(idx uint32, fn ForeignFunc) error {
	if idx >= uint32(len(vm.module.Functions)) {
		return fmt.Errorf("%w: foreign function index %d out of range", ErrIndexOutOfBounds, idx)
	}
	f := &vm.module.Functions[idx]
	if f.Kind != FuncForeign {
		return fmt.Errorf("%w: function %d is not a foreign slot", ErrInvalidBytecode, idx)
	}
	f.Foreign = fn
	return nil
}

// Running reports whether the interpreter has not yet halted. It turns
// false only on ret from the root frame; a fault leaves it true.
func (vm *Interpreter) Running() bool { return vm.running }

// Run steps the interpreter to completion: until running clears or Step
// returns an error (spec.md §5's "run iterates step until running
// clears or a fault is raised").
func (vm *Interpreter) Run() error {
	for vm.running {
		if err := vm.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Result returns the top-of-stack value after a successful halt. It is
// only meaningful once Run/Step has returned with Running() == false
// and no error.
func (vm *Interpreter) Result() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, fmt.Errorf("%w: no result on an empty stack", ErrStackUnderflow)
	}
	return vm.stack[len(vm.stack)-1], nil
}

func (vm *Interpreter) curFrame() *frame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *Interpreter) fault(err error) error {
	return faultAt(err, vm.cf, vm.pc)
}

// Step executes exactly one instruction (spec.md §4.5). It returns an
// error on any fault; the interpreter's state is left as-is for
// inspection, per §7's propagation policy, and must not be stepped
// further.
func (vm *Interpreter) Step() error {
	if !vm.running {
		return nil
	}

	fn := vm.module.Functions[vm.cf]
	d, err := decodeInstruction(fn.Code, vm.pc)
	if err != nil {
		return vm.fault(err)
	}

	advance := true
	switch d.op {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpBand, OpBor, OpBxor:
		err = vm.execBinop(d)
	case OpBnot:
		err = vm.execBnot(d)
	case OpDup:
		err = vm.execDup()
	case OpDrop:
		err = vm.execDrop()
	case OpLdc:
		err = vm.execLdc(d)
	case OpLdloc:
		err = vm.execLdloc(d)
	case OpStloc:
		err = vm.execStloc(d)
	case OpLdarg:
		err = vm.execLdarg(d)
	case OpStarg:
		err = vm.execStarg(d)
	case OpCall:
		err = vm.enter(d.idx, d.next)
		advance = false
	case OpRet:
		err = vm.leave()
		advance = false
	case OpLdloca:
		err = vm.execLdloca(d)
	case OpLdarga:
		err = vm.execLdarga(d)
	case OpLdfuna:
		err = vm.execLdfuna(d)
	case OpCalla:
		err = vm.execCalla(d.next)
		advance = false
	case OpLdind:
		err = vm.execLdind()
	case OpStind:
		err = vm.execStind()
	case OpTeq:
		err = vm.execTeq(false)
	case OpTne:
		err = vm.execTeq(true)
	case OpTlt, OpTltS, OpTle, OpTleS, OpTgt, OpTgtS, OpTge, OpTgeS:
		err = vm.execCompare(d)
	case OpBr:
		vm.pc = d.idx
		advance = false
	case OpBrtrue:
		err = vm.execBrtrue(d)
		advance = false
	case OpMkadt:
		err = vm.execMkadt(d)
	case OpDladt:
		err = vm.execDladt()
	case OpLdctor:
		err = vm.execLdctor()
	case OpLdfld:
		err = vm.execLdfld(d)
	case OpStfld:
		err = vm.execStfld(d)
	default:
		err = fmt.Errorf("%w: unhandled opcode %s", ErrInvalidBytecode, d.op)
	}

	if err != nil {
		return vm.fault(err)
	}
	if advance {
		vm.pc = d.next
	}
	return nil
}

func (vm *Interpreter) pop() (Value, error) {
	base := vm.curFrame().base
	if uint32(len(vm.stack)) <= base+vm.curFrame().numLocals {
		return Value{}, fmt.Errorf("%w: pop on empty logical stack", ErrStackUnderflow)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *Interpreter) push(v Value) {
	vm.stack = append(vm.stack, v)
}

// rawPop pops the top stack slot with no regard for the current
// frame's locals boundary. Used only for the saved-cf/saved-pc
// bookkeeping slots that Leave unwinds, which live below the frame
// being torn down rather than within its logical operand stack.
func (vm *Interpreter) rawPop() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, fmt.Errorf("%w: pop on empty stack", ErrStackUnderflow)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func requireKind(v Value, tag OperandType) (Value, error) {
	if ValueKind(tag) != v.Kind {
		return Value{}, fmt.Errorf("%w: expected %s, got %s", ErrInvalidBytecode, tag, v.Kind)
	}
	return v, nil
}

// execBinop implements add/sub/mul/div/rem/band/bor/bxor: pop two
// operands of the tagged width, apply the op with two's-complement
// wraparound, push the result (spec.md §4.5 "Arithmetic").
func (vm *Interpreter) execBinop(d decodedInstr) error {
	rhs, err := vm.pop()
	if err != nil {
		return err
	}
	lhs, err := vm.pop()
	if err != nil {
		return err
	}
	if _, err := requireKind(lhs, d.tag); err != nil {
		return err
	}
	if _, err := requireKind(rhs, d.tag); err != nil {
		return err
	}

	switch d.tag {
	case TypeI8:
		r, err := binopI8(d.op, lhs.I8, rhs.I8)
		if err != nil {
			return err
		}
		vm.push(I8Value(r))
	case TypeI32:
		r, err := binopI32(d.op, lhs.I32, rhs.I32)
		if err != nil {
			return err
		}
		vm.push(I32Value(r))
	default:
		return fmt.Errorf("%w: arithmetic on non-scalar operand type %s", ErrInvalidBytecode, d.tag)
	}
	return nil
}

func binopI8(op Opcode, a, b int8) (int8, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return a / b, nil
	case OpRem:
		if b == 0 {
			return 0, fmt.Errorf("%w: remainder by zero", ErrArithmetic)
		}
		return a % b, nil
	case OpBand:
		return a & b, nil
	case OpBor:
		return a | b, nil
	case OpBxor:
		return a ^ b, nil
	default:
		return 0, fmt.Errorf("%w: not a binary arithmetic opcode: %s", ErrInvalidBytecode, op)
	}
}

func binopI32(op Opcode, a, b int32) (int32, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return a / b, nil
	case OpRem:
		if b == 0 {
			return 0, fmt.Errorf("%w: remainder by zero", ErrArithmetic)
		}
		return a % b, nil
	case OpBand:
		return a & b, nil
	case OpBor:
		return a | b, nil
	case OpBxor:
		return a ^ b, nil
	default:
		return 0, fmt.Errorf("%w: not a binary arithmetic opcode: %s", ErrInvalidBytecode, op)
	}
}

func (vm *Interpreter) execBnot(d decodedInstr) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if _, err := requireKind(v, d.tag); err != nil {
		return err
	}
	switch d.tag {
	case TypeI8:
		vm.push(I8Value(^v.I8))
	case TypeI32:
		vm.push(I32Value(^v.I32))
	default:
		return fmt.Errorf("%w: bnot on non-scalar operand type %s", ErrInvalidBytecode, d.tag)
	}
	return nil
}

func (vm *Interpreter) execDup() error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	vm.push(v)
	vm.push(v)
	return nil
}

// execDrop pops the top value, faulting if doing so would consume a
// slot belonging to the current frame's locals (spec.md §4.5's
// StackUnderflow condition for drop).
func (vm *Interpreter) execDrop() error {
	_, err := vm.pop()
	return err
}

func (vm *Interpreter) execLdc(d decodedInstr) error {
	c := vm.module.Constants[d.idx]
	v, err := vm.materializeConstant(c)
	if err != nil {
		return err
	}
	vm.push(v)
	return nil
}

// materializeConstant realizes a constant-pool entry as a runtime
// value. ADT constants are deep-copied onto the heap, producing a
// fresh AdtRef each time they're loaded (spec.md §4.4).
func (vm *Interpreter) materializeConstant(c Constant) (Value, error) {
	switch c.Tag {
	case ConstI8:
		return I8Value(c.I8), nil
	case ConstI32:
		return I32Value(c.I32), nil
	case ConstAdt:
		fields := make([]Value, len(c.Fields))
		for i, fc := range c.Fields {
			v, err := vm.materializeConstant(fc)
			if err != nil {
				return Value{}, err
			}
			fields[i] = v
		}
		ref := vm.heap.alloc(c.AdtID, c.CtorID, fields)
		return AdtValue(ref), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown constant tag %d", ErrInvalidBytecode, c.Tag)
	}
}

// localSlot/argSlot translate a local/argument index into an absolute
// operand-stack index (spec.md §3's call-frame layout, §4.5's
// locals/args access).
func (vm *Interpreter) localSlot(idx uint32) uint32 {
	return vm.curFrame().base + idx
}

func (vm *Interpreter) argSlot(idx uint32) uint32 {
	f := vm.curFrame()
	return f.base - 2 - f.numArgs + idx
}

func (vm *Interpreter) execLdloc(d decodedInstr) error {
	vm.push(vm.stack[vm.localSlot(d.idx)])
	return nil
}

func (vm *Interpreter) execStloc(d decodedInstr) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	vm.stack[vm.localSlot(d.idx)] = v
	return nil
}

func (vm *Interpreter) execLdarg(d decodedInstr) error {
	vm.push(vm.stack[vm.argSlot(d.idx)])
	return nil
}

func (vm *Interpreter) execStarg(d decodedInstr) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	vm.stack[vm.argSlot(d.idx)] = v
	return nil
}

func (vm *Interpreter) execLdloca(d decodedInstr) error {
	vm.push(PtrValue(StackPtr(vm.localSlot(d.idx))))
	return nil
}

func (vm *Interpreter) execLdarga(d decodedInstr) error {
	vm.push(PtrValue(StackPtr(vm.argSlot(d.idx))))
	return nil
}

// execLdfuna pushes a function-table index as a plain I32 value, the
// first-class function address consumed by calla (spec.md §4.5,
// §6 "push fn-index-as-value").
func (vm *Interpreter) execLdfuna(d decodedInstr) error {
	vm.push(I32Value(int32(d.idx)))
	return nil
}

// execCalla pops a function index and enters it. Out-of-range faults
// with IndexOutOfBounds, and the case terminates cleanly here — the
// source's corresponding case falls through into ldind in one draft;
// that fallthrough is not reproduced (SPEC_FULL.md §6). nextPC is the
// pc to resume at if the target turns out to be a foreign function,
// which doesn't open a new frame.
func (vm *Interpreter) execCalla(nextPC uint32) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if v.Kind != KindI32 {
		return fmt.Errorf("%w: calla target is not an i32 function index (%s)", ErrInvalidBytecode, v.Kind)
	}
	idx := v.I32
	if idx < 0 || uint32(idx) >= uint32(len(vm.module.Functions)) {
		return fmt.Errorf("%w: calla target %d out of range", ErrIndexOutOfBounds, idx)
	}
	return vm.enter(uint32(idx), nextPC)
}

func (vm *Interpreter) execLdind() error {
	p, err := vm.pop()
	if err != nil {
		return err
	}
	if p.Kind != KindPointer {
		return fmt.Errorf("%w: ldind on non-pointer value (%s)", ErrInvalidBytecode, p.Kind)
	}
	idx := uint32(p.Ptr)
	if idx >= uint32(len(vm.stack)) {
		return fmt.Errorf("%w: ldind target %d out of range", ErrIndexOutOfBounds, idx)
	}
	vm.push(vm.stack[idx])
	return nil
}

func (vm *Interpreter) execStind() error {
	p, err := vm.pop()
	if err != nil {
		return err
	}
	if p.Kind != KindPointer {
		return fmt.Errorf("%w: stind on non-pointer value (%s)", ErrInvalidBytecode, p.Kind)
	}
	v, err := vm.pop()
	if err != nil {
		return err
	}
	idx := uint32(p.Ptr)
	if idx >= uint32(len(vm.stack)) {
		return fmt.Errorf("%w: stind target %d out of range", ErrIndexOutOfBounds, idx)
	}
	vm.stack[idx] = v
	return nil
}

// execTeq implements teq (negate=false) and tne (negate=true): full
// bit-pattern equality over the value union, no operand-type tag
// (spec.md §4.5).
func (vm *Interpreter) execTeq(negate bool) error {
	rhs, err := vm.pop()
	if err != nil {
		return err
	}
	lhs, err := vm.pop()
	if err != nil {
		return err
	}
	eq := lhs.Equal(rhs)
	if negate {
		eq = !eq
	}
	vm.push(boolValue(eq))
	return nil
}

func boolValue(b bool) Value {
	if b {
		return I8Value(1)
	}
	return I8Value(0)
}

// execCompare implements tlt/tle/tgt/tge and their _s variants. The
// unsigned and signed forms differ only in how the popped bit pattern
// is interpreted; tgt/tge use strict-greater/greater-or-equal, fixing
// the source's bug of reusing tlt/tle's comparator (SPEC_FULL.md §6,
// design note 9).
func (vm *Interpreter) execCompare(d decodedInstr) error {
	rhs, err := vm.pop()
	if err != nil {
		return err
	}
	lhs, err := vm.pop()
	if err != nil {
		return err
	}
	if _, err := requireKind(lhs, d.tag); err != nil {
		return err
	}
	if _, err := requireKind(rhs, d.tag); err != nil {
		return err
	}

	var result bool
	switch d.tag {
	case TypeI8:
		result, err = compareI8(d.op, lhs.I8, rhs.I8)
	case TypeI32:
		result, err = compareI32(d.op, lhs.I32, rhs.I32)
	default:
		err = fmt.Errorf("%w: comparison on non-scalar operand type %s", ErrInvalidBytecode, d.tag)
	}
	if err != nil {
		return err
	}
	vm.push(boolValue(result))
	return nil
}

func compareI8(op Opcode, a, b int8) (bool, error) {
	ua, ub := uint8(a), uint8(b)
	switch op {
	case OpTlt:
		return ua < ub, nil
	case OpTltS:
		return a < b, nil
	case OpTle:
		return ua <= ub, nil
	case OpTleS:
		return a <= b, nil
	case OpTgt:
		return ua > ub, nil
	case OpTgtS:
		return a > b, nil
	case OpTge:
		return ua >= ub, nil
	case OpTgeS:
		return a >= b, nil
	default:
		return false, fmt.Errorf("%w: not a comparison opcode: %s", ErrInvalidBytecode, op)
	}
}

func compareI32(op Opcode, a, b int32) (bool, error) {
	ua, ub := uint32(a), uint32(b)
	switch op {
	case OpTlt:
		return ua < ub, nil
	case OpTltS:
		return a < b, nil
	case OpTle:
		return ua <= ub, nil
	case OpTleS:
		return a <= b, nil
	case OpTgt:
		return ua > ub, nil
	case OpTgtS:
		return a > b, nil
	case OpTge:
		return ua >= ub, nil
	case OpTgeS:
		return a >= b, nil
	default:
		return false, fmt.Errorf("%w: not a comparison opcode: %s", ErrInvalidBytecode, op)
	}
}

func (vm *Interpreter) execBrtrue(d decodedInstr) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if v.Kind != KindI8 {
		return fmt.Errorf("%w: brtrue condition is not an i8 (%s)", ErrInvalidBytecode, v.Kind)
	}
	if v.I8 != 0 {
		vm.pc = d.idx
	} else {
		vm.pc = d.next
	}
	return nil
}

// execMkadt reads n = adt_table[adt_id][ctor_id].num_fields, pops n
// values (the topmost becomes field n-1, preserving source order),
// allocates a heap ADT, and pushes its AdtRef (spec.md §4.5).
func (vm *Interpreter) execMkadt(d decodedInstr) error {
	ctor := vm.module.Adts[d.idx][d.idx2]
	n := ctor.NumFields
	fields := make([]Value, n)
	for i := n; i > 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		fields[i-1] = v
	}
	ref := vm.heap.alloc(d.idx, d.idx2, fields)
	vm.push(AdtValue(ref))
	return nil
}

func (vm *Interpreter) popAdtRef() (AdtRef, error) {
	v, err := vm.pop()
	if err != nil {
		return 0, err
	}
	if v.Kind != KindAdtRef {
		return 0, fmt.Errorf("%w: expected adt reference, got %s", ErrInvalidBytecode, v.Kind)
	}
	return v.Adt, nil
}

func (vm *Interpreter) execDladt() error {
	ref, err := vm.popAdtRef()
	if err != nil {
		return err
	}
	return vm.heap.release(ref)
}

func (vm *Interpreter) execLdctor() error {
	ref, err := vm.popAdtRef()
	if err != nil {
		return err
	}
	obj, err := vm.heap.get(ref)
	if err != nil {
		return err
	}
	vm.push(I32Value(int32(obj.ctorID)))
	return nil
}

func (vm *Interpreter) execLdfld(d decodedInstr) error {
	ref, err := vm.popAdtRef()
	if err != nil {
		return err
	}
	obj, err := vm.heap.get(ref)
	if err != nil {
		return err
	}
	if d.idx >= uint32(len(obj.fields)) {
		return fmt.Errorf("%w: ldfld index %d out of range (num_fields=%d)", ErrIndexOutOfBounds, d.idx, len(obj.fields))
	}
	vm.push(obj.fields[d.idx])
	return nil
}

func (vm *Interpreter) execStfld(d decodedInstr) error {
	ref, err := vm.popAdtRef()
	if err != nil {
		return err
	}
	v, err := vm.pop()
	if err != nil {
		return err
	}
	obj, err := vm.heap.get(ref)
	if err != nil {
		return err
	}
	if d.idx >= uint32(len(obj.fields)) {
		return fmt.Errorf("%w: stfld index %d out of range (num_fields=%d)", ErrIndexOutOfBounds, d.idx, len(obj.fields))
	}
	obj.fields[d.idx] = v
	return nil
}

// enter implements Enter(fn_idx) (spec.md §4.5): managed functions push
// saved (cf, pc), open a new frame, and grow the stack by num_locals,
// leaving cf/pc pointing at the callee's first instruction. Foreign
// functions are invoked directly against a stack slice and never see
// frames, so cf/pc are left at the caller's next instruction (nextPC).
func (vm *Interpreter) enter(idx uint32, nextPC uint32) error {
	if idx >= uint32(len(vm.module.Functions)) {
		return fmt.Errorf("%w: call target %d out of range", ErrIndexOutOfBounds, idx)
	}
	fn := vm.module.Functions[idx]

	if fn.Kind == FuncForeign {
		if err := vm.enterForeign(fn); err != nil {
			return err
		}
		vm.pc = nextPC
		return nil
	}

	vm.push(I32Value(int32(vm.cf)))
	vm.push(I32Value(int32(nextPC)))
	base := uint32(len(vm.stack))
	for i := uint32(0); i < fn.NumLocals; i++ {
		vm.stack = append(vm.stack, Value{})
	}
	vm.frames = append(vm.frames, frame{base: base, numArgs: fn.NumArgs, numLocals: fn.NumLocals})
	vm.cf = idx
	vm.pc = 0
	return nil
}

func (vm *Interpreter) enterForeign(fn Function) error {
	if fn.Foreign == nil {
		return fmt.Errorf("%w: foreign function has no registered callable", ErrInvalidBytecode)
	}
	off := uint32(len(vm.stack)) - fn.NumArgs
	args := make([]Value, fn.NumArgs)
	copy(args, vm.stack[off:])

	result, err := fn.Foreign(args)
	if err != nil {
		return err
	}
	vm.stack = vm.stack[:off]
	vm.push(result)
	return nil
}

// leave implements Leave (spec.md §4.5's ret semantics): pop the return
// value, unwind to the caller's (cf, pc), consume the returning
// function's arguments, and push the return value back. Returning from
// the root frame halts the interpreter.
func (vm *Interpreter) leave() error {
	rv, err := vm.pop()
	if err != nil {
		return err
	}

	if len(vm.frames) == 1 {
		vm.running = false
		vm.push(rv)
		return nil
	}

	cur := vm.curFrame()
	vm.stack = vm.stack[:cur.base]

	savedPc, err := vm.rawPop()
	if err != nil {
		return err
	}
	savedCf, err := vm.rawPop()
	if err != nil {
		return err
	}
	if savedPc.Kind != KindI32 || savedCf.Kind != KindI32 {
		return fmt.Errorf("%w: corrupted call-frame bookkeeping", ErrInvalidBytecode)
	}

	numArgs := cur.numArgs
	if uint32(len(vm.stack)) < numArgs {
		return fmt.Errorf("%w: not enough arguments to unwind on return", ErrStackUnderflow)
	}
	vm.stack = vm.stack[:uint32(len(vm.stack))-numArgs]
	vm.push(rv)

	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.cf = uint32(savedCf.I32)
	vm.pc = uint32(savedPc.I32)
	return nil
}
