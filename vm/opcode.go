package advm

/*
	Opcode numbering and the immediate shapes below mirror the binary
	encoding in spec.md §6, which in turn is the exact layout
	original_source/instruction.h's Instruction/OperandType enums use
	(operand-type tags start at 1, not 0 — see SPEC_FULL.md §3).

	An instruction is one opcode byte followed by zero, one, or two
	immediates. The immediate shape is fixed per opcode:

		none     no immediate bytes at all
		typeTag  one byte, an OperandType tag in {1,2,3,4}
		idx      one four-byte index (big-endian)
		idxIdx   two four-byte indices (mkadt: adt_id, ctor_id)
*/

type Opcode byte

const (
	OpAdd  Opcode = 1
	OpSub  Opcode = 2
	OpMul  Opcode = 3
	OpDiv  Opcode = 4
	OpRem  Opcode = 5
	OpBand Opcode = 6
	OpBor  Opcode = 7
	OpBxor Opcode = 8
	OpBnot Opcode = 9

	OpDup  Opcode = 10
	OpDrop Opcode = 11

	OpLdc   Opcode = 12
	OpLdloc Opcode = 13
	OpStloc Opcode = 14
	OpLdarg Opcode = 15
	OpStarg Opcode = 16

	OpCall   Opcode = 17
	OpRet    Opcode = 18
	OpLdloca Opcode = 19
	OpLdarga Opcode = 20
	OpLdfuna Opcode = 21
	OpCalla  Opcode = 22

	OpLdind Opcode = 23
	OpStind Opcode = 24

	OpTeq   Opcode = 25
	OpTne   Opcode = 26
	OpTlt   Opcode = 27
	OpTltS  Opcode = 28
	OpTle   Opcode = 29
	OpTleS  Opcode = 30
	OpTgt   Opcode = 31
	OpTgtS  Opcode = 32
	OpTge   Opcode = 33
	OpTgeS  Opcode = 34

	OpBr     Opcode = 35
	OpBrtrue Opcode = 36

	OpMkadt Opcode = 37
	OpDladt Opcode = 38
	OpLdctor Opcode = 39
	OpLdfld Opcode = 40
	OpStfld Opcode = 41
)

// immediateShape describes how many and what kind of immediate bytes
// follow an opcode byte in the packed encoding.
type immediateShape byte

const (
	shapeNone     immediateShape = iota // no immediate
	shapeTypeTag                        // one operand-type byte
	shapeIndex                          // one 4-byte index
	shapeTwoIndex                       // two 4-byte indices (mkadt)
)

var opShapes = map[Opcode]immediateShape{
	OpAdd: shapeTypeTag, OpSub: shapeTypeTag, OpMul: shapeTypeTag,
	OpDiv: shapeTypeTag, OpRem: shapeTypeTag, OpBand: shapeTypeTag,
	OpBor: shapeTypeTag, OpBxor: shapeTypeTag, OpBnot: shapeTypeTag,

	OpDup: shapeNone, OpDrop: shapeNone,

	OpLdc: shapeIndex, OpLdloc: shapeIndex, OpStloc: shapeIndex,
	OpLdarg: shapeIndex, OpStarg: shapeIndex,

	OpCall: shapeIndex, OpRet: shapeNone,
	OpLdloca: shapeIndex, OpLdarga: shapeIndex, OpLdfuna: shapeIndex,
	OpCalla: shapeNone,

	OpLdind: shapeNone, OpStind: shapeNone,

	OpTeq: shapeNone, OpTne: shapeNone,
	OpTlt: shapeTypeTag, OpTltS: shapeTypeTag,
	OpTle: shapeTypeTag, OpTleS: shapeTypeTag,
	OpTgt: shapeTypeTag, OpTgtS: shapeTypeTag,
	OpTge: shapeTypeTag, OpTgeS: shapeTypeTag,

	OpBr: shapeIndex, OpBrtrue: shapeIndex,

	OpMkadt: shapeTwoIndex, OpDladt: shapeNone,
	OpLdctor: shapeNone, OpLdfld: shapeIndex, OpStfld: shapeIndex,
}

// Maps from mnemonic -> opcode, built once; mirrors bytecode.go's
// strToInstrMap / instrToStrMap pattern from the teacher repo.
var mnemonicToOp = map[string]Opcode{
	"add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv, "rem": OpRem,
	"band": OpBand, "bor": OpBor, "bxor": OpBxor, "bnot": OpBnot,
	"dup": OpDup, "drop": OpDrop,
	"ldc": OpLdc, "ldloc": OpLdloc, "stloc": OpStloc,
	"ldarg": OpLdarg, "starg": OpStarg,
	"call": OpCall, "ret": OpRet,
	"ldloca": OpLdloca, "ldarga": OpLdarga, "ldfuna": OpLdfuna, "calla": OpCalla,
	"ldind": OpLdind, "stind": OpStind,
	"teq": OpTeq, "tne": OpTne,
	"tlt": OpTlt, "tlt_s": OpTltS, "tle": OpTle, "tle_s": OpTleS,
	"tgt": OpTgt, "tgt_s": OpTgtS, "tge": OpTge, "tge_s": OpTgeS,
	"br": OpBr, "brtrue": OpBrtrue,
	"mkadt": OpMkadt, "dladt": OpDladt, "ldctor": OpLdctor,
	"ldfld": OpLdfld, "stfld": OpStfld,
}

var opToMnemonic map[Opcode]string

func init() {
	opToMnemonic = make(map[Opcode]string, len(mnemonicToOp))
	for s, op := range mnemonicToOp {
		opToMnemonic[op] = s
	}
}

// String renders an opcode as its mnemonic, for fault messages and
// debug printing.
func (o Opcode) String() string {
	if s, ok := opToMnemonic[o]; ok {
		return s
	}
	return "?unknown?"
}

func (o Opcode) valid() bool {
	_, ok := opShapes[o]
	return ok
}
