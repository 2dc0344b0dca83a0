// Package lir implements the Low-level IR: structured blocks, loops,
// if/else, break/conditional-break, memory ops, and calls, designed to
// legalize cleanly into the stack VM.
//
// Nodes are represented the way Go's own SSA form represents instructions
// (cmd/compile/internal/ssa.Value: an Op enum plus an Args slice plus an
// Aux payload) rather than as one Go type per instruction kind — a closed
// tagged union with a dispatcher.
//
// Instruction arity is kept strict: every instruction produces at
// most one value. FunctionArgs follows the same rule: a function has one
// FunctionArgs instruction per parameter slot (ParamAux.Index), each
// yielding that single parameter. Calls are modeled as single-return; the
// source language's reporters never need more.
package lir

import "github.com/fieldforge/turtlec/internal/mtype"

// SeqID identifies one instruction sequence within a function.
type SeqID int

// ValRef identifies one instruction's output value.
type ValRef struct {
	Seq   SeqID
	Index int
}

// Op is the closed set of LIR instruction kinds.
type Op int

const (
	OpFunctionArgs Op = iota
	OpLoopArg
	OpConst
	OpUserFunctionPtr
	OpDeriveField
	OpDeriveElement
	OpMemLoad
	OpMemStore
	OpStackLoad
	OpStackStore
	OpStackAddr
	OpCallImported
	OpCallUser
	OpCallIndirect
	OpUnaryOp
	OpBinaryOp
	OpBreak
	OpConditionalBreak
	OpBlock
	OpIfElse
	OpLoop
)

func (o Op) String() string {
	names := [...]string{
		"FunctionArgs", "LoopArg", "Const", "UserFunctionPtr", "DeriveField",
		"DeriveElement", "MemLoad", "MemStore", "StackLoad", "StackStore",
		"StackAddr", "CallImported", "CallUser", "CallIndirect", "UnaryOp",
		"BinaryOp", "Break", "ConditionalBreak", "Block", "IfElse", "Loop",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "Op(?)"
}

// ArithOp is the closed set of unary/binary machine operations.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	DivF
	Neg
	Not
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
)

// ConstAux is the Aux payload of a Const instruction: the machine type and
// its raw bit pattern (reinterpreted per Type — float bits for F64, etc).
type ConstAux struct {
	Type mtype.Machine
	Bits uint64
}

// MemAux is the Aux payload of MemLoad/MemStore/DeriveField.
type MemAux struct {
	Type   mtype.Machine
	Offset uint32
}

// DeriveElementAux is the Aux payload of DeriveElement.
type DeriveElementAux struct {
	Stride uint32
}

// StackAux is the Aux payload of StackLoad/StackStore/StackAddr.
type StackAux struct {
	Type   mtype.Machine
	Offset uint32
}

// ParamAux is the Aux payload of FunctionArgs: which parameter slot this
// particular instance yields.
type ParamAux struct {
	Index int
}

// CallAux is the Aux payload of CallImported/CallUser.
type CallAux struct {
	Name    string // for CallImported
	FuncIdx int    // for CallUser
	Params  []mtype.Machine
	Result  *mtype.Machine // nil if the call has no return value
}

// BlockAux/IfElseAux/LoopAux name the nested sequences of structured
// control-flow instructions, and the machine types of the values they
// produce on fallthrough/break.
//
// There is no separate "yield" instruction: when OutTypes is non-empty, a
// body sequence's produced value is simply the value of its last
// instruction, exactly as a Wasm block/if leaves its result on the
// operand stack at the block's end. A ConditionalBreak/Break that exits
// a value-producing construct early must carry that value on Args in the
// same way.
type BlockAux struct {
	Body     SeqID
	OutTypes []mtype.Machine
}

type IfElseAux struct {
	Then, Else SeqID
	OutTypes   []mtype.Machine
}

type LoopAux struct {
	Body     SeqID
	OutTypes []mtype.Machine
}

// BreakAux is the Aux payload of both Break and ConditionalBreak: it names
// the sequence the break transfers control to.
type BreakAux struct {
	Target SeqID
}

// Insn is one LIR instruction: an Op, its ordered inputs, an Op-specific
// Aux payload, and its (0 or 1) output machine type.
type Insn struct {
	Op       Op
	Args     []ValRef
	Aux      interface{}
	HasValue bool
	ValType  mtype.Machine
}

// Sequence is an ordered list of instructions with sequential control flow.
type Sequence struct {
	Insns []Insn
}

// Function is a LIR function: its parameter machine types, a structured
// block as body, its instruction sequences, required stack space, and
// whether it is a Wasm entrypoint.
type Function struct {
	Name         string
	Params       []mtype.Machine
	Results      []mtype.Machine
	Body         SeqID
	Sequences    []Sequence
	StackSpace   uint32
	IsEntrypoint bool
}

// NewSequence appends an empty sequence and returns its id.
func (f *Function) NewSequence() SeqID {
	f.Sequences = append(f.Sequences, Sequence{})
	return SeqID(len(f.Sequences) - 1)
}

// Append appends insn to seq and returns a ValRef naming its position in
// seq; that ValRef refers to a usable output only if insn.HasValue is true.
func (f *Function) Append(seq SeqID, insn Insn) ValRef {
	s := &f.Sequences[seq]
	idx := len(s.Insns)
	s.Insns = append(s.Insns, insn)
	return ValRef{Seq: seq, Index: idx}
}

func (f *Function) At(ref ValRef) Insn { return f.Sequences[ref.Seq].Insns[ref.Index] }

// Import declares one host function the module imports.
type Import struct {
	Name    string
	Params  []mtype.Machine
	Results []mtype.Machine
}

// Program owns user functions, imported-function declarations, and the
// pool of string-literal constants referenced by Const instructions of
// type Ptr.
type Program struct {
	Imports   []Import
	Functions []*Function
	Strings   []string
}

func (p *Program) AddFunction(f *Function) int {
	p.Functions = append(p.Functions, f)
	return len(p.Functions) - 1
}

// InternString returns the index of s in the program's string pool,
// appending it if not already present.
func (p *Program) InternString(s string) uint32 {
	for i, existing := range p.Strings {
		if existing == s {
			return uint32(i)
		}
	}
	p.Strings = append(p.Strings, s)
	return uint32(len(p.Strings) - 1)
}
