// Package stackify implements the LIR-to-stack-machine pass: for every
// sequence of every LIR function, it converts the sequence's value-graph
// (instructions referencing earlier instructions' outputs by ValRef, in
// whatever order the producer happened to run) into a
// flat, ordered list of real stack-machine operations — captures into a
// local, getters reading a local back, and the instruction executions
// themselves — so that every instruction's operands are on top of the
// operand stack, in order, exactly when it runs.
//
// This is a deliberately conservative realization. A fully general
// stackifier would track an "order barrier" so that operands already
// sitting below unrelated values on the stack can still be released without
// disturbing them, and would let a block's leading getters be "factored
// out" into its enclosing sequence's input list. Two simplifications are
// made here instead:
//
//  1. A sequence's input list is always empty. internal/lower never asks a
//     nested sequence to receive a value from its enclosing stack — every
//     value that must survive a structured-control-flow boundary already
//     goes through an explicit stack-memory slot (lir.OpStackStore /
//     OpStackLoad), not the abstract operand stack. So block/if/loop
//     sequences stackify independently of one another; there is no
//     cross-sequence getter-factoring to perform.
//  2. Within one sequence, a mismatch between the operand stack's current
//     top and an instruction's needed operands drains the *entire*
//     remaining stack into locals rather than hunting for a partial,
//     order-preserving release. Values with exactly one remaining use that
//     sit immediately below the next instruction that needs them still flow
//     through the operand stack with zero manipulators (the common case);
//     only the overflow and reordering cases pay for a local.
package stackify

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lir"
	"github.com/fieldforge/turtlec/internal/mtype"
)

// OpKind is the closed set of stack-machine-level operations a stackified
// sequence is made of.
type OpKind int

const (
	// OpExecute runs the original LIR instruction at InsnIndex: its Args
	// must already be the top len(Args) entries of the operand stack, in
	// order: if it HasValue, one value is pushed after it runs.
	OpExecute OpKind = iota
	// OpCapture pops the top of the operand stack into Local, where a
	// later OpGetter can read it back.
	OpCapture
	// OpDrop pops and discards the top of the operand stack: the value
	// underneath it is never read again.
	OpDrop
	// OpGetter pushes a copy of whatever is currently held in Local onto
	// the operand stack, without disturbing Local.
	OpGetter
)

func (k OpKind) String() string {
	switch k {
	case OpExecute:
		return "execute"
	case OpCapture:
		return "capture"
	case OpDrop:
		return "drop"
	case OpGetter:
		return "getter"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// StackOp is one element of a stackified sequence's replayable op list.
type StackOp struct {
	Kind      OpKind
	InsnIndex int // valid for OpExecute: index into the sequence's Insns
	Local     int // valid for OpCapture/OpGetter: index into the owning function's Locals
}

// SequencePlan is one sequence's stackification result.
type SequencePlan struct {
	Ops []StackOp
}

// FunctionPlan collects every sequence's plan for one LIR function, plus
// the pool of extra locals (beyond its declared parameters) that captures
// allocated. Local slot numbers in every SequencePlan's Ops index this
// slice; codegen appends it after the function's own parameter locals.
type FunctionPlan struct {
	Sequences map[lir.SeqID]*SequencePlan
	Locals    []mtype.Machine
}

// Plan is the stackification of an entire LIR program, one FunctionPlan per
// lir.Program.Functions entry (same index).
type Plan struct {
	Functions []*FunctionPlan
}

// Stackify plans every sequence of every function of prog.
func Stackify(prog *lir.Program) (*Plan, error) {
	plan := &Plan{Functions: make([]*FunctionPlan, len(prog.Functions))}
	for i, lf := range prog.Functions {
		fp, err := stackifyFunction(lf)
		if err != nil {
			return nil, fmt.Errorf("stackify: function %q: %w", lf.Name, err)
		}
		plan.Functions[i] = fp
	}
	return plan, nil
}

func stackifyFunction(lf *lir.Function) (*FunctionPlan, error) {
	fp := &FunctionPlan{Sequences: map[lir.SeqID]*SequencePlan{}}
	valueSeqs := classifyValueSequences(lf)

	for i := range lf.Sequences {
		seqID := lir.SeqID(i)
		sp, err := stackifySequence(lf, seqID, valueSeqs[seqID], fp)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seqID, err)
		}
		fp.Sequences[seqID] = sp
	}
	return fp, nil
}

// classifyValueSequences determines, for every sequence reachable from lf,
// whether it is expected to leave exactly one value on the operand stack
// at its end — the function body behaves as the outermost implicit block,
// producing a value iff the function itself returns one; every other
// sequence's value-ness is declared by the BlockAux/IfElseAux/LoopAux of
// whichever instruction owns it.
func classifyValueSequences(lf *lir.Function) map[lir.SeqID]bool {
	out := map[lir.SeqID]bool{lf.Body: len(lf.Results) == 1}
	for _, seq := range lf.Sequences {
		for _, insn := range seq.Insns {
			switch insn.Op {
			case lir.OpBlock:
				aux := insn.Aux.(lir.BlockAux)
				out[aux.Body] = len(aux.OutTypes) == 1
			case lir.OpIfElse:
				aux := insn.Aux.(lir.IfElseAux)
				out[aux.Then] = len(aux.OutTypes) == 1
				out[aux.Else] = len(aux.OutTypes) == 1
			case lir.OpLoop:
				aux := insn.Aux.(lir.LoopAux)
				out[aux.Body] = len(aux.OutTypes) == 1
			}
		}
	}
	return out
}

// stackEntry names the instruction, within the sequence being stackified,
// that produced the value currently sitting on the model operand stack.
type stackEntry struct{ insnIdx int }

func stackifySequence(lf *lir.Function, seqID lir.SeqID, isValueSeq bool, fp *FunctionPlan) (*SequencePlan, error) {
	seq := lf.Sequences[seqID]
	useCount := countUses(seq)
	remaining := append([]int(nil), useCount...)
	assigned := map[int]int{} // insn idx -> allocated local, once captured

	var vstack []stackEntry
	var ops []StackOp

	allocLocal := func(m mtype.Machine) int {
		fp.Locals = append(fp.Locals, m)
		return len(fp.Locals) - 1
	}

	// captureTop pops the model stack's top entry and either drops it (no
	// remaining reader) or spills it to a freshly-or-previously-assigned
	// local.
	captureTop := func() {
		e := vstack[len(vstack)-1]
		vstack = vstack[:len(vstack)-1]
		if remaining[e.insnIdx] <= 0 {
			ops = append(ops, StackOp{Kind: OpDrop})
			return
		}
		local, ok := assigned[e.insnIdx]
		if !ok {
			local = allocLocal(seq.Insns[e.insnIdx].ValType)
			assigned[e.insnIdx] = local
		}
		ops = append(ops, StackOp{Kind: OpCapture, Local: local})
	}

	drainAll := func() {
		for len(vstack) > 0 {
			captureTop()
		}
	}

	for i, insn := range seq.Insns {
		args := insn.Args
		k := len(args)

		natural := k == 0 || len(vstack) >= k
		// A StackStore's machine-level operand order is [frame address,
		// value], and codegen pushes the frame-pointer local itself, after
		// this pass's captures but before its getters. A value left riding
		// the operand stack would already sit beneath that address push, in
		// the wrong order, so the value must always take the capture/getter
		// path.
		if insn.Op == lir.OpStackStore {
			natural = false
		}
		if natural {
			for j := 0; j < k; j++ {
				if vstack[len(vstack)-k+j].insnIdx != args[j].Index {
					natural = false
					break
				}
			}
		}

		if natural {
			vstack = vstack[:len(vstack)-k]
			for _, a := range args {
				remaining[a.Index]--
			}
		} else {
			drainAll()
			for _, a := range args {
				local, ok := assigned[a.Index]
				if !ok {
					// Defensive: a value referenced here should already
					// have a local from an earlier drain or eager spill.
					local = allocLocal(seq.Insns[a.Index].ValType)
					assigned[a.Index] = local
				}
				ops = append(ops, StackOp{Kind: OpGetter, Local: local})
				remaining[a.Index]--
			}
		}

		ops = append(ops, StackOp{Kind: OpExecute, InsnIndex: i})

		if insn.HasValue {
			if useCount[i] > 1 {
				// More than one future reader: spill immediately so every
				// reader gets there via a getter: never attempt to keep a
				// multi-use value sitting on the transient operand stack.
				local := allocLocal(insn.ValType)
				assigned[i] = local
				ops = append(ops, StackOp{Kind: OpCapture, Local: local})
			} else {
				vstack = append(vstack, stackEntry{insnIdx: i})
			}
		}
	}

	if isValueSeq {
		if len(vstack) == 0 {
			// A trailing unconditional Break delivers the sequence's value
			// on the branch itself (wasm: `br` to a value-typed label
			// carries the value; everything after is unreachable). Anything
			// else genuinely failed to produce the declared output.
			last := len(seq.Insns) - 1
			if last < 0 || seq.Insns[last].Op != lir.OpBreak {
				return nil, errs.New(errs.StackifyInvariant, "value-producing sequence ends with nothing on the operand stack")
			}
		} else {
			out := vstack[len(vstack)-1]
			vstack = vstack[:len(vstack)-1]
			if len(vstack) > 0 {
				// Unconsumed values sit beneath the declared output, so it
				// cannot simply be left in place: park it in a local, drain
				// the junk, then push it back as the sequence's sole result.
				local, ok := assigned[out.insnIdx]
				if !ok {
					local = allocLocal(seq.Insns[out.insnIdx].ValType)
					assigned[out.insnIdx] = local
				}
				ops = append(ops, StackOp{Kind: OpCapture, Local: local})
				drainAll()
				ops = append(ops, StackOp{Kind: OpGetter, Local: local})
			}
		}
	} else {
		drainAll()
	}

	return &SequencePlan{Ops: ops}, nil
}

// countUses returns, per instruction index in seq, how many later
// instructions in the same sequence reference its output as an Arg. A
// sequence's trailing, block-yielded value is deliberately never counted
// here — see stackifySequence's isValueSeq handling.
func countUses(seq lir.Sequence) []int {
	counts := make([]int, len(seq.Insns))
	for _, insn := range seq.Insns {
		for _, a := range insn.Args {
			counts[a.Index]++
		}
	}
	return counts
}
