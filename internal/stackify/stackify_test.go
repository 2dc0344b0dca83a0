package stackify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/lir"
	"github.com/fieldforge/turtlec/internal/mtype"
)

// replay is the stackifier-correctness oracle: it drives a model
// operand stack through one sequence's StackOp list and, at every OpExecute,
// asserts the declared instruction's Args sit on top of the model stack, in
// order, before checking them off. This is independent of how stackify
// itself tracks stack entries — it only trusts the emitted op list.
func replay(t *testing.T, fn *lir.Function, seqID lir.SeqID, sp *SequencePlan) []lir.ValRef {
	t.Helper()
	seq := fn.Sequences[seqID]
	var model []lir.ValRef // entries are ValRef{Seq: seqID, Index: producing insn}
	locals := map[int]lir.ValRef{}

	for _, op := range sp.Ops {
		switch op.Kind {
		case OpCapture:
			require.NotEmpty(t, model, "capture on an empty model stack")
			top := model[len(model)-1]
			model = model[:len(model)-1]
			locals[op.Local] = top
		case OpDrop:
			require.NotEmpty(t, model, "drop on an empty model stack")
			model = model[:len(model)-1]
		case OpGetter:
			v, ok := locals[op.Local]
			require.True(t, ok, "getter reads local %d before any capture", op.Local)
			model = append(model, v)
		case OpExecute:
			insn := seq.Insns[op.InsnIndex]
			k := len(insn.Args)
			require.GreaterOrEqual(t, len(model), k,
				"instruction %d (%s) needs %d operands, stack has %d", op.InsnIndex, insn.Op, k, len(model))
			top := model[len(model)-k:]
			for i, want := range insn.Args {
				got := top[i]
				assert.Equal(t, want, lir.ValRef{Seq: seqID, Index: got.Index},
					"instruction %d (%s) arg %d: want producer %d, stack has producer %d at that slot",
					op.InsnIndex, insn.Op, i, want.Index, got.Index)
			}
			model = model[:len(model)-k]
			if insn.HasValue {
				model = append(model, lir.ValRef{Seq: seqID, Index: op.InsnIndex})
			}
		}
	}
	return model
}

func buildProgram(t *testing.T, build func(fn *lir.Function)) (*lir.Function, *FunctionPlan) {
	t.Helper()
	fn := &lir.Function{Name: "f"}
	build(fn)
	prog := &lir.Program{}
	prog.AddFunction(fn)
	plan, err := Stackify(prog)
	require.NoError(t, err)
	return fn, plan.Functions[0]
}

// TestReplay_SequenceOfConstants: several independent constants chained
// through binary ops in strict left-to-right order — the pure "no reorder
// needed" case (each operand is released the instant it's produced).
func TestReplay_SequenceOfConstants(t *testing.T) {
	fn, fp := buildProgram(t, func(fn *lir.Function) {
		body := fn.NewSequence()
		fn.Body = body
		fn.Results = []mtype.Machine{mtype.I32}

		a := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 1}, HasValue: true, ValType: mtype.I32})
		b := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 2}, HasValue: true, ValType: mtype.I32})
		sum := fn.Append(body, lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{a, b}, Aux: lir.Add, HasValue: true, ValType: mtype.I32})
		c := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 3}, HasValue: true, ValType: mtype.I32})
		fn.Append(body, lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{sum, c}, Aux: lir.Mul, HasValue: true, ValType: mtype.I32})
	})

	sp := fp.Sequences[fn.Body]
	left := replay(t, fn, fn.Body, sp)
	require.Len(t, left, 1, "a value-producing sequence must leave exactly its declared output on the operand stack")
	assert.Equal(t, 4, left[0].Index, "the declared output must be the last instruction's result")
}

// TestReplay_RepeatedArgumentUse: one value read twice by the same
// instruction (x + x) — forces an eager spill since the natural top-of-stack
// match can only satisfy one of the two operand slots.
func TestReplay_RepeatedArgumentUse(t *testing.T) {
	fn, fp := buildProgram(t, func(fn *lir.Function) {
		body := fn.NewSequence()
		fn.Body = body
		fn.Params = []mtype.Machine{mtype.I32}
		fn.Results = []mtype.Machine{mtype.I32}

		x := fn.Append(body, lir.Insn{Op: lir.OpFunctionArgs, Aux: lir.ParamAux{Index: 0}, HasValue: true, ValType: mtype.I32})
		fn.Append(body, lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{x, x}, Aux: lir.Add, HasValue: true, ValType: mtype.I32})
	})

	sp := fp.Sequences[fn.Body]
	replay(t, fn, fn.Body, sp)
	assert.NotEmpty(t, fp.Locals, "repeated use must allocate a spill local for x")
}

// TestReplay_CallWithArgsOutOfEvaluationOrder: a call whose operands were
// produced in an order different from the order the call consumes them in
// (b then a, called as (a, b)) — forces getters rather than a natural match.
func TestReplay_CallWithArgsOutOfEvaluationOrder(t *testing.T) {
	fn, fp := buildProgram(t, func(fn *lir.Function) {
		body := fn.NewSequence()
		fn.Body = body
		fn.Results = []mtype.Machine{mtype.I32}

		b := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 2}, HasValue: true, ValType: mtype.I32})
		a := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 1}, HasValue: true, ValType: mtype.I32})
		r := mtype.I32
		fn.Append(body, lir.Insn{
			Op: lir.OpCallImported, Args: []lir.ValRef{a, b},
			Aux:      lir.CallAux{Name: "host_fn", Params: []mtype.Machine{mtype.I32, mtype.I32}, Result: &r},
			HasValue: true, ValType: mtype.I32,
		})
	})

	sp := fp.Sequences[fn.Body]
	replay(t, fn, fn.Body, sp)
}

// TestReplay_NestedIfElseBothBranchesProduceValues: an if/else whose then
// and else sequences each fall through to a produced value, which the
// enclosing sequence's IfElse instruction then consumes — the common
// short-circuiting if/else shape.
func TestReplay_NestedIfElseBothBranchesProduceValues(t *testing.T) {
	fn, fp := buildProgram(t, func(fn *lir.Function) {
		body := fn.NewSequence()
		fn.Body = body
		fn.Results = []mtype.Machine{mtype.I32}

		thenSeq := fn.NewSequence()
		fn.Append(thenSeq, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 1}, HasValue: true, ValType: mtype.I32})

		elseSeq := fn.NewSequence()
		fn.Append(elseSeq, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 0}, HasValue: true, ValType: mtype.I32})

		cond := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 1}, HasValue: true, ValType: mtype.I32})
		fn.Append(body, lir.Insn{
			Op: lir.OpIfElse, Args: []lir.ValRef{cond},
			Aux:      lir.IfElseAux{Then: thenSeq, Else: elseSeq, OutTypes: []mtype.Machine{mtype.I32}},
			HasValue: true, ValType: mtype.I32,
		})
	})

	for _, seqID := range []lir.SeqID{fn.Body, lir.SeqID(1), lir.SeqID(2)} {
		sp := fp.Sequences[seqID]
		require.NotNil(t, sp, "sequence %d must be stackified", seqID)
		replay(t, fn, seqID, sp)
	}
}

// TestReplay_NestedBlocksWithBreakToOuter: a block nested two levels deep
// that breaks straight past its immediate parent to the function body, in
// a void function (no fallthrough value expected at any level).
func TestReplay_NestedBlocksWithBreakToOuter(t *testing.T) {
	fn, fp := buildProgram(t, func(fn *lir.Function) {
		body := fn.NewSequence()
		fn.Body = body

		inner := fn.NewSequence()
		fn.Append(inner, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 7}, HasValue: true, ValType: mtype.I32})
		fn.Append(inner, lir.Insn{Op: lir.OpBreak, Aux: lir.BreakAux{Target: body}})

		outer := fn.NewSequence()
		fn.Append(outer, lir.Insn{Op: lir.OpBlock, Aux: lir.BlockAux{Body: inner, OutTypes: nil}, HasValue: false})

		fn.Append(body, lir.Insn{Op: lir.OpBlock, Aux: lir.BlockAux{Body: outer, OutTypes: nil}, HasValue: false})
	})

	for _, seqID := range []lir.SeqID{fn.Body, lir.SeqID(1), lir.SeqID(2)} {
		sp := fp.Sequences[seqID]
		require.NotNil(t, sp)
		replay(t, fn, seqID, sp)
	}
}

// TestReplay_MultivalueProducerConsumedAsPrefixAndSuffix: FunctionArgs is
// the one multi-value-shaped producer (one instruction per slot, per
// internal/lir's arity resolution) consumed both as the first and the
// second operand of two different downstream instructions, in reversed
// order — exercising prefix/suffix/interleaved consumption of a producer
// group.
func TestReplay_MultivalueProducerConsumedAsPrefixAndSuffix(t *testing.T) {
	fn, fp := buildProgram(t, func(fn *lir.Function) {
		body := fn.NewSequence()
		fn.Body = body
		fn.Params = []mtype.Machine{mtype.I32, mtype.I32}
		fn.Results = []mtype.Machine{mtype.I32}

		x := fn.Append(body, lir.Insn{Op: lir.OpFunctionArgs, Aux: lir.ParamAux{Index: 0}, HasValue: true, ValType: mtype.I32})
		y := fn.Append(body, lir.Insn{Op: lir.OpFunctionArgs, Aux: lir.ParamAux{Index: 1}, HasValue: true, ValType: mtype.I32})
		// Consume y before x: forces a getter/reorder since the natural
		// stack order after producing x,y is [x,y], but this op wants y
		// first (suffix), then a later op wants x (now buried).
		fn.Append(body, lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{y, y}, Aux: lir.Add, HasValue: true, ValType: mtype.I32})
		fn.Append(body, lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{x, x}, Aux: lir.Mul, HasValue: true, ValType: mtype.I32})
	})

	sp := fp.Sequences[fn.Body]
	replay(t, fn, fn.Body, sp)
}
