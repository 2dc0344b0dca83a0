package lower

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lir"
	"github.com/fieldforge/turtlec/internal/mir"
	"github.com/fieldforge/turtlec/internal/mtype"
	"github.com/fieldforge/turtlec/internal/testutil"
	"github.com/fieldforge/turtlec/internal/translate"
)

func lowerSource(t *testing.T, a *ast.Ast) *lir.Program {
	t.Helper()
	prog, err := translate.Translate(a)
	require.NoError(t, err)
	require.NoError(t, translate.ApplyCheats(prog, testutil.EmptyCheats()))
	out, err := Lower(prog)
	require.NoError(t, err)
	return out
}

// importedCalls collects the names of every CallImported across fn, in
// emission order.
func importedCalls(fn *lir.Function) []string {
	var names []string
	for _, seq := range fn.Sequences {
		for _, insn := range seq.Insns {
			if insn.Op == lir.OpCallImported {
				names = append(names, insn.Aux.(lir.CallAux).Name)
			}
		}
	}
	return names
}

func TestLower_ImportTableIsFixedOrder(t *testing.T) {
	out := lowerSource(t, testutil.Program(testutil.ObserverProc("noop")))
	require.Len(t, out.Imports, len(hostImportNames))
	for i, name := range hostImportNames {
		assert.Equal(t, name, out.Imports[i].Name)
	}
}

// TestLower_ClearAllCallsHostImport checks the smallest whole procedure at
// the LIR level: `to setup clear-all end` emits a function calling host
// clear_all with the context pointer.
func TestLower_ClearAllCallsHostImport(t *testing.T) {
	out := lowerSource(t, testutil.Program(
		testutil.ObserverProc("setup", testutil.Cmd("clear-all")),
	))
	require.Len(t, out.Functions, 1)

	fn := out.Functions[0]
	assert.True(t, fn.IsEntrypoint)
	require.Equal(t, []mtype.Machine{mtype.Ptr}, fn.Params, "the context parameter crosses as a pointer")
	assert.Empty(t, fn.Results)

	calls := importedCalls(fn)
	require.Contains(t, calls, "clear_all")

	// The call's single operand is a stack reload of the context param.
	for _, seq := range fn.Sequences {
		for _, insn := range seq.Insns {
			if insn.Op == lir.OpCallImported && insn.Aux.(lir.CallAux).Name == "clear_all" {
				require.Len(t, insn.Args, 1)
				arg := fn.Sequences[insn.Args[0].Seq].Insns[insn.Args[0].Index]
				assert.Equal(t, lir.OpStackLoad, arg.Op)
				assert.Equal(t, mtype.Ptr, arg.ValType)
			}
		}
	}
}

// TestLower_ReportTwo: `to-report two report 2 end`
// yields a function returning the F64 constant 2.0, delivered by a Break to
// the function body's label.
func TestLower_ReportTwo(t *testing.T) {
	out := lowerSource(t, testutil.Program(
		testutil.ReporterProc("two", testutil.Cmd("report", testutil.Num(2))),
	))
	fn := out.Functions[0]
	require.Equal(t, []mtype.Machine{mtype.F64}, fn.Results)

	body := fn.Sequences[fn.Body]
	require.NotEmpty(t, body.Insns)
	last := body.Insns[len(body.Insns)-1]
	require.Equal(t, lir.OpBreak, last.Op)
	assert.Equal(t, fn.Body, last.Aux.(lir.BreakAux).Target)
	require.Len(t, last.Args, 1)

	carried := fn.Sequences[last.Args[0].Seq].Insns[last.Args[0].Index]
	require.Equal(t, lir.OpConst, carried.Op)
	aux := carried.Aux.(lir.ConstAux)
	assert.Equal(t, mtype.F64, aux.Type)
	assert.Equal(t, math.Float64bits(2.0), aux.Bits)
}

// TestLower_RepeatForward:
// `repeat 3 [ fd 1 ]` lowers to a counted Loop whose body checks and
// decrements a stack-slot counter and calls host turtle_forward.
func TestLower_RepeatForward(t *testing.T) {
	out := lowerSource(t, testutil.Program(
		testutil.TurtleProc("walk",
			testutil.CmdBlock("repeat", []ast.Node{testutil.Num(3)}, testutil.Cmd("fd", testutil.Num(1))),
		),
	))
	fn := out.Functions[0]

	var loop *lir.Insn
	for _, insn := range fn.Sequences[fn.Body].Insns {
		if insn.Op == lir.OpLoop {
			loop = &insn
			break
		}
	}
	require.NotNil(t, loop, "repeat must lower to a Loop")

	bodySeq := fn.Sequences[loop.Aux.(lir.LoopAux).Body]
	var sawExit, sawForward bool
	for _, insn := range bodySeq.Insns {
		switch insn.Op {
		case lir.OpConditionalBreak:
			sawExit = true
		case lir.OpCallImported:
			if insn.Aux.(lir.CallAux).Name == "turtle_forward" {
				sawForward = true
			}
		}
	}
	assert.True(t, sawExit, "the loop body must test the counter and break out")
	assert.True(t, sawForward)
	assert.Greater(t, fn.StackSpace, uint32(0), "the loop counter lives in stack memory")
}

func TestLower_ListLiteralBuildsHostList(t *testing.T) {
	out := lowerSource(t, testutil.Program(
		testutil.ObserverProc("mk", testutil.Let("xs", testutil.List(testutil.Num(1), testutil.Num(2)))),
	))
	fn := out.Functions[0]

	calls := importedCalls(fn)
	assert.Equal(t, 1, count(calls, "list_new"))
	assert.Equal(t, 2, count(calls, "list_push"), "one push per element, in source order")
}

func count(ss []string, want string) int {
	n := 0
	for _, s := range ss {
		if s == want {
			n++
		}
	}
	return n
}

// TestLower_NodeWithoutEmitterFails covers the missing-emitter error kind
// directly with a hand-built MIR node the
// translator never produces.
func TestLower_NodeWithoutEmitterFails(t *testing.T) {
	prog := mir.NewProgram()
	ptr := prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstNumber, Num: 0}})
	load := prog.AddNode(mir.Node{Kind: mir.KindMemLoad, Args: []mir.NodeID{ptr}})
	root := prog.AddNode(mir.Node{Kind: mir.KindBlock, Args: []mir.NodeID{load}})
	prog.AddFunction(&mir.Function{Name: "raw", Root: root})

	_, err := Lower(prog)
	require.Error(t, err)
	var ce *errs.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.MissingLIREmitter, ce.Kind)
}
