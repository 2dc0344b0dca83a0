package codegen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/codegen"
	"github.com/fieldforge/turtlec/internal/lower"
	"github.com/fieldforge/turtlec/internal/mir"
	"github.com/fieldforge/turtlec/internal/stackify"
	"github.com/fieldforge/turtlec/internal/testutil"
	"github.com/fieldforge/turtlec/internal/translate"
	"github.com/fieldforge/turtlec/internal/wasmcheck"
)

// compile runs the whole pipeline — translate, cheats, peephole, lower,
// stackify, emit — the same sequence cmd/turtlec drives.
func compile(t *testing.T, a *ast.Ast) *codegen.Result {
	t.Helper()
	prog, err := translate.Translate(a)
	require.NoError(t, err)
	require.NoError(t, translate.ApplyCheats(prog, testutil.EmptyCheats()))
	for _, fn := range prog.Functions {
		require.NoError(t, prog.RunPeephole(fn, mir.DefaultRewriteBudget))
	}
	lirProg, err := lower.Lower(prog)
	require.NoError(t, err)
	plan, err := stackify.Stackify(lirProg)
	require.NoError(t, err)
	result, err := codegen.Emit(lirProg, plan, codegen.Options{})
	require.NoError(t, err)
	return result
}

// TestPipeline_ClearAll compiles the smallest whole program: the emitted
// module imports clear_all, exports the procedure, places it in the
// indirect table, and passes a real Wasm validator.
func TestPipeline_ClearAll(t *testing.T) {
	result := compile(t, testutil.Program(
		testutil.ObserverProc("setup", testutil.Cmd("clear-all")),
	))

	require.NoError(t, wasmcheck.Validate(result.Bytes))
	assert.Contains(t, string(result.Bytes), "clear_all")
	assert.Contains(t, string(result.Bytes), "setup")
	assert.Contains(t, result.TableSlots, "setup", "entrypoints get an indirect-table slot")
}

// TestPipeline_ReportTwo is scenario 2 end to end.
func TestPipeline_ReportTwo(t *testing.T) {
	result := compile(t, testutil.Program(
		testutil.ReporterProc("two", testutil.Cmd("report", testutil.Num(2))),
	))
	require.NoError(t, wasmcheck.Validate(result.Bytes))
}

// TestPipeline_AskPatchesScaleColor is the scenario-3 program shape: the
// full ask/closure/agent-variable path through codegen must validate.
func TestPipeline_AskPatchesScaleColor(t *testing.T) {
	result := compile(t, testutil.ProgramWithVars(nil, nil, []string{"pcolor", "chemical"},
		testutil.ObserverProc("go",
			testutil.CmdBlock("ask", []ast.Node{testutil.Rep("patches")},
				testutil.Set("pcolor",
					testutil.Rep("scale-color", testutil.Num(55), testutil.Rep("chemical"), testutil.Num(0.1), testutil.Num(5))),
			),
		),
	))

	require.NoError(t, wasmcheck.Validate(result.Bytes))
	// The lifted closure body is address-taken by the Closure node and so
	// must also hold a table slot for the host's callback convention.
	assert.Len(t, result.TableSlots, 2, "entrypoint plus the lifted ask body")
}

// TestPipeline_RepeatForward is the scenario-5 program shape (`repeat 3
// [ fd 1 ]`), exercising the Loop double-nesting and the stack-slot
// counter through validation.
func TestPipeline_RepeatForward(t *testing.T) {
	result := compile(t, testutil.Program(
		testutil.TurtleProc("walk",
			testutil.CmdBlock("repeat", []ast.Node{testutil.Num(3)}, testutil.Cmd("fd", testutil.Num(1))),
		),
	))
	require.NoError(t, wasmcheck.Validate(result.Bytes))
}

// TestPipeline_DiffuseAndTicks covers the scenario-4 call shape plus the
// tick builtins in one observer procedure.
func TestPipeline_DiffuseAndTicks(t *testing.T) {
	result := compile(t, testutil.ProgramWithVars(nil, nil, []string{"chemical"},
		testutil.ObserverProc("step",
			ast.Node{Tag: ast.TagCommandApp, Command: "diffuse", Name: "chemical", Args: []ast.Node{testutil.Num(0.5)}},
			testutil.Cmd("tick"),
		),
	))
	require.NoError(t, wasmcheck.Validate(result.Bytes))
	assert.Contains(t, string(result.Bytes), "diffuse_8_single_variable_buffer")
}

// TestPipeline_UserCallWithArgument exercises call-site parameter
// inference through to a validated module: caller passes a number, callee
// consumes it as a repeat count.
func TestPipeline_UserCallWithArgument(t *testing.T) {
	result := compile(t, testutil.Program(
		testutil.WithArgs(testutil.TurtleProc("steps",
			testutil.CmdBlock("repeat", []ast.Node{testutil.ArgRef("n")}, testutil.Cmd("fd", testutil.Num(1))),
		), "n"),
		testutil.TurtleProc("dance", testutil.Cmd("steps", testutil.Num(4))),
	))
	require.NoError(t, wasmcheck.Validate(result.Bytes))
}
