package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/lir"
	"github.com/fieldforge/turtlec/internal/mtype"
	"github.com/fieldforge/turtlec/internal/stackify"
	"github.com/fieldforge/turtlec/internal/wasmcheck"
)

// buildAddOne constructs a tiny one-function LIR program: func add_one(x
// i32) -> i32 { return x + 1 }, exercising FunctionArgs, Const, BinaryOp
// and the function-body-as-outer-block Break convention in one shot.
func buildAddOne() *lir.Program {
	fn := &lir.Function{Name: "add_one", Params: []mtype.Machine{mtype.I32}, Results: []mtype.Machine{mtype.I32}}
	body := fn.NewSequence()
	fn.Body = body

	x := fn.Append(body, lir.Insn{Op: lir.OpFunctionArgs, Aux: lir.ParamAux{Index: 0}, HasValue: true, ValType: mtype.I32})
	one := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: 1}, HasValue: true, ValType: mtype.I32})
	sum := fn.Append(body, lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{x, one}, Aux: lir.Add, HasValue: true, ValType: mtype.I32})
	fn.Append(body, lir.Insn{Op: lir.OpBreak, Args: []lir.ValRef{sum}, Aux: lir.BreakAux{Target: body}})

	prog := &lir.Program{}
	prog.AddFunction(fn)
	return prog
}

// buildStackRoundTrip constructs func store_and_load() -> i64: stores a
// constant to a stack slot then immediately reads it back, exercising the
// frame-pointer-local prologue/epilogue and the StackStore/StackLoad
// frame-base-prefix ordering fix.
func buildStackRoundTrip() *lir.Program {
	fn := &lir.Function{Name: "store_and_load", Results: []mtype.Machine{mtype.I64}, StackSpace: 8}
	body := fn.NewSequence()
	fn.Body = body

	c := fn.Append(body, lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I64, Bits: 42}, HasValue: true, ValType: mtype.I64})
	fn.Append(body, lir.Insn{Op: lir.OpStackStore, Args: []lir.ValRef{c}, Aux: lir.StackAux{Type: mtype.I64, Offset: 0}})
	loaded := fn.Append(body, lir.Insn{Op: lir.OpStackLoad, Aux: lir.StackAux{Type: mtype.I64, Offset: 0}, HasValue: true, ValType: mtype.I64})
	fn.Append(body, lir.Insn{Op: lir.OpBreak, Args: []lir.ValRef{loaded}, Aux: lir.BreakAux{Target: body}})

	prog := &lir.Program{}
	prog.AddFunction(fn)
	return prog
}

func TestEmit_AddOne_HasWasmHeaderAndExport(t *testing.T) {
	prog := buildAddOne()
	plan, err := stackify.Stackify(prog)
	require.NoError(t, err)

	result, err := Emit(prog, plan, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Bytes)

	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6D}, result.Bytes[0:4])
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, result.Bytes[4:8])

	// The export section name "add_one" must appear verbatim in the body.
	assert.Contains(t, string(result.Bytes), "add_one")
}

func TestEmit_StackRoundTrip_NoTableSlot(t *testing.T) {
	prog := buildStackRoundTrip()
	plan, err := stackify.Stackify(prog)
	require.NoError(t, err)

	result, err := Emit(prog, plan, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.TableSlots, "a non-entrypoint function whose address is never taken gets no table slot")
}

func TestEmit_EntrypointGetsTableSlot(t *testing.T) {
	prog := buildAddOne()
	prog.Functions[0].IsEntrypoint = true
	plan, err := stackify.Stackify(prog)
	require.NoError(t, err)

	result, err := Emit(prog, plan, Options{Table: NewSequentialTableAllocator(5)})
	require.NoError(t, err)
	require.Contains(t, result.TableSlots, "add_one")
	assert.Equal(t, uint32(5), result.TableSlots["add_one"])
}

// TestEmit_AddOne_PassesWasmValidator exercises the round-trip property
// directly: the module codegen emits must be accepted by a real
// Wasm validator, not just carry a plausible-looking header.
func TestEmit_AddOne_PassesWasmValidator(t *testing.T) {
	prog := buildAddOne()
	plan, err := stackify.Stackify(prog)
	require.NoError(t, err)

	result, err := Emit(prog, plan, Options{})
	require.NoError(t, err)

	assert.NoError(t, wasmcheck.Validate(result.Bytes))
}

func TestSequentialTableAllocator_HandsOutConsecutiveSlots(t *testing.T) {
	a := NewSequentialTableAllocator(3)
	assert.Equal(t, uint32(3), a.Allocate("f"))
	assert.Equal(t, uint32(4), a.Allocate("g"))
	assert.Equal(t, uint32(5), a.Allocate("h"))
}
