package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/config"
	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/mir"
)

// numberConst/boolConst build a bare Constant node of the given kind,
// mirroring what internal/translate itself emits for numeric/boolean
// literals.
func numberConst(prog *mir.Program, n float64) mir.NodeID {
	return prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstNumber, Num: n}})
}

func boolConst(prog *mir.Program, b bool) mir.NodeID {
	return prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstBoolean, Bool: b}})
}

// TestInferTypes_SingleObservedTypeUsedVerbatim covers the "if a single
// type is observed, use it verbatim" inference rule.
func TestInferTypes_SingleObservedTypeUsedVerbatim(t *testing.T) {
	prog := mir.NewProgram()
	l := prog.AddLocal(mir.Local{Name: "x", Ty: lattice.T(lattice.Top)})

	c := numberConst(prog, 3)
	set := prog.AddNode(mir.Node{Kind: mir.KindSetLocalVar, Args: []mir.NodeID{c}, Aux: mir.LocalAux{Local: l}})
	root := prog.AddNode(mir.Node{Kind: mir.KindBlock, Args: []mir.NodeID{set}})

	fn := &mir.Function{Name: "single", Root: root, Locals: []mir.LocalID{l}, ReturnType: lattice.T(lattice.Top)}
	prog.AddFunction(fn)

	require.NoError(t, ApplyCheats(prog, &config.Cheats{}))

	assert.True(t, prog.Local(l).Ty.Equal(lattice.T(lattice.Numeric)))
}

// TestInferTypes_MultipleInconsistentTypesJoin covers the "for multiple
// types use the lattice join" half of the same rule: a local assigned both
// a Numeric and a Boolean value has no common ancestor below Top, so its
// inferred type must be Top.
func TestInferTypes_MultipleInconsistentTypesJoin(t *testing.T) {
	prog := mir.NewProgram()
	l := prog.AddLocal(mir.Local{Name: "x", Ty: lattice.T(lattice.Top)})

	c1 := numberConst(prog, 1)
	set1 := prog.AddNode(mir.Node{Kind: mir.KindSetLocalVar, Args: []mir.NodeID{c1}, Aux: mir.LocalAux{Local: l}})
	c2 := boolConst(prog, true)
	set2 := prog.AddNode(mir.Node{Kind: mir.KindSetLocalVar, Args: []mir.NodeID{c2}, Aux: mir.LocalAux{Local: l}})
	root := prog.AddNode(mir.Node{Kind: mir.KindBlock, Args: []mir.NodeID{set1, set2}})

	fn := &mir.Function{Name: "joined", Root: root, Locals: []mir.LocalID{l}, ReturnType: lattice.T(lattice.Top)}
	prog.AddFunction(fn)

	require.NoError(t, ApplyCheats(prog, &config.Cheats{}))

	assert.True(t, prog.Local(l).Ty.Equal(lattice.T(lattice.Top)),
		"Numeric and Boolean share no lattice ancestor below Top")
}

// TestInferTypes_ReturnTypeJoinsReportedValues covers the return-type half
// of inference: return type is the lub of every Return node's value type.
func TestInferTypes_ReturnTypeJoinsReportedValues(t *testing.T) {
	prog := mir.NewProgram()

	c1 := numberConst(prog, 1)
	ret1 := prog.AddNode(mir.Node{Kind: mir.KindReturn, Args: []mir.NodeID{c1}})
	c2 := numberConst(prog, 2)
	ret2 := prog.AddNode(mir.Node{Kind: mir.KindReturn, Args: []mir.NodeID{c2}})
	root := prog.AddNode(mir.Node{Kind: mir.KindBlock, Args: []mir.NodeID{ret1, ret2}})

	fn := &mir.Function{Name: "reports", Root: root, ReturnType: lattice.T(lattice.Top)}
	prog.AddFunction(fn)

	require.NoError(t, ApplyCheats(prog, &config.Cheats{}))

	assert.True(t, prog.Func(fn.ID).ReturnType.Equal(lattice.T(lattice.Numeric)))
}

// TestInferTypes_NoReturnsYieldsUnit covers the "unit-or-empty yields Unit"
// clause for a procedure with no `report` statement at all.
func TestInferTypes_NoReturnsYieldsUnit(t *testing.T) {
	prog := mir.NewProgram()
	root := prog.AddNode(mir.Node{Kind: mir.KindBlock})
	fn := &mir.Function{Name: "void", Root: root, ReturnType: lattice.T(lattice.Top)}
	prog.AddFunction(fn)

	require.NoError(t, ApplyCheats(prog, &config.Cheats{}))

	assert.True(t, prog.Func(fn.ID).ReturnType.Equal(lattice.T(lattice.Unit)))
}

// TestInferTypes_DeclaredLocalTypeIsNotOverridden ensures a cheats-declared
// (non-Top) local type is left alone even when the body assigns a
// different-looking value — step 4d only infers for locals still at Top.
func TestInferTypes_DeclaredLocalTypeIsNotOverridden(t *testing.T) {
	prog := mir.NewProgram()
	l := prog.AddLocal(mir.Local{Name: "x", Ty: lattice.T(lattice.Color)})

	c := boolConst(prog, false)
	set := prog.AddNode(mir.Node{Kind: mir.KindSetLocalVar, Args: []mir.NodeID{c}, Aux: mir.LocalAux{Local: l}})
	root := prog.AddNode(mir.Node{Kind: mir.KindBlock, Args: []mir.NodeID{set}})

	fn := &mir.Function{Name: "declared", Root: root, Locals: []mir.LocalID{l}, ReturnType: lattice.T(lattice.Unit)}
	prog.AddFunction(fn)

	require.NoError(t, ApplyCheats(prog, &config.Cheats{}))

	assert.True(t, prog.Local(l).Ty.Equal(lattice.T(lattice.Color)))
}
