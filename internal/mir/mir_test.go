package mir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/lattice"
)

func num(p *Program, v float64) NodeID {
	return p.AddNode(Node{Kind: KindConstant, Aux: ConstAux{Kind: ConstNumber, Num: v}})
}

func binOp(p *Program, op BinOp, lhs, rhs NodeID) NodeID {
	return p.AddNode(Node{Kind: KindBinaryOperation, Args: []NodeID{lhs, rhs}, Aux: BinAux{Op: op}})
}

func TestWalk_DependenciesPrecedeUsers(t *testing.T) {
	p := NewProgram()
	a := num(p, 1)
	b := num(p, 2)
	sum := binOp(p, Add, a, b)
	root := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{sum}})

	order := p.Walk(root)
	pos := map[NodeID]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		for _, dep := range p.Node(id).Args {
			assert.Less(t, pos[dep], pos[id], "dependency %d must precede %d", dep, id)
		}
	}
	assert.Len(t, order, 4)
}

func TestIsPure_SplitsByEffect(t *testing.T) {
	assert.True(t, KindConstant.IsPure())
	assert.True(t, KindBinaryOperation.IsPure())
	assert.True(t, KindGetPatchVar.IsPure())
	assert.False(t, KindSetPatchVar.IsPure())
	assert.False(t, KindRandomInt.IsPure(), "a host RNG draw is not deduplicable")
	assert.False(t, KindAsk.IsPure())
}

func TestDependencies_CarryArgLabels(t *testing.T) {
	p := NewProgram()
	sum := binOp(p, Add, num(p, 1), num(p, 2))
	deps := p.Dependencies(sum)
	require.Len(t, deps, 2)
	assert.Equal(t, "lhs", deps[0].Label)
	assert.Equal(t, "rhs", deps[1].Label)
}

func TestOutputType_IfElseJoinsBranches(t *testing.T) {
	p := NewProgram()
	fn := &Function{Name: "f"}
	p.AddFunction(fn)

	cond := p.AddNode(Node{Kind: KindConstant, Aux: ConstAux{Kind: ConstBoolean, Bool: true}})
	thenB := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{num(p, 1)}})
	elseB := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{num(p, 2)}})
	same := p.AddNode(Node{Kind: KindIfElse, Args: []NodeID{cond, thenB, elseB}})

	ty, err := p.OutputType(fn, same)
	require.NoError(t, err)
	require.NotNil(t, ty.Abstract)
	assert.True(t, ty.Abstract.Equal(lattice.T(lattice.Numeric)))

	boolB := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{p.AddNode(Node{Kind: KindConstant, Aux: ConstAux{Kind: ConstBoolean}})}})
	mixed := p.AddNode(Node{Kind: KindIfElse, Args: []NodeID{cond, thenB, boolB}})
	ty, err = p.OutputType(fn, mixed)
	require.NoError(t, err)
	assert.True(t, ty.Abstract.Equal(lattice.T(lattice.Top)), "Numeric/Boolean arms join to Top")
}

func TestOutputType_UnknownAgentVarFails(t *testing.T) {
	p := NewProgram()
	fn := &Function{Name: "f"}
	p.AddFunction(fn)

	ctx := num(p, 0)
	self := num(p, 0)
	get := p.AddNode(Node{Kind: KindGetPatchVar, Args: []NodeID{ctx, self}, Aux: FieldAux{Field: "no-such-var"}})
	_, err := p.OutputType(fn, get)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-var")
}

func TestPeephole_FoldsConstantArithmetic(t *testing.T) {
	p := NewProgram()
	sum := binOp(p, Add, num(p, 1), num(p, 2))
	mul := binOp(p, Mul, sum, num(p, 3))
	root := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{mul}})
	fn := &Function{Name: "f", Root: root}
	p.AddFunction(fn)

	require.NoError(t, p.RunPeephole(fn, DefaultRewriteBudget))

	n := p.Node(mul)
	require.Equal(t, KindConstant, n.Kind, "(1+2)*3 must fold to a constant")
	assert.Equal(t, 9.0, n.Aux.(ConstAux).Num)
}

func TestPeephole_FoldsComparisonToBool(t *testing.T) {
	p := NewProgram()
	lt := binOp(p, Lt, num(p, 1), num(p, 2))
	root := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{lt}})
	fn := &Function{Name: "f", Root: root}
	p.AddFunction(fn)

	require.NoError(t, p.RunPeephole(fn, DefaultRewriteBudget))

	n := p.Node(lt)
	require.Equal(t, KindConstant, n.Kind)
	aux := n.Aux.(ConstAux)
	assert.Equal(t, ConstBoolean, aux.Kind)
	assert.True(t, aux.Bool)
}

func TestPeephole_DivisionByZeroNotFolded(t *testing.T) {
	p := NewProgram()
	div := binOp(p, Div, num(p, 1), num(p, 0))
	root := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{div}})
	fn := &Function{Name: "f", Root: root}
	p.AddFunction(fn)

	require.NoError(t, p.RunPeephole(fn, DefaultRewriteBudget))
	assert.Equal(t, KindBinaryOperation, p.Node(div).Kind, "1/0 must be left for the runtime trap")
}

func TestPeephole_BudgetExhaustionSurfaces(t *testing.T) {
	p := NewProgram()
	sum := binOp(p, Add, num(p, 1), num(p, 2))
	root := p.AddNode(Node{Kind: KindBlock, Args: []NodeID{sum}})
	fn := &Function{Name: "f", Root: root}
	p.AddFunction(fn)

	err := p.RunPeephole(fn, RewriteBudget{MaxRewrites: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget")
}
