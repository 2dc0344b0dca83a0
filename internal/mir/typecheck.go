package mir

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lattice"
)

// builtinTurtleVars/builtinPatchVars are the fixed agent variables every
// schema carries regardless of custom declarations.
var builtinTurtleVars = map[string]lattice.Type{
	"who":      lattice.T(lattice.Numeric),
	"color":    lattice.T(lattice.Color),
	"size":     lattice.T(lattice.Numeric),
	"heading":  lattice.T(lattice.Numeric),
	"breed":    lattice.T(lattice.String),
}

var builtinPatchVars = map[string]lattice.Type{
	"pcolor": lattice.T(lattice.Color),
}

// customVarType looks up a declared custom variable's abstract type by
// name against the shared local table.
func (p *Program) customVarType(ids []LocalID, name string) (lattice.Type, bool) {
	for _, id := range ids {
		l := p.Local(id)
		if l.Name == name {
			return l.Ty, true
		}
	}
	return lattice.Type{}, false
}

// PatchVarType resolves a patch variable's abstract type: built-in first,
// then custom declarations.
func (p *Program) PatchVarType(name string) (lattice.Type, error) {
	if t, ok := builtinPatchVars[name]; ok {
		return t, nil
	}
	if t, ok := p.customVarType(p.CustomPatchVars, name); ok {
		return t, nil
	}
	return lattice.Type{}, errs.New(errs.UnknownName, "unknown patch variable", errs.WithName(name))
}

// TurtleVarType resolves a turtle variable's abstract type: built-in
// first, then global custom turtle vars, then breed-specific custom vars.
// Breeds are searched in map order and the first match is returned; it is
// not checked that every breed defining the name agrees on its type.
func (p *Program) TurtleVarType(name string) (lattice.Type, error) {
	if t, ok := builtinTurtleVars[name]; ok {
		return t, nil
	}
	if t, ok := p.customVarType(p.CustomTurtleVars, name); ok {
		return t, nil
	}
	for _, b := range p.TurtleBreeds {
		if b == nil {
			continue
		}
		if t, ok := p.customVarType(b.CustomVars, name); ok {
			return t, nil
		}
	}
	return lattice.Type{}, errs.New(errs.UnknownName, "unknown turtle variable", errs.WithName(name))
}

// OutputType computes a node's dual type. Most kinds only need the
// abstract projection; concrete overrides are assigned later by the cheats
// overlay or by lowering.
func (p *Program) OutputType(fn *Function, id NodeID) (MirTy, error) {
	n := p.Node(id)
	switch n.Kind {
	case KindConstant:
		aux := n.Aux.(ConstAux)
		switch aux.Kind {
		case ConstNumber:
			return Abstract(lattice.T(lattice.Numeric)), nil
		case ConstString:
			return Abstract(lattice.T(lattice.String)), nil
		case ConstBoolean:
			return Abstract(lattice.T(lattice.Boolean)), nil
		case ConstNobody:
			return Abstract(lattice.T(lattice.Nobody)), nil
		}
		return MirTy{}, fmt.Errorf("mir: constant with unknown ConstKind %d", aux.Kind)

	case KindGetLocalVar:
		l := p.Local(n.Aux.(LocalAux).Local)
		return Abstract(l.Ty), nil

	case KindSetLocalVar:
		return Abstract(lattice.T(lattice.Unit)), nil

	case KindGetGlobalVar:
		l := p.Local(p.Globals[n.Aux.(GlobalAux).Global])
		return Abstract(l.Ty), nil

	case KindSetGlobalVar:
		return Abstract(lattice.T(lattice.Unit)), nil

	case KindGetPatchVar:
		t, err := p.PatchVarType(n.Aux.(FieldAux).Field)
		if err != nil {
			return MirTy{}, err
		}
		return Abstract(t), nil

	case KindGetTurtleVar:
		t, err := p.TurtleVarType(n.Aux.(FieldAux).Field)
		if err != nil {
			return MirTy{}, err
		}
		return Abstract(t), nil

	case KindSetPatchVar, KindSetTurtleVar:
		return Abstract(lattice.T(lattice.Unit)), nil

	case KindBinaryOperation:
		return p.binOpType(n.Aux.(BinAux).Op)

	case KindUnaryOp:
		switch n.Aux.(UnAux).Op {
		case Not:
			return Abstract(lattice.T(lattice.Boolean)), nil
		default: // Neg
			return Abstract(lattice.T(lattice.Numeric)), nil
		}

	case KindBlock:
		if len(n.Args) == 0 {
			return Abstract(lattice.T(lattice.Unit)), nil
		}
		return p.OutputType(fn, n.Args[len(n.Args)-1])

	case KindIfElse:
		thenTy, err := p.OutputType(fn, n.Args[1])
		if err != nil {
			return MirTy{}, err
		}
		elseTy, err := p.OutputType(fn, n.Args[2])
		if err != nil {
			return MirTy{}, err
		}
		if thenTy.Abstract == nil || elseTy.Abstract == nil {
			return Abstract(lattice.T(lattice.Unit)), nil
		}
		return Abstract(lattice.Join(*thenTy.Abstract, *elseTy.Abstract)), nil

	case KindRepeat, KindAsk, KindCreateTurtles, KindClearAll, KindResetTicks,
		KindAdvanceTick, KindTurtleForward, KindTurtleRotate, KindDiffuse,
		KindBreak, KindStop, KindSetDefaultShape:
		return Abstract(lattice.T(lattice.Unit)), nil

	case KindReturn:
		if len(n.Args) == 0 {
			return Abstract(lattice.T(lattice.Unit)), nil
		}
		return p.OutputType(fn, n.Args[0])

	case KindGetTick, KindMaxPxcor, KindMaxPycor, KindRandomInt,
		KindEuclideanDistanceNoWrap, KindDistancexy, KindTurtleIdToIndex:
		return Abstract(lattice.T(lattice.Numeric)), nil

	case KindPatchAt, KindPatchRelative:
		return Abstract(lattice.T(lattice.Patch)), nil

	case KindCanMove, KindCheckNobody:
		return Abstract(lattice.T(lattice.Boolean)), nil

	case KindOffsetDistanceByHeading, KindPointConstructor:
		return Abstract(lattice.T(lattice.Point)), nil

	case KindScaleColor:
		return Abstract(lattice.T(lattice.Color)), nil

	case KindClosure:
		aux := n.Aux.(ClosureAux)
		body := p.Func(aux.Func)
		return Abstract(lattice.ClosureOf(body.AgentClass, body.ReturnType)), nil

	case KindCallUserFn:
		callee := p.Func(n.Aux.(CallAux).Func)
		return Abstract(callee.ReturnType), nil

	case KindOneOf:
		return Abstract(lattice.T(lattice.Agent)), nil

	case KindAgentset:
		inner := lattice.T(lattice.Agent)
		switch n.Aux.(AgentsetAux).Kind {
		case AgentTurtle:
			inner = lattice.T(lattice.Turtle)
		case AgentPatch:
			inner = lattice.T(lattice.Patch)
		case AgentLink:
			inner = lattice.T(lattice.Link)
		}
		return Abstract(lattice.AgentsetOf(inner)), nil

	case KindListLiteral:
		var elem lattice.Type = lattice.T(lattice.Bottom)
		for _, a := range n.Args {
			ty, err := p.OutputType(fn, a)
			if err != nil {
				return MirTy{}, err
			}
			if ty.Abstract != nil {
				elem = lattice.Join(elem, *ty.Abstract)
			}
		}
		return Abstract(lattice.ListOf(elem)), nil

	case KindOf:
		return Abstract(lattice.T(lattice.Top)), nil

	case KindMemLoad, KindDeriveField, KindDeriveElement:
		// Direct memory-addressing nodes have no abstract type; a pass
		// that constructs them must set a Concrete machine type on the
		// MirTy itself.
		return MirTy{}, nil
	case KindMemStore:
		return Abstract(lattice.T(lattice.Unit)), nil

	default:
		return MirTy{}, fmt.Errorf("mir: OutputType: unhandled kind %s", n.Kind)
	}
}

func (p *Program) binOpType(op BinOp) (MirTy, error) {
	switch op {
	case Add, Sub, Mul, Div:
		return Abstract(lattice.T(lattice.Numeric)), nil
	case Eq, Ne, Lt, Le, Gt, Ge, And, Or:
		return Abstract(lattice.T(lattice.Boolean)), nil
	default:
		return MirTy{}, fmt.Errorf("mir: unknown BinOp %d", op)
	}
}
