package translate

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/mir"
)

// buildCommand translates a CommandApp node: a command name, positional
// arguments, and (for block-taking commands) a trailing body.
func (b *builder) buildCommand(n ast.Node) (mir.NodeID, error) {
	switch n.Command {
	case "set":
		val, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return resolveVarSet(b, n.Name, val)

	case "clear-all", "ca":
		return b.prog.AddNode(mir.Node{Kind: mir.KindClearAll, Args: []mir.NodeID{b.getCtx()}}), nil

	case "reset-ticks":
		return b.prog.AddNode(mir.Node{Kind: mir.KindResetTicks, Args: []mir.NodeID{b.getCtx()}}), nil

	case "tick":
		return b.prog.AddNode(mir.Node{Kind: mir.KindAdvanceTick, Args: []mir.NodeID{b.getCtx()}}), nil

	case "stop":
		return b.prog.AddNode(mir.Node{Kind: mir.KindStop}), nil

	case "report":
		if len(n.Args) == 0 {
			return b.prog.AddNode(mir.Node{Kind: mir.KindReturn}), nil
		}
		val, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindReturn, Args: []mir.NodeID{val}}), nil

	case "if":
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: if expects one condition")
		}
		cond, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		then, err := b.buildBlock(n.Body)
		if err != nil {
			return 0, err
		}
		elseB := b.prog.AddNode(mir.Node{Kind: mir.KindBlock})
		return b.prog.AddNode(mir.Node{Kind: mir.KindIfElse, Args: []mir.NodeID{cond, then, elseB}}), nil

	case "ifelse":
		if len(n.Args) != 1 || len(n.Body) < 1 {
			return 0, fmt.Errorf("translate: ifelse expects a condition and two blocks")
		}
		cond, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		// The two branch blocks travel as two ReporterBlock/CommandBlock
		// children of Body, in source order.
		if len(n.Body) != 2 {
			return 0, fmt.Errorf("translate: ifelse expects exactly two branch blocks")
		}
		then, err := b.buildBlock(n.Body[0].Body)
		if err != nil {
			return 0, err
		}
		els, err := b.buildBlock(n.Body[1].Body)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindIfElse, Args: []mir.NodeID{cond, then, els}}), nil

	case "repeat":
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: repeat expects one count")
		}
		count, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		block, err := b.buildBlock(n.Body)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindRepeat, Args: []mir.NodeID{count, block}}), nil

	case "ask":
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: ask expects one recipients expression")
		}
		recipients, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		selfClass, err := b.agentsetElemClass(n.Args[0])
		if err != nil {
			return 0, err
		}
		closure, err := b.buildClosure(n.Body, selfClass)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindAsk, Args: []mir.NodeID{b.getCtx(), recipients, closure}}), nil

	case "create-turtles", "crt":
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: create-turtles expects one count")
		}
		num, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		breed := n.Name
		if breed == "" {
			breed = "turtles"
		}
		closure, err := b.buildClosure(n.Body, lattice.T(lattice.Turtle))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindCreateTurtles, Args: []mir.NodeID{b.getCtx(), num, closure}, Aux: mir.BreedAux{Breed: breed}}), nil

	case "fd", "forward":
		dist, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindTurtleForward, Args: []mir.NodeID{b.getCtx(), b.getSelf(), dist}}), nil

	case "bk", "back":
		dist, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		neg := b.prog.AddNode(mir.Node{Kind: mir.KindUnaryOp, Args: []mir.NodeID{dist}, Aux: mir.UnAux{Op: mir.Neg}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindTurtleForward, Args: []mir.NodeID{b.getCtx(), b.getSelf(), neg}}), nil

	case "rt", "right":
		angle, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindTurtleRotate, Args: []mir.NodeID{b.getCtx(), b.getSelf(), angle}}), nil

	case "lt", "left":
		angle, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		neg := b.prog.AddNode(mir.Node{Kind: mir.KindUnaryOp, Args: []mir.NodeID{angle}, Aux: mir.UnAux{Op: mir.Neg}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindTurtleRotate, Args: []mir.NodeID{b.getCtx(), b.getSelf(), neg}}), nil

	case "diffuse":
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: diffuse expects one amount")
		}
		amt, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		if _, err := b.prog.PatchVarType(n.Name); err != nil {
			return 0, errs.Wrap(errs.KindMismatch, err, "diffuse target is not a patch variable", errs.WithName(n.Name))
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindDiffuse, Args: []mir.NodeID{b.getCtx(), amt}, Aux: mir.FieldAux{Field: n.Name}}), nil

	case "set-default-shape":
		if len(n.Args) != 2 {
			return 0, fmt.Errorf("translate: set-default-shape expects a breed and a shape name")
		}
		breed := n.Args[0].StringValue
		shape := n.Args[1].StringValue
		return b.prog.AddNode(mir.Node{Kind: mir.KindSetDefaultShape, Args: []mir.NodeID{b.getCtx()}, Aux: mir.SetDefaultShapeAux{Breed: breed, Shape: shape}}), nil

	default:
		// Unrecognized command names resolve against user procedures.
		return b.buildUserCall(n)
	}
}

// buildReporter translates a ReporterCall node.
func (b *builder) buildReporter(n ast.Node) (mir.NodeID, error) {
	switch n.Command {
	case "scale-color":
		if len(n.Args) != 4 {
			return 0, fmt.Errorf("translate: scale-color expects 4 arguments")
		}
		args, err := b.buildExprs(n.Args)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindScaleColor, Args: args}), nil

	case "patch-at":
		args, err := b.buildExprs(n.Args)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindPatchAt, Args: append([]mir.NodeID{b.getCtx()}, args...)}), nil

	case "patch-ahead":
		dist, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindPatchRelative, Args: []mir.NodeID{b.getCtx(), b.getSelf(), dist}, Aux: mir.PatchRelAux{Ahead: true}}), nil

	case "patch-right-and-ahead":
		if len(n.Args) != 2 {
			return 0, fmt.Errorf("translate: patch-right-and-ahead expects angle and distance")
		}
		args, err := b.buildExprs(n.Args)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindPatchRelative, Args: []mir.NodeID{b.getCtx(), b.getSelf(), args[1], args[0]}, Aux: mir.PatchRelAux{Ahead: false}}), nil

	case "can-move?":
		dist, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindCanMove, Args: []mir.NodeID{b.getCtx(), b.getSelf(), dist}}), nil

	case "distancexy":
		args, err := b.buildExprs(n.Args)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindDistancexy, Args: append([]mir.NodeID{b.getCtx(), b.getSelf()}, args...)}), nil

	case "distance":
		other, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		mine := b.prog.AddNode(mir.Node{Kind: mir.KindOffsetDistanceByHeading, Args: []mir.NodeID{b.zero(), b.zero()}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindEuclideanDistanceNoWrap, Args: []mir.NodeID{mine, other}}), nil

	case "random":
		bound, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindRandomInt, Args: []mir.NodeID{b.getCtx(), bound}}), nil

	case "one-of":
		agentset, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindOneOf, Args: []mir.NodeID{b.getCtx(), agentset}}), nil

	case "turtles":
		return b.prog.AddNode(mir.Node{Kind: mir.KindAgentset, Aux: mir.AgentsetAux{Kind: mir.AgentTurtle}}), nil

	case "patches":
		return b.prog.AddNode(mir.Node{Kind: mir.KindAgentset, Aux: mir.AgentsetAux{Kind: mir.AgentPatch}}), nil

	case "links":
		return b.prog.AddNode(mir.Node{Kind: mir.KindAgentset, Aux: mir.AgentsetAux{Kind: mir.AgentLink}}), nil

	case "max-pxcor":
		return b.prog.AddNode(mir.Node{Kind: mir.KindMaxPxcor, Args: []mir.NodeID{b.getCtx()}}), nil

	case "max-pycor":
		return b.prog.AddNode(mir.Node{Kind: mir.KindMaxPycor, Args: []mir.NodeID{b.getCtx()}}), nil

	case "ticks":
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetTick, Args: []mir.NodeID{b.getCtx()}}), nil

	case "of":
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: of expects one target expression")
		}
		target, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		selfClass, err := b.agentsetElemClass(n.Args[0])
		if err != nil {
			return 0, err
		}
		closure, err := b.buildClosure(n.Body, selfClass)
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindOf, Args: []mir.NodeID{b.getCtx(), target, closure}}), nil

	case "+", "-", "*", "/", "<", "<=", ">", ">=", "=", "!=", "and", "or":
		return b.buildBinOp(n)

	case "not":
		operand, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindUnaryOp, Args: []mir.NodeID{operand}, Aux: mir.UnAux{Op: mir.Not}}), nil

	case "nobody?":
		val, err := b.buildExpr(single(n.Args))
		if err != nil {
			return 0, err
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindCheckNobody, Args: []mir.NodeID{val}}), nil

	default:
		if _, err := b.scope.lookup(n.Command); err == nil {
			if b.locals != nil {
				if id, ok := b.locals.lookup(n.Command); ok {
					return b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: id}}), nil
				}
			}
			return resolveVarGet(b, n.Command)
		}
		return b.buildUserCall(n)
	}
}

func (b *builder) buildBinOp(n ast.Node) (mir.NodeID, error) {
	if len(n.Args) != 2 {
		return 0, fmt.Errorf("translate: operator %q expects 2 operands", n.Command)
	}
	lhs, err := b.buildExpr(n.Args[0])
	if err != nil {
		return 0, err
	}
	rhs, err := b.buildExpr(n.Args[1])
	if err != nil {
		return 0, err
	}
	op, ok := binOpTable[n.Command]
	if !ok {
		return 0, fmt.Errorf("translate: unknown operator %q", n.Command)
	}
	return b.prog.AddNode(mir.Node{Kind: mir.KindBinaryOperation, Args: []mir.NodeID{lhs, rhs}, Aux: mir.BinAux{Op: op}}), nil
}

var binOpTable = map[string]mir.BinOp{
	"+": mir.Add, "-": mir.Sub, "*": mir.Mul, "/": mir.Div,
	"<": mir.Lt, "<=": mir.Le, ">": mir.Gt, ">=": mir.Ge,
	"=": mir.Eq, "!=": mir.Ne, "and": mir.And, "or": mir.Or,
}

func (b *builder) buildExprs(ns []ast.Node) ([]mir.NodeID, error) {
	out := make([]mir.NodeID, 0, len(ns))
	for _, n := range ns {
		id, err := b.buildExpr(n)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (b *builder) zero() mir.NodeID {
	return b.prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstNumber, Num: 0}})
}

// agentsetElemClass infers the concrete agent class a closure's `self`
// parameter should carry from the shape of the recipients/target
// expression. Falls back
// to the generic Agent supertype when it cannot be inferred syntactically;
// the cheats overlay's per-function self-class annotation is the authoritative source when present.
func (b *builder) agentsetElemClass(n ast.Node) (lattice.Type, error) {
	if n.Tag == ast.TagReporterCall {
		switch n.Command {
		case "turtles", "one-of":
			return lattice.T(lattice.Turtle), nil
		case "patches":
			return lattice.T(lattice.Patch), nil
		case "links":
			return lattice.T(lattice.Link), nil
		}
	}
	return lattice.T(lattice.Agent), nil
}

func single(ns []ast.Node) ast.Node {
	if len(ns) == 0 {
		return ast.Node{}
	}
	return ns[0]
}
