// Package lower implements the MIR-to-LIR lowering pass: it walks each
// function's sea-of-nodes body and emits structured LIR instructions into
// per-block sequences.
//
// Every domain-level operation (agent movement, geometry, PRNG, agent-set
// iteration) lowers to a call into the fixed host-function table defined in
// hostimports.go rather than to hand-compiled Wasm arithmetic: the actual
// simulation math is an external collaborator's
// responsibility, and the compiler's job stops at describing, by name, what
// the host must be asked to do and in what order.
//
// Two scoping restrictions keep this pass's output consistent with LIR's
// single-value-per-instruction design: a value
// produced by a structured control-flow construct (Block/IfElse/Loop) or
// carried across a user-function call boundary must resolve to a
// single-slot concrete representation. Multi-slot concretes (only Point, an
// (x,y) pair) arise solely as short-lived expression temporaries in this
// source language and are never declared as a procedure argument, assigned
// to a branch-joined local, or returned across an if/else — so the
// restriction is never exercised in practice, but it is still enforced and
// reported as errs.MissingLIREmitter if violated, rather than silently
// mis-lowered.
package lower

import (
	"fmt"
	"math"

	"github.com/fieldforge/turtlec/internal/box"
	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/lir"
	"github.com/fieldforge/turtlec/internal/mir"
	"github.com/fieldforge/turtlec/internal/mtype"
)

// Lower translates an entire MIR program into an LIR program.
func Lower(prog *mir.Program) (*lir.Program, error) {
	out := &lir.Program{}
	for _, name := range hostImportNames {
		spec := hostImportSpecs[name]
		out.Imports = append(out.Imports, lir.Import{Name: name, Params: spec.params, Results: spec.results})
	}
	for _, fn := range prog.Functions {
		lf, err := lowerFunction(prog, out, fn)
		if err != nil {
			return nil, fmt.Errorf("lower: function %q: %w", fn.Name, err)
		}
		out.AddFunction(lf)
	}
	return out, nil
}

type slot struct {
	offset  uint32
	machine mtype.Machine
}

type funcLowerer struct {
	prog    *mir.Program
	lirProg *lir.Program
	fn      *mir.Function
	lf      *lir.Function
	// memo is keyed by (node, sequence): a sea-of-nodes MIR node may be
	// shared between, say, an if/else's two arms, but a ValRef is only
	// meaningful within the sequence that produced it (Wasm's structured
	// control flow has no way to read a sibling block's value) — so a
	// shared node is lowered again, once per sequence that reaches it,
	// rather than memoized globally across the whole function.
	memo      map[memoKey][]lir.ValRef
	locals    map[mir.LocalID][]slot
	stackTop  uint32
	cur       lir.SeqID
	loopStack []lir.SeqID
}

type memoKey struct {
	node mir.NodeID
	seq  lir.SeqID
}

func alignUp(x, a uint32) uint32 {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}

// machineSlots returns the ordered machine types backing a concrete type's
// flat layout (empty for a zero-size type such as Unit).
func machineSlots(c mtype.Concrete) []mtype.Machine {
	out := make([]mtype.Machine, len(c.Layout))
	for i, s := range c.Layout {
		out[i] = s.Type
	}
	return out
}

func concreteOf(t lattice.Type) mtype.Concrete { return lattice.CanonicalConcrete(t) }

func (b *funcLowerer) allocSlots(c mtype.Concrete) []slot {
	slots := make([]slot, len(c.Layout))
	for i, s := range c.Layout {
		off := alignUp(b.stackTop, s.Type.Align())
		slots[i] = slot{offset: off, machine: s.Type}
		b.stackTop = off + s.Type.Size()
	}
	return slots
}

func (b *funcLowerer) localSlot(id mir.LocalID) []slot {
	if s, ok := b.locals[id]; ok {
		return s
	}
	l := b.prog.Local(id)
	c := l.Ty
	var concrete mtype.Concrete
	if l.Concrete != nil {
		concrete = *l.Concrete
	} else {
		concrete = concreteOf(c)
	}
	s := b.allocSlots(concrete)
	b.locals[id] = s
	return s
}

func singleSlotOrErr(slots []lir.ValRef, what string) (lir.ValRef, error) {
	if len(slots) != 1 {
		return lir.ValRef{}, errs.New(errs.MissingLIREmitter, fmt.Sprintf("%s: expected a single-slot value, got %d slots", what, len(slots)))
	}
	return slots[0], nil
}

func lowerFunction(prog *mir.Program, lirProg *lir.Program, fn *mir.Function) (*lir.Function, error) {
	lf := &lir.Function{Name: fn.Name, IsEntrypoint: fn.IsEntrypoint}
	b := &funcLowerer{
		prog:    prog,
		lirProg: lirProg,
		fn:      fn,
		lf:      lf,
		memo:    map[memoKey][]lir.ValRef{},
		locals:  map[mir.LocalID][]slot{},
	}

	body := lf.NewSequence()
	lf.Body = body
	b.cur = body

	// Materialize every parameter as a FunctionArgs instruction, then store
	// it straight into its local's stack slot, so GetLocalVar/SetLocalVar
	// can treat parameters and let-bound locals identically.
	for i, p := range fn.Params {
		l := prog.Local(p.Local)
		slots := b.localSlot(p.Local)
		if len(slots) != 1 {
			return nil, errs.New(errs.MissingLIREmitter, "function parameter must be single-slot", errs.WithName(l.Name))
		}
		m := slots[0].machine
		lf.Params = append(lf.Params, m)
		argVal := lf.Append(body, lir.Insn{Op: lir.OpFunctionArgs, Aux: lir.ParamAux{Index: i}, HasValue: true, ValType: m})
		lf.Append(body, lir.Insn{Op: lir.OpStackStore, Args: []lir.ValRef{argVal}, Aux: lir.StackAux{Type: m, Offset: slots[0].offset}})
	}

	retConcrete := concreteOf(fn.ReturnType)
	retSlots := machineSlots(retConcrete)
	if len(retSlots) > 1 {
		return nil, errs.New(errs.MissingLIREmitter, "function return type must be single-slot", errs.WithName(fn.Name))
	}
	lf.Results = retSlots

	if _, err := b.emitStatementList(fn.Root); err != nil {
		return nil, err
	}

	lf.StackSpace = b.stackTop
	return lf, nil
}

// emitStatementList lowers a KindBlock node's statements in order into the
// current sequence, returning the last statement's value slots (empty for
// an empty block).
func (b *funcLowerer) emitStatementList(id mir.NodeID) ([]lir.ValRef, error) {
	n := b.prog.Node(id)
	if n.Kind != mir.KindBlock {
		return b.emit(id)
	}
	var last []lir.ValRef
	for _, stmt := range n.Args {
		v, err := b.emit(stmt)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

func (b *funcLowerer) emit(id mir.NodeID) ([]lir.ValRef, error) {
	key := memoKey{node: id, seq: b.cur}
	if v, ok := b.memo[key]; ok {
		return v, nil
	}
	v, err := b.emitNode(id)
	if err != nil {
		return nil, err
	}
	b.memo[key] = v
	return v, nil
}

func (b *funcLowerer) emit1(id mir.NodeID) (lir.ValRef, error) {
	v, err := b.emit(id)
	if err != nil {
		return lir.ValRef{}, err
	}
	return singleSlotOrErr(v, "operand")
}

func (b *funcLowerer) append(insn lir.Insn) lir.ValRef {
	return b.lf.Append(b.cur, insn)
}

func (b *funcLowerer) outputSlots(id mir.NodeID) ([]mtype.Machine, error) {
	ty, err := b.prog.OutputType(b.fn, id)
	if err != nil {
		return nil, err
	}
	return machineSlots(ty.Repr()), nil
}

var binOpToArith = map[mir.BinOp]lir.ArithOp{
	mir.Add: lir.Add, mir.Sub: lir.Sub, mir.Mul: lir.Mul, mir.Div: lir.DivF,
	mir.Eq: lir.Eq, mir.Ne: lir.Ne, mir.Lt: lir.Lt, mir.Le: lir.Le,
	mir.Gt: lir.Gt, mir.Ge: lir.Ge, mir.And: lir.And, mir.Or: lir.Or,
}

func (b *funcLowerer) emitNode(id mir.NodeID) ([]lir.ValRef, error) {
	n := b.prog.Node(id)

	switch n.Kind {
	case mir.KindConstant:
		aux := n.Aux.(mir.ConstAux)
		switch aux.Kind {
		case mir.ConstNumber:
			return b.one(lir.OpConst, mtype.F64, lir.ConstAux{Type: mtype.F64, Bits: math.Float64bits(aux.Num)}), nil
		case mir.ConstString:
			idx := b.lirProg.InternString(aux.Str)
			return b.one(lir.OpConst, mtype.Ptr, lir.ConstAux{Type: mtype.Ptr, Bits: uint64(idx)}), nil
		case mir.ConstBoolean:
			bit := uint64(0)
			if aux.Bool {
				bit = 1
			}
			return b.one(lir.OpConst, mtype.I8, lir.ConstAux{Type: mtype.I8, Bits: bit}), nil
		case mir.ConstNobody:
			return b.one(lir.OpConst, mtype.I32, lir.ConstAux{Type: mtype.I32, Bits: uint64(box.NobodyPatchID)}), nil
		}
		return nil, fmt.Errorf("lower: constant with unhandled ConstKind %d", aux.Kind)

	case mir.KindGetLocalVar:
		slots := b.localSlot(n.Aux.(mir.LocalAux).Local)
		out := make([]lir.ValRef, len(slots))
		for i, s := range slots {
			out[i] = b.append(lir.Insn{Op: lir.OpStackLoad, Aux: lir.StackAux{Type: s.machine, Offset: s.offset}, HasValue: true, ValType: s.machine})
		}
		return out, nil

	case mir.KindSetLocalVar:
		valSlots, err := b.emit(n.Args[0])
		if err != nil {
			return nil, err
		}
		slots := b.localSlot(n.Aux.(mir.LocalAux).Local)
		if len(slots) != len(valSlots) {
			return nil, errs.New(errs.KindMismatch, "assigned value slot count mismatch")
		}
		for i, s := range slots {
			b.append(lir.Insn{Op: lir.OpStackStore, Args: []lir.ValRef{valSlots[i]}, Aux: lir.StackAux{Type: s.machine, Offset: s.offset}})
		}
		return nil, nil

	case mir.KindGetGlobalVar:
		return b.emitGlobalGet(n.Aux.(mir.GlobalAux).Global)

	case mir.KindSetGlobalVar:
		return nil, b.emitGlobalSet(n.Aux.(mir.GlobalAux).Global, n.Args[0])

	case mir.KindGetPatchVar:
		return b.emitAgentVarGet(hostGetPatchVar, n.Args[0], n.Args[1], n.Aux.(mir.FieldAux).Field)
	case mir.KindGetTurtleVar:
		return b.emitAgentVarGet(hostGetTurtleVar, n.Args[0], n.Args[1], n.Aux.(mir.FieldAux).Field)
	case mir.KindSetPatchVar:
		return nil, b.emitAgentVarSet(hostSetPatchVar, n.Args[0], n.Args[1], n.Args[2], n.Aux.(mir.FieldAux).Field)
	case mir.KindSetTurtleVar:
		return nil, b.emitAgentVarSet(hostSetTurtleVar, n.Args[0], n.Args[1], n.Args[2], n.Aux.(mir.FieldAux).Field)

	case mir.KindBinaryOperation:
		lhs, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		rhs, err := b.emit1(n.Args[1])
		if err != nil {
			return nil, err
		}
		op := n.Aux.(mir.BinAux).Op
		outSlots, err := b.outputSlots(id)
		if err != nil {
			return nil, err
		}
		m := outSlots[0]
		return []lir.ValRef{b.append(lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{lhs, rhs}, Aux: binOpToArith[op], HasValue: true, ValType: m})}, nil

	case mir.KindUnaryOp:
		operand, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		op := n.Aux.(mir.UnAux).Op
		arith := lir.Neg
		m := mtype.F64
		if op == mir.Not {
			arith = lir.Not
			m = mtype.I8
		}
		return []lir.ValRef{b.append(lir.Insn{Op: lir.OpUnaryOp, Args: []lir.ValRef{operand}, Aux: arith, HasValue: true, ValType: m})}, nil

	case mir.KindBlock:
		return b.emitStatementList(id)

	case mir.KindIfElse:
		return b.emitIfElse(id, n)

	case mir.KindRepeat:
		return nil, b.emitRepeat(n)

	case mir.KindBreak:
		if len(b.loopStack) == 0 {
			return nil, errs.New(errs.StackifyInvariant, "break outside a loop")
		}
		target := b.loopStack[len(b.loopStack)-1]
		b.append(lir.Insn{Op: lir.OpBreak, Aux: lir.BreakAux{Target: target}})
		return nil, nil

	case mir.KindStop, mir.KindReturn:
		var args []lir.ValRef
		if len(n.Args) > 0 {
			v, err := b.emit1(n.Args[0])
			if err != nil {
				return nil, err
			}
			args = []lir.ValRef{v}
		}
		b.append(lir.Insn{Op: lir.OpBreak, Args: args, Aux: lir.BreakAux{Target: b.lf.Body}})
		return nil, nil

	case mir.KindAsk:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		recipients, err := b.emit1(n.Args[1])
		if err != nil {
			return nil, err
		}
		body, err := b.emit1(n.Args[2])
		if err != nil {
			return nil, err
		}
		b.callImport(hostAsk, []lir.ValRef{ctx, recipients, body}, nil)
		return nil, nil

	case mir.KindCreateTurtles:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		num, err := b.emit1(n.Args[1])
		if err != nil {
			return nil, err
		}
		bodyVal, err := b.emit1(n.Args[2])
		if err != nil {
			return nil, err
		}
		breed := n.Aux.(mir.BreedAux).Breed
		breedConst := b.internStringConst(breed)
		b.callImport(hostCreateTurtles, []lir.ValRef{ctx, num, breedConst, bodyVal}, nil)
		return nil, nil

	case mir.KindClearAll:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		b.callImport(hostClearAll, []lir.ValRef{ctx}, nil)
		return nil, nil

	case mir.KindResetTicks:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		b.callImport(hostResetTicks, []lir.ValRef{ctx}, nil)
		return nil, nil

	case mir.KindAdvanceTick:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		b.callImport(hostAdvanceTick, []lir.ValRef{ctx}, nil)
		return nil, nil

	case mir.KindGetTick:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		m := mtype.F64
		return []lir.ValRef{b.callImport(hostGetTick, []lir.ValRef{ctx}, &m)}, nil

	case mir.KindDiffuse:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		amount, err := b.emit1(n.Args[1])
		if err != nil {
			return nil, err
		}
		field := b.internStringConst(n.Aux.(mir.FieldAux).Field)
		b.callImport(hostDiffuse8, []lir.ValRef{ctx, field, amount}, nil)
		return nil, nil

	case mir.KindPatchAt:
		ctx, x, y, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		m := mtype.I32
		return []lir.ValRef{b.callImport(hostPatchAt, []lir.ValRef{ctx, x, y}, &m)}, nil

	case mir.KindPatchRelative:
		ctx, turtle, dist, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		name := hostPatchAhead
		if !n.Aux.(mir.PatchRelAux).Ahead {
			name = hostPatchRightAndAhead
		}
		m := mtype.I32
		return []lir.ValRef{b.callImport(name, []lir.ValRef{ctx, turtle, dist}, &m)}, nil

	case mir.KindCanMove:
		ctx, turtle, dist, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		m := mtype.I8
		return []lir.ValRef{b.callImport(hostCanMove, []lir.ValRef{ctx, turtle, dist}, &m)}, nil

	case mir.KindTurtleForward:
		ctx, turtle, dist, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		b.callImport(hostTurtleForward, []lir.ValRef{ctx, turtle, dist}, nil)
		return nil, nil

	case mir.KindTurtleRotate:
		ctx, turtle, angle, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		b.callImport(hostTurtleRotate, []lir.ValRef{ctx, turtle, angle}, nil)
		return nil, nil

	case mir.KindDistancexy:
		ctx, turtle, x, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		y, err := b.emit1(n.Args[3])
		if err != nil {
			return nil, err
		}
		m := mtype.F64
		return []lir.ValRef{b.callImport(hostDistancexy, []lir.ValRef{ctx, turtle, x, y}, &m)}, nil

	case mir.KindEuclideanDistanceNoWrap:
		// Operands are Point values (2 slots each: x, y).
		aPts, err := b.emit(n.Args[0])
		if err != nil {
			return nil, err
		}
		cPts, err := b.emit(n.Args[1])
		if err != nil {
			return nil, err
		}
		if len(aPts) != 2 || len(cPts) != 2 {
			return nil, errs.New(errs.MissingLIREmitter, "euclidean-distance operands must be points")
		}
		m := mtype.F64
		return []lir.ValRef{b.callImport(hostEuclideanDistance, []lir.ValRef{aPts[0], aPts[1], cPts[0], cPts[1]}, &m)}, nil

	case mir.KindScaleColor:
		base, value, min, err := b.emit3(n.Args[0], n.Args[1], n.Args[2])
		if err != nil {
			return nil, err
		}
		max, err := b.emit1(n.Args[3])
		if err != nil {
			return nil, err
		}
		m := mtype.F64
		return []lir.ValRef{b.callImport(hostScaleColor, []lir.ValRef{base, value, min, max}, &m)}, nil

	case mir.KindMaxPxcor:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		m := mtype.I32
		return []lir.ValRef{b.callImport(hostMaxPxcor, []lir.ValRef{ctx}, &m)}, nil

	case mir.KindMaxPycor:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		m := mtype.I32
		return []lir.ValRef{b.callImport(hostMaxPycor, []lir.ValRef{ctx}, &m)}, nil

	case mir.KindRandomInt:
		ctx, bound, err := b.emit2(n.Args[0], n.Args[1])
		if err != nil {
			return nil, err
		}
		m := mtype.F64
		return []lir.ValRef{b.callImport(hostRandomInt, []lir.ValRef{ctx, bound}, &m)}, nil

	case mir.KindPointConstructor:
		x, y, err := b.emit2(n.Args[0], n.Args[1])
		if err != nil {
			return nil, err
		}
		return []lir.ValRef{x, y}, nil

	case mir.KindOffsetDistanceByHeading:
		heading, dist, err := b.emit2(n.Args[0], n.Args[1])
		if err != nil {
			return nil, err
		}
		// (dist*sin(heading), dist*cos(heading)) is host trig; ask the host
		// for both coordinates via the geometry collaborator rather than
		// hand-rolling a sine/cosine approximation in LIR arithmetic.
		m := mtype.F64
		x := b.callImport(hostOffsetXByHeading, []lir.ValRef{heading, dist}, &m)
		y := b.callImport(hostOffsetYByHeading, []lir.ValRef{heading, dist}, &m)
		return []lir.ValRef{x, y}, nil

	case mir.KindTurtleIdToIndex:
		turtle, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		m := mtype.I32
		return []lir.ValRef{b.callImport(hostTurtleIdToIndex, []lir.ValRef{turtle}, &m)}, nil

	case mir.KindCheckNobody:
		v, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		nobody := b.append(lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.I32, Bits: uint64(box.NobodyPatchID)}, HasValue: true, ValType: mtype.I32})
		return []lir.ValRef{b.append(lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{v, nobody}, Aux: lir.Eq, HasValue: true, ValType: mtype.I8})}, nil

	case mir.KindOneOf:
		ctx, agentset, err := b.emit2(n.Args[0], n.Args[1])
		if err != nil {
			return nil, err
		}
		m := mtype.I64
		return []lir.ValRef{b.callImport(hostOneOf, []lir.ValRef{ctx, agentset}, &m)}, nil

	case mir.KindOf:
		ctx, target, err := b.emit2(n.Args[0], n.Args[1])
		if err != nil {
			return nil, err
		}
		body, err := b.emit1(n.Args[2])
		if err != nil {
			return nil, err
		}
		m := mtype.I64
		return []lir.ValRef{b.callImport(hostOf, []lir.ValRef{ctx, target, body}, &m)}, nil

	case mir.KindAgentset:
		// A bare agentset literal ("turtles", "patches", "links") with no
		// filter collapses to a host query for "every agent of this kind";
		// represented here as a sentinel constant the host recognizes (-1
		// means "whole population").
		return []lir.ValRef{b.append(lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.Ptr, Bits: uint64(0xFFFFFFFF)}, HasValue: true, ValType: mtype.Ptr})}, nil

	case mir.KindSetDefaultShape:
		ctx, err := b.emit1(n.Args[0])
		if err != nil {
			return nil, err
		}
		breed := b.internStringConst(n.Aux.(mir.SetDefaultShapeAux).Breed)
		shape := b.internStringConst(n.Aux.(mir.SetDefaultShapeAux).Shape)
		b.callImport(hostSetDefaultShape, []lir.ValRef{ctx, breed, shape}, nil)
		return nil, nil

	case mir.KindClosure:
		fnID := n.Aux.(mir.ClosureAux).Func
		return []lir.ValRef{b.append(lir.Insn{Op: lir.OpUserFunctionPtr, Aux: lir.CallAux{FuncIdx: int(fnID)}, HasValue: true, ValType: mtype.FnPtr})}, nil

	case mir.KindCallUserFn:
		return b.emitCallUser(n)

	case mir.KindListLiteral:
		// A list literal builds the host-side list eagerly: one list_new,
		// then a list_push per element in source order.
		m := mtype.Ptr
		list := b.callImport(hostListNew, nil, &m)
		for _, el := range n.Args {
			v, err := b.emit1(el)
			if err != nil {
				return nil, err
			}
			b.callImport(hostListPush, []lir.ValRef{list, v}, nil)
		}
		return []lir.ValRef{list}, nil

	default:
		return nil, errs.New(errs.MissingLIREmitter, fmt.Sprintf("no LIR emitter registered for %s", n.Kind))
	}
}

func (b *funcLowerer) one(op lir.Op, m mtype.Machine, aux interface{}) []lir.ValRef {
	return []lir.ValRef{b.append(lir.Insn{Op: op, Aux: aux, HasValue: true, ValType: m})}
}

func (b *funcLowerer) emit2(a, c mir.NodeID) (lir.ValRef, lir.ValRef, error) {
	av, err := b.emit1(a)
	if err != nil {
		return lir.ValRef{}, lir.ValRef{}, err
	}
	cv, err := b.emit1(c)
	if err != nil {
		return lir.ValRef{}, lir.ValRef{}, err
	}
	return av, cv, nil
}

func (b *funcLowerer) emit3(a, c, d mir.NodeID) (lir.ValRef, lir.ValRef, lir.ValRef, error) {
	av, cv, err := b.emit2(a, c)
	if err != nil {
		return lir.ValRef{}, lir.ValRef{}, lir.ValRef{}, err
	}
	dv, err := b.emit1(d)
	if err != nil {
		return lir.ValRef{}, lir.ValRef{}, lir.ValRef{}, err
	}
	return av, cv, dv, nil
}

func (b *funcLowerer) internStringConst(s string) lir.ValRef {
	idx := b.lirProg.InternString(s)
	return b.append(lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.Ptr, Bits: uint64(idx)}, HasValue: true, ValType: mtype.Ptr})
}

func (b *funcLowerer) callImport(name string, args []lir.ValRef, result *mtype.Machine) lir.ValRef {
	spec := hostImportSpecs[name]
	aux := lir.CallAux{Name: name, Params: spec.params, Result: result}
	return b.append(lir.Insn{Op: lir.OpCallImported, Args: args, Aux: aux, HasValue: result != nil, ValType: machineOrZero(result)})
}

func machineOrZero(m *mtype.Machine) mtype.Machine {
	if m == nil {
		return 0
	}
	return *m
}

func (b *funcLowerer) emitGlobalGet(g mir.GlobalID) ([]lir.ValRef, error) {
	offs, machines, err := b.globalLayout(g)
	if err != nil {
		return nil, err
	}
	out := make([]lir.ValRef, len(offs))
	for i := range offs {
		out[i] = b.append(lir.Insn{Op: lir.OpMemLoad, Aux: lir.MemAux{Type: machines[i], Offset: offs[i]}, HasValue: true, ValType: machines[i]})
	}
	return out, nil
}

func (b *funcLowerer) emitGlobalSet(g mir.GlobalID, valueNode mir.NodeID) error {
	vals, err := b.emit(valueNode)
	if err != nil {
		return err
	}
	offs, machines, err := b.globalLayout(g)
	if err != nil {
		return err
	}
	if len(vals) != len(offs) {
		return errs.New(errs.KindMismatch, "global assignment slot count mismatch")
	}
	for i := range offs {
		b.append(lir.Insn{Op: lir.OpMemStore, Args: []lir.ValRef{vals[i]}, Aux: lir.MemAux{Type: machines[i], Offset: offs[i]}})
	}
	return nil
}

// globalLayout resolves a global's absolute byte offsets within the
// reserved globals region (address 0 of linear memory, per the cheats
// overlay's buildGlobalsSchema) and its machine slot types.
func (b *funcLowerer) globalLayout(g mir.GlobalID) ([]uint32, []mtype.Machine, error) {
	if b.prog.GlobalSchema == nil || int(g) >= len(b.prog.GlobalSchema.Fields) {
		return nil, nil, errs.New(errs.SchemaViolation, "global accessed before the globals schema was built")
	}
	fd := b.prog.GlobalSchema.Fields[g]
	base := b.prog.GlobalSchema.Offsets[g]
	var offs []uint32
	var machines []mtype.Machine
	for _, s := range fd.Type.Layout {
		offs = append(offs, base+s.Offset)
		machines = append(machines, s.Type)
	}
	return offs, machines, nil
}

func (b *funcLowerer) emitAgentVarGet(hostName string, ctxNode, targetNode mir.NodeID, field string) ([]lir.ValRef, error) {
	ctx, target, err := b.emit2(ctxNode, targetNode)
	if err != nil {
		return nil, err
	}
	name := b.internStringConst(field)
	m := mtype.F64
	return []lir.ValRef{b.callImport(hostName, []lir.ValRef{ctx, target, name}, &m)}, nil
}

func (b *funcLowerer) emitAgentVarSet(hostName string, ctxNode, targetNode, valueNode mir.NodeID, field string) error {
	ctx, target, err := b.emit2(ctxNode, targetNode)
	if err != nil {
		return err
	}
	value, err := b.emit1(valueNode)
	if err != nil {
		return err
	}
	name := b.internStringConst(field)
	b.callImport(hostName, []lir.ValRef{ctx, target, name, value}, nil)
	return nil
}

func (b *funcLowerer) emitIfElse(id mir.NodeID, n *mir.Node) ([]lir.ValRef, error) {
	cond, err := b.emit1(n.Args[0])
	if err != nil {
		return nil, err
	}
	outSlots, err := b.outputSlots(id)
	if err != nil {
		return nil, err
	}
	if len(outSlots) > 1 {
		return nil, errs.New(errs.MissingLIREmitter, "if/else value must be single-slot")
	}

	thenSeq := b.lf.NewSequence()
	savedCur := b.cur
	b.cur = thenSeq
	thenVals, err := b.emitStatementList(n.Args[1])
	if err != nil {
		return nil, err
	}

	elseSeq := b.lf.NewSequence()
	b.cur = elseSeq
	elseVals, err := b.emitStatementList(n.Args[2])
	if err != nil {
		return nil, err
	}
	b.cur = savedCur

	// A structured construct's yielded value is, as in Wasm's own block/if
	// result convention, whatever its body sequence leaves behind as the
	// value of its last instruction — there is no separate LIR-level yield
	// instruction. Both arms must agree on producing (or not producing)
	// that value; a mismatch means the MIR-level join type lied about one
	// arm's value-ness, which would otherwise silently mis-stackify.
	hasValue := len(outSlots) == 1
	var valType mtype.Machine
	if hasValue {
		valType = outSlots[0]
		if len(thenVals) != 1 || len(elseVals) != 1 {
			return nil, errs.New(errs.KindMismatch, "if/else arms disagree on producing a value")
		}
	} else if len(thenVals) != 0 || len(elseVals) != 0 {
		return nil, errs.New(errs.KindMismatch, "if/else arms produce a value but the join type is unit")
	}
	insn := lir.Insn{
		Op:       lir.OpIfElse,
		Args:     []lir.ValRef{cond},
		Aux:      lir.IfElseAux{Then: thenSeq, Else: elseSeq, OutTypes: outSlots},
		HasValue: hasValue,
		ValType:  valType,
	}
	return []lir.ValRef{b.append(insn)}, nil
}

// emitRepeat lowers `repeat n [body]` as a counted loop: the count is
// evaluated once into a hidden stack slot, and each iteration checks and
// decrements it via ordinary stack loads/stores rather than a loop-carried
// LIR value (OpLoopArg is left unused by this lowering).
func (b *funcLowerer) emitRepeat(n *mir.Node) error {
	count, err := b.emit1(n.Args[0])
	if err != nil {
		return err
	}
	counterSlot := b.allocSlots(mtype.ConcreteF64)[0]
	b.append(lir.Insn{Op: lir.OpStackStore, Args: []lir.ValRef{count}, Aux: lir.StackAux{Type: mtype.F64, Offset: counterSlot.offset}})

	bodySeq := b.lf.NewSequence()
	savedCur := b.cur
	b.cur = bodySeq
	b.loopStack = append(b.loopStack, bodySeq)

	cur := b.append(lir.Insn{Op: lir.OpStackLoad, Aux: lir.StackAux{Type: mtype.F64, Offset: counterSlot.offset}, HasValue: true, ValType: mtype.F64})
	zero := b.append(lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.F64, Bits: math.Float64bits(0)}, HasValue: true, ValType: mtype.F64})
	done := b.append(lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{cur, zero}, Aux: lir.Le, HasValue: true, ValType: mtype.I8})
	b.append(lir.Insn{Op: lir.OpConditionalBreak, Args: []lir.ValRef{done}, Aux: lir.BreakAux{Target: bodySeq}})

	if _, err := b.emitStatementList(n.Args[1]); err != nil {
		return err
	}

	cur2 := b.append(lir.Insn{Op: lir.OpStackLoad, Aux: lir.StackAux{Type: mtype.F64, Offset: counterSlot.offset}, HasValue: true, ValType: mtype.F64})
	one := b.append(lir.Insn{Op: lir.OpConst, Aux: lir.ConstAux{Type: mtype.F64, Bits: math.Float64bits(1)}, HasValue: true, ValType: mtype.F64})
	next := b.append(lir.Insn{Op: lir.OpBinaryOp, Args: []lir.ValRef{cur2, one}, Aux: lir.Sub, HasValue: true, ValType: mtype.F64})
	b.append(lir.Insn{Op: lir.OpStackStore, Args: []lir.ValRef{next}, Aux: lir.StackAux{Type: mtype.F64, Offset: counterSlot.offset}})

	b.loopStack = b.loopStack[:len(b.loopStack)-1]
	b.cur = savedCur
	b.append(lir.Insn{Op: lir.OpLoop, Aux: lir.LoopAux{Body: bodySeq}})
	return nil
}

func (b *funcLowerer) emitCallUser(n *mir.Node) ([]lir.ValRef, error) {
	aux := n.Aux.(mir.CallAux)
	callee := b.prog.Func(aux.Func)

	args := make([]lir.ValRef, len(n.Args))
	for i, a := range n.Args {
		v, err := b.emit1(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	params := make([]mtype.Machine, len(callee.Params))
	for i, p := range callee.Params {
		l := b.prog.Local(p.Local)
		c := concreteOf(l.Ty)
		if l.Concrete != nil {
			c = *l.Concrete
		}
		s := machineSlots(c)
		if len(s) != 1 {
			return nil, errs.New(errs.MissingLIREmitter, "callee parameter must be single-slot", errs.WithName(callee.Name))
		}
		params[i] = s[0]
	}

	resultSlots := machineSlots(concreteOf(callee.ReturnType))
	if len(resultSlots) > 1 {
		return nil, errs.New(errs.MissingLIREmitter, "callee return type must be single-slot", errs.WithName(callee.Name))
	}
	var result *mtype.Machine
	if len(resultSlots) == 1 {
		result = &resultSlots[0]
	}

	callAux := lir.CallAux{FuncIdx: int(aux.Func), Params: params, Result: result}
	insn := lir.Insn{Op: lir.OpCallUser, Args: args, Aux: callAux, HasValue: result != nil}
	if result != nil {
		insn.ValType = *result
	}
	return []lir.ValRef{b.append(insn)}, nil
}
