// Peephole rewrites, run as a bounded fixed-point pass over a function's
// reachable nodes and wired into cmd/turtlec's pipeline between cheats
// application and lowering.
//
// There is no separate legalization (lowering-expand) pass: every node
// kind internal/translate ever constructs already has a direct emitter in
// internal/lower's switch, so no producible MIR shape is left for such a
// pass to rewrite away.
//
// The fixed-point loop is bounded by a flat rewrite-attempt counter, not a
// wall-clock rate limiter: the compiler is a synchronous single-pass
// pipeline and the same AST+cheats input must always produce the same
// output. A time-based budget would make whether a function's peephole
// pass succeeds depend on CPU contention — the same input could compile on
// a fast machine and fail on a loaded one. Exhausting the budget surfaces
// as a compile error instead of hanging.
package mir

import (
	"github.com/fieldforge/turtlec/internal/errs"
)

// Transform is a local rewrite: replace the node at the rewritten id with
// Replacement in place (same NodeID, new content) — other nodes' Args
// referencing it keep working unchanged.
type Transform struct {
	Replacement Node
}

// PeepholeTransform attempts a pure local rewrite of the node at id. Currently: constant folding of
// BinaryOperation/UnaryOp over two/one Constant operands.
func (p *Program) PeepholeTransform(id NodeID) (*Transform, bool) {
	n := p.Node(id)
	switch n.Kind {
	case KindUnaryOp:
		c, ok := p.asConstNumber(n.Args[0])
		if !ok {
			return nil, false
		}
		switch n.Aux.(UnAux).Op {
		case Neg:
			return &Transform{Replacement: Node{Kind: KindConstant, Aux: ConstAux{Kind: ConstNumber, Num: -c}}}, true
		}
		return nil, false

	case KindBinaryOperation:
		a, aok := p.asConstNumber(n.Args[0])
		b, bok := p.asConstNumber(n.Args[1])
		if !aok || !bok {
			return nil, false
		}
		op := n.Aux.(BinAux).Op
		switch op {
		case Add:
			return constNum(a + b), true
		case Sub:
			return constNum(a - b), true
		case Mul:
			return constNum(a * b), true
		case Div:
			if b == 0 {
				return nil, false
			}
			return constNum(a / b), true
		case Lt:
			return constBool(a < b), true
		case Le:
			return constBool(a <= b), true
		case Gt:
			return constBool(a > b), true
		case Ge:
			return constBool(a >= b), true
		case Eq:
			return constBool(a == b), true
		case Ne:
			return constBool(a != b), true
		}
	}
	return nil, false
}

func (p *Program) asConstNumber(id NodeID) (float64, bool) {
	n := p.Node(id)
	if n.Kind != KindConstant {
		return 0, false
	}
	aux := n.Aux.(ConstAux)
	if aux.Kind != ConstNumber {
		return 0, false
	}
	return aux.Num, true
}

func constNum(v float64) *Transform {
	return &Transform{Replacement: Node{Kind: KindConstant, Aux: ConstAux{Kind: ConstNumber, Num: v}}}
}

func constBool(v bool) *Transform {
	return &Transform{Replacement: Node{Kind: KindConstant, Aux: ConstAux{Kind: ConstBoolean, Bool: v}}}
}

// RewriteBudget bounds the number of rewrite applications RunPeephole will
// attempt for a single function before giving up: a flat cap on rewrite
// applications, not a function of elapsed time.
type RewriteBudget struct {
	MaxRewrites int64
}

// DefaultRewriteBudget allows generous but finite peephole churn: ten
// thousand rewrite applications per function, far more than any reachable
// node count could need at a genuine fixed point.
var DefaultRewriteBudget = RewriteBudget{MaxRewrites: 10000}

// RunPeephole repeatedly applies PeepholeTransform to fn's reachable nodes
// until a fixed point or the rewrite budget is exhausted.
func (p *Program) RunPeephole(fn *Function, budget RewriteBudget) error {
	var applied int64
	for {
		changed := false
		for _, id := range p.WalkFunc(fn) {
			t, ok := p.PeepholeTransform(id)
			if !ok {
				continue
			}
			if applied >= budget.MaxRewrites {
				return errs.New(errs.StackifyInvariant,
					"peephole rewrite budget exhausted without reaching a fixed point",
					errs.WithFn(fn.Name))
			}
			applied++
			*p.Node(id) = t.Replacement
			changed = true
		}
		if !changed {
			return nil
		}
	}
}
