package lattice

import "github.com/fieldforge/turtlec/internal/mtype"

// CanonicalConcrete returns the concrete representation an abstract type
// projects to when no more specific concrete type has been assigned.
//
// Turtle/Patch/Link resolve to a plain i32 id rather than a boxed value:
// core arithmetic paths bypass NaN-boxing once
// inference assigns a concrete agent kind; only the fully dynamic `Agent`
// supertype (and Top/Bottom, the unresolved cases) fall back to the boxed
// representation.
func CanonicalConcrete(t Type) mtype.Concrete {
	switch t.Kind {
	case Unit:
		return mtype.Concrete{Name: "unit", IsZeroable: true}
	case Numeric, Float, Color:
		return mtype.ConcreteF64
	case Boolean:
		return mtype.ConcreteBool
	case Point:
		return mtype.ConcretePoint
	case Turtle, Patch, Link, Nobody:
		return mtype.ConcreteI32
	case String, List, Agentset, Closure:
		return mtype.ConcretePtr
	default: // Agent, Top, Bottom
		return mtype.ConcreteDynBox
	}
}
