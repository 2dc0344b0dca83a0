// Package lattice implements the abstract type lattice: the
// join-semilattice over the source language's value categories, used by
// the cheats overlay to infer local-variable and return types.
package lattice

import (
	"fmt"
	"strings"
)

// Kind is the closed set of abstract type constructors.
type Kind int

const (
	Unit Kind = iota
	Top
	Bottom
	Numeric
	Color
	Float
	Boolean
	String
	Point
	Agent
	Patch
	Turtle
	Link
	Agentset
	Nobody
	Closure
	List
)

func (k Kind) String() string {
	names := [...]string{
		"Unit", "Top", "Bottom", "Numeric", "Color", "Float", "Boolean",
		"String", "Point", "Agent", "Patch", "Turtle", "Link", "Agentset",
		"Nobody", "Closure", "List",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is one element of the lattice. Composite kinds carry their payload
// in Inner (Agentset/List) or Arg/Ret (Closure).
type Type struct {
	Kind  Kind
	Inner *Type
	Arg   *Type
	Ret   *Type
}

func T(k Kind) Type { return Type{Kind: k} }

var kindByName = map[string]Kind{
	"unit": Unit, "top": Top, "bottom": Bottom, "numeric": Numeric,
	"color": Color, "float": Float, "boolean": Boolean, "string": String,
	"point": Point, "agent": Agent, "patch": Patch, "turtle": Turtle,
	"link": Link, "agentset": Agentset, "nobody": Nobody, "closure": Closure,
	"list": List,
}

// ParseKind resolves a cheats-document type name to a lattice
// Kind, case-insensitively. Composite kinds (Agentset/List/Closure)
// resolve to their bare Kind without payload; the cheats overlay only
// ever names simple scalar kinds for variable declarations.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindByName[strings.ToLower(name)]
	return k, ok
}

func AgentsetOf(inner Type) Type { return Type{Kind: Agentset, Inner: &inner} }
func ListOf(inner Type) Type     { return Type{Kind: List, Inner: &inner} }
func ClosureOf(arg, ret Type) Type {
	return Type{Kind: Closure, Arg: &arg, Ret: &ret}
}

func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case Agentset, List:
		if t.Inner == nil || o.Inner == nil {
			return t.Inner == o.Inner
		}
		return t.Inner.Equal(*o.Inner)
	case Closure:
		if t.Arg == nil || o.Arg == nil || t.Ret == nil || o.Ret == nil {
			return false
		}
		return t.Arg.Equal(*o.Arg) && t.Ret.Equal(*o.Ret)
	default:
		return true
	}
}

func (t Type) String() string {
	switch t.Kind {
	case Agentset:
		return fmt.Sprintf("Agentset{%s}", t.Inner)
	case List:
		return fmt.Sprintf("List{%s}", t.Inner)
	case Closure:
		return fmt.Sprintf("Closure{%s,%s}", t.Arg, t.Ret)
	default:
		return t.Kind.String()
	}
}

// isAgentLike reports whether k is one of Turtle/Patch/Link/Agent, the
// sub-kinds that join upward to Agent.
func isAgentLike(k Kind) bool {
	switch k {
	case Agent, Turtle, Patch, Link:
		return true
	default:
		return false
	}
}

// isNumericLike reports whether k joins upward to Numeric.
func isNumericLike(k Kind) bool {
	switch k {
	case Numeric, Float, Color:
		return true
	default:
		return false
	}
}

// Join computes the least upper bound of two lattice elements. Bottom is
// the identity; Top absorbs everything; otherwise equal types join to
// themselves, compatible composite types join element-wise, and otherwise
// incomparable types join to Top.
func Join(a, b Type) Type {
	if a.Kind == Bottom {
		return b
	}
	if b.Kind == Bottom {
		return a
	}
	if a.Kind == Top || b.Kind == Top {
		return T(Top)
	}
	if a.Equal(b) {
		return a
	}

	if isAgentLike(a.Kind) && isAgentLike(b.Kind) {
		return T(Agent)
	}
	if isNumericLike(a.Kind) && isNumericLike(b.Kind) {
		return T(Numeric)
	}
	if a.Kind == Agentset && b.Kind == Agentset {
		return AgentsetOf(Join(*a.Inner, *b.Inner))
	}
	if a.Kind == List && b.Kind == List {
		return ListOf(Join(*a.Inner, *b.Inner))
	}
	if (a.Kind == Nobody && isAgentLike(b.Kind)) || (b.Kind == Nobody && isAgentLike(a.Kind)) {
		if isAgentLike(a.Kind) {
			return a
		}
		return b
	}

	return T(Top)
}

// JoinAll folds Join over a slice, returning Unit for an empty slice so
// that a procedure with no reported values infers a Unit return type.
func JoinAll(ts []Type) Type {
	if len(ts) == 0 {
		return T(Unit)
	}
	acc := T(Bottom)
	for _, t := range ts {
		acc = Join(acc, t)
	}
	return acc
}
