// Package box implements the NaN-boxed dynamic value: a single 64-bit
// value that is either a plain float64 or a tagged payload hidden in the
// mantissa of a quiet NaN.
package box

import (
	"fmt"
	"math"
)

// Box is a NaN-boxed dynamic value.
type Box uint64

const (
	maskExp     uint64 = 0x7FF0000000000000
	maskQuiet   uint64 = 0x0008000000000000
	maskTag     uint64 = 0x0007000000000000
	shiftTag           = 48
	maskPayload uint64 = 0x0000FFFFFFFFFFFF
	signBit48   uint64 = 0x0000800000000000
)

// Tag identifies the dynamic kind of a boxed value. TagFloat is not stored
// explicitly; it is the absence of a recognized boxed tag.
type Tag int

const (
	TagFloat Tag = iota
	TagInt
	TagBool
	TagTurtle
	TagPatch
	TagLink
	TagPointer
)

func (t Tag) String() string {
	switch t {
	case TagFloat:
		return "float"
	case TagInt:
		return "int"
	case TagBool:
		return "bool"
	case TagTurtle:
		return "turtle"
	case TagPatch:
		return "patch"
	case TagLink:
		return "link"
	case TagPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// tagBits maps a Tag to its 3-bit encoding. 0 is reserved to mean "not
// boxed, this is a canonicalized float NaN".
var tagBits = map[Tag]uint64{
	TagInt:     1,
	TagBool:    2,
	TagTurtle:  3,
	TagPatch:   4,
	TagLink:    5,
	TagPointer: 6,
}

var bitsToTag = func() map[uint64]Tag {
	m := map[uint64]Tag{}
	for t, b := range tagBits {
		m[b] = t
	}
	return m
}()

// NobodyPatchID is the sentinel patch id used to represent `nobody` in the
// typed (non-boxed) case.
const NobodyPatchID uint32 = math.MaxUint32

func isBoxedBits(bits uint64) bool {
	if bits&maskExp != maskExp {
		return false
	}
	if bits&maskQuiet == 0 {
		return false
	}
	return (bits & maskTag) != 0
}

func box(tag Tag, payload uint64) Box {
	return Box(maskExp | maskQuiet | (tagBits[tag] << shiftTag) | (payload & maskPayload))
}

// PackFloat packs a float64. Real NaN payloads are canonicalized to a
// single reserved bit pattern (tag 0) so they are never confused with a
// boxed value.
func PackFloat(f float64) Box {
	bits := math.Float64bits(f)
	if math.IsNaN(f) {
		bits = maskExp | maskQuiet
	}
	return Box(bits)
}

// PackInt packs a signed integer into the 48-bit payload (sign-extended on
// unpack).
func PackInt(v int64) Box { return box(TagInt, uint64(v)&maskPayload) }

// PackBool packs a boolean with the canonical payloads 0/1.
func PackBool(v bool) Box {
	if v {
		return box(TagBool, 1)
	}
	return box(TagBool, 0)
}

func PackTurtle(id uint32) Box  { return box(TagTurtle, uint64(id)) }
func PackPatch(id uint32) Box   { return box(TagPatch, uint64(id)) }
func PackLink(id uint32) Box    { return box(TagLink, uint64(id)) }
func PackPointer(p uint64) Box  { return box(TagPointer, p) }

// Nobody is the canonical `nobody` value, represented as a patch id equal
// to the sentinel.
func Nobody() Box { return PackPatch(NobodyPatchID) }

// Kind reports the dynamic tag of the value.
func (b Box) Kind() Tag {
	bits := uint64(b)
	if !isBoxedBits(bits) {
		return TagFloat
	}
	if t, ok := bitsToTag[(bits&maskTag)>>shiftTag]; ok {
		return t
	}
	return TagFloat
}

func (b Box) payload() uint64 { return uint64(b) & maskPayload }

// Float returns the float64 value and true iff the box holds a float.
func (b Box) Float() (float64, bool) {
	if b.Kind() != TagFloat {
		return 0, false
	}
	return math.Float64frombits(uint64(b)), true
}

// Int returns the sign-extended integer payload and true iff the box
// holds an int.
func (b Box) Int() (int64, bool) {
	if b.Kind() != TagInt {
		return 0, false
	}
	p := b.payload()
	if p&signBit48 != 0 {
		p |= ^maskPayload // sign extend
	}
	return int64(p), true
}

func (b Box) Bool() (bool, bool) {
	if b.Kind() != TagBool {
		return false, false
	}
	return b.payload() != 0, true
}

func (b Box) TurtleID() (uint32, bool) {
	if b.Kind() != TagTurtle {
		return 0, false
	}
	return uint32(b.payload()), true
}

func (b Box) PatchID() (uint32, bool) {
	if b.Kind() != TagPatch {
		return 0, false
	}
	return uint32(b.payload()), true
}

func (b Box) LinkID() (uint32, bool) {
	if b.Kind() != TagLink {
		return 0, false
	}
	return uint32(b.payload()), true
}

func (b Box) Pointer() (uint64, bool) {
	if b.Kind() != TagPointer {
		return 0, false
	}
	return b.payload(), true
}

// IsNobody reports whether the box is the canonical `nobody` identity,
// irrespective of whether it was packed as a patch/turtle/link sentinel.
func (b Box) IsNobody() bool {
	switch b.Kind() {
	case TagPatch:
		id, _ := b.PatchID()
		return id == NobodyPatchID
	case TagTurtle:
		id, _ := b.TurtleID()
		return id == NobodyPatchID
	case TagLink:
		id, _ := b.LinkID()
		return id == NobodyPatchID
	default:
		return false
	}
}

// UnsupportedOpError is returned when an arithmetic/comparison op is
// attempted on a pair of types that have no defined semantics; callers
// that need total operators must check types first.
type UnsupportedOpError struct {
	Op       string
	Lhs, Rhs Tag
}

func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("%s on %s and %s not supported", e.Op, e.Lhs, e.Rhs)
}

// Add adds two boxes: float+float or int+int. Any other pairing fails.
func Add(a, bx Box) (Box, error) { return arith("add", a, bx, func(x, y float64) float64 { return x + y }, func(x, y int64) int64 { return x + y }) }
func Sub(a, bx Box) (Box, error) { return arith("sub", a, bx, func(x, y float64) float64 { return x - y }, func(x, y int64) int64 { return x - y }) }
func Mul(a, bx Box) (Box, error) { return arith("mul", a, bx, func(x, y float64) float64 { return x * y }, func(x, y int64) int64 { return x * y }) }

// Div always produces a float, matching the source language's reporter
// `/` which promotes to float.
func Div(a, bx Box) (Box, error) {
	af, aok := a.Float()
	bf, bok := bx.Float()
	if !aok {
		if iv, ok := a.Int(); ok {
			af, aok = float64(iv), true
		}
	}
	if !bok {
		if iv, ok := bx.Int(); ok {
			bf, bok = float64(iv), true
		}
	}
	if !aok || !bok {
		return 0, &UnsupportedOpError{Op: "div", Lhs: a.Kind(), Rhs: bx.Kind()}
	}
	return PackFloat(af / bf), nil
}

func arith(op string, a, bx Box, ff func(float64, float64) float64, fi func(int64, int64) int64) (Box, error) {
	if af, ok := a.Float(); ok {
		if bf, ok := bx.Float(); ok {
			return PackFloat(ff(af, bf)), nil
		}
	}
	if ai, ok := a.Int(); ok {
		if bi, ok := bx.Int(); ok {
			return PackInt(fi(ai, bi)), nil
		}
	}
	return 0, &UnsupportedOpError{Op: op, Lhs: a.Kind(), Rhs: bx.Kind()}
}

// Equal reports structural equality between two boxes. Unlike the
// arithmetic ops, equality is total: values of different kinds are simply
// unequal rather than an error, except that two differently-tagged
// `nobody` identities compare equal.
func Equal(a, bx Box) bool {
	if a.IsNobody() && bx.IsNobody() {
		return true
	}
	if a.Kind() != bx.Kind() {
		return false
	}
	return uint64(a) == uint64(bx)
}

// Less compares two boxes numerically (float/int only); other pairings
// report the UnsupportedOpError.
func Less(a, bx Box) (bool, error) {
	if af, ok := a.Float(); ok {
		if bf, ok := bx.Float(); ok {
			return af < bf, nil
		}
	}
	if ai, ok := a.Int(); ok {
		if bi, ok := bx.Int(); ok {
			return ai < bi, nil
		}
	}
	return false, &UnsupportedOpError{Op: "compare", Lhs: a.Kind(), Rhs: bx.Kind()}
}
