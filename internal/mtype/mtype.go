// Package mtype holds the concrete, machine-level side of the compiler's
// dual type system: machine types used by LIR/Wasm, and the process-wide
// static descriptors row buffers use to manage zero-initialization and
// field drop.
package mtype

import "fmt"

// Machine is the closed set of machine types LIR/Wasm values can have.
type Machine int

const (
	I8 Machine = iota
	I16
	I32
	I64
	F64
	Ptr
	FnPtr
)

func (m Machine) String() string {
	switch m {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F64:
		return "f64"
	case Ptr:
		return "ptr"
	case FnPtr:
		return "fnptr"
	default:
		return fmt.Sprintf("machine(%d)", int(m))
	}
}

// Size returns the in-memory size, in bytes, of a machine type.
func (m Machine) Size() uint32 {
	switch m {
	case I8:
		return 1
	case I16:
		return 2
	case I32, Ptr, FnPtr:
		return 4
	case I64, F64:
		return 8
	default:
		return 0
	}
}

// Align returns the natural alignment, in bytes, of a machine type. Machine
// types are self-aligned.
func (m Machine) Align() uint32 { return m.Size() }

// Wasm returns the Wasm value-type this machine type lowers to.
func (m Machine) Wasm() WasmValType {
	switch m {
	case I64:
		return WasmI64
	case F64:
		return WasmF64
	default:
		return WasmI32
	}
}

// WasmValType is a Wasm core value type.
type WasmValType byte

const (
	WasmI32 WasmValType = 0x7F
	WasmI64 WasmValType = 0x7E
	WasmF32 WasmValType = 0x7D
	WasmF64 WasmValType = 0x7C
)

// LayoutSlot describes one machine-typed slot of a concrete type's memory
// layout, at a byte offset relative to the start of the field.
type LayoutSlot struct {
	Offset uint32
	Type   Machine
}

// Concrete is a process-wide static descriptor for one concrete run-time
// representation: a debug name, an optional
// memory-layout hint, whether the zero value is valid, and a drop thunk.
type Concrete struct {
	Name string
	// Layout is nil when the ABI is unknown (not representable as flat
	// machine slots, e.g. a boxed dynamic value living behind a pointer).
	Layout []LayoutSlot
	// IsZeroable reports whether the all-zero bit pattern is a valid value
	// of this type, i.e. whether it can live in an always-present row
	// buffer field without explicit initialization.
	IsZeroable bool
	// Drop, if non-nil, is invoked with the raw field bytes when a row
	// buffer slot holding a value of this type is cleared or dropped.
	Drop func(field []byte)
}

// Stride returns the byte size of the concrete type: the layout's highest
// (offset+size), or 0 if the layout is unknown.
func (c Concrete) Stride() uint32 {
	var max uint32
	for _, s := range c.Layout {
		end := s.Offset + s.Type.Size()
		if end > max {
			max = end
		}
	}
	return max
}

// Align returns the self-alignment of the concrete type: the maximum
// alignment of its layout slots, or 1 if the layout is unknown.
func (c Concrete) Align() uint32 {
	var max uint32 = 1
	for _, s := range c.Layout {
		if a := s.Type.Align(); a > max {
			max = a
		}
	}
	return max
}

// KnownABI reports whether the type has a flat machine-slot layout.
func (c Concrete) KnownABI() bool { return len(c.Layout) > 0 }

// Predefined concrete types for the common single-slot machine values.
var (
	ConcreteF64 = Concrete{
		Name:       "f64",
		Layout:     []LayoutSlot{{Offset: 0, Type: F64}},
		IsZeroable: true,
	}
	ConcreteI32 = Concrete{
		Name:       "i32",
		Layout:     []LayoutSlot{{Offset: 0, Type: I32}},
		IsZeroable: true,
	}
	ConcreteI64 = Concrete{
		Name:       "i64",
		Layout:     []LayoutSlot{{Offset: 0, Type: I64}},
		IsZeroable: true,
	}
	ConcreteBool = Concrete{
		Name:       "bool",
		Layout:     []LayoutSlot{{Offset: 0, Type: I8}},
		IsZeroable: true,
	}
	// ConcreteDynBox is the NaN-boxed dynamic value (package box); its
	// zero bit pattern (all zero bits) packs to float 0.0, which is valid.
	ConcreteDynBox = Concrete{
		Name:       "dynbox",
		Layout:     []LayoutSlot{{Offset: 0, Type: I64}},
		IsZeroable: true,
	}
	// ConcretePoint is an (x, y) pair of f64, used for turtle position.
	ConcretePoint = Concrete{
		Name:       "point",
		Layout:     []LayoutSlot{{Offset: 0, Type: F64}, {Offset: 8, Type: F64}},
		IsZeroable: true,
	}
	// ConcretePtr is a heap reference (string/list/agentset/closure).
	ConcretePtr = Concrete{
		Name:       "ptr",
		Layout:     []LayoutSlot{{Offset: 0, Type: Ptr}},
		IsZeroable: true,
	}
)
