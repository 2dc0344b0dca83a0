// Package rowbuf implements the row-buffer storage engine: typed,
// optionally-sparse row arrays with dynamic schemas.
package rowbuf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fieldforge/turtlec/internal/mtype"
)

func alignUp(x, a uint32) uint32 {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}

// FieldDecl names one field of a row schema.
type FieldDecl struct {
	Name string
	Type mtype.Concrete
}

// Schema is an ordered list of field descriptors plus the derived stride,
// with an optional per-row occupancy bitfield prepended.
type Schema struct {
	Fields        []FieldDecl
	Offsets       []uint32
	Stride        uint32
	HasBitfield   bool
	BitfieldBytes uint32
}

// NewSchema builds a Schema by aligning each field declaration in order and
// padding the row to its own alignment. If withBitfield is false (the
// always-present case) every field must be zero-valid.
func NewSchema(fields []FieldDecl, withBitfield bool) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("rowbuf: schema must declare at least one field")
	}

	var maxAlign uint32 = 1
	for _, f := range fields {
		if a := f.Type.Align(); a > maxAlign {
			maxAlign = a
		}
		if !withBitfield && !f.Type.IsZeroable {
			return nil, fmt.Errorf("rowbuf: field %q is not zeroable in an always-present schema", f.Name)
		}
	}

	var bitfieldBytes, offset uint32
	if withBitfield {
		bitfieldBytes = uint32((len(fields) + 7) / 8)
		offset = alignUp(bitfieldBytes, maxAlign)
	}

	offsets := make([]uint32, len(fields))
	for i, f := range fields {
		offset = alignUp(offset, f.Type.Align())
		offsets[i] = offset
		offset += f.Type.Stride()
	}

	return &Schema{
		Fields:        fields,
		Offsets:       offsets,
		Stride:        alignUp(offset, maxAlign),
		HasBitfield:   withBitfield,
		BitfieldBytes: bitfieldBytes,
	}, nil
}

// IsSingleFieldAlwaysPresent reports whether the schema is exactly one
// field, always-present, of the given machine type — the condition under
// which `take_array`/`TakeArray` may reinterpret storage as a contiguous
// T[].
func (s *Schema) IsSingleFieldAlwaysPresent(want mtype.Machine) bool {
	if s.HasBitfield || len(s.Fields) != 1 {
		return false
	}
	layout := s.Fields[0].Type.Layout
	return len(layout) == 1 && layout[0].Type == want && s.Offsets[0] == 0
}

// Buffer is a row buffer: N rows laid out per Schema, at base+i*stride.
type Buffer struct {
	Schema *Schema
	data   []byte
	rows   uint32
}

// New creates a row buffer with the given schema and initial row capacity,
// zero-initialized.
func New(schema *Schema, initialRows uint32) (*Buffer, error) {
	return &Buffer{
		Schema: schema,
		data:   make([]byte, uint64(schema.Stride)*uint64(initialRows)),
		rows:   initialRows,
	}, nil
}

// NumRows returns the current row capacity.
func (b *Buffer) NumRows() uint32 { return b.rows }

// Row returns the raw bytes of row i as a read/write view; Go slices make
// no read-only/mutable distinction, so there is no separate mutable
// accessor.
func (b *Buffer) Row(i uint32) ([]byte, error) {
	if i >= b.rows {
		return nil, fmt.Errorf("rowbuf: row %d out of range (rows=%d)", i, b.rows)
	}
	off := uint64(i) * uint64(b.Schema.Stride)
	return b.data[off : off+uint64(b.Schema.Stride)], nil
}

// EnsureCapacity grows the buffer to at least n rows, preserving existing
// row contents.
func (b *Buffer) EnsureCapacity(n uint32) error {
	if n <= b.rows {
		return nil
	}
	grown := make([]byte, uint64(b.Schema.Stride)*uint64(n))
	copy(grown, b.data)
	b.data = grown
	b.rows = n
	return nil
}

func (b *Buffer) fieldBit(row []byte, field int) (byteIdx int, bitMask byte) {
	return field / 8, 1 << uint(field%8)
}

// HasField reports whether the field is present in the row. In
// always-present schemas every field is always present.
func (b *Buffer) HasField(i uint32, field int) (bool, error) {
	if !b.Schema.HasBitfield {
		return true, nil
	}
	row, err := b.Row(i)
	if err != nil {
		return false, err
	}
	byteIdx, mask := b.fieldBit(row, field)
	return row[byteIdx]&mask != 0, nil
}

func (b *Buffer) setPresence(row []byte, field int, present bool) {
	byteIdx, mask := b.fieldBit(row, field)
	if present {
		row[byteIdx] |= mask
	} else {
		row[byteIdx] &^= mask
	}
}

func (b *Buffer) dropField(row []byte, field int) {
	fd := b.Schema.Fields[field]
	if fd.Type.Drop == nil {
		return
	}
	off := b.Schema.Offsets[field]
	fd.Type.Drop(row[off : off+fd.Type.Stride()])
}

// checkMachine verifies the schema declares `field` as a single-slot value
// of machine type `want` at offset 0 of the field, and returns the byte
// range of the field within a row.
func (b *Buffer) checkMachine(field int, want mtype.Machine) (lo, hi uint32, err error) {
	if field < 0 || field >= len(b.Schema.Fields) {
		return 0, 0, fmt.Errorf("rowbuf: field index %d out of range", field)
	}
	fd := b.Schema.Fields[field]
	if len(fd.Type.Layout) != 1 || fd.Type.Layout[0].Type != want {
		return 0, 0, fmt.Errorf("rowbuf: field %q has type %s, not %s", fd.Name, fd.Type.Name, want)
	}
	off := b.Schema.Offsets[field]
	return off, off + fd.Type.Stride(), nil
}

// InsertF64 writes a float64 into an absent field and marks it present.
func (b *Buffer) InsertF64(i uint32, field int, v float64) error {
	return b.insert(i, field, mtype.F64, func(row []byte, lo, hi uint32) {
		binary.LittleEndian.PutUint64(row[lo:hi], math.Float64bits(v))
	})
}

// InsertI32 writes an int32 into an absent field and marks it present.
func (b *Buffer) InsertI32(i uint32, field int, v int32) error {
	return b.insert(i, field, mtype.I32, func(row []byte, lo, hi uint32) {
		binary.LittleEndian.PutUint32(row[lo:hi], uint32(v))
	})
}

// InsertU64 writes a raw uint64 (used for dynbox/pointer-sized fields)
// into an absent field and marks it present.
func (b *Buffer) InsertU64(i uint32, field int, v uint64) error {
	return b.insert(i, field, mtype.I64, func(row []byte, lo, hi uint32) {
		binary.LittleEndian.PutUint64(row[lo:hi], v)
	})
}

func (b *Buffer) insert(i uint32, field int, want mtype.Machine, write func(row []byte, lo, hi uint32)) error {
	lo, hi, err := b.checkMachine(field, want)
	if err != nil {
		return err
	}
	row, err := b.Row(i)
	if err != nil {
		return err
	}
	if present, _ := b.HasField(i, field); present {
		return fmt.Errorf("rowbuf: field %d already present on row %d", field, i)
	}
	write(row, lo, hi)
	if b.Schema.HasBitfield {
		b.setPresence(row, field, true)
	}
	return nil
}

// InsertZeroable marks a field present, leaving its already-zeroed bytes
// in place. Fails if the field's type is not zeroable.
func (b *Buffer) InsertZeroable(i uint32, field int) error {
	if field < 0 || field >= len(b.Schema.Fields) {
		return fmt.Errorf("rowbuf: field index %d out of range", field)
	}
	fd := b.Schema.Fields[field]
	if !fd.Type.IsZeroable {
		return fmt.Errorf("rowbuf: field %q is not zeroable", fd.Name)
	}
	row, err := b.Row(i)
	if err != nil {
		return err
	}
	if b.Schema.HasBitfield {
		b.setPresence(row, field, true)
	}
	return nil
}

// TakeF64 removes and returns a float64 field, zeroing its slot and
// marking it absent. Fails on an always-present schema (fields there can
// never be absent).
func (b *Buffer) TakeF64(i uint32, field int) (float64, error) {
	lo, hi, err := b.checkMachine(field, mtype.F64)
	if err != nil {
		return 0, err
	}
	row, err := b.take(i, field, lo, hi)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(row[lo:hi])), nil
}

// TakeI32 removes and returns an int32 field.
func (b *Buffer) TakeI32(i uint32, field int) (int32, error) {
	lo, hi, err := b.checkMachine(field, mtype.I32)
	if err != nil {
		return 0, err
	}
	row, err := b.take(i, field, lo, hi)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(row[lo:hi])), nil
}

func (b *Buffer) take(i uint32, field int, lo, hi uint32) ([]byte, error) {
	if !b.Schema.HasBitfield {
		return nil, fmt.Errorf("rowbuf: take on always-present schema not allowed")
	}
	row, err := b.Row(i)
	if err != nil {
		return nil, err
	}
	present, _ := b.HasField(i, field)
	if !present {
		return nil, fmt.Errorf("rowbuf: field %d absent on row %d", field, i)
	}
	// snapshot before zeroing
	out := make([]byte, b.Schema.Stride)
	copy(out, row)
	b.dropField(row, field)
	for k := lo; k < hi; k++ {
		row[k] = 0
	}
	b.setPresence(row, field, false)
	return out, nil
}

// GetF64 reads a float64 field, reporting presence.
func (b *Buffer) GetF64(i uint32, field int) (val float64, present bool, err error) {
	lo, hi, err := b.checkMachine(field, mtype.F64)
	if err != nil {
		return 0, false, err
	}
	row, err := b.Row(i)
	if err != nil {
		return 0, false, err
	}
	present, err = b.HasField(i, field)
	if err != nil || !present {
		return 0, present, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(row[lo:hi])), true, nil
}

// Clear drops every present field in every row (bitfield schemas only).
func (b *Buffer) Clear() error {
	if !b.Schema.HasBitfield {
		return fmt.Errorf("rowbuf: clear on always-present schema not allowed")
	}
	for i := uint32(0); i < b.rows; i++ {
		row, _ := b.Row(i)
		for f := range b.Schema.Fields {
			byteIdx, mask := b.fieldBit(row, f)
			if row[byteIdx]&mask != 0 {
				b.dropField(row, f)
			}
		}
		for k := range row {
			row[k] = 0
		}
	}
	return nil
}

// ChangeSchema rebuilds every row under a new schema, calling remap(oldRow,
// newRow) for each row to migrate field values.
func (b *Buffer) ChangeSchema(newSchema *Schema, remap func(oldRow, newRow []byte)) error {
	newData := make([]byte, uint64(newSchema.Stride)*uint64(b.rows))
	for i := uint32(0); i < b.rows; i++ {
		oldOff := uint64(i) * uint64(b.Schema.Stride)
		newOff := uint64(i) * uint64(newSchema.Stride)
		oldRow := b.data[oldOff : oldOff+uint64(b.Schema.Stride)]
		newRow := newData[newOff : newOff+uint64(newSchema.Stride)]
		if remap != nil {
			remap(oldRow, newRow)
		}
	}
	b.Schema = newSchema
	b.data = newData
	return nil
}

// TakeArrayF64 steals storage as a []float64, replacing it with a
// zeroed buffer of the same row count. Only valid when the schema is a
// single f64 field, always-present, at offset 0.
func (b *Buffer) TakeArrayF64() ([]float64, error) {
	if !b.Schema.IsSingleFieldAlwaysPresent(mtype.F64) {
		return nil, fmt.Errorf("rowbuf: schema is not a single always-present f64 field")
	}
	out := make([]float64, b.rows)
	for i := range out {
		off := uint64(i) * uint64(b.Schema.Stride)
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b.data[off : off+8]))
	}
	b.data = make([]byte, len(b.data))
	return out, nil
}
