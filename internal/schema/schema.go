// Package schema implements the agent-schema engine: it maps logical
// turtle/patch fields onto (buffer, offset) pairs across a hybrid
// struct-of-arrays layout, built from named field groups assigned to
// fixed buffer slots.
package schema

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/mtype"
	"github.com/fieldforge/turtlec/internal/rowbuf"
)

// Concrete types shared by every agent schema's base data and the two
// fixed fields (heading+position for turtles, pcolor for patches).
var (
	ConcreteAgentBase = mtype.Concrete{
		Name:       "agent_base",
		Layout:     []mtype.LayoutSlot{{Offset: 0, Type: mtype.I32}, {Offset: 4, Type: mtype.I32}},
		IsZeroable: true,
	}
	ConcretePoint = mtype.ConcretePoint
)

// CustomFieldDecl is a user-declared custom variable placed into a
// specific buffer.
type CustomFieldDecl struct {
	Name      string
	Type      mtype.Concrete
	BufferIdx int
}

// FieldRef locates one logical field at (buffer, field-within-buffer).
type FieldRef struct {
	BufferIdx int
	FieldIdx  int
}

// Group is one field group of an agent schema: an ordered field list
// destined for a single row buffer, plus whether that buffer opts out of
// the occupancy bitfield.
type Group struct {
	AvoidOccupancyBitfield bool
	Fields                 []rowbuf.FieldDecl
}

// AgentSchema is the compiled mapping from logical agent fields to row
// buffers, shared by turtle and patch schemas.
type AgentSchema struct {
	Groups     []Group
	RowSchemas []*rowbuf.Schema // one per buffer index, nil if unbuilt

	// Base data (who/generation) is always group 0, field 0.
	Base FieldRef

	Custom map[string]FieldRef
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func ensureLen(groups []Group, n int) []Group {
	for len(groups) < n {
		groups = append(groups, Group{})
	}
	return groups
}

// buildRowSchemas constructs one rowbuf.Schema per populated group,
// failing if any group ends up empty.
func buildRowSchemas(groups []Group) ([]*rowbuf.Schema, error) {
	out := make([]*rowbuf.Schema, len(groups))
	for i, g := range groups {
		if len(g.Fields) == 0 {
			return nil, fmt.Errorf("schema: buffer %d has an empty field group", i)
		}
		s, err := rowbuf.NewSchema(g.Fields, !g.AvoidOccupancyBitfield)
		if err != nil {
			return nil, fmt.Errorf("schema: buffer %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// NewTurtleSchema builds the agent schema for turtles.
// headingBuf/positionBuf name which buffer the fixed heading/position
// fields live in; custom fields are distributed to their declared buffer;
// avoidOccupancy[i] disables the bitfield for buffer i.
func NewTurtleSchema(headingBuf, positionBuf int, custom []CustomFieldDecl, avoidOccupancy []bool) (*AgentSchema, error) {
	numBuffers := maxInt(headingBuf, positionBuf) + 1
	for _, c := range custom {
		numBuffers = maxInt(numBuffers, c.BufferIdx+1)
	}

	groups := ensureLen(nil, numBuffers)
	for i := range groups {
		if i < len(avoidOccupancy) {
			groups[i].AvoidOccupancyBitfield = avoidOccupancy[i]
		}
	}

	groups[0].Fields = append(groups[0].Fields, rowbuf.FieldDecl{Name: "__base", Type: ConcreteAgentBase})

	headingIdx := len(groups[headingBuf].Fields)
	groups[headingBuf].Fields = append(groups[headingBuf].Fields, rowbuf.FieldDecl{Name: "heading", Type: mtype.ConcreteF64})

	positionIdx := len(groups[positionBuf].Fields)
	groups[positionBuf].Fields = append(groups[positionBuf].Fields, rowbuf.FieldDecl{Name: "position", Type: ConcretePoint})

	customRefs := make(map[string]FieldRef, len(custom))
	for _, c := range custom {
		idx := len(groups[c.BufferIdx].Fields)
		groups[c.BufferIdx].Fields = append(groups[c.BufferIdx].Fields, rowbuf.FieldDecl{Name: c.Name, Type: c.Type})
		customRefs[c.Name] = FieldRef{BufferIdx: c.BufferIdx, FieldIdx: idx}
	}
	customRefs["heading"] = FieldRef{BufferIdx: headingBuf, FieldIdx: headingIdx}
	customRefs["position"] = FieldRef{BufferIdx: positionBuf, FieldIdx: positionIdx}

	rowSchemas, err := buildRowSchemas(groups)
	if err != nil {
		return nil, err
	}
	return &AgentSchema{
		Groups:     groups,
		RowSchemas: rowSchemas,
		Base:       FieldRef{BufferIdx: 0, FieldIdx: 0},
		Custom:     customRefs,
	}, nil
}

// NewPatchSchema builds the agent schema for patches: analogous to turtles
// with `pcolor` replacing heading/position.
func NewPatchSchema(pcolorBuf int, custom []CustomFieldDecl, avoidOccupancy []bool) (*AgentSchema, error) {
	numBuffers := pcolorBuf + 1
	for _, c := range custom {
		numBuffers = maxInt(numBuffers, c.BufferIdx+1)
	}

	groups := ensureLen(nil, numBuffers)
	for i := range groups {
		if i < len(avoidOccupancy) {
			groups[i].AvoidOccupancyBitfield = avoidOccupancy[i]
		}
	}

	groups[0].Fields = append(groups[0].Fields, rowbuf.FieldDecl{Name: "__base", Type: ConcreteAgentBase})

	pcolorIdx := len(groups[pcolorBuf].Fields)
	groups[pcolorBuf].Fields = append(groups[pcolorBuf].Fields, rowbuf.FieldDecl{Name: "pcolor", Type: mtype.ConcreteF64})

	customRefs := make(map[string]FieldRef, len(custom))
	for _, c := range custom {
		idx := len(groups[c.BufferIdx].Fields)
		groups[c.BufferIdx].Fields = append(groups[c.BufferIdx].Fields, rowbuf.FieldDecl{Name: c.Name, Type: c.Type})
		customRefs[c.Name] = FieldRef{BufferIdx: c.BufferIdx, FieldIdx: idx}
	}
	customRefs["pcolor"] = FieldRef{BufferIdx: pcolorBuf, FieldIdx: pcolorIdx}

	rowSchemas, err := buildRowSchemas(groups)
	if err != nil {
		return nil, err
	}
	return &AgentSchema{
		Groups:     groups,
		RowSchemas: rowSchemas,
		Base:       FieldRef{BufferIdx: 0, FieldIdx: 0},
		Custom:     customRefs,
	}, nil
}

// VarOffset is the triple host-side helpers use for direct field access:
// which buffer, its row stride, and the field's byte offset within a row.
type VarOffset struct {
	BufferIdx    int
	RowStride    uint32
	FieldOffset  uint32
}

// Offset resolves a named field to its (buffer, stride, offset) triple.
func (s *AgentSchema) Offset(name string) (VarOffset, error) {
	ref, ok := s.Custom[name]
	if !ok {
		return VarOffset{}, fmt.Errorf("schema: no such field %q", name)
	}
	rs := s.RowSchemas[ref.BufferIdx]
	return VarOffset{
		BufferIdx:   ref.BufferIdx,
		RowStride:   rs.Stride,
		FieldOffset: rs.Offsets[ref.FieldIdx],
	}, nil
}
