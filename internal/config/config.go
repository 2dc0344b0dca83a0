// Package config decodes the cheats overlay document: the configuration
// that annotates MIR with concrete agent schemas, variable types, and
// per-function self-parameter classes.
package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fieldforge/turtlec/internal/errs"
)

// VarType names one declared variable's abstract type by lattice kind name
// (decoded against `lattice.Kind.String()` spellings by `internal/translate`,
// kept as a string here so this package stays independent of `lattice`).
type VarType struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SchemaKind discriminates the two schema-construction shapes a cheats
// document may carry.
type SchemaKind string

const (
	SchemaDefault SchemaKind = "default"
	SchemaCtor    SchemaKind = "ctor"
)

// CustomFieldCtor is one custom-field entry of a ctor schema: its declared
// type name and destination buffer index.
type CustomFieldCtor struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BufferIdx int    `json:"buffer_idx"`
}

// SchemaSpec is the cheats document's schema-constructor payload for
// either patches or turtles.
type SchemaSpec struct {
	Type SchemaKind `json:"type"`

	// Ctor fields; only populated when Type == SchemaCtor.
	PcolorBufferIdx        int               `json:"pcolor_buffer_idx,omitempty"`
	HeadingBufferIdx       int               `json:"heading_buffer_idx,omitempty"`
	PositionBufferIdx      int               `json:"position_buffer_idx,omitempty"`
	CustomFields           []CustomFieldCtor `json:"custom_fields,omitempty"`
	AvoidOccupancyBitfield []bool            `json:"avoid_occupancy_bitfield,omitempty"`
}

// FunctionCheat is one per-function annotation: the
// concrete agent class to assign the function's `self` parameter.
type FunctionCheat struct {
	Name      string `json:"name"`
	SelfClass string `json:"self_class,omitempty"`
}

// Cheats is the full configuration document.
type Cheats struct {
	GlobalsVarTypes []VarType       `json:"globals_var_types"`
	GlobalsSchema   SchemaSpec      `json:"globals_schema"`
	PatchVarTypes   []VarType       `json:"patch_var_types"`
	PatchSchema     SchemaSpec      `json:"patch_schema"`
	TurtleVarTypes  []VarType       `json:"turtle_var_types"`
	TurtleSchema    SchemaSpec      `json:"turtle_schema"`
	Functions       []FunctionCheat `json:"functions"`
}

// Load decodes and validates a cheats document from r, surfacing malformed
// documents as `errs.SchemaViolation`.
func Load(r io.Reader) (*Cheats, error) {
	var c Cheats
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, errs.Wrap(errs.SchemaViolation, err, "malformed cheats document")
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(c *Cheats) error {
	if err := validateSchemaSpec("patch_schema", c.PatchSchema); err != nil {
		return err
	}
	if err := validateSchemaSpec("turtle_schema", c.TurtleSchema); err != nil {
		return err
	}
	return nil
}

func validateSchemaSpec(field string, s SchemaSpec) error {
	if s.Type != SchemaDefault && s.Type != SchemaCtor {
		return errs.New(errs.SchemaViolation,
			fmt.Sprintf("%s: unknown schema type %q", field, s.Type),
			errs.WithName(field))
	}
	if s.Type == SchemaCtor {
		for _, cf := range s.CustomFields {
			if cf.BufferIdx < 0 {
				return errs.New(errs.SchemaViolation,
					fmt.Sprintf("%s: custom field %q has negative buffer index", field, cf.Name),
					errs.WithName(cf.Name))
			}
		}
	}
	return nil
}
