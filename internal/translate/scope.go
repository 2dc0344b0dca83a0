// Package translate implements the AST→MIR translator and the cheats
// overlay: scope resolution, closure lifting, schema application, and
// type inference.
package translate

import (
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/mir"
)

// referentKind discriminates what a resolved name refers to.
type referentKind int

const (
	referentGlobal referentKind = iota
	referentTurtleVar
	referentPatchVar
	referentBreed
	referentProcedure
	referentConstant
)

type referent struct {
	kind   referentKind
	global mir.GlobalID
	name   string // turtle/patch var name, breed name, or procedure name
	constVal float64
}

// globalScope maps names to referents with a fixed-priority search order:
// constants, globals, turtle vars, patch vars, turtle breeds, user
// procedures. A Bloom filter of every known name gates the lookup so the
// common "unknown identifier" error path costs one filter probe instead of
// walking every map on a miss.
type globalScope struct {
	known      *bloom.BloomFilter
	constants  map[string]referent
	globals    map[string]referent
	turtleVars map[string]referent
	patchVars  map[string]referent
	breeds     map[string]referent
	procedures map[string]referent
}

// builtinConstants are the fixed-value identifiers the source language
// exposes as bare names.
var builtinConstants = map[string]float64{
	"true":  1,
	"false": 0,
}

func newGlobalScope(a *ast.Ast, prog *mir.Program) *globalScope {
	total := len(a.GlobalNames.GlobalVars) + len(a.GlobalNames.TurtleVars) +
		len(a.GlobalNames.PatchVars) + len(a.Procedures) + len(builtinConstants) + 16
	s := &globalScope{
		known:      bloom.NewWithEstimates(uint(total), 0.01),
		constants:  map[string]referent{},
		globals:    map[string]referent{},
		turtleVars: map[string]referent{},
		patchVars:  map[string]referent{},
		breeds:     map[string]referent{},
		procedures: map[string]referent{},
	}

	for name, v := range builtinConstants {
		s.add(name, referent{kind: referentConstant, name: name, constVal: v}, s.constants)
	}

	for _, name := range a.GlobalNames.GlobalVars {
		id := prog.AddLocal(mir.Local{Name: name, Ty: lattice.T(lattice.Top)})
		gid := mir.GlobalID(len(prog.Globals))
		prog.Globals = append(prog.Globals, id)
		s.add(name, referent{kind: referentGlobal, global: gid, name: name}, s.globals)
	}

	for _, name := range a.GlobalNames.TurtleVars {
		if _, isBuiltin := builtinTurtleVarNames[name]; !isBuiltin {
			id := prog.AddLocal(mir.Local{Name: name, Ty: lattice.T(lattice.Top)})
			prog.CustomTurtleVars = append(prog.CustomTurtleVars, id)
		}
		s.add(name, referent{kind: referentTurtleVar, name: name}, s.turtleVars)
	}

	for _, name := range a.GlobalNames.PatchVars {
		if name != "pcolor" {
			id := prog.AddLocal(mir.Local{Name: name, Ty: lattice.T(lattice.Top)})
			prog.CustomPatchVars = append(prog.CustomPatchVars, id)
		}
		s.add(name, referent{kind: referentPatchVar, name: name}, s.patchVars)
	}

	for _, proc := range a.Procedures {
		s.add(proc.Name, referent{kind: referentProcedure, name: proc.Name}, s.procedures)
	}

	return s
}

var builtinTurtleVarNames = map[string]bool{
	"who": true, "color": true, "size": true, "heading": true, "breed": true,
	"position": true,
}

func (s *globalScope) add(name string, r referent, into map[string]referent) {
	s.known.AddString(name)
	into[name] = r
}

// lookup resolves a name by fixed priority; constants > globals > turtle
// vars > patch vars > breeds > procedures.
func (s *globalScope) lookup(name string) (referent, error) {
	if !s.known.TestString(name) {
		return referent{}, errs.New(errs.UnknownName, "unknown identifier", errs.WithName(name))
	}
	if r, ok := s.constants[name]; ok {
		return r, nil
	}
	if r, ok := s.globals[name]; ok {
		return r, nil
	}
	if r, ok := s.turtleVars[name]; ok {
		return r, nil
	}
	if r, ok := s.patchVars[name]; ok {
		return r, nil
	}
	if r, ok := s.breeds[name]; ok {
		return r, nil
	}
	if r, ok := s.procedures[name]; ok {
		return r, nil
	}
	// Bloom false positive: genuinely unknown.
	return referent{}, errs.New(errs.UnknownName, "unknown identifier", errs.WithName(name))
}

func (s *globalScope) requireProcedure(name string) error {
	if _, err := s.lookup(name); err != nil {
		return err
	}
	if _, ok := s.procedures[name]; !ok {
		return errs.New(errs.KindMismatch, fmt.Sprintf("%q is not a procedure", name), errs.WithName(name))
	}
	return nil
}
