package translate

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/config"
	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/mir"
	"github.com/fieldforge/turtlec/internal/mtype"
	"github.com/fieldforge/turtlec/internal/rowbuf"
	"github.com/fieldforge/turtlec/internal/schema"
)

// ApplyCheats applies the cheats overlay to an already-translated
// program: typed variable declarations, schema construction, per-function self-class annotations, and local/return
// type inference, in that order (schemas need the var types; inference
// needs the annotated self-classes to resolve agent-var accesses
// correctly).
func ApplyCheats(prog *mir.Program, c *config.Cheats) error {
	if err := applyVarType(prog, prog.Globals, c.GlobalsVarTypes); err != nil {
		return err
	}
	if err := applyVarType(prog, prog.CustomPatchVars, c.PatchVarTypes); err != nil {
		return err
	}
	if err := applyVarType(prog, prog.CustomTurtleVars, c.TurtleVarTypes); err != nil {
		return err
	}

	if err := buildGlobalsSchema(prog); err != nil {
		return err
	}
	if err := buildPatchSchema(prog, c.PatchSchema); err != nil {
		return err
	}
	if err := buildTurtleSchema(prog, c.TurtleSchema); err != nil {
		return err
	}

	if err := applyFunctionCheats(prog, c.Functions); err != nil {
		return err
	}

	inferTypes(prog)
	return nil
}

func applyVarType(prog *mir.Program, ids []mir.LocalID, decls []config.VarType) error {
	for _, d := range decls {
		kind, ok := lattice.ParseKind(d.Type)
		if !ok {
			return errs.New(errs.SchemaViolation, fmt.Sprintf("unknown type name %q", d.Type), errs.WithName(d.Name))
		}
		found := false
		for _, id := range ids {
			l := prog.Local(id)
			if l.Name == d.Name {
				l.Ty = lattice.T(kind)
				found = true
				break
			}
		}
		if !found {
			return errs.New(errs.SchemaViolation, "cheats declares a type for an undeclared variable", errs.WithName(d.Name))
		}
	}
	return nil
}

func concreteOf(kind string) (mtype.Concrete, error) {
	k, ok := lattice.ParseKind(kind)
	if !ok {
		return mtype.Concrete{}, fmt.Errorf("unknown type name %q", kind)
	}
	return lattice.CanonicalConcrete(lattice.T(k)), nil
}

// buildGlobalsSchema builds the row-buffer schema for global variable
// storage: one bitfield-gated buffer
// holding every declared global in declaration order.
func buildGlobalsSchema(prog *mir.Program) error {
	if len(prog.Globals) == 0 {
		return nil
	}
	fields := make([]rowbuf.FieldDecl, len(prog.Globals))
	for i, id := range prog.Globals {
		l := prog.Local(id)
		fields[i] = rowbuf.FieldDecl{Name: l.Name, Type: lattice.CanonicalConcrete(l.Ty)}
	}
	s, err := rowbuf.NewSchema(fields, true)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "building globals schema")
	}
	prog.GlobalSchema = s
	return nil
}

func customFieldDecls(prog *mir.Program, declared []mir.LocalID, ctor []config.CustomFieldCtor) ([]schema.CustomFieldDecl, error) {
	out := make([]schema.CustomFieldDecl, 0, len(ctor))
	for _, cf := range ctor {
		concrete, err := concreteOf(cf.Type)
		if err != nil {
			return nil, errs.Wrap(errs.SchemaViolation, err, "custom field type", errs.WithName(cf.Name))
		}
		out = append(out, schema.CustomFieldDecl{Name: cf.Name, Type: concrete, BufferIdx: cf.BufferIdx})
	}
	return out, nil
}

func buildPatchSchema(prog *mir.Program, s config.SchemaSpec) error {
	if s.Type != config.SchemaCtor {
		return nil
	}
	custom, err := customFieldDecls(prog, prog.CustomPatchVars, s.CustomFields)
	if err != nil {
		return err
	}
	built, err := schema.NewPatchSchema(s.PcolorBufferIdx, custom, s.AvoidOccupancyBitfield)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "building patch schema")
	}
	prog.PatchSchema = built
	return nil
}

func buildTurtleSchema(prog *mir.Program, s config.SchemaSpec) error {
	if s.Type != config.SchemaCtor {
		return nil
	}
	custom, err := customFieldDecls(prog, prog.CustomTurtleVars, s.CustomFields)
	if err != nil {
		return err
	}
	built, err := schema.NewTurtleSchema(s.HeadingBufferIdx, s.PositionBufferIdx, custom, s.AvoidOccupancyBitfield)
	if err != nil {
		return errs.Wrap(errs.SchemaViolation, err, "building turtle schema")
	}
	prog.TurtleSchema = built
	return nil
}

func applyFunctionCheats(prog *mir.Program, fcs []config.FunctionCheat) error {
	for _, fc := range fcs {
		fid, ok := prog.LookupFunc(fc.Name)
		if !ok {
			return errs.New(errs.SchemaViolation, "cheats annotates an undeclared function", errs.WithName(fc.Name))
		}
		if fc.SelfClass == "" {
			continue
		}
		kind, ok := lattice.ParseKind(fc.SelfClass)
		if !ok {
			return errs.New(errs.SchemaViolation, fmt.Sprintf("unknown self-class %q", fc.SelfClass), errs.WithName(fc.Name))
		}
		fn := prog.Func(fid)
		fn.AgentClass = lattice.T(kind)
		for _, p := range fn.Params {
			if p.Kind == mir.ParamSelf {
				prog.Local(p.Local).Ty = lattice.T(kind)
			}
		}
	}
	return nil
}

// inferTypes walks every function and assigns each local the least upper
// bound of every value ever assigned to it, and each wildcard-declared
// function's return type the LUB of every reported value. An explicit procedure parameter, declared Top by the skeleton pass,
// is additionally assigned the LUB of every argument expression passed at
// its position across all call sites, so caller and callee agree on the
// parameter's machine representation without a per-parameter cheat.
func inferTypes(prog *mir.Program) {
	paramAssigned := map[mir.LocalID][]lattice.Type{}

	for _, fn := range prog.Functions {
		assigned := map[mir.LocalID][]lattice.Type{}
		var returns []lattice.Type

		for _, id := range prog.WalkFunc(fn) {
			n := prog.Node(id)
			switch n.Kind {
			case mir.KindSetLocalVar:
				ty, err := prog.OutputType(fn, n.Args[0])
				if err == nil && ty.Abstract != nil {
					aux := n.Aux.(mir.LocalAux)
					assigned[aux.Local] = append(assigned[aux.Local], *ty.Abstract)
				}
			case mir.KindReturn:
				if len(n.Args) == 0 {
					continue
				}
				ty, err := prog.OutputType(fn, n.Args[0])
				if err == nil && ty.Abstract != nil {
					returns = append(returns, *ty.Abstract)
				}
			case mir.KindCallUserFn:
				callee := prog.Func(n.Aux.(mir.CallAux).Func)
				for i, a := range n.Args {
					if i >= len(callee.Params) {
						break
					}
					p := callee.Params[i]
					if p.Kind != mir.ParamExplicit {
						continue
					}
					ty, err := prog.OutputType(fn, a)
					if err == nil && ty.Abstract != nil {
						paramAssigned[p.Local] = append(paramAssigned[p.Local], *ty.Abstract)
					}
				}
			}
		}

		for id, types := range assigned {
			l := prog.Local(id)
			if l.Ty.Kind == lattice.Top {
				l.Ty = lattice.JoinAll(types)
			}
		}

		if fn.ReturnType.Kind == lattice.Top {
			fn.ReturnType = lattice.JoinAll(returns)
		}
	}

	for id, types := range paramAssigned {
		l := prog.Local(id)
		if l.Ty.Kind == lattice.Top {
			l.Ty = lattice.JoinAll(types)
		}
	}
}
