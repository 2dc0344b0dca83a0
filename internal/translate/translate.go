package translate

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/logx"
	"github.com/fieldforge/turtlec/internal/mir"
	"github.com/fieldforge/turtlec/internal/mtype"
)

var log = logx.Named("translate")

// localScope is a stack of lexical frames mapping source names (let
// bindings and procedure args) to LocalIDs, innermost frame first.
type localScope struct {
	frames []map[string]mir.LocalID
}

func newLocalScope() *localScope { return &localScope{frames: []map[string]mir.LocalID{{}}} }

func (s *localScope) push() { s.frames = append(s.frames, map[string]mir.LocalID{}) }
func (s *localScope) pop()  { s.frames = s.frames[:len(s.frames)-1] }

func (s *localScope) bind(name string, id mir.LocalID) { s.frames[len(s.frames)-1][name] = id }

func (s *localScope) lookup(name string) (mir.LocalID, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if id, ok := s.frames[i][name]; ok {
			return id, true
		}
	}
	return 0, false
}

// builder carries per-function translation state through statement and
// expression building, including ephemeral closure lifting.
type builder struct {
	prog   *mir.Program
	scope  *globalScope
	fn     *mir.Function
	locals *localScope
	ctx    mir.LocalID // this function's context-pointer implicit local
	self   mir.LocalID // this function's self-agent implicit local; zero if observer
	hasSelf bool
}

// Translate builds a complete mir.Program from a parsed AST.
func Translate(a *ast.Ast) (*mir.Program, error) {
	prog := mir.NewProgram()
	scope := newGlobalScope(a, prog)

	// Default turtle breed: present before any breed
	// cheats/declarations refine it further.
	prog.TurtleBreeds["turtles"] = &mir.Breed{Name: "turtles"}

	// First pass: skeletons for every procedure, so forward references
	// (mutual recursion) resolve in the second pass.
	for i := range a.Procedures {
		if err := declareSkeleton(prog, scope, &a.Procedures[i]); err != nil {
			return nil, err
		}
	}

	// Second pass: build bodies.
	for i := range a.Procedures {
		proc := &a.Procedures[i]
		fid, _ := prog.LookupFunc(proc.Name)
		fn := prog.Func(fid)
		if err := buildBody(prog, scope, fn, proc); err != nil {
			return nil, errs.Wrap(errs.KindMismatch, err, "building procedure body", errs.WithFn(proc.Name))
		}
		log.Debug("translated procedure", logx.String("name", proc.Name))
	}

	return prog, nil
}

func procAgentClass(c ast.AgentClass) lattice.Type {
	// "all classes can execute" collapses to observer.
	switch {
	case c.Turtle && !c.Patch && !c.Link:
		return lattice.T(lattice.Turtle)
	case c.Patch && !c.Turtle && !c.Link:
		return lattice.T(lattice.Patch)
	case c.Link && !c.Turtle && !c.Patch:
		return lattice.T(lattice.Link)
	default:
		return lattice.T(lattice.Top) // observer
	}
}

func declareSkeleton(prog *mir.Program, scope *globalScope, proc *ast.Procedure) error {
	agentClass := procAgentClass(proc.AgentClass)

	fn := &mir.Function{
		Name:       proc.Name,
		AgentClass: agentClass,
		ReturnType: lattice.T(lattice.Top),
		// Every source-declared procedure is host-invocable and gets an
		// indirect-table slot; lifted closure bodies are not (they are
		// address-taken on demand when a Closure node references them).
		IsEntrypoint: true,
	}
	if proc.ReturnType == ast.ReturnUnit {
		fn.ReturnType = lattice.T(lattice.Unit)
	}

	// The execution context is an opaque host pointer, not a dynamic value:
	// pin its machine representation so host calls receive a Ptr.
	ctxLocal := prog.AddLocal(mir.Local{Name: "__ctx", Ty: lattice.T(lattice.Top), Concrete: &mtype.ConcretePtr})
	fn.Locals = append(fn.Locals, ctxLocal)
	fn.Params = append(fn.Params, mir.Param{Local: ctxLocal, Kind: mir.ParamContext})

	if agentClass.Kind != lattice.Top {
		selfLocal := prog.AddLocal(mir.Local{Name: "__self", Ty: agentClass})
		fn.Locals = append(fn.Locals, selfLocal)
		fn.Params = append(fn.Params, mir.Param{Local: selfLocal, Kind: mir.ParamSelf})
	}

	for _, argName := range proc.ArgNames {
		id := prog.AddLocal(mir.Local{Name: argName, Ty: lattice.T(lattice.Top)})
		fn.Locals = append(fn.Locals, id)
		fn.Params = append(fn.Params, mir.Param{Local: id, Kind: mir.ParamExplicit})
	}

	prog.AddFunction(fn)
	return nil
}

func buildBody(prog *mir.Program, scope *globalScope, fn *mir.Function, proc *ast.Procedure) error {
	locals := newLocalScope()
	var ctxLocal, selfLocal mir.LocalID
	hasSelf := fn.AgentClass.Kind != lattice.Top
	i := 0
	ctxLocal = fn.Locals[i]
	locals.bind("__ctx", ctxLocal)
	i++
	if hasSelf {
		selfLocal = fn.Locals[i]
		locals.bind("__self", selfLocal)
		i++
	}
	for _, argName := range proc.ArgNames {
		locals.bind(argName, fn.Locals[i])
		i++
	}

	b := &builder{prog: prog, scope: scope, fn: fn, locals: locals, ctx: ctxLocal, self: selfLocal, hasSelf: hasSelf}

	root, err := b.buildBlock(proc.Statements)
	if err != nil {
		return err
	}
	fn.Root = root
	return nil
}

// buildBlock translates an ordered list of statements into a Block node.
func (b *builder) buildBlock(stmts []ast.Node) (mir.NodeID, error) {
	args := make([]mir.NodeID, 0, len(stmts))
	for _, s := range stmts {
		id, err := b.buildStatement(s)
		if err != nil {
			return 0, err
		}
		args = append(args, id)
	}
	return b.prog.AddNode(mir.Node{Kind: mir.KindBlock, Args: args}), nil
}

func (b *builder) buildStatement(n ast.Node) (mir.NodeID, error) {
	switch n.Tag {
	case ast.TagLetBinding:
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("translate: let binding %q expects exactly one value", n.Name)
		}
		val, err := b.buildExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		id := b.prog.AddLocal(mir.Local{Name: n.Name, Ty: lattice.T(lattice.Top)})
		b.fn.Locals = append(b.fn.Locals, id)
		b.locals.bind(n.Name, id)
		return b.prog.AddNode(mir.Node{Kind: mir.KindSetLocalVar, Args: []mir.NodeID{val}, Aux: mir.LocalAux{Local: id}}), nil

	case ast.TagCommandApp:
		return b.buildCommand(n)

	default:
		// Bare reporter procedure call used as a statement (its value is
		// discarded): treat uniformly with expression translation.
		return b.buildExpr(n)
	}
}

// buildExpr translates any expression-position node.
func (b *builder) buildExpr(n ast.Node) (mir.NodeID, error) {
	switch n.Tag {
	case ast.TagNumber:
		return b.prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstNumber, Num: n.NumberValue}}), nil

	case ast.TagString:
		return b.prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstString, Str: n.StringValue}}), nil

	case ast.TagNobody:
		return b.prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstNobody}}), nil

	case ast.TagList:
		args := make([]mir.NodeID, 0, len(n.Args))
		for _, el := range n.Args {
			id, err := b.buildExpr(el)
			if err != nil {
				return 0, err
			}
			args = append(args, id)
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindListLiteral, Args: args}), nil

	case ast.TagLetRef:
		id, ok := b.locals.lookup(n.Name)
		if !ok {
			return 0, errs.New(errs.UnknownName, "unbound let reference", errs.WithName(n.Name))
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: id}}), nil

	case ast.TagProcedureArgRef:
		id, ok := b.locals.lookup(n.Name)
		if !ok {
			return 0, errs.New(errs.UnknownName, "unbound procedure argument", errs.WithName(n.Name))
		}
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: id}}), nil

	case ast.TagReporterCall:
		return b.buildReporter(n)

	case ast.TagReporterProcCall:
		return b.buildUserCall(n)

	case ast.TagReporterBlock, ast.TagCommandBlock:
		// A bare block in expression position is lifted as a closure with
		// no explicit argument name bound yet; callers (ask/of/create-
		// turtles) build the closure themselves via buildClosure so they
		// can name the implicit parameter. Reaching here means a block
		// literal was used where a plain value was expected.
		return 0, fmt.Errorf("translate: block used directly as a value")

	default:
		return 0, fmt.Errorf("translate: unsupported expression tag %q", n.Tag)
	}
}

func resolveVarSet(b *builder, name string, value mir.NodeID) (mir.NodeID, error) {
	if id, ok := b.locals.lookup(name); ok {
		return b.prog.AddNode(mir.Node{Kind: mir.KindSetLocalVar, Args: []mir.NodeID{value}, Aux: mir.LocalAux{Local: id}}), nil
	}
	ref, err := b.scope.lookup(name)
	if err != nil {
		return 0, err
	}
	switch ref.kind {
	case referentGlobal:
		return b.prog.AddNode(mir.Node{Kind: mir.KindSetGlobalVar, Args: []mir.NodeID{value}, Aux: mir.GlobalAux{Global: ref.global}}), nil
	case referentTurtleVar:
		if !b.hasSelf || b.fn.AgentClass.Kind != lattice.Turtle {
			return 0, errs.New(errs.KindMismatch, "turtle variable set outside turtle context", errs.WithName(name))
		}
		self := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.self}})
		ctx := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.ctx}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindSetTurtleVar, Args: []mir.NodeID{ctx, self, value}, Aux: mir.FieldAux{Field: name}}), nil
	case referentPatchVar:
		if !b.hasSelf || b.fn.AgentClass.Kind != lattice.Patch {
			return 0, errs.New(errs.KindMismatch, "patch variable set outside patch context", errs.WithName(name))
		}
		self := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.self}})
		ctx := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.ctx}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindSetPatchVar, Args: []mir.NodeID{ctx, self, value}, Aux: mir.FieldAux{Field: name}}), nil
	default:
		return 0, errs.New(errs.KindMismatch, "cannot set a constant or procedure", errs.WithName(name))
	}
}

func resolveVarGet(b *builder, name string) (mir.NodeID, error) {
	if id, ok := b.locals.lookup(name); ok {
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: id}}), nil
	}
	ref, err := b.scope.lookup(name)
	if err != nil {
		return 0, err
	}
	switch ref.kind {
	case referentConstant:
		return b.prog.AddNode(mir.Node{Kind: mir.KindConstant, Aux: mir.ConstAux{Kind: mir.ConstNumber, Num: ref.constVal}}), nil
	case referentGlobal:
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetGlobalVar, Aux: mir.GlobalAux{Global: ref.global}}), nil
	case referentTurtleVar:
		self := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.self}})
		ctx := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.ctx}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetTurtleVar, Args: []mir.NodeID{ctx, self}, Aux: mir.FieldAux{Field: name}}), nil
	case referentPatchVar:
		self := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.self}})
		ctx := b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.ctx}})
		return b.prog.AddNode(mir.Node{Kind: mir.KindGetPatchVar, Args: []mir.NodeID{ctx, self}, Aux: mir.FieldAux{Field: name}}), nil
	default:
		return 0, errs.New(errs.KindMismatch, "name does not refer to a value", errs.WithName(name))
	}
}

func (b *builder) getCtx() mir.NodeID {
	return b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.ctx}})
}

func (b *builder) getSelf() mir.NodeID {
	return b.prog.AddNode(mir.Node{Kind: mir.KindGetLocalVar, Aux: mir.LocalAux{Local: b.self}})
}

func (b *builder) buildUserCall(n ast.Node) (mir.NodeID, error) {
	if err := b.scope.requireProcedure(n.Command); err != nil {
		return 0, err
	}
	fid, _ := b.prog.LookupFunc(n.Command)
	args := make([]mir.NodeID, 0, len(n.Args)+2)
	args = append(args, b.getCtx())
	callee := b.prog.Func(fid)
	if callee.AgentClass.Kind != lattice.Top {
		args = append(args, b.getSelf())
	}
	for _, a := range n.Args {
		id, err := b.buildExpr(a)
		if err != nil {
			return 0, err
		}
		args = append(args, id)
	}
	return b.prog.AddNode(mir.Node{Kind: mir.KindCallUserFn, Args: args, Aux: mir.CallAux{Func: fid}}), nil
}

// buildClosure lifts an ask/create-turtles/of body block into a synthetic
// MIR function with implicit parameters (env, context, self) and emits a
// Closure node referencing it. selfClass is the
// concrete agent class the closure's self parameter should carry.
func (b *builder) buildClosure(body []ast.Node, selfClass lattice.Type) (mir.NodeID, error) {
	name := fmt.Sprintf("%s$closure%d", b.fn.Name, len(b.prog.Functions))
	fn := &mir.Function{Name: name, AgentClass: selfClass, ReturnType: lattice.T(lattice.Unit)}

	envLocal := b.prog.AddLocal(mir.Local{Name: "__env", Ty: lattice.T(lattice.Top), Concrete: &mtype.ConcretePtr})
	ctxLocal := b.prog.AddLocal(mir.Local{Name: "__ctx", Ty: lattice.T(lattice.Top), Concrete: &mtype.ConcretePtr})
	selfLocal := b.prog.AddLocal(mir.Local{Name: "__self", Ty: selfClass})
	fn.Locals = []mir.LocalID{envLocal, ctxLocal, selfLocal}
	fn.Params = []mir.Param{
		{Local: envLocal, Kind: mir.ParamEnv},
		{Local: ctxLocal, Kind: mir.ParamContext},
		{Local: selfLocal, Kind: mir.ParamSelf},
	}
	b.prog.AddFunction(fn)

	inner := &builder{
		prog:   b.prog,
		scope:  b.scope,
		fn:     fn,
		locals: newLocalScope(),
		ctx:    ctxLocal,
		self:   selfLocal,
		hasSelf: true,
	}
	inner.locals.bind("__ctx", ctxLocal)
	inner.locals.bind("__self", selfLocal)

	root, err := inner.buildBlock(body)
	if err != nil {
		return 0, err
	}
	fn.Root = root

	// Capture lists are reserved but empty for the MVP.
	return b.prog.AddNode(mir.Node{Kind: mir.KindClosure, Aux: mir.ClosureAux{Func: fn.ID}}), nil
}
