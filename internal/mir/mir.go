// Package mir implements the Medium-level IR: a sea-of-nodes graph with
// structured control flow, per function, over a dual type lattice (abstract domain types joined with concrete machine
// types).
//
// Nodes follow the same closed tagged-union shape as package lir (Kind +
// ordered Args + an Aux payload): a tagged union with a dispatcher rather
// than one Go type per variant. The Program owns shared node/local tables
// of records referenced by integer id, not owned individually by each
// holder.
package mir

import (
	"fmt"

	"github.com/fieldforge/turtlec/internal/lattice"
	"github.com/fieldforge/turtlec/internal/mtype"
	"github.com/fieldforge/turtlec/internal/rowbuf"
	"github.com/fieldforge/turtlec/internal/schema"
)

// NodeID indexes Program.Nodes, the shared node table.
type NodeID int

// LocalID indexes Program.Locals, the shared local-variable table.
type LocalID int

// FuncID indexes Program.Functions.
type FuncID int

// GlobalID indexes Program.Globals.
type GlobalID int

// Kind is the closed set of MIR node variants.
type Kind int

const (
	KindConstant Kind = iota
	KindGetLocalVar
	KindSetLocalVar
	KindGetGlobalVar
	KindSetGlobalVar
	KindGetPatchVar
	KindGetTurtleVar
	KindSetPatchVar
	KindSetTurtleVar
	KindBinaryOperation
	KindUnaryOp
	KindBlock
	KindIfElse
	KindRepeat
	KindBreak
	KindStop
	KindReturn
	KindAsk
	KindCreateTurtles
	KindClearAll
	KindResetTicks
	KindAdvanceTick
	KindGetTick
	KindDiffuse
	KindPatchAt
	KindPatchRelative
	KindCanMove
	KindTurtleForward
	KindTurtleRotate
	KindOffsetDistanceByHeading
	KindEuclideanDistanceNoWrap
	KindDistancexy
	KindClosure
	KindCallUserFn
	KindMemLoad
	KindMemStore
	KindDeriveField
	KindDeriveElement
	KindScaleColor
	KindMaxPxcor
	KindMaxPycor
	KindRandomInt
	KindPointConstructor
	KindTurtleIdToIndex
	KindCheckNobody
	KindOneOf
	KindAgentset
	KindListLiteral
	KindOf
	KindSetDefaultShape
)

var kindNames = [...]string{
	"Constant", "GetLocalVar", "SetLocalVar", "GetGlobalVar", "SetGlobalVar",
	"GetPatchVar", "GetTurtleVar", "SetPatchVar", "SetTurtleVar",
	"BinaryOperation", "UnaryOp", "Block", "IfElse", "Repeat", "Break",
	"Stop", "Return", "Ask", "CreateTurtles", "ClearAll", "ResetTicks",
	"AdvanceTick", "GetTick", "Diffuse", "PatchAt", "PatchRelative",
	"CanMove", "TurtleForward", "TurtleRotate", "OffsetDistanceByHeading",
	"EuclideanDistanceNoWrap", "Distancexy", "Closure", "CallUserFn",
	"MemLoad", "MemStore", "DeriveField", "DeriveElement", "ScaleColor",
	"MaxPxcor", "MaxPycor", "RandomInt", "PointConstructor",
	"TurtleIdToIndex", "CheckNobody", "OneOf", "Agentset", "ListLiteral",
	"Of", "SetDefaultShape",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// BinOp is the closed set of source-level binary operators.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
)

// UnOp is the closed set of source-level unary operators.
type UnOp int

const (
	Neg UnOp = iota
	Not
)

// ConstKind discriminates the payload carried by a Constant node.
type ConstKind int

const (
	ConstNumber ConstKind = iota
	ConstString
	ConstBoolean
	ConstNobody
)

// Aux payloads. One struct per Kind that needs more than its ordered Args.
type (
	ConstAux struct {
		Kind ConstKind
		Num  float64
		Str  string
		Bool bool
	}
	LocalAux struct{ Local LocalID }
	GlobalAux struct{ Global GlobalID }
	FieldAux  struct{ Field string }
	BinAux    struct{ Op BinOp }
	UnAux     struct{ Op UnOp }
	CallAux   struct{ Func FuncID }
	ClosureAux struct {
		Func     FuncID
		Captures []NodeID
	}
	BreedAux    struct{ Breed string }
	PatchRelAux struct{ Ahead bool } // false => patch-right-and-ahead
	AgentsetAux struct {
		Kind  AgentKind
		Breed string // "" => every agent of Kind
	}
	SetDefaultShapeAux struct {
		Breed string
		Shape string
	}
)

// AgentKind discriminates which population an Agentset node draws from.
type AgentKind int

const (
	AgentTurtle AgentKind = iota
	AgentPatch
	AgentLink
)

// Node is one MIR node: a Kind, ordered data-flow dependencies, and an
// optional Kind-specific Aux payload.
type Node struct {
	Kind Kind
	Args []NodeID
	Aux  interface{}
}

// MirTy is a node's dual type: an optional abstract domain type
// and an optional concrete machine representation.
type MirTy struct {
	Abstract *lattice.Type
	Concrete *mtype.Concrete
}

func Abstract(t lattice.Type) MirTy { return MirTy{Abstract: &t} }

// Repr returns the concrete representation: Concrete if set, else the
// canonical projection of Abstract.
func (t MirTy) Repr() mtype.Concrete {
	if t.Concrete != nil {
		return *t.Concrete
	}
	if t.Abstract != nil {
		return lattice.CanonicalConcrete(*t.Abstract)
	}
	return mtype.ConcreteDynBox
}

// Local is one entry of the shared local-variable table: a declared
// abstract type (initially Top for inferred locals, refined by the cheats
// overlay's type-inference pass) and optional concrete override.
type Local struct {
	Name     string
	Ty       lattice.Type
	Concrete *mtype.Concrete
}

// ParamKind discriminates explicit source parameters from the implicit
// locals every non-global procedure gets.
type ParamKind int

const (
	ParamEnv ParamKind = iota
	ParamContext
	ParamSelf
	ParamExplicit
)

// Param names one parameter local and its role.
type Param struct {
	Local LocalID
	Kind  ParamKind
}

// Function is one MIR function: parameters (explicit + implicit), its
// locals, return type, and a single root node.
type Function struct {
	ID           FuncID
	Name         string
	IsEntrypoint bool
	AgentClass   lattice.Type // Top for observer-class (no self), else Turtle/Patch/Link
	Params       []Param
	Locals       []LocalID
	ReturnType   lattice.Type
	Root         NodeID
}

// Breed is a named turtle subtype with its own custom variables.
type Breed struct {
	Name       string
	CustomVars []LocalID
}

// Program owns every function, the shared node/local tables, global
// variable slots, turtle breeds, and the (optionally cheats-finalized)
// turtle/patch schemas.
type Program struct {
	Nodes  []Node
	Locals []Local

	Globals      []LocalID
	GlobalSchema *rowbuf.Schema // nil until the cheats overlay builds it

	// TurtleBreeds is "either a fully populated or partial map": a name
	// absent from the map means "breed exists in the source but its
	// schema/custom-vars are not yet known to this pass".
	TurtleBreeds map[string]*Breed

	CustomTurtleVars []LocalID
	CustomPatchVars  []LocalID

	TurtleSchema *schema.AgentSchema
	PatchSchema  *schema.AgentSchema

	Functions []*Function

	// FuncByName supports CallUserFn resolution and cheats function
	// annotation lookup; built incrementally by AddFunction.
	FuncByName map[string]FuncID
}

// NewProgram returns an empty program ready for incremental construction.
func NewProgram() *Program {
	return &Program{
		TurtleBreeds: map[string]*Breed{},
		FuncByName:   map[string]FuncID{},
	}
}

// AddNode appends a node to the shared table and returns its id.
func (p *Program) AddNode(n Node) NodeID {
	p.Nodes = append(p.Nodes, n)
	return NodeID(len(p.Nodes) - 1)
}

func (p *Program) Node(id NodeID) *Node { return &p.Nodes[id] }

// AddLocal appends a local to the shared table and returns its id.
func (p *Program) AddLocal(l Local) LocalID {
	p.Locals = append(p.Locals, l)
	return LocalID(len(p.Locals) - 1)
}

func (p *Program) Local(id LocalID) *Local { return &p.Locals[id] }

// AddFunction registers a function (by pointer so later passes, e.g.
// cheats, can mutate it in place) and indexes it by name.
func (p *Program) AddFunction(f *Function) FuncID {
	f.ID = FuncID(len(p.Functions))
	p.Functions = append(p.Functions, f)
	p.FuncByName[f.Name] = f.ID
	return f.ID
}

func (p *Program) Func(id FuncID) *Function { return p.Functions[id] }

// LookupFunc resolves a procedure name to its FuncID.
func (p *Program) LookupFunc(name string) (FuncID, bool) {
	id, ok := p.FuncByName[name]
	return id, ok
}

// ArgLabels returns the debug labels for a node's ordered Args, one name
// per position, used for error messages and the lowering builder's trace
// output.
func ArgLabels(k Kind) []string {
	if labels, ok := argLabelTable[k]; ok {
		return labels
	}
	return nil
}

var argLabelTable = map[Kind][]string{
	KindSetLocalVar:             {"value"},
	KindGetPatchVar:              {"ctx", "patch"},
	KindGetTurtleVar:             {"ctx", "turtle"},
	KindSetPatchVar:              {"ctx", "patch", "value"},
	KindSetTurtleVar:             {"ctx", "turtle", "value"},
	KindBinaryOperation:          {"lhs", "rhs"},
	KindUnaryOp:                  {"operand"},
	KindIfElse:                   {"cond", "then", "else"},
	KindRepeat:                   {"count", "block"},
	KindReturn:                   {"value"},
	KindAsk:                      {"ctx", "recipients", "body"},
	KindCreateTurtles:            {"ctx", "num", "body"},
	KindClearAll:                 {"ctx"},
	KindResetTicks:               {"ctx"},
	KindAdvanceTick:              {"ctx"},
	KindGetTick:                  {"ctx"},
	KindDiffuse:                  {"ctx", "amount"},
	KindPatchAt:                  {"ctx", "x", "y"},
	KindPatchRelative:            {"ctx", "turtle", "dist"},
	KindCanMove:                  {"ctx", "turtle", "dist"},
	KindTurtleForward:            {"ctx", "turtle", "dist"},
	KindTurtleRotate:             {"ctx", "turtle", "angle"},
	KindOffsetDistanceByHeading:  {"heading", "dist"},
	KindEuclideanDistanceNoWrap:  {"a", "b"},
	KindDistancexy:               {"ctx", "turtle", "x", "y"},
	KindScaleColor:               {"base", "value", "min", "max"},
	KindMaxPxcor:                 {"ctx"},
	KindMaxPycor:                 {"ctx"},
	KindRandomInt:                {"ctx", "bound"},
	KindPointConstructor:         {"x", "y"},
	KindTurtleIdToIndex:          {"turtle"},
	KindCheckNobody:              {"value"},
	KindOneOf:                    {"ctx", "agentset"},
	KindOf:                       {"ctx", "target", "body"},
	KindSetDefaultShape:          {"ctx"},
}
