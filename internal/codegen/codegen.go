// Package codegen implements the LIR-to-Wasm codegen pass: given a
// stackified LIR program, it emits a binary Wasm module that imports a
// shared linear memory, a shared indirect function table, and a mutable
// stack-pointer global from the well-known "env" namespace, declares one
// Wasm function per LIR function, and places every entrypoint or
// address-taken function into the imported table via active element
// segments.
package codegen

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/tetratelabs/wabin/leb128"

	"github.com/fieldforge/turtlec/internal/errs"
	"github.com/fieldforge/turtlec/internal/lir"
	"github.com/fieldforge/turtlec/internal/mtype"
	"github.com/fieldforge/turtlec/internal/stackify"
)

// Well-known import namespace and names.
const (
	envNamespace    = "env"
	envMemory       = "memory"
	envStackPointer = "__stack_pointer"
	envTable        = "__indirect_function_table"
)

// Wasm binary section ids.
const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secTable    = 4
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secElement  = 9
	secCode     = 10
)

// Wasm opcodes used by this backend (core Wasm MVP).
const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opElse        = 0x05
	opEnd         = 0x0B
	opBr          = 0x0C
	opBrIf        = 0x0D
	opReturn      = 0x0F
	opCall        = 0x10
	opCallIndir   = 0x11
	opDrop        = 0x1A
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opLocalTee    = 0x22
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24

	opI32Const = 0x41
	opI64Const = 0x42
	opF64Const = 0x44

	opI32Eqz = 0x45
)

const blockTypeVoid = 0x40
const elemTypeFuncref = 0x70

// TableAllocator assigns indirect-function-table slots to functions whose
// address is taken (entrypoints and closure bodies). The caller supplies
// the allocator so the embedding host controls slot numbering.
type TableAllocator interface {
	Allocate(name string) uint32
}

// SequentialTableAllocator hands out consecutive slots starting at the
// value passed to NewSequentialTableAllocator, the simplest allocator a
// host could plug in.
type SequentialTableAllocator struct {
	next uint32
}

// NewSequentialTableAllocator returns an allocator whose first Allocate
// call returns start.
func NewSequentialTableAllocator(start uint32) *SequentialTableAllocator {
	return &SequentialTableAllocator{next: start}
}

func (a *SequentialTableAllocator) Allocate(name string) uint32 {
	s := a.next
	a.next++
	return s
}

// Options configures one Emit call.
type Options struct {
	// Table assigns table slots to address-taken functions. Defaults to a
	// fresh SequentialTableAllocator starting at 0.
	Table TableAllocator
}

// Result is the outcome of emitting one LIR program.
type Result struct {
	// Bytes is the encoded Wasm binary module.
	Bytes []byte
	// TableSlots maps every address-taken function's name to the table
	// slot codegen allocated for it.
	TableSlots map[string]uint32
}

// funcType is a deduplicated Wasm function signature.
type funcType struct {
	params  []mtype.WasmValType
	results []mtype.WasmValType
}

func machineTypes(ms []mtype.Machine) []mtype.WasmValType {
	out := make([]mtype.WasmValType, len(ms))
	for i, m := range ms {
		out[i] = m.Wasm()
	}
	return out
}

type typePool struct {
	types []funcType
	index map[string]int
}

func newTypePool() *typePool { return &typePool{index: map[string]int{}} }

func sigKey(params, results []mtype.WasmValType) string {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, p := range params {
		b.WriteByte(byte(p))
	}
	b.WriteByte(')')
	for _, r := range results {
		b.WriteByte(byte(r))
	}
	return b.String()
}

func (p *typePool) intern(params, results []mtype.WasmValType) int {
	key := sigKey(params, results)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := len(p.types)
	p.types = append(p.types, funcType{params: params, results: results})
	p.index[key] = idx
	return idx
}

// Emit encodes prog (already stackified per plan) as a Wasm binary module.
func Emit(prog *lir.Program, plan *stackify.Plan, opts Options) (*Result, error) {
	if opts.Table == nil {
		opts.Table = NewSequentialTableAllocator(0)
	}
	if len(prog.Functions) != len(plan.Functions) {
		return nil, errs.New(errs.StackifyInvariant, "codegen: plan/program function count mismatch")
	}

	types := newTypePool()

	// Import function types, in the fixed deterministic order the
	// program already lists them.
	importTypeIdx := make([]int, len(prog.Imports))
	for i, imp := range prog.Imports {
		idx := types.intern(machineTypes(imp.Params), machineTypes(imp.Results))
		importTypeIdx[i] = idx
	}

	// User function types, plus the set of functions whose address is
	// taken anywhere in the program (OpUserFunctionPtr) in addition to
	// declared entrypoints: both need a table slot.
	fnTypeIdx := make([]int, len(prog.Functions))
	addressTaken := make([]bool, len(prog.Functions))
	for i, fn := range prog.Functions {
		fnTypeIdx[i] = types.intern(machineTypes(fn.Params), machineTypes(fn.Results))
		if fn.IsEntrypoint {
			addressTaken[i] = true
		}
	}
	for _, fn := range prog.Functions {
		for _, seq := range fn.Sequences {
			for _, insn := range seq.Insns {
				if insn.Op == lir.OpUserFunctionPtr {
					idx := insn.Aux.(lir.CallAux).FuncIdx
					addressTaken[idx] = true
				}
			}
		}
	}

	numImports := len(prog.Imports)
	slots := map[string]uint32{}
	var elements []uint32 // wasm funcidx, in element-segment order
	var elementSlots []uint32
	for i, fn := range prog.Functions {
		if !addressTaken[i] {
			continue
		}
		slot := opts.Table.Allocate(fn.Name)
		slots[fn.Name] = slot
		elements = append(elements, uint32(numImports+i))
		elementSlots = append(elementSlots, slot)
	}

	c := &codegenCtx{
		prog:       prog,
		plan:       plan,
		types:      types,
		numImports: numImports,
		slots:      slots,
	}

	var mod bytes.Buffer
	mod.Write([]byte{0x00, 0x61, 0x73, 0x6D}) // magic "\0asm"
	mod.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	writeSection(&mod, secType, encodeTypeSection(types))
	writeSection(&mod, secImport, encodeImportSection(prog, importTypeIdx))
	writeSection(&mod, secFunction, encodeFunctionSection(fnTypeIdx))
	writeSection(&mod, secTable, encodeTableSection())
	writeSection(&mod, secMemory, encodeMemorySection())
	writeSection(&mod, secGlobal, encodeGlobalSection())
	writeSection(&mod, secExport, encodeExportSection(prog, numImports))
	if len(elements) > 0 {
		writeSection(&mod, secElement, encodeElementSection(elements, elementSlots))
	}
	writeSection(&mod, secCode, c.encodeCodeSection())

	return &Result{Bytes: mod.Bytes(), TableSlots: slots}, nil
}

// WriteCompressed brotli-compresses an emitted module's bytes for artifact
// caching.
func WriteCompressed(w io.Writer, moduleBytes []byte) error {
	bw := brotli.NewWriter(w)
	if _, err := bw.Write(moduleBytes); err != nil {
		return err
	}
	return bw.Close()
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	out.Write(leb128.EncodeUint32(uint32(len(payload))))
	out.Write(payload)
}

func leb32(n uint32) []byte { return leb128.EncodeUint32(n) }
func sleb32(n int32) []byte { return leb128.EncodeInt32(n) }
func sleb64(n int64) []byte { return leb128.EncodeInt64(n) }

func encodeTypeSection(types *typePool) []byte {
	var b bytes.Buffer
	b.Write(leb32(uint32(len(types.types))))
	for _, t := range types.types {
		b.WriteByte(0x60) // functype tag
		b.Write(leb32(uint32(len(t.params))))
		for _, p := range t.params {
			b.WriteByte(byte(p))
		}
		b.Write(leb32(uint32(len(t.results))))
		for _, r := range t.results {
			b.WriteByte(byte(r))
		}
	}
	return b.Bytes()
}

func writeName(b *bytes.Buffer, s string) {
	b.Write(leb32(uint32(len(s))))
	b.WriteString(s)
}

func encodeImportSection(prog *lir.Program, importTypeIdx []int) []byte {
	var b bytes.Buffer
	b.Write(leb32(uint32(3 + len(prog.Imports))))

	writeName(&b, envNamespace)
	writeName(&b, envMemory)
	b.WriteByte(0x02) // memory import
	b.WriteByte(0x00) // limits: min only
	b.Write(leb32(0))

	writeName(&b, envNamespace)
	writeName(&b, envTable)
	b.WriteByte(0x01) // table import
	b.WriteByte(elemTypeFuncref)
	b.WriteByte(0x00) // limits: min only
	b.Write(leb32(0))

	writeName(&b, envNamespace)
	writeName(&b, envStackPointer)
	b.WriteByte(0x03) // global import
	b.WriteByte(byte(mtype.WasmI32))
	b.WriteByte(0x01) // mutable

	for i, imp := range prog.Imports {
		writeName(&b, envNamespace)
		writeName(&b, imp.Name)
		b.WriteByte(0x00) // func import
		b.Write(leb32(uint32(importTypeIdx[i])))
	}
	return b.Bytes()
}

func encodeFunctionSection(fnTypeIdx []int) []byte {
	var b bytes.Buffer
	b.Write(leb32(uint32(len(fnTypeIdx))))
	for _, idx := range fnTypeIdx {
		b.Write(leb32(uint32(idx)))
	}
	return b.Bytes()
}

// encodeTableSection and encodeMemorySection are empty: the memory and
// table are both imported from "env", never locally defined.
func encodeTableSection() []byte  { return leb32(0) }
func encodeMemorySection() []byte { return leb32(0) }
func encodeGlobalSection() []byte { return leb32(0) }

// encodeExportSection exports every user (non-imported) function by name,
// so a host or test harness can call procedures directly by name in
// addition to the indirect-table entrypoint convention.
func encodeExportSection(prog *lir.Program, numImports int) []byte {
	var b bytes.Buffer
	b.Write(leb32(uint32(len(prog.Functions))))
	for i, fn := range prog.Functions {
		writeName(&b, fn.Name)
		b.WriteByte(0x00) // func export
		b.Write(leb32(uint32(numImports + i)))
	}
	return b.Bytes()
}

func encodeElementSection(funcIdxs, slots []uint32) []byte {
	var b bytes.Buffer
	b.Write(leb32(uint32(len(funcIdxs))))
	for i, fidx := range funcIdxs {
		b.Write(leb32(0)) // table index 0, active segment
		b.WriteByte(opI32Const)
		b.Write(sleb32(int32(slots[i])))
		b.WriteByte(opEnd)
		b.Write(leb32(1))
		b.Write(leb32(fidx))
	}
	return b.Bytes()
}

// codegenCtx carries the program-wide state (type pool, import count,
// table slot assignments) code generation for each function needs.
type codegenCtx struct {
	prog       *lir.Program
	plan       *stackify.Plan
	types      *typePool
	numImports int
	slots      map[string]uint32
}

func (c *codegenCtx) encodeCodeSection() []byte {
	var b bytes.Buffer
	b.Write(leb32(uint32(len(c.prog.Functions))))
	for i, fn := range c.prog.Functions {
		body := c.encodeFunctionBody(fn, c.plan.Functions[i])
		b.Write(leb32(uint32(len(body))))
		b.Write(body)
	}
	return b.Bytes()
}

// fnCodegen holds the per-function state of the label stack used to
// resolve Break/ConditionalBreak targets into relative branch depths.
type fnCodegen struct {
	ctx       *codegenCtx
	fn        *lir.Function
	plan      *stackify.FunctionPlan
	out       *bytes.Buffer
	labels    []lir.SeqID // innermost last
	frameBase int         // local index holding the frame-pointer, -1 if none
}

func (c *codegenCtx) encodeFunctionBody(fn *lir.Function, plan *stackify.FunctionPlan) []byte {
	var body bytes.Buffer

	// Locals: the stackifier's spill pool, one declaration group per
	// machine type run. A frame-pointer local is appended if the function
	// needs stack-memory space.
	locals := append([]mtype.Machine(nil), plan.Locals...)
	frameBase := -1
	if fn.StackSpace > 0 {
		frameBase = len(fn.Params) + len(locals)
		locals = append(locals, mtype.Ptr)
	}
	writeLocalDecls(&body, locals)

	fc := &fnCodegen{ctx: c, fn: fn, plan: plan, out: &body, frameBase: frameBase}

	if fn.StackSpace > 0 {
		// frameBase = __stack_pointer - stack_space; __stack_pointer -= stack_space
		body.WriteByte(opGlobalGet)
		body.Write(leb32(0)) // the sole imported global
		body.WriteByte(opI32Const)
		body.Write(sleb32(int32(fn.StackSpace)))
		body.WriteByte(0x6B) // i32.sub
		body.WriteByte(opLocalTee)
		body.Write(leb32(uint32(frameBase)))
		body.WriteByte(opGlobalSet)
		body.Write(leb32(0))
	}

	// The entire function body is wrapped in one Wasm block whose label
	// is what every Break/ConditionalBreak targeting fn.Body (i.e. every
	// `report`/`stop`) resolves to, and which also delineates where the
	// epilogue runs on an early exit.
	blockType := blockTypeVoid
	if len(fn.Results) == 1 {
		blockType = int(fn.Results[0].Wasm())
	}
	body.WriteByte(opBlock)
	body.WriteByte(byte(blockType))
	fc.labels = append(fc.labels, fn.Body)
	fc.encodeSequence(fn.Body)
	fc.labels = fc.labels[:len(fc.labels)-1]
	body.WriteByte(opEnd)

	if fn.StackSpace > 0 {
		body.WriteByte(opLocalGet)
		body.Write(leb32(uint32(frameBase)))
		body.WriteByte(opI32Const)
		body.Write(sleb32(int32(fn.StackSpace)))
		body.WriteByte(0x6A) // i32.add
		body.WriteByte(opGlobalSet)
		body.Write(leb32(0))
	}

	body.WriteByte(opEnd) // end of the function body expression

	return body.Bytes()
}

// writeLocalDecls runs-length-encodes consecutive equal-typed locals into
// the Wasm code section's "vec(locals)" declaration format.
func writeLocalDecls(b *bytes.Buffer, locals []mtype.Machine) {
	type run struct {
		t mtype.WasmValType
		n uint32
	}
	var runs []run
	for _, m := range locals {
		wv := m.Wasm()
		if len(runs) > 0 && runs[len(runs)-1].t == wv {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{t: wv, n: 1})
	}
	b.Write(leb32(uint32(len(runs))))
	for _, r := range runs {
		b.Write(leb32(r.n))
		b.WriteByte(byte(r.t))
	}
}

// relDepth returns the relative branch depth (innermost = 0) of target
// within fc.labels, the stack of currently-open structured-instruction
// labels, or false if target is not any enclosing construct (a stackify
// or lowering bug).
func (fc *fnCodegen) relDepth(target lir.SeqID) (uint32, bool) {
	for i := len(fc.labels) - 1; i >= 0; i-- {
		if fc.labels[i] == target {
			return uint32(len(fc.labels) - 1 - i), true
		}
	}
	return 0, false
}

// encodeSequence replays seq's stackified op list, grouping the
// manipulators that precede each OpExecute with the instruction they
// serve so instruction-specific emitters (stack-frame loads/stores, in
// particular) can inject bytes before their generic argument manipulators
// when an implicit operand — the frame-pointer local — must sit beneath
// them on the operand stack.
func (fc *fnCodegen) encodeSequence(id lir.SeqID) {
	plan := fc.plan.Sequences[id]
	seq := fc.fn.Sequences[id]

	ops := plan.Ops
	i := 0
	for i < len(ops) {
		j := i
		for j < len(ops) && ops[j].Kind != stackify.OpExecute {
			j++
		}
		if j == len(ops) {
			// Trailing manipulators with no following instruction: the
			// sequence's final captures/drops (stackify's drainAll).
			fc.encodeManipulators(ops[i:j])
			break
		}
		insn := seq.Insns[ops[j].InsnIndex]
		// Captures/drops in this span are cleanup left over from earlier
		// instructions (a just-produced multi-use value's spill, or a
		// drain of unrelated stack entries) and must run before the
		// frame-pointer address is pushed; getters supplying this
		// instruction's own args must run after it, since the address
		// sits beneath the value on the operand stack for a store.
		k := i
		for k < j && ops[k].Kind != stackify.OpGetter {
			k++
		}
		fc.encodeManipulators(ops[i:k])
		if needsFrameBasePrefix(insn.Op) {
			fc.emitLocalGet(fc.frameBase)
		}
		fc.encodeManipulators(ops[k:j])
		fc.encodeInsn(id, ops[j].InsnIndex, insn)
		i = j + 1
	}
}

func needsFrameBasePrefix(op lir.Op) bool {
	switch op {
	case lir.OpStackLoad, lir.OpStackStore, lir.OpStackAddr:
		return true
	default:
		return false
	}
}

func (fc *fnCodegen) encodeManipulators(ops []stackify.StackOp) {
	// Plan locals are numbered from 0 within the stackifier's pool; in the
	// Wasm local index space they follow the function's parameters.
	base := len(fc.fn.Params)
	for _, op := range ops {
		switch op.Kind {
		case stackify.OpCapture:
			fc.out.WriteByte(opLocalSet)
			fc.out.Write(leb32(uint32(base + op.Local)))
		case stackify.OpGetter:
			fc.emitLocalGet(base + op.Local)
		case stackify.OpDrop:
			fc.out.WriteByte(opDrop)
		}
	}
}

func (fc *fnCodegen) emitLocalGet(local int) {
	fc.out.WriteByte(opLocalGet)
	fc.out.Write(leb32(uint32(local)))
}

func machineAlign(m mtype.Machine) uint32 {
	switch m {
	case mtype.I8:
		return 0
	case mtype.I16:
		return 1
	case mtype.I64, mtype.F64:
		return 3
	default:
		return 2
	}
}

func loadOpcode(m mtype.Machine) byte {
	switch m {
	case mtype.I8:
		return 0x2D // i32.load8_u: narrow loads zero-extend
	case mtype.I16:
		return 0x2F // i32.load16_u
	case mtype.I64:
		return 0x29 // i64.load
	case mtype.F64:
		return 0x2C // f64.load
	default:
		return 0x28 // i32.load (I32, Ptr, FnPtr)
	}
}

func storeOpcode(m mtype.Machine) byte {
	switch m {
	case mtype.I8:
		return 0x3A // i32.store8
	case mtype.I16:
		return 0x3B // i32.store16
	case mtype.I64:
		return 0x37 // i64.store
	case mtype.F64:
		return 0x39 // f64.store
	default:
		return 0x36 // i32.store
	}
}

func (fc *fnCodegen) writeMemArg(align, offset uint32) {
	fc.out.Write(leb32(align))
	fc.out.Write(leb32(offset))
}

// arithOpcode picks the Wasm opcode for one ArithOp dispatched over the
// machine type of its operand.
func arithOpcode(op lir.ArithOp, operand mtype.Machine) (byte, bool) {
	switch operand {
	case mtype.F64:
		switch op {
		case lir.Add:
			return 0xA0, true
		case lir.Sub:
			return 0xA1, true
		case lir.Mul:
			return 0xA2, true
		case lir.DivF:
			return 0xA3, true
		case lir.Neg:
			return 0x9A, true
		case lir.Eq:
			return 0x61, true
		case lir.Ne:
			return 0x62, true
		case lir.Lt:
			return 0x63, true
		case lir.Gt:
			return 0x64, true
		case lir.Le:
			return 0x65, true
		case lir.Ge:
			return 0x66, true
		}
	case mtype.I64:
		switch op {
		case lir.Add:
			return 0x7C, true
		case lir.Sub:
			return 0x7D, true
		case lir.Mul:
			return 0x7E, true
		case lir.Eq:
			return 0x51, true
		case lir.Ne:
			return 0x52, true
		case lir.Lt:
			return 0x53, true
		case lir.Gt:
			return 0x55, true
		case lir.Le:
			return 0x57, true
		case lir.Ge:
			return 0x59, true
		case lir.And:
			return 0x83, true
		case lir.Or:
			return 0x84, true
		}
	default: // I8/I16/I32/Ptr/FnPtr all project to wasm i32
		switch op {
		case lir.Add:
			return 0x6A, true
		case lir.Sub:
			return 0x6B, true
		case lir.Mul:
			return 0x6C, true
		case lir.Eq:
			return 0x46, true
		case lir.Ne:
			return 0x47, true
		case lir.Lt:
			return 0x48, true
		case lir.Gt:
			return 0x4A, true
		case lir.Le:
			return 0x4C, true
		case lir.Ge:
			return 0x4E, true
		case lir.And:
			return 0x71, true
		case lir.Or:
			return 0x72, true
		}
	}
	return 0, false
}

// argType returns the machine type that produced one of insn's Args,
// looked up within the same sequence (cross-sequence Args never occur:
// stackify.go stackifies each sequence independently).
func (fc *fnCodegen) argType(seq lir.SeqID, ref lir.ValRef) mtype.Machine {
	return fc.fn.Sequences[ref.Seq].Insns[ref.Index].ValType
}

func (fc *fnCodegen) encodeInsn(seq lir.SeqID, idx int, insn lir.Insn) {
	out := fc.out
	switch insn.Op {
	case lir.OpFunctionArgs:
		aux := insn.Aux.(lir.ParamAux)
		fc.emitLocalGet(aux.Index)

	case lir.OpLoopArg:
		// Unused by internal/lower: repeat-loops carry their counter
		// through stack memory, never a loop-carried LIR value. Kept for
		// completeness against the closed op set.
		out.WriteByte(opUnreachable)

	case lir.OpConst:
		aux := insn.Aux.(lir.ConstAux)
		switch aux.Type {
		case mtype.I64:
			out.WriteByte(opI64Const)
			out.Write(sleb64(int64(aux.Bits)))
		case mtype.F64:
			out.WriteByte(opF64Const)
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], aux.Bits)
			out.Write(buf[:])
		default:
			out.WriteByte(opI32Const)
			out.Write(sleb32(int32(uint32(aux.Bits))))
		}

	case lir.OpUserFunctionPtr:
		aux := insn.Aux.(lir.CallAux)
		callee := fc.ctx.prog.Functions[aux.FuncIdx]
		slot, ok := fc.ctx.slots[callee.Name]
		if !ok {
			slot = 0
		}
		out.WriteByte(opI32Const)
		out.Write(sleb32(int32(slot)))

	case lir.OpDeriveField:
		aux := insn.Aux.(lir.MemAux)
		if aux.Offset != 0 {
			out.WriteByte(opI32Const)
			out.Write(sleb32(int32(aux.Offset)))
			out.WriteByte(0x6A) // i32.add
		}

	case lir.OpDeriveElement:
		aux := insn.Aux.(lir.DeriveElementAux)
		out.WriteByte(opI32Const)
		out.Write(sleb32(int32(aux.Stride)))
		out.WriteByte(0x6C) // i32.mul
		out.WriteByte(0x6A) // i32.add

	case lir.OpMemLoad:
		aux := insn.Aux.(lir.MemAux)
		out.WriteByte(loadOpcode(aux.Type))
		fc.writeMemArg(machineAlign(aux.Type), aux.Offset)

	case lir.OpMemStore:
		aux := insn.Aux.(lir.MemAux)
		out.WriteByte(storeOpcode(aux.Type))
		fc.writeMemArg(machineAlign(aux.Type), aux.Offset)

	case lir.OpStackLoad:
		aux := insn.Aux.(lir.StackAux)
		out.WriteByte(loadOpcode(aux.Type))
		fc.writeMemArg(machineAlign(aux.Type), aux.Offset)

	case lir.OpStackStore:
		aux := insn.Aux.(lir.StackAux)
		out.WriteByte(storeOpcode(aux.Type))
		fc.writeMemArg(machineAlign(aux.Type), aux.Offset)

	case lir.OpStackAddr:
		aux := insn.Aux.(lir.StackAux)
		if aux.Offset != 0 {
			out.WriteByte(opI32Const)
			out.Write(sleb32(int32(aux.Offset)))
			out.WriteByte(0x6A) // i32.add
		}

	case lir.OpCallImported:
		aux := insn.Aux.(lir.CallAux)
		idx := fc.ctx.importFuncIndex(aux.Name)
		out.WriteByte(opCall)
		out.Write(leb32(uint32(idx)))

	case lir.OpCallUser:
		aux := insn.Aux.(lir.CallAux)
		out.WriteByte(opCall)
		out.Write(leb32(uint32(fc.ctx.numImports + aux.FuncIdx)))

	case lir.OpCallIndirect:
		aux := insn.Aux.(lir.CallAux)
		typeIdx := fc.ctx.types.intern(machineTypes(aux.Params), machineTypes(nilIfNoResult(aux.Result)))
		out.WriteByte(opCallIndir)
		out.Write(leb32(uint32(typeIdx)))
		out.Write(leb32(0)) // table index 0

	case lir.OpUnaryOp:
		arith := insn.Aux.(lir.ArithOp)
		if arith == lir.Not {
			out.WriteByte(opI32Eqz)
		} else {
			operand := fc.argType(seq, insn.Args[0])
			if code, ok := arithOpcode(arith, operand); ok {
				out.WriteByte(code)
			}
		}

	case lir.OpBinaryOp:
		arith := insn.Aux.(lir.ArithOp)
		operand := fc.argType(seq, insn.Args[0])
		if code, ok := arithOpcode(arith, operand); ok {
			out.WriteByte(code)
		}

	case lir.OpBreak:
		aux := insn.Aux.(lir.BreakAux)
		depth, _ := fc.relDepth(aux.Target)
		out.WriteByte(opBr)
		out.Write(leb32(depth))

	case lir.OpConditionalBreak:
		aux := insn.Aux.(lir.BreakAux)
		depth, _ := fc.relDepth(aux.Target)
		out.WriteByte(opBrIf)
		out.Write(leb32(depth))

	case lir.OpBlock:
		aux := insn.Aux.(lir.BlockAux)
		fc.encodeStructured(opBlock, aux.OutTypes, aux.Body)

	case lir.OpIfElse:
		aux := insn.Aux.(lir.IfElseAux)
		bt := blockTypeOf(aux.OutTypes)
		out.WriteByte(opIf)
		out.WriteByte(byte(bt))
		fc.labels = append(fc.labels, aux.Then)
		fc.encodeSequence(aux.Then)
		fc.labels[len(fc.labels)-1] = aux.Else
		out.WriteByte(opElse)
		fc.encodeSequence(aux.Else)
		fc.labels = fc.labels[:len(fc.labels)-1]
		out.WriteByte(opEnd)

	case lir.OpLoop:
		aux := insn.Aux.(lir.LoopAux)
		bt := blockTypeOf(aux.OutTypes)
		// Wrapped in an outer block so Break{Target: Body} (the exit
		// case) is a forward branch, distinct from the loop label
		// itself, which this codegen reserves purely for the implicit
		// "fall off the end repeats" re-entry.
		out.WriteByte(opBlock)
		out.WriteByte(byte(bt))
		fc.labels = append(fc.labels, aux.Body)
		out.WriteByte(opLoop)
		out.WriteByte(byte(bt))
		// The loop's own wasm label occupies a branch depth but is never a
		// Break target (LIR has no "continue" op); a sentinel keeps
		// relDepth aligned so Break{Target: Body} resolves past it to the
		// enclosing block's forward-exit label.
		fc.labels = append(fc.labels, lir.SeqID(-1))
		fc.encodeSequence(aux.Body)
		out.WriteByte(opBr)
		out.Write(leb32(0))
		out.WriteByte(opEnd) // end loop
		fc.labels = fc.labels[:len(fc.labels)-2]
		out.WriteByte(opEnd) // end block
	}
}

func nilIfNoResult(r *mtype.Machine) []mtype.Machine {
	if r == nil {
		return nil
	}
	return []mtype.Machine{*r}
}

func blockTypeOf(outTypes []mtype.Machine) int {
	if len(outTypes) == 1 {
		return int(outTypes[0].Wasm())
	}
	return blockTypeVoid
}

// encodeStructured emits a plain Block (used only directly by OpBlock;
// IfElse and Loop have their own shapes above).
func (fc *fnCodegen) encodeStructured(opcode byte, outTypes []mtype.Machine, body lir.SeqID) {
	fc.out.WriteByte(opcode)
	fc.out.WriteByte(byte(blockTypeOf(outTypes)))
	fc.labels = append(fc.labels, body)
	fc.encodeSequence(body)
	fc.labels = fc.labels[:len(fc.labels)-1]
	fc.out.WriteByte(opEnd)
}

func (c *codegenCtx) importFuncIndex(name string) int {
	for i, imp := range c.prog.Imports {
		if imp.Name == name {
			return i
		}
	}
	return 0
}
