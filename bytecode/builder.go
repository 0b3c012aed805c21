package bytecode

import (
	"fmt"
	"math"
)

// Builder assembles an instruction stream. Offsets handed out by the
// builder are relative to the start of the stream; branch offsets are
// relative to the branching instruction, so the stream can be placed
// anywhere in a module record.
type Builder struct {
	buf    []byte
	labels []*Label
	pos    srcPos
	// One entry per emitted instruction.
	positions []srcPos
}

type srcPos struct {
	off, length int
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 256)}
}

// Len returns the offset the next instruction will be written at.
func (b *Builder) Len() int {
	return len(b.buf)
}

// SetPos sets the source offset and length recorded for subsequently
// emitted instructions.
func (b *Builder) SetPos(off, length int) {
	b.pos = srcPos{off, length}
}

func (b *Builder) word(i Instr) {
	b.positions = append(b.positions, b.pos)
	b.buf = AppendWord(b.buf, uint64(i))
}

// Emit appends an instruction with no operands.
func (b *Builder) Emit(op Opcode) {
	b.word(Instr(op))
}

// EmitOperand appends an instruction with an unsigned operand, such as
// APPLY, LIST or CONST_GET.
func (b *Builder) EmitOperand(op Opcode, n int) {
	b.word(EncodeOperand(op, n))
}

// EmitVar appends VAR_LOOKUP or VAR_ASSIGN.
func (b *Builder) EmitVar(op Opcode, closureOff, varNum int) {
	b.word(EncodeVar(op, closureOff, varNum))
}

// EmitInt appends an INT instruction.
func (b *Builder) EmitInt(v int64) {
	b.word(EncodeInt(v))
}

// EmitFloat appends a FLOAT instruction and its value word.
func (b *Builder) EmitFloat(f float64) {
	b.word(Instr(OpFloat))
	b.buf = AppendWord(b.buf, math.Float64bits(f))
}

// EmitName appends an instruction with an inline name, such as
// SLOT_LOOKUP, EXBI or STRING.
func (b *Builder) EmitName(op Opcode, name string) {
	b.positions = append(b.positions, b.pos)
	b.buf = AppendUint32(b.buf, uint32(EncodeOperand(op, len(name))))
	b.buf = AppendPadded(b.buf, name)
}

// EmitFuncDefn appends FUNC_DEFN. The function body starts two words
// later, so FUNC_DEFN is normally followed by a BRANCH over the body.
func (b *Builder) EmitFuncDefn(isBound bool, maxStack int) {
	b.word(EncodeFuncDefn(isBound, maxStack))
}

// EmitUnpackArgs appends UNPACK_ARGS. varargs is the variable receiving
// surplus arguments, or -1 for none.
func (b *Builder) EmitUnpackArgs(params []ArgInfo, varargs int) {
	b.word(EncodeUnpackArgs(len(params), varargs >= 0))
	for _, p := range params {
		b.buf = AppendWord(b.buf, uint64(p))
	}
	if varargs >= 0 {
		b.buf = AppendWord(b.buf, uint64(EncodeArgInfo(varargs, false)))
	}
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label represents a branch target.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	patch int // word holding the offset
	base  int // instruction the offset is relative to
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	l := &Label{refs: make([]labelRef, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.position = len(b.buf)
	for _, ref := range l.refs {
		b.patch(ref, l.position)
	}
	l.refs = nil
}

func (b *Builder) patch(ref labelRef, target int) {
	w := Instr(ReadWord(b.buf, ref.patch))
	PutWord(b.buf, ref.patch, uint64(EncodeOffset(w.Op(), target-ref.base)))
}

func (b *Builder) branchTo(l *Label, ref labelRef) {
	if l.resolved {
		b.patch(ref, l.position)
	} else {
		l.refs = append(l.refs, ref)
	}
}

// EmitJump appends an instruction with a signed offset: BRANCH,
// BRANCH_IF_FAIL, BRANCH_IF_NOT_FAIL, ADD_FAILURE_FRAME or
// ADD_EXCEPTION_FRAME.
func (b *Builder) EmitJump(op Opcode, l *Label) {
	at := len(b.buf)
	b.word(Instr(op))
	b.branchTo(l, labelRef{patch: at, base: at})
}

// EmitIsAssigned appends IS_ASSIGNED, which branches to l when the
// variable is assigned.
func (b *Builder) EmitIsAssigned(closureOff, varNum int, l *Label) {
	at := len(b.buf)
	b.word(EncodeVar(OpIsAssigned, closureOff, varNum))
	b.buf = AppendWord(b.buf, 0)
	b.branchTo(l, labelRef{patch: at + WordSize, base: at})
}

// Bytes returns the assembled instructions.
func (b *Builder) Bytes() ([]byte, error) {
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, fmt.Errorf("bytecode: unresolved label referenced at %d", l.refs[0].base)
		}
	}
	return b.buf, nil
}

// ---------------------------------------------------------------------------
// Module writer
// ---------------------------------------------------------------------------

// ModuleWriter lays out a module record.
type ModuleWriter struct {
	Name    string
	ID      string
	SrcPath string
	Imports []string
	// TopLevel lists top-level definition names in variable-number order.
	TopLevel []string
	// Constants holds string, int64 or float64 values.
	Constants []any
	// Newlines holds the source offset at which each line starts.
	Newlines []int
	Code     *Builder
}

// Bytes encodes the module record.
func (w *ModuleWriter) Bytes() ([]byte, error) {
	code, err := w.Code.Bytes()
	if err != nil {
		return nil, err
	}

	var hdr [modHeaderWords]int
	buf := make([]byte, modHeaderWords*WordSize)
	copy(buf, ModuleMagic)

	str := func(s string) int {
		off := len(buf)
		buf = AppendPadded(buf, s)
		return off
	}
	hdr[ModName], hdr[ModNameSize] = str(w.Name), len(w.Name)
	hdr[ModID], hdr[ModIDSize] = str(w.ID), len(w.ID)
	hdr[ModSrcPath], hdr[ModSrcPathSize] = str(w.SrcPath), len(w.SrcPath)

	hdr[ModInstructions], hdr[ModInstructionsSize] = len(buf), len(code)
	buf = append(buf, code...)

	hdr[ModImports], hdr[ModNumImports] = len(buf), len(w.Imports)
	for _, imp := range w.Imports {
		buf = AppendWord(buf, uint64(len(imp)))
		buf = AppendPadded(buf, imp)
		buf = AppendWord(buf, 0)
	}
	hdr[ModImportsSize] = len(buf) - hdr[ModImports]

	hdr[ModSrcPositions] = len(buf)
	buf = appendSrcPositions(buf, w.Code.positions)
	hdr[ModSrcPositionsSize] = len(buf) - hdr[ModSrcPositions]

	hdr[ModNewlines], hdr[ModNumNewlines] = len(buf), len(w.Newlines)
	for _, nl := range w.Newlines {
		buf = AppendWord(buf, uint64(nl))
	}

	hdr[ModTLVarsMap], hdr[ModNumTLVarsMap] = len(buf), len(w.TopLevel)
	for i, name := range w.TopLevel {
		buf = AppendWord(buf, uint64(i))
		buf = AppendWord(buf, uint64(len(name)))
		buf = AppendPadded(buf, name)
	}
	hdr[ModTLVarsMapSize] = len(buf) - hdr[ModTLVarsMap]

	hdr[ModConstantsOffsets], hdr[ModNumConstants] = len(buf), len(w.Constants)
	buf = append(buf, make([]byte, len(w.Constants)*WordSize)...)
	hdr[ModConstants] = len(buf)
	for i, c := range w.Constants {
		PutWord(buf, hdr[ModConstantsOffsets]+i*WordSize, uint64(len(buf)-hdr[ModConstants]))
		switch v := c.(type) {
		case string:
			buf = AppendWord(buf, ConstString)
			buf = AppendWord(buf, uint64(len(v)))
			buf = AppendPadded(buf, v)
		case int64:
			buf = AppendWord(buf, ConstInt)
			buf = AppendWord(buf, uint64(v))
		case int:
			buf = AppendWord(buf, ConstInt)
			buf = AppendWord(buf, uint64(int64(v)))
		case float64:
			buf = AppendWord(buf, ConstFloat)
			buf = AppendWord(buf, math.Float64bits(v))
		default:
			return nil, fmt.Errorf("bytecode: constant %d: unsupported type %T", i, c)
		}
	}
	hdr[ModConstantsSize] = len(buf) - hdr[ModConstants]

	hdr[ModModLookups] = len(buf)
	hdr[ModImportDefns] = len(buf)
	hdr[ModSize] = len(buf)

	for i := ModVersion; i < modHeaderWords; i++ {
		PutWord(buf, i*WordSize, uint64(hdr[i]))
	}
	return buf, nil
}

// appendSrcPositions run-length encodes per-instruction positions. Each
// entry covers at most 15 instructions.
func appendSrcPositions(buf []byte, positions []srcPos) []byte {
	for i := 0; i < len(positions); {
		p := positions[i]
		n := 1
		for i+n < len(positions) && n < 15 && positions[i+n] == p {
			n++
		}
		buf = AppendUint32(buf, uint32(n)|uint32(p.off)<<5)
		buf = AppendUint32(buf, SelfImport|uint32(p.length)<<12)
		i += n
	}
	return buf
}

// WriteExecutable wraps module records in an executable container. The
// first module is the main module.
func WriteExecutable(mods ...[]byte) []byte {
	return writeContainer(ExecutableMagic, mods)
}

// WriteLibrary wraps module records in a library container.
func WriteLibrary(mods ...[]byte) []byte {
	return writeContainer(LibraryMagic, mods)
}

func writeContainer(magic []byte, mods [][]byte) []byte {
	buf := make([]byte, (HdModules+len(mods))*WordSize)
	copy(buf, magic)
	PutWord(buf, HdNumModules*WordSize, uint64(len(mods)))
	for i, m := range mods {
		PutWord(buf, (HdModules+i)*WordSize, uint64(len(buf)))
		buf = append(buf, m...)
	}
	return buf
}
