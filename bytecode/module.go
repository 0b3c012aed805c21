package bytecode

import (
	"bytes"
	"errors"
	"fmt"
)

// Module record header, as word indices.
const (
	ModHeader = iota
	ModVersion
	ModName
	ModNameSize
	ModID
	ModIDSize
	ModSrcPath
	ModSrcPathSize
	ModInstructions
	ModInstructionsSize
	ModImports
	ModImportsSize
	ModNumImports
	ModSrcPositions
	ModSrcPositionsSize
	ModNewlines
	ModNumNewlines
	ModTLVarsMap
	ModTLVarsMapSize
	ModNumTLVarsMap
	ModNumConstants
	ModConstantsOffsets
	ModConstants
	ModConstantsSize
	ModModLookups
	ModModLookupsSize
	ModNumModLookups
	ModImportDefns
	ModNumImportDefns
	ModSize

	modHeaderWords
)

// Executable and library header, as word indices.
const (
	HdHeader = iota
	HdVersion
	HdNumModules
	HdModules
)

// Magic strings at the start of bytecode containers.
var (
	ExecutableMagic = []byte("CONVEXEC")
	LibraryMagic    = []byte("CONVLIBR")
	PackageMagic    = []byte("CONVPACK")
	ModuleMagic     = []byte("CONVMODL")
)

// Constant type tags.
const (
	ConstString = 0
	ConstInt    = 1
	ConstFloat  = 2
)

var (
	// ErrBadHeader is returned when a container lacks the expected magic.
	ErrBadHeader = errors.New("bytecode: bad header")
	// ErrTruncated is returned when an offset points outside the buffer.
	ErrTruncated = errors.New("bytecode: truncated")
)

// ---------------------------------------------------------------------------
// Module records
// ---------------------------------------------------------------------------

// Module is a decoded view over a compiled module record. The record bytes
// are retained and instructions are read from them in place.
type Module struct {
	BC      []byte
	Name    string
	ID      string
	SrcPath string
	Imports []string
	// TopLevelVars maps definition names to closure variable numbers.
	TopLevelVars map[string]int
	// Constants holds Go values (string, int64, float64) by constant number.
	Constants []any

	InstructionsOff  int
	InstructionsSize int
	srcPosOff        int
	srcPosSize       int
	newlines         []int
}

func (m *Module) header(i int) int {
	return ReadInt(m.BC, i*WordSize)
}

// ParseModule decodes the module record in bc.
func ParseModule(bc []byte) (mod *Module, err error) {
	if len(bc) < modHeaderWords*WordSize {
		return nil, fmt.Errorf("bytecode: module header: %w", ErrTruncated)
	}
	defer func() {
		if r := recover(); r != nil {
			mod, err = nil, fmt.Errorf("bytecode: module record: %w (%v)", ErrTruncated, r)
		}
	}()

	m := &Module{BC: bc}
	m.Name = ExtractStr(bc, m.header(ModName), m.header(ModNameSize))
	m.ID = ExtractStr(bc, m.header(ModID), m.header(ModIDSize))
	m.SrcPath = ExtractStr(bc, m.header(ModSrcPath), m.header(ModSrcPathSize))
	m.InstructionsOff = m.header(ModInstructions)
	m.InstructionsSize = m.header(ModInstructionsSize)
	m.srcPosOff = m.header(ModSrcPositions)
	m.srcPosSize = m.header(ModSrcPositionsSize)

	// Each import is a size-prefixed id followed by a size-prefixed
	// source path which the VM ignores.
	off := m.header(ModImports)
	for range m.header(ModNumImports) {
		size := ReadInt(bc, off)
		off += WordSize
		m.Imports = append(m.Imports, ExtractStr(bc, off, size))
		off += Align(size)
		size = ReadInt(bc, off)
		off += WordSize + Align(size)
	}

	m.TopLevelVars = make(map[string]int)
	off = m.header(ModTLVarsMap)
	for range m.header(ModNumTLVarsMap) {
		varNum := ReadInt(bc, off)
		off += WordSize
		size := ReadInt(bc, off)
		off += WordSize
		m.TopLevelVars[ExtractStr(bc, off, size)] = varNum
		off += Align(size)
	}

	nlOff := m.header(ModNewlines)
	for i := range m.header(ModNumNewlines) {
		m.newlines = append(m.newlines, ReadInt(bc, nlOff+i*WordSize))
	}

	offsets := m.header(ModConstantsOffsets)
	base := m.header(ModConstants)
	for i := range m.header(ModNumConstants) {
		c, err := readConstant(bc, base+ReadInt(bc, offsets+i*WordSize))
		if err != nil {
			return nil, fmt.Errorf("bytecode: constant %d: %w", i, err)
		}
		m.Constants = append(m.Constants, c)
	}
	return m, nil
}

func readConstant(bc []byte, off int) (any, error) {
	switch ReadInt(bc, off) {
	case ConstString:
		size := ReadInt(bc, off+WordSize)
		return ExtractStr(bc, off+2*WordSize, size), nil
	case ConstInt:
		return int64(ReadWord(bc, off+WordSize)), nil
	case ConstFloat:
		return ReadFloat(bc, off+WordSize), nil
	default:
		return nil, fmt.Errorf("unknown constant type %d", ReadInt(bc, off))
	}
}

// NumTopLevelVars returns the number of top-level variables.
func (m *Module) NumTopLevelVars() int {
	return len(m.TopLevelVars)
}

// Instr reads the instruction word at byte offset off.
func (m *Module) Instr(off int) Instr {
	return Instr(ReadWord(m.BC, off))
}

// InlineName reads the inline name of the instruction at off.
func (m *Module) InlineName(off int) string {
	return ExtractStr(m.BC, off+NameStart, m.Instr(off).NameSize())
}

// ---------------------------------------------------------------------------
// Executables and libraries
// ---------------------------------------------------------------------------

// ParseExecutable splits an executable into its module records. The magic
// may be preceded by arbitrary bytes, such as a "#!" line.
func ParseExecutable(buf []byte) ([][]byte, error) {
	return parseContainer(buf, ExecutableMagic)
}

// ParseLibrary splits a library into its module records.
func ParseLibrary(buf []byte) ([][]byte, error) {
	return parseContainer(buf, LibraryMagic)
}

func parseContainer(buf, magic []byte) (mods [][]byte, err error) {
	i := bytes.Index(buf, magic)
	if i < 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrBadHeader, magic)
	}
	buf = buf[i:]
	if len(buf) < HdModules*WordSize {
		return nil, ErrTruncated
	}
	defer func() {
		if r := recover(); r != nil {
			mods, err = nil, fmt.Errorf("bytecode: container: %w (%v)", ErrTruncated, r)
		}
	}()

	n := ReadInt(buf, HdNumModules*WordSize)
	for j := range n {
		off := ReadInt(buf, (HdModules+j)*WordSize)
		if bytes.HasPrefix(buf[off:], PackageMagic) {
			continue
		}
		size := ReadInt(buf, off+ModSize*WordSize)
		mods = append(mods, buf[off:off+size])
	}
	return mods, nil
}

// IsExecutable reports whether buf holds an executable.
func IsExecutable(buf []byte) bool {
	return bytes.Contains(buf, ExecutableMagic)
}

// IsLibrary reports whether buf holds a library.
func IsLibrary(buf []byte) bool {
	return bytes.HasPrefix(buf, LibraryMagic)
}
