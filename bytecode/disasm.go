package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at off and returns the
// offset of the next instruction.
func DisassembleInstruction(bc []byte, off int) (string, int) {
	instr := Instr(ReadWord(bc, off))
	op := instr.Op()
	info := op.Info()
	next := off + InstrSize(bc, off)

	switch info.Operand {
	case OperandNone:
		return fmt.Sprintf("%04d  %s", off, info.Name), next
	case OperandCount:
		return fmt.Sprintf("%04d  %s %d", off, info.Name, instr.Operand()), next
	case OperandOffset:
		return fmt.Sprintf("%04d  %s %d (-> %04d)", off, info.Name, instr.Offset(), off+instr.Offset()), next
	case OperandVar:
		co, vn := instr.VarRef()
		return fmt.Sprintf("%04d  %s %d:%d", off, info.Name, co, vn), next
	case OperandName:
		name := ExtractStr(bc, off+NameStart, instr.NameSize())
		return fmt.Sprintf("%04d  %s %s", off, info.Name, strconv.Quote(name)), next
	case OperandInt:
		return fmt.Sprintf("%04d  %s %d", off, info.Name, instr.IntValue()), next
	case OperandFloat:
		return fmt.Sprintf("%04d  %s %g", off, info.Name, ReadFloat(bc, off+WordSize)), next
	case OperandIsAssigned:
		co, vn := instr.VarRef()
		rel := Instr(ReadWord(bc, off+WordSize)).Offset()
		return fmt.Sprintf("%04d  %s %d:%d (-> %04d)", off, info.Name, co, vn, off+rel), next
	case OperandFuncDefn:
		bound, maxStack := instr.FuncDefn()
		return fmt.Sprintf("%04d  %s bound=%t stack=%d", off, info.Name, bound, maxStack), next
	case OperandUnpackArgs:
		n, vargs := instr.UnpackArgs()
		var sb strings.Builder
		fmt.Fprintf(&sb, "%04d  %s", off, info.Name)
		for i := range n {
			a := ArgInfo(ReadWord(bc, off+(i+1)*WordSize))
			if a.Optional() {
				fmt.Fprintf(&sb, " ?%d", a.VarNum())
			} else {
				fmt.Fprintf(&sb, " %d", a.VarNum())
			}
		}
		if vargs {
			a := ArgInfo(ReadWord(bc, off+(n+1)*WordSize))
			fmt.Fprintf(&sb, " *%d", a.VarNum())
		}
		return sb.String(), next
	}
	return fmt.Sprintf("%04d  %s", off, info.Name), next
}

// Disassemble renders every instruction of a module, one per line.
func Disassemble(m *Module) string {
	var lines []string
	end := m.InstructionsOff + m.InstructionsSize
	for off := m.InstructionsOff; off < end; {
		if !m.Instr(off).Op().Valid() {
			lines = append(lines, fmt.Sprintf("%04d  %s", off, m.Instr(off).Op()))
			break
		}
		var line string
		line, off = DisassembleInstruction(m.BC, off)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
