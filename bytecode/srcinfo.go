package bytecode

import "fmt"

// SelfImport marks a source position that belongs to the module itself
// rather than to one of its imports.
const SelfImport = 0xFFF

// SrcInfo locates the source text an instruction was compiled from.
type SrcInfo struct {
	ModID  string
	Offset int
	Length int
}

// SrcInfos returns the source positions of the instruction at bcOff.
// Positions are stored as pairs of 32-bit words:
//
//	word 1: bits 0-3 instruction count, bit 4 more, bits 5-30 source offset
//	word 2: bits 0-11 import index (SelfImport for this module), bits 12-31 length
func (m *Module) SrcInfos(bcOff int) ([]SrcInfo, error) {
	if m.srcPosSize == 0 {
		return nil, nil
	}
	instrI := 0
	for cur := m.InstructionsOff; cur < bcOff; instrI++ {
		if !m.Instr(cur).Op().Valid() {
			return nil, fmt.Errorf("bytecode: unknown instruction at %d", cur)
		}
		cur += InstrSize(m.BC, cur)
	}

	end := m.srcPosOff + m.srcPosSize
	pos, num := m.srcPosOff, 0
	for {
		if pos+8 > end {
			return nil, nil
		}
		w := ReadUint32(m.BC, pos)
		if num+int(w&0xF) > instrI {
			break
		}
		num += int(w & 0xF)
		for w&(1<<4) != 0 {
			pos += 8
			w = ReadUint32(m.BC, pos)
		}
		pos += 8
	}

	var infos []SrcInfo
	for pos+8 <= end {
		w1 := ReadUint32(m.BC, pos)
		w2 := ReadUint32(m.BC, pos+4)
		id := m.ID
		if imp := int(w2 & 0xFFF); imp != SelfImport && imp < len(m.Imports) {
			id = m.Imports[imp]
		}
		infos = append(infos, SrcInfo{
			ModID:  id,
			Offset: int((w1 >> 5) & ((1 << 26) - 1)),
			Length: int(w2 >> 12),
		})
		if w1&(1<<4) == 0 {
			break
		}
		pos += 8
	}
	return infos, nil
}

// LineColumn converts a source offset to a 1-based line and 0-based column.
// Offsets beyond the last recorded newline belong to the last line.
func (m *Module) LineColumn(off int) (line, col int, err error) {
	if off < 0 {
		return 0, 0, fmt.Errorf("bytecode: negative source offset %d", off)
	}
	if len(m.newlines) == 0 {
		return 0, 0, fmt.Errorf("bytecode: module %s has no line information", m.Name)
	}
	for i, nl := range m.newlines {
		if off < nl {
			if i == 0 {
				return 1, off, nil
			}
			return i, off - m.newlines[i-1], nil
		}
	}
	last := len(m.newlines)
	return last, off - m.newlines[last-1], nil
}

// Newlines returns the source offsets at which each line starts.
func (m *Module) Newlines() []int {
	return m.newlines
}
