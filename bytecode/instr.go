package bytecode

// Instr is a single instruction word.
type Instr uint64

// NameStart is the byte offset, relative to the instruction, of an inline name.
const NameStart = 4

const (
	offsetMask   = 0x7FFFFF00
	offsetSign   = 0x80000000
	operandMask  = 0xFFFFFF00
	maxOffset    = offsetMask >> 8
	maxOperand   = operandMask >> 8
	intSign      = uint64(1) << 63
	intMagnitude = (uint64(1) << 63) - 256
)

// Op returns the opcode held in the low byte.
func (i Instr) Op() Opcode {
	return Opcode(i & 0xFF)
}

// Operand returns the unsigned operand in bits 8-31.
func (i Instr) Operand() int {
	return int((i & operandMask) >> 8)
}

// Offset returns the signed branch offset in bits 8-31.
func (i Instr) Offset() int {
	n := int((i & offsetMask) >> 8)
	if i&offsetSign != 0 {
		return -n
	}
	return n
}

// VarRef returns the closure offset and variable number.
func (i Instr) VarRef() (closureOff, varNum int) {
	return int((i & 0x000FFF00) >> 8), int((i & 0xFFF00000) >> 20)
}

// IntValue returns the signed integer held by an INT instruction.
func (i Instr) IntValue() int64 {
	n := int64((uint64(i) & intMagnitude) >> 8)
	if uint64(i)&intSign != 0 {
		return -n
	}
	return n
}

// FuncDefn returns the is_bound flag and maximum stack size.
func (i Instr) FuncDefn() (isBound bool, maxStack int) {
	return i&0x100 != 0, int((i & 0x7FFFFE00) >> 9)
}

// UnpackArgs returns the number of formal parameters and whether a
// variable-arguments parameter follows them.
func (i Instr) UnpackArgs() (numParams int, hasVargs bool) {
	return int((i & 0xFF00) >> 8), i&0x10000 != 0
}

// NameSize returns the byte length of an inline name.
func (i Instr) NameSize() int {
	return i.Operand()
}

// ArgInfo is a per-parameter word following UNPACK_ARGS.
type ArgInfo uint64

// VarNum returns the closure variable the parameter is stored in.
func (a ArgInfo) VarNum() int {
	return int(a & 0xFF)
}

// Optional reports whether the parameter may be omitted.
func (a ArgInfo) Optional() bool {
	return a&0x100 != 0
}

// ---------------------------------------------------------------------------
// Encoders
// ---------------------------------------------------------------------------

// EncodeOperand builds an instruction with an unsigned operand.
func EncodeOperand(op Opcode, n int) Instr {
	return Instr(op) | Instr(uint64(n&maxOperand)<<8)
}

// EncodeOffset builds an instruction with a signed offset.
func EncodeOffset(op Opcode, off int) Instr {
	if off < 0 {
		return Instr(op) | Instr(uint64((-off)&maxOffset)<<8) | offsetSign
	}
	return Instr(op) | Instr(uint64(off&maxOffset)<<8)
}

// EncodeVar builds a VAR_LOOKUP, VAR_ASSIGN or IS_ASSIGNED word.
func EncodeVar(op Opcode, closureOff, varNum int) Instr {
	return Instr(op) | Instr(uint64(closureOff&0xFFF)<<8) | Instr(uint64(varNum&0xFFF)<<20)
}

// EncodeInt builds an INT instruction.
func EncodeInt(v int64) Instr {
	if v < 0 {
		return Instr(OpInt) | Instr((uint64(-v)<<8)&intMagnitude) | Instr(intSign)
	}
	return Instr(OpInt) | Instr((uint64(v)<<8)&intMagnitude)
}

// EncodeFuncDefn builds a FUNC_DEFN instruction.
func EncodeFuncDefn(isBound bool, maxStack int) Instr {
	i := Instr(OpFuncDefn) | Instr(uint64(maxStack&0x3FFFFF)<<9)
	if isBound {
		i |= 0x100
	}
	return i
}

// EncodeUnpackArgs builds the header word of UNPACK_ARGS.
func EncodeUnpackArgs(numParams int, hasVargs bool) Instr {
	i := Instr(OpUnpackArgs) | Instr(uint64(numParams&0xFF)<<8)
	if hasVargs {
		i |= 0x10000
	}
	return i
}

// EncodeArgInfo builds a parameter word for UNPACK_ARGS.
func EncodeArgInfo(varNum int, optional bool) ArgInfo {
	a := ArgInfo(varNum & 0xFF)
	if optional {
		a |= 0x100
	}
	return a
}

// ---------------------------------------------------------------------------
// Sizing
// ---------------------------------------------------------------------------

// InstrSize returns the size in bytes of the instruction at off.
func InstrSize(bc []byte, off int) int {
	instr := Instr(ReadWord(bc, off))
	switch instr.Op().Info().Operand {
	case OperandName:
		return Align(NameStart + instr.NameSize())
	case OperandFloat, OperandIsAssigned:
		return 2 * WordSize
	case OperandUnpackArgs:
		n, vargs := instr.UnpackArgs()
		if vargs {
			n++
		}
		return WordSize + n*WordSize
	default:
		return WordSize
	}
}
