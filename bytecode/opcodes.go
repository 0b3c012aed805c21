package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the instruction tag held in the low byte of an instruction word.
type Opcode byte

const (
	OpExbi                 Opcode = 1  // name: bind a class field to an object
	OpVarLookup            Opcode = 2  // closure offset bits 8-19, var number bits 20-31
	OpVarAssign            Opcode = 3  // closure offset bits 8-19, var number bits 20-31
	OpInt                  Opcode = 4  // magnitude bits 8-62, sign bit 63
	OpAddFailureFrame      Opcode = 5  // signed offset
	OpAddFailUpFrame       Opcode = 6  // no operands
	OpRemoveFailureFrame   Opcode = 7  // no operands
	OpIsAssigned           Opcode = 8  // two words: var ref, then signed offset
	OpIs                   Opcode = 9  // no operands
	OpFailNow              Opcode = 10 // no operands
	OpPop                  Opcode = 11 // no operands
	OpList                 Opcode = 12 // number of elements
	OpSlotLookup           Opcode = 13 // name
	OpApply                Opcode = 14 // number of arguments
	OpFuncDefn             Opcode = 15 // is_bound bit 8, max stack size bits 9-30
	OpReturn               Opcode = 16 // no operands
	OpBranch               Opcode = 17 // signed offset
	OpYield                Opcode = 18 // no operands
	OpFloat                Opcode = 19 // followed by one float64 word
	OpImport               Opcode = 20 // import number
	OpDict                 Opcode = 21 // number of key/value pairs
	OpDup                  Opcode = 22 // no operands
	OpPull                 Opcode = 23 // entries back from the top
	OpString               Opcode = 25 // inline string
	OpBuiltinLookup        Opcode = 26 // builtin number
	OpAssignSlot           Opcode = 27 // name
	OpEYield               Opcode = 28 // no operands
	OpAddExceptionFrame    Opcode = 29 // signed offset
	OpInstanceOf           Opcode = 31 // no operands
	OpRemoveExceptionFrame Opcode = 32 // no operands
	OpRaise                Opcode = 33 // no operands
	OpSetItem              Opcode = 34 // no operands
	OpUnpackArgs           Opcode = 35 // num params bits 8-15, has vargs bit 16, then one word per param
	OpSet                  Opcode = 36 // number of elements
	OpBranchIfNotFail      Opcode = 37 // signed offset
	OpBranchIfFail         Opcode = 38 // signed offset
	OpConstGet             Opcode = 39 // constant number
	OpPreSlotLookupApply   Opcode = 41 // name
	OpUnpackAssign         Opcode = 42 // number of elements
	OpEq                   Opcode = 43
	OpLe                   Opcode = 44
	OpAdd                  Opcode = 45
	OpSubtract             Opcode = 46
	OpNeq                  Opcode = 47
	OpLeEq                 Opcode = 48
	OpGrEq                 Opcode = 49
	OpGt                   Opcode = 50
	OpModuleLookup         Opcode = 51 // name
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how an instruction's operands are laid out.
type OperandKind int

const (
	OperandNone       OperandKind = iota // single word, no operand
	OperandCount                         // single word, unsigned operand in bits 8-31
	OperandOffset                        // single word, signed offset
	OperandVar                           // single word, closure offset and var number
	OperandName                          // inline name, padded to a word boundary
	OperandInt                           // single word, signed 55-bit integer
	OperandFloat                         // two words
	OperandIsAssigned                    // two words
	OperandFuncDefn                      // single word, is_bound and max stack size
	OperandUnpackArgs                    // variable number of words
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string
	Operand OperandKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpExbi:                 {"EXBI", OperandName},
	OpVarLookup:            {"VAR_LOOKUP", OperandVar},
	OpVarAssign:            {"VAR_ASSIGN", OperandVar},
	OpInt:                  {"INT", OperandInt},
	OpAddFailureFrame:      {"ADD_FAILURE_FRAME", OperandOffset},
	OpAddFailUpFrame:       {"ADD_FAIL_UP_FRAME", OperandNone},
	OpRemoveFailureFrame:   {"REMOVE_FAILURE_FRAME", OperandNone},
	OpIsAssigned:           {"IS_ASSIGNED", OperandIsAssigned},
	OpIs:                   {"IS", OperandNone},
	OpFailNow:              {"FAIL_NOW", OperandNone},
	OpPop:                  {"POP", OperandNone},
	OpList:                 {"LIST", OperandCount},
	OpSlotLookup:           {"SLOT_LOOKUP", OperandName},
	OpApply:                {"APPLY", OperandCount},
	OpFuncDefn:             {"FUNC_DEFN", OperandFuncDefn},
	OpReturn:               {"RETURN", OperandNone},
	OpBranch:               {"BRANCH", OperandOffset},
	OpYield:                {"YIELD", OperandNone},
	OpFloat:                {"FLOAT", OperandFloat},
	OpImport:               {"IMPORT", OperandCount},
	OpDict:                 {"DICT", OperandCount},
	OpDup:                  {"DUP", OperandNone},
	OpPull:                 {"PULL", OperandCount},
	OpString:               {"STRING", OperandName},
	OpBuiltinLookup:        {"BUILTIN_LOOKUP", OperandCount},
	OpAssignSlot:           {"ASSIGN_SLOT", OperandName},
	OpEYield:               {"EYIELD", OperandNone},
	OpAddExceptionFrame:    {"ADD_EXCEPTION_FRAME", OperandOffset},
	OpInstanceOf:           {"INSTANCE_OF", OperandNone},
	OpRemoveExceptionFrame: {"REMOVE_EXCEPTION_FRAME", OperandNone},
	OpRaise:                {"RAISE", OperandNone},
	OpSetItem:              {"SET_ITEM", OperandNone},
	OpUnpackArgs:           {"UNPACK_ARGS", OperandUnpackArgs},
	OpSet:                  {"SET", OperandCount},
	OpBranchIfNotFail:      {"BRANCH_IF_NOT_FAIL", OperandOffset},
	OpBranchIfFail:         {"BRANCH_IF_FAIL", OperandOffset},
	OpConstGet:             {"CONST_GET", OperandCount},
	OpPreSlotLookupApply:   {"PRE_SLOT_LOOKUP_APPLY", OperandName},
	OpUnpackAssign:         {"UNPACK_ASSIGN", OperandCount},
	OpEq:                   {"EQ", OperandNone},
	OpLe:                   {"LE", OperandNone},
	OpAdd:                  {"ADD", OperandNone},
	OpSubtract:             {"SUBTRACT", OperandNone},
	OpNeq:                  {"NEQ", OperandNone},
	OpLeEq:                 {"LE_EQ", OperandNone},
	OpGrEq:                 {"GR_EQ", OperandNone},
	OpGt:                   {"GT", OperandNone},
	OpModuleLookup:         {"MODULE_LOOKUP", OperandName},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}
