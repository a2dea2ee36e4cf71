package emitter

import "strings"

// Mnemonic describes one instruction the emitter knows how to encode: its
// numeric opcode, how many operands it takes, and whether its last
// operand is a relative branch target rather than an ordinary value.
// This table is data, not code — exactly the "opcode tables are data
// supplied to the core" design the emitter is built around — so adding
// an instruction never touches the encoding logic itself.
//
// Opcode numbers and operand counts are the Glulx 3.1.2 specification's
// own instruction set, not the historical assembler's transcription of
// it (that table carries at least one duplicate-opcode transcription
// slip — see DESIGN.md); using the spec's own numbers is what makes the
// emitted image an actually valid Glulx story file.
type Mnemonic struct {
	Name     string
	Opcode   uint32
	Operands int
	Relative bool // last operand is a relative branch target
}

var mnemonics = []Mnemonic{
	{"nop", 0x00, 0, false},

	{"add", 0x10, 3, false},
	{"sub", 0x11, 3, false},
	{"mul", 0x12, 3, false},
	{"div", 0x13, 3, false},
	{"mod", 0x14, 3, false},
	{"neg", 0x15, 2, false},
	{"bitand", 0x18, 3, false},
	{"bitor", 0x19, 3, false},
	{"bitxor", 0x1A, 3, false},
	{"bitnot", 0x1B, 2, false},
	{"shiftl", 0x1C, 3, false},
	{"sshiftr", 0x1D, 3, false},
	{"ushiftr", 0x1E, 3, false},

	{"jump", 0x20, 1, true},
	{"jz", 0x22, 2, true},
	{"jnz", 0x23, 2, true},
	{"jeq", 0x24, 3, true},
	{"jne", 0x25, 3, true},
	{"jlt", 0x26, 3, true},
	{"jge", 0x27, 3, true},
	{"jgt", 0x28, 3, true},
	{"jle", 0x29, 3, true},
	{"jltu", 0x2A, 3, true},
	{"jgeu", 0x2B, 3, true},
	{"jgtu", 0x2C, 3, true},
	{"jleu", 0x2D, 3, true},
	{"jumpabs", 0x104, 1, false},

	{"call", 0x30, 3, false},
	{"return", 0x31, 1, false},
	{"catch", 0x32, 2, true},
	{"throw", 0x33, 2, false},
	{"tailcall", 0x34, 2, false},

	{"copy", 0x40, 2, false},
	{"copys", 0x41, 2, false},
	{"copyb", 0x42, 2, false},
	{"sexs", 0x44, 2, false},
	{"sexb", 0x45, 2, false},

	{"aload", 0x48, 3, false},
	{"aloads", 0x49, 3, false},
	{"aloadb", 0x4A, 3, false},
	{"aloadbit", 0x4B, 3, false},
	{"astore", 0x4C, 3, false},
	{"astores", 0x4D, 3, false},
	{"astoreb", 0x4E, 3, false},
	{"astorebit", 0x4F, 3, false},

	{"stkcount", 0x50, 1, false},
	{"stkpeek", 0x51, 2, false},
	{"stkswap", 0x52, 0, false},
	{"stkroll", 0x53, 2, false},
	{"stkcopy", 0x54, 1, false},

	{"streamchar", 0x70, 1, false},
	{"streamnum", 0x71, 1, false},
	{"streamstr", 0x72, 1, false},
	{"streamunichar", 0x73, 1, false},

	{"gestalt", 0x100, 3, false},
	{"debugtrap", 0x101, 1, false},
	{"getmemsize", 0x102, 1, false},
	{"setmemsize", 0x103, 2, false},

	{"random", 0x110, 2, false},
	{"setrandom", 0x111, 1, false},

	{"quit", 0x120, 0, false},
	{"verify", 0x121, 1, false},
	{"restart", 0x122, 0, false},
	{"save", 0x123, 2, false},
	{"restore", 0x124, 2, false},
	{"saveundo", 0x125, 1, false},
	{"restoreundo", 0x126, 1, false},
	{"protect", 0x127, 2, false},

	{"glk", 0x130, 3, false},

	{"getstringtbl", 0x140, 1, false},
	{"setstringtbl", 0x141, 1, false},
	{"getiosys", 0x148, 2, false},
	{"setiosys", 0x149, 2, false},

	{"linearsearch", 0x150, 8, false},
	{"binarysearch", 0x151, 8, false},
	{"linkedsearch", 0x152, 7, false},

	{"callf", 0x160, 2, false},
	{"callfi", 0x161, 3, false},
	{"callfii", 0x162, 4, false},
	{"callfiii", 0x163, 5, false},

	{"mzero", 0x170, 2, false},
	{"mcopy", 0x171, 3, false},
	{"malloc", 0x178, 2, false},
	{"mfree", 0x179, 1, false},

	{"accelfunc", 0x180, 2, false},
	{"accelparam", 0x181, 2, false},

	{"numtof", 0x190, 2, false},
	{"ftonumz", 0x191, 2, false},
	{"ftonumn", 0x192, 2, false},
	{"ceil", 0x198, 2, false},
	{"floor", 0x199, 2, false},
	{"fadd", 0x1A0, 3, false},
	{"fsub", 0x1A1, 3, false},
	{"fmul", 0x1A2, 3, false},
	{"fdiv", 0x1A3, 3, false},
	{"fmod", 0x1A4, 4, false},
	{"sqrt", 0x1A8, 2, false},
	{"exp", 0x1A9, 2, false},
	{"log", 0x1AA, 2, false},
	{"pow", 0x1AB, 3, false},
	{"sin", 0x1B0, 2, false},
	{"cos", 0x1B1, 2, false},
	{"tan", 0x1B2, 2, false},
	{"asin", 0x1B3, 2, false},
	{"acos", 0x1B4, 2, false},
	{"atan", 0x1B5, 2, false},
	{"atan2", 0x1B6, 3, false},

	{"jfeq", 0x1C0, 4, true},
	{"jfne", 0x1C1, 4, true},
	{"jflt", 0x1C2, 3, true},
	{"jfle", 0x1C3, 3, true},
	{"jfgt", 0x1C4, 3, true},
	{"jfge", 0x1C5, 3, true},
	{"jisnan", 0x1C8, 2, true},
	{"jisinf", 0x1C9, 2, true},
}

var mnemonicByName map[string]Mnemonic

func init() {
	mnemonicByName = make(map[string]Mnemonic, len(mnemonics))
	for _, m := range mnemonics {
		mnemonicByName[m.Name] = m
	}
}

// LookupMnemonic finds an instruction by name, case-insensitively.
func LookupMnemonic(name string) (Mnemonic, bool) {
	m, ok := mnemonicByName[strings.ToLower(name)]
	return m, ok
}
