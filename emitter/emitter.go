// Package emitter implements the single forward pass that turns a
// preprocessed token stream into a Glulx code image: instruction and
// directive emission with variable-width operand encoding, backpatch
// records for forward references, and the finalization step that pads,
// patches, and checksums the finished file.
package emitter

import (
	"fmt"
	"io"

	"github.com/GrenDrake/glulx-assemble/internal/vbuf"
	"github.com/GrenDrake/glulx-assemble/parser"
	"github.com/GrenDrake/glulx-assemble/stringtable"
)

// Patch is a forward reference discovered during emission: an operand
// whose value wasn't yet known, recorded so the finalizer can come back
// once every label is defined and write the real value into place.
type Patch struct {
	Pos          parser.Position
	BufferPos    int
	Width        int
	Operand      *parser.Operand
	Locals       []string
	RelativeFrom int // > 0 for a relative-branch operand; 0 otherwise
}

// State is the assembler's working state for the whole emission pass:
// the growing output image, the shared symbol table, the string-table
// tree (already built from the preprocessor's frequency pass), and the
// list of patches still to resolve.
type State struct {
	Buf     *vbuf.Buffer
	Symbols *parser.SymbolTable
	Strings *stringtable.Table
	Patches []*Patch
	Errs    *parser.ErrorList
	Debug   io.Writer

	Locals         []string
	StringTablePos int
	usedEncoded    bool

	// BaseDir resolves a relative .include_binary path, the same way
	// the preprocessor resolves .include.
	BaseDir string

	// InHeader is cleared by .end_header; still set once the token
	// stream is exhausted is an error, since every story file must mark
	// where its read-only header region ends.
	InHeader    bool
	RAMStart    uint32
	RAMStartSet bool

	ExtraMemory    uint32
	ExtraMemorySet bool
	StackSize      uint32
	StackSizeSet   bool
}

func NewState(symbols *parser.SymbolTable, strings *stringtable.Table, errs *parser.ErrorList) *State {
	return &State{
		Buf: vbuf.New(), Symbols: symbols, Strings: strings, Errs: errs,
		StringTablePos: -1, InHeader: true,
	}
}

// Emit walks the whole token stream once, defining labels, dispatching
// directives, and encoding instructions in source order.
func Emit(tokens *parser.TokenList, s *State) {
	for t := tokens.Head; t != nil && t.Kind != parser.TokEOF; {
		switch {
		case t.Kind == parser.TokEOL:
			t = t.Next
		case t.Kind == parser.TokIdentifier && t.Next != nil && t.Next.Kind == parser.TokColon:
			s.defineLabel(t)
			t = t.Next.Next
		case t.Kind == parser.TokDirective:
			t = s.emitDirective(t)
		case t.Kind == parser.TokIdentifier:
			t = s.emitMnemonic(t)
		default:
			s.Errs.AddError(t.Pos, parser.ErrorStructural, "unexpected token %s at start of statement", t.Kind)
			t = skipToEOL(t)
		}
	}
}

func skipToEOL(t *parser.Token) *parser.Token {
	for t != nil && t.Kind != parser.TokEOL && t.Kind != parser.TokEOF {
		t = t.Next
	}
	if t != nil && t.Kind == parser.TokEOL {
		return t.Next
	}
	return t
}

func (s *State) defineLabel(nameTok *parser.Token) {
	if err := s.Symbols.Define(nameTok.Literal, int32(s.Buf.Len()), nameTok.Pos); err != nil {
		s.Errs.AddError(nameTok.Pos, parser.ErrorSemantic, "%v", err)
	}
}

// evalContext returns the evaluation context for operands parsed at the
// current point in the emission pass: every symbol defined so far (an
// undefined one becomes a forward reference to patch later) plus the
// active function's locals, if any.
func (s *State) evalContext() *parser.EvalContext {
	return &parser.EvalContext{Symbols: s.Symbols, Locals: s.Locals}
}

// parseOperandList reads a comma-separated run of operand expressions
// starting at *cur, stopping at EOL/EOF. It does not enforce an operand
// count; callers that care compare len(result) to what they expected.
func parseOperandList(cur **parser.Token) ([]*parser.Operand, error) {
	var out []*parser.Operand
	for {
		tok := *cur
		if tok == nil || tok.Kind == parser.TokEOL || tok.Kind == parser.TokEOF {
			break
		}
		op, err := parser.ParseOperand(cur)
		if err != nil {
			return out, err
		}
		out = append(out, op)
		tok = *cur
		if tok != nil && tok.Kind == parser.TokComma {
			*cur = tok.Next
			continue
		}
		break
	}
	return out, nil
}

func (s *State) emitMnemonic(nameTok *parser.Token) *parser.Token {
	cur := nameTok.Next

	if nameTok.Literal == "opcode" {
		return s.emitRawOpcode(nameTok, &cur)
	}

	m, ok := LookupMnemonic(nameTok.Literal)
	if !ok {
		s.Errs.AddError(nameTok.Pos, parser.ErrorSemantic, "unknown mnemonic %q", nameTok.Literal)
		return skipToEOL(nameTok)
	}

	operands, err := parseOperandList(&cur)
	if err != nil {
		s.Errs.AddError(nameTok.Pos, parser.ErrorStructural, "%v", err)
		return skipToEOL(nameTok)
	}
	if len(operands) != m.Operands {
		s.Errs.AddError(nameTok.Pos, parser.ErrorStructural,
			"%q takes %d operand(s), found %d", m.Name, m.Operands, len(operands))
	}

	s.emitInstruction(m.Opcode, m.Relative, operands, nameTok.Pos)
	return expectEOL(cur, s)
}

// emitRawOpcode implements the "opcode N [rel] operand, ..." escape
// hatch: a numeric opcode not in the mnemonic table, written directly.
// The opcode number must already be a known constant — it has no use as
// a forward reference, since nothing before it could possibly define a
// label whose value is meant to be interpreted as an opcode.
func (s *State) emitRawOpcode(kw *parser.Token, cur **parser.Token) *parser.Token {
	ctx := &parser.EvalContext{Symbols: s.Symbols, Locals: s.Locals, ReportUnknown: true}
	numOp, err := parser.ParseOperand(cur)
	if err != nil {
		s.Errs.AddError(kw.Pos, parser.ErrorStructural, "%v", err)
		return skipToEOL(kw)
	}
	opcodeVal, _, known, err := numOp.Eval(ctx)
	if err != nil || !known {
		s.Errs.AddError(kw.Pos, parser.ErrorSemantic, "raw opcode number must be a known constant")
		return skipToEOL(kw)
	}

	relative := false
	if t := *cur; t != nil && t.Kind == parser.TokIdentifier && t.Literal == "rel" {
		relative = true
		*cur = t.Next
	}

	operands, err := parseOperandList(cur)
	if err != nil {
		s.Errs.AddError(kw.Pos, parser.ErrorStructural, "%v", err)
		return skipToEOL(kw)
	}

	s.emitInstruction(uint32(opcodeVal), relative, operands, kw.Pos)
	return expectEOL(*cur, s)
}

func expectEOL(t *parser.Token, s *State) *parser.Token {
	if t != nil && t.Kind != parser.TokEOL && t.Kind != parser.TokEOF {
		s.Errs.AddError(t.Pos, parser.ErrorStructural, "unexpected %s after statement", t.Kind)
		return skipToEOL(t)
	}
	if t != nil && t.Kind == parser.TokEOL {
		return t.Next
	}
	return t
}

// emitInstruction encodes one instruction: opcode tag, packed operand
// type nibbles, then each operand's payload in turn. A relative-branch
// mnemonic's last operand is always sized as a full 4-byte constant
// (there is no other way to know its width before its value is known,
// since that value depends on exactly where the instruction ends) and,
// once the position immediately after the instruction is known, has that
// position subtracted from it (plus 2, Glulx's fixed branch-target
// adjustment) if its value is already resolved; an unresolved branch
// operand gets the same transform applied later, at patch-resolution
// time.
func (s *State) emitInstruction(opcode uint32, relative bool, operands []*parser.Operand, pos parser.Position) {
	ctx := s.evalContext()
	n := len(operands)

	values := make([]int32, n)
	modes := make([]parser.OperandMode, n)
	known := make([]bool, n)
	for i, op := range operands {
		v, m, k, err := op.Eval(ctx)
		if err != nil {
			s.Errs.AddError(op.Pos, parser.ErrorSemantic, "%v", err)
		}
		values[i] = v
		modes[i] = m
		known[i] = k
	}

	relIndex := -1
	if relative && n > 0 {
		relIndex = n - 1
	}

	sizes := make([]int, n)
	for i := range operands {
		switch {
		case modes[i] == parser.ModeStack:
			sizes[i] = 0
		case i == relIndex:
			sizes[i] = 4
		case known[i]:
			sizes[i] = parser.OperandSize(values[i], modes[i])
		default:
			sizes[i] = 4
		}
	}

	tagWidth := opcodeTagWidth(opcode)
	afterPos := s.Buf.Len() + tagWidth + (n+1)/2
	for _, sz := range sizes {
		afterPos += sz
	}

	if relIndex >= 0 && known[relIndex] {
		values[relIndex] = values[relIndex] - int32(afterPos) + 2
	}

	if s.Debug != nil {
		fmt.Fprintf(s.Debug, "%s: @%d opcode=%#x operands=%d\n", pos, s.Buf.Len(), opcode, n)
	}

	s.writeOpcodeTag(opcode)

	types := make([]byte, n)
	for i := range operands {
		types[i] = operandType(modes[i], parser.SizeClass(sizes[i]))
	}
	s.Buf.PushBytes(packTypes(types))

	for i, op := range operands {
		if modes[i] == parser.ModeStack {
			continue
		}
		valuePos := s.Buf.Len()
		writeSized(s.Buf, sizes[i], uint32(values[i]))
		if !known[i] {
			relFrom := 0
			if i == relIndex {
				relFrom = afterPos
			}
			s.Patches = append(s.Patches, &Patch{
				Pos: op.Pos, BufferPos: valuePos, Width: sizes[i],
				Operand: op, Locals: append([]string(nil), s.Locals...),
				RelativeFrom: relFrom,
			})
		}
	}
}

func (s *State) writeOpcodeTag(opcode uint32) {
	switch {
	case opcode <= 0x7F:
		s.Buf.PushByte(byte(opcode))
	case opcode <= 0x3FFF:
		s.Buf.PushShort(uint16(opcode | 0x8000))
	default:
		s.Buf.PushWord(opcode | 0xC0000000)
	}
}

func opcodeTagWidth(opcode uint32) int {
	switch {
	case opcode <= 0x7F:
		return 1
	case opcode <= 0x3FFF:
		return 2
	default:
		return 4
	}
}

// Addressing-mode base codes for the packed operand-type nibble: a
// constant's size class is the whole nibble (0-3), while the other
// modes offset the same size class by a fixed base — indirect 4,
// local/stack 8, after-ram 12 — per the Glulx operand-type encoding.
const (
	baseConstant = 0
	baseIndirect = 4
	baseLocal    = 8
	baseStack    = 8
	baseAfterRAM = 12
)

func operandType(mode parser.OperandMode, class int) byte {
	base := baseConstant
	switch mode {
	case parser.ModeIndirect:
		base = baseIndirect
	case parser.ModeLocal:
		base = baseLocal
	case parser.ModeStack:
		base = baseStack
		class = 0 // the stack never carries a literal value to size
	case parser.ModeAfterRAM:
		base = baseAfterRAM
	}
	return byte(base | class)
}

// packTypes packs operand type nibbles two to a byte, low nibble first,
// matching Glulx's packed operand-type-list encoding.
func packTypes(types []byte) []byte {
	out := make([]byte, (len(types)+1)/2)
	for i, t := range types {
		if i%2 == 0 {
			out[i/2] |= t & 0x0F
		} else {
			out[i/2] |= (t & 0x0F) << 4
		}
	}
	return out
}

func writeSized(buf *vbuf.Buffer, size int, v uint32) {
	switch size {
	case 1:
		buf.PushByte(byte(v))
	case 2:
		buf.PushShort(uint16(v))
	case 4:
		buf.PushWord(v)
	}
}
