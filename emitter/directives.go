package emitter

import (
	"os"
	"path/filepath"

	"github.com/GrenDrake/glulx-assemble/parser"
)

// stringType tags match the Glulx string encodings: an uncompressed byte
// string, a Huffman-compressed string (stringtable.Table.EncodeString
// already supplies its own 0xE1 marker), and a 32-bit-per-character
// Unicode string.
const (
	stringTypeRaw = 0xE0
	stringTypeUni = 0xE2
)

// localWordType is the locals-format type byte for a 4-byte local. Every
// local this assembler defines is a full stack-frame word — operand.go's
// local-reference evaluation always resolves a local name to idx*4 — so a
// function's locals table is always one (type, count) pair of this type
// followed by the 0,0 terminator, never a mix of widths.
const localWordType = 4

// emitDirective dispatches one ".directive" statement. It returns the
// token to resume scanning from, same convention as emitMnemonic.
func (s *State) emitDirective(dirTok *parser.Token) *parser.Token {
	cur := dirTok.Next
	switch dirTok.Literal {
	case "function":
		return s.emitFunction(dirTok, &cur)
	case "endfunction":
		s.Locals = nil
		return expectEOL(cur, s)
	case "string", "cstring":
		return s.emitString(dirTok, &cur, stringTypeRaw)
	case "unicode":
		return s.emitString(dirTok, &cur, stringTypeUni)
	case "encoded":
		return s.emitEncoded(dirTok, &cur)
	case "byte":
		return s.emitInts(dirTok, &cur, 1)
	case "short":
		return s.emitInts(dirTok, &cur, 2)
	case "word":
		return s.emitInts(dirTok, &cur, 4)
	case "pad":
		return s.emitPad(dirTok, &cur)
	case "zero":
		return s.emitZero(dirTok, &cur)
	case "define":
		return s.emitDefine(dirTok, &cur)
	case "string_table":
		s.StringTablePos = s.Buf.Len()
		if s.Strings != nil {
			s.Buf.PushBytes(s.Strings.Serialize())
		}
		return expectEOL(cur, s)
	case "end_header":
		return s.emitEndHeader(dirTok, &cur)
	case "extra_memory":
		return s.emitExtraMemory(dirTok, &cur)
	case "stack_size":
		return s.emitStackSize(dirTok, &cur)
	case "include_binary":
		return s.emitIncludeBinary(dirTok, &cur)
	default:
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, "unknown directive %q", dirTok.Literal)
		return skipToEOL(dirTok)
	}
}

// emitFunction defines the label naming the function, then writes a
// Glulx function header — a type byte (stack-argument calling
// convention, the only one this assembler's call sites generate) and a
// locals-format table — before opening a local scope that lasts until
// the matching .endfunction: "name local1, local2, ..." declares the
// function's full set of local variables up front.
func (s *State) emitFunction(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	nameTok := *cur
	if nameTok == nil || nameTok.Kind != parser.TokIdentifier {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, ".function requires a name")
		return skipToEOL(dirTok)
	}
	*cur = nameTok.Next
	s.defineLabel(nameTok)

	const callTypeStackArgs = 0xC0
	s.Buf.PushByte(callTypeStackArgs)

	var locals []string
	for {
		t := *cur
		if t == nil || t.Kind == parser.TokEOL || t.Kind == parser.TokEOF {
			break
		}
		if t.Kind != parser.TokIdentifier {
			s.Errs.AddError(t.Pos, parser.ErrorStructural, "expected local name, found %s", t.Kind)
			return skipToEOL(dirTok)
		}
		locals = append(locals, t.Literal)
		*cur = t.Next
		if t := *cur; t != nil && t.Kind == parser.TokComma {
			*cur = t.Next
		}
	}

	if len(locals) > 0 {
		s.Buf.PushByte(localWordType)
		s.Buf.PushByte(byte(len(locals)))
	}
	s.Buf.PushByte(0)
	s.Buf.PushByte(0)

	s.Locals = locals
	return expectEOL(*cur, s)
}

func (s *State) emitString(dirTok *parser.Token, cur **parser.Token, kind byte) *parser.Token {
	strTok := *cur
	if strTok == nil || strTok.Kind != parser.TokString {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, ".%s requires a string literal", dirTok.Literal)
		return skipToEOL(dirTok)
	}
	*cur = strTok.Next

	s.Buf.PushByte(kind)
	switch kind {
	case stringTypeRaw:
		for _, r := range strTok.Literal {
			s.Buf.PushByte(byte(r))
		}
		s.Buf.PushByte(0)
	case stringTypeUni:
		for _, r := range strTok.Literal {
			s.Buf.PushWord(uint32(r))
		}
		s.Buf.PushWord(0)
	}
	return expectEOL(*cur, s)
}

func (s *State) emitEncoded(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	strTok := *cur
	if strTok == nil || strTok.Kind != parser.TokString {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, ".encoded requires a string literal")
		return skipToEOL(dirTok)
	}
	*cur = strTok.Next

	s.usedEncoded = true
	if s.Strings == nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorInternal, "no string table available for .encoded")
		return expectEOL(*cur, s)
	}
	bytes, err := s.Strings.EncodeString(strTok.Literal)
	if err != nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, "%v", err)
		return expectEOL(*cur, s)
	}
	s.Buf.PushBytes(bytes)
	return expectEOL(*cur, s)
}

func (s *State) emitInts(dirTok *parser.Token, cur **parser.Token, width int) *parser.Token {
	operands, err := parseOperandList(cur)
	if err != nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, "%v", err)
		return skipToEOL(dirTok)
	}
	if len(operands) == 0 {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, ".%s requires at least one value", dirTok.Literal)
		return expectEOL(*cur, s)
	}

	ctx := s.evalContext()
	for _, op := range operands {
		v, _, known, err := op.Eval(ctx)
		if err != nil {
			s.Errs.AddError(op.Pos, parser.ErrorSemantic, "%v", err)
		}
		pos := s.Buf.Len()
		writeSized(s.Buf, width, uint32(v))
		if width == 0 {
			continue
		}
		if !known {
			s.Patches = append(s.Patches, &Patch{
				Pos: op.Pos, BufferPos: pos, Width: width, Operand: op,
				Locals: append([]string(nil), s.Locals...),
			})
		}
	}
	return expectEOL(*cur, s)
}

func (s *State) emitPad(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	v, ok := s.evalKnownConstant(dirTok, cur, ".pad boundary")
	if !ok {
		return expectEOL(*cur, s)
	}
	s.Buf.Pad(int(v))
	return expectEOL(*cur, s)
}

func (s *State) emitZero(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	v, ok := s.evalKnownConstant(dirTok, cur, ".zero count")
	if !ok {
		return expectEOL(*cur, s)
	}
	for i := int32(0); i < v; i++ {
		s.Buf.PushByte(0)
	}
	return expectEOL(*cur, s)
}

// evalKnownConstant parses a single operand and evaluates it
// immediately; used by directives whose argument must already be a
// known value (.pad, .zero, .extra_memory, .stack_size), never a
// forward reference to a label defined later.
func (s *State) evalKnownConstant(dirTok *parser.Token, cur **parser.Token, what string) (int32, bool) {
	op, err := parseSingleOperand(cur)
	if err != nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, "%v", err)
		return 0, false
	}
	v, _, known, err := op.Eval(&parser.EvalContext{Symbols: s.Symbols, Locals: s.Locals, ReportUnknown: true})
	if err != nil || !known {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, "%s must be a known constant", what)
		return 0, false
	}
	return v, true
}

// emitEndHeader pads the current position to a 256-byte boundary and
// binds _RAMSTART there, closing the story file's read-only header
// region. A second .end_header is an error rather than silently
// re-padding and re-binding the symbol.
func (s *State) emitEndHeader(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	if !s.InHeader {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, ".end_header may only appear once")
		return expectEOL(*cur, s)
	}
	s.Buf.Pad(256)
	s.RAMStart = uint32(s.Buf.Len())
	s.RAMStartSet = true
	s.InHeader = false
	if err := s.Symbols.Define("_RAMSTART", int32(s.RAMStart), dirTok.Pos); err != nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, "%v", err)
	}
	return expectEOL(*cur, s)
}

// emitExtraMemory records the size of the extended (non-stored) memory
// region the interpreter must allocate beyond the file's own contents;
// Finalize adds it to _EXTSTART to produce _ENDMEM.
func (s *State) emitExtraMemory(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	v, ok := s.evalKnownConstant(dirTok, cur, ".extra_memory value")
	if !ok {
		return expectEOL(*cur, s)
	}
	if v < 0 || v%256 != 0 {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, ".extra_memory value must be a non-negative multiple of 256")
		return expectEOL(*cur, s)
	}
	s.ExtraMemory = uint32(v)
	s.ExtraMemorySet = true
	return expectEOL(*cur, s)
}

// emitStackSize overrides the header's stack_size field, the size in
// bytes of the call stack the interpreter reserves at startup.
func (s *State) emitStackSize(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	v, ok := s.evalKnownConstant(dirTok, cur, ".stack_size value")
	if !ok {
		return expectEOL(*cur, s)
	}
	if v < 0 || v%256 != 0 {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, ".stack_size value must be a non-negative multiple of 256")
		return expectEOL(*cur, s)
	}
	s.StackSize = uint32(v)
	s.StackSizeSet = true
	return expectEOL(*cur, s)
}

// emitIncludeBinary copies a named file's raw bytes verbatim into the
// output at the current position, the same path-resolution convention
// the preprocessor uses for .include.
func (s *State) emitIncludeBinary(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	nameTok := *cur
	if nameTok == nil || nameTok.Kind != parser.TokString {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, ".include_binary requires a string filename")
		return skipToEOL(dirTok)
	}
	*cur = nameTok.Next

	baseDir := s.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	path := filepath.Join(baseDir, nameTok.Literal)
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from assembly source by design
	if err != nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, "cannot read %q: %v", nameTok.Literal, err)
		return expectEOL(*cur, s)
	}
	s.Buf.PushBytes(data)
	return expectEOL(*cur, s)
}

// emitDefine evaluates a constant expression immediately and binds it to
// a name in the symbol table, rather than queuing a backpatch: a
// .define that referenced a label not yet seen would be meaningless,
// since nothing downstream re-reads .define's own source text the way a
// textual macro would.
func (s *State) emitDefine(dirTok *parser.Token, cur **parser.Token) *parser.Token {
	nameTok := *cur
	if nameTok == nil || nameTok.Kind != parser.TokIdentifier {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, ".define requires a name")
		return skipToEOL(dirTok)
	}
	*cur = nameTok.Next

	op, err := parseSingleOperand(cur)
	if err != nil {
		s.Errs.AddError(dirTok.Pos, parser.ErrorStructural, "%v", err)
		return skipToEOL(dirTok)
	}
	v, _, known, err := op.Eval(&parser.EvalContext{Symbols: s.Symbols, Locals: s.Locals, ReportUnknown: true})
	if err != nil || !known {
		s.Errs.AddError(dirTok.Pos, parser.ErrorSemantic, ".define value must be a known constant")
		return expectEOL(*cur, s)
	}
	if err := s.Symbols.Define(nameTok.Literal, v, nameTok.Pos); err != nil {
		s.Errs.AddError(nameTok.Pos, parser.ErrorSemantic, "%v", err)
	}
	return expectEOL(*cur, s)
}

func parseSingleOperand(cur **parser.Token) (*parser.Operand, error) {
	return parser.ParseOperand(cur)
}
