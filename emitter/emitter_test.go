package emitter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GrenDrake/glulx-assemble/parser"
	"github.com/GrenDrake/glulx-assemble/stringtable"
)

func lexSource(t *testing.T, src string) (*parser.TokenList, *parser.ErrorList) {
	t.Helper()
	errs := &parser.ErrorList{}
	tokens := parser.NewLexer("test.ga", []byte(src), errs).Lex()
	if errs.HasErrors() {
		t.Fatalf("unexpected lex errors: %v", errs.Error())
	}
	return tokens, errs
}

func newTestState(errs *parser.ErrorList) *State {
	return NewState(parser.NewSymbolTable(), stringtable.New(), errs)
}

func TestEmitAddInstructionEncodesOperandTypes(t *testing.T) {
	tokens, errs := lexSource(t, "add 1, 2, sp\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}

	data := s.Buf.Bytes()
	if data[0] != 0x10 {
		t.Fatalf("expected add opcode 0x10, got %#x", data[0])
	}
	// Three operands, two type-nibble bytes: const1, const1, stack(8).
	if data[1] != 0x11 || data[2] != 0x08 {
		t.Fatalf("unexpected type nibble bytes: %#x %#x", data[1], data[2])
	}
	if data[3] != 1 || data[4] != 2 {
		t.Fatalf("unexpected operand payload: %v", data[3:5])
	}
	if len(data) != 5 {
		t.Fatalf("expected 5 bytes total (no payload for the stack operand), got %d", len(data))
	}
}

func TestEmitLabelDefinitionRecordsPosition(t *testing.T) {
	tokens, errs := lexSource(t, "start:\nnop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	sym, ok := s.Symbols.Lookup("start")
	if !ok || !sym.Defined || sym.Value != 0 {
		t.Fatalf("expected start defined at 0, got %+v ok=%v", sym, ok)
	}
}

func TestEmitForwardJumpPatchedAtFinalize(t *testing.T) {
	tokens, errs := lexSource(t, "jump target\nnop\ntarget:\nnop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors during emission: %s", errs.Error())
	}
	if len(s.Patches) != 1 {
		t.Fatalf("expected exactly one outstanding patch, got %d", len(s.Patches))
	}

	startAddr := uint32(0)
	Finalize(s, &startAddr, 1024, 0)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors during finalize: %s", errs.Error())
	}

	data := s.Buf.Bytes()
	if data[0] != glulxMagic>>24 {
		t.Fatalf("expected header magic at start of image, got %#x", data[0])
	}
}

func TestEmitByteShortWordDirectives(t *testing.T) {
	tokens, errs := lexSource(t, ".byte 1, 2\n.short 300\n.word 70000\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	data := s.Buf.Bytes()
	if len(data) != 2+2+4 {
		t.Fatalf("expected 8 bytes total, got %d: %v", len(data), data)
	}
	if data[0] != 1 || data[1] != 2 {
		t.Fatalf("bad .byte output: %v", data[:2])
	}
	if data[2] != 0x01 || data[3] != 0x2C {
		t.Fatalf("bad .short output for 300: %v", data[2:4])
	}
}

func TestEmitRawStringDirective(t *testing.T) {
	tokens, errs := lexSource(t, `.string "hi"`+"\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	data := s.Buf.Bytes()
	want := []byte{0xE0, 'h', 'i', 0}
	if string(data) != string(want) {
		t.Fatalf("got %v, want %v", data, want)
	}
}

func TestEmitPadAndZero(t *testing.T) {
	tokens, errs := lexSource(t, ".byte 1\n.pad 4\n.zero 2\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if s.Buf.Len() != 6 {
		t.Fatalf("expected 4 (padded) + 2 (zeroed) = 6 bytes, got %d", s.Buf.Len())
	}
}

func TestEmitDefineBindsConstant(t *testing.T) {
	tokens, errs := lexSource(t, ".define kTwo 2\n.byte kTwo\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if s.Buf.Bytes()[0] != 2 {
		t.Fatalf("expected the defined constant's value written, got %d", s.Buf.Bytes()[0])
	}
}

func TestEmitDefineOfUndefinedSymbolIsError(t *testing.T) {
	tokens, errs := lexSource(t, ".define kBad notyet\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if !errs.HasErrors() {
		t.Fatalf("expected an error defining a constant from an unresolved forward reference")
	}
}

func TestEmitFunctionLocalsAffectOperandEncoding(t *testing.T) {
	tokens, errs := lexSource(t, ".function myFunc local1, local2\ncopy local2, sp\n.endfunction\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	// Header: call type (1) + locals format (2) + terminator (2) = 5 bytes.
	// Then copy: opcode(1) + types(1) + local2's index*4 = 4 as a 1-byte
	// const, since local2 is the second local (index 1).
	data := s.Buf.Bytes()
	if data[0] != 0xC0 {
		t.Fatalf("expected stack-args call type byte, got %#x", data[0])
	}
	if data[1] != localWordType || data[2] != 2 {
		t.Fatalf("expected locals format (4, 2), got (%d, %d)", data[1], data[2])
	}
	if data[3] != 0 || data[4] != 0 {
		t.Fatalf("expected locals-format terminator, got (%d, %d)", data[3], data[4])
	}
	rest := data[5:]
	if rest[0] != 0x40 {
		t.Fatalf("expected copy opcode 0x40, got %#x", rest[0])
	}
	if rest[2] != 4 {
		t.Fatalf("expected local2 (index 1) to resolve to offset 4, got %d", rest[2])
	}
	if s.Locals != nil {
		t.Fatalf(".endfunction should have cleared the active locals scope")
	}
}

func TestEmitEncodedStringUsesStringTable(t *testing.T) {
	errs := &parser.ErrorList{}
	tokens := parser.NewLexer("test.ga", []byte(".encoded \"hi\"\n"), errs).Lex()
	tbl := stringtable.New()
	pp := parser.NewPreprocessor(".", tbl, errs)
	pp.Process(tokens, "test.ga")
	tbl.Build()

	s := NewState(parser.NewSymbolTable(), tbl, errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if s.Buf.Bytes()[0] != 0xE1 {
		t.Fatalf("expected compressed-string marker 0xE1, got %#x", s.Buf.Bytes()[0])
	}
}

func TestEmitUnknownMnemonicIsError(t *testing.T) {
	tokens, errs := lexSource(t, "bogusop 1\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if !errs.HasErrors() {
		t.Fatalf("expected an error for an unknown mnemonic")
	}
}

func TestEmitRawOpcodeSyntax(t *testing.T) {
	tokens, errs := lexSource(t, "opcode $10 1, 2, sp\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if s.Buf.Bytes()[0] != 0x10 {
		t.Fatalf("expected raw opcode 0x10 (add), got %#x", s.Buf.Bytes()[0])
	}
}

func TestFinalizeChecksumIsConsistent(t *testing.T) {
	tokens, errs := lexSource(t, "nop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	startAddr := uint32(0)
	Finalize(s, &startAddr, 256, 0)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}

	data := append([]byte(nil), s.Buf.Bytes()...)
	want := computeChecksum(data)
	got := uint32(data[32])<<24 | uint32(data[33])<<16 | uint32(data[34])<<8 | uint32(data[35])
	if got != want {
		t.Fatalf("stored checksum %#x does not match recomputed checksum %#x", got, want)
	}
}

func TestFinalizeDefinesExtstartAndEndmem(t *testing.T) {
	tokens, errs := lexSource(t, "nop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	startAddr := uint32(0)
	Finalize(s, &startAddr, 256, 0)
	if _, ok := s.Symbols.Lookup("_EXTSTART"); !ok {
		t.Fatalf("expected _EXTSTART to be defined")
	}
	if _, ok := s.Symbols.Lookup("_ENDMEM"); !ok {
		t.Fatalf("expected _ENDMEM to be defined")
	}
}

func TestFinalizeUnresolvedSymbolIsError(t *testing.T) {
	tokens, errs := lexSource(t, "jump nosuchlabel\n")
	s := newTestState(errs)
	Emit(tokens, s)
	startAddr := uint32(0)
	Finalize(s, &startAddr, 256, 0)
	if !errs.HasErrors() {
		t.Fatalf("expected an error resolving a patch to an undefined label")
	}
	if !strings.Contains(errs.Error(), "nosuchlabel") {
		t.Fatalf("expected error to name the missing symbol, got: %s", errs.Error())
	}
}

func TestFinalizeWritesTimestampWhenNonzero(t *testing.T) {
	tokens, errs := lexSource(t, "nop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	startAddr := uint32(0)
	Finalize(s, &startAddr, 256, 0x5F5E100)

	data := s.Buf.Bytes()
	got := uint32(data[40])<<24 | uint32(data[41])<<16 | uint32(data[42])<<8 | uint32(data[43])
	if got != 0x5F5E100 {
		t.Fatalf("expected timestamp %#x at offset 40, got %#x", 0x5F5E100, got)
	}
}

func TestFinalizeOmitsTimestampWhenZero(t *testing.T) {
	tokens, errs := lexSource(t, "nop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	startAddr := uint32(0)
	Finalize(s, &startAddr, 256, 0)

	data := s.Buf.Bytes()
	got := uint32(data[40])<<24 | uint32(data[41])<<16 | uint32(data[42])<<8 | uint32(data[43])
	if got != 0 {
		t.Fatalf("expected timestamp offset to stay zero, got %#x", got)
	}
}

func TestEmitIndirectAndLocalOperandEncoding(t *testing.T) {
	tokens, errs := lexSource(t, "target:\nadd *target, #3, sp\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	data := s.Buf.Bytes()
	if data[0] != 0x10 {
		t.Fatalf("expected add opcode 0x10, got %#x", data[0])
	}
	// indirect(target=0, 1 byte) -> type 5; local(3*4=12, 1 byte) -> type 9; stack -> type 8.
	if data[1] != 0x95 || data[2] != 0x08 {
		t.Fatalf("unexpected type nibble bytes: %#x %#x", data[1], data[2])
	}
	if data[3] != 0 {
		t.Fatalf("expected indirect operand payload 0 (target's address), got %d", data[3])
	}
	if data[4] != 12 {
		t.Fatalf("expected local operand payload 12 (index 3 scaled by 4), got %d", data[4])
	}
	if len(data) != 5 {
		t.Fatalf("expected 5 bytes total (no payload for the stack operand), got %d", len(data))
	}
}

func TestParseIndirectOfNonConstantIsError(t *testing.T) {
	tokens, errs := lexSource(t, "add *sp, 1, sp\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if !errs.HasErrors() {
		t.Fatalf("expected indirect-referencing the stack to be an error")
	}
}

func TestEmitEndHeaderPadsAndBindsRamstart(t *testing.T) {
	tokens, errs := lexSource(t, ".byte 1\n.end_header\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if s.Buf.Len() != 256 {
		t.Fatalf("expected .end_header to pad to a 256-byte boundary, got %d", s.Buf.Len())
	}
	if !s.RAMStartSet || s.RAMStart != 256 {
		t.Fatalf("expected RAMStart=256, got %d set=%v", s.RAMStart, s.RAMStartSet)
	}
	sym, ok := s.Symbols.Lookup("_RAMSTART")
	if !ok || !sym.Defined || sym.Value != 256 {
		t.Fatalf("expected _RAMSTART=256, got %+v ok=%v", sym, ok)
	}
}

func TestEmitEndHeaderTwiceIsError(t *testing.T) {
	tokens, errs := lexSource(t, ".end_header\n.end_header\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if !errs.HasErrors() {
		t.Fatalf("expected a second .end_header to be an error")
	}
}

func TestEmitExtraMemoryRequiresMultipleOf256(t *testing.T) {
	tokens, errs := lexSource(t, ".extra_memory 300\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if !errs.HasErrors() {
		t.Fatalf("expected an error for a non-multiple-of-256 .extra_memory value")
	}
}

func TestEmitStackSizeOverridesHeaderDefault(t *testing.T) {
	tokens, errs := lexSource(t, ".stack_size 512\nnop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if !s.StackSizeSet || s.StackSize != 512 {
		t.Fatalf("expected StackSize=512, got %d set=%v", s.StackSize, s.StackSizeSet)
	}
}

func TestEmitIncludeBinaryCopiesRawBytes(t *testing.T) {
	dir := t.TempDir()
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), want, 0o644); err != nil {
		t.Fatalf("failed to write fixture file: %v", err)
	}

	tokens, errs := lexSource(t, `.include_binary "data.bin"`+"\n")
	s := newTestState(errs)
	s.BaseDir = dir
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	if string(s.Buf.Bytes()) != string(want) {
		t.Fatalf("got %v, want %v", s.Buf.Bytes(), want)
	}
}

func TestFinalizeResolvesStartLabel(t *testing.T) {
	tokens, errs := lexSource(t, ".end_header\nstart:\nnop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	result := Finalize(s, nil, 256, 0)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	data := s.Buf.Bytes()
	startAddress := uint32(data[24])<<24 | uint32(data[25])<<16 | uint32(data[26])<<8 | uint32(data[27])
	if startAddress != result.RAMStart {
		t.Fatalf("expected start_address to resolve to the start label (%#x), got %#x", result.RAMStart, startAddress)
	}
}

func TestFinalizeMissingStartLabelIsError(t *testing.T) {
	tokens, errs := lexSource(t, ".end_header\nnop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	Finalize(s, nil, 256, 0)
	if !errs.HasErrors() {
		t.Fatalf("expected an error for a missing start label")
	}
	if !strings.Contains(errs.Error(), "start") {
		t.Fatalf("expected error to mention the missing start label, got: %s", errs.Error())
	}
}

func TestFinalizeStartOverrideWinsOverLabel(t *testing.T) {
	tokens, errs := lexSource(t, ".end_header\nstart:\nnop\n")
	s := newTestState(errs)
	Emit(tokens, s)
	override := uint32(0x999)
	Finalize(s, &override, 256, 0)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	data := s.Buf.Bytes()
	startAddress := uint32(data[24])<<24 | uint32(data[25])<<16 | uint32(data[26])<<8 | uint32(data[27])
	if startAddress != 0x999 {
		t.Fatalf("expected an explicit start override to win over the start label, got %#x", startAddress)
	}
}

// TestFinalizeMinimalProgramScenario reproduces the worked example of a
// smallest-possible story file: .end_header pads to the first 256-byte
// boundary, the code that follows pads to the next one, and every
// header field is derived from those two positions plus the explicit
// .extra_memory/.stack_size values.
func TestFinalizeMinimalProgramScenario(t *testing.T) {
	tokens, errs := lexSource(t, ".extra_memory 0\n.stack_size 256\n.end_header\nstart:\n  quit\n")
	s := newTestState(errs)
	Emit(tokens, s)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors: %s", errs.Error())
	}
	result := Finalize(s, nil, 0, 0)
	if errs.HasErrors() {
		t.Fatalf("unexpected errors during finalize: %s", errs.Error())
	}
	if result.RAMStart != 0x100 {
		t.Fatalf("expected ram_start 0x100, got %#x", result.RAMStart)
	}
	if result.ExtStart != 0x200 {
		t.Fatalf("expected end_memory 0x200, got %#x", result.ExtStart)
	}
	if result.EndMem != 0x200 {
		t.Fatalf("expected extended_memory_end 0x200, got %#x", result.EndMem)
	}

	data := s.Buf.Bytes()
	stackSize := uint32(data[20])<<24 | uint32(data[21])<<16 | uint32(data[22])<<8 | uint32(data[23])
	if stackSize != 0x100 {
		t.Fatalf("expected stack_size 0x100, got %#x", stackSize)
	}
	startAddress := uint32(data[24])<<24 | uint32(data[25])<<16 | uint32(data[26])<<8 | uint32(data[27])
	if startAddress != 0x100 {
		t.Fatalf("expected start_address 0x100, got %#x", startAddress)
	}
	if data[0x100] != 0x81 || data[0x101] != 0x20 {
		t.Fatalf("expected quit's two-byte opcode tag 81 20 at 0x100, got %#x %#x", data[0x100], data[0x101])
	}
}
