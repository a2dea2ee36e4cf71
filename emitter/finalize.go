package emitter

import (
	"github.com/GrenDrake/glulx-assemble/internal/vbuf"
	"github.com/GrenDrake/glulx-assemble/parser"
)

// Header layout constants for the 64-byte Glulx file header.
const (
	headerSize     = 64
	glulxMagic     = 0x476C756C // "Glul"
	versionWord    = 0x00030102 // 3.1.2
	gasmMarkerPos  = 36 // 4-byte tool marker, "gasm"
	timestampPos   = 40 // 4-byte Unix build time, 0 if omitted
	checksumOffset = 32
)

// Result is everything Finalize reports back about the finished image,
// beyond the bytes themselves: where the well-known symbols landed and
// whether any backpatch failed to resolve.
type Result struct {
	RAMStart uint32
	ExtStart uint32
	EndMem   uint32
}

// Finalize pads the code image to Glulx's required boundaries, defines
// the symbols every story file needs (_RAMSTART, the start of the
// writable region; _EXTSTART, the end of the portion actually stored on
// disk; and _ENDMEM, the end of the memory space the interpreter must
// allocate), resolves every outstanding Patch now that every label is
// guaranteed to be defined, and writes the 64-byte header — including
// the whole-file checksum, computed last, over everything but the
// checksum slot itself.
//
// Finalize always runs to completion and always produces a header and a
// checksum, even when errs already holds recorded errors: a partial or
// missing output file would make it harder, not easier, to see what a
// broken assembly actually produced, and the caller is responsible for
// checking errs.HasErrors() before deciding whether to keep the file at
// all.
//
// startOverride, when non-nil, takes precedence over the "start" label;
// when nil, Finalize resolves "start" from s.Symbols itself and reports
// an error (writing 0) if it was never defined.
//
// stackSize is the header's stack_size field unless overridden by a
// .stack_size directive in the source.
//
// timestamp is a Unix build time written into the header's reserved
// region for traceability across builds of the same source; 0 omits it,
// leaving that region zeroed (the -no-time case).
func Finalize(s *State, startOverride *uint32, stackSize uint32, timestamp uint32) Result {
	s.resolvePatches()

	s.Buf.Pad(256)
	extStart := uint32(s.Buf.Len())

	// A program with no .end_header has no writable region at all, so
	// RAMSTART simply falls back to the end of the stored image, the
	// same value it always held before .end_header existed.
	ramStart := s.RAMStart
	if !s.RAMStartSet {
		ramStart = extStart
		if err := s.Symbols.Define("_RAMSTART", int32(ramStart), parser.Position{Synthetic: true}); err != nil {
			s.Errs.AddError(parser.Position{Synthetic: true}, parser.ErrorSemantic, "%v", err)
		}
	}

	extraMemory := s.ExtraMemory
	s.Buf.Pad(1)
	endMem := extStart + extraMemory

	if err := s.Symbols.Define("_EXTSTART", int32(extStart), parser.Position{Synthetic: true}); err != nil {
		s.Errs.AddError(parser.Position{Synthetic: true}, parser.ErrorSemantic, "%v", err)
	}
	if err := s.Symbols.Define("_ENDMEM", int32(endMem), parser.Position{Synthetic: true}); err != nil {
		s.Errs.AddError(parser.Position{Synthetic: true}, parser.ErrorSemantic, "%v", err)
	}

	effectiveStackSize := stackSize
	if s.StackSizeSet {
		effectiveStackSize = s.StackSize
	}

	startAddress := s.resolveStartAddress(startOverride)

	writeHeader(s.Buf, ramStart, extStart, endMem, startAddress, effectiveStackSize, uint32(s.StringTablePos), timestamp)

	return Result{RAMStart: ramStart, ExtStart: extStart, EndMem: endMem}
}

// resolveStartAddress honors an explicit override if one was given,
// otherwise resolves the "start" label — every story file's entry
// point — reporting an error and returning 0 if it was never defined.
func (s *State) resolveStartAddress(override *uint32) uint32 {
	if override != nil {
		return *override
	}
	v, err := s.Symbols.Get("start")
	if err != nil {
		s.Errs.AddError(parser.Position{Synthetic: true}, parser.ErrorSemantic,
			"missing \"start\" label: no entry point to record in the header")
		return 0
	}
	return uint32(v)
}

// resolvePatches walks every recorded forward reference now that every
// label in the program has been defined. Unlike emission, an unresolved
// symbol here is always a real error — ReportUnknown is set — since
// there is no later pass left to come back to.
func (s *State) resolvePatches() {
	for _, p := range s.Patches {
		ctx := &parser.EvalContext{Symbols: s.Symbols, Locals: p.Locals, ReportUnknown: true}
		v, _, _, err := p.Operand.Eval(ctx)
		if err != nil {
			s.Errs.AddError(p.Pos, parser.ErrorSemantic, "%v", err)
			continue
		}
		if p.RelativeFrom > 0 {
			v = v - int32(p.RelativeFrom) + 2
		}
		switch p.Width {
		case 1:
			s.Buf.SetByte(p.BufferPos, byte(v))
		case 2:
			s.Buf.SetShort(p.BufferPos, uint16(v))
		case 4:
			s.Buf.SetWord(p.BufferPos, uint32(v))
		}
	}
}

// writeHeader appends the 64-byte Glulx header. It is written at the
// very start of the buffer by prepending, rather than reserving the
// first 64 bytes up front, so that every position the emitter records —
// _EXTSTART, every label, every patch — is simply the header size plus
// the code offset, with no bookkeeping split between "logical" and
// "file" addresses anywhere else in the package.
func writeHeader(buf *vbuf.Buffer, ramStart, extStart, endMem, startAddress, stackSize, stringTablePos, timestamp uint32) {
	header := vbuf.New()
	header.PushWord(glulxMagic)
	header.PushWord(versionWord)
	header.PushWord(ramStart) // RAMSTART: everything before it is read-only
	header.PushWord(extStart) // EXTSTART
	header.PushWord(endMem)   // ENDMEM
	header.PushWord(stackSize)
	header.PushWord(startAddress)
	header.PushWord(stringTablePos)
	header.PushWord(0) // checksum placeholder, filled in below
	header.PushBytes([]byte("gasm"))
	header.PushWord(timestamp)         // 0 when the build omits a timestamp
	header.PushBytes(make([]byte, 8)) // remaining reserved bytes

	for header.Len() < headerSize {
		header.PushByte(0)
	}

	full := append(append([]byte{}, header.Bytes()...), buf.Bytes()...)
	checksum := computeChecksum(full)

	out := vbuf.New()
	out.PushBytes(full)
	out.SetWord(checksumOffset, checksum)
	*buf = *out
}

// computeChecksum sums every 32-bit big-endian word of the image, with
// the checksum slot itself treated as zero, matching Glulx's required
// validation algorithm exactly.
func computeChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		if i == checksumOffset {
			continue
		}
		sum += uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
	}
	return sum
}
