// Package vbuf implements the growable byte buffer the assembler uses to
// accumulate its output image before it is written to disk. It is
// intentionally small: a resizable []byte with big-endian multi-byte
// push/overwrite helpers, grounded on the original assembler's vbuffer.c
// (vbuffer_pushchar's doubling growth, vbuffer_readfile's whole-file
// slurp) and re-expressed with Go slice semantics instead of a manual
// realloc.
package vbuf

import "os"

const initialCapacity = 8

// Buffer is a growable byte sequence with position-addressed overwrite,
// used both to build the in-progress output image and, in the emitter,
// to patch a previously-written slot once a forward reference resolves.
type Buffer struct {
	data []byte
}

// New returns an empty Buffer ready to accept pushes.
func New() *Buffer {
	return &Buffer{data: make([]byte, 0, initialCapacity)}
}

// Len reports the number of bytes pushed so far; this doubles as the
// "current position" the emitter uses as its code pointer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffer's contents. The caller must not retain it
// across further pushes, since growth may reallocate.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) PushByte(v byte) {
	b.data = append(b.data, v)
}

func (b *Buffer) PushBytes(v []byte) {
	b.data = append(b.data, v...)
}

// PushShort appends a big-endian 16-bit value.
func (b *Buffer) PushShort(v uint16) {
	b.data = append(b.data, byte(v>>8), byte(v))
}

// PushWord appends a big-endian 32-bit value.
func (b *Buffer) PushWord(v uint32) {
	b.data = append(b.data, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// SetByte overwrites a single previously-written byte, used by the
// finalizer to fill in a backpatched operand's first byte in place.
func (b *Buffer) SetByte(pos int, v byte) {
	b.data[pos] = v
}

// SetShort overwrites two previously-written bytes with a big-endian
// 16-bit value.
func (b *Buffer) SetShort(pos int, v uint16) {
	b.data[pos] = byte(v >> 8)
	b.data[pos+1] = byte(v)
}

// SetWord overwrites four previously-written bytes with a big-endian
// 32-bit value.
func (b *Buffer) SetWord(pos int, v uint32) {
	b.data[pos] = byte(v >> 24)
	b.data[pos+1] = byte(v >> 16)
	b.data[pos+2] = byte(v >> 8)
	b.data[pos+3] = byte(v)
}

// Pad appends zero bytes until Len() is a multiple of boundary.
func (b *Buffer) Pad(boundary int) {
	for len(b.data)%boundary != 0 {
		b.data = append(b.data, 0)
	}
}

// WriteFile writes the buffer's contents to path, replacing any existing
// file.
func (b *Buffer) WriteFile(path string) error {
	return os.WriteFile(path, b.data, 0o644) // #nosec G306 -- story files are not sensitive
}

// ReadFile slurps an entire file into a fresh Buffer, used to compute the
// finished output's checksum in one pass after the header has been
// patched in.
func ReadFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the assembler's own just-written output file
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data}, nil
}
