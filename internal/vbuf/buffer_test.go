package vbuf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndLen(t *testing.T) {
	b := New()
	b.PushByte(1)
	b.PushShort(0x0203)
	b.PushWord(0x04050607)
	if b.Len() != 7 {
		t.Fatalf("expected length 7, got %d", b.Len())
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7}
	for i, w := range want {
		if b.Bytes()[i] != w {
			t.Errorf("byte %d: got %#x, want %#x", i, b.Bytes()[i], w)
		}
	}
}

func TestSetOverwritesInPlace(t *testing.T) {
	b := New()
	b.PushWord(0)
	b.SetWord(0, 0xDEADBEEF)
	if b.Bytes()[0] != 0xDE || b.Bytes()[3] != 0xEF {
		t.Fatalf("SetWord did not overwrite correctly: %x", b.Bytes())
	}

	b2 := New()
	b2.PushShort(0)
	b2.SetShort(0, 0x1234)
	if b2.Bytes()[0] != 0x12 || b2.Bytes()[1] != 0x34 {
		t.Fatalf("SetShort did not overwrite correctly: %x", b2.Bytes())
	}
}

func TestPadAdvancesToBoundary(t *testing.T) {
	b := New()
	b.PushBytes([]byte{1, 2, 3})
	b.Pad(4)
	if b.Len() != 4 {
		t.Fatalf("expected padded length 4, got %d", b.Len())
	}
	b.Pad(4)
	if b.Len() != 4 {
		t.Fatalf("padding an already-aligned buffer should be a no-op, got %d", b.Len())
	}
}

func TestWriteAndReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	b := New()
	b.PushBytes([]byte{9, 8, 7, 6})
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	read, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, b.Bytes(), read.Bytes())

	_, err = os.Stat(path)
	assert.NoError(t, err, "expected output file to exist")
}
