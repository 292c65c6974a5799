package memutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testHeader struct {
	A uint32
	B uint32
}

func TestCastAliasesTheUnderlyingBytes(t *testing.T) {
	buf := make([]byte, 128)
	h := Cast[testHeader](buf)
	h.A = 0xdeadbeef
	h.B = 7

	got := Cast[testHeader](buf)
	assert.Equal(t, uint32(0xdeadbeef), got.A)
	assert.Equal(t, uint32(7), got.B)
}

func TestCastPanicsOnUndersizedBuffer(t *testing.T) {
	buf := make([]byte, 1)
	assert.Panics(t, func() { Cast[testHeader](buf) })
}

func TestBytesAliasesTheStruct(t *testing.T) {
	h := &testHeader{A: 1, B: 2}
	b := Bytes(h)
	assert.Equal(t, int(SizeOf(h)), len(b))

	h.A = 0xff
	assert.Equal(t, byte(0xff), b[0])
}

func TestByteSliceToStringAndBackRoundTrip(t *testing.T) {
	orig := []byte("kvmfr")
	s := ByteSliceToString(orig)
	assert.Equal(t, "kvmfr", s)

	back := StringToByteSlice(s)
	assert.Equal(t, orig, back)
}

func TestByteSliceToStringEmpty(t *testing.T) {
	assert.Equal(t, "", ByteSliceToString(nil))
	assert.Nil(t, StringToByteSlice(""))
}
