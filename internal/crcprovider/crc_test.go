package crcprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/txpc-project/txpc"
)

func TestForBitsReturnsCorrectWidths(t *testing.T) {
	for _, bits := range []int{0, 8, 16, 32} {
		p := ForBits(bits)
		assert.Equal(t, bits, p.Bits())
		assert.Len(t, p.Compute([]byte("abc"), txpc.ByteOrder(false)), bits/8)
	}
}

func TestForBitsPanicsOnUnsupportedWidth(t *testing.T) {
	assert.Panics(t, func() { ForBits(12) })
}

func TestComputeIsDeterministic(t *testing.T) {
	data := []byte("the quick brown fox")
	for _, bits := range []int{8, 16, 32} {
		p := ForBits(bits)
		a := p.Compute(data, txpc.ByteOrder(false))
		b := p.Compute(data, txpc.ByteOrder(false))
		assert.Equal(t, a, b)
	}
}

func TestComputeDiffersByByteOrderAboveOneByte(t *testing.T) {
	data := []byte("the quick brown fox")
	p := ForBits(16)
	le := p.Compute(data, txpc.ByteOrder(false))
	be := p.Compute(data, txpc.ByteOrder(true))
	assert.NotEqual(t, le, be, "a multi-byte digest's on-wire encoding should depend on byte order")
}

func TestComputeDetectsSingleBitFlip(t *testing.T) {
	data := []byte("the quick brown fox")
	corrupted := append([]byte{}, data...)
	corrupted[3] ^= 0x01

	for _, bits := range []int{8, 16, 32} {
		p := ForBits(bits)
		assert.NotEqual(t, p.Compute(data, txpc.ByteOrder(false)), p.Compute(corrupted, txpc.ByteOrder(false)))
	}
}
