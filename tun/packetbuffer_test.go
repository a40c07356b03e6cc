package tun

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketBufferSetLen(t *testing.T) {
	p := NewPacketBuffer(16)
	assert.Equal(t, 16, p.Cap())
	assert.Equal(t, 0, p.Len())

	p.SetLen(10)
	assert.Equal(t, 10, p.Len())
	assert.Len(t, p.Bytes(), 10)
}

func TestPacketBufferSetLenClampsOversizedCount(t *testing.T) {
	p := NewPacketBuffer(8)
	p.SetLen(100)
	assert.Equal(t, 8, p.Len(), "an oversized read count must clamp to capacity, not panic")
	assert.Len(t, p.Bytes(), 8)
}

func TestPacketBufferSetLenClampsNegative(t *testing.T) {
	p := NewPacketBuffer(8)
	p.SetLen(-1)
	assert.Equal(t, 0, p.Len())
}

func TestPacketBufferRawIsFullCapacity(t *testing.T) {
	p := NewPacketBuffer(32)
	assert.Len(t, p.Raw(), 32)
}
