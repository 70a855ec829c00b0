package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitMapSetGetClear(t *testing.T) {
	b := New(65536)

	// Fresh bitmap is all zero
	assert.False(t, b.Get(0))
	assert.False(t, b.Get(443))
	assert.False(t, b.Get(65535))

	b.Set(443)
	b.Set(0)
	b.Set(65535)

	assert.True(t, b.Get(443))
	assert.True(t, b.Get(0))
	assert.True(t, b.Get(65535))
	assert.False(t, b.Get(442))
	assert.False(t, b.Get(444))

	b.Clear(443)
	assert.False(t, b.Get(443))
	assert.True(t, b.Get(0))
}

func TestBitMapWidth(t *testing.T) {
	b := New(100)
	assert.Equal(t, 100, b.Width())

	// Bits across word boundaries are independent
	b.Set(63)
	b.Set(64)
	assert.True(t, b.Get(63))
	assert.True(t, b.Get(64))
	b.Clear(64)
	assert.True(t, b.Get(63))
	assert.False(t, b.Get(64))
}

func TestBitMapOutOfRange(t *testing.T) {
	b := New(16)

	assert.Panics(t, func() { b.Get(16) })
	assert.Panics(t, func() { b.Set(-1) })
	assert.Panics(t, func() { b.Clear(100) })
	assert.Panics(t, func() { New(0) })
}
