//go:build linux || android || freebsd || darwin || netbsd || openbsd

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := NewHost()

	a, err := h.MapExecutable(64)
	require.NoError(err)
	b, err := h.MapExecutable(32)
	require.NoError(err)
	assert.NotEqual(a, b)

	require.NoError(h.Write(a, []byte{1, 2, 3, 4}))
	require.NoError(h.Copy(a, b+8, 4))

	buf, err := h.Read(b, 12)
	require.NoError(err)
	assert.Equal([]byte{1, 2, 3, 4}, buf[8:])

	assert.True(h.owns(a+60, 4))
	assert.False(h.owns(a+60, 8))

	assert.Error(h.Unmap(a, 32), "size must match")
	require.NoError(h.Unmap(a, 64))
	require.NoError(h.Unmap(b, 32))
	assert.ErrorIs(h.Unmap(a, 64), ErrUnmapped)
}

func TestHost_MapData(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := NewHost()

	code, err := h.MapExecutable(64)
	require.NoError(err)
	data, err := h.MapData(64)
	require.NoError(err)

	// Data regions are plain read-write memory and can be stored to
	// without going through Write.
	copy(hostSlice(data, 4), []byte{5, 6, 7, 8})
	buf, err := h.Read(data, 4)
	require.NoError(err)
	assert.Equal([]byte{5, 6, 7, 8}, buf)

	require.NoError(h.Copy(data, code, 4))
	buf, err = h.Read(code, 4)
	require.NoError(err)
	assert.Equal([]byte{5, 6, 7, 8}, buf)

	assert.False(h.owns(data, 4))
	assert.True(h.owns(code, 4))

	require.NoError(h.Unmap(data, 64))
	require.NoError(h.Unmap(code, 64))
	assert.ErrorIs(h.Unmap(data, 64), ErrUnmapped)
}

func TestHost_NilAddress(t *testing.T) {
	h := NewHost()

	_, err := h.Read(0, 4)
	assert.ErrorIs(t, err, ErrUnmapped)
	assert.ErrorIs(t, h.Write(0, []byte{1}), ErrUnmapped)
}
