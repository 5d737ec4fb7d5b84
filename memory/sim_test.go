package memory

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimMapReadWrite(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sim := NewSim()
	addr, err := sim.MapExecutable(10)
	require.NoError(err)
	assert.Zero(addr % PageSize)

	require.NoError(sim.Write(addr+4, []byte{1, 2, 3}))
	buf, err := sim.Read(addr, 8)
	require.NoError(err)
	assert.Equal([]byte{0, 0, 0, 0, 1, 2, 3, 0}, buf)

	// The whole page is mapped, nothing past it is.
	_, err = sim.Read(addr+PageSize-1, 1)
	assert.NoError(err)
	_, err = sim.Read(addr+PageSize-1, 2)
	assert.ErrorIs(err, ErrUnmapped)

	require.NoError(sim.Unmap(addr, 10))
	_, err = sim.Read(addr, 1)
	assert.ErrorIs(err, ErrUnmapped)
	assert.Empty(sim.Mapped())
}

func TestSimMappingsAreNotReused(t *testing.T) {
	sim := NewSim()
	a, err := sim.MapExecutable(PageSize)
	require.NoError(t, err)
	require.NoError(t, sim.Unmap(a, PageSize))

	b, err := sim.MapExecutable(PageSize)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSimProtection(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sim := NewSim()
	const text = 0x10000ffc
	require.NoError(sim.Load(text, make([]byte, 16)))

	err := sim.Write(text, []byte{0xff})
	assert.ErrorIs(err, ErrProtected)
	assert.False(sim.Writable(text, 1))

	// The image straddles a page boundary; unprotecting the first byte
	// only covers the first page.
	require.NoError(sim.Unprotect(text, 1))
	assert.True(sim.Writable(text, 4))
	assert.False(sim.Writable(text, 8))

	require.NoError(sim.Unprotect(text, 16))
	assert.NoError(sim.Write(text, make([]byte, 16)))
}

func TestSimLoadOverlap(t *testing.T) {
	sim := NewSim()
	require.NoError(t, sim.Load(0x1000, make([]byte, 32)))
	assert.Error(t, sim.Load(0x1010, make([]byte, 32)))
	assert.NoError(t, sim.Load(0x1020, make([]byte, 32)))
}

func TestSimDenied(t *testing.T) {
	sim := NewSim()
	sim.DenyMap = true
	_, err := sim.MapExecutable(1)
	assert.True(t, errors.Is(err, ErrDenied))

	require.NoError(t, sim.Load(0x2000, make([]byte, 8)))
	sim.DenyUnprotect = true
	assert.ErrorIs(t, sim.Unprotect(0x2000, 8), ErrDenied)
}

func TestSimMapData(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sim := NewSim()
	code, err := sim.MapExecutable(16)
	require.NoError(err)
	data, err := sim.MapData(16)
	require.NoError(err)

	assert.True(sim.Executable(code, 16))
	assert.False(sim.Executable(data, 16))
	assert.True(sim.Writable(data, 16))
	assert.NoError(sim.Write(data, []byte("record")))
	assert.Len(sim.Mapped(), 2)

	sim.DenyMap = true
	_, err = sim.MapData(16)
	assert.NoError(err, "only executable mappings are denied")

	sim.DenyData = true
	_, err = sim.MapData(16)
	assert.ErrorIs(err, ErrDenied)

	require.NoError(sim.Unmap(data, 16))
	assert.False(sim.Executable(data, 16))
}

func TestSimCopy(t *testing.T) {
	sim := NewSim()
	require.NoError(t, sim.Load(0x3000, []byte("original")))
	dst, err := sim.MapExecutable(8)
	require.NoError(t, err)

	require.NoError(t, sim.Copy(0x3000, dst, 8))
	buf, err := sim.Read(dst, 8)
	require.NoError(t, err)
	assert.Equal(t, "original", string(buf))
}

func TestWords(t *testing.T) {
	cases := map[string]struct {
		width int
		value uint64
		err   bool
	}{
		"32-bit":           {width: 4, value: 0xdeadbeef},
		"64-bit":           {width: 8, value: 0x7fff_dead_beef_0000},
		"32-bit too large": {width: 4, value: 1 << 32, err: true},
		"bad width":        {width: 2, value: 1, err: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sim := NewSim()
			addr, err := sim.MapExecutable(8)
			require.NoError(t, err)

			err = WriteWord(sim, addr, tc.width, tc.value)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := ReadWord(sim, addr, tc.width)
			require.NoError(t, err)
			assert.Equal(t, tc.value, got)
		})
	}
}

func TestPageRange(t *testing.T) {
	assert.Equal(t, Region{Addr: 0x1000, Size: 0x1000}, PageRange(0x1004, 8))
	assert.Equal(t, Region{Addr: 0x1000, Size: 0x2000}, PageRange(0x1ffc, 8))
	assert.Equal(t, Region{Addr: 0x2000, Size: 0}, PageRange(0x2000, 0))
}
