package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/internal/arttest"
	"github.com/pboyd/arthook/layout"
	"github.com/pboyd/arthook/memory"
)

func TestAccessor(t *testing.T) {
	for _, version := range []string{"21", "22", "23", "24", "26"} {
		t.Run(version, func(t *testing.T) {
			assert := assert.New(t)

			rt, err := arttest.New(version)
			require.NoError(t, err)
			acc := rt.Accessor()

			m := rt.MustAddMethod(arttest.MethodSpec{Class: "a.B", Name: "f", CodeSize: 100})

			entry, err := acc.Read(m.Record(), layout.EntryCompiled)
			assert.NoError(err)
			assert.Equal(m.Entry(), entry)

			flags, err := acc.Read(m.Record(), layout.AccessFlags)
			assert.NoError(err)
			assert.Equal(uint64(art.AccPublic), flags)

			size, err := acc.CodeSize(entry)
			assert.NoError(err)
			assert.Equal(100, size)

			_, err = acc.Read(m.Record(), layout.EntryInterpreted)
			if acc.Layout().Has(layout.EntryInterpreted) {
				assert.NoError(err)
			} else {
				assert.ErrorIs(err, layout.ErrFieldUnsupported)
			}
		})
	}
}

func TestAccessor_CloneAndDemote(t *testing.T) {
	for _, version := range []string{"22", "26"} {
		t.Run(version, func(t *testing.T) {
			assert := assert.New(t)

			rt, err := arttest.New(version)
			require.NoError(t, err)
			acc := rt.Accessor()

			m := rt.MustAddMethod(arttest.MethodSpec{
				Class: "a.B",
				Name:  "f",
				Flags: art.AccProtected | art.AccFinal,
				Body:  func(c *arttest.Call) (any, error) { return c.Method.Record(), nil },
			})

			clone, err := acc.Clone(m)
			require.NoError(t, err)
			assert.NotEqual(m.Record(), clone.Record())
			assert.Equal(m.Name(), clone.Name())
			assert.True(rt.Mem.Writable(clone.Record(), acc.Size()))
			assert.False(rt.Mem.Executable(clone.Record(), acc.Size()), "records are never mapped executable")

			entry, err := acc.Read(clone.Record(), layout.EntryCompiled)
			assert.NoError(err)
			assert.Equal(m.Entry(), entry)

			require.NoError(t, acc.Demote(clone.Record()))
			flags, err := acc.Read(clone.Record(), layout.AccessFlags)
			assert.NoError(err)
			assert.Equal(uint64(art.AccPrivate|art.AccFinal), flags)

			flags, err = acc.Read(m.Record(), layout.AccessFlags)
			assert.NoError(err)
			assert.Equal(uint64(art.AccProtected|art.AccFinal), flags, "original untouched")

			// The clone runs the same code, under its own identity.
			got, err := rt.Invoke(clone, nil)
			assert.NoError(err)
			assert.Equal(clone.Record(), got)

			mapped := len(rt.Mem.Mapped())
			assert.NoError(acc.Release(clone))
			if acc.Layout().Managed {
				assert.Len(rt.Mem.Mapped(), mapped)
			} else {
				assert.Len(rt.Mem.Mapped(), mapped-1)
			}
		})
	}
}

func TestAccessor_CloneFailure(t *testing.T) {
	rt, err := arttest.New("26")
	require.NoError(t, err)

	m := rt.MustAddMethod(arttest.MethodSpec{Class: "a.B", Name: "f"})
	rt.Mem.DenyData = true

	_, err = rt.Accessor().Clone(m)
	assert.ErrorIs(t, err, memory.ErrDenied)
}

func TestNewAccessor(t *testing.T) {
	assert := assert.New(t)

	rt, err := arttest.New("26")
	require.NoError(t, err)

	acc, err := layout.NewAccessor(rt, rt.Mem, 4, "23")
	assert.NoError(err)
	assert.Equal("M", acc.Layout().Name)
	assert.Equal(40, acc.Size())
	assert.Equal(layout.QuickHeaderSize, acc.QuickHeaderSize())

	acc, err = layout.NewAccessor(rt, rt.Mem, 8, "")
	assert.NoError(err)
	assert.Equal("O", acc.Layout().Name)

	_, err = layout.NewAccessor(rt, rt.Mem, 2, "")
	assert.Error(err)

	_, err = layout.NewAccessor(rt, rt.Mem, 8, "20")
	assert.ErrorIs(err, layout.ErrUnsupportedRuntime)
}
