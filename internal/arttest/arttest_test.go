package arttest

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/layout"
)

func TestInvoke(t *testing.T) {
	assert := assert.New(t)

	rt, err := New("26")
	require.NoError(t, err)

	m := rt.MustAddMethod(MethodSpec{
		Class:  "a.B",
		Name:   "greet",
		Return: "java.lang.String",
		Params: []string{"java.lang.String"},
		Body: func(c *Call) (any, error) {
			return "hello " + c.Args[0].(string) + " from " + c.Method.Name(), nil
		},
	})

	got, err := rt.Invoke(m, nil, "world")
	assert.NoError(err)
	assert.Equal("hello world from greet", got)

	size, err := rt.Accessor().CodeSize(m.Entry())
	assert.NoError(err)
	assert.Equal(DefaultCodeSize, size)
}

func TestSharedEntry(t *testing.T) {
	assert := assert.New(t)

	rt, err := New("26")
	require.NoError(t, err)

	body := func(c *Call) (any, error) { return c.Method.Name(), nil }
	f := rt.MustAddMethod(MethodSpec{Class: "a.B", Name: "f", Body: body})
	g := rt.MustAddMethod(MethodSpec{Class: "a.B", Name: "g", ShareWith: f})

	assert.Equal(f.Entry(), g.Entry())

	got, err := rt.Invoke(g, nil)
	assert.NoError(err)
	assert.Equal("g", got)
}

func TestResolve(t *testing.T) {
	assert := assert.New(t)

	rt, err := New("23")
	require.NoError(t, err)

	m := rt.MustAddMethod(MethodSpec{Class: "a.B", Name: "f", Params: []string{"int"}})
	ctor := rt.MustAddMethod(MethodSpec{Class: "a.B", Constructor: true})

	got, err := rt.Resolve("a.B", "f", []string{"int"})
	assert.NoError(err)
	assert.Equal(m, got)

	got, err = rt.Resolve("a.B", art.ConstructorName, nil)
	assert.NoError(err)
	assert.Equal(ctor, got)

	_, err = rt.Resolve("a.B", "f", nil)
	assert.ErrorIs(err, art.ErrNotFound)

	clone, err := rt.Rebind(m, 0x1234)
	require.NoError(t, err)
	assert.Equal(uint64(0x1234), clone.Record())
	got, err = rt.Resolve("a.B", "f", []string{"int"})
	assert.NoError(err)
	assert.Equal(m, got)
}

func TestAssignable(t *testing.T) {
	rt, err := New("26")
	require.NoError(t, err)

	tests := map[string]struct {
		to, from string
		want     bool
	}{
		"same":             {"int", "int", true},
		"object":           {"java.lang.Object", "java.lang.String", true},
		"primitive":        {"java.lang.Object", "int", false},
		"narrowing":        {"java.lang.String", "java.lang.Object", false},
		"void to void":     {art.Void, art.Void, true},
		"void to non-void": {"int", art.Void, false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, rt.Assignable(tc.to, tc.from))
		})
	}
}

func TestRunaway(t *testing.T) {
	rt, err := New("26")
	require.NoError(t, err)

	m := rt.MustAddMethod(MethodSpec{Class: "a.B", Name: "loop"})

	// Point the entry at a "b ." in the record heap.
	loop, err := rt.AllocRecord(4)
	require.NoError(t, err)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 0x14000000)
	require.NoError(t, rt.Mem.Write(loop, buf))
	require.NoError(t, rt.Accessor().Write(m.Record(), layout.EntryCompiled, loop))

	_, err = rt.Invoke(m, nil)
	assert.ErrorIs(t, err, ErrRunaway)
}

func TestUnsupportedVersion(t *testing.T) {
	_, err := New("19")
	assert.ErrorIs(t, err, layout.ErrUnsupportedRuntime)
}

func TestPrologue(t *testing.T) {
	rt, err := New("26")
	require.NoError(t, err)

	prologue := make([]byte, PrologueSize)
	for i := range prologue {
		prologue[i] = 0x90
	}
	m, err := rt.AddMethod(MethodSpec{Class: "a.B", Name: "f", Prologue: prologue})
	require.NoError(t, err)

	got, err := rt.Mem.Read(m.Entry(), PrologueSize)
	require.NoError(t, err)
	assert.Equal(t, prologue, got)

	_, err = rt.AddMethod(MethodSpec{Class: "a.B", Name: "g", Prologue: prologue[:3]})
	assert.Error(t, err)
}
