package art

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := map[string]struct {
		in   string
		want Target
	}{
		"class and method": {"com.example.Foo->bar", Target{"com.example.Foo", "bar"}},
		"class only":       {"com.example.Foo", Target{"com.example.Foo", ""}},
		"constructor":      {"com.example.Foo-><init>", Target{"com.example.Foo", ConstructorName}},
		"constructor alt":  {"com.example.Foo->()", Target{"com.example.Foo", ConstructorName}},
		"whitespace":       {"  a.B->c ", Target{"a.B", "c"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseTarget(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTarget_Malformed(t *testing.T) {
	for _, in := range []string{"", "->bar", "a.B->", "a.B->c->d", "a B->c"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTarget(in)
			assert.ErrorIs(t, err, ErrMalformedTarget)
		})
	}
}

func TestTarget(t *testing.T) {
	assert := assert.New(t)

	tgt, err := ParseTarget("a.B->()")
	require.NoError(t, err)
	assert.True(tgt.Constructor())
	assert.Equal("a.B-><init>", tgt.String())

	tgt, err = ParseTarget("a.B")
	require.NoError(t, err)
	assert.False(tgt.Constructor())
	assert.Equal("a.B", tgt.String())
}
