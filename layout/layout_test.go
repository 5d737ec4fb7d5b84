package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForVersion(t *testing.T) {
	tests := map[string]string{
		"21":   "LMR0",
		"22":   "LMR1",
		"23":   "M",
		"24":   "N",
		"25":   "N",
		"26":   "O",
		"27":   "O",
		"34":   "O",
		"25.1": "N",
	}

	for v, want := range tests {
		t.Run(v, func(t *testing.T) {
			l, err := ForVersion(v)
			require.NoError(t, err)
			assert.Equal(t, want, l.Name)
		})
	}
}

func TestForVersion_Unsupported(t *testing.T) {
	for _, v := range []string{"19", "20", "", "lollipop"} {
		t.Run(v, func(t *testing.T) {
			_, err := ForVersion(v)
			assert.ErrorIs(t, err, ErrUnsupportedRuntime)
		})
	}
}

func TestLocate(t *testing.T) {
	type loc struct{ off, width int }

	tests := map[string]struct {
		version string
		ptr     int
		want    map[Field]loc
		size    int
	}{
		"LMR0/32": {"21", 4, map[Field]loc{
			AccessFlags: {64, 4}, EntryInterpreted: {24, 8}, EntryNative: {32, 8}, EntryCompiled: {48, 8},
		}, 80},
		"LMR1/32": {"22", 4, map[Field]loc{
			AccessFlags: {20, 4}, EntryInterpreted: {36, 4}, EntryNative: {40, 4}, EntryCompiled: {44, 4},
		}, 48},
		"LMR1/64": {"22", 8, map[Field]loc{
			AccessFlags: {20, 4}, EntryInterpreted: {40, 8}, EntryNative: {48, 8}, EntryCompiled: {56, 8},
		}, 64},
		"M/32": {"23", 4, map[Field]loc{
			AccessFlags: {12, 4}, EntryInterpreted: {28, 4}, EntryNative: {32, 4}, EntryCompiled: {36, 4},
		}, 40},
		"M/64": {"23", 8, map[Field]loc{
			AccessFlags: {12, 4}, EntryInterpreted: {32, 8}, EntryNative: {40, 8}, EntryCompiled: {48, 8},
		}, 56},
		"N/32": {"24", 4, map[Field]loc{
			AccessFlags: {4, 4}, EntryNative: {28, 4}, EntryCompiled: {32, 4},
		}, 36},
		"N/64": {"25", 8, map[Field]loc{
			AccessFlags: {4, 4}, EntryNative: {40, 8}, EntryCompiled: {48, 8},
		}, 56},
		"O/32": {"26", 4, map[Field]loc{
			AccessFlags: {4, 4}, EntryNative: {24, 4}, EntryCompiled: {28, 4},
		}, 36},
		"O/64": {"28", 8, map[Field]loc{
			AccessFlags: {4, 4}, EntryNative: {32, 8}, EntryCompiled: {40, 8},
		}, 56},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			l, err := ForVersion(tc.version)
			require.NoError(t, err)
			assert.Equal(tc.size, l.Size(tc.ptr))

			for _, f := range []Field{AccessFlags, EntryInterpreted, EntryNative, EntryCompiled} {
				off, width, err := l.Locate(f, tc.ptr)
				want, ok := tc.want[f]
				if !ok {
					assert.ErrorIs(err, ErrFieldUnsupported, f.String())
					assert.False(l.Has(f))
					continue
				}
				if assert.NoError(err, f.String()) {
					assert.Equal(want, loc{off, width}, f.String())
				}
			}
		})
	}
}
