package arthook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/arthook/internal/arttest"
	"github.com/pboyd/arthook/memory"
)

func TestProbe(t *testing.T) {
	tests := map[string]struct {
		setup func(*memory.Sim)
		entry bool
		want  Capabilities
		err   error
	}{
		"everything": {
			entry: true,
			want:  Capabilities{MapExecutable: true, Unprotect: true},
		},
		"no entry": {
			want: Capabilities{MapExecutable: true},
		},
		"map denied": {
			setup: func(s *memory.Sim) { s.DenyMap = true },
			entry: true,
			want:  Capabilities{Unprotect: true},
			err:   memory.ErrDenied,
		},
		"unprotect denied": {
			setup: func(s *memory.Sim) { s.DenyUnprotect = true },
			entry: true,
			want:  Capabilities{MapExecutable: true},
			err:   memory.ErrDenied,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rt, err := arttest.New("26")
			require.NoError(t, err)
			f := rt.MustAddMethod(arttest.MethodSpec{Class: "a.B", Name: "f"})
			mapped := len(rt.Mem.Mapped())

			if tc.setup != nil {
				tc.setup(rt.Mem)
			}
			var entry uint64
			if tc.entry {
				entry = f.Entry()
			}

			got, err := Probe(rt.Mem, entry, 16)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.MapExecutable && tc.want.Unprotect, got.Patchable())
			assert.Len(t, rt.Mem.Mapped(), mapped)
		})
	}
}
