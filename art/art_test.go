package art

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModifiers(t *testing.T) {
	tests := map[string]struct {
		flags uint64
		want  string
	}{
		"none":        {0, ""},
		"public":      {AccPublic, "public"},
		"final":       {AccPrivate | AccFinal, "private final"},
		"native":      {AccPublic | AccStatic | AccNative, "public static native"},
		"constructor": {AccProtected | AccConstructor, "protected constructor"},
		"unknown":     {AccFinal | 0x8000_0000, "final"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Modifiers(tc.flags))
		})
	}
}
