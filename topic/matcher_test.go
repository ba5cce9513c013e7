package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesWildcardSoundness(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"#", "a", true},
		{"#", "a.b.c", true},
		{"*.*", "a.b", true},
		{"*.*", "a", false},
		{"*.*", "a.b.c", false},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
		{"order.*", "order.placed", true},
		{"order.*", "order.placed.extra", false},
		{"order.#", "order.placed.extra", true},
		{"order.#", "order", false},
	}
	for _, c := range cases {
		got, err := Matches(c.pattern, c.key)
		require.NoError(t, err, "Matches(%q, %q)", c.pattern, c.key)
		assert.Equal(t, c.want, got, "Matches(%q, %q)", c.pattern, c.key)
	}
}

func TestLiteralExactness(t *testing.T) {
	literals := []string{"price.quote", "order.placed", "a.b.c.d"}
	keys := []string{"price.quote", "order.placed", "a.b.c.d", "a.b.c"}
	for _, p := range literals {
		for _, k := range keys {
			got, err := Matches(p, k)
			require.NoError(t, err, "Matches(%q, %q)", p, k)
			assert.Equal(t, p == k, got, "Matches(%q, %q)", p, k)
		}
	}
}

func TestCompileRejectsMalformedPattern(t *testing.T) {
	for _, p := range []string{"", "a..b", "a.$.c", "a. .c"} {
		_, err := Compile(p)
		assert.Error(t, err, "Compile(%q)", p)
	}
}

func TestValidKeyRejectsEmpty(t *testing.T) {
	assert.False(t, ValidKey(""))
	assert.True(t, ValidKey("a.b-c_1"))
}
