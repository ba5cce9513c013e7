package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body, err := Encode(sample{ID: 7, Name: "x"})
	require.NoError(t, err)

	var got sample
	require.NoError(t, Decode(body, &got))
	assert.Equal(t, sample{ID: 7, Name: "x"}, got)
}

func TestEncodeNil(t *testing.T) {
	body, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(body))
}

func TestDecodeMissingFieldsZeroValue(t *testing.T) {
	var got sample
	require.NoError(t, Decode([]byte(`{"id":3}`), &got))
	assert.Equal(t, sample{ID: 3, Name: ""}, got)
}
