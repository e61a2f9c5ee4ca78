package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDomainSeparated(t *testing.T) {
	data := []byte(`{"a":1}`)
	h1 := HashBytes(DomainHistory, data)
	h2 := HashBytes(DomainRecord, data)

	assert.Equal(t, h1, HashBytes(DomainHistory, data))
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 43, "32 bytes, unpadded base64url")
}

func TestHashUsesCanonicalBytes(t *testing.T) {
	a, err := Hash(DomainRecord, IRObject{"x": IRInt(1), "y": IRString("é")})
	require.NoError(t, err)
	b, err := Hash(DomainRecord, IRObject{"y": IRString("é"), "x": IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = Hash(DomainRecord, IRNull{})
	assert.Error(t, err)
}

func TestVersionHashCommitsToAntecedent(t *testing.T) {
	env := IRObject{"payload": IRString("hi")}
	first, err := VersionHash("stream", "", env)
	require.NoError(t, err)
	second, err := VersionHash("stream", first, env)
	require.NoError(t, err)
	other, err := VersionHash("other", "", env)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first, other)
}
