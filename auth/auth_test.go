package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordDeterministic(t *testing.T) {
	assert.Equal(t, HashPassword("secret"), HashPassword("secret"))
}

func TestHashPasswordShape(t *testing.T) {
	digest := HashPassword("secret")
	require.Len(t, digest, 64)
	_, err := hex.DecodeString(digest)
	assert.NoError(t, err)
}

func TestHashPasswordDistinct(t *testing.T) {
	assert.NotEqual(t, HashPassword("secret"), HashPassword("Secret"))
	assert.NotEqual(t, HashPassword(""), HashPassword(" "))
}
