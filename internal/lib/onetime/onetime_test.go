package onetime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecret(t *testing.T) {
	first, err := NewSecret()
	require.NoError(t, err)
	second, err := NewSecret()
	require.NoError(t, err)

	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
}

func TestHash(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	assert.Equal(t, Hash(secret), Hash(secret))
	assert.NotEqual(t, secret, Hash(secret))
	assert.Len(t, Hash(secret), 64)
}
