package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("unit-test-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("token-b")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "token-b")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "token-b", plain)
}

func TestCipherRejectsForeignKey(t *testing.T) {
	a, err := NewCipher("secret-a")
	require.NoError(t, err)
	b, err := NewCipher("secret-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt("token")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestCipherEmptyValues(t *testing.T) {
	c, err := NewCipher("s")
	require.NoError(t, err)

	sealed, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestNewCipherRequiresSecret(t *testing.T) {
	_, err := NewCipher("  ")
	assert.ErrorIs(t, err, ErrKeyMissing)
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "****", Mask("short"))
	assert.Equal(t, "****cdef", Mask("0123456789abcdef"))
}

func TestHashTokenStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
