package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func legacyHash(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return salt + "$" + hex.EncodeToString(sum[:])
}

func TestVerifyLegacyPassword(t *testing.T) {
	stored := legacyHash("secret", "somesalt")
	require.True(t, VerifyPassword("secret", stored))
	require.False(t, VerifyPassword("wrong", stored))
}

func TestHashAndVerifyPBKDF2(t *testing.T) {
	stored, err := HashPassword("secret")
	require.NoError(t, err)
	require.Contains(t, stored, "pbkdf2$")
	require.True(t, VerifyPassword("secret", stored))
	require.False(t, VerifyPassword("Secret", stored))
}

func TestHashIsSalted(t *testing.T) {
	a, err := HashPassword("same")
	require.NoError(t, err)
	b, err := HashPassword("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyRejectsGarbageFormats(t *testing.T) {
	require.False(t, VerifyPassword("x", ""))
	require.False(t, VerifyPassword("x", "no-dollar-signs"))
	require.False(t, VerifyPassword("x", "a$b$c"))
	require.False(t, VerifyPassword("x", "scrypt$1$salt$digest"))
	require.False(t, VerifyPassword("x", "pbkdf2$notanint$salt$digest"))
}
