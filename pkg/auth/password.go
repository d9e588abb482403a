package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 210000
	pbkdf2KeyLen     = 32
	saltLen          = 16
)

// HashPassword produces the storage form for a new password. New records use
// the PBKDF2 scheme; legacy "salt$digest" records keep verifying unchanged.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	digest := pbkdf2.Key([]byte(password), []byte(saltHex), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf("pbkdf2$%d$%s$%s", pbkdf2Iterations, saltHex, hex.EncodeToString(digest)), nil
}

// VerifyPassword checks a password against a stored hash in constant time.
// Two on-disk shapes are accepted:
//
//	salt$digest                 legacy, digest = sha256(password ++ salt)
//	pbkdf2$iter$salt$digest     current
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, "$")
	switch len(parts) {
	case 2:
		salt, digestHex := parts[0], parts[1]
		sum := sha256.Sum256([]byte(password + salt))
		return constantTimeHexEqual(hex.EncodeToString(sum[:]), digestHex)
	case 4:
		if parts[0] != "pbkdf2" {
			return false
		}
		iter, err := strconv.Atoi(parts[1])
		if err != nil || iter <= 0 {
			return false
		}
		salt, digestHex := parts[2], parts[3]
		derived := pbkdf2.Key([]byte(password), []byte(salt), iter, pbkdf2KeyLen, sha256.New)
		return constantTimeHexEqual(hex.EncodeToString(derived), digestHex)
	default:
		return false
	}
}

func constantTimeHexEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
