package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// The digest is computed by the client before a credential ever touches the
// wire and compared byte for byte by the server, so the derivation has to be
// deterministic. The salt is a protocol constant, not a secret.
var salt = []byte("chatwire/v1")

const iterations = 4096

// HashPassword derives the hex digest that stands in for a plaintext
// password everywhere in the protocol.
func HashPassword(plain string) string {
	digest := pbkdf2.Key([]byte(plain), salt, iterations, 32, sha256.New)
	return hex.EncodeToString(digest)
}
