package token

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrConfiguration marks deployment faults such as a missing signing secret.
var ErrConfiguration = errors.New("configuration error")

// SignatureLength is the length of a hex encoded HMAC-SHA256.
const SignatureLength = 64

// Signer computes and checks HMAC-SHA256 signatures over canonical bytes.
// It is immutable and safe for concurrent use.
type Signer struct {
	key []byte
}

// NewSigner copies secret; an empty secret is a configuration error.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: token signing secret is empty", ErrConfiguration)
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{key: key}, nil
}

// Sign returns the lower-case hex signature of canonical.
func (s *Signer) Sign(canonical []byte) string {
	sig, err := jwt.SigningMethodHS256.Sign(string(canonical), s.key)
	if err != nil {
		// only reachable with a non-[]byte key or an unlinked hash
		panic("token: hmac sign: " + err.Error())
	}
	return hex.EncodeToString(sig)
}

// Verify recomputes the signature and compares it in constant time.
func (s *Signer) Verify(canonical []byte, signature string) bool {
	if len(signature) != SignatureLength {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return jwt.SigningMethodHS256.Verify(string(canonical), sig, s.key) == nil
}

// String never reveals the key.
func (s *Signer) String() string { return "token.Signer{key:<redacted>}" }
