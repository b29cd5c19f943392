// Package credGen mints the high-entropy credentials used across the
// authorization flows: client secrets, authorization codes, access and
// refresh tokens. Every credential is persisted under a storage-layer
// uniqueness constraint, retrying generation on collision.
package credGen

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"log"
	"math/big"
	"os"

	"github.com/i2-open/i2goAccess/internal/model"
)

var gLog = log.New(os.Stdout, "CREDGEN: ", log.Ldate|log.Ltime)

// CMaxGenerateAttempts bounds the collision retry loop so no request can spin
// indefinitely under adversarial collision conditions.
const CMaxGenerateAttempts = 200

// Credential lengths by purpose.
const (
	CCodeLength         = 60
	CSecretLength       = 64
	CTokenLength        = 96
	CRefreshTokenLength = 128
)

const credentialAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns n characters drawn from crypto/rand.
func RandomString(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(credentialAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform entropy source is gone
			panic(err)
		}
		buf[i] = credentialAlphabet[idx.Int64()]
	}
	return string(buf)
}

// NewHasher returns the digest function selected by the configuration
// string. The algorithm is configuration, never negotiated at runtime.
func NewHasher(alg string) func(string) string {
	switch alg {
	case "", "sha256":
		return func(plaintext string) string {
			sum := sha256.Sum256([]byte(plaintext))
			return hex.EncodeToString(sum[:])
		}
	case "sha512":
		return func(plaintext string) string {
			sum := sha512.Sum512([]byte(plaintext))
			return hex.EncodeToString(sum[:])
		}
	}
	gLog.Printf("Unknown hash algorithm [%s], using sha256", alg)
	return NewHasher("sha256")
}

// IssueUnique generates a credential, hashes it and attempts the persistence
// call, retrying with a fresh value when the store reports a uniqueness
// violation. Any other persistence failure aborts immediately. Exhausting
// the attempt budget raises Duplication.
func IssueUnique(generate func() string, hash func(string) string, persist func(hashed string) error) (string, error) {
	for attempt := 0; attempt < CMaxGenerateAttempts; attempt++ {
		plaintext := generate()
		err := persist(hash(plaintext))
		if err == nil {
			return plaintext, nil
		}
		if model.IsKind(err, model.KindDuplication) {
			continue
		}
		return "", err
	}
	return "", model.ErrDuplication("credential")
}

// IssueUniquePair mints two credentials persisted together in one store
// operation, as the code exchange does for the access and refresh token of a
// new AuthorizedClient entry. A collision on either value regenerates both.
func IssueUniquePair(generateA func() string, generateB func() string, hash func(string) string, persist func(hashedA string, hashedB string) error) (string, string, error) {
	for attempt := 0; attempt < CMaxGenerateAttempts; attempt++ {
		plainA := generateA()
		plainB := generateB()
		err := persist(hash(plainA), hash(plainB))
		if err == nil {
			return plainA, plainB, nil
		}
		if model.IsKind(err, model.KindDuplication) {
			continue
		}
		return "", "", err
	}
	return "", "", model.ErrDuplication("credential")
}

// ComputeCodeChallenge derives the PKCE challenge for a verifier. S256 is
// base64url without padding over the sha256 digest; plain echoes the
// verifier.
func ComputeCodeChallenge(verifier string, method string) (string, error) {
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case "plain":
		return verifier, nil
	}
	return "", model.ErrValidation("unsupported code challenge method: " + method)
}

// VerifyCodeChallenge recomputes the challenge from the presented verifier
// and compares it against the stored, decoded challenge.
func VerifyCodeChallenge(verifier string, challenge string, method string) error {
	switch method {
	case "S256":
		decoded, err := base64.RawURLEncoding.DecodeString(challenge)
		if err != nil {
			// tolerate padded challenges from older clients
			decoded, err = base64.URLEncoding.DecodeString(challenge)
			if err != nil {
				return model.ErrInvalidCredential("codeChallenge")
			}
		}
		sum := sha256.Sum256([]byte(verifier))
		if subtle.ConstantTimeCompare(decoded, sum[:]) != 1 {
			return model.ErrInvalidCredential("codeVerifier")
		}
		return nil
	case "plain":
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return model.ErrInvalidCredential("codeVerifier")
		}
		return nil
	}
	return model.ErrValidation("unsupported code challenge method: " + method)
}
