package credGen

import (
	"errors"
	"testing"

	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRandomString(t *testing.T) {
	value := RandomString(CSecretLength)
	assert.Len(t, value, CSecretLength)

	// alphanumeric only
	for _, c := range value {
		assert.Contains(t, credentialAlphabet, string(c))
	}

	other := RandomString(CSecretLength)
	assert.NotEqual(t, value, other, "Two draws should never collide")
}

func TestNewHasher(t *testing.T) {
	sha256Hash := NewHasher("sha256")
	assert.Equal(t, sha256Hash("abc"), sha256Hash("abc"))
	assert.NotEqual(t, sha256Hash("abc"), sha256Hash("abd"))
	assert.Len(t, sha256Hash("abc"), 64)

	sha512Hash := NewHasher("sha512")
	assert.Len(t, sha512Hash("abc"), 128)

	// blank selects the default
	defaultHash := NewHasher("")
	assert.Equal(t, sha256Hash("abc"), defaultHash("abc"))

	// unknown algorithms fall back rather than fail open
	fallback := NewHasher("md5")
	assert.Equal(t, sha256Hash("abc"), fallback("abc"))
}

func TestIssueUniqueFirstAttempt(t *testing.T) {
	hash := NewHasher("sha256")
	var persisted string
	value, err := IssueUnique(
		func() string { return RandomString(CCodeLength) },
		hash,
		func(hashed string) error {
			persisted = hashed
			return nil
		})
	assert.NoError(t, err)
	assert.Len(t, value, CCodeLength)

	// the store only ever sees the digest
	assert.Equal(t, hash(value), persisted)
	assert.NotEqual(t, value, persisted)
}

func TestIssueUniqueRetriesOnCollision(t *testing.T) {
	collisions := 3
	calls := 0
	value, err := IssueUnique(
		func() string { return RandomString(CCodeLength) },
		NewHasher("sha256"),
		func(hashed string) error {
			calls++
			if calls <= collisions {
				return model.ErrDuplication("code")
			}
			return nil
		})
	assert.NoError(t, err)
	assert.NotEmpty(t, value)
	assert.Equal(t, collisions+1, calls)
}

func TestIssueUniqueExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := IssueUnique(
		func() string { return RandomString(CCodeLength) },
		NewHasher("sha256"),
		func(hashed string) error {
			calls++
			return model.ErrDuplication("code")
		})
	assert.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindDuplication))
	assert.Equal(t, CMaxGenerateAttempts, calls, "Attempt budget must be exact")
}

func TestIssueUniqueAbortsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("connection reset")
	_, err := IssueUnique(
		func() string { return RandomString(CCodeLength) },
		NewHasher("sha256"),
		func(hashed string) error {
			calls++
			return boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "Non-duplication errors must not be retried")
}

func TestIssueUniquePair(t *testing.T) {
	hash := NewHasher("sha256")
	calls := 0
	var storedA, storedB string
	plainA, plainB, err := IssueUniquePair(
		func() string { return RandomString(CTokenLength) },
		func() string { return RandomString(CRefreshTokenLength) },
		hash,
		func(hashedA string, hashedB string) error {
			calls++
			if calls == 1 {
				// collision on the first pair regenerates both values
				return model.ErrDuplication("token")
			}
			storedA = hashedA
			storedB = hashedB
			return nil
		})
	assert.NoError(t, err)
	assert.Len(t, plainA, CTokenLength)
	assert.Len(t, plainB, CRefreshTokenLength)
	assert.Equal(t, hash(plainA), storedA)
	assert.Equal(t, hash(plainB), storedB)
	assert.Equal(t, 2, calls)
}

func TestCodeChallengeS256RoundTrip(t *testing.T) {
	verifier := RandomString(CCodeLength)

	challenge, err := ComputeCodeChallenge(verifier, "S256")
	assert.NoError(t, err)
	assert.NotEqual(t, verifier, challenge)

	assert.NoError(t, VerifyCodeChallenge(verifier, challenge, "S256"))

	// a different verifier fails
	err = VerifyCodeChallenge(RandomString(CCodeLength), challenge, "S256")
	assert.True(t, model.IsKind(err, model.KindInvalidCredential))

	// a corrupt challenge fails
	err = VerifyCodeChallenge(verifier, "!!not-base64url!!", "S256")
	assert.True(t, model.IsKind(err, model.KindInvalidCredential))
}

func TestCodeChallengePlain(t *testing.T) {
	verifier := RandomString(CCodeLength)

	challenge, err := ComputeCodeChallenge(verifier, "plain")
	assert.NoError(t, err)
	assert.Equal(t, verifier, challenge)

	assert.NoError(t, VerifyCodeChallenge(verifier, challenge, "plain"))
	err = VerifyCodeChallenge("wrong", challenge, "plain")
	assert.True(t, model.IsKind(err, model.KindInvalidCredential))
}

func TestCodeChallengeUnknownMethod(t *testing.T) {
	_, err := ComputeCodeChallenge("verifier", "S1024")
	assert.True(t, model.IsKind(err, model.KindValidation))

	err = VerifyCodeChallenge("verifier", "challenge", "S1024")
	assert.True(t, model.IsKind(err, model.KindValidation))
}
