package authUtil

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var auth = initMockIssuer()
var altAuth = initMockIssuer()

func initMockIssuer() *AuthIssuer {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Println("Unexpected crypto error generating keys: " + err.Error())
		os.Exit(-1)
	}

	publicKey := privateKey.PublicKey
	givenKey := keyfunc.NewGivenRSACustomWithOptions(&publicKey, keyfunc.GivenKeyOptions{
		Algorithm: "RS256",
	})
	givenKeys := make(map[string]keyfunc.GivenKey)
	givenKeys["tester"] = givenKey

	return &AuthIssuer{
		TokenIssuer: "tester",
		PublicKey:   keyfunc.NewGiven(givenKeys),
		PrivateKey:  privateKey,
	}
}

func testUser() *model.User {
	return &model.User{
		Id:       primitive.NewObjectID(),
		Username: "alice",
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	user := testUser()
	token, err := auth.IssueSessionToken(user)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := auth.ParseAuthToken(token)
	assert.NoError(t, err)
	assert.Equal(t, user.Id.Hex(), claims.UserId)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, auth.TokenIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID, "Tokens must carry a unique jti")
}

func TestParseAuthTokenWrongIssuerKey(t *testing.T) {
	user := testUser()
	token, err := altAuth.IssueSessionToken(user)
	assert.NoError(t, err)

	// a token signed by another issuer's key must not validate
	claims, err := auth.ParseAuthToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestParseAuthTokenExpired(t *testing.T) {
	expired := generateTestToken(auth, time.Now().Add(-time.Hour))
	claims, err := auth.ParseAuthToken(expired)
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestParseAuthTokenNoPublicKey(t *testing.T) {
	keyless := &AuthIssuer{TokenIssuer: "tester", PrivateKey: auth.PrivateKey}
	token, err := auth.IssueSessionToken(testUser())
	assert.NoError(t, err)

	_, err = keyless.ParseAuthToken(token)
	assert.Error(t, err)
}

func TestCheckNotLoggedOut(t *testing.T) {
	user := testUser()
	token, err := auth.IssueSessionToken(user)
	assert.NoError(t, err)
	claims, err := auth.ParseAuthToken(token)
	assert.NoError(t, err)

	// never logged out
	assert.NoError(t, CheckNotLoggedOut(claims, user))

	// logged out before this token was issued
	earlier := claims.IssuedAt.Time.Add(-time.Minute)
	user.LoggedOutAt = &earlier
	assert.NoError(t, CheckNotLoggedOut(claims, user))

	// logged out after issuance invalidates the token
	later := claims.IssuedAt.Time.Add(time.Minute)
	user.LoggedOutAt = &later
	err = CheckNotLoggedOut(claims, user)
	assert.True(t, model.IsKind(err, model.KindInvalidCredential))
}

func generateTestToken(a *AuthIssuer, exp time.Time) string {
	claims := SessionAuthToken{
		UserId: primitive.NewObjectID().Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(exp),
			Audience:  []string{a.TokenIssuer},
			Issuer:    a.TokenIssuer,
			ID:        ksuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "jwt"
	token.Header["kid"] = a.TokenIssuer
	signed, _ := token.SignedString(a.PrivateKey)
	return signed
}
