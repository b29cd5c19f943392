package authUtil

import (
	"crypto/rsa"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/segmentio/ksuid"
)

// AuthIssuer signs and validates the session tokens carried by resource
// owners. Delegated client access uses opaque hashed tokens instead; those
// are resolved against the store, not parsed here.
type AuthIssuer struct {
	TokenIssuer string
	PrivateKey  *rsa.PrivateKey
	PublicKey   *keyfunc.JWKS
}

const CSessionTokenHours = 24

// SessionAuthToken is the claim set of a resource-owner session token.
type SessionAuthToken struct {
	UserId   string `json:"uid"`
	Username string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// IssueSessionToken issues a login session token for the user.
func (a *AuthIssuer) IssueSessionToken(user *model.User) (string, error) {
	now := time.Now()
	claims := SessionAuthToken{
		UserId:   user.Id.Hex(),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(CSessionTokenHours * time.Hour)),
			Audience:  []string{a.TokenIssuer},
			Issuer:    a.TokenIssuer,
			ID:        ksuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "jwt"
	token.Header["kid"] = a.TokenIssuer
	return token.SignedString(a.PrivateKey)
}

// ParseAuthToken parses and validates a session token. A *SessionAuthToken
// is only returned if the token validated.
func (a *AuthIssuer) ParseAuthToken(tokenString string) (*SessionAuthToken, error) {
	if a.PublicKey == nil {
		return nil, errors.New("no public key provided to validate authorization token")
	}

	tokenString = strings.TrimSpace(tokenString)

	token, err := jwt.ParseWithClaims(tokenString, &SessionAuthToken{}, a.PublicKey.Keyfunc)
	if err != nil {
		log.Printf("Error validating token: %s", err.Error())
		return nil, err
	}
	if token.Header["typ"] != "jwt" {
		return nil, errors.New("token type is not an authorization token (`jwt`)")
	}

	if claims, ok := token.Claims.(*SessionAuthToken); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid session token")
}

// CheckNotLoggedOut rejects a session token issued before the user's last
// logout.
func CheckNotLoggedOut(claims *SessionAuthToken, user *model.User) error {
	if user.LoggedOutAt == nil || claims.IssuedAt == nil {
		return nil
	}
	if claims.IssuedAt.Time.Before(*user.LoggedOutAt) {
		return model.ErrInvalidCredential("sessionToken")
	}
	return nil
}
