// Package authFlow implements the authorization protocol state machine:
// Authorize issues a short-lived code bound to a PKCE challenge, Exchange
// turns the code into a hashed access and refresh token while compiling the
// negotiated scope into access grants, Refresh rotates the access token, and
// ExposeClient burns the exposure fuse.
package authFlow

import (
	"context"
	"crypto/subtle"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/i2-open/i2goAccess/internal/credGen"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var fLog = log.New(os.Stdout, "AUTHFLOW: ", log.Ldate|log.Ltime)

const CCodeExpiryMinutes = 3
const CTokenExpiryMonths = 1
const CRefreshExpiryMonths = 2

type AuthService struct {
	Provider dbProviders.AccessProviderInterface
	Hash     func(string) string

	// Now is the clock used for expiry decisions, replaceable in tests.
	Now func() time.Time
}

func NewAuthService(provider dbProviders.AccessProviderInterface, hashAlg string) *AuthService {
	return &AuthService{
		Provider: provider,
		Hash:     credGen.NewHasher(hashAlg),
		Now:      time.Now,
	}
}

// RegisterClient registers a new client application and returns the one-time
// plaintext secret.
func (a *AuthService) RegisterClient(ctx context.Context, redirectUrl string, isFirstParty bool) (*model.ClientCreated, error) {
	parsed, err := url.Parse(redirectUrl)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, model.ErrValidation("invalid redirect url")
	}

	client := model.Client{
		Id:           primitive.NewObjectID(),
		RedirectUrl:  redirectUrl,
		IsFirstParty: isFirstParty,
		CreatedAt:    a.Now(),
	}
	secret, err := credGen.IssueUnique(
		func() string { return credGen.RandomString(credGen.CSecretLength) },
		a.Hash,
		func(hashed string) error {
			client.Secret = hashed
			return a.Provider.InsertClient(ctx, &client)
		})
	if err != nil {
		return nil, err
	}

	fLog.Printf("Registered client %s for %s", client.Id.Hex(), redirectUrl)
	return &model.ClientCreated{ClientId: client.Id.Hex(), Secret: secret}, nil
}

// Authorize starts a new authorization for the (subject, client) pair and
// returns the plaintext one-time code. Any prior authorized entry for the
// client is revoked and any prior pending authorization is superseded.
func (a *AuthService) Authorize(ctx context.Context, actorId string, clientId string, redirectUrl string, codeChallenge string, codeChallengeMethod string, scope model.TokenPrivileges) (string, error) {
	client, err := a.Provider.GetClientByRedirect(ctx, clientId, redirectUrl)
	if err != nil {
		return "", err
	}
	if client.IsBanned() {
		return "", model.ErrBanned(clientId)
	}

	if codeChallenge == "" {
		return "", model.ErrValidation("missing code challenge")
	}
	if codeChallengeMethod != "S256" && codeChallengeMethod != "plain" {
		return "", model.ErrValidation("unsupported code challenge method: " + codeChallengeMethod)
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}

	subject, err := a.Provider.GetUser(ctx, actorId)
	if err != nil {
		return "", err
	}

	// every requested privilege must be granted on the subject itself
	for _, p := range scope.Privileges {
		if !model.HasPrivilege(subject.Privileges, p.Name) {
			return "", model.ErrForbidden("privilege not held: " + p.Name)
		}
	}

	// the revoke of the previous grant and the new pending slot land
	// together or not at all
	var code string
	err = a.Provider.WithTransaction(ctx, func(txCtx context.Context) error {
		if subject.GetAuthorizedClient(clientId) != nil {
			if err := a.Provider.RemoveAuthorizedClient(txCtx, actorId, clientId); err != nil {
				return err
			}
		}
		issued, err := credGen.IssueUnique(
			func() string { return credGen.RandomString(credGen.CCodeLength) },
			a.Hash,
			func(hashed string) error {
				pending := model.AuthorizingClient{
					ClientId:            clientId,
					TokenPrivileges:     scope,
					Code:                hashed,
					CodeExpiresAt:       a.Now().Add(CCodeExpiryMinutes * time.Minute),
					CodeChallenge:       codeChallenge,
					CodeChallengeMethod: codeChallengeMethod,
				}
				return a.Provider.SetAuthorizingClient(txCtx, actorId, &pending)
			})
		if err != nil {
			return err
		}
		code = issued
		return nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeCodeForTokens consumes a pending authorization: it verifies the
// PKCE verifier and, in one transaction, merges the compiled grants into the
// subject's access policy, mints the token pair and clears the pending slot.
func (a *AuthService) ExchangeCodeForTokens(ctx context.Context, clientId string, redirectUrl string, code string, codeVerifier string) (*model.TokenPair, error) {
	client, err := a.Provider.GetClientByRedirect(ctx, clientId, redirectUrl)
	if err != nil {
		return nil, err
	}
	if client.IsBanned() {
		return nil, model.ErrBanned(clientId)
	}

	subject, err := a.Provider.GetUserByAuthorizationCode(ctx, a.Hash(code))
	if err != nil {
		return nil, err
	}
	pending := subject.AuthorizingClient
	if pending == nil || pending.ClientId != clientId {
		return nil, model.ErrNotFound("code")
	}
	if a.Now().After(pending.CodeExpiresAt) {
		return nil, model.ErrExpired("code")
	}
	if err := credGen.VerifyCodeChallenge(codeVerifier, pending.CodeChallenge, pending.CodeChallengeMethod); err != nil {
		return nil, err
	}

	userId := subject.Id.Hex()
	now := a.Now()
	var pair model.TokenPair

	err = a.Provider.WithTransaction(ctx, func(txCtx context.Context) error {
		reader, updater, deleter := CompileGrants(pending.TokenPrivileges, clientId)
		if err := a.Provider.MergeClientGrants(txCtx, userId, clientId, reader, updater, deleter); err != nil {
			return err
		}

		token, refresh, err := credGen.IssueUniquePair(
			func() string { return credGen.RandomString(credGen.CTokenLength) },
			func() string { return credGen.RandomString(credGen.CRefreshTokenLength) },
			a.Hash,
			func(hashedToken string, hashedRefresh string) error {
				entry := model.AuthorizedClient{
					ClientId: clientId,
					RefreshToken: model.RefreshToken{
						Value:           hashedRefresh,
						TokenPrivileges: pending.TokenPrivileges,
						ExpirationDate:  now.AddDate(0, CRefreshExpiryMonths, 0),
					},
					Token: model.AccessToken{
						Value:          hashedToken,
						ExpirationDate: now.AddDate(0, CTokenExpiryMonths, 0),
					},
				}
				return a.Provider.AppendAuthorizedClient(txCtx, userId, &entry)
			})
		if err != nil {
			return err
		}
		pair = model.TokenPair{Token: token, RefreshToken: refresh}

		// the pending authorization is consumed exactly once
		return a.Provider.ClearAuthorizingClient(txCtx, userId)
	})
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Refresh mints a new access token for an authorized client. The refresh
// token itself is never rotated; it stays valid until its own expiration.
func (a *AuthService) Refresh(ctx context.Context, clientId string, clientSecret string, refreshToken string) (string, error) {
	client, err := a.Provider.GetClient(ctx, clientId)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(a.Hash(clientSecret))) != 1 {
		return "", model.ErrNotFound("client")
	}
	if client.IsBanned() {
		return "", model.ErrBanned(clientId)
	}

	hashedRefresh := a.Hash(refreshToken)
	subject, err := a.Provider.GetUserByRefreshToken(ctx, hashedRefresh)
	if err != nil {
		return "", err
	}
	entry := subject.GetAuthorizedClient(clientId)
	if entry == nil {
		return "", model.ErrNotFound("refreshToken")
	}
	if subtle.ConstantTimeCompare([]byte(entry.RefreshToken.Value), []byte(hashedRefresh)) != 1 {
		return "", model.ErrInvalidCredential("refreshToken")
	}
	if a.Now().After(entry.RefreshToken.ExpirationDate) {
		return "", model.ErrExpired("refreshToken")
	}

	userId := subject.Id.Hex()
	expiry := a.Now().AddDate(0, CTokenExpiryMonths, 0)
	return credGen.IssueUnique(
		func() string { return credGen.RandomString(credGen.CTokenLength) },
		a.Hash,
		func(hashed string) error {
			return a.Provider.ReplaceAccessToken(ctx, userId, clientId, model.AccessToken{
				Value:          hashed,
				ExpirationDate: expiry,
			})
		})
}

// ExposeClient rotates a client secret after a verified exposure report and
// advances the ban fuse. The new plaintext secret is returned.
func (a *AuthService) ExposeClient(ctx context.Context, clientId string, secret string) (string, error) {
	client, err := a.Provider.GetClient(ctx, clientId)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(a.Hash(secret))) != 1 {
		return "", model.ErrNotFound("client")
	}

	exposedAt := a.Now()
	newSecret, err := credGen.IssueUnique(
		func() string { return credGen.RandomString(credGen.CSecretLength) },
		a.Hash,
		func(hashed string) error {
			return a.Provider.RotateClientSecret(ctx, clientId, hashed, exposedAt)
		})
	if err != nil {
		return "", err
	}
	fLog.Printf("Client %s secret rotated after exposure report (count now %d)", clientId, client.ExposedCount+1)
	return newSecret, nil
}
