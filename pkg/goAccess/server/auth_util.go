package server

import (
	"net/http"
	"strings"

	"github.com/i2-open/i2goAccess/internal/authUtil"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/subjectAccess"
)

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) (string, int) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return "", http.StatusUnauthorized
	}
	parts := strings.Split(authz, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		serverLog.Printf("Received invalid authorization: %s", parts[0])
		return "", http.StatusUnauthorized
	}
	return parts[1], http.StatusOK
}

// validateSession resolves a Bearer session token into the signed-in user.
// Tokens issued before the user's last logout are rejected.
func (aa *AccessApplication) validateSession(r *http.Request) (*model.User, int) {
	raw, status := bearerToken(r)
	if status != http.StatusOK {
		return nil, status
	}
	claims, err := aa.Auth.ParseAuthToken(raw)
	if err != nil {
		serverLog.Printf("Authorization invalid: [%s]", err.Error())
		return nil, http.StatusUnauthorized
	}
	user, err := aa.Provider.GetUser(r.Context(), claims.UserId)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	if err := authUtil.CheckNotLoggedOut(claims, user); err != nil {
		return nil, http.StatusUnauthorized
	}
	return user, http.StatusOK
}

// resolveActor authenticates the Bearer credential as either a user session
// token or a delegated client access token.
func (aa *AccessApplication) resolveActor(r *http.Request) (subjectAccess.Actor, int) {
	raw, status := bearerToken(r)
	if status != http.StatusOK {
		return subjectAccess.Actor{}, status
	}

	// Session tokens are JWTs; delegated access tokens are opaque.
	if claims, err := aa.Auth.ParseAuthToken(raw); err == nil {
		user, err := aa.Provider.GetUser(r.Context(), claims.UserId)
		if err != nil {
			return subjectAccess.Actor{}, http.StatusUnauthorized
		}
		if err := authUtil.CheckNotLoggedOut(claims, user); err != nil {
			return subjectAccess.Actor{}, http.StatusUnauthorized
		}
		return subjectAccess.Actor{Kind: model.AuthorUser, Id: user.Id.Hex()}, http.StatusOK
	}

	actor, err := aa.Access.ResolveClientActor(r.Context(), raw)
	if err != nil {
		serverLog.Printf("Authorization invalid: [%s]", err.Error())
		return subjectAccess.Actor{}, http.StatusUnauthorized
	}
	return actor, http.StatusOK
}

// errorStatus maps the service error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case model.IsKind(err, model.KindValidation):
		return http.StatusBadRequest
	case model.IsKind(err, model.KindInvalidCredential), model.IsKind(err, model.KindExpired):
		return http.StatusUnauthorized
	case model.IsKind(err, model.KindForbidden), model.IsKind(err, model.KindBanned):
		return http.StatusForbidden
	case model.IsKind(err, model.KindNotFound):
		return http.StatusNotFound
	case model.IsKind(err, model.KindDuplication):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errorStatus(err))
}
