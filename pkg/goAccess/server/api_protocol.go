package server

/*
api_protocol.go implements the client registration and delegated authorization
endpoints: a signed-in user approves a client and receives a one-time code,
and the client exchanges the code (with its PKCE verifier) for an access and
refresh token pair. Refreshing reuses the /token endpoint with a grant_type
of refresh_token.
*/
import (
	"encoding/json"
	"net/http"

	"github.com/i2-open/i2goAccess/internal/model"

	"github.com/gorilla/mux"
)

type registerClientRequest struct {
	RedirectUrl  string `json:"redirectUrl"`
	IsFirstParty bool   `json:"isFirstParty"`
}

func (aa *AccessApplication) RegisterClient(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if !model.HasPrivilege(user.Privileges, model.PrivilegeRegisterClient) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := aa.Flow.RegisterClient(r.Context(), req.RedirectUrl, req.IsFirstParty)
	if err != nil {
		writeError(w, err)
		return
	}
	aa.Stats.ClientsRegistered.Inc()
	serverLog.Printf("Client %s registered for redirect [%s]", created.ClientId, req.RedirectUrl)

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusCreated)
	resp, _ := json.Marshal(created)
	_, _ = w.Write(resp)
}

func (aa *AccessApplication) ListClients(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if !model.HasPrivilege(user.Privileges, model.PrivilegeRegisterClient) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	clients, err := aa.Provider.ListClients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(clients)
	_, _ = w.Write(resp)
}

type exposeClientRequest struct {
	Secret string `json:"secret"`
}

type exposeClientResponse struct {
	Secret string `json:"secret"`
}

// ExposeClient reports a leaked client secret. The caller proves possession
// of the current secret and receives the replacement.
func (aa *AccessApplication) ExposeClient(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientId := vars["id"]

	var req exposeClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	newSecret, err := aa.Flow.ExposeClient(r.Context(), clientId, req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}
	serverLog.Printf("Client %s secret rotated after exposure report", clientId)

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(exposeClientResponse{Secret: newSecret})
	_, _ = w.Write(resp)
}

type authorizeRequest struct {
	ClientId            string                `json:"client_id"`
	RedirectUrl         string                `json:"redirectUrl"`
	CodeChallenge       string                `json:"code_challenge"`
	CodeChallengeMethod string                `json:"code_challenge_method"`
	Scope               model.TokenPrivileges `json:"scope"`
}

type authorizeResponse struct {
	Code string `json:"code"`
}

// Authorize lets a signed-in user approve a client for a requested scope.
// The returned code is single-use and short-lived.
func (aa *AccessApplication) Authorize(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	code, err := aa.Flow.Authorize(r.Context(), user.Id.Hex(), req.ClientId, req.RedirectUrl,
		req.CodeChallenge, req.CodeChallengeMethod, req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	aa.Stats.CodesIssued.Inc()

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(authorizeResponse{Code: code})
	_, _ = w.Write(resp)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientId     string `json:"client_id"`
	RedirectUrl  string `json:"redirectUrl,omitempty"`
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Token handles both halves of the delegated credential lifecycle:
// grant_type authorization_code redeems a code, grant_type refresh_token
// replaces an expired access token.
func (aa *AccessApplication) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.GrantType {
	case "authorization_code":
		pair, err := aa.Flow.ExchangeCodeForTokens(r.Context(), req.ClientId, req.RedirectUrl, req.Code, req.CodeVerifier)
		if err != nil {
			writeError(w, err)
			return
		}
		aa.Stats.TokensIssued.Inc()
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		resp, _ := json.Marshal(pair)
		_, _ = w.Write(resp)

	case "refresh_token":
		token, err := aa.Flow.Refresh(r.Context(), req.ClientId, req.ClientSecret, req.RefreshToken)
		if err != nil {
			writeError(w, err)
			return
		}
		aa.Stats.TokensRefreshed.Inc()
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		resp, _ := json.Marshal(model.TokenPair{Token: token, RefreshToken: req.RefreshToken})
		_, _ = w.Write(resp)

	default:
		http.Error(w, "unsupported grant_type", http.StatusBadRequest)
	}
}

func (aa *AccessApplication) JwksJson(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	jsonKey := aa.Provider.GetPublicJWKS(aa.DefIssuer)
	if jsonKey == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(*jsonKey)
}

func (aa *AccessApplication) JwksJsonIssuer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	issuer := vars["issuer"]

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	jsonKey := aa.Provider.GetPublicJWKS(issuer)
	if jsonKey != nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(*jsonKey)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}
