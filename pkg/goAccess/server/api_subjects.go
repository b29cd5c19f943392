package server

/*
api_subjects.go implements user registration and sign-in plus the gated
subject endpoints. Every subject read, search, update and delete goes through
the access service, which consults the subject's access policy before the
repository is touched.
*/
import (
	"encoding/json"
	"net/http"

	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/subjectAccess"

	"github.com/gorilla/mux"
)

func (aa *AccessApplication) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req subjectAccess.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := aa.Access.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	serverLog.Printf("User %s registered", user.Id.Hex())

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusCreated)
	resp, _ := json.Marshal(user)
	_, _ = w.Write(resp)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (aa *AccessApplication) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := aa.Access.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		// a bad password and an unknown username report the same way
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token, err := aa.Auth.IssueSessionToken(user)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(loginResponse{Token: token})
	_, _ = w.Write(resp)
}

func (aa *AccessApplication) Logout(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if err := aa.Access.Logout(r.Context(), user.Id.Hex()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (aa *AccessApplication) GetSubject(w http.ResponseWriter, r *http.Request) {
	actor, status := aa.resolveActor(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	vars := mux.Vars(r)

	projection, err := aa.Access.RetrieveSubject(r.Context(), actor, vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(projection)
	_, _ = w.Write(resp)
}

type searchRequest struct {
	Filter model.Filter `json:"filter"`
	Fields []string     `json:"fields,omitempty"`
	Page   model.Page   `json:"page"`
}

func (aa *AccessApplication) SearchSubjects(w http.ResponseWriter, r *http.Request) {
	actor, status := aa.resolveActor(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := aa.Access.RetrieveMany(r.Context(), actor, req.Filter, req.Fields, req.Page)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(results)
	_, _ = w.Write(resp)
}

type bulkUpdateRequest struct {
	Filter model.Filter     `json:"filter"`
	Update model.UpdateSpec `json:"update"`
}

type bulkUpdateResponse struct {
	Updated int64 `json:"updated"`
}

func (aa *AccessApplication) BulkUpdateSubjects(w http.ResponseWriter, r *http.Request) {
	actor, status := aa.resolveActor(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	var req bulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := aa.Access.BulkUpdate(r.Context(), actor, req.Filter, req.Update)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	resp, _ := json.Marshal(bulkUpdateResponse{Updated: updated})
	_, _ = w.Write(resp)
}

func (aa *AccessApplication) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	actor, status := aa.resolveActor(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	vars := mux.Vars(r)

	if err := aa.Access.DeleteSubject(r.Context(), actor, vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	serverLog.Printf("Subject %s deleted", vars["id"])
	w.WriteHeader(http.StatusOK)
}

// grant set endpoints: only the subject may edit its own policy, so these
// always authenticate a user session rather than a delegated token.

func (aa *AccessApplication) SetReaders(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	var readers []model.Reader
	if err := json.NewDecoder(r.Body).Decode(&readers); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := aa.Access.UpdateReaders(r.Context(), user.Id.Hex(), mux.Vars(r)["id"], readers); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (aa *AccessApplication) SetUpdaters(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	var updaters []model.Updater
	if err := json.NewDecoder(r.Body).Decode(&updaters); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := aa.Access.UpdateUpdaters(r.Context(), user.Id.Hex(), mux.Vars(r)["id"], updaters); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (aa *AccessApplication) SetDeleters(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	var deleters []model.Deleter
	if err := json.NewDecoder(r.Body).Decode(&deleters); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := aa.Access.UpdateDeleters(r.Context(), user.Id.Hex(), mux.Vars(r)["id"], deleters); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (aa *AccessApplication) SetAllReaders(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	var allReaders *model.AllReaders
	if err := json.NewDecoder(r.Body).Decode(&allReaders); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := aa.Access.UpdateAllReaders(r.Context(), user.Id.Hex(), mux.Vars(r)["id"], allReaders); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (aa *AccessApplication) SetAllUpdaters(w http.ResponseWriter, r *http.Request) {
	user, status := aa.validateSession(r)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	var allUpdaters *model.AllUpdaters
	if err := json.NewDecoder(r.Body).Decode(&allUpdaters); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := aa.Access.UpdateAllUpdaters(r.Context(), user.Id.Hex(), mux.Vars(r)["id"], allUpdaters); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (aa *AccessApplication) Health(w http.ResponseWriter, _ *http.Request) {
	if !aa.HealthCheck() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
