// Package subjectAccess exposes every gated read, write and delete of user
// records. Each operation resolves the subject, asks the permission
// evaluator for a verdict, and only then touches the repository; the
// repository itself never makes authorization decisions.
package subjectAccess

import (
	"context"
	"time"

	"github.com/i2-open/i2goAccess/internal/credGen"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/policyEval"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// Actor is the identity attempting an operation: a user acting directly or
// a client acting under delegated grants.
type Actor struct {
	Kind model.AuthorKind
	Id   string
}

type SubjectService struct {
	Provider dbProviders.AccessProviderInterface
	Hash     func(string) string
	Now      func() time.Time
}

func NewSubjectService(provider dbProviders.AccessProviderInterface, hashAlg string) *SubjectService {
	return &SubjectService{
		Provider: provider,
		Hash:     credGen.NewHasher(hashAlg),
		Now:      time.Now,
	}
}

// CreateUserRequest carries the registration profile. The password is the
// only credential; it is bcrypt hashed before it reaches the repository.
type CreateUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
}

// CreateUser registers a new subject with the default self-grants.
func (s *SubjectService) CreateUser(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	if req.Username == "" || req.Password == "" || req.Email == "" {
		return nil, model.ErrValidation("username, password and email are required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, model.ErrStorageFailure(err)
	}

	id := primitive.NewObjectID()
	user := model.User{
		Id:           id,
		Username:     req.Username,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Password:     string(hashed),
		Privileges:   []model.Privilege{},
		AccessPolicy: model.DefaultAccessPolicy(id.Hex()),
		CreatedAt:    s.Now(),
	}
	if err := s.Provider.InsertUser(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login verifies the password and returns the user for session issuing.
func (s *SubjectService) Login(ctx context.Context, username string, password string) (*model.User, error) {
	user, err := s.Provider.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredential("password")
	}
	return user, nil
}

// Logout invalidates every session token issued before now.
func (s *SubjectService) Logout(ctx context.Context, userId string) error {
	return s.Provider.SetLoggedOutAt(ctx, userId, s.Now())
}

// ResolveClientActor resolves an opaque presented access token into a client
// actor. Expired or revoked tokens resolve to nothing.
func (s *SubjectService) ResolveClientActor(ctx context.Context, presentedToken string) (Actor, error) {
	hashed := s.Hash(presentedToken)
	user, err := s.Provider.GetUserByAccessToken(ctx, hashed)
	if err != nil {
		return Actor{}, err
	}
	for _, ac := range user.AuthorizedClients {
		if ac.Token.Value != hashed {
			continue
		}
		if ac.Token.IsRevoked {
			return Actor{}, model.ErrInvalidCredential("token")
		}
		if s.Now().After(ac.Token.ExpirationDate) {
			return Actor{}, model.ErrExpired("token")
		}
		return Actor{Kind: model.AuthorClient, Id: ac.ClientId}, nil
	}
	return Actor{}, model.ErrNotFound("token")
}

// RetrieveSubject returns the subject projected to the actor's readable
// fields. An actor with no applicable grant gets not-found, deliberately
// indistinguishable from a missing record.
func (s *SubjectService) RetrieveSubject(ctx context.Context, actor Actor, subjectId string) (model.Projection, error) {
	subject, err := s.Provider.GetUser(ctx, subjectId)
	if err != nil {
		return nil, err
	}
	if !policyEval.HasReadGrant(&subject.AccessPolicy, actor.Kind, actor.Id) {
		return nil, model.ErrNotFound("user")
	}
	fields := policyEval.ReadableFields(&subject.AccessPolicy, actor.Kind, actor.Id)
	return subject.Project(fields), nil
}

func validateFieldNames(names []string) error {
	for _, name := range names {
		if _, ok := model.LookupField(name); !ok {
			return model.ErrValidation("unknown field: " + name)
		}
	}
	return nil
}

// collectReadable pages through every subject the actor holds a read grant
// on, optionally narrowed by a filter.
func (s *SubjectService) collectReadable(ctx context.Context, actor Actor, filter model.Filter) ([]model.User, error) {
	var subjects []model.User
	page := model.Page{Limit: model.CMaxPageSize}
	for {
		batch, err := s.Provider.FindReadableUsers(ctx, filter, actor.Kind, actor.Id, page)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, batch...)
		if int64(len(batch)) < page.Limit {
			return subjects, nil
		}
		page.Skip += page.Limit
	}
}

// authorizeFilter checks the filter's fields against every subject the
// actor can read, before the filter narrows anything. Applying the filter
// first would make success-vs-empty observable for unauthorized fields,
// letting a caller probe values it cannot read.
func (s *SubjectService) authorizeFilter(ctx context.Context, actor Actor, required []string) error {
	if len(required) == 0 {
		return nil
	}
	readable, err := s.collectReadable(ctx, actor, nil)
	if err != nil {
		return err
	}
	for i := range readable {
		if !policyEval.AuthorizeQuery(&readable[i].AccessPolicy, actor.Kind, actor.Id, required, nil) {
			return model.ErrForbidden("filter references a field outside the actor's readable set")
		}
	}
	return nil
}

// RetrieveMany runs a filtered, paginated retrieval. Every field named in
// the filter must be readable by the actor on every readable subject; a
// single unauthorized field reference fails the whole call rather than
// narrowing the result.
func (s *SubjectService) RetrieveMany(ctx context.Context, actor Actor, filter model.Filter, fields []string, page model.Page) ([]model.Projection, error) {
	if err := validateFieldNames(filter.FieldNames()); err != nil {
		return nil, err
	}
	if err := validateFieldNames(fields); err != nil {
		return nil, err
	}

	required := filter.FieldNames()
	if err := s.authorizeFilter(ctx, actor, required); err != nil {
		return nil, err
	}

	subjects, err := s.Provider.FindReadableUsers(ctx, filter, actor.Kind, actor.Id, page)
	if err != nil {
		return nil, err
	}

	results := make([]model.Projection, 0, len(subjects))
	for i := range subjects {
		subject := &subjects[i]
		if !policyEval.AuthorizeQuery(&subject.AccessPolicy, actor.Kind, actor.Id, required, fields) {
			return nil, model.ErrForbidden("requested fields are outside the actor's readable set")
		}
		readable := policyEval.ReadableFields(&subject.AccessPolicy, actor.Kind, actor.Id)
		if len(fields) > 0 {
			readable = intersectFields(readable, fields)
		}
		results = append(results, subject.Project(readable))
	}
	return results, nil
}

func intersectFields(readable []model.Field, requested []string) []model.Field {
	var scoped []model.Field
	for _, f := range readable {
		if f.Name == model.FieldId {
			scoped = append(scoped, f)
			continue
		}
		for _, name := range requested {
			if f.Name == name {
				scoped = append(scoped, f)
				break
			}
		}
	}
	return scoped
}

// BulkUpdate applies a field-set update to every subject matched by the
// filter. Protected fields are rejected before any grant is consulted, and
// an unauthorized field reference on any readable subject fails the whole
// operation before the repository sees a write.
func (s *SubjectService) BulkUpdate(ctx context.Context, actor Actor, filter model.Filter, update model.UpdateSpec) (int64, error) {
	updateFields := update.FieldNames()
	if len(updateFields) == 0 {
		return 0, model.ErrValidation("empty update")
	}
	if policyEval.IntersectsProtected(updateFields) {
		return 0, model.ErrValidation("update names a protected field")
	}
	if err := validateFieldNames(filter.FieldNames()); err != nil {
		return 0, err
	}
	for _, name := range updateFields {
		spec, ok := model.LookupField(name)
		if !ok || spec.Set == nil {
			return 0, model.ErrValidation("field is not updatable: " + name)
		}
	}

	if err := s.authorizeFilter(ctx, actor, filter.FieldNames()); err != nil {
		return 0, err
	}

	subjects, err := s.collectReadable(ctx, actor, filter)
	if err != nil {
		return 0, err
	}
	for i := range subjects {
		if !policyEval.AuthorizeWrite(&subjects[i].AccessPolicy, actor.Kind, actor.Id, updateFields) {
			return 0, model.ErrForbidden("update references a field outside the actor's writable set")
		}
	}

	var updated int64
	err = s.Provider.WithTransaction(ctx, func(txCtx context.Context) error {
		for i := range subjects {
			if err := s.Provider.UpdateUserFields(txCtx, subjects[i].Id.Hex(), update); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// DeleteSubject removes the subject when the actor holds a permitted Deleter
// grant. A missing grant is reported as not-found.
func (s *SubjectService) DeleteSubject(ctx context.Context, actor Actor, subjectId string) error {
	subject, err := s.Provider.GetUser(ctx, subjectId)
	if err != nil {
		return err
	}
	if !policyEval.AuthorizeDelete(&subject.AccessPolicy, actor.Kind, actor.Id) {
		return model.ErrNotFound("user")
	}
	return s.Provider.DeleteUser(ctx, subjectId)
}

// --- grant set updates ------------------------------------------------------

func (s *SubjectService) checkPolicyOwner(ctx context.Context, authorId string, subjectId string) error {
	if authorId != subjectId {
		return model.ErrForbidden("only the subject may edit its own access policy")
	}
	_, err := s.Provider.GetUser(ctx, subjectId)
	return err
}

func validateGrantFields(fields []model.Field) error {
	for _, f := range fields {
		if model.IsHiddenField(f.Name) {
			return model.ErrValidation("field is not grantable: " + f.Name)
		}
		if _, ok := model.LookupField(f.Name); !ok && f.Name != model.FieldId {
			return model.ErrValidation("unknown field: " + f.Name)
		}
	}
	return nil
}

func validateAuthor(kind model.AuthorKind) error {
	if kind != model.AuthorUser && kind != model.AuthorClient {
		return model.ErrValidation("unknown author kind: " + string(kind))
	}
	return nil
}

// UpdateReaders replaces the subject's named reader grants.
func (s *SubjectService) UpdateReaders(ctx context.Context, authorId string, subjectId string, readers []model.Reader) error {
	if err := s.checkPolicyOwner(ctx, authorId, subjectId); err != nil {
		return err
	}
	for _, r := range readers {
		if err := validateAuthor(r.Author); err != nil {
			return err
		}
		if err := validateGrantFields(r.Fields); err != nil {
			return err
		}
	}
	return s.Provider.SetReaders(ctx, subjectId, readers)
}

// UpdateUpdaters replaces the subject's named updater grants.
func (s *SubjectService) UpdateUpdaters(ctx context.Context, authorId string, subjectId string, updaters []model.Updater) error {
	if err := s.checkPolicyOwner(ctx, authorId, subjectId); err != nil {
		return err
	}
	for _, u := range updaters {
		if err := validateAuthor(u.Author); err != nil {
			return err
		}
		if err := validateGrantFields(u.Fields); err != nil {
			return err
		}
	}
	return s.Provider.SetUpdaters(ctx, subjectId, updaters)
}

// UpdateDeleters replaces the subject's deleter grants.
func (s *SubjectService) UpdateDeleters(ctx context.Context, authorId string, subjectId string, deleters []model.Deleter) error {
	if err := s.checkPolicyOwner(ctx, authorId, subjectId); err != nil {
		return err
	}
	for _, d := range deleters {
		if err := validateAuthor(d.Author); err != nil {
			return err
		}
	}
	return s.Provider.SetDeleters(ctx, subjectId, deleters)
}

// UpdateAllReaders replaces the subject's wildcard read grant; nil removes it.
func (s *SubjectService) UpdateAllReaders(ctx context.Context, authorId string, subjectId string, allReaders *model.AllReaders) error {
	if err := s.checkPolicyOwner(ctx, authorId, subjectId); err != nil {
		return err
	}
	if allReaders != nil {
		if err := validateGrantFields(allReaders.Fields); err != nil {
			return err
		}
	}
	return s.Provider.SetAllReaders(ctx, subjectId, allReaders)
}

// UpdateAllUpdaters replaces the subject's wildcard write grant; nil removes it.
func (s *SubjectService) UpdateAllUpdaters(ctx context.Context, authorId string, subjectId string, allUpdaters *model.AllUpdaters) error {
	if err := s.checkPolicyOwner(ctx, authorId, subjectId); err != nil {
		return err
	}
	if allUpdaters != nil {
		if err := validateGrantFields(allUpdaters.Fields); err != nil {
			return err
		}
	}
	return s.Provider.SetAllUpdaters(ctx, subjectId, allUpdaters)
}
