package subjectAccess

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders/mock_provider"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestService(t *testing.T, url string) (*SubjectService, *mock_provider.MockAccessProvider) {
	provider, err := mock_provider.Open(url, "test_db")
	assert.NoError(t, err)
	assert.NoError(t, provider.ResetDb(true))
	return NewSubjectService(provider, "sha256"), provider
}

func registerUser(t *testing.T, svc *SubjectService, username string) *model.User {
	user, err := svc.CreateUser(context.TODO(), CreateUserRequest{
		Username:  username,
		Password:  "secret-" + username,
		Email:     username + "@example.com",
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
	})
	assert.NoError(t, err)
	return user
}

func userActor(u *model.User) Actor {
	return Actor{Kind: model.AuthorUser, Id: u.Id.Hex()}
}

func TestCreateUserAndLogin(t *testing.T) {
	svc, _ := newTestService(t, "mockdb://subject-create/")
	ctx := context.TODO()

	user := registerUser(t, svc, "alice")
	assert.NotEmpty(t, user.Id)

	// the stored password is a bcrypt hash
	assert.NotEqual(t, "secret-alice", user.Password)

	// default policy grants the user itself read, update and delete
	self := userActor(user)
	projection, err := svc.RetrieveSubject(ctx, self, user.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, "alice", projection[model.FieldUsername])
	assert.NotContains(t, projection, "password")

	got, err := svc.Login(ctx, "alice", "secret-alice")
	assert.NoError(t, err)
	assert.Equal(t, user.Id, got.Id)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.True(t, model.IsKind(err, model.KindInvalidCredential))

	_, err = svc.Login(ctx, "nobody", "secret")
	assert.True(t, model.IsKind(err, model.KindNotFound))

	// required registration fields
	_, err = svc.CreateUser(ctx, CreateUserRequest{Username: "incomplete"})
	assert.True(t, model.IsKind(err, model.KindValidation))

	// username uniqueness
	_, err = svc.CreateUser(ctx, CreateUserRequest{
		Username: "alice", Password: "x", Email: "other@example.com"})
	assert.True(t, model.IsKind(err, model.KindDuplication))
}

func TestRetrieveSubjectAccessDenied(t *testing.T) {
	svc, _ := newTestService(t, "mockdb://subject-denied/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")

	// no grant reads as not-found, same as a missing record
	_, err := svc.RetrieveSubject(ctx, userActor(alice), bob.Id.Hex())
	assert.True(t, model.IsKind(err, model.KindNotFound))

	_, err = svc.RetrieveSubject(ctx, userActor(alice), "aaaaaaaaaaaaaaaaaaaaaaaa")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestRetrieveSubjectScopedProjection(t *testing.T) {
	svc, provider := newTestService(t, "mockdb://subject-scoped/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")

	readers := append(bob.AccessPolicy.Readers, model.Reader{
		Author: model.AuthorUser, AuthorId: alice.Id.Hex(), IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldEmail, IsPermitted: true}},
	})
	assert.NoError(t, provider.SetReaders(ctx, bob.Id.Hex(), readers))

	projection, err := svc.RetrieveSubject(ctx, userActor(alice), bob.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, bob.Id.Hex(), projection[model.FieldId])
	assert.Equal(t, "bob@example.com", projection[model.FieldEmail])

	// ungranted fields are absent, not blank
	assert.NotContains(t, projection, model.FieldUsername)
	assert.NotContains(t, projection, model.FieldFirstName)
}

func TestRetrieveManyFailsClosed(t *testing.T) {
	svc, provider := newTestService(t, "mockdb://subject-many/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")
	registerUser(t, svc, "carol")

	readers := append(bob.AccessPolicy.Readers, model.Reader{
		Author: model.AuthorUser, AuthorId: alice.Id.Hex(), IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldEmail, IsPermitted: true}},
	})
	assert.NoError(t, provider.SetReaders(ctx, bob.Id.Hex(), readers))

	// an unfiltered search returns only readable subjects
	results, err := svc.RetrieveMany(ctx, userActor(alice), nil, nil, model.Page{Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, results, 2) // self and bob

	// filtering on a field outside the grant fails the whole call
	filter := model.Filter{{Field: model.FieldUsername, Value: "bob"}}
	_, err = svc.RetrieveMany(ctx, userActor(alice), filter, nil, model.Page{Limit: 100})
	assert.True(t, model.IsKind(err, model.KindForbidden))

	// and fails identically when the value matches nothing: an empty success
	// would tell the caller the guessed value is wrong
	filter = model.Filter{{Field: model.FieldUsername, Value: "not-bob"}}
	_, err = svc.RetrieveMany(ctx, userActor(alice), filter, nil, model.Page{Limit: 100})
	assert.True(t, model.IsKind(err, model.KindForbidden))

	// filtering on a granted field narrows cleanly
	filter = model.Filter{{Field: model.FieldEmail, Value: "bob@example.com"}}
	results, err = svc.RetrieveMany(ctx, userActor(alice), filter, nil, model.Page{Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "bob@example.com", results[0][model.FieldEmail])

	// unknown filter fields are a validation error
	filter = model.Filter{{Field: "nonsense", Value: "x"}}
	_, err = svc.RetrieveMany(ctx, userActor(alice), filter, nil, model.Page{Limit: 100})
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestRetrieveManyRequestedFields(t *testing.T) {
	svc, _ := newTestService(t, "mockdb://subject-fields/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")

	results, err := svc.RetrieveMany(ctx, userActor(alice), nil,
		[]string{model.FieldUsername}, model.Page{Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Contains(t, results[0], model.FieldUsername)
	assert.Contains(t, results[0], model.FieldId)
	assert.NotContains(t, results[0], model.FieldEmail)
}

func TestBulkUpdate(t *testing.T) {
	svc, provider := newTestService(t, "mockdb://subject-bulk/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")

	// protected fields are rejected before any grant is consulted
	update := model.UpdateSpec{{Field: model.FieldEmail, Value: "new@example.com"}}
	_, err := svc.BulkUpdate(ctx, userActor(alice), nil, update)
	assert.True(t, model.IsKind(err, model.KindValidation))

	// self update on a grantable field
	update = model.UpdateSpec{{Field: model.FieldFirstName, Value: "Alicia"}}
	updated, err := svc.BulkUpdate(ctx, userActor(alice), nil, update)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	got, _ := provider.GetUser(ctx, alice.Id.Hex())
	assert.Equal(t, "Alicia", got.FirstName)

	// a readable but not writable subject fails the whole operation
	readers := append(bob.AccessPolicy.Readers, model.Reader{
		Author: model.AuthorUser, AuthorId: alice.Id.Hex(), IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldFirstName, IsPermitted: true}},
	})
	assert.NoError(t, provider.SetReaders(ctx, bob.Id.Hex(), readers))

	_, err = svc.BulkUpdate(ctx, userActor(alice), nil, update)
	assert.True(t, model.IsKind(err, model.KindForbidden))

	// and nothing was partially applied
	got, _ = provider.GetUser(ctx, bob.Id.Hex())
	assert.NotEqual(t, "Alicia", got.FirstName)

	// a filter field outside the grant fails regardless of whether its value
	// matches anything
	filter := model.Filter{{Field: model.FieldUsername, Value: "no-such-user"}}
	_, err = svc.BulkUpdate(ctx, userActor(alice), filter, update)
	assert.True(t, model.IsKind(err, model.KindForbidden))

	// empty updates are invalid
	_, err = svc.BulkUpdate(ctx, userActor(alice), nil, model.UpdateSpec{})
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestBulkUpdateSpansPages(t *testing.T) {
	svc, provider := newTestService(t, "mockdb://subject-pages/")
	ctx := context.TODO()

	admin := registerUser(t, svc, "admin")
	actor := userActor(admin)

	// more matching subjects than one repository page holds
	count := int(model.CMaxPageSize) + 5
	for i := 0; i < count; i++ {
		id := primitive.NewObjectID()
		user := model.User{
			Id:       id,
			Username: fmt.Sprintf("worker%04d", i),
			Email:    fmt.Sprintf("worker%04d@example.com", i),
			Password: "x",
			AccessPolicy: model.AccessPolicy{
				Readers: []model.Reader{{
					Author: model.AuthorUser, AuthorId: admin.Id.Hex(), IsPermitted: true,
					Fields: []model.Field{{Name: model.FieldFirstName, IsPermitted: true}},
				}},
				Updaters: []model.Updater{{
					Author: model.AuthorUser, AuthorId: admin.Id.Hex(), IsPermitted: true,
					Fields: []model.Field{{Name: model.FieldFirstName, IsPermitted: true}},
				}},
			},
			CreatedAt: time.Now(),
		}
		assert.NoError(t, provider.InsertUser(ctx, &user))
	}

	update := model.UpdateSpec{{Field: model.FieldFirstName, Value: "Renamed"}}
	updated, err := svc.BulkUpdate(ctx, actor, nil, update)
	assert.NoError(t, err)
	// every matched subject, not just the first page, plus admin itself
	assert.Equal(t, int64(count+1), updated)
}

func TestDeleteSubject(t *testing.T) {
	svc, provider := newTestService(t, "mockdb://subject-delete/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")

	// no deleter grant reads as not-found
	err := svc.DeleteSubject(ctx, userActor(alice), bob.Id.Hex())
	assert.True(t, model.IsKind(err, model.KindNotFound))
	_, err = provider.GetUser(ctx, bob.Id.Hex())
	assert.NoError(t, err)

	// a granted deleter may delete
	deleters := append(bob.AccessPolicy.Deleters, model.Deleter{
		Author: model.AuthorUser, AuthorId: alice.Id.Hex(), IsPermitted: true,
	})
	assert.NoError(t, provider.SetDeleters(ctx, bob.Id.Hex(), deleters))
	assert.NoError(t, svc.DeleteSubject(ctx, userActor(alice), bob.Id.Hex()))
	_, err = provider.GetUser(ctx, bob.Id.Hex())
	assert.True(t, model.IsKind(err, model.KindNotFound))

	// self deletion via the default policy
	assert.NoError(t, svc.DeleteSubject(ctx, userActor(alice), alice.Id.Hex()))
}

func TestGrantSetOwnership(t *testing.T) {
	svc, _ := newTestService(t, "mockdb://subject-grants/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")

	readers := []model.Reader{{
		Author: model.AuthorUser, AuthorId: bob.Id.Hex(), IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldEmail, IsPermitted: true}},
	}}

	// only the subject may edit its own policy
	err := svc.UpdateReaders(ctx, alice.Id.Hex(), bob.Id.Hex(), readers)
	assert.True(t, model.IsKind(err, model.KindForbidden))

	assert.NoError(t, svc.UpdateReaders(ctx, alice.Id.Hex(), alice.Id.Hex(), readers))

	// bob can now read alice's email
	projection, err := svc.RetrieveSubject(ctx, userActor(bob), alice.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, "alice@example.com", projection[model.FieldEmail])

	// hidden fields cannot be granted
	badReaders := []model.Reader{{
		Author: model.AuthorUser, AuthorId: bob.Id.Hex(), IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldPassword, IsPermitted: true}},
	}}
	err = svc.UpdateReaders(ctx, alice.Id.Hex(), alice.Id.Hex(), badReaders)
	assert.True(t, model.IsKind(err, model.KindValidation))

	// unknown author kinds are rejected
	badKind := []model.Reader{{Author: "ROBOT", AuthorId: "x", IsPermitted: true}}
	err = svc.UpdateReaders(ctx, alice.Id.Hex(), alice.Id.Hex(), badKind)
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestWildcardGrantSets(t *testing.T) {
	svc, _ := newTestService(t, "mockdb://subject-wildcard/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")
	bob := registerUser(t, svc, "bob")

	allReaders := &model.AllReaders{
		ArePermitted: true,
		Fields:       []model.Field{{Name: model.FieldUsername, IsPermitted: true}},
	}
	assert.NoError(t, svc.UpdateAllReaders(ctx, alice.Id.Hex(), alice.Id.Hex(), allReaders))

	projection, err := svc.RetrieveSubject(ctx, userActor(bob), alice.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, "alice", projection[model.FieldUsername])
	assert.NotContains(t, projection, model.FieldEmail)

	// removing the wildcard closes access again
	assert.NoError(t, svc.UpdateAllReaders(ctx, alice.Id.Hex(), alice.Id.Hex(), nil))
	_, err = svc.RetrieveSubject(ctx, userActor(bob), alice.Id.Hex())
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestLogoutAndResolveClientActor(t *testing.T) {
	svc, provider := newTestService(t, "mockdb://subject-resolve/")
	ctx := context.TODO()

	alice := registerUser(t, svc, "alice")

	before := time.Now()
	assert.NoError(t, svc.Logout(ctx, alice.Id.Hex()))
	got, _ := provider.GetUser(ctx, alice.Id.Hex())
	assert.NotNil(t, got.LoggedOutAt)
	assert.False(t, got.LoggedOutAt.Before(before))

	// a delegated token resolves to a client actor
	token := "plaintext-token"
	entry := model.AuthorizedClient{
		ClientId: "client1",
		RefreshToken: model.RefreshToken{
			Value:          svc.Hash("plaintext-refresh"),
			ExpirationDate: time.Now().AddDate(0, 2, 0),
		},
		Token: model.AccessToken{
			Value:          svc.Hash(token),
			ExpirationDate: time.Now().AddDate(0, 1, 0),
		},
	}
	assert.NoError(t, provider.AppendAuthorizedClient(ctx, alice.Id.Hex(), &entry))

	actor, err := svc.ResolveClientActor(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, model.AuthorClient, actor.Kind)
	assert.Equal(t, "client1", actor.Id)

	_, err = svc.ResolveClientActor(ctx, "unknown-token")
	assert.True(t, model.IsKind(err, model.KindNotFound))

	// expired tokens resolve to nothing
	expired := entry.Token
	expired.ExpirationDate = time.Now().Add(-time.Hour)
	assert.NoError(t, provider.ReplaceAccessToken(ctx, alice.Id.Hex(), "client1", expired))
	_, err = svc.ResolveClientActor(ctx, token)
	assert.True(t, model.IsKind(err, model.KindExpired))
}
