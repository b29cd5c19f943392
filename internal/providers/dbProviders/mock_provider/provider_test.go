package mock_provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders/mock_provider"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMockProviderOpen(t *testing.T) {
	provider, err := mock_provider.Open("mockdb://localhost:27017/", "test_db")
	assert.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, "test_db", provider.Name())

	err = provider.Close()
	assert.NoError(t, err)
}

func TestMockProviderViaFactory(t *testing.T) {
	provider, err := dbProviders.OpenProvider("mockdb:", "test_db")
	assert.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, "test_db", provider.Name())

	err = provider.Close()
	assert.NoError(t, err)
}

func TestMockProviderRejectNonMockURL(t *testing.T) {
	_, err := mock_provider.Open("mongodb://localhost:27017/", "test_db")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mock provider only supports 'mockdb:' URL prefix")
}

func TestMockProviderSharedStorage(t *testing.T) {
	first, err := mock_provider.Open("mockdb://shared/", "test_db")
	assert.NoError(t, err)
	second, err := mock_provider.Open("mockdb://shared/", "test_db")
	assert.NoError(t, err)

	// both handles observe the same data
	assert.Same(t, first, second)
}

func newTestProvider(t *testing.T, url string) *mock_provider.MockAccessProvider {
	provider, err := mock_provider.Open(url, "test_db")
	assert.NoError(t, err)
	assert.NoError(t, provider.ResetDb(true))
	return provider
}

func insertTestUser(t *testing.T, provider *mock_provider.MockAccessProvider, username string) *model.User {
	id := primitive.NewObjectID()
	user := model.User{
		Id:           id,
		Username:     username,
		Email:        username + "@example.com",
		AccessPolicy: model.DefaultAccessPolicy(id.Hex()),
		CreatedAt:    time.Now(),
	}
	assert.NoError(t, provider.InsertUser(context.TODO(), &user))
	return &user
}

func TestMockProviderBasicOperations(t *testing.T) {
	provider := newTestProvider(t, "mockdb://basic/")
	defer provider.Close()

	// Test Check
	assert.NoError(t, provider.Check())

	// Test GetAuthIssuer
	authIssuer := provider.GetAuthIssuer()
	assert.NotNil(t, authIssuer)
	assert.NotNil(t, authIssuer.PrivateKey)

	// Test GetPublicJWKS
	jwks := provider.GetPublicJWKS("DEFAULT")
	assert.NotNil(t, jwks)
	assert.Contains(t, string(*jwks), "keys")

	// unknown issuer has no published keys
	assert.Nil(t, provider.GetPublicJWKS("UNKNOWN"))
}

func TestMockProviderUserCrud(t *testing.T) {
	provider := newTestProvider(t, "mockdb://usercrud/")
	defer provider.Close()
	ctx := context.TODO()

	user := insertTestUser(t, provider, "alice")

	got, err := provider.GetUser(ctx, user.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	// returned records are copies, not aliases into the store
	got.Username = "mutated"
	again, err := provider.GetUser(ctx, user.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, "alice", again.Username)

	byName, err := provider.GetUserByUsername(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, user.Id, byName.Id)

	_, err = provider.GetUser(ctx, primitive.NewObjectID().Hex())
	assert.True(t, model.IsKind(err, model.KindNotFound))

	// duplicate username rejected
	dup := model.User{Id: primitive.NewObjectID(), Username: "alice"}
	err = provider.InsertUser(ctx, &dup)
	assert.True(t, model.IsKind(err, model.KindDuplication))

	assert.NoError(t, provider.DeleteUser(ctx, user.Id.Hex()))
	_, err = provider.GetUser(ctx, user.Id.Hex())
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestMockProviderClientUniqueness(t *testing.T) {
	provider := newTestProvider(t, "mockdb://clientuniq/")
	defer provider.Close()
	ctx := context.TODO()

	client := model.Client{
		Id:          primitive.NewObjectID(),
		Secret:      "hashedsecret1",
		RedirectUrl: "https://app.example.com/callback",
		CreatedAt:   time.Now(),
	}
	assert.NoError(t, provider.InsertClient(ctx, &client))

	// duplicate secret
	dupSecret := model.Client{
		Id:          primitive.NewObjectID(),
		Secret:      "hashedsecret1",
		RedirectUrl: "https://other.example.com/callback",
	}
	err := provider.InsertClient(ctx, &dupSecret)
	assert.True(t, model.IsKind(err, model.KindDuplication))

	// duplicate redirect url
	dupRedirect := model.Client{
		Id:          primitive.NewObjectID(),
		Secret:      "hashedsecret2",
		RedirectUrl: "https://app.example.com/callback",
	}
	err = provider.InsertClient(ctx, &dupRedirect)
	assert.True(t, model.IsKind(err, model.KindDuplication))

	// lookup by (id, redirect) pair
	got, err := provider.GetClientByRedirect(ctx, client.Id.Hex(), client.RedirectUrl)
	assert.NoError(t, err)
	assert.Equal(t, client.Id, got.Id)

	_, err = provider.GetClientByRedirect(ctx, client.Id.Hex(), "https://wrong.example.com/")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestMockProviderRotateClientSecret(t *testing.T) {
	provider := newTestProvider(t, "mockdb://rotate/")
	defer provider.Close()
	ctx := context.TODO()

	client := model.Client{
		Id:          primitive.NewObjectID(),
		Secret:      "original",
		RedirectUrl: "https://rotate.example.com/callback",
	}
	assert.NoError(t, provider.InsertClient(ctx, &client))

	exposedAt := time.Now()
	assert.NoError(t, provider.RotateClientSecret(ctx, client.Id.Hex(), "rotated", exposedAt))

	got, err := provider.GetClient(ctx, client.Id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, "rotated", got.Secret)
	assert.Equal(t, int32(1), got.ExposedCount)
	assert.NotNil(t, got.TokensExposedAt)
	assert.False(t, got.IsBanned())

	// the third exposure bans the client
	assert.NoError(t, provider.RotateClientSecret(ctx, client.Id.Hex(), "rotated2", time.Now()))
	assert.NoError(t, provider.RotateClientSecret(ctx, client.Id.Hex(), "rotated3", time.Now()))
	got, _ = provider.GetClient(ctx, client.Id.Hex())
	assert.True(t, got.IsBanned())
}

func TestMockProviderAuthorizationCodeUniqueness(t *testing.T) {
	provider := newTestProvider(t, "mockdb://codeuniq/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")
	bob := insertTestUser(t, provider, "bob")

	pending := model.AuthorizingClient{
		ClientId:      "client1",
		Code:          "hashedcode1",
		CodeExpiresAt: time.Now().Add(3 * time.Minute),
	}
	assert.NoError(t, provider.SetAuthorizingClient(ctx, alice.Id.Hex(), &pending))

	// the same hashed code on a different subject violates uniqueness
	err := provider.SetAuthorizingClient(ctx, bob.Id.Hex(), &pending)
	assert.True(t, model.IsKind(err, model.KindDuplication))

	got, err := provider.GetUserByAuthorizationCode(ctx, "hashedcode1")
	assert.NoError(t, err)
	assert.Equal(t, alice.Id, got.Id)

	// replacing a pending authorization supersedes the previous code
	replacement := model.AuthorizingClient{
		ClientId:      "client2",
		Code:          "hashedcode2",
		CodeExpiresAt: time.Now().Add(3 * time.Minute),
	}
	assert.NoError(t, provider.SetAuthorizingClient(ctx, alice.Id.Hex(), &replacement))
	_, err = provider.GetUserByAuthorizationCode(ctx, "hashedcode1")
	assert.True(t, model.IsKind(err, model.KindNotFound))

	assert.NoError(t, provider.ClearAuthorizingClient(ctx, alice.Id.Hex()))
	_, err = provider.GetUserByAuthorizationCode(ctx, "hashedcode2")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestMockProviderAuthorizedClientLifecycle(t *testing.T) {
	provider := newTestProvider(t, "mockdb://aclife/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")
	entry := model.AuthorizedClient{
		ClientId: "client1",
		RefreshToken: model.RefreshToken{
			Value:          "hashedrefresh1",
			ExpirationDate: time.Now().AddDate(0, 2, 0),
		},
		Token: model.AccessToken{
			Value:          "hashedtoken1",
			ExpirationDate: time.Now().AddDate(0, 1, 0),
		},
	}
	assert.NoError(t, provider.AppendAuthorizedClient(ctx, alice.Id.Hex(), &entry))

	got, err := provider.GetUserByAccessToken(ctx, "hashedtoken1")
	assert.NoError(t, err)
	assert.Equal(t, alice.Id, got.Id)
	got, err = provider.GetUserByRefreshToken(ctx, "hashedrefresh1")
	assert.NoError(t, err)
	assert.Equal(t, alice.Id, got.Id)

	// a second entry for the same client replaces the first
	second := entry
	second.RefreshToken.Value = "hashedrefresh2"
	second.Token.Value = "hashedtoken2"
	assert.NoError(t, provider.AppendAuthorizedClient(ctx, alice.Id.Hex(), &second))
	got, err = provider.GetUser(ctx, alice.Id.Hex())
	assert.NoError(t, err)
	assert.Len(t, got.AuthorizedClients, 1)
	assert.Equal(t, "hashedtoken2", got.AuthorizedClients[0].Token.Value)

	// credential reuse across subjects is rejected
	bob := insertTestUser(t, provider, "bob")
	err = provider.AppendAuthorizedClient(ctx, bob.Id.Hex(), &second)
	assert.True(t, model.IsKind(err, model.KindDuplication))

	// access token replacement keeps the refresh token
	replacement := model.AccessToken{Value: "hashedtoken3", ExpirationDate: time.Now().AddDate(0, 1, 0)}
	assert.NoError(t, provider.ReplaceAccessToken(ctx, alice.Id.Hex(), "client1", replacement))
	got, _ = provider.GetUser(ctx, alice.Id.Hex())
	assert.Equal(t, "hashedtoken3", got.AuthorizedClients[0].Token.Value)
	assert.Equal(t, "hashedrefresh2", got.AuthorizedClients[0].RefreshToken.Value)

	assert.NoError(t, provider.RemoveAuthorizedClient(ctx, alice.Id.Hex(), "client1"))
	_, err = provider.GetUserByAccessToken(ctx, "hashedtoken3")
	assert.True(t, model.IsKind(err, model.KindNotFound))
}

func TestMockProviderMergeClientGrants(t *testing.T) {
	provider := newTestProvider(t, "mockdb://merge/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")

	reader := model.Reader{Author: model.AuthorClient, AuthorId: "client1", IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldEmail, IsPermitted: true}}}
	assert.NoError(t, provider.MergeClientGrants(ctx, alice.Id.Hex(), "client1", &reader, nil, nil))

	got, _ := provider.GetUser(ctx, alice.Id.Hex())
	// default self grants are preserved alongside the merged client grant
	assert.Len(t, got.AccessPolicy.Readers, 2)
	assert.Len(t, got.AccessPolicy.Updaters, 1)

	// re-merging for the same client replaces rather than accumulates
	updater := model.Updater{Author: model.AuthorClient, AuthorId: "client1", IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldFirstName, IsPermitted: true}}}
	assert.NoError(t, provider.MergeClientGrants(ctx, alice.Id.Hex(), "client1", &reader, &updater, nil))
	got, _ = provider.GetUser(ctx, alice.Id.Hex())
	assert.Len(t, got.AccessPolicy.Readers, 2)
	assert.Len(t, got.AccessPolicy.Updaters, 2)

	// merging nil grants clears the client's entries
	assert.NoError(t, provider.MergeClientGrants(ctx, alice.Id.Hex(), "client1", nil, nil, nil))
	got, _ = provider.GetUser(ctx, alice.Id.Hex())
	assert.Len(t, got.AccessPolicy.Readers, 1)
	assert.Len(t, got.AccessPolicy.Updaters, 1)
}

func TestMockProviderFindReadableUsers(t *testing.T) {
	provider := newTestProvider(t, "mockdb://findreadable/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")
	bob := insertTestUser(t, provider, "bob")

	// grant alice read on bob
	bobPolicy := bob.AccessPolicy
	bobPolicy.Readers = append(bobPolicy.Readers, model.Reader{
		Author: model.AuthorUser, AuthorId: alice.Id.Hex(), IsPermitted: true,
		Fields: []model.Field{{Name: model.FieldUsername, IsPermitted: true}},
	})
	assert.NoError(t, provider.SetReaders(ctx, bob.Id.Hex(), bobPolicy.Readers))

	// alice sees herself and bob
	users, err := provider.FindReadableUsers(ctx, nil, model.AuthorUser, alice.Id.Hex(), model.Page{Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, users, 2)

	// bob only sees himself
	users, err = provider.FindReadableUsers(ctx, nil, model.AuthorUser, bob.Id.Hex(), model.Page{Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, bob.Id, users[0].Id)

	// equality filter narrows the result
	filter := model.Filter{{Field: model.FieldUsername, Value: "bob"}}
	users, err = provider.FindReadableUsers(ctx, filter, model.AuthorUser, alice.Id.Hex(), model.Page{Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, bob.Id, users[0].Id)

	// pagination
	users, err = provider.FindReadableUsers(ctx, nil, model.AuthorUser, alice.Id.Hex(), model.Page{Skip: 1, Limit: 100})
	assert.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMockProviderUpdateUserFields(t *testing.T) {
	provider := newTestProvider(t, "mockdb://updatefields/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")

	update := model.UpdateSpec{{Field: model.FieldFirstName, Value: "Alice"}}
	assert.NoError(t, provider.UpdateUserFields(ctx, alice.Id.Hex(), update))

	got, _ := provider.GetUser(ctx, alice.Id.Hex())
	assert.Equal(t, "Alice", got.FirstName)

	// non-updatable field rejected
	badUpdate := model.UpdateSpec{{Field: model.FieldAccessPolicy, Value: "x"}}
	err := provider.UpdateUserFields(ctx, alice.Id.Hex(), badUpdate)
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestMockProviderTransactionRollback(t *testing.T) {
	provider := newTestProvider(t, "mockdb://txrollback/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")

	boom := errors.New("deliberate failure")
	err := provider.WithTransaction(ctx, func(txCtx context.Context) error {
		entry := model.AuthorizedClient{
			ClientId:     "client1",
			RefreshToken: model.RefreshToken{Value: "txrefresh"},
			Token:        model.AccessToken{Value: "txtoken"},
		}
		if err := provider.AppendAuthorizedClient(txCtx, alice.Id.Hex(), &entry); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// the append inside the failed transaction is not observable
	got, getErr := provider.GetUser(ctx, alice.Id.Hex())
	assert.NoError(t, getErr)
	assert.Empty(t, got.AuthorizedClients)
}

func TestMockProviderTransactionCommit(t *testing.T) {
	provider := newTestProvider(t, "mockdb://txcommit/")
	defer provider.Close()
	ctx := context.TODO()

	alice := insertTestUser(t, provider, "alice")

	err := provider.WithTransaction(ctx, func(txCtx context.Context) error {
		entry := model.AuthorizedClient{
			ClientId:     "client1",
			RefreshToken: model.RefreshToken{Value: "commitrefresh"},
			Token:        model.AccessToken{Value: "committoken"},
		}
		if err := provider.AppendAuthorizedClient(txCtx, alice.Id.Hex(), &entry); err != nil {
			return err
		}
		// a nested unit of work joins the outer transaction
		return provider.WithTransaction(txCtx, func(innerCtx context.Context) error {
			return provider.ClearAuthorizingClient(innerCtx, alice.Id.Hex())
		})
	})
	assert.NoError(t, err)

	got, _ := provider.GetUser(ctx, alice.Id.Hex())
	assert.Len(t, got.AuthorizedClients, 1)
}
