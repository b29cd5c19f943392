// Package mock_provider is the in-memory reference implementation of the
// AccessProviderInterface. It mirrors the uniqueness constraints and
// transactional behavior of the MongoDB provider so the core can be tested
// without a database.
package mock_provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc"
	"github.com/i2-open/i2goAccess/internal/authUtil"
	"github.com/i2-open/i2goAccess/internal/model"
	"github.com/i2-open/i2goAccess/internal/policyEval"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const CDbName = "access"
const CDefIssuer = "DEFAULT"
const CEnvIssuer = "IA_ISSUER"
const CEnvDbName = "IA_DBNAME"

var pLog = log.New(os.Stdout, "MOCK_DB:  ", log.Ldate|log.Ltime)

// Shared storage keyed by URL so multiple Open calls in one process observe
// the same data, the way separate connections to one database would.
var (
	sharedStorageMu sync.Mutex
	sharedStorage   = make(map[string]*MockAccessProvider)
)

type MockAccessProvider struct {
	DbUrl  string
	DbName string
	dbInit bool
	mu     sync.RWMutex

	users   map[string]*model.User
	clients map[string]*model.Client
	keys    map[string]*JwkKeyRec

	DefaultIssuer string
	tokenKey      *rsa.PrivateKey
	tokenPubKey   *keyfunc.JWKS
}

// txMarker marks a context as running inside WithTransaction, where the
// provider lock is already held.
type txMarker struct{}

func (m *MockAccessProvider) inTx(ctx context.Context) bool {
	return ctx != nil && ctx.Value(txMarker{}) == m
}

func (m *MockAccessProvider) lock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MockAccessProvider) rlock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *MockAccessProvider) Name() string {
	return m.DbName
}

func (m *MockAccessProvider) initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	pLog.Println("Initializing new in-memory access database [" + m.DbName + "]")

	m.users = make(map[string]*model.User)
	m.clients = make(map[string]*model.Client)
	m.keys = make(map[string]*JwkKeyRec)

	m.tokenKey = m.createIssuerKeyPairUnlocked(m.DefaultIssuer)
	m.tokenPubKey = m.publicJwksUnlocked(m.DefaultIssuer)
	m.dbInit = true
}

func (m *MockAccessProvider) Check() error {
	return nil
}

func (m *MockAccessProvider) Close() error {
	return nil
}

func (m *MockAccessProvider) ResetDb(initialize bool) error {
	m.mu.Lock()
	m.users = make(map[string]*model.User)
	m.clients = make(map[string]*model.Client)
	m.keys = make(map[string]*JwkKeyRec)
	m.dbInit = false
	m.mu.Unlock()

	if initialize {
		m.initialize()
	}
	return nil
}

// Open creates or reuses a MockAccessProvider. Repeated calls with the same
// URL share the same underlying storage.
func Open(mockUrl string, dbName string) (*MockAccessProvider, error) {
	if !strings.HasPrefix(mockUrl, "mockdb:") && mockUrl != "" {
		return nil, fmt.Errorf("mock provider only supports 'mockdb:' URL prefix, got: %s", mockUrl)
	}

	defaultIssuer, issDefined := os.LookupEnv(CEnvIssuer)
	if !issDefined {
		defaultIssuer = CDefIssuer
	}

	if dbName == "" {
		dbEnvName, dbDefined := os.LookupEnv(CEnvDbName)
		if dbDefined {
			dbName = dbEnvName
		} else {
			dbName = CDbName
		}
	}

	if mockUrl == "" {
		mockUrl = "mockdb://localhost/"
		pLog.Printf("Defaulting mock database URL: %s", mockUrl)
	}

	sharedStorageMu.Lock()
	defer sharedStorageMu.Unlock()

	if existing, ok := sharedStorage[mockUrl]; ok {
		pLog.Printf("Reusing existing mock database for URL: %s", mockUrl)
		return existing, nil
	}

	m := &MockAccessProvider{
		DbName:        dbName,
		DbUrl:         mockUrl,
		DefaultIssuer: defaultIssuer,
	}
	m.initialize()

	sharedStorage[mockUrl] = m
	return m, nil
}

func (m *MockAccessProvider) createIssuerKeyPairUnlocked(issuer string) *rsa.PrivateKey {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	m.keys[issuer] = &JwkKeyRec{
		Id:          primitive.NewObjectID(),
		Iss:         issuer,
		KeyBytes:    x509.MarshalPKCS1PrivateKey(privateKey),
		PubKeyBytes: x509.MarshalPKCS1PublicKey(&privateKey.PublicKey),
	}
	return privateKey
}

func (m *MockAccessProvider) publicJwksUnlocked(issuer string) *keyfunc.JWKS {
	rec, ok := m.keys[issuer]
	if !ok {
		pLog.Printf("Error: key not found for issuer: %s", issuer)
		return nil
	}
	pubKey, err := x509.ParsePKCS1PublicKey(rec.PubKeyBytes)
	if err != nil {
		pLog.Printf("Error parsing public key: %s", err.Error())
		return nil
	}
	givenKey := keyfunc.NewGivenRSACustomWithOptions(pubKey, keyfunc.GivenKeyOptions{
		Algorithm: "RS256",
	})
	return keyfunc.NewGiven(map[string]keyfunc.GivenKey{issuer: givenKey})
}

func (m *MockAccessProvider) GetAuthIssuer() *authUtil.AuthIssuer {
	return &authUtil.AuthIssuer{
		TokenIssuer: m.DefaultIssuer,
		PrivateKey:  m.tokenKey,
		PublicKey:   m.tokenPubKey,
	}
}

func (m *MockAccessProvider) GetAuthValidatorPubKey() *keyfunc.JWKS {
	return m.tokenPubKey
}

func (m *MockAccessProvider) GetPublicJWKS(issuer string) *json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.keys[issuer]
	if !ok {
		return nil
	}
	pubKey, err := x509.ParsePKCS1PublicKey(rec.PubKeyBytes)
	if err != nil {
		pLog.Printf("Error parsing public key: %s", err.Error())
		return nil
	}

	jwkstore := jwkset.NewMemoryStorage()
	jwk, err := jwkset.NewJWKFromKey(pubKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{KID: issuer},
	})
	if err != nil {
		pLog.Println("Error parsing rsa key into jwk: " + err.Error())
		return nil
	}
	if err := jwkstore.KeyWrite(context.Background(), jwk); err != nil {
		pLog.Println("Error creating JWKS for key issuer: " + issuer + ": " + err.Error())
		return nil
	}
	response, err := jwkstore.JSONPublic(context.Background())
	if err != nil {
		pLog.Println("Error creating JWKS response: " + err.Error())
		return nil
	}
	return &response
}

// --- uniqueness scans -------------------------------------------------------

func (m *MockAccessProvider) secretInUse(hashed string, excludeClientId string) bool {
	for id, c := range m.clients {
		if id != excludeClientId && c.Secret == hashed {
			return true
		}
	}
	return false
}

func (m *MockAccessProvider) redirectInUse(redirectUrl string, excludeClientId string) bool {
	for id, c := range m.clients {
		if id != excludeClientId && c.RedirectUrl == redirectUrl {
			return true
		}
	}
	return false
}

func (m *MockAccessProvider) codeInUse(hashedCode string) bool {
	for _, u := range m.users {
		if u.AuthorizingClient != nil && u.AuthorizingClient.Code == hashedCode {
			return true
		}
	}
	return false
}

func (m *MockAccessProvider) credentialInUse(hashedValue string) bool {
	for _, u := range m.users {
		for _, ac := range u.AuthorizedClients {
			if ac.RefreshToken.Value == hashedValue || ac.Token.Value == hashedValue {
				return true
			}
		}
	}
	return false
}

// --- clients ----------------------------------------------------------------

func (m *MockAccessProvider) InsertClient(ctx context.Context, client *model.Client) error {
	defer m.lock(ctx)()

	if m.secretInUse(client.Secret, "") {
		return model.ErrDuplication("client.secret")
	}
	if m.redirectInUse(client.RedirectUrl, "") {
		return model.ErrDuplication("client.redirectUrl")
	}
	stored := *client
	m.clients[client.Id.Hex()] = &stored
	return nil
}

func (m *MockAccessProvider) GetClient(ctx context.Context, clientId string) (*model.Client, error) {
	defer m.rlock(ctx)()

	if c, ok := m.clients[clientId]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, model.ErrNotFound("client")
}

func (m *MockAccessProvider) GetClientByRedirect(ctx context.Context, clientId string, redirectUrl string) (*model.Client, error) {
	defer m.rlock(ctx)()

	if c, ok := m.clients[clientId]; ok && c.RedirectUrl == redirectUrl {
		copied := *c
		return &copied, nil
	}
	return nil, model.ErrNotFound("client")
}

func (m *MockAccessProvider) RotateClientSecret(ctx context.Context, clientId string, hashedSecret string, exposedAt time.Time) error {
	defer m.lock(ctx)()

	c, ok := m.clients[clientId]
	if !ok {
		return model.ErrNotFound("client")
	}
	if m.secretInUse(hashedSecret, clientId) {
		return model.ErrDuplication("client.secret")
	}
	c.Secret = hashedSecret
	c.ExposedCount++
	c.TokensExposedAt = &exposedAt
	return nil
}

func (m *MockAccessProvider) ListClients(ctx context.Context) ([]model.Client, error) {
	defer m.rlock(ctx)()

	clients := make([]model.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, *c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Id.Hex() < clients[j].Id.Hex() })
	return clients, nil
}

// --- users ------------------------------------------------------------------

func cloneUser(u *model.User) *model.User {
	raw, err := bson.Marshal(u)
	if err != nil {
		pLog.Printf("Error cloning user record: %s", err.Error())
		copied := *u
		return &copied
	}
	var copied model.User
	if err := bson.Unmarshal(raw, &copied); err != nil {
		pLog.Printf("Error cloning user record: %s", err.Error())
		c := *u
		return &c
	}
	return &copied
}

func (m *MockAccessProvider) InsertUser(ctx context.Context, user *model.User) error {
	defer m.lock(ctx)()

	for _, existing := range m.users {
		if existing.Username == user.Username {
			return model.ErrDuplication("user.username")
		}
	}
	m.users[user.Id.Hex()] = cloneUser(user)
	return nil
}

func (m *MockAccessProvider) GetUser(ctx context.Context, userId string) (*model.User, error) {
	defer m.rlock(ctx)()

	if u, ok := m.users[userId]; ok {
		return cloneUser(u), nil
	}
	return nil, model.ErrNotFound("user")
}

func (m *MockAccessProvider) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	defer m.rlock(ctx)()

	for _, u := range m.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, model.ErrNotFound("user")
}

func (m *MockAccessProvider) GetUserByAuthorizationCode(ctx context.Context, hashedCode string) (*model.User, error) {
	defer m.rlock(ctx)()

	for _, u := range m.users {
		if u.AuthorizingClient != nil && u.AuthorizingClient.Code == hashedCode {
			return cloneUser(u), nil
		}
	}
	return nil, model.ErrNotFound("code")
}

func (m *MockAccessProvider) GetUserByRefreshToken(ctx context.Context, hashedValue string) (*model.User, error) {
	defer m.rlock(ctx)()

	for _, u := range m.users {
		for _, ac := range u.AuthorizedClients {
			if ac.RefreshToken.Value == hashedValue {
				return cloneUser(u), nil
			}
		}
	}
	return nil, model.ErrNotFound("refreshToken")
}

func (m *MockAccessProvider) GetUserByAccessToken(ctx context.Context, hashedValue string) (*model.User, error) {
	defer m.rlock(ctx)()

	for _, u := range m.users {
		for _, ac := range u.AuthorizedClients {
			if ac.Token.Value == hashedValue {
				return cloneUser(u), nil
			}
		}
	}
	return nil, model.ErrNotFound("token")
}

func matchesFilter(u *model.User, filter model.Filter) bool {
	for _, term := range filter {
		spec, ok := model.LookupField(term.Field)
		if !ok {
			return false
		}
		actual := spec.Get(u)
		if !reflect.DeepEqual(actual, term.Value) {
			// normalize numerics and interface nils coming through JSON
			if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", term.Value) {
				return false
			}
		}
	}
	return true
}

func (m *MockAccessProvider) FindReadableUsers(ctx context.Context, filter model.Filter, author model.AuthorKind, authorId string, page model.Page) ([]model.User, error) {
	defer m.rlock(ctx)()

	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page = page.Bound()
	var results []model.User
	skipped := int64(0)
	for _, id := range ids {
		u := m.users[id]
		if !matchesFilter(u, filter) {
			continue
		}
		// the access predicate: a matching permitted grant must exist
		if !policyEval.HasReadGrant(&u.AccessPolicy, author, authorId) {
			continue
		}
		if skipped < page.Skip {
			skipped++
			continue
		}
		results = append(results, *cloneUser(u))
		if int64(len(results)) >= page.Limit {
			break
		}
	}
	return results, nil
}

func (m *MockAccessProvider) UpdateUserFields(ctx context.Context, userId string, update model.UpdateSpec) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	for _, term := range update {
		spec, ok := model.LookupField(term.Field)
		if !ok || spec.Set == nil {
			return model.ErrValidation("field is not updatable: " + term.Field)
		}
		if err := spec.Set(u, term.Value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockAccessProvider) SetPassword(ctx context.Context, userId string, hashedPassword string) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.Password = hashedPassword
	return nil
}

func (m *MockAccessProvider) SetLoggedOutAt(ctx context.Context, userId string, at time.Time) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.LoggedOutAt = &at
	return nil
}

func (m *MockAccessProvider) DeleteUser(ctx context.Context, userId string) error {
	defer m.lock(ctx)()

	if _, ok := m.users[userId]; !ok {
		return model.ErrNotFound("user")
	}
	delete(m.users, userId)
	return nil
}

// --- authorization state ----------------------------------------------------

func (m *MockAccessProvider) SetAuthorizingClient(ctx context.Context, userId string, pending *model.AuthorizingClient) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	if pending != nil && m.codeInUse(pending.Code) {
		return model.ErrDuplication("authorizingClient.code")
	}
	u.AuthorizingClient = pending
	return nil
}

func (m *MockAccessProvider) ClearAuthorizingClient(ctx context.Context, userId string) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.AuthorizingClient = nil
	return nil
}

func (m *MockAccessProvider) AppendAuthorizedClient(ctx context.Context, userId string, entry *model.AuthorizedClient) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	if m.credentialInUse(entry.RefreshToken.Value) || m.credentialInUse(entry.Token.Value) {
		return model.ErrDuplication("authorizedClient.credential")
	}
	// remove-then-add keeps at most one entry per client id
	kept := u.AuthorizedClients[:0]
	for _, ac := range u.AuthorizedClients {
		if ac.ClientId != entry.ClientId {
			kept = append(kept, ac)
		}
	}
	u.AuthorizedClients = append(kept, *entry)
	return nil
}

func (m *MockAccessProvider) RemoveAuthorizedClient(ctx context.Context, userId string, clientId string) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	kept := u.AuthorizedClients[:0]
	for _, ac := range u.AuthorizedClients {
		if ac.ClientId != clientId {
			kept = append(kept, ac)
		}
	}
	u.AuthorizedClients = kept
	return nil
}

func (m *MockAccessProvider) ReplaceAccessToken(ctx context.Context, userId string, clientId string, token model.AccessToken) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	for i := range u.AuthorizedClients {
		if u.AuthorizedClients[i].ClientId != clientId {
			continue
		}
		if token.Value != u.AuthorizedClients[i].Token.Value && m.credentialInUse(token.Value) {
			return model.ErrDuplication("authorizedClient.token")
		}
		u.AuthorizedClients[i].Token = token
		return nil
	}
	return model.ErrNotFound("authorizedClient")
}

func (m *MockAccessProvider) MergeClientGrants(ctx context.Context, userId string, clientId string, reader *model.Reader, updater *model.Updater, deleter *model.Deleter) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	policy := &u.AccessPolicy

	readers := policy.Readers[:0]
	for _, r := range policy.Readers {
		if !(r.Author == model.AuthorClient && r.AuthorId == clientId) {
			readers = append(readers, r)
		}
	}
	if reader != nil {
		readers = append(readers, *reader)
	}
	policy.Readers = readers

	updaters := policy.Updaters[:0]
	for _, up := range policy.Updaters {
		if !(up.Author == model.AuthorClient && up.AuthorId == clientId) {
			updaters = append(updaters, up)
		}
	}
	if updater != nil {
		updaters = append(updaters, *updater)
	}
	policy.Updaters = updaters

	deleters := policy.Deleters[:0]
	for _, d := range policy.Deleters {
		if !(d.Author == model.AuthorClient && d.AuthorId == clientId) {
			deleters = append(deleters, d)
		}
	}
	if deleter != nil {
		deleters = append(deleters, *deleter)
	}
	policy.Deleters = deleters
	return nil
}

// --- grant sets -------------------------------------------------------------

func (m *MockAccessProvider) SetReaders(ctx context.Context, userId string, readers []model.Reader) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.AccessPolicy.Readers = readers
	return nil
}

func (m *MockAccessProvider) SetUpdaters(ctx context.Context, userId string, updaters []model.Updater) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.AccessPolicy.Updaters = updaters
	return nil
}

func (m *MockAccessProvider) SetDeleters(ctx context.Context, userId string, deleters []model.Deleter) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.AccessPolicy.Deleters = deleters
	return nil
}

func (m *MockAccessProvider) SetAllReaders(ctx context.Context, userId string, allReaders *model.AllReaders) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.AccessPolicy.AllReaders = allReaders
	return nil
}

func (m *MockAccessProvider) SetAllUpdaters(ctx context.Context, userId string, allUpdaters *model.AllUpdaters) error {
	defer m.lock(ctx)()

	u, ok := m.users[userId]
	if !ok {
		return model.ErrNotFound("user")
	}
	u.AccessPolicy.AllUpdaters = allUpdaters
	return nil
}

// --- transactions -----------------------------------------------------------

// WithTransaction takes a snapshot of the stores, runs fn under the provider
// lock, and restores the snapshot when fn fails. Partial application of a
// multi-step write is never observable.
func (m *MockAccessProvider) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if m.inTx(ctx) {
		// nested unit of work joins the outer one
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	usersSnap := make(map[string]*model.User, len(m.users))
	for id, u := range m.users {
		usersSnap[id] = cloneUser(u)
	}
	clientsSnap := make(map[string]*model.Client, len(m.clients))
	for id, c := range m.clients {
		copied := *c
		clientsSnap[id] = &copied
	}

	txCtx := context.WithValue(ctx, txMarker{}, m)
	if err := fn(txCtx); err != nil {
		m.users = usersSnap
		m.clients = clientsSnap
		return err
	}
	return nil
}
