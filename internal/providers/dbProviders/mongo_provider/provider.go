// Package mongo_provider implements the AccessProviderInterface over
// MongoDB. Uniqueness constraints are expressed as unique indexes and every
// multi-step write runs inside a session transaction handed down from
// WithTransaction.
package mongo_provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc"
	"github.com/i2-open/i2goAccess/internal/authUtil"
	"github.com/i2-open/i2goAccess/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CDbName = "access"
const CDbUsers = "users"
const CDbClients = "clients"
const CDbKeys = "keys"

const CDefIssuer = "DEFAULT"
const CEnvIssuer = "IA_ISSUER"
const CEnvDbName = "IA_DBNAME"

var pLog = log.New(os.Stdout, "MONGO: ", log.Ldate|log.Ltime)

type MongoProvider struct {
	DbUrl         string
	DbName        string
	client        *mongo.Client
	dbInit        bool
	accessDb      *mongo.Database
	userCol       *mongo.Collection
	clientCol     *mongo.Collection
	keyCol        *mongo.Collection
	DefaultIssuer string
	tokenKey      *rsa.PrivateKey
	tokenPubKey   *keyfunc.JWKS
}

func (m *MongoProvider) Name() string {
	return m.DbName
}

func (m *MongoProvider) initialize(ctx context.Context) {
	dbNames, err := m.client.ListDatabaseNames(ctx, bson.M{})
	if err != nil {
		log.Fatal(err)
	}

	exists := false
	for _, name := range dbNames {
		if name == m.DbName {
			exists = true
			break
		}
	}

	m.accessDb = m.client.Database(m.DbName)
	m.userCol = m.accessDb.Collection(CDbUsers)
	m.clientCol = m.accessDb.Collection(CDbClients)
	m.keyCol = m.accessDb.Collection(CDbKeys)

	if exists {
		pLog.Println("Connected to existing access database")
		m.tokenKey, err = m.getIssuerPrivateKey(m.DefaultIssuer)
		if err != nil {
			pLog.Printf("Error loading issuer key, creating new pair: %s", err.Error())
			m.tokenKey = m.createIssuerKeyPair(m.DefaultIssuer)
		}
	} else {
		pLog.Println("Initializing new database [" + m.DbName + "]")
		m.tokenKey = m.createIssuerKeyPair(m.DefaultIssuer)
	}
	m.tokenPubKey = m.internalPublicJWKS(m.DefaultIssuer)

	m.createIndexes(ctx)
	m.dbInit = true
}

// createIndexes installs the uniqueness constraints the credential issuing
// loops rely on. The sparse indexes skip user documents with no pending
// authorization or no authorized clients.
func (m *MongoProvider) createIndexes(ctx context.Context) {
	unique := func(col *mongo.Collection, key string, sparse bool) {
		opts := options.Index().SetUnique(true)
		if sparse {
			opts = opts.SetSparse(true)
		}
		_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: key, Value: 1}},
			Options: opts,
		})
		if err != nil {
			pLog.Println(err.Error())
		}
	}

	unique(m.clientCol, "secret", false)
	unique(m.clientCol, "redirectUrl", false)
	unique(m.userCol, "username", false)
	unique(m.userCol, "authorizingClient.code", true)
	unique(m.userCol, "authorizedClients.refreshToken.value", true)
	unique(m.userCol, "authorizedClients.token.value", true)
}

func (m *MongoProvider) Check() error {
	return m.client.Ping(context.Background(), nil)
}

func (m *MongoProvider) ResetDb(initialize bool) error {
	err := m.accessDb.Drop(context.TODO())
	m.dbInit = false

	if initialize {
		m.initialize(context.TODO())
	}
	return err
}

// Open connects to Mongo at the URL given and initializes the access
// database if necessary.
func Open(mongoUrl string, dbName string) (*MongoProvider, error) {
	ctx := context.Background()

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

	if mongoUrl == "" {
		mongoUrl = "mongodb://localhost:27017/"
		log.Printf("Defaulting Mongo Database to local: %s", mongoUrl)
	}

	opts := options.Client().ApplyURI(mongoUrl)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		log.Fatal(err)
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Error connecting to: %s.", mongoUrl)
		log.Fatal(err)
	}

	m := MongoProvider{
		DbName:        dbName,
		DbUrl:         mongoUrl,
		client:        client,
		DefaultIssuer: defaultIssuer,
	}
	m.initialize(ctx)
	return &m, nil
}

func (m *MongoProvider) Close() error {
	return m.client.Disconnect(context.Background())
}

// wrapErr translates driver errors into the core error taxonomy.
func wrapErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if err == mongo.ErrNoDocuments {
		return model.ErrNotFound(entity)
	}
	if mongo.IsDuplicateKeyError(err) {
		return model.ErrDuplication(entity)
	}
	return model.ErrStorageFailure(err)
}

// --- keys -------------------------------------------------------------------

func (m *MongoProvider) createIssuerKeyPair(issuer string) *rsa.PrivateKey {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	rec := JwkKeyRec{
		Id:          primitive.NewObjectID(),
		Iss:         issuer,
		KeyBytes:    x509.MarshalPKCS1PrivateKey(privateKey),
		PubKeyBytes: x509.MarshalPKCS1PublicKey(&privateKey.PublicKey),
	}
	if _, err := m.keyCol.InsertOne(context.TODO(), &rec); err != nil {
		pLog.Printf("Error storing key pair: %s", err.Error())
		return nil
	}
	return privateKey
}

func (m *MongoProvider) getIssuerPrivateKey(issuer string) (*rsa.PrivateKey, error) {
	res := m.keyCol.FindOne(context.TODO(), bson.D{{Key: "iss", Value: issuer}})
	var rec JwkKeyRec
	if err := res.Decode(&rec); err != nil {
		return nil, err
	}
	return x509.ParsePKCS1PrivateKey(rec.KeyBytes)
}

func (m *MongoProvider) internalPublicJWKS(issuer string) *keyfunc.JWKS {
	res := m.keyCol.FindOne(context.TODO(), bson.D{{Key: "iss", Value: issuer}})
	var rec JwkKeyRec
	if err := res.Decode(&rec); err != nil {
		pLog.Printf("Error parsing JwkKeyRec: %s", err.Error())
		return nil
	}
	pubKey, err := x509.ParsePKCS1PublicKey(rec.PubKeyBytes)
	if err != nil {
		pLog.Printf("Error parsing public key: %s", err.Error())
		return nil
	}
	gkey := keyfunc.NewGivenRSACustomWithOptions(pubKey, keyfunc.GivenKeyOptions{
		Algorithm: "RS256",
	})
	return keyfunc.NewGiven(map[string]keyfunc.GivenKey{issuer: gkey})
}

func (m *MongoProvider) GetAuthIssuer() *authUtil.AuthIssuer {
	return &authUtil.AuthIssuer{
		TokenIssuer: m.DefaultIssuer,
		PrivateKey:  m.tokenKey,
		PublicKey:   m.tokenPubKey,
	}
}

func (m *MongoProvider) GetAuthValidatorPubKey() *keyfunc.JWKS {
	return m.tokenPubKey
}

func (m *MongoProvider) GetPublicJWKS(issuer string) *json.RawMessage {
	res := m.keyCol.FindOne(context.TODO(), bson.D{{Key: "iss", Value: issuer}})
	if res.Err() != nil {
		return nil
	}
	var rec JwkKeyRec
	if err := res.Decode(&rec); err != nil {
		pLog.Printf("Error parsing JwkKeyRec: %s", err.Error())
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

// --- clients ----------------------------------------------------------------

func (m *MongoProvider) InsertClient(ctx context.Context, client *model.Client) error {
	_, err := m.clientCol.InsertOne(ctx, client)
	return wrapErr(err, "client")
}

func (m *MongoProvider) GetClient(ctx context.Context, clientId string) (*model.Client, error) {
	docId, err := primitive.ObjectIDFromHex(clientId)
	if err != nil {
		return nil, model.ErrNotFound("client")
	}
	res := m.clientCol.FindOne(ctx, bson.M{"_id": docId})
	var client model.Client
	if err := res.Decode(&client); err != nil {
		return nil, wrapErr(err, "client")
	}
	return &client, nil
}

func (m *MongoProvider) GetClientByRedirect(ctx context.Context, clientId string, redirectUrl string) (*model.Client, error) {
	docId, err := primitive.ObjectIDFromHex(clientId)
	if err != nil {
		return nil, model.ErrNotFound("client")
	}
	res := m.clientCol.FindOne(ctx, bson.D{{Key: "_id", Value: docId}, {Key: "redirectUrl", Value: redirectUrl}})
	var client model.Client
	if err := res.Decode(&client); err != nil {
		return nil, wrapErr(err, "client")
	}
	return &client, nil
}

func (m *MongoProvider) RotateClientSecret(ctx context.Context, clientId string, hashedSecret string, exposedAt time.Time) error {
	docId, err := primitive.ObjectIDFromHex(clientId)
	if err != nil {
		return model.ErrNotFound("client")
	}
	res, err := m.clientCol.UpdateOne(ctx, bson.M{"_id": docId}, bson.M{
		"$set": bson.M{"secret": hashedSecret, "tokensExposedAt": exposedAt},
		"$inc": bson.M{"exposedCount": 1},
	})
	if err != nil {
		return wrapErr(err, "client.secret")
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound("client")
	}
	return nil
}

func (m *MongoProvider) ListClients(ctx context.Context) ([]model.Client, error) {
	cursor, err := m.clientCol.Find(ctx, bson.D{})
	if err != nil {
		return nil, wrapErr(err, "client")
	}
	var clients []model.Client
	if err := cursor.All(ctx, &clients); err != nil {
		return nil, wrapErr(err, "client")
	}
	return clients, nil
}

// --- users ------------------------------------------------------------------

func (m *MongoProvider) InsertUser(ctx context.Context, user *model.User) error {
	_, err := m.userCol.InsertOne(ctx, user)
	return wrapErr(err, "user")
}

func (m *MongoProvider) getUserByFilter(ctx context.Context, filter interface{}, entity string) (*model.User, error) {
	res := m.userCol.FindOne(ctx, filter)
	var user model.User
	if err := res.Decode(&user); err != nil {
		return nil, wrapErr(err, entity)
	}
	return &user, nil
}

func (m *MongoProvider) GetUser(ctx context.Context, userId string) (*model.User, error) {
	docId, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, model.ErrNotFound("user")
	}
	return m.getUserByFilter(ctx, bson.M{"_id": docId}, "user")
}

func (m *MongoProvider) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return m.getUserByFilter(ctx, bson.D{{Key: "username", Value: username}}, "user")
}

func (m *MongoProvider) GetUserByAuthorizationCode(ctx context.Context, hashedCode string) (*model.User, error) {
	return m.getUserByFilter(ctx, bson.D{{Key: "authorizingClient.code", Value: hashedCode}}, "code")
}

func (m *MongoProvider) GetUserByRefreshToken(ctx context.Context, hashedValue string) (*model.User, error) {
	return m.getUserByFilter(ctx, bson.D{{Key: "authorizedClients.refreshToken.value", Value: hashedValue}}, "refreshToken")
}

func (m *MongoProvider) GetUserByAccessToken(ctx context.Context, hashedValue string) (*model.User, error) {
	return m.getUserByFilter(ctx, bson.D{{Key: "authorizedClients.token.value", Value: hashedValue}}, "token")
}

// FindReadableUsers runs the caller's filter in conjunction with the access
// predicate derived from the permission evaluator: a document matches only
// when a permitted wildcard or named read grant for the actor exists. The
// field-level superset check still happens in the service layer; this
// predicate is purely mechanical.
// objectIdFromFilter converts a caller-supplied _id equality value into the
// stored ObjectID form. The registry projects _id as a hex string, so that is
// what filters carry.
func objectIdFromFilter(value interface{}) (primitive.ObjectID, bool) {
	hex, ok := value.(string)
	if !ok {
		return primitive.NilObjectID, false
	}
	docId, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return docId, true
}

func (m *MongoProvider) FindReadableUsers(ctx context.Context, filter model.Filter, author model.AuthorKind, authorId string, page model.Page) ([]model.User, error) {
	conditions := bson.D{}
	for _, term := range filter {
		spec, ok := model.LookupField(term.Field)
		if !ok {
			return nil, model.ErrValidation("unknown field: " + term.Field)
		}
		value := term.Value
		if term.Field == model.FieldId {
			docId, ok := objectIdFromFilter(value)
			if !ok {
				// a malformed id matches nothing, same as the hex comparison
				// the in-memory provider does
				return []model.User{}, nil
			}
			value = docId
		}
		conditions = append(conditions, bson.E{Key: spec.BsonName, Value: value})
	}

	grantPredicate := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "accessPolicy.allReaders.arePermitted", Value: true}},
		bson.D{{Key: "accessPolicy.readers", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "author", Value: string(author)},
			{Key: "authorId", Value: authorId},
			{Key: "isPermitted", Value: true},
		}}}}},
	}}}
	conditions = append(conditions, grantPredicate...)

	page = page.Bound()
	opts := options.Find().
		SetSkip(page.Skip).
		SetLimit(page.Limit).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := m.userCol.Find(ctx, conditions, opts)
	if err != nil {
		return nil, wrapErr(err, "user")
	}
	var users []model.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, wrapErr(err, "user")
	}
	return users, nil
}

func (m *MongoProvider) userUpdate(ctx context.Context, userId string, update interface{}, entity string) error {
	docId, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return model.ErrNotFound("user")
	}
	res, err := m.userCol.UpdateOne(ctx, bson.M{"_id": docId}, update)
	if err != nil {
		return wrapErr(err, entity)
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound("user")
	}
	return nil
}

func (m *MongoProvider) UpdateUserFields(ctx context.Context, userId string, update model.UpdateSpec) error {
	set := bson.M{}
	for _, term := range update {
		spec, ok := model.LookupField(term.Field)
		if !ok || spec.Set == nil {
			return model.ErrValidation("field is not updatable: " + term.Field)
		}
		set[spec.BsonName] = term.Value
	}
	return m.userUpdate(ctx, userId, bson.M{"$set": set}, "user")
}

func (m *MongoProvider) SetPassword(ctx context.Context, userId string, hashedPassword string) error {
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"password": hashedPassword}}, "user")
}

func (m *MongoProvider) SetLoggedOutAt(ctx context.Context, userId string, at time.Time) error {
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"loggedOutAt": at}}, "user")
}

func (m *MongoProvider) DeleteUser(ctx context.Context, userId string) error {
	docId, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return model.ErrNotFound("user")
	}
	res, err := m.userCol.DeleteOne(ctx, bson.M{"_id": docId})
	if err != nil {
		return wrapErr(err, "user")
	}
	if res.DeletedCount == 0 {
		return model.ErrNotFound("user")
	}
	return nil
}

// --- authorization state ----------------------------------------------------

func (m *MongoProvider) SetAuthorizingClient(ctx context.Context, userId string, pending *model.AuthorizingClient) error {
	if pending == nil {
		return m.ClearAuthorizingClient(ctx, userId)
	}
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"authorizingClient": pending}}, "authorizingClient.code")
}

func (m *MongoProvider) ClearAuthorizingClient(ctx context.Context, userId string) error {
	return m.userUpdate(ctx, userId, bson.M{"$unset": bson.M{"authorizingClient": ""}}, "user")
}

func (m *MongoProvider) AppendAuthorizedClient(ctx context.Context, userId string, entry *model.AuthorizedClient) error {
	// remove-then-add keeps at most one entry per client id
	err := m.RemoveAuthorizedClient(ctx, userId, entry.ClientId)
	if err != nil {
		return err
	}
	return m.userUpdate(ctx, userId,
		bson.M{"$push": bson.M{"authorizedClients": entry}}, "authorizedClient.credential")
}

func (m *MongoProvider) RemoveAuthorizedClient(ctx context.Context, userId string, clientId string) error {
	return m.userUpdate(ctx, userId,
		bson.M{"$pull": bson.M{"authorizedClients": bson.M{"clientId": clientId}}}, "user")
}

func (m *MongoProvider) ReplaceAccessToken(ctx context.Context, userId string, clientId string, token model.AccessToken) error {
	docId, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return model.ErrNotFound("user")
	}
	res, err := m.userCol.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: docId}, {Key: "authorizedClients.clientId", Value: clientId}},
		bson.M{"$set": bson.M{"authorizedClients.$.token": token}})
	if err != nil {
		return wrapErr(err, "authorizedClient.token")
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound("authorizedClient")
	}
	return nil
}

func (m *MongoProvider) MergeClientGrants(ctx context.Context, userId string, clientId string, reader *model.Reader, updater *model.Updater, deleter *model.Deleter) error {
	clientMatch := bson.M{"author": string(model.AuthorClient), "authorId": clientId}
	err := m.userUpdate(ctx, userId, bson.M{"$pull": bson.M{
		"accessPolicy.readers":  clientMatch,
		"accessPolicy.updaters": clientMatch,
		"accessPolicy.deleters": clientMatch,
	}}, "user")
	if err != nil {
		return err
	}

	push := bson.M{}
	if reader != nil {
		push["accessPolicy.readers"] = reader
	}
	if updater != nil {
		push["accessPolicy.updaters"] = updater
	}
	if deleter != nil {
		push["accessPolicy.deleters"] = deleter
	}
	if len(push) == 0 {
		return nil
	}
	return m.userUpdate(ctx, userId, bson.M{"$push": push}, "user")
}

// --- grant sets -------------------------------------------------------------

func (m *MongoProvider) SetReaders(ctx context.Context, userId string, readers []model.Reader) error {
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"accessPolicy.readers": readers}}, "user")
}

func (m *MongoProvider) SetUpdaters(ctx context.Context, userId string, updaters []model.Updater) error {
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"accessPolicy.updaters": updaters}}, "user")
}

func (m *MongoProvider) SetDeleters(ctx context.Context, userId string, deleters []model.Deleter) error {
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"accessPolicy.deleters": deleters}}, "user")
}

func (m *MongoProvider) SetAllReaders(ctx context.Context, userId string, allReaders *model.AllReaders) error {
	if allReaders == nil {
		return m.userUpdate(ctx, userId, bson.M{"$unset": bson.M{"accessPolicy.allReaders": ""}}, "user")
	}
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"accessPolicy.allReaders": allReaders}}, "user")
}

func (m *MongoProvider) SetAllUpdaters(ctx context.Context, userId string, allUpdaters *model.AllUpdaters) error {
	if allUpdaters == nil {
		return m.userUpdate(ctx, userId, bson.M{"$unset": bson.M{"accessPolicy.allUpdaters": ""}}, "user")
	}
	return m.userUpdate(ctx, userId, bson.M{"$set": bson.M{"accessPolicy.allUpdaters": allUpdaters}}, "user")
}

// --- transactions -----------------------------------------------------------

// WithTransaction runs fn inside one Mongo session transaction. fn receives
// the session context and must pass it to every provider call it makes; an
// error from fn aborts the transaction before it is surfaced.
func (m *MongoProvider) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return model.ErrStorageFailure(err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
