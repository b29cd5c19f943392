package dbProviders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/i2-open/i2goAccess/internal/authUtil"
	"github.com/i2-open/i2goAccess/internal/model"
)

// AccessProviderInterface is the repository contract consumed by the core.
// Implementations must enforce uniqueness constraints on: client secret,
// client redirect URL, the pending authorization code, and each authorized
// client's refresh-token and token value. Constraint violations surface as
// model.KindDuplication; every other storage error as model.KindStorageFailure.
// The provider never makes authorization decisions.
type AccessProviderInterface interface {
	Name() string
	Check() error
	Close() error
	ResetDb(initialize bool) error

	GetAuthIssuer() *authUtil.AuthIssuer
	GetPublicJWKS(issuer string) *json.RawMessage
	GetAuthValidatorPubKey() *keyfunc.JWKS

	InsertClient(ctx context.Context, client *model.Client) error
	GetClient(ctx context.Context, clientId string) (*model.Client, error)
	GetClientByRedirect(ctx context.Context, clientId string, redirectUrl string) (*model.Client, error)
	RotateClientSecret(ctx context.Context, clientId string, hashedSecret string, exposedAt time.Time) error
	ListClients(ctx context.Context) ([]model.Client, error)

	InsertUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, userId string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByAuthorizationCode(ctx context.Context, hashedCode string) (*model.User, error)
	GetUserByRefreshToken(ctx context.Context, hashedValue string) (*model.User, error)
	GetUserByAccessToken(ctx context.Context, hashedValue string) (*model.User, error)
	FindReadableUsers(ctx context.Context, filter model.Filter, author model.AuthorKind, authorId string, page model.Page) ([]model.User, error)
	UpdateUserFields(ctx context.Context, userId string, update model.UpdateSpec) error
	SetPassword(ctx context.Context, userId string, hashedPassword string) error
	SetLoggedOutAt(ctx context.Context, userId string, at time.Time) error
	DeleteUser(ctx context.Context, userId string) error

	SetAuthorizingClient(ctx context.Context, userId string, pending *model.AuthorizingClient) error
	ClearAuthorizingClient(ctx context.Context, userId string) error
	AppendAuthorizedClient(ctx context.Context, userId string, entry *model.AuthorizedClient) error
	RemoveAuthorizedClient(ctx context.Context, userId string, clientId string) error
	ReplaceAccessToken(ctx context.Context, userId string, clientId string, token model.AccessToken) error
	MergeClientGrants(ctx context.Context, userId string, clientId string, reader *model.Reader, updater *model.Updater, deleter *model.Deleter) error

	SetReaders(ctx context.Context, userId string, readers []model.Reader) error
	SetUpdaters(ctx context.Context, userId string, updaters []model.Updater) error
	SetDeleters(ctx context.Context, userId string, deleters []model.Deleter) error
	SetAllReaders(ctx context.Context, userId string, allReaders *model.AllReaders) error
	SetAllUpdaters(ctx context.Context, userId string, allUpdaters *model.AllUpdaters) error

	// WithTransaction runs fn as one unit of work. Any error returned by fn
	// aborts the transaction before the error is surfaced.
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
