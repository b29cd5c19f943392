package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AccessToken is the hashed access credential held inside an AuthorizedClient
// entry. The plaintext exists only transiently in the response path.
type AccessToken struct {
	Value          string    `bson:"value" json:"value"`
	ExpirationDate time.Time `bson:"expirationDate" json:"expirationDate"`
	IsRevoked      bool      `bson:"isRevoked" json:"isRevoked"`
}

// RefreshToken is the hashed refresh credential plus the scope it carries.
type RefreshToken struct {
	Value           string          `bson:"value" json:"value"`
	TokenPrivileges TokenPrivileges `bson:"tokenPrivileges" json:"tokenPrivileges"`
	ExpirationDate  time.Time       `bson:"expirationDate" json:"expirationDate"`
}

// AuthorizedClient records a completed authorization: one entry per distinct
// client id. Refresh replaces the Token sub-value in place.
type AuthorizedClient struct {
	ClientId     string       `bson:"clientId" json:"clientId"`
	RefreshToken RefreshToken `bson:"refreshToken" json:"refreshToken"`
	Token        AccessToken  `bson:"token" json:"token"`
}

// AuthorizingClient is the single pending authorization slot. It is created
// by Authorize, consumed by a successful exchange, or silently superseded by
// a later Authorize call.
type AuthorizingClient struct {
	ClientId            string          `bson:"clientId" json:"clientId"`
	TokenPrivileges     TokenPrivileges `bson:"tokenPrivileges" json:"tokenPrivileges"`
	Code                string          `bson:"code" json:"code"`
	CodeExpiresAt       time.Time       `bson:"codeExpiresAt" json:"codeExpiresAt"`
	CodeChallenge       string          `bson:"codeChallenge" json:"codeChallenge"`
	CodeChallengeMethod string          `bson:"codeChallengeMethod" json:"codeChallengeMethod"`
}

// User is the subject record every data access is evaluated against.
type User struct {
	Id                   primitive.ObjectID `bson:"_id" json:"id"`
	Username             string             `bson:"username" json:"username"`
	Email                string             `bson:"email" json:"email"`
	PhoneNumber          string             `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	FirstName            string             `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName             string             `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Password             string             `bson:"password" json:"-"`
	VerificationSecret   string             `bson:"verificationSecret,omitempty" json:"-"`
	VerificationSecretAt *time.Time         `bson:"verificationSecretAt,omitempty" json:"-"`
	LoggedOutAt          *time.Time         `bson:"loggedOutAt,omitempty" json:"-"`
	Privileges           []Privilege        `bson:"privileges" json:"privileges"`
	AccessPolicy         AccessPolicy       `bson:"accessPolicy" json:"accessPolicy"`
	AuthorizedClients    []AuthorizedClient `bson:"authorizedClients" json:"authorizedClients"`
	AuthorizingClient    *AuthorizingClient `bson:"authorizingClient,omitempty" json:"-"`
	CreatedAt            time.Time          `bson:"createdAt" json:"createdAt"`
}

// GetAuthorizedClient returns the entry for the given client id, if present.
func (u *User) GetAuthorizedClient(clientId string) *AuthorizedClient {
	for i := range u.AuthorizedClients {
		if u.AuthorizedClients[i].ClientId == clientId {
			return &u.AuthorizedClients[i]
		}
	}
	return nil
}

// Projection is a sparse view of a user keyed by field name. A field is
// present exactly when it was readable; presence is a data fact, not a side
// effect of partial reads.
type Projection map[string]interface{}

// Project builds the sparse view of the user for the permitted field list.
// Unregistered names are skipped, which keeps hidden fields out even if a
// caller smuggles one into the field list.
func (u *User) Project(fields []Field) Projection {
	view := Projection{}
	for _, f := range fields {
		if !f.IsPermitted {
			continue
		}
		if spec, ok := LookupField(f.Name); ok {
			view[spec.Name] = spec.Get(u)
		}
	}
	return view
}
