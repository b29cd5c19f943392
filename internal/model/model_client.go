package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Client describes a registered third-party (or first-party) application.
// Secret holds only the hash of the client secret.
type Client struct {
	Id              primitive.ObjectID `bson:"_id" json:"client_id"`
	Secret          string             `bson:"secret" json:"-"`
	RedirectUrl     string             `bson:"redirectUrl" json:"redirectUrl"`
	IsFirstParty    bool               `bson:"isFirstParty" json:"isFirstParty"`
	ExposedCount    int32              `bson:"exposedCount" json:"exposedCount"`
	TokensExposedAt *time.Time         `bson:"tokensExposedAt,omitempty" json:"tokensExposedAt,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}

// IsBanned reports whether the exposure fuse has blown. A banned client is
// refused Authorize, Exchange and Refresh until manual intervention.
func (c *Client) IsBanned() bool {
	return c.ExposedCount > 2
}

// ClientCreated is the registration response carrying the one-time plaintext
// secret.
type ClientCreated struct {
	ClientId string `json:"client_id"`
	Secret   string `json:"secret"`
}

// TokenPair is the exchange response carrying the one-time plaintext
// credentials.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}
