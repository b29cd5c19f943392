package mongo_provider

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JwkKeyRec is stored in MongoProvider.keyCol and holds the session token
// signing key pair for an issuer.
type JwkKeyRec struct {
	Id          primitive.ObjectID `json:"id" bson:"_id"`
	Iss         string             `json:"iss,omitempty" bson:"iss"`
	KeyBytes    []byte             `json:"keyBytes" bson:"key_bytes"`
	PubKeyBytes []byte             `json:"pubJwks" bson:"pub_jwks"`
}
