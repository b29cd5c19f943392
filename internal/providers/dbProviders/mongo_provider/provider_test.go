package mongo_provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Connected provider behavior is covered against the in-memory provider; the
// filter translation helpers are pure and tested here.

func TestObjectIdFromFilter(t *testing.T) {
	id := primitive.NewObjectID()

	docId, ok := objectIdFromFilter(id.Hex())
	assert.True(t, ok, "hex string converts")
	assert.Equal(t, id, docId, "round trip preserves the id")

	_, ok = objectIdFromFilter("not-a-hex-id")
	assert.False(t, ok, "malformed hex rejected")

	_, ok = objectIdFromFilter(12345)
	assert.False(t, ok, "non-string value rejected")
}
