package dbProviders

import (
	"strings"

	"github.com/i2-open/i2goAccess/internal/providers/dbProviders/mock_provider"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders/mongo_provider"
)

// OpenProvider detects the database URL and returns the appropriate provider
// implementation. A "mockdb:" URL selects the in-memory provider, anything
// else the MongoDB provider.
func OpenProvider(mongoUrl string, dbName string) (AccessProviderInterface, error) {
	if strings.HasPrefix(mongoUrl, "mockdb:") {
		return mock_provider.Open(mongoUrl, dbName)
	}
	return mongo_provider.Open(mongoUrl, dbName)
}
