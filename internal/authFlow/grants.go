package authFlow

import (
	"github.com/i2-open/i2goAccess/internal/model"
)

// CompileGrants turns the scope negotiated during authorization into the
// grant entries written under the client's author identity. A nil return for
// a grant kind means the scope did not request it and any prior grant from
// the same client is simply dropped by the merge.
func CompileGrants(scope model.TokenPrivileges, clientId string) (*model.Reader, *model.Updater, *model.Deleter) {
	var reader *model.Reader
	if len(scope.ReadsFields) > 0 {
		reader = &model.Reader{
			Author:      model.AuthorClient,
			AuthorId:    clientId,
			IsPermitted: true,
			Fields:      scope.ReadsFields,
		}
	}

	var updater *model.Updater
	if len(scope.UpdatesFields) > 0 {
		updater = &model.Updater{
			Author:      model.AuthorClient,
			AuthorId:    clientId,
			IsPermitted: true,
			Fields:      scope.UpdatesFields,
		}
	}

	var deleter *model.Deleter
	if scope.DeletesUser {
		deleter = &model.Deleter{
			Author:      model.AuthorClient,
			AuthorId:    clientId,
			IsPermitted: true,
		}
	}
	return reader, updater, deleter
}
