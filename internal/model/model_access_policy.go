package model

// AuthorKind discriminates who authored a grant: a user acting directly or a
// client acting under a delegated scope.
type AuthorKind string

const (
	AuthorUser   AuthorKind = "USER"
	AuthorClient AuthorKind = "CLIENT"
)

// Reader grants a named actor read access to the listed fields.
type Reader struct {
	Author      AuthorKind `bson:"author" json:"author"`
	AuthorId    string     `bson:"authorId" json:"authorId"`
	IsPermitted bool       `bson:"isPermitted" json:"isPermitted"`
	Fields      []Field    `bson:"fields" json:"fields"`
}

// Updater grants a named actor write access to the listed fields.
type Updater struct {
	Author      AuthorKind `bson:"author" json:"author"`
	AuthorId    string     `bson:"authorId" json:"authorId"`
	IsPermitted bool       `bson:"isPermitted" json:"isPermitted"`
	Fields      []Field    `bson:"fields" json:"fields"`
}

// Deleter grants a named actor the right to delete the subject. Deletion is
// all or nothing; there is no field scoping and no wildcard form.
type Deleter struct {
	Author      AuthorKind `bson:"author" json:"author"`
	AuthorId    string     `bson:"authorId" json:"authorId"`
	IsPermitted bool       `bson:"isPermitted" json:"isPermitted"`
}

// AllReaders is the wildcard read grant matching any actor. At most one per
// subject.
type AllReaders struct {
	ArePermitted bool    `bson:"arePermitted" json:"arePermitted"`
	Fields       []Field `bson:"fields" json:"fields"`
}

// AllUpdaters is the wildcard write grant matching any actor. At most one per
// subject.
type AllUpdaters struct {
	ArePermitted bool    `bson:"arePermitted" json:"arePermitted"`
	Fields       []Field `bson:"fields" json:"fields"`
}

// AccessPolicy holds every grant attached to one user record.
type AccessPolicy struct {
	Readers     []Reader     `bson:"readers" json:"readers"`
	AllReaders  *AllReaders  `bson:"allReaders,omitempty" json:"allReaders,omitempty"`
	Updaters    []Updater    `bson:"updaters" json:"updaters"`
	AllUpdaters *AllUpdaters `bson:"allUpdaters,omitempty" json:"allUpdaters,omitempty"`
	Deleters    []Deleter    `bson:"deleters" json:"deleters"`
}

// DefaultAccessPolicy builds the self-grants every user starts with: the user
// is its own reader and updater over all non-hidden fields, and its own
// deleter.
func DefaultAccessPolicy(selfId string) AccessPolicy {
	fields := AllGrantableFields()
	return AccessPolicy{
		Readers: []Reader{
			{Author: AuthorUser, AuthorId: selfId, IsPermitted: true, Fields: fields},
		},
		Updaters: []Updater{
			{Author: AuthorUser, AuthorId: selfId, IsPermitted: true, Fields: fields},
		},
		Deleters: []Deleter{
			{Author: AuthorUser, AuthorId: selfId, IsPermitted: true},
		},
	}
}
