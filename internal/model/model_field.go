package model

// Field names a user data attribute and whether a grant includes it.
type Field struct {
	Name        string `bson:"name" json:"name"`
	IsPermitted bool   `bson:"isPermitted" json:"isPermitted"`
}

// FieldId always denotes the subject's own identifier and is readable by any
// actor holding any grant on the subject.
const FieldId = "_id"

const (
	FieldUsername          = "username"
	FieldEmail             = "email"
	FieldPhoneNumber       = "phoneNumber"
	FieldFirstName         = "firstName"
	FieldLastName          = "lastName"
	FieldPrivileges        = "privileges"
	FieldAuthorizedClients = "authorizedClients"
	FieldAccessPolicy      = "accessPolicy"
)

// Hidden field names. These are subtracted from every readable set
// unconditionally, even when a grant explicitly names them.
const (
	FieldPassword             = "password"
	FieldVerificationSecret   = "verificationSecret"
	FieldVerificationSecretAt = "verificationSecretAt"
	FieldAuthorizingClient    = "authorizingClient"
	FieldLoggedOutAt          = "loggedOutAt"
)

// FieldSpec is one row of the static field registry: the externally visible
// field name, its storage key, the accessor used for projection and, for
// updatable fields, the mutator used by field-set updates. Set is nil for
// fields that no update expression may touch.
type FieldSpec struct {
	Name     string
	BsonName string
	Get      func(u *User) interface{}
	Set      func(u *User, v interface{}) error
}

func setString(assign func(u *User, s string)) func(u *User, v interface{}) error {
	return func(u *User, v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return ErrValidation("expected string value")
		}
		assign(u, s)
		return nil
	}
}

// fieldRegistry is the enumerable read/write surface of a user record.
// Hidden fields are deliberately absent: a name not registered here can never
// be projected or named in a filter or update expression.
var fieldRegistry = []FieldSpec{
	{FieldId, "_id", func(u *User) interface{} { return u.Id.Hex() }, nil},
	{FieldUsername, "username", func(u *User) interface{} { return u.Username },
		setString(func(u *User, s string) { u.Username = s })},
	{FieldEmail, "email", func(u *User) interface{} { return u.Email },
		setString(func(u *User, s string) { u.Email = s })},
	{FieldPhoneNumber, "phoneNumber", func(u *User) interface{} { return u.PhoneNumber },
		setString(func(u *User, s string) { u.PhoneNumber = s })},
	{FieldFirstName, "firstName", func(u *User) interface{} { return u.FirstName },
		setString(func(u *User, s string) { u.FirstName = s })},
	{FieldLastName, "lastName", func(u *User) interface{} { return u.LastName },
		setString(func(u *User, s string) { u.LastName = s })},
	{FieldPrivileges, "privileges", func(u *User) interface{} { return u.Privileges },
		func(u *User, v interface{}) error {
			privileges, ok := v.([]Privilege)
			if !ok {
				return ErrValidation("expected privilege list")
			}
			if err := ValidatePrivileges(privileges); err != nil {
				return err
			}
			u.Privileges = privileges
			return nil
		}},
	{FieldAuthorizedClients, "authorizedClients", func(u *User) interface{} { return u.AuthorizedClients }, nil},
	{FieldAccessPolicy, "accessPolicy", func(u *User) interface{} { return u.AccessPolicy }, nil},
}

// LookupField returns the registry entry for an external field name.
func LookupField(name string) (FieldSpec, bool) {
	for _, spec := range fieldRegistry {
		if spec.Name == name {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// KnownFieldNames returns every registered external field name.
func KnownFieldNames() []string {
	names := make([]string, len(fieldRegistry))
	for i, spec := range fieldRegistry {
		names[i] = spec.Name
	}
	return names
}

// IsHiddenField reports whether the name belongs to the fixed hidden set.
func IsHiddenField(name string) bool {
	switch name {
	case FieldPassword, FieldVerificationSecret, FieldVerificationSecretAt,
		FieldAuthorizingClient, FieldLoggedOutAt:
		return true
	}
	return false
}

// GetProtectedFields returns the fields that bulk update paths must reject
// regardless of grants. Identity and security bearing fields only change
// through their dedicated single-subject operations.
func GetProtectedFields() []Field {
	return []Field{
		{Name: FieldUsername, IsPermitted: false},
		{Name: FieldPhoneNumber, IsPermitted: false},
		{Name: FieldEmail, IsPermitted: false},
		{Name: FieldAuthorizedClients, IsPermitted: false},
		{Name: FieldAccessPolicy, IsPermitted: false},
	}
}

// AllGrantableFields returns a permitted Field entry for every registered
// field except _id, which is implicit in every grant.
func AllGrantableFields() []Field {
	var fields []Field
	for _, spec := range fieldRegistry {
		if spec.Name == FieldId {
			continue
		}
		fields = append(fields, Field{Name: spec.Name, IsPermitted: true})
	}
	return fields
}
