package model

// TokenPrivileges is the capability bundle negotiated during authorization.
// After a successful code exchange it becomes the template for the grants
// written under the client's author identity.
type TokenPrivileges struct {
	Privileges    []Privilege `bson:"privileges" json:"privileges"`
	ReadsFields   []Field     `bson:"readsFields" json:"readsFields"`
	UpdatesFields []Field     `bson:"updatesFields" json:"updatesFields"`
	DeletesUser   bool        `bson:"deletesUser" json:"deletesUser"`
}

// Validate checks the scope against the privilege catalog and the field
// registry. Hidden fields may not be requested.
func (tp *TokenPrivileges) Validate() error {
	if err := ValidatePrivileges(tp.Privileges); err != nil {
		return err
	}
	for _, f := range append(append([]Field{}, tp.ReadsFields...), tp.UpdatesFields...) {
		if IsHiddenField(f.Name) {
			return ErrValidation("field is not grantable: " + f.Name)
		}
		if _, ok := LookupField(f.Name); !ok && f.Name != FieldId {
			return ErrValidation("unknown field: " + f.Name)
		}
	}
	return nil
}
