package model

// Privilege is a global capability flag carried on a user record.
type Privilege struct {
	Name  string `bson:"name" json:"name"`
	Value bool   `bson:"value" json:"value"`
}

const (
	PrivilegeRegisterClient = "registerClient"
	PrivilegeExposeClient   = "exposeClient"
	PrivilegeReadUsers      = "readUsers"
	PrivilegeUpdateUsers    = "updateUsers"
	PrivilegeDeleteUsers    = "deleteUsers"
)

// GetPrivilegeCatalog returns the fixed set of privilege names. A privilege
// set is valid only if every name is drawn from this catalog.
func GetPrivilegeCatalog() []string {
	return []string{
		PrivilegeRegisterClient,
		PrivilegeExposeClient,
		PrivilegeReadUsers,
		PrivilegeUpdateUsers,
		PrivilegeDeleteUsers,
	}
}

// ValidatePrivileges checks every privilege name against the catalog.
func ValidatePrivileges(privileges []Privilege) error {
	catalog := GetPrivilegeCatalog()
	for _, p := range privileges {
		known := false
		for _, name := range catalog {
			if p.Name == name {
				known = true
				break
			}
		}
		if !known {
			return ErrValidation("unknown privilege: " + p.Name)
		}
	}
	return nil
}

// HasPrivilege reports whether the named privilege is present and granted.
func HasPrivilege(privileges []Privilege, name string) bool {
	for _, p := range privileges {
		if p.Name == name {
			return p.Value
		}
	}
	return false
}
