// Package policyEval decides, for any actor and any field, whether a read,
// write, or delete of a subject is permitted. All functions are pure; the
// caller supplies the subject's AccessPolicy and receives a verdict.
package policyEval

import (
	"github.com/i2-open/i2goAccess/internal/model"
)

// permittedNames flattens a grant field list into the set of permitted,
// non-hidden field names. Comparison is case sensitive exact match.
func permittedNames(fields []model.Field) map[string]bool {
	names := map[string]bool{}
	for _, f := range fields {
		if f.IsPermitted && !model.IsHiddenField(f.Name) {
			names[f.Name] = true
		}
	}
	return names
}

func findReader(policy *model.AccessPolicy, author model.AuthorKind, authorId string) *model.Reader {
	for i := range policy.Readers {
		r := &policy.Readers[i]
		if r.Author == author && r.AuthorId == authorId {
			return r
		}
	}
	return nil
}

func findUpdater(policy *model.AccessPolicy, author model.AuthorKind, authorId string) *model.Updater {
	for i := range policy.Updaters {
		u := &policy.Updaters[i]
		if u.Author == author && u.AuthorId == authorId {
			return u
		}
	}
	return nil
}

// HasReadGrant reports whether any read grant applies to the actor at all.
// Callers use this to map "no access" to a not-found result rather than
// serving the bare _id projection.
func HasReadGrant(policy *model.AccessPolicy, author model.AuthorKind, authorId string) bool {
	if policy.AllReaders != nil && policy.AllReaders.ArePermitted {
		return true
	}
	r := findReader(policy, author, authorId)
	return r != nil && r.IsPermitted
}

// ReadableFields computes the actor's effective readable field set: the
// union of the wildcard grant and the matching named grant, minus hidden
// fields, plus _id which every grant implies. Evaluation is an inclusive
// union, not first match: when only one of the two grants is permitted, the
// permitted one wins.
func ReadableFields(policy *model.AccessPolicy, author model.AuthorKind, authorId string) []model.Field {
	names := map[string]bool{}
	if policy.AllReaders != nil && policy.AllReaders.ArePermitted {
		for name := range permittedNames(policy.AllReaders.Fields) {
			names[name] = true
		}
	}
	if r := findReader(policy, author, authorId); r != nil && r.IsPermitted {
		for name := range permittedNames(r.Fields) {
			names[name] = true
		}
	}

	fields := []model.Field{{Name: model.FieldId, IsPermitted: true}}
	// Walk the registry so the result order is stable.
	for _, name := range model.KnownFieldNames() {
		if name != model.FieldId && names[name] {
			fields = append(fields, model.Field{Name: name, IsPermitted: true})
		}
	}
	return fields
}

// coversQuery checks one grant field set against the query requirement:
// every filtered field must be readable (a filter predicate on a field the
// actor cannot read would leak data through match/no-match probing), and
// when output columns are requested at least one of them must be readable.
func coversQuery(names map[string]bool, requiredFields []string, optionalFields []string) bool {
	for _, f := range requiredFields {
		if f == model.FieldId {
			continue
		}
		if !names[f] {
			return false
		}
	}
	if len(optionalFields) > 0 {
		for _, f := range optionalFields {
			if f == model.FieldId || names[f] {
				return true
			}
		}
		return false
	}
	return true
}

// AuthorizeQuery reports whether the actor may run a retrieval whose filter
// names requiredFields, optionally scoped to the optionalFields output
// columns. The named grant or the wildcard grant satisfying the requirement
// on its own is sufficient.
func AuthorizeQuery(policy *model.AccessPolicy, author model.AuthorKind, authorId string, requiredFields []string, optionalFields []string) bool {
	if policy.AllReaders != nil && policy.AllReaders.ArePermitted {
		if coversQuery(permittedNames(policy.AllReaders.Fields), requiredFields, optionalFields) {
			return true
		}
	}
	if r := findReader(policy, author, authorId); r != nil && r.IsPermitted {
		if coversQuery(permittedNames(r.Fields), requiredFields, optionalFields) {
			return true
		}
	}
	return false
}

// AuthorizeWrite reports whether the proposed write-field set is fully
// covered by the actor's named updater grant or by the wildcard grant. A
// request naming zero fields, or any field outside the covering grant, is
// rejected whole; there are no partial writes.
func AuthorizeWrite(policy *model.AccessPolicy, author model.AuthorKind, authorId string, writeFields []string) bool {
	if len(writeFields) == 0 {
		return false
	}
	if policy.AllUpdaters != nil && policy.AllUpdaters.ArePermitted {
		if coversWrite(permittedNames(policy.AllUpdaters.Fields), writeFields) {
			return true
		}
	}
	if u := findUpdater(policy, author, authorId); u != nil && u.IsPermitted {
		if coversWrite(permittedNames(u.Fields), writeFields) {
			return true
		}
	}
	return false
}

func coversWrite(names map[string]bool, writeFields []string) bool {
	for _, f := range writeFields {
		if !names[f] {
			return false
		}
	}
	return true
}

// AuthorizeDelete reports whether a permitted Deleter entry exists for the
// actor. Deletion has no wildcard form.
func AuthorizeDelete(policy *model.AccessPolicy, author model.AuthorKind, authorId string) bool {
	for _, d := range policy.Deleters {
		if d.Author == author && d.AuthorId == authorId {
			return d.IsPermitted
		}
	}
	return false
}

// ProtectedFields returns the fields that the generic multi-record patch may
// never touch, even under a full AllUpdaters grant.
func ProtectedFields() []model.Field {
	return model.GetProtectedFields()
}

// IntersectsProtected reports whether any of the named fields is protected.
func IntersectsProtected(fieldNames []string) bool {
	for _, name := range fieldNames {
		for _, p := range ProtectedFields() {
			if name == p.Name {
				return true
			}
		}
	}
	return false
}
