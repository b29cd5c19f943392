package model

// Term is one equality predicate of the caller-supplied structured filter or
// update expression. The expression grammar beyond field enumeration is an
// external concern; the core only needs to see which fields are named.
type Term struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// Filter is the structured retrieval predicate for bulk operations.
type Filter []Term

// FieldNames lists every field the filter touches, for grant intersection.
func (f Filter) FieldNames() []string {
	names := make([]string, len(f))
	for i, t := range f {
		names[i] = t.Field
	}
	return names
}

// UpdateSpec is the structured field-set expression for bulk updates.
type UpdateSpec []Term

func (u UpdateSpec) FieldNames() []string {
	names := make([]string, len(u))
	for i, t := range u {
		names[i] = t.Field
	}
	return names
}

// Page bounds a bulk retrieval.
type Page struct {
	Skip  int64 `json:"skip"`
	Limit int64 `json:"limit"`
}

// CMaxPageSize caps RetrieveMany result pages.
const CMaxPageSize = 1000

// Bound clamps the page to sane values.
func (p Page) Bound() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 || p.Limit > CMaxPageSize {
		p.Limit = CMaxPageSize
	}
	return p
}
