package model

import "errors"

// Error kinds raised by the core. The HTTP binding maps these to transport
// status codes; the core only guarantees the kind and the entity discriminator.
const (
	KindNotFound          = "notFound"
	KindForbidden         = "forbidden"
	KindExpired           = "expired"
	KindInvalidCredential = "invalidCredential"
	KindBanned            = "banned"
	KindDuplication       = "duplication"
	KindStorageFailure    = "storageFailure"
	KindValidation        = "validation"
)

// AccessError is the typed failure surfaced by every core operation. Entity
// names what the kind applies to (e.g. "client", "user", "refreshToken") so a
// caller can report which lookup failed without the core leaking more.
type AccessError struct {
	Kind   string
	Entity string
	Msg    string
}

func (e *AccessError) Error() string {
	msg := e.Kind
	if e.Entity != "" {
		msg = msg + " [" + e.Entity + "]"
	}
	if e.Msg != "" {
		msg = msg + ": " + e.Msg
	}
	return msg
}

func ErrNotFound(entity string) error {
	return &AccessError{Kind: KindNotFound, Entity: entity}
}

func ErrForbidden(msg string) error {
	return &AccessError{Kind: KindForbidden, Msg: msg}
}

func ErrExpired(entity string) error {
	return &AccessError{Kind: KindExpired, Entity: entity}
}

func ErrInvalidCredential(entity string) error {
	return &AccessError{Kind: KindInvalidCredential, Entity: entity}
}

func ErrBanned(clientId string) error {
	return &AccessError{Kind: KindBanned, Entity: "client", Msg: clientId}
}

func ErrDuplication(entity string) error {
	return &AccessError{Kind: KindDuplication, Entity: entity}
}

func ErrStorageFailure(err error) error {
	if err == nil {
		return nil
	}
	return &AccessError{Kind: KindStorageFailure, Msg: err.Error()}
}

func ErrValidation(msg string) error {
	return &AccessError{Kind: KindValidation, Msg: msg}
}

// IsKind reports whether err (or anything it wraps) is an AccessError of the
// given kind.
func IsKind(err error, kind string) bool {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
