package license

import (
	"errors"
	"fmt"
)

// Kind groups domain errors by how callers should react to them
type Kind int

const (
	// KindTransient is anything that is not a domain error, usually the store
	KindTransient Kind = iota
	KindValidation
	KindNotFound
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBusiness:
		return "business"
	default:
		return "transient"
	}
}

// Error is a typed domain failure
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any domain error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidGame    = &Error{Kind: KindValidation, Code: "INVALID_GAME", Message: "Unsupported game"}
	ErrInvalidRequest = &Error{Kind: KindValidation, Code: "INVALID_REQUEST", Message: "Invalid request"}

	ErrKeyNotFound           = &Error{Kind: KindNotFound, Code: "KEY_NOT_FOUND", Message: "License key not found"}
	ErrResellerNotFound      = &Error{Kind: KindNotFound, Code: "RESELLER_NOT_FOUND", Message: "Reseller not found"}
	ErrDeviceNotFound        = &Error{Kind: KindNotFound, Code: "DEVICE_NOT_FOUND", Message: "Device not found"}
	ErrUpdateNotFound        = &Error{Kind: KindNotFound, Code: "UPDATE_NOT_FOUND", Message: "Update not found"}
	ErrReferralTokenNotFound = &Error{Kind: KindNotFound, Code: "REFERRAL_TOKEN_NOT_FOUND", Message: "Referral token not found"}

	ErrInsufficientCredits = &Error{Kind: KindBusiness, Code: "INSUFFICIENT_CREDITS", Message: "Insufficient credits"}
	ErrKeyAlreadyExists    = &Error{Kind: KindBusiness, Code: "KEY_ALREADY_EXISTS", Message: "License key already exists"}
	ErrDuplicateDevice     = &Error{Kind: KindBusiness, Code: "DUPLICATE_DEVICE", Message: "Device already registered for this key"}
	ErrReferralTokenUsed   = &Error{Kind: KindBusiness, Code: "REFERRAL_TOKEN_USED", Message: "Referral token has already been used"}
	ErrUsernameTaken       = &Error{Kind: KindBusiness, Code: "USERNAME_TAKEN", Message: "Username is already taken"}
	ErrResellerInactive    = &Error{Kind: KindBusiness, Code: "RESELLER_INACTIVE", Message: "Reseller account is disabled"}
)

// Invalid returns a validation error carrying msg. It matches ErrInvalidRequest.
func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Code: ErrInvalidRequest.Code, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// PartialIssuanceError reports keys that were created and debited before a
// store failure interrupted a batch.
type PartialIssuanceError struct {
	Result *IssueResult
	Err    error
}

func (e *PartialIssuanceError) Error() string {
	return fmt.Sprintf("issued %d keys before failure: %v", len(e.Result.Keys), e.Err)
}

func (e *PartialIssuanceError) Unwrap() error {
	return e.Err
}
