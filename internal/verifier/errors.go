package verifier

import (
	"errors"
	"fmt"

	dErrors "healthcred/pkg/domain-errors"
)

// FailureCategory is the normalized taxonomy for verification failures.
type FailureCategory string

const (
	// FailureMalformed means the item could not be decoded.
	FailureMalformed FailureCategory = "malformed"
	// FailureSignature means the signature or an integrity digest did not check out.
	FailureSignature FailureCategory = "signature"
	// FailureKeyUnavailable means the verification key could not be obtained.
	FailureKeyUnavailable FailureCategory = "key_unavailable"
	// FailureUnsupported means no plugin claimed the item.
	FailureUnsupported FailureCategory = "unsupported"
)

// Error wraps a plugin failure with its category.
type Error struct {
	Category   FailureCategory
	Plugin     string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Plugin, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Plugin, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a categorized plugin error.
func NewError(category FailureCategory, plugin, message string, underlying error) *Error {
	return &Error{Category: category, Plugin: plugin, Message: message, Underlying: underlying}
}

// CategoryOf extracts the failure category, defaulting to FailureSignature.
func CategoryOf(err error) FailureCategory {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Category
	}
	return FailureSignature
}

// ErrUnsupported is reported when no plugin claims an item.
var ErrUnsupported = dErrors.New(dErrors.CodeVerificationFailed, "unsupported credential")
