package multisend

import (
	"errors"

	"multisend/internal/ledger"
)

// Distribution errors. ErrInsufficientAllowance is the ledger's own error so
// errors.Is works on whatever the ledger returned.
var (
	ErrInvalidTokenAddress   = errors.New("invalid token address")
	ErrZeroAmount            = errors.New("zero amount")
	ErrInvalidRecipientCount = errors.New("invalid recipient count")
	ErrInsufficientAllowance = ledger.ErrInsufficientAllowance
)

// Revert reasons reported to callers
const (
	ReasonInvalidTokenAddress   = "InvalidTokenAddress"
	ReasonZeroAmount            = "ZeroAmount"
	ReasonInvalidRecipientCount = "InvalidRecipientCount"
	ReasonInsufficientAllowance = "InsufficientAllowance"
)

// RevertReason maps a distribution failure to a short reason. Errors without
// a dedicated reason are reported with their message.
func RevertReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTokenAddress):
		return ReasonInvalidTokenAddress
	case errors.Is(err, ErrZeroAmount):
		return ReasonZeroAmount
	case errors.Is(err, ErrInvalidRecipientCount):
		return ReasonInvalidRecipientCount
	case errors.Is(err, ErrInsufficientAllowance):
		return ReasonInsufficientAllowance
	default:
		return err.Error()
	}
}
