package ledger

import "errors"

// Ledger errors
var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrTokenExists           = errors.New("token already deployed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidSender         = errors.New("transfer from the zero address")
	ErrInvalidReceiver       = errors.New("transfer to the zero address")
	ErrInvalidApprover       = errors.New("approve from the zero address")
	ErrInvalidSpender        = errors.New("approve to the zero address")
	ErrNilAmount             = errors.New("amount is required")
	ErrClosed                = errors.New("ledger closed")
)

var ruleViolations = []error{
	ErrUnknownToken,
	ErrTokenExists,
	ErrInsufficientBalance,
	ErrInsufficientAllowance,
	ErrInvalidSender,
	ErrInvalidReceiver,
	ErrInvalidApprover,
	ErrInvalidSpender,
	ErrNilAmount,
}

// IsRuleViolation reports whether err is a token rule rejection rather than a
// storage or lifecycle failure
func IsRuleViolation(err error) bool {
	for _, target := range ruleViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
