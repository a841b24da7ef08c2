package transfer

import "fmt"

// ErrorCode is a domain error code returned by the engine.
type ErrorCode string

const (
	// ErrorInsufficientFunds indicates the source balance cannot cover the amount.
	ErrorInsufficientFunds ErrorCode = "0001"
	// ErrorInvalidAmount indicates an amount that is zero or negative.
	ErrorInvalidAmount ErrorCode = "0002"
	// ErrorBatchTooLarge indicates a batch with more than MaxBatchSize recipients.
	ErrorBatchTooLarge ErrorCode = "0003"
	// ErrorUnauthorized indicates the caller may not debit the source.
	ErrorUnauthorized ErrorCode = "0004"
	// ErrorInvalidAccount indicates an empty source or destination.
	ErrorInvalidAccount ErrorCode = "0005"
	// ErrorBalanceOverflow indicates a credit would exceed the int64 range.
	ErrorBalanceOverflow ErrorCode = "0097"
)

// DomainError represents a rejected transfer or batch.
type DomainError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Error returns the formatted domain error string.
func (e DomainError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// Is matches any DomainError carrying the same code, so a detailed error
// satisfies errors.Is against the package sentinels.
func (e DomainError) Is(target error) bool {
	t, ok := target.(DomainError)

	return ok && t.Code == e.Code
}

// NewDomainError creates a domain error with code, field, and message.
func NewDomainError(code ErrorCode, field, message string) error {
	return DomainError{Code: code, Field: field, Message: message}
}

// Sentinels for errors.Is.
var (
	ErrInsufficientFunds = DomainError{Code: ErrorInsufficientFunds, Message: "insufficient funds"}
	ErrInvalidAmount     = DomainError{Code: ErrorInvalidAmount, Message: "amount must be positive"}
	ErrBatchTooLarge     = DomainError{Code: ErrorBatchTooLarge, Message: "batch exceeds the recipient limit"}
	ErrUnauthorized      = DomainError{Code: ErrorUnauthorized, Message: "caller may not debit source"}
	ErrInvalidAccount    = DomainError{Code: ErrorInvalidAccount, Message: "account id is required"}
	ErrBalanceOverflow   = DomainError{Code: ErrorBalanceOverflow, Message: "balance overflow"}
)
