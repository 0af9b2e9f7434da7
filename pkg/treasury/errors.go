package treasury

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the treasury service.
var (
	ErrAccountNotFound            = errors.New("account not found")
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrRuleNotFound               = errors.New("allocation rule not found")
	ErrAccountExists              = errors.New("account already exists")
	ErrAccountInactive            = errors.New("account inactive")
	ErrNoApplicableRule           = errors.New("no applicable allocation rule")
	ErrAllocationConflict         = errors.New("concurrent allocation in progress")
	ErrDuplicateExternalReference = errors.New("duplicate external reference")
	ErrInvalidAccountID           = errors.New("invalid account id")
	ErrInvalidAccountName         = errors.New("invalid account name")
	ErrInvalidAccountType         = errors.New("invalid account type")
	ErrInvalidTransactionID       = errors.New("invalid transaction id")
	ErrInvalidTransactionType     = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus   = errors.New("invalid transaction status")
	ErrInvalidAmountUnits         = errors.New("invalid amount units")
	ErrInvalidPercentage          = errors.New("invalid percentage")
	ErrInvalidRule                = errors.New("invalid allocation rule")
	ErrInvalidMetadataJSON        = errors.New("invalid metadata json")
	ErrInvalidAuditSubject        = errors.New("invalid audit subject type")
	ErrInvalidAuditAction         = errors.New("invalid audit action")
	ErrInvalidServiceConfig       = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
