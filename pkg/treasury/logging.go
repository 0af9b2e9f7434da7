package treasury

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing treasury operation.
type OperationLog struct {
	Operation     string
	TransactionID string
	RuleID        string
	AccountID     string
	AmountUnits   int64
	Actor         string
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithRuleCacheTTL bounds how stale cached rule listings may be, in seconds.
func WithRuleCacheTTL(seconds int64) ServiceOption {
	return func(service *Service) {
		if seconds > 0 {
			service.ruleCacheTTL = seconds
		}
	}
}
