package treasury

const (
	operationRecord            = "record_transaction"
	operationAllocate          = "allocate"
	operationCreateRule        = "create_rule"
	operationDeactivateRule    = "deactivate_rule"
	operationReconcile         = "reconcile"
	operationEnsureAccount     = "ensure_account"
	operationDeactivateAccount = "deactivate_account"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultActor            = "system"
	defaultRuleCacheTTL     = 30
	defaultListLimit        = 50
	percentSumTarget        = "100"
	percentSumEpsilon       = "0.000001"
	minorDiscrepancyPercent = "0.1"
	majorDiscrepancyPercent = "5"
)
