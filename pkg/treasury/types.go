package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// amountScale is the number of decimal places carried by AmountUnits.
const amountScale = 8

// AmountUnits is a strictly positive fixed-point amount counted in 1e-8
// currency units. All money arithmetic happens on integers; decimal is used
// only for parsing, formatting, and percentage math.
type AmountUnits int64

// NewAmountUnits validates an amount and ensures it is strictly positive.
func NewAmountUnits(raw int64) (AmountUnits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountUnits)
	}
	return AmountUnits(raw), nil
}

// ParseAmountUnits converts a decimal string into units, rejecting values with
// more than eight decimal places.
func ParseAmountUnits(raw string) (AmountUnits, error) {
	units, err := parseUnits(raw)
	if err != nil {
		return 0, err
	}
	return NewAmountUnits(units)
}

// ParseBalanceUnits converts a decimal string into units, allowing zero. Used
// for externally reported balances, which may legitimately be empty wallets.
func ParseBalanceUnits(raw string) (int64, error) {
	units, err := parseUnits(raw)
	if err != nil {
		return 0, err
	}
	if units < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountUnits)
	}
	return units, nil
}

func parseUnits(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidAmountUnits)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmountUnits, err)
	}
	scaled := value.Shift(amountScale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmountUnits, amountScale)
	}
	scaledBig := scaled.BigInt()
	if !scaledBig.IsInt64() {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmountUnits)
	}
	return scaledBig.Int64(), nil
}

// Int64 returns the raw unit count.
func (amount AmountUnits) Int64() int64 {
	return int64(amount)
}

// Decimal returns the amount as an exact decimal value.
func (amount AmountUnits) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), -amountScale)
}

// String formats the amount with the full eight decimal places.
func (amount AmountUnits) String() string {
	return FormatUnits(int64(amount))
}

// FormatUnits renders a signed unit count as a fixed-point decimal string.
func FormatUnits(units int64) string {
	return decimal.New(units, -amountScale).StringFixed(amountScale)
}

// Percentage is a validated allocation share in the range (0, 100].
type Percentage struct {
	value decimal.Decimal
}

// NewPercentage validates a decimal percentage.
func NewPercentage(value decimal.Decimal) (Percentage, error) {
	if value.LessThanOrEqual(decimal.Zero) {
		return Percentage{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPercentage)
	}
	if value.GreaterThan(decimal.NewFromInt(100)) {
		return Percentage{}, fmt.Errorf("%w: must not exceed 100", ErrInvalidPercentage)
	}
	return Percentage{value: value}, nil
}

// ParsePercentage parses and validates a percentage string.
func ParsePercentage(raw string) (Percentage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Percentage{}, fmt.Errorf("%w: empty value", ErrInvalidPercentage)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Percentage{}, fmt.Errorf("%w: %v", ErrInvalidPercentage, err)
	}
	return NewPercentage(value)
}

// Decimal returns the underlying decimal value.
func (percentage Percentage) Decimal() decimal.Decimal {
	return percentage.value
}

// String returns the canonical decimal representation.
func (percentage Percentage) String() string {
	return percentage.value.String()
}

// AccountType classifies a logical account.
type AccountType string

const (
	AccountOperating   AccountType = "OPERATING"
	AccountReserve     AccountType = "RESERVE"
	AccountRewards     AccountType = "REWARDS"
	AccountDevelopment AccountType = "DEVELOPMENT"
	AccountMarketing   AccountType = "MARKETING"
	AccountCustom      AccountType = "CUSTOM"
)

// ParseAccountType validates a stored account type value.
func ParseAccountType(raw string) (AccountType, error) {
	switch AccountType(raw) {
	case AccountOperating, AccountReserve, AccountRewards, AccountDevelopment, AccountMarketing, AccountCustom:
		return AccountType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAccountType, raw)
}

// String returns the stored representation.
func (accountType AccountType) String() string {
	return string(accountType)
}

// TransactionType enumerates ledger transaction kinds.
type TransactionType string

const (
	TransactionExternalDeposit    TransactionType = "EXTERNAL_DEPOSIT"
	TransactionExternalWithdrawal TransactionType = "EXTERNAL_WITHDRAWAL"
	TransactionInternalAllocation TransactionType = "INTERNAL_ALLOCATION"
	TransactionReconciliation     TransactionType = "RECONCILIATION_ADJUSTMENT"
)

// ParseTransactionType validates a stored transaction type value.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionExternalDeposit, TransactionExternalWithdrawal, TransactionInternalAllocation, TransactionReconciliation:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// External reports whether the type describes an event sourced outside the
// ledger. Only external types can trigger allocation.
func (transactionType TransactionType) External() bool {
	return transactionType == TransactionExternalDeposit || transactionType == TransactionExternalWithdrawal
}

// TransactionStatus defines the transaction lifecycle.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// ParseTransactionStatus validates a stored status value.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// String returns the stored representation.
func (status TransactionStatus) String() string {
	return string(status)
}

// Account is an internal bookkeeping subdivision of custody.
type Account struct {
	AccountID      string
	Name           string
	Type           AccountType
	BalanceUnits   int64
	Description    string
	Active         bool
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Transaction is a single immutable financial movement. Once COMPLETED it is
// never edited; corrections are new offsetting transactions.
type Transaction struct {
	TransactionID       string
	Type                TransactionType
	Status              TransactionStatus
	AmountUnits         AmountUnits
	FromAccountID       string
	ToAccountID         string
	ParentTransactionID string
	ExternalReference   string
	Description         string
	MetadataJSON        string
	PerformedBy         string
	CreatedUnixUTC      int64
	CompletedUnixUTC    int64
}

// TransactionDraft carries the fields needed to record a new transaction.
type TransactionDraft struct {
	Type              TransactionType
	Status            TransactionStatus
	AmountUnits       AmountUnits
	FromAccountID     string
	ToAccountID       string
	ExternalReference string
	Description       string
	MetadataJSON      string
	PerformedBy       string
}

// RuleSplit assigns a percentage of a triggering amount to one account. Split
// order is significant: the rounding remainder goes to the first split.
type RuleSplit struct {
	AccountID  string
	Percentage Percentage
}

// AllocationRule describes how a triggering transaction is distributed.
// Rules are immutable once created; edits produce a new version.
type AllocationRule struct {
	RuleID         string
	Name           string
	Version        int
	TriggerType    TransactionType
	Splits         []RuleSplit
	Priority       int
	Active         bool
	MinAmountUnits int64
	MaxAmountUnits int64
	Description    string
	CreatedBy      string
	CreatedUnixUTC int64
}

// Matches reports whether the rule applies to the given trigger and amount.
// A zero bound means unbounded on that side.
func (rule AllocationRule) Matches(triggerType TransactionType, amount AmountUnits) bool {
	if !rule.Active || rule.TriggerType != triggerType {
		return false
	}
	if rule.MinAmountUnits > 0 && amount.Int64() < rule.MinAmountUnits {
		return false
	}
	if rule.MaxAmountUnits > 0 && amount.Int64() > rule.MaxAmountUnits {
		return false
	}
	return true
}

// AuditSubject identifies the entity class an audit entry refers to.
type AuditSubject string

const (
	SubjectTransaction    AuditSubject = "ledger_transaction"
	SubjectAllocationRule AuditSubject = "allocation_rule"
	SubjectAccount        AuditSubject = "logical_account"
	SubjectReconciliation AuditSubject = "reconciliation"
)

// ParseAuditSubject validates a stored subject type value.
func ParseAuditSubject(raw string) (AuditSubject, error) {
	switch AuditSubject(raw) {
	case SubjectTransaction, SubjectAllocationRule, SubjectAccount, SubjectReconciliation:
		return AuditSubject(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAuditSubject, raw)
}

// String returns the stored representation.
func (subject AuditSubject) String() string {
	return string(subject)
}

// AuditAction enumerates audited mutations.
type AuditAction string

const (
	ActionCreate  AuditAction = "CREATE"
	ActionUpdate  AuditAction = "UPDATE"
	ActionExecute AuditAction = "EXECUTE"
)

// ParseAuditAction validates a stored action value.
func ParseAuditAction(raw string) (AuditAction, error) {
	switch AuditAction(raw) {
	case ActionCreate, ActionUpdate, ActionExecute:
		return AuditAction(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAuditAction, raw)
}

// String returns the stored representation.
func (action AuditAction) String() string {
	return string(action)
}

// AuditEntry is one immutable line in the audit trail.
type AuditEntry struct {
	EntryID        string
	SubjectType    AuditSubject
	SubjectID      string
	Action         AuditAction
	Actor          string
	BeforeJSON     string
	AfterJSON      string
	CreatedUnixUTC int64
}

// ReconciliationStatus is the outcome of a balance comparison.
type ReconciliationStatus string

const (
	ReconciliationMatched    ReconciliationStatus = "MATCHED"
	ReconciliationMismatched ReconciliationStatus = "MISMATCHED"
)

// String returns the stored representation.
func (status ReconciliationStatus) String() string {
	return string(status)
}

// DiscrepancySeverity grades a mismatch by its relative size.
type DiscrepancySeverity string

const (
	SeverityNone     DiscrepancySeverity = "NONE"
	SeverityMinor    DiscrepancySeverity = "MINOR"
	SeverityMajor    DiscrepancySeverity = "MAJOR"
	SeverityCritical DiscrepancySeverity = "CRITICAL"
)

// String returns the stored representation.
func (severity DiscrepancySeverity) String() string {
	return string(severity)
}

// ReconciliationRecord is one append-only comparison of an externally reported
// balance against the internal account sum.
type ReconciliationRecord struct {
	RecordID             string
	ExternalBalanceUnits int64
	SourceLabel          string
	InternalBalanceUnits int64
	DiscrepancyUnits     int64
	DiscrepancyPercent   decimal.Decimal
	Status               ReconciliationStatus
	Severity             DiscrepancySeverity
	Note                 string
	PerformedBy          string
	CreatedUnixUTC       int64
}

// NormalizeMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NormalizeMetadataJSON(raw string) (string, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return "", fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return normalized, nil
}

// TransactionFilter narrows ListTransactions results. Zero values are ignored.
type TransactionFilter struct {
	Type                TransactionType
	Status              TransactionStatus
	FromAccountID       string
	ToAccountID         string
	ParentTransactionID string
	Limit               int
	Offset              int
}

// AuditFilter narrows ListAuditEntries results. Zero values are ignored.
type AuditFilter struct {
	SubjectType AuditSubject
	SubjectID   string
	Actor       string
	Limit       int
}

// Store is the persistence contract used by Service. Every implementation must
// provide genuine all-or-nothing semantics for WithTx and serialize concurrent
// writers of the same row via GetTransactionForUpdate.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetAccountByName(ctx context.Context, name string) (Account, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error)
	AdjustBalance(ctx context.Context, accountID string, deltaUnits int64) error
	SetAccountActive(ctx context.Context, accountID string, active bool) error
	SumActiveBalances(ctx context.Context) (int64, error)

	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (Transaction, error)
	GetTransactionForUpdate(ctx context.Context, transactionID string) (Transaction, error)
	FindTransactionByExternalReference(ctx context.Context, reference string) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	ListChildTransactions(ctx context.Context, parentTransactionID string) ([]Transaction, error)

	InsertRule(ctx context.Context, rule AllocationRule) (AllocationRule, error)
	GetRule(ctx context.Context, ruleID string) (AllocationRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]AllocationRule, error)
	SetRuleActive(ctx context.Context, ruleID string, active bool) error

	AppendAuditEntry(ctx context.Context, entry AuditEntry) (AuditEntry, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)

	InsertReconciliation(ctx context.Context, record ReconciliationRecord) (ReconciliationRecord, error)
	ListReconciliations(ctx context.Context, limit int) ([]ReconciliationRecord, error)
}
