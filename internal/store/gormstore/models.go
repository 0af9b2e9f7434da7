package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LogicalAccount represents the logical_accounts table.
type LogicalAccount struct {
	AccountID    string `gorm:"type:uuid;primaryKey"`
	AccountName  string `gorm:"size:100;not null;uniqueIndex:uniq_logical_accounts_name"`
	AccountType  string `gorm:"size:50;not null;index"`
	BalanceUnits int64  `gorm:"not null;default:0;check:balance_units >= 0"`
	Description  string
	IsActive     bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (LogicalAccount) TableName() string { return "logical_accounts" }

func (account *LogicalAccount) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerTransaction mirrors the ledger_transactions table.
type LedgerTransaction struct {
	TransactionID       string  `gorm:"type:uuid;primaryKey"`
	TransactionType     string  `gorm:"size:50;not null;index"`
	Status              string  `gorm:"size:30;not null;index"`
	AmountUnits         int64   `gorm:"not null;check:amount_units > 0"`
	FromAccountID       *string `gorm:"type:uuid;index"`
	ToAccountID         *string `gorm:"type:uuid;index"`
	ParentTransactionID *string `gorm:"type:uuid;index:idx_ledger_transactions_parent"`
	ExternalReference   *string `gorm:"size:255;uniqueIndex:uniq_ledger_transactions_external_reference"`
	Description         string
	Metadata            datatypes.JSON `gorm:"type:jsonb;not null"`
	PerformedBy         string         `gorm:"size:255"`
	CreatedAt           time.Time      `gorm:"not null;index"`
	CompletedAt         *time.Time
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

func (transaction *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// AllocationRule mirrors the allocation_rules table. Splits are stored as a
// JSON array of {account_id, percentage} in rule order.
type AllocationRule struct {
	RuleID         string         `gorm:"type:uuid;primaryKey"`
	RuleName       string         `gorm:"size:100;not null;index:idx_allocation_rules_name_version,unique,priority:1"`
	Version        int            `gorm:"not null;index:idx_allocation_rules_name_version,unique,priority:2"`
	TriggerType    string         `gorm:"size:50;not null;index"`
	Splits         datatypes.JSON `gorm:"type:jsonb;not null"`
	Priority       int            `gorm:"not null;default:100;index:idx_allocation_rules_active,priority:2"`
	IsActive       bool           `gorm:"not null;default:true;index:idx_allocation_rules_active,priority:1"`
	MinAmountUnits *int64
	MaxAmountUnits *int64
	Description    string
	CreatedBy      string    `gorm:"size:255"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (AllocationRule) TableName() string { return "allocation_rules" }

func (rule *AllocationRule) BeforeCreate(tx *gorm.DB) error {
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	return nil
}

// AuditLog mirrors the append-only audit_log table.
type AuditLog struct {
	EntryID     string         `gorm:"type:uuid;primaryKey"`
	EntityType  string         `gorm:"size:50;not null;index:idx_audit_log_entity,priority:1"`
	EntityID    string         `gorm:"size:36;not null;index:idx_audit_log_entity,priority:2"`
	Action      string         `gorm:"size:30;not null"`
	OldValue    datatypes.JSON `gorm:"type:jsonb"`
	NewValue    datatypes.JSON `gorm:"type:jsonb"`
	PerformedBy string         `gorm:"size:255;not null;index"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_log" }

func (entry *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// ReconciliationLog mirrors the append-only reconciliation_log table.
type ReconciliationLog struct {
	RecordID             string `gorm:"type:uuid;primaryKey"`
	ExternalBalanceUnits int64  `gorm:"not null"`
	ExternalSource       string `gorm:"size:100"`
	InternalBalanceUnits int64  `gorm:"not null"`
	DiscrepancyUnits     int64  `gorm:"not null"`
	DiscrepancyPercent   string `gorm:"size:32;not null"`
	Status               string `gorm:"size:30;not null;index"`
	Severity             string `gorm:"size:30;not null"`
	ResolutionNotes      string
	PerformedBy          string    `gorm:"size:255;not null"`
	CreatedAt            time.Time `gorm:"not null;index"`
}

func (ReconciliationLog) TableName() string { return "reconciliation_log" }

func (record *ReconciliationLog) BeforeCreate(tx *gorm.DB) error {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	return nil
}
