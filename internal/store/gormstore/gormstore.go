package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/treasury/pkg/treasury"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintExternalReference = "uniq_ledger_transactions_external_reference"
	constraintAccountName       = "uniq_logical_accounts_name"
	defaultSnapshotJSON         = "{}"
	pgUniqueViolationCode       = "23505"
	sqliteConstraintCode        = 19
	postgresDialectName         = "postgres"
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectAudit           = "audit"
	errorSubjectBalance         = "balance"
	errorSubjectReconciliation  = "reconciliation"
	errorSubjectRule            = "rule"
	errorSubjectTransaction     = "transaction"
	errorCodeAdjust             = "adjust"
	errorCodeAppend             = "append"
	errorCodeCreate             = "create"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLookup             = "lookup"
	errorCodeSumBalances        = "sum_balances"
	errorCodeUpdate             = "update"
)

// Store implements treasury.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema. Intended for sqlite deployments;
// postgres schemas are managed by migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&LogicalAccount{},
		&LedgerTransaction{},
		&AllocationRule{},
		&AuditLog{},
		&ReconciliationLog{},
	)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore treasury.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account treasury.Account) (treasury.Account, error) {
	model := LogicalAccount{
		AccountID:    account.AccountID,
		AccountName:  account.Name,
		AccountType:  account.Type.String(),
		BalanceUnits: account.BalanceUnits,
		Description:  account.Description,
		IsActive:     account.Active,
		CreatedAt:    timeOrNow(account.CreatedUnixUTC),
		UpdatedAt:    timeOrNow(account.UpdatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintAccountName) {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, treasury.ErrAccountExists)
	}
	if err != nil {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	created, mapErr := mapAccount(model)
	if mapErr != nil {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, mapErr)
	}
	return created, nil
}

func (store *Store) GetAccount(ctx context.Context, accountID string) (treasury.Account, error) {
	var model LogicalAccount
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, treasury.ErrAccountNotFound)
		}
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, mapErr := mapAccount(model)
	if mapErr != nil {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, mapErr)
	}
	return account, nil
}

func (store *Store) GetAccountByName(ctx context.Context, name string) (treasury.Account, error) {
	var model LogicalAccount
	err := store.db.WithContext(ctx).
		Where("account_name = ?", name).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, treasury.ErrAccountNotFound)
		}
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account, mapErr := mapAccount(model)
	if mapErr != nil {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, mapErr)
	}
	return account, nil
}

func (store *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]treasury.Account, error) {
	query := store.db.WithContext(ctx).Model(&LogicalAccount{}).Order("account_name asc")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []LogicalAccount
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]treasury.Account, 0, len(rows))
	for _, row := range rows {
		account, mapErr := mapAccount(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, mapErr)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *Store) AdjustBalance(ctx context.Context, accountID string, deltaUnits int64) error {
	result := store.db.WithContext(ctx).
		Model(&LogicalAccount{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"balance_units": gorm.Expr("balance_units + ?", deltaUnits),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, treasury.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	result := store.db.WithContext(ctx).
		Model(&LogicalAccount{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, treasury.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) SumActiveBalances(ctx context.Context) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LogicalAccount{}).
		Select("coalesce(sum(balance_units),0) as total").
		Where("is_active = ?", true).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumBalances, err)
	}
	return sum.Total, nil
}

func (store *Store) InsertTransaction(ctx context.Context, txn treasury.Transaction) (treasury.Transaction, error) {
	model := LedgerTransaction{
		TransactionID:       txn.TransactionID,
		TransactionType:     txn.Type.String(),
		Status:              txn.Status.String(),
		AmountUnits:         txn.AmountUnits.Int64(),
		FromAccountID:       stringPtr(txn.FromAccountID),
		ToAccountID:         stringPtr(txn.ToAccountID),
		ParentTransactionID: stringPtr(txn.ParentTransactionID),
		ExternalReference:   stringPtr(txn.ExternalReference),
		Description:         txn.Description,
		Metadata:            datatypesJSON(txn.MetadataJSON),
		PerformedBy:         txn.PerformedBy,
		CreatedAt:           timeOrNow(txn.CreatedUnixUTC),
		CompletedAt:         timePtr(txn.CompletedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintExternalReference) {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, treasury.ErrDuplicateExternalReference)
	}
	if err != nil {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	inserted, mapErr := mapTransaction(model)
	if mapErr != nil {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, mapErr)
	}
	return inserted, nil
}

func (store *Store) GetTransaction(ctx context.Context, transactionID string) (treasury.Transaction, error) {
	return store.getTransaction(ctx, transactionID, false)
}

// GetTransactionForUpdate locks the transaction row for the remainder of the
// enclosing database transaction, serializing concurrent allocations of the
// same parent.
func (store *Store) GetTransactionForUpdate(ctx context.Context, transactionID string) (treasury.Transaction, error) {
	return store.getTransaction(ctx, transactionID, true)
}

func (store *Store) getTransaction(ctx context.Context, transactionID string, forUpdate bool) (treasury.Transaction, error) {
	query := store.db.WithContext(ctx)
	// sqlite has no row locks and serializes writers at the database level.
	if forUpdate && store.db.Dialector.Name() == postgresDialectName {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model LedgerTransaction
	err := query.
		Where("transaction_id = ?", transactionID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, treasury.ErrTransactionNotFound)
		}
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	txn, mapErr := mapTransaction(model)
	if mapErr != nil {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, mapErr)
	}
	return txn, nil
}

func (store *Store) FindTransactionByExternalReference(ctx context.Context, reference string) (treasury.Transaction, error) {
	var model LedgerTransaction
	err := store.db.WithContext(ctx).
		Where("external_reference = ? AND status <> ?", reference, treasury.StatusCancelled.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, treasury.ErrTransactionNotFound)
		}
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	txn, mapErr := mapTransaction(model)
	if mapErr != nil {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, mapErr)
	}
	return txn, nil
}

func (store *Store) ListTransactions(ctx context.Context, filter treasury.TransactionFilter) ([]treasury.Transaction, error) {
	query := store.db.WithContext(ctx).Model(&LedgerTransaction{}).Order("created_at DESC")
	if filter.Type != "" {
		query = query.Where("transaction_type = ?", filter.Type.String())
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}
	if filter.FromAccountID != "" {
		query = query.Where("from_account_id = ?", filter.FromAccountID)
	}
	if filter.ToAccountID != "" {
		query = query.Where("to_account_id = ?", filter.ToAccountID)
	}
	if filter.ParentTransactionID != "" {
		query = query.Where("parent_transaction_id = ?", filter.ParentTransactionID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var rows []LedgerTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) ListChildTransactions(ctx context.Context, parentTransactionID string) ([]treasury.Transaction, error) {
	var rows []LedgerTransaction
	err := store.db.WithContext(ctx).
		Where("parent_transaction_id = ?", parentTransactionID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) InsertRule(ctx context.Context, rule treasury.AllocationRule) (treasury.AllocationRule, error) {
	splitsJSON, err := marshalSplits(rule.Splits)
	if err != nil {
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
	}
	model := AllocationRule{
		RuleID:         rule.RuleID,
		RuleName:       rule.Name,
		Version:        rule.Version,
		TriggerType:    rule.TriggerType.String(),
		Splits:         splitsJSON,
		Priority:       rule.Priority,
		IsActive:       rule.Active,
		MinAmountUnits: int64Ptr(rule.MinAmountUnits),
		MaxAmountUnits: int64Ptr(rule.MaxAmountUnits),
		Description:    rule.Description,
		CreatedBy:      rule.CreatedBy,
		CreatedAt:      timeOrNow(rule.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeInsert, err)
	}
	inserted, mapErr := mapRule(model)
	if mapErr != nil {
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeInvalid, mapErr)
	}
	return inserted, nil
}

func (store *Store) GetRule(ctx context.Context, ruleID string) (treasury.AllocationRule, error) {
	var model AllocationRule
	err := store.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeGet, treasury.ErrRuleNotFound)
		}
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeGet, err)
	}
	rule, mapErr := mapRule(model)
	if mapErr != nil {
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeInvalid, mapErr)
	}
	return rule, nil
}

func (store *Store) ListRules(ctx context.Context, activeOnly bool) ([]treasury.AllocationRule, error) {
	query := store.db.WithContext(ctx).Model(&AllocationRule{}).Order("priority ASC, created_at DESC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []AllocationRule
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeList, err)
	}
	rules := make([]treasury.AllocationRule, 0, len(rows))
	for _, row := range rows {
		rule, mapErr := mapRule(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectRule, errorCodeInvalid, mapErr)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (store *Store) SetRuleActive(ctx context.Context, ruleID string, active bool) error {
	result := store.db.WithContext(ctx).
		Model(&AllocationRule{}).
		Where("rule_id = ?", ruleID).
		Update("is_active", active)
	if result.Error != nil {
		return wrapStoreError(errorSubjectRule, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRule, errorCodeUpdate, treasury.ErrRuleNotFound)
	}
	return nil
}

func (store *Store) AppendAuditEntry(ctx context.Context, entry treasury.AuditEntry) (treasury.AuditEntry, error) {
	model := AuditLog{
		EntryID:     entry.EntryID,
		EntityType:  entry.SubjectType.String(),
		EntityID:    entry.SubjectID,
		Action:      entry.Action.String(),
		OldValue:    datatypesJSON(entry.BeforeJSON),
		NewValue:    datatypesJSON(entry.AfterJSON),
		PerformedBy: entry.Actor,
		CreatedAt:   timeOrNow(entry.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return treasury.AuditEntry{}, wrapStoreError(errorSubjectAudit, errorCodeAppend, err)
	}
	appended, mapErr := mapAuditEntry(model)
	if mapErr != nil {
		return treasury.AuditEntry{}, wrapStoreError(errorSubjectAudit, errorCodeInvalid, mapErr)
	}
	return appended, nil
}

func (store *Store) ListAuditEntries(ctx context.Context, filter treasury.AuditFilter) ([]treasury.AuditEntry, error) {
	query := store.db.WithContext(ctx).Model(&AuditLog{}).Order("created_at DESC")
	if filter.SubjectType != "" {
		query = query.Where("entity_type = ?", filter.SubjectType.String())
	}
	if filter.SubjectID != "" {
		query = query.Where("entity_id = ?", filter.SubjectID)
	}
	if filter.Actor != "" {
		query = query.Where("performed_by = ?", filter.Actor)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []AuditLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	entries := make([]treasury.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry, mapErr := mapAuditEntry(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, mapErr)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) InsertReconciliation(ctx context.Context, record treasury.ReconciliationRecord) (treasury.ReconciliationRecord, error) {
	model := ReconciliationLog{
		RecordID:             record.RecordID,
		ExternalBalanceUnits: record.ExternalBalanceUnits,
		ExternalSource:       record.SourceLabel,
		InternalBalanceUnits: record.InternalBalanceUnits,
		DiscrepancyUnits:     record.DiscrepancyUnits,
		DiscrepancyPercent:   record.DiscrepancyPercent.String(),
		Status:               record.Status.String(),
		Severity:             record.Severity.String(),
		ResolutionNotes:      record.Note,
		PerformedBy:          record.PerformedBy,
		CreatedAt:            timeOrNow(record.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return treasury.ReconciliationRecord{}, wrapStoreError(errorSubjectReconciliation, errorCodeInsert, err)
	}
	inserted, mapErr := mapReconciliation(model)
	if mapErr != nil {
		return treasury.ReconciliationRecord{}, wrapStoreError(errorSubjectReconciliation, errorCodeInvalid, mapErr)
	}
	return inserted, nil
}

func (store *Store) ListReconciliations(ctx context.Context, limit int) ([]treasury.ReconciliationRecord, error) {
	query := store.db.WithContext(ctx).Model(&ReconciliationLog{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []ReconciliationLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
	}
	records := make([]treasury.ReconciliationRecord, 0, len(rows))
	for _, row := range rows {
		record, mapErr := mapReconciliation(row)
		if mapErr != nil {
			return nil, wrapStoreError(errorSubjectReconciliation, errorCodeInvalid, mapErr)
		}
		records = append(records, record)
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return treasury.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

type splitRecord struct {
	AccountID  string `json:"account_id"`
	Percentage string `json:"percentage"`
}

func marshalSplits(splits []treasury.RuleSplit) (datatypes.JSON, error) {
	records := make([]splitRecord, 0, len(splits))
	for _, split := range splits {
		records = append(records, splitRecord{
			AccountID:  split.AccountID,
			Percentage: split.Percentage.String(),
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalSplits(raw datatypes.JSON) ([]treasury.RuleSplit, error) {
	var records []splitRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, err
	}
	splits := make([]treasury.RuleSplit, 0, len(records))
	for _, record := range records {
		percentage, err := treasury.ParsePercentage(record.Percentage)
		if err != nil {
			return nil, err
		}
		splits = append(splits, treasury.RuleSplit{AccountID: record.AccountID, Percentage: percentage})
	}
	return splits, nil
}

func mapAccount(row LogicalAccount) (treasury.Account, error) {
	accountType, err := treasury.ParseAccountType(row.AccountType)
	if err != nil {
		return treasury.Account{}, err
	}
	return treasury.Account{
		AccountID:      row.AccountID,
		Name:           row.AccountName,
		Type:           accountType,
		BalanceUnits:   row.BalanceUnits,
		Description:    row.Description,
		Active:         row.IsActive,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func mapTransactions(rows []LedgerTransaction) ([]treasury.Transaction, error) {
	transactions := make([]treasury.Transaction, 0, len(rows))
	for _, row := range rows {
		txn, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, txn)
	}
	return transactions, nil
}

func mapTransaction(row LedgerTransaction) (treasury.Transaction, error) {
	transactionType, err := treasury.ParseTransactionType(row.TransactionType)
	if err != nil {
		return treasury.Transaction{}, err
	}
	status, err := treasury.ParseTransactionStatus(row.Status)
	if err != nil {
		return treasury.Transaction{}, err
	}
	amount, err := treasury.NewAmountUnits(row.AmountUnits)
	if err != nil {
		return treasury.Transaction{}, err
	}
	metadata, err := treasury.NormalizeMetadataJSON(string(row.Metadata))
	if err != nil {
		return treasury.Transaction{}, err
	}
	return treasury.Transaction{
		TransactionID:       row.TransactionID,
		Type:                transactionType,
		Status:              status,
		AmountUnits:         amount,
		FromAccountID:       stringValue(row.FromAccountID),
		ToAccountID:         stringValue(row.ToAccountID),
		ParentTransactionID: stringValue(row.ParentTransactionID),
		ExternalReference:   stringValue(row.ExternalReference),
		Description:         row.Description,
		MetadataJSON:        metadata,
		PerformedBy:         row.PerformedBy,
		CreatedUnixUTC:      row.CreatedAt.Unix(),
		CompletedUnixUTC:    timeValue(row.CompletedAt),
	}, nil
}

func mapRule(row AllocationRule) (treasury.AllocationRule, error) {
	triggerType, err := treasury.ParseTransactionType(row.TriggerType)
	if err != nil {
		return treasury.AllocationRule{}, err
	}
	splits, err := unmarshalSplits(row.Splits)
	if err != nil {
		return treasury.AllocationRule{}, err
	}
	return treasury.AllocationRule{
		RuleID:         row.RuleID,
		Name:           row.RuleName,
		Version:        row.Version,
		TriggerType:    triggerType,
		Splits:         splits,
		Priority:       row.Priority,
		Active:         row.IsActive,
		MinAmountUnits: int64Value(row.MinAmountUnits),
		MaxAmountUnits: int64Value(row.MaxAmountUnits),
		Description:    row.Description,
		CreatedBy:      row.CreatedBy,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapAuditEntry(row AuditLog) (treasury.AuditEntry, error) {
	subjectType, err := treasury.ParseAuditSubject(row.EntityType)
	if err != nil {
		return treasury.AuditEntry{}, err
	}
	action, err := treasury.ParseAuditAction(row.Action)
	if err != nil {
		return treasury.AuditEntry{}, err
	}
	return treasury.AuditEntry{
		EntryID:        row.EntryID,
		SubjectType:    subjectType,
		SubjectID:      row.EntityID,
		Action:         action,
		Actor:          row.PerformedBy,
		BeforeJSON:     string(row.OldValue),
		AfterJSON:      string(row.NewValue),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapReconciliation(row ReconciliationLog) (treasury.ReconciliationRecord, error) {
	percent, err := decimalFromStored(row.DiscrepancyPercent)
	if err != nil {
		return treasury.ReconciliationRecord{}, err
	}
	return treasury.ReconciliationRecord{
		RecordID:             row.RecordID,
		ExternalBalanceUnits: row.ExternalBalanceUnits,
		SourceLabel:          row.ExternalSource,
		InternalBalanceUnits: row.InternalBalanceUnits,
		DiscrepancyUnits:     row.DiscrepancyUnits,
		DiscrepancyPercent:   percent,
		Status:               treasury.ReconciliationStatus(row.Status),
		Severity:             treasury.DiscrepancySeverity(row.Severity),
		Note:                 row.ResolutionNotes,
		PerformedBy:          row.PerformedBy,
		CreatedUnixUTC:       row.CreatedAt.Unix(),
	}, nil
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func int64Ptr(value int64) *int64 {
	if value == 0 {
		return nil
	}
	return &value
}

func int64Value(value *int64) int64 {
	if value == nil {
		return 0
	}
	return *value
}

func timeOrNow(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func timePtr(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeValue(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func decimalFromStored(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultSnapshotJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
