package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/treasury/pkg/treasury"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintExternalReference = "uniq_ledger_transactions_external_reference"
	constraintAccountName       = "uniq_logical_accounts_name"
	pgUniqueViolationCode       = "23505"
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectAudit           = "audit"
	errorSubjectBalance         = "balance"
	errorSubjectReconciliation  = "reconciliation"
	errorSubjectRule            = "rule"
	errorSubjectTransaction     = "transaction"
	errorCodeAdjust             = "adjust"
	errorCodeAppend             = "append"
	errorCodeBegin              = "begin"
	errorCodeCommit             = "commit"
	errorCodeCreate             = "create"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLookup             = "lookup"
	errorCodeSumBalances        = "sum_balances"
	errorCodeUpdate             = "update"

	sqlInsertAccount = `
		insert into logical_accounts(
			account_id, account_name, account_type, balance_units, description, is_active, created_at, updated_at
		)
		values(
			coalesce(nullif($1,'')::uuid, gen_random_uuid()),
			$2, $3, $4, $5, $6, to_timestamp($7), to_timestamp($8)
		)
		returning account_id::text
	`

	sqlSelectAccountColumns = `
		select
			account_id::text,
			account_name,
			account_type,
			balance_units,
			description,
			is_active,
			extract(epoch from created_at)::bigint,
			extract(epoch from updated_at)::bigint
		from logical_accounts
	`

	sqlAdjustBalance = `
		update logical_accounts
		set balance_units = balance_units + $2, updated_at = now()
		where account_id = $1::uuid
	`

	sqlSetAccountActive = `
		update logical_accounts
		set is_active = $2, updated_at = now()
		where account_id = $1::uuid
	`

	sqlSumActiveBalances = `
		select coalesce(sum(balance_units),0) from logical_accounts where is_active
	`

	sqlInsertTransaction = `
		insert into ledger_transactions(
			transaction_id, transaction_type, status, amount_units,
			from_account_id, to_account_id, parent_transaction_id, external_reference,
			description, metadata, performed_by, created_at, completed_at
		)
		values(
			coalesce(nullif($1,'')::uuid, gen_random_uuid()),
			$2, $3, $4,
			nullif($5,'')::uuid, nullif($6,'')::uuid, nullif($7,'')::uuid, nullif($8,''),
			$9, coalesce(nullif($10,''),'{}')::jsonb, $11,
			to_timestamp($12), to_timestamp(nullif($13,0))
		)
		returning transaction_id::text
	`

	sqlSelectTransactionColumns = `
		select
			transaction_id::text,
			transaction_type,
			status,
			amount_units,
			coalesce(from_account_id::text,''),
			coalesce(to_account_id::text,''),
			coalesce(parent_transaction_id::text,''),
			coalesce(external_reference,''),
			description,
			coalesce(metadata::text,'{}'),
			performed_by,
			extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from completed_at)::bigint,0)
		from ledger_transactions
	`

	sqlInsertRule = `
		insert into allocation_rules(
			rule_id, rule_name, version, trigger_type, splits, priority, is_active,
			min_amount_units, max_amount_units, description, created_by, created_at
		)
		values(
			coalesce(nullif($1,'')::uuid, gen_random_uuid()),
			$2, $3, $4, $5::jsonb, $6, $7,
			nullif($8,0), nullif($9,0), $10, $11, to_timestamp($12)
		)
		returning rule_id::text
	`

	sqlSelectRuleColumns = `
		select
			rule_id::text,
			rule_name,
			version,
			trigger_type,
			splits::text,
			priority,
			is_active,
			coalesce(min_amount_units,0),
			coalesce(max_amount_units,0),
			description,
			created_by,
			extract(epoch from created_at)::bigint
		from allocation_rules
	`

	sqlSetRuleActive = `
		update allocation_rules set is_active = $2 where rule_id = $1::uuid
	`

	sqlInsertAuditEntry = `
		insert into audit_log(
			entry_id, entity_type, entity_id, action, old_value, new_value, performed_by, created_at
		)
		values(
			coalesce(nullif($1,'')::uuid, gen_random_uuid()),
			$2, $3, $4,
			coalesce(nullif($5,''),'{}')::jsonb, coalesce(nullif($6,''),'{}')::jsonb,
			$7, to_timestamp($8)
		)
		returning entry_id::text
	`

	sqlSelectAuditColumns = `
		select
			entry_id::text,
			entity_type,
			entity_id,
			action,
			coalesce(old_value::text,'{}'),
			coalesce(new_value::text,'{}'),
			performed_by,
			extract(epoch from created_at)::bigint
		from audit_log
	`

	sqlInsertReconciliation = `
		insert into reconciliation_log(
			record_id, external_balance_units, external_source, internal_balance_units,
			discrepancy_units, discrepancy_percent, status, severity,
			resolution_notes, performed_by, created_at
		)
		values(
			coalesce(nullif($1,'')::uuid, gen_random_uuid()),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, to_timestamp($11)
		)
		returning record_id::text
	`

	sqlSelectReconciliationColumns = `
		select
			record_id::text,
			external_balance_units,
			external_source,
			internal_balance_units,
			discrepancy_units,
			discrepancy_percent,
			status,
			severity,
			resolution_notes,
			performed_by,
			extract(epoch from created_at)::bigint
		from reconciliation_log
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements treasury.Store against postgres using pgx. Outside WithTx
// every call runs in autocommit mode.
type Store struct {
	pool    *pgxpool.Pool
	querier querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, querier: pool}
}

func (store *Store) inTransaction() bool {
	_, isPool := store.querier.(*pgxpool.Pool)
	return !isPool
}

// WithTx runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore treasury.Store) error) error {
	if store.inTransaction() {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{pool: store.pool, querier: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, account treasury.Account) (treasury.Account, error) {
	var accountID string
	err := store.querier.QueryRow(ctx, sqlInsertAccount,
		account.AccountID,
		account.Name,
		account.Type.String(),
		account.BalanceUnits,
		account.Description,
		account.Active,
		account.CreatedUnixUTC,
		account.UpdatedUnixUTC,
	).Scan(&accountID)
	if isUniqueViolation(err, constraintAccountName) {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, treasury.ErrAccountExists)
	}
	if err != nil {
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	account.AccountID = accountID
	return account, nil
}

func (store *Store) GetAccount(ctx context.Context, accountID string) (treasury.Account, error) {
	row := store.querier.QueryRow(ctx, sqlSelectAccountColumns+` where account_id = $1::uuid`, accountID)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, treasury.ErrAccountNotFound)
		}
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

func (store *Store) GetAccountByName(ctx context.Context, name string) (treasury.Account, error) {
	row := store.querier.QueryRow(ctx, sqlSelectAccountColumns+` where account_name = $1`, name)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, treasury.ErrAccountNotFound)
		}
		return treasury.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account, nil
}

func (store *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]treasury.Account, error) {
	query := sqlSelectAccountColumns
	if activeOnly {
		query += ` where is_active`
	}
	query += ` order by account_name asc`
	rows, err := store.querier.Query(ctx, query)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	defer rows.Close()
	accounts := make([]treasury.Account, 0, 8)
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, scanErr)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return accounts, nil
}

func (store *Store) AdjustBalance(ctx context.Context, accountID string, deltaUnits int64) error {
	tag, err := store.querier.Exec(ctx, sqlAdjustBalance, accountID, deltaUnits)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, treasury.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	tag, err := store.querier.Exec(ctx, sqlSetAccountActive, accountID, active)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, treasury.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) SumActiveBalances(ctx context.Context) (int64, error) {
	var sum int64
	if err := store.querier.QueryRow(ctx, sqlSumActiveBalances).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumBalances, err)
	}
	return sum, nil
}

func (store *Store) InsertTransaction(ctx context.Context, txn treasury.Transaction) (treasury.Transaction, error) {
	var transactionID string
	err := store.querier.QueryRow(ctx, sqlInsertTransaction,
		txn.TransactionID,
		txn.Type.String(),
		txn.Status.String(),
		txn.AmountUnits.Int64(),
		txn.FromAccountID,
		txn.ToAccountID,
		txn.ParentTransactionID,
		txn.ExternalReference,
		txn.Description,
		txn.MetadataJSON,
		txn.PerformedBy,
		txn.CreatedUnixUTC,
		txn.CompletedUnixUTC,
	).Scan(&transactionID)
	if isUniqueViolation(err, constraintExternalReference) {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, treasury.ErrDuplicateExternalReference)
	}
	if err != nil {
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	txn.TransactionID = transactionID
	return txn, nil
}

func (store *Store) GetTransaction(ctx context.Context, transactionID string) (treasury.Transaction, error) {
	return store.getTransaction(ctx, transactionID, "")
}

func (store *Store) GetTransactionForUpdate(ctx context.Context, transactionID string) (treasury.Transaction, error) {
	return store.getTransaction(ctx, transactionID, ` for update`)
}

func (store *Store) getTransaction(ctx context.Context, transactionID string, lockSuffix string) (treasury.Transaction, error) {
	row := store.querier.QueryRow(ctx, sqlSelectTransactionColumns+` where transaction_id = $1::uuid`+lockSuffix, transactionID)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, treasury.ErrTransactionNotFound)
		}
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return txn, nil
}

func (store *Store) FindTransactionByExternalReference(ctx context.Context, reference string) (treasury.Transaction, error) {
	row := store.querier.QueryRow(ctx,
		sqlSelectTransactionColumns+` where external_reference = $1 and status <> $2`,
		reference, treasury.StatusCancelled.String())
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, treasury.ErrTransactionNotFound)
		}
		return treasury.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return txn, nil
}

func (store *Store) ListTransactions(ctx context.Context, filter treasury.TransactionFilter) ([]treasury.Transaction, error) {
	var (
		conditions []string
		args       []any
	)
	appendCondition := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(len(args)))
	}
	if filter.Type != "" {
		appendCondition("transaction_type", filter.Type.String())
	}
	if filter.Status != "" {
		appendCondition("status", filter.Status.String())
	}
	if filter.FromAccountID != "" {
		appendCondition("from_account_id::text", filter.FromAccountID)
	}
	if filter.ToAccountID != "" {
		appendCondition("to_account_id::text", filter.ToAccountID)
	}
	if filter.ParentTransactionID != "" {
		appendCondition("parent_transaction_id::text", filter.ParentTransactionID)
	}
	query := sqlSelectTransactionColumns
	if len(conditions) > 0 {
		query += ` where ` + strings.Join(conditions, " and ")
	}
	query += ` order by created_at desc`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` limit $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` offset $` + strconv.Itoa(len(args))
	}
	rows, err := store.querier.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (store *Store) ListChildTransactions(ctx context.Context, parentTransactionID string) ([]treasury.Transaction, error) {
	rows, err := store.querier.Query(ctx,
		sqlSelectTransactionColumns+` where parent_transaction_id = $1::uuid order by created_at asc`,
		parentTransactionID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (store *Store) InsertRule(ctx context.Context, rule treasury.AllocationRule) (treasury.AllocationRule, error) {
	splitsJSON, err := marshalSplits(rule.Splits)
	if err != nil {
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
	}
	var ruleID string
	err = store.querier.QueryRow(ctx, sqlInsertRule,
		rule.RuleID,
		rule.Name,
		rule.Version,
		rule.TriggerType.String(),
		splitsJSON,
		rule.Priority,
		rule.Active,
		rule.MinAmountUnits,
		rule.MaxAmountUnits,
		rule.Description,
		rule.CreatedBy,
		rule.CreatedUnixUTC,
	).Scan(&ruleID)
	if err != nil {
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeInsert, err)
	}
	rule.RuleID = ruleID
	return rule, nil
}

func (store *Store) GetRule(ctx context.Context, ruleID string) (treasury.AllocationRule, error) {
	row := store.querier.QueryRow(ctx, sqlSelectRuleColumns+` where rule_id = $1::uuid`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeGet, treasury.ErrRuleNotFound)
		}
		return treasury.AllocationRule{}, wrapStoreError(errorSubjectRule, errorCodeGet, err)
	}
	return rule, nil
}

func (store *Store) ListRules(ctx context.Context, activeOnly bool) ([]treasury.AllocationRule, error) {
	query := sqlSelectRuleColumns
	if activeOnly {
		query += ` where is_active`
	}
	query += ` order by priority asc, created_at desc`
	rows, err := store.querier.Query(ctx, query)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeList, err)
	}
	defer rows.Close()
	rules := make([]treasury.AllocationRule, 0, 8)
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, wrapStoreError(errorSubjectRule, errorCodeInvalid, scanErr)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeList, err)
	}
	return rules, nil
}

func (store *Store) SetRuleActive(ctx context.Context, ruleID string, active bool) error {
	tag, err := store.querier.Exec(ctx, sqlSetRuleActive, ruleID, active)
	if err != nil {
		return wrapStoreError(errorSubjectRule, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectRule, errorCodeUpdate, treasury.ErrRuleNotFound)
	}
	return nil
}

func (store *Store) AppendAuditEntry(ctx context.Context, entry treasury.AuditEntry) (treasury.AuditEntry, error) {
	var entryID string
	err := store.querier.QueryRow(ctx, sqlInsertAuditEntry,
		entry.EntryID,
		entry.SubjectType.String(),
		entry.SubjectID,
		entry.Action.String(),
		entry.BeforeJSON,
		entry.AfterJSON,
		entry.Actor,
		entry.CreatedUnixUTC,
	).Scan(&entryID)
	if err != nil {
		return treasury.AuditEntry{}, wrapStoreError(errorSubjectAudit, errorCodeAppend, err)
	}
	entry.EntryID = entryID
	return entry, nil
}

func (store *Store) ListAuditEntries(ctx context.Context, filter treasury.AuditFilter) ([]treasury.AuditEntry, error) {
	var (
		conditions []string
		args       []any
	)
	appendCondition := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(len(args)))
	}
	if filter.SubjectType != "" {
		appendCondition("entity_type", filter.SubjectType.String())
	}
	if filter.SubjectID != "" {
		appendCondition("entity_id", filter.SubjectID)
	}
	if filter.Actor != "" {
		appendCondition("performed_by", filter.Actor)
	}
	query := sqlSelectAuditColumns
	if len(conditions) > 0 {
		query += ` where ` + strings.Join(conditions, " and ")
	}
	query += ` order by created_at desc`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` limit $` + strconv.Itoa(len(args))
	}
	rows, err := store.querier.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]treasury.AuditEntry, 0, 16)
	for rows.Next() {
		entry, scanErr := scanAuditEntry(rows)
		if scanErr != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) InsertReconciliation(ctx context.Context, record treasury.ReconciliationRecord) (treasury.ReconciliationRecord, error) {
	var recordID string
	err := store.querier.QueryRow(ctx, sqlInsertReconciliation,
		record.RecordID,
		record.ExternalBalanceUnits,
		record.SourceLabel,
		record.InternalBalanceUnits,
		record.DiscrepancyUnits,
		record.DiscrepancyPercent.String(),
		record.Status.String(),
		record.Severity.String(),
		record.Note,
		record.PerformedBy,
		record.CreatedUnixUTC,
	).Scan(&recordID)
	if err != nil {
		return treasury.ReconciliationRecord{}, wrapStoreError(errorSubjectReconciliation, errorCodeInsert, err)
	}
	record.RecordID = recordID
	return record, nil
}

func (store *Store) ListReconciliations(ctx context.Context, limit int) ([]treasury.ReconciliationRecord, error) {
	query := sqlSelectReconciliationColumns + ` order by created_at desc`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += ` limit $1`
	}
	rows, err := store.querier.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
	}
	defer rows.Close()
	records := make([]treasury.ReconciliationRecord, 0, 16)
	for rows.Next() {
		record, scanErr := scanReconciliation(rows)
		if scanErr != nil {
			return nil, wrapStoreError(errorSubjectReconciliation, errorCodeInvalid, scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReconciliation, errorCodeList, err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (treasury.Account, error) {
	var (
		account   treasury.Account
		typeValue string
	)
	err := row.Scan(
		&account.AccountID,
		&account.Name,
		&typeValue,
		&account.BalanceUnits,
		&account.Description,
		&account.Active,
		&account.CreatedUnixUTC,
		&account.UpdatedUnixUTC,
	)
	if err != nil {
		return treasury.Account{}, err
	}
	accountType, err := treasury.ParseAccountType(typeValue)
	if err != nil {
		return treasury.Account{}, err
	}
	account.Type = accountType
	return account, nil
}

func scanTransaction(row rowScanner) (treasury.Transaction, error) {
	var (
		txn         treasury.Transaction
		typeValue   string
		statusValue string
		amountValue int64
	)
	err := row.Scan(
		&txn.TransactionID,
		&typeValue,
		&statusValue,
		&amountValue,
		&txn.FromAccountID,
		&txn.ToAccountID,
		&txn.ParentTransactionID,
		&txn.ExternalReference,
		&txn.Description,
		&txn.MetadataJSON,
		&txn.PerformedBy,
		&txn.CreatedUnixUTC,
		&txn.CompletedUnixUTC,
	)
	if err != nil {
		return treasury.Transaction{}, err
	}
	transactionType, err := treasury.ParseTransactionType(typeValue)
	if err != nil {
		return treasury.Transaction{}, err
	}
	status, err := treasury.ParseTransactionStatus(statusValue)
	if err != nil {
		return treasury.Transaction{}, err
	}
	amount, err := treasury.NewAmountUnits(amountValue)
	if err != nil {
		return treasury.Transaction{}, err
	}
	txn.Type = transactionType
	txn.Status = status
	txn.AmountUnits = amount
	return txn, nil
}

func collectTransactions(rows pgx.Rows) ([]treasury.Transaction, error) {
	transactions := make([]treasury.Transaction, 0, 16)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func scanRule(row rowScanner) (treasury.AllocationRule, error) {
	var (
		rule        treasury.AllocationRule
		typeValue   string
		splitsValue string
	)
	err := row.Scan(
		&rule.RuleID,
		&rule.Name,
		&rule.Version,
		&typeValue,
		&splitsValue,
		&rule.Priority,
		&rule.Active,
		&rule.MinAmountUnits,
		&rule.MaxAmountUnits,
		&rule.Description,
		&rule.CreatedBy,
		&rule.CreatedUnixUTC,
	)
	if err != nil {
		return treasury.AllocationRule{}, err
	}
	triggerType, err := treasury.ParseTransactionType(typeValue)
	if err != nil {
		return treasury.AllocationRule{}, err
	}
	splits, err := unmarshalSplits(splitsValue)
	if err != nil {
		return treasury.AllocationRule{}, err
	}
	rule.TriggerType = triggerType
	rule.Splits = splits
	return rule, nil
}

func scanAuditEntry(row rowScanner) (treasury.AuditEntry, error) {
	var (
		entry        treasury.AuditEntry
		subjectValue string
		actionValue  string
	)
	err := row.Scan(
		&entry.EntryID,
		&subjectValue,
		&entry.SubjectID,
		&actionValue,
		&entry.BeforeJSON,
		&entry.AfterJSON,
		&entry.Actor,
		&entry.CreatedUnixUTC,
	)
	if err != nil {
		return treasury.AuditEntry{}, err
	}
	subjectType, err := treasury.ParseAuditSubject(subjectValue)
	if err != nil {
		return treasury.AuditEntry{}, err
	}
	action, err := treasury.ParseAuditAction(actionValue)
	if err != nil {
		return treasury.AuditEntry{}, err
	}
	entry.SubjectType = subjectType
	entry.Action = action
	return entry, nil
}

func scanReconciliation(row rowScanner) (treasury.ReconciliationRecord, error) {
	var (
		record       treasury.ReconciliationRecord
		percentValue string
		statusValue  string
		severityVal  string
	)
	err := row.Scan(
		&record.RecordID,
		&record.ExternalBalanceUnits,
		&record.SourceLabel,
		&record.InternalBalanceUnits,
		&record.DiscrepancyUnits,
		&percentValue,
		&statusValue,
		&severityVal,
		&record.Note,
		&record.PerformedBy,
		&record.CreatedUnixUTC,
	)
	if err != nil {
		return treasury.ReconciliationRecord{}, err
	}
	percent, err := decimal.NewFromString(percentValue)
	if err != nil {
		return treasury.ReconciliationRecord{}, err
	}
	record.DiscrepancyPercent = percent
	record.Status = treasury.ReconciliationStatus(statusValue)
	record.Severity = treasury.DiscrepancySeverity(severityVal)
	return record, nil
}

type splitRecord struct {
	AccountID  string `json:"account_id"`
	Percentage string `json:"percentage"`
}

func marshalSplits(splits []treasury.RuleSplit) (string, error) {
	records := make([]splitRecord, 0, len(splits))
	for _, split := range splits {
		records = append(records, splitRecord{
			AccountID:  split.AccountID,
			Percentage: split.Percentage.String(),
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalSplits(raw string) ([]treasury.RuleSplit, error) {
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

func wrapStoreError(subject string, code string, err error) error {
	return treasury.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraintName string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	return false
}
