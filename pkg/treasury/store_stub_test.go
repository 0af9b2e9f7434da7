package treasury

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"testing"
)

// memStore is an in-memory Store used by the service tests. It applies writes
// immediately; the service validates before mutating, so success paths and
// failure paths both observe the states the real stores would produce.
type memStore struct {
	accounts        map[string]Account
	transactions    map[string]Transaction
	rules           map[string]AllocationRule
	auditEntries    []AuditEntry
	reconciliations []ReconciliationRecord

	nextID              int
	listRulesCalls      int
	listRulesErr        error
	findMissesLeft      int
	duplicateInsertLeft int
	auditErr            error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:     make(map[string]Account),
		transactions: make(map[string]Transaction),
		rules:        make(map[string]AllocationRule),
	}
}

func (store *memStore) allocateID(prefix string) string {
	store.nextID++
	return prefix + "-" + strconv.Itoa(store.nextID)
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *memStore) CreateAccount(ctx context.Context, account Account) (Account, error) {
	for _, existing := range store.accounts {
		if existing.Name == account.Name {
			return Account{}, ErrAccountExists
		}
	}
	if account.AccountID == "" {
		account.AccountID = store.allocateID("acct")
	}
	store.accounts[account.AccountID] = account
	return account, nil
}

func (store *memStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *memStore) GetAccountByName(ctx context.Context, name string) (Account, error) {
	for _, account := range store.accounts {
		if account.Name == name {
			return account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (store *memStore) ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error) {
	accounts := make([]Account, 0, len(store.accounts))
	for _, account := range store.accounts {
		if activeOnly && !account.Active {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool { return accounts[left].Name < accounts[right].Name })
	return accounts, nil
}

func (store *memStore) AdjustBalance(ctx context.Context, accountID string, deltaUnits int64) error {
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	updated := account.BalanceUnits + deltaUnits
	if updated < 0 {
		return fmt.Errorf("balance constraint violated for %s", accountID)
	}
	account.BalanceUnits = updated
	store.accounts[accountID] = account
	return nil
}

func (store *memStore) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Active = active
	store.accounts[accountID] = account
	return nil
}

func (store *memStore) SumActiveBalances(ctx context.Context) (int64, error) {
	var sum int64
	for _, account := range store.accounts {
		if account.Active {
			sum += account.BalanceUnits
		}
	}
	return sum, nil
}

func (store *memStore) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	if store.duplicateInsertLeft > 0 {
		store.duplicateInsertLeft--
		return Transaction{}, ErrDuplicateExternalReference
	}
	if txn.ExternalReference != "" {
		for _, existing := range store.transactions {
			if existing.ExternalReference == txn.ExternalReference {
				return Transaction{}, ErrDuplicateExternalReference
			}
		}
	}
	if txn.TransactionID == "" {
		txn.TransactionID = store.allocateID("txn")
	}
	store.transactions[txn.TransactionID] = txn
	return txn, nil
}

func (store *memStore) GetTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	txn, ok := store.transactions[transactionID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

func (store *memStore) GetTransactionForUpdate(ctx context.Context, transactionID string) (Transaction, error) {
	return store.GetTransaction(ctx, transactionID)
}

func (store *memStore) FindTransactionByExternalReference(ctx context.Context, reference string) (Transaction, error) {
	if store.findMissesLeft > 0 {
		store.findMissesLeft--
		return Transaction{}, ErrTransactionNotFound
	}
	for _, txn := range store.transactions {
		if txn.ExternalReference == reference && txn.Status != StatusCancelled {
			return txn, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (store *memStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	transactions := make([]Transaction, 0, len(store.transactions))
	for _, txn := range store.transactions {
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		if filter.ParentTransactionID != "" && txn.ParentTransactionID != filter.ParentTransactionID {
			continue
		}
		transactions = append(transactions, txn)
	}
	sort.Slice(transactions, func(left, right int) bool {
		return transactions[left].TransactionID < transactions[right].TransactionID
	})
	return transactions, nil
}

func (store *memStore) ListChildTransactions(ctx context.Context, parentTransactionID string) ([]Transaction, error) {
	children := make([]Transaction, 0, 4)
	for _, txn := range store.transactions {
		if txn.ParentTransactionID == parentTransactionID {
			children = append(children, txn)
		}
	}
	sort.Slice(children, func(left, right int) bool {
		return children[left].TransactionID < children[right].TransactionID
	})
	return children, nil
}

func (store *memStore) InsertRule(ctx context.Context, rule AllocationRule) (AllocationRule, error) {
	if rule.RuleID == "" {
		rule.RuleID = store.allocateID("rule")
	}
	store.rules[rule.RuleID] = rule
	return rule, nil
}

func (store *memStore) GetRule(ctx context.Context, ruleID string) (AllocationRule, error) {
	rule, ok := store.rules[ruleID]
	if !ok {
		return AllocationRule{}, ErrRuleNotFound
	}
	return rule, nil
}

func (store *memStore) ListRules(ctx context.Context, activeOnly bool) ([]AllocationRule, error) {
	store.listRulesCalls++
	if store.listRulesErr != nil {
		return nil, store.listRulesErr
	}
	rules := make([]AllocationRule, 0, len(store.rules))
	for _, rule := range store.rules {
		if activeOnly && !rule.Active {
			continue
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(left, right int) bool { return rules[left].RuleID < rules[right].RuleID })
	return rules, nil
}

func (store *memStore) SetRuleActive(ctx context.Context, ruleID string, active bool) error {
	rule, ok := store.rules[ruleID]
	if !ok {
		return ErrRuleNotFound
	}
	rule.Active = active
	store.rules[ruleID] = rule
	return nil
}

func (store *memStore) AppendAuditEntry(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if store.auditErr != nil {
		return AuditEntry{}, store.auditErr
	}
	if entry.EntryID == "" {
		entry.EntryID = store.allocateID("audit")
	}
	store.auditEntries = append(store.auditEntries, entry)
	return entry, nil
}

func (store *memStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	entries := make([]AuditEntry, 0, len(store.auditEntries))
	for _, entry := range store.auditEntries {
		if filter.SubjectType != "" && entry.SubjectType != filter.SubjectType {
			continue
		}
		if filter.SubjectID != "" && entry.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *memStore) InsertReconciliation(ctx context.Context, record ReconciliationRecord) (ReconciliationRecord, error) {
	if record.RecordID == "" {
		record.RecordID = store.allocateID("recon")
	}
	store.reconciliations = append(store.reconciliations, record)
	return record, nil
}

func (store *memStore) ListReconciliations(ctx context.Context, limit int) ([]ReconciliationRecord, error) {
	records := append([]ReconciliationRecord(nil), store.reconciliations...)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (store *memStore) addAccount(test *testing.T, accountID string, name string, accountType AccountType, balanceUnits int64, active bool) {
	test.Helper()
	store.accounts[accountID] = Account{
		AccountID:    accountID,
		Name:         name,
		Type:         accountType,
		BalanceUnits: balanceUnits,
		Active:       active,
	}
}

func (store *memStore) mustAccount(test *testing.T, accountID string) Account {
	test.Helper()
	account, ok := store.accounts[accountID]
	if !ok {
		test.Fatalf("account %s not found", accountID)
	}
	return account
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAmount(test *testing.T, raw string) AmountUnits {
	test.Helper()
	amount, err := ParseAmountUnits(raw)
	if err != nil {
		test.Fatalf("parse amount %q: %v", raw, err)
	}
	return amount
}

func mustPercentage(test *testing.T, raw string) Percentage {
	test.Helper()
	percentage, err := ParsePercentage(raw)
	if err != nil {
		test.Fatalf("parse percentage %q: %v", raw, err)
	}
	return percentage
}

func mustUnits(test *testing.T, raw string) int64 {
	test.Helper()
	units, err := ParseBalanceUnits(raw)
	if err != nil {
		test.Fatalf("parse units %q: %v", raw, err)
	}
	return units
}

// recorderLogger captures operation callbacks for assertions.
type recorderLogger struct {
	entries []OperationLog
}

func (recorder *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	recorder.entries = append(recorder.entries, entry)
}
