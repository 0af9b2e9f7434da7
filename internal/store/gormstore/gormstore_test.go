package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/treasury/pkg/treasury"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustCreateAccount(test *testing.T, store *Store, name string, accountType treasury.AccountType) treasury.Account {
	test.Helper()
	account, err := store.CreateAccount(context.Background(), treasury.Account{
		Name:   name,
		Type:   accountType,
		Active: true,
	})
	if err != nil {
		test.Fatalf("create account %s: %v", name, err)
	}
	return account
}

func mustParseAmount(test *testing.T, raw string) treasury.AmountUnits {
	test.Helper()
	amount, err := treasury.ParseAmountUnits(raw)
	if err != nil {
		test.Fatalf("parse amount %s: %v", raw, err)
	}
	return amount
}

func mustParsePercentage(test *testing.T, raw string) treasury.Percentage {
	test.Helper()
	percentage, err := treasury.ParsePercentage(raw)
	if err != nil {
		test.Fatalf("parse percentage %s: %v", raw, err)
	}
	return percentage
}

func TestCreateAccountRejectsDuplicateName(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)

	created := mustCreateAccount(test, store, "operating", treasury.AccountOperating)
	if created.AccountID == "" {
		test.Fatalf("created account has no id")
	}
	reloaded, err := store.GetAccountByName(context.Background(), "operating")
	if err != nil {
		test.Fatalf("get by name: %v", err)
	}
	if reloaded.AccountID != created.AccountID {
		test.Fatalf("lookup returned %s, want %s", reloaded.AccountID, created.AccountID)
	}

	_, err = store.CreateAccount(context.Background(), treasury.Account{
		Name:   "operating",
		Type:   treasury.AccountCustom,
		Active: true,
	})
	if !errors.Is(err, treasury.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestAdjustBalanceAndSumActiveBalances(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	operating := mustCreateAccount(test, store, "operating", treasury.AccountOperating)
	reserve := mustCreateAccount(test, store, "reserve", treasury.AccountReserve)

	if err := store.AdjustBalance(context.Background(), operating.AccountID, 600); err != nil {
		test.Fatalf("adjust operating: %v", err)
	}
	if err := store.AdjustBalance(context.Background(), reserve.AccountID, 400); err != nil {
		test.Fatalf("adjust reserve: %v", err)
	}
	if err := store.AdjustBalance(context.Background(), "missing", 1); !errors.Is(err, treasury.ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	total, err := store.SumActiveBalances(context.Background())
	if err != nil {
		test.Fatalf("sum: %v", err)
	}
	if total != 1000 {
		test.Fatalf("sum = %d, want 1000", total)
	}

	if err := store.SetAccountActive(context.Background(), reserve.AccountID, false); err != nil {
		test.Fatalf("deactivate: %v", err)
	}
	total, err = store.SumActiveBalances(context.Background())
	if err != nil {
		test.Fatalf("sum after deactivation: %v", err)
	}
	if total != 600 {
		test.Fatalf("sum = %d, want 600", total)
	}
	active, err := store.ListAccounts(context.Background(), true)
	if err != nil {
		test.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].AccountID != operating.AccountID {
		test.Fatalf("active accounts = %+v", active)
	}
}

func TestInsertTransactionEnforcesExternalReference(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	operating := mustCreateAccount(test, store, "operating", treasury.AccountOperating)

	inserted, err := store.InsertTransaction(context.Background(), treasury.Transaction{
		Type:              treasury.TransactionExternalDeposit,
		Status:            treasury.StatusCompleted,
		AmountUnits:       mustParseAmount(test, "100.00000001"),
		ToAccountID:       operating.AccountID,
		ExternalReference: "bank-settle-1",
		CreatedUnixUTC:    1700000000,
		CompletedUnixUTC:  1700000000,
	})
	if err != nil {
		test.Fatalf("insert: %v", err)
	}

	_, err = store.InsertTransaction(context.Background(), treasury.Transaction{
		Type:              treasury.TransactionExternalDeposit,
		Status:            treasury.StatusCompleted,
		AmountUnits:       mustParseAmount(test, "100.00000001"),
		ToAccountID:       operating.AccountID,
		ExternalReference: "bank-settle-1",
		CreatedUnixUTC:    1700000001,
	})
	if !errors.Is(err, treasury.ErrDuplicateExternalReference) {
		test.Fatalf("expected ErrDuplicateExternalReference, got %v", err)
	}

	found, err := store.FindTransactionByExternalReference(context.Background(), "bank-settle-1")
	if err != nil {
		test.Fatalf("find by reference: %v", err)
	}
	if found.TransactionID != inserted.TransactionID {
		test.Fatalf("lookup returned %s, want %s", found.TransactionID, inserted.TransactionID)
	}
	if found.AmountUnits.String() != "100.00000001" {
		test.Fatalf("amount round-trip = %s", found.AmountUnits.String())
	}
	if _, err := store.FindTransactionByExternalReference(context.Background(), "unknown"); !errors.Is(err, treasury.ErrTransactionNotFound) {
		test.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	failure := errors.New("abort")

	err := store.WithTx(context.Background(), func(ctx context.Context, txStore treasury.Store) error {
		if _, createErr := txStore.CreateAccount(ctx, treasury.Account{
			Name:   "doomed",
			Type:   treasury.AccountCustom,
			Active: true,
		}); createErr != nil {
			return createErr
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected the callback error, got %v", err)
	}
	if _, err := store.GetAccountByName(context.Background(), "doomed"); !errors.Is(err, treasury.ErrAccountNotFound) {
		test.Fatalf("rolled-back account still visible: %v", err)
	}
}

func TestRuleSplitsRoundTrip(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	operating := mustCreateAccount(test, store, "operating", treasury.AccountOperating)
	reserve := mustCreateAccount(test, store, "reserve", treasury.AccountReserve)

	inserted, err := store.InsertRule(context.Background(), treasury.AllocationRule{
		Name:        "default",
		Version:     1,
		TriggerType: treasury.TransactionExternalDeposit,
		Splits: []treasury.RuleSplit{
			{AccountID: operating.AccountID, Percentage: mustParsePercentage(test, "60")},
			{AccountID: reserve.AccountID, Percentage: mustParsePercentage(test, "40")},
		},
		Priority:       100,
		Active:         true,
		MinAmountUnits: 500,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert rule: %v", err)
	}

	reloaded, err := store.GetRule(context.Background(), inserted.RuleID)
	if err != nil {
		test.Fatalf("get rule: %v", err)
	}
	if len(reloaded.Splits) != 2 {
		test.Fatalf("splits = %+v", reloaded.Splits)
	}
	if reloaded.Splits[0].AccountID != operating.AccountID || reloaded.Splits[0].Percentage.String() != "60" {
		test.Fatalf("first split = %+v", reloaded.Splits[0])
	}
	if reloaded.MinAmountUnits != 500 || reloaded.MaxAmountUnits != 0 {
		test.Fatalf("bounds = %d..%d", reloaded.MinAmountUnits, reloaded.MaxAmountUnits)
	}

	if err := store.SetRuleActive(context.Background(), inserted.RuleID, false); err != nil {
		test.Fatalf("deactivate rule: %v", err)
	}
	active, err := store.ListRules(context.Background(), true)
	if err != nil {
		test.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		test.Fatalf("deactivated rule still listed: %+v", active)
	}
	all, err := store.ListRules(context.Background(), false)
	if err != nil {
		test.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		test.Fatalf("rule history lost: %+v", all)
	}
}

func TestListChildTransactions(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	operating := mustCreateAccount(test, store, "operating", treasury.AccountOperating)
	reserve := mustCreateAccount(test, store, "reserve", treasury.AccountReserve)

	parent, err := store.InsertTransaction(context.Background(), treasury.Transaction{
		Type:              treasury.TransactionExternalDeposit,
		Status:            treasury.StatusCompleted,
		AmountUnits:       mustParseAmount(test, "100"),
		ToAccountID:       operating.AccountID,
		ExternalReference: "parent-ref",
		CreatedUnixUTC:    1700000000,
	})
	if err != nil {
		test.Fatalf("insert parent: %v", err)
	}
	for _, target := range []string{operating.AccountID, reserve.AccountID} {
		if _, err := store.InsertTransaction(context.Background(), treasury.Transaction{
			Type:                treasury.TransactionInternalAllocation,
			Status:              treasury.StatusCompleted,
			AmountUnits:         mustParseAmount(test, "50"),
			ToAccountID:         target,
			ParentTransactionID: parent.TransactionID,
			CreatedUnixUTC:      1700000001,
		}); err != nil {
			test.Fatalf("insert child: %v", err)
		}
	}

	children, err := store.ListChildTransactions(context.Background(), parent.TransactionID)
	if err != nil {
		test.Fatalf("list children: %v", err)
	}
	if len(children) != 2 {
		test.Fatalf("children = %+v", children)
	}
	for _, child := range children {
		if child.ParentTransactionID != parent.TransactionID {
			test.Fatalf("child %s has parent %s", child.TransactionID, child.ParentTransactionID)
		}
	}

	filtered, err := store.ListTransactions(context.Background(), treasury.TransactionFilter{
		Type: treasury.TransactionInternalAllocation,
	})
	if err != nil {
		test.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 2 {
		test.Fatalf("type filter returned %d rows", len(filtered))
	}
}

func TestAuditTrailFiltering(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)

	entries := []treasury.AuditEntry{
		{SubjectType: treasury.SubjectAccount, SubjectID: "acct-1", Action: treasury.ActionCreate, Actor: "boot", CreatedUnixUTC: 1700000000},
		{SubjectType: treasury.SubjectTransaction, SubjectID: "txn-1", Action: treasury.ActionCreate, Actor: "ingestor", CreatedUnixUTC: 1700000001},
		{SubjectType: treasury.SubjectTransaction, SubjectID: "txn-1", Action: treasury.ActionExecute, Actor: "allocator", CreatedUnixUTC: 1700000002},
	}
	for _, entry := range entries {
		if _, err := store.AppendAuditEntry(context.Background(), entry); err != nil {
			test.Fatalf("append: %v", err)
		}
	}

	transactionEntries, err := store.ListAuditEntries(context.Background(), treasury.AuditFilter{
		SubjectType: treasury.SubjectTransaction,
		SubjectID:   "txn-1",
	})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactionEntries) != 2 {
		test.Fatalf("subject filter returned %d entries", len(transactionEntries))
	}
	actorEntries, err := store.ListAuditEntries(context.Background(), treasury.AuditFilter{Actor: "boot"})
	if err != nil {
		test.Fatalf("list by actor: %v", err)
	}
	if len(actorEntries) != 1 || actorEntries[0].SubjectID != "acct-1" {
		test.Fatalf("actor filter returned %+v", actorEntries)
	}
}

func TestReconciliationHistory(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)

	for _, record := range []treasury.ReconciliationRecord{
		{ExternalBalanceUnits: 1000, InternalBalanceUnits: 1000, Status: treasury.ReconciliationMatched, Severity: treasury.SeverityNone, CreatedUnixUTC: 1700000000},
		{ExternalBalanceUnits: 1050, InternalBalanceUnits: 1000, DiscrepancyUnits: 50, Status: treasury.ReconciliationMismatched, Severity: treasury.SeverityMajor, SourceLabel: "custodian", CreatedUnixUTC: 1700000010},
	} {
		if _, err := store.InsertReconciliation(context.Background(), record); err != nil {
			test.Fatalf("insert reconciliation: %v", err)
		}
	}

	records, err := store.ListReconciliations(context.Background(), 1)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		test.Fatalf("limit ignored: %d records", len(records))
	}
	if records[0].Status != treasury.ReconciliationMismatched || records[0].SourceLabel != "custodian" {
		test.Fatalf("newest record = %+v", records[0])
	}
}
