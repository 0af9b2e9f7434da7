package treasury

import (
	"context"
	"errors"
	"testing"
)

func ruleFixture(test *testing.T) (*memStore, *Service) {
	test.Helper()
	store := newMemStore()
	store.addAccount(test, "acct-operating", "operating", AccountOperating, 0, true)
	store.addAccount(test, "acct-reserve", "reserve", AccountReserve, 0, true)
	service := mustNewService(test, store)
	return store, service
}

func evenSplits(test *testing.T) []RuleSplit {
	test.Helper()
	return []RuleSplit{
		{AccountID: "acct-operating", Percentage: mustPercentage(test, "50")},
		{AccountID: "acct-reserve", Percentage: mustPercentage(test, "50")},
	}
}

func TestCreateRulePercentageSumValidation(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name       string
		percentOne string
		percentTwo string
		wantErr    bool
	}{
		{"exact hundred", "60", "40", false},
		{"within epsilon", "60.0000004", "39.9999999", false},
		{"just under", "60", "39.999", true},
		{"just over", "60", "40.001", true},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, service := ruleFixture(test)
			_, err := service.CreateRule(context.Background(), RuleDraft{
				Name:        "sum-check",
				TriggerType: TransactionExternalDeposit,
				Splits: []RuleSplit{
					{AccountID: "acct-operating", Percentage: mustPercentage(test, testCase.percentOne)},
					{AccountID: "acct-reserve", Percentage: mustPercentage(test, testCase.percentTwo)},
				},
			})
			if testCase.wantErr && !errors.Is(err, ErrInvalidRule) {
				test.Fatalf("expected ErrInvalidRule, got %v", err)
			}
			if !testCase.wantErr && err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateRuleRejectsDuplicateSplitAccounts(test *testing.T) {
	test.Parallel()
	_, service := ruleFixture(test)
	_, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "dupes",
		TriggerType: TransactionExternalDeposit,
		Splits: []RuleSplit{
			{AccountID: "acct-operating", Percentage: mustPercentage(test, "50")},
			{AccountID: "acct-operating", Percentage: mustPercentage(test, "50")},
		},
	})
	if !errors.Is(err, ErrInvalidRule) {
		test.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestCreateRuleRequiresExternalTrigger(test *testing.T) {
	test.Parallel()
	_, service := ruleFixture(test)
	_, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "internal-trigger",
		TriggerType: TransactionInternalAllocation,
		Splits:      evenSplits(test),
	})
	if !errors.Is(err, ErrInvalidRule) {
		test.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestCreateRuleRequiresActiveSplitAccounts(test *testing.T) {
	test.Parallel()
	store, service := ruleFixture(test)
	if err := store.SetAccountActive(context.Background(), "acct-reserve", false); err != nil {
		test.Fatalf("deactivate: %v", err)
	}
	_, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "inactive-target",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	})
	if !errors.Is(err, ErrAccountInactive) {
		test.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestCreateRuleVersionsAndRetiresPredecessor(test *testing.T) {
	test.Parallel()
	_, service := ruleFixture(test)
	first, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "default",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	})
	if err != nil {
		test.Fatalf("first create: %v", err)
	}
	if first.Version != 1 {
		test.Fatalf("first version = %d, want 1", first.Version)
	}

	second, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "default",
		TriggerType: TransactionExternalDeposit,
		Splits: []RuleSplit{
			{AccountID: "acct-operating", Percentage: mustPercentage(test, "70")},
			{AccountID: "acct-reserve", Percentage: mustPercentage(test, "30")},
		},
	})
	if err != nil {
		test.Fatalf("second create: %v", err)
	}
	if second.Version != 2 {
		test.Fatalf("second version = %d, want 2", second.Version)
	}

	retired, err := service.GetRule(context.Background(), first.RuleID)
	if err != nil {
		test.Fatalf("get retired rule: %v", err)
	}
	if retired.Active {
		test.Fatalf("predecessor rule still active after new version")
	}
	active, err := service.ListRules(context.Background(), true)
	if err != nil {
		test.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].RuleID != second.RuleID {
		test.Fatalf("active rules = %+v, want only the new version", active)
	}
}

func TestDeactivateRuleKeepsHistory(test *testing.T) {
	test.Parallel()
	store, service := ruleFixture(test)
	rule, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "retire-me",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if err := service.DeactivateRule(context.Background(), rule.RuleID, "operator"); err != nil {
		test.Fatalf("deactivate: %v", err)
	}
	if _, ok := store.rules[rule.RuleID]; !ok {
		test.Fatalf("deactivation deleted the rule")
	}
	reloaded, err := service.GetRule(context.Background(), rule.RuleID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if reloaded.Active {
		test.Fatalf("rule still active after deactivation")
	}
}

func TestSelectRuleTieBreakIsDeterministic(test *testing.T) {
	test.Parallel()
	amount := mustAmount(test, "10")
	older := AllocationRule{RuleID: "rule-a", TriggerType: TransactionExternalDeposit, Active: true, Priority: 10, CreatedUnixUTC: 100}
	newer := AllocationRule{RuleID: "rule-b", TriggerType: TransactionExternalDeposit, Active: true, Priority: 10, CreatedUnixUTC: 200}
	urgent := AllocationRule{RuleID: "rule-c", TriggerType: TransactionExternalDeposit, Active: true, Priority: 1, CreatedUnixUTC: 50}

	selected, found := selectRule([]AllocationRule{older, newer, urgent}, TransactionExternalDeposit, amount)
	if !found || selected.RuleID != "rule-c" {
		test.Fatalf("expected lowest priority value to win, got %+v", selected)
	}

	selected, found = selectRule([]AllocationRule{older, newer}, TransactionExternalDeposit, amount)
	if !found || selected.RuleID != "rule-b" {
		test.Fatalf("expected newest rule to win the priority tie, got %+v", selected)
	}

	sameCreation := AllocationRule{RuleID: "rule-z", TriggerType: TransactionExternalDeposit, Active: true, Priority: 10, CreatedUnixUTC: 100}
	selected, found = selectRule([]AllocationRule{older, sameCreation}, TransactionExternalDeposit, amount)
	if !found || selected.RuleID != "rule-z" {
		test.Fatalf("expected lexically greatest id to win the full tie, got %+v", selected)
	}
}

func TestActiveRuleForResolvesByTriggerAndAmount(test *testing.T) {
	test.Parallel()
	_, service := ruleFixture(test)
	created, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "deposits-only",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}

	resolved, err := service.ActiveRuleFor(context.Background(), TransactionExternalDeposit, mustAmount(test, "10"))
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolved.RuleID != created.RuleID {
		test.Fatalf("resolved %s, want %s", resolved.RuleID, created.RuleID)
	}
	if _, err := service.ActiveRuleFor(context.Background(), TransactionExternalWithdrawal, mustAmount(test, "10")); !errors.Is(err, ErrNoApplicableRule) {
		test.Fatalf("expected ErrNoApplicableRule for withdrawals, got %v", err)
	}
}

func TestRuleAmountBounds(test *testing.T) {
	test.Parallel()
	rule := AllocationRule{
		TriggerType:    TransactionExternalDeposit,
		Active:         true,
		MinAmountUnits: mustUnits(test, "10"),
		MaxAmountUnits: mustUnits(test, "100"),
	}
	if rule.Matches(TransactionExternalDeposit, mustAmount(test, "9.99999999")) {
		test.Fatalf("amount below min matched")
	}
	if !rule.Matches(TransactionExternalDeposit, mustAmount(test, "10")) {
		test.Fatalf("amount at min did not match")
	}
	if !rule.Matches(TransactionExternalDeposit, mustAmount(test, "100")) {
		test.Fatalf("amount at max did not match")
	}
	if rule.Matches(TransactionExternalDeposit, mustAmount(test, "100.00000001")) {
		test.Fatalf("amount above max matched")
	}
	if rule.Matches(TransactionExternalWithdrawal, mustAmount(test, "50")) {
		test.Fatalf("wrong trigger type matched")
	}
}

func TestActiveRuleListingUsesCache(test *testing.T) {
	test.Parallel()
	store, service := ruleFixture(test)
	if _, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "cached",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	}); err != nil {
		test.Fatalf("create: %v", err)
	}

	callsBefore := store.listRulesCalls
	if _, err := service.ListRules(context.Background(), true); err != nil {
		test.Fatalf("first list: %v", err)
	}
	if _, err := service.ListRules(context.Background(), true); err != nil {
		test.Fatalf("second list: %v", err)
	}
	if got := store.listRulesCalls - callsBefore; got != 1 {
		test.Fatalf("expected 1 store read for cached listings, got %d", got)
	}
}

func TestActiveRuleListingServesStaleOnStoreError(test *testing.T) {
	test.Parallel()
	store, service := ruleFixture(test)
	created, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "stale-ok",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if _, err := service.ListRules(context.Background(), true); err != nil {
		test.Fatalf("warm cache: %v", err)
	}

	store.listRulesErr = errors.New("backend down")
	// Age the cache past its TTL so the next read goes to the failing store.
	service.ruleCacheMu.Lock()
	service.cachedAtUnixUTC -= service.ruleCacheTTL + 1
	service.ruleCacheMu.Unlock()
	rules, err := service.ListRules(context.Background(), true)
	if err != nil {
		test.Fatalf("expected stale rules, got error %v", err)
	}
	if len(rules) != 1 || rules[0].RuleID != created.RuleID {
		test.Fatalf("stale listing = %+v", rules)
	}
}

func TestCreateRuleInvalidatesCache(test *testing.T) {
	test.Parallel()
	store, service := ruleFixture(test)
	if _, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "first",
		TriggerType: TransactionExternalDeposit,
		Splits:      evenSplits(test),
	}); err != nil {
		test.Fatalf("create first: %v", err)
	}
	if _, err := service.ListRules(context.Background(), true); err != nil {
		test.Fatalf("warm cache: %v", err)
	}
	if _, err := service.CreateRule(context.Background(), RuleDraft{
		Name:        "second",
		TriggerType: TransactionExternalWithdrawal,
		Splits:      evenSplits(test),
	}); err != nil {
		test.Fatalf("create second: %v", err)
	}

	callsBefore := store.listRulesCalls
	rules, err := service.ListRules(context.Background(), true)
	if err != nil {
		test.Fatalf("list after write: %v", err)
	}
	if store.listRulesCalls == callsBefore {
		test.Fatalf("listing after a write did not re-read the store")
	}
	if len(rules) != 2 {
		test.Fatalf("expected both active rules, got %d", len(rules))
	}
}
