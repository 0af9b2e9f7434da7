package treasury

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RuleDraft carries the fields needed to create an allocation rule.
type RuleDraft struct {
	Name           string
	TriggerType    TransactionType
	Splits         []RuleSplit
	Priority       int
	MinAmountUnits int64
	MaxAmountUnits int64
	Description    string
	CreatedBy      string
}

// CreateRule validates and persists a new allocation rule. If an active rule
// with the same name exists it is deactivated and the new rule takes the next
// version number, so historical allocations keep pointing at the exact rule
// they used.
func (service *Service) CreateRule(requestContext context.Context, draft RuleDraft) (AllocationRule, error) {
	var createdRule AllocationRule
	operationError := service.createRule(requestContext, draft, &createdRule)
	service.logOperation(requestContext, OperationLog{
		Operation: operationCreateRule,
		RuleID:    createdRule.RuleID,
		Actor:     draft.CreatedBy,
		Error:     operationError,
	})
	if operationError == nil {
		service.invalidateRuleCache()
	}
	return createdRule, operationError
}

func (service *Service) createRule(requestContext context.Context, draft RuleDraft, createdRule *AllocationRule) error {
	draft.Name = strings.TrimSpace(draft.Name)
	if strings.TrimSpace(draft.CreatedBy) == "" {
		draft.CreatedBy = defaultActor
	}
	if err := validateRuleDraft(draft); err != nil {
		return WrapError(operationCreateRule, "rule", "validate", err)
	}
	return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		for _, split := range draft.Splits {
			if err := requireActiveAccount(ctx, transactionStore, split.AccountID); err != nil {
				return err
			}
		}
		allRules, err := transactionStore.ListRules(ctx, false)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		version := 1
		for _, existing := range allRules {
			if existing.Name != draft.Name {
				continue
			}
			if existing.Version >= version {
				version = existing.Version + 1
			}
			if !existing.Active {
				continue
			}
			if err := transactionStore.SetRuleActive(ctx, existing.RuleID, false); err != nil {
				return err
			}
			_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
				SubjectType:    SubjectAllocationRule,
				SubjectID:      existing.RuleID,
				Action:         ActionUpdate,
				Actor:          draft.CreatedBy,
				BeforeJSON:     marshalSnapshot(map[string]string{"is_active": "true", "version": strconv.Itoa(existing.Version)}),
				AfterJSON:      marshalSnapshot(map[string]string{"is_active": "false", "version": strconv.Itoa(existing.Version)}),
				CreatedUnixUTC: nowUnixUTC,
			})
			if auditErr != nil {
				return auditErr
			}
		}
		inserted, insertErr := transactionStore.InsertRule(ctx, AllocationRule{
			Name:           draft.Name,
			Version:        version,
			TriggerType:    draft.TriggerType,
			Splits:         draft.Splits,
			Priority:       draft.Priority,
			Active:         true,
			MinAmountUnits: draft.MinAmountUnits,
			MaxAmountUnits: draft.MaxAmountUnits,
			Description:    draft.Description,
			CreatedBy:      draft.CreatedBy,
			CreatedUnixUTC: nowUnixUTC,
		})
		if insertErr != nil {
			return insertErr
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType: SubjectAllocationRule,
			SubjectID:   inserted.RuleID,
			Action:      ActionCreate,
			Actor:       draft.CreatedBy,
			AfterJSON: marshalSnapshot(map[string]string{
				"rule_name": inserted.Name,
				"version":   strconv.Itoa(inserted.Version),
				"priority":  strconv.Itoa(inserted.Priority),
			}),
			CreatedUnixUTC: nowUnixUTC,
		})
		if auditErr != nil {
			return auditErr
		}
		*createdRule = inserted
		return nil
	})
}

// DeactivateRule retires a rule without deleting it.
func (service *Service) DeactivateRule(requestContext context.Context, ruleID string, actor string) error {
	if strings.TrimSpace(actor) == "" {
		actor = defaultActor
	}
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		rule, err := transactionStore.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if !rule.Active {
			return nil
		}
		if err := transactionStore.SetRuleActive(ctx, ruleID, false); err != nil {
			return err
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType:    SubjectAllocationRule,
			SubjectID:      ruleID,
			Action:         ActionUpdate,
			Actor:          actor,
			BeforeJSON:     marshalSnapshot(map[string]string{"is_active": "true"}),
			AfterJSON:      marshalSnapshot(map[string]string{"is_active": "false"}),
			CreatedUnixUTC: service.nowFn(),
		})
		return auditErr
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationDeactivateRule,
		RuleID:    ruleID,
		Actor:     actor,
		Error:     operationError,
	})
	if operationError == nil {
		service.invalidateRuleCache()
	}
	return operationError
}

// GetRule loads one rule by id.
func (service *Service) GetRule(requestContext context.Context, ruleID string) (AllocationRule, error) {
	return service.store.GetRule(requestContext, ruleID)
}

// ListRules lists rules, optionally restricted to active ones. Active listings
// are served from a cache refreshed on write and bounded by the configured TTL,
// since rules change far less often than transactions.
func (service *Service) ListRules(requestContext context.Context, activeOnly bool) ([]AllocationRule, error) {
	if !activeOnly {
		return service.store.ListRules(requestContext, false)
	}
	return service.activeRules(requestContext)
}

// ActiveRuleFor resolves the rule a triggering transaction would use right
// now. Reads go through the rule cache; the allocation engine itself always
// re-reads inside its transaction.
func (service *Service) ActiveRuleFor(requestContext context.Context, triggerType TransactionType, amount AmountUnits) (AllocationRule, error) {
	rules, err := service.activeRules(requestContext)
	if err != nil {
		return AllocationRule{}, err
	}
	rule, found := selectRule(rules, triggerType, amount)
	if !found {
		return AllocationRule{}, fmt.Errorf("%w: %s of %s", ErrNoApplicableRule, triggerType, amount)
	}
	return rule, nil
}

func (service *Service) activeRules(requestContext context.Context) ([]AllocationRule, error) {
	service.ruleCacheMu.Lock()
	defer service.ruleCacheMu.Unlock()
	nowUnixUTC := service.nowFn()
	if service.cachedRules != nil && nowUnixUTC-service.cachedAtUnixUTC <= service.ruleCacheTTL {
		return append([]AllocationRule(nil), service.cachedRules...), nil
	}
	rules, err := service.store.ListRules(requestContext, true)
	if err != nil {
		if service.cachedRules != nil {
			return append([]AllocationRule(nil), service.cachedRules...), nil
		}
		return nil, err
	}
	service.cachedRules = rules
	service.cachedAtUnixUTC = nowUnixUTC
	return append([]AllocationRule(nil), rules...), nil
}

func (service *Service) invalidateRuleCache() {
	service.ruleCacheMu.Lock()
	defer service.ruleCacheMu.Unlock()
	service.cachedRules = nil
	service.cachedAtUnixUTC = 0
}

// selectRule picks the highest-priority active rule matching the trigger and
// amount. Ties resolve to the lowest priority value, then the most recently
// created, then the lexically greatest id, so the choice is deterministic.
func selectRule(rules []AllocationRule, triggerType TransactionType, amount AmountUnits) (AllocationRule, bool) {
	matching := make([]AllocationRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Matches(triggerType, amount) {
			matching = append(matching, rule)
		}
	}
	if len(matching) == 0 {
		return AllocationRule{}, false
	}
	sort.SliceStable(matching, func(left, right int) bool {
		if matching[left].Priority != matching[right].Priority {
			return matching[left].Priority < matching[right].Priority
		}
		if matching[left].CreatedUnixUTC != matching[right].CreatedUnixUTC {
			return matching[left].CreatedUnixUTC > matching[right].CreatedUnixUTC
		}
		return matching[left].RuleID > matching[right].RuleID
	})
	return matching[0], true
}

func validateRuleDraft(draft RuleDraft) error {
	if draft.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if _, err := ParseTransactionType(draft.TriggerType.String()); err != nil {
		return err
	}
	if !draft.TriggerType.External() {
		return fmt.Errorf("%w: trigger type must be an external event", ErrInvalidRule)
	}
	if len(draft.Splits) == 0 {
		return fmt.Errorf("%w: at least one split is required", ErrInvalidRule)
	}
	seen := make(map[string]struct{}, len(draft.Splits))
	sum := decimal.Zero
	for _, split := range draft.Splits {
		if strings.TrimSpace(split.AccountID) == "" {
			return fmt.Errorf("%w: split account id is required", ErrInvalidRule)
		}
		if _, duplicate := seen[split.AccountID]; duplicate {
			return fmt.Errorf("%w: duplicate split account %s", ErrInvalidRule, split.AccountID)
		}
		seen[split.AccountID] = struct{}{}
		if _, err := NewPercentage(split.Percentage.Decimal()); err != nil {
			return err
		}
		sum = sum.Add(split.Percentage.Decimal())
	}
	target := decimal.RequireFromString(percentSumTarget)
	epsilon := decimal.RequireFromString(percentSumEpsilon)
	if sum.Sub(target).Abs().GreaterThan(epsilon) {
		return fmt.Errorf("%w: percentages sum to %s, expected %s", ErrInvalidRule, sum, target)
	}
	if draft.MinAmountUnits < 0 || draft.MaxAmountUnits < 0 {
		return fmt.Errorf("%w: amount bounds must not be negative", ErrInvalidRule)
	}
	if draft.MinAmountUnits > 0 && draft.MaxAmountUnits > 0 && draft.MinAmountUnits > draft.MaxAmountUnits {
		return fmt.Errorf("%w: min amount exceeds max amount", ErrInvalidRule)
	}
	return nil
}
