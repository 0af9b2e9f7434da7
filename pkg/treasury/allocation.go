package treasury

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Allocate distributes a completed external transaction across logical
// accounts according to the highest-priority matching rule. The whole
// operation happens in one atomic unit: child transactions, balance
// adjustments, and the audit entry are all visible together or not at all.
//
// Calling Allocate again for the same parent returns the existing children
// unchanged, so replayed or duplicated events are safe to re-process.
func (service *Service) Allocate(requestContext context.Context, parentTransactionID string, actor string) ([]Transaction, error) {
	if strings.TrimSpace(parentTransactionID) == "" {
		return nil, WrapError(operationAllocate, "transaction", "validate", fmt.Errorf("%w: empty value", ErrInvalidTransactionID))
	}
	if strings.TrimSpace(actor) == "" {
		actor = defaultActor
	}
	var children []Transaction
	var appliedRuleID string
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		// The row lock on the parent serializes concurrent allocations of the
		// same event; the loser re-reads after the winner commits and finds
		// the children already present.
		parent, err := transactionStore.GetTransactionForUpdate(ctx, parentTransactionID)
		if err != nil {
			return err
		}
		existing, err := transactionStore.ListChildTransactions(ctx, parentTransactionID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			children = existing
			return nil
		}
		if !parent.Type.External() || parent.Status != StatusCompleted {
			return nil
		}
		rules, err := transactionStore.ListRules(ctx, true)
		if err != nil {
			return err
		}
		rule, found := selectRule(rules, parent.Type, parent.AmountUnits)
		if !found {
			return fmt.Errorf("%w: %s of %s", ErrNoApplicableRule, parent.Type, parent.AmountUnits)
		}
		if err := requireActiveSplitAccounts(ctx, transactionStore, rule.Splits); err != nil {
			return err
		}

		anchorAccountID := parent.ToAccountID
		sign := int64(1)
		if parent.Type == TransactionExternalWithdrawal {
			anchorAccountID = parent.FromAccountID
			sign = -1
		}
		// The settled event itself lands on the anchor account before the
		// split moves value onward.
		if err := transactionStore.AdjustBalance(ctx, anchorAccountID, sign*parent.AmountUnits.Int64()); err != nil {
			return err
		}

		shares := computeShares(parent.AmountUnits, rule.Splits)
		nowUnixUTC := service.nowFn()
		created := make([]Transaction, 0, len(rule.Splits))
		shareAmounts := make(map[string]string, len(rule.Splits))
		for index, split := range rule.Splits {
			share := shares[index]
			if share == 0 {
				continue
			}
			child := Transaction{
				Type:                TransactionInternalAllocation,
				Status:              StatusCompleted,
				AmountUnits:         AmountUnits(share),
				ParentTransactionID: parent.TransactionID,
				Description:         fmt.Sprintf("auto-allocation: %s%% to %s", split.Percentage, split.AccountID),
				MetadataJSON: marshalSnapshot(map[string]string{
					"allocation_rule_id":      rule.RuleID,
					"allocation_rule_name":    rule.Name,
					"allocation_rule_version": strconv.Itoa(rule.Version),
					"percentage":              split.Percentage.String(),
				}),
				PerformedBy:      actor,
				CreatedUnixUTC:   nowUnixUTC,
				CompletedUnixUTC: nowUnixUTC,
			}
			if sign > 0 {
				child.FromAccountID = anchorAccountID
				child.ToAccountID = split.AccountID
			} else {
				child.FromAccountID = split.AccountID
				child.ToAccountID = anchorAccountID
			}
			inserted, insertErr := transactionStore.InsertTransaction(ctx, child)
			if insertErr != nil {
				return insertErr
			}
			if err := transactionStore.AdjustBalance(ctx, anchorAccountID, -sign*share); err != nil {
				return err
			}
			if err := transactionStore.AdjustBalance(ctx, split.AccountID, sign*share); err != nil {
				return err
			}
			created = append(created, inserted)
			shareAmounts[split.AccountID] = FormatUnits(share)
		}

		childIDs := make([]string, 0, len(created))
		for _, child := range created {
			childIDs = append(childIDs, child.TransactionID)
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType:    SubjectTransaction,
			SubjectID:      parent.TransactionID,
			Action:         ActionExecute,
			Actor:          actor,
			AfterJSON:      marshalValue(allocationSnapshot{RuleID: rule.RuleID, RuleName: rule.Name, RuleVersion: rule.Version, ChildTransactions: childIDs, Shares: shareAmounts, TotalAllocated: parent.AmountUnits.String()}),
			CreatedUnixUTC: nowUnixUTC,
		})
		if auditErr != nil {
			return auditErr
		}
		children = created
		appliedRuleID = rule.RuleID
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation:     operationAllocate,
		TransactionID: parentTransactionID,
		RuleID:        appliedRuleID,
		Actor:         actor,
		Error:         operationError,
	})
	return children, operationError
}

type allocationSnapshot struct {
	RuleID            string            `json:"allocation_rule_id"`
	RuleName          string            `json:"allocation_rule_name"`
	RuleVersion       int               `json:"allocation_rule_version"`
	ChildTransactions []string          `json:"child_transactions"`
	Shares            map[string]string `json:"shares"`
	TotalAllocated    string            `json:"total_allocated"`
}

// computeShares splits an amount by the rule percentages using round-down
// integer arithmetic. The remainder, nonnegative and smaller than one unit per
// split, is absorbed by the first split so the shares sum to the parent amount
// exactly.
func computeShares(amount AmountUnits, splits []RuleSplit) []int64 {
	amountDecimal := decimal.NewFromInt(amount.Int64())
	shares := make([]int64, len(splits))
	var allocated int64
	for index, split := range splits {
		share := amountDecimal.Mul(split.Percentage.Decimal()).Shift(-2).Floor().IntPart()
		shares[index] = share
		allocated += share
	}
	if len(shares) > 0 {
		shares[0] += amount.Int64() - allocated
	}
	return shares
}

func requireActiveSplitAccounts(ctx context.Context, store Store, splits []RuleSplit) error {
	for _, split := range splits {
		if err := requireActiveAccount(ctx, store, split.AccountID); err != nil {
			return err
		}
	}
	return nil
}
