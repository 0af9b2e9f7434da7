package treasury

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Reconcile compares an externally reported balance against the sum of active
// account balances and records the outcome. The attempt is always recorded,
// mismatches included, and no account balance is ever mutated here: corrective
// action is a separate, human-decided offsetting transaction.
func (service *Service) Reconcile(requestContext context.Context, externalBalanceUnits int64, sourceLabel string, note string, actor string) (ReconciliationRecord, error) {
	if strings.TrimSpace(actor) == "" {
		actor = defaultActor
	}
	var record ReconciliationRecord
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		internalBalanceUnits, err := transactionStore.SumActiveBalances(ctx)
		if err != nil {
			return err
		}
		discrepancyUnits := externalBalanceUnits - internalBalanceUnits
		status := ReconciliationMatched
		if discrepancyUnits != 0 {
			status = ReconciliationMismatched
		}
		discrepancyPercent := discrepancyPercentage(externalBalanceUnits, internalBalanceUnits, discrepancyUnits)
		nowUnixUTC := service.nowFn()
		inserted, insertErr := transactionStore.InsertReconciliation(ctx, ReconciliationRecord{
			ExternalBalanceUnits: externalBalanceUnits,
			SourceLabel:          sourceLabel,
			InternalBalanceUnits: internalBalanceUnits,
			DiscrepancyUnits:     discrepancyUnits,
			DiscrepancyPercent:   discrepancyPercent,
			Status:               status,
			Severity:             classifyDiscrepancy(discrepancyUnits, discrepancyPercent),
			Note:                 note,
			PerformedBy:          actor,
			CreatedUnixUTC:       nowUnixUTC,
		})
		if insertErr != nil {
			return insertErr
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType: SubjectReconciliation,
			SubjectID:   inserted.RecordID,
			Action:      ActionCreate,
			Actor:       actor,
			AfterJSON: marshalSnapshot(map[string]string{
				"external_balance": FormatUnits(externalBalanceUnits),
				"internal_balance": FormatUnits(internalBalanceUnits),
				"discrepancy":      FormatUnits(discrepancyUnits),
				"status":           inserted.Status.String(),
			}),
			CreatedUnixUTC: nowUnixUTC,
		})
		if auditErr != nil {
			return auditErr
		}
		record = inserted
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation:   operationReconcile,
		AmountUnits: externalBalanceUnits,
		Actor:       actor,
		Error:       operationError,
	})
	return record, operationError
}

// ListReconciliations returns past reconciliation records, newest first.
func (service *Service) ListReconciliations(requestContext context.Context, limit int) ([]ReconciliationRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return service.store.ListReconciliations(requestContext, limit)
}

func discrepancyPercentage(externalUnits int64, internalUnits int64, discrepancyUnits int64) decimal.Decimal {
	if externalUnits == 0 {
		if internalUnits == 0 {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(discrepancyUnits).
		Abs().
		Div(decimal.NewFromInt(externalUnits)).
		Mul(decimal.NewFromInt(100)).
		Round(4)
}

func classifyDiscrepancy(discrepancyUnits int64, discrepancyPercent decimal.Decimal) DiscrepancySeverity {
	if discrepancyUnits == 0 {
		return SeverityNone
	}
	if discrepancyPercent.LessThan(decimal.RequireFromString(minorDiscrepancyPercent)) {
		return SeverityMinor
	}
	if discrepancyPercent.LessThan(decimal.RequireFromString(majorDiscrepancyPercent)) {
		return SeverityMajor
	}
	return SeverityCritical
}
