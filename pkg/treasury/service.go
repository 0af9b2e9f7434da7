package treasury

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Service contains the domain logic over a Store.
type Service struct {
	store        Store
	nowFn        func() int64
	logger       OperationLogger
	ruleCacheTTL int64

	ruleCacheMu     sync.Mutex
	cachedRules     []AllocationRule
	cachedAtUnixUTC int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, ruleCacheTTL: defaultRuleCacheTTL}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// RecordTransaction persists a new transaction. When the draft carries an
// external reference that matches an existing non-cancelled record, the
// existing transaction is returned with created=false and nothing is written:
// replaying the same settled event any number of times is a no-op.
func (service *Service) RecordTransaction(requestContext context.Context, draft TransactionDraft) (Transaction, bool, error) {
	var recorded Transaction
	created := false
	operationError := service.recordTransaction(requestContext, draft, &recorded, &created)
	if errors.Is(operationError, ErrDuplicateExternalReference) {
		// Lost an insert race with a concurrent ingest of the same event.
		// The retry finds the winner's row and returns it unchanged.
		operationError = service.recordTransaction(requestContext, draft, &recorded, &created)
	}
	service.logOperation(requestContext, OperationLog{
		Operation:     operationRecord,
		TransactionID: recorded.TransactionID,
		AccountID:     draft.ToAccountID,
		AmountUnits:   draft.AmountUnits.Int64(),
		Actor:         draft.PerformedBy,
		Error:         operationError,
	})
	return recorded, created, operationError
}

func (service *Service) recordTransaction(requestContext context.Context, draft TransactionDraft, recorded *Transaction, created *bool) error {
	normalized, err := normalizeDraft(draft)
	if err != nil {
		return WrapError(operationRecord, "transaction", "validate", err)
	}
	return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		if normalized.ExternalReference != "" {
			existing, lookupErr := transactionStore.FindTransactionByExternalReference(ctx, normalized.ExternalReference)
			if lookupErr == nil {
				*recorded = existing
				return nil
			}
			if !errors.Is(lookupErr, ErrTransactionNotFound) {
				return lookupErr
			}
		}
		if normalized.ToAccountID != "" {
			if err := requireActiveAccount(ctx, transactionStore, normalized.ToAccountID); err != nil {
				return err
			}
		}
		if normalized.FromAccountID != "" {
			if err := requireActiveAccount(ctx, transactionStore, normalized.FromAccountID); err != nil {
				return err
			}
		}
		nowUnixUTC := service.nowFn()
		txn := Transaction{
			Type:              normalized.Type,
			Status:            normalized.Status,
			AmountUnits:       normalized.AmountUnits,
			FromAccountID:     normalized.FromAccountID,
			ToAccountID:       normalized.ToAccountID,
			ExternalReference: normalized.ExternalReference,
			Description:       normalized.Description,
			MetadataJSON:      normalized.MetadataJSON,
			PerformedBy:       normalized.PerformedBy,
			CreatedUnixUTC:    nowUnixUTC,
		}
		if txn.Status == StatusCompleted {
			txn.CompletedUnixUTC = nowUnixUTC
		}
		inserted, insertErr := transactionStore.InsertTransaction(ctx, txn)
		if insertErr != nil {
			return insertErr
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType: SubjectTransaction,
			SubjectID:   inserted.TransactionID,
			Action:      ActionCreate,
			Actor:       inserted.PerformedBy,
			AfterJSON: marshalSnapshot(map[string]string{
				"transaction_type": inserted.Type.String(),
				"status":           inserted.Status.String(),
				"amount":           inserted.AmountUnits.String(),
			}),
			CreatedUnixUTC: nowUnixUTC,
		})
		if auditErr != nil {
			return auditErr
		}
		*recorded = inserted
		*created = true
		return nil
	})
}

func normalizeDraft(draft TransactionDraft) (TransactionDraft, error) {
	if _, err := ParseTransactionType(draft.Type.String()); err != nil {
		return TransactionDraft{}, err
	}
	if draft.Type == TransactionInternalAllocation {
		return TransactionDraft{}, fmt.Errorf("%w: internal allocations are created by the engine", ErrInvalidTransactionType)
	}
	if _, err := ParseTransactionStatus(draft.Status.String()); err != nil {
		return TransactionDraft{}, err
	}
	if _, err := NewAmountUnits(draft.AmountUnits.Int64()); err != nil {
		return TransactionDraft{}, err
	}
	if draft.Type == TransactionExternalDeposit && strings.TrimSpace(draft.ToAccountID) == "" {
		return TransactionDraft{}, fmt.Errorf("%w: deposit requires a target account", ErrInvalidAccountID)
	}
	if draft.Type == TransactionExternalWithdrawal && strings.TrimSpace(draft.FromAccountID) == "" {
		return TransactionDraft{}, fmt.Errorf("%w: withdrawal requires a source account", ErrInvalidAccountID)
	}
	metadata, err := NormalizeMetadataJSON(draft.MetadataJSON)
	if err != nil {
		return TransactionDraft{}, err
	}
	draft.MetadataJSON = metadata
	draft.ExternalReference = strings.TrimSpace(draft.ExternalReference)
	draft.FromAccountID = strings.TrimSpace(draft.FromAccountID)
	draft.ToAccountID = strings.TrimSpace(draft.ToAccountID)
	if strings.TrimSpace(draft.PerformedBy) == "" {
		draft.PerformedBy = defaultActor
	}
	return draft, nil
}

func requireActiveAccount(ctx context.Context, store Store, accountID string) error {
	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Active {
		return fmt.Errorf("%w: %s", ErrAccountInactive, account.Name)
	}
	return nil
}

// GetTransaction loads one transaction by id.
func (service *Service) GetTransaction(requestContext context.Context, transactionID string) (Transaction, error) {
	return service.store.GetTransaction(requestContext, transactionID)
}

// ListTransactions lists transactions matching the filter, newest first.
func (service *Service) ListTransactions(requestContext context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	return service.store.ListTransactions(requestContext, filter)
}

// ListChildren lists the allocation children of a parent transaction.
func (service *Service) ListChildren(requestContext context.Context, parentTransactionID string) ([]Transaction, error) {
	if strings.TrimSpace(parentTransactionID) == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return service.store.ListChildTransactions(requestContext, parentTransactionID)
}

// GetAccount loads one account by id.
func (service *Service) GetAccount(requestContext context.Context, accountID string) (Account, error) {
	return service.store.GetAccount(requestContext, accountID)
}

// ListAccounts lists accounts, optionally restricted to active ones.
func (service *Service) ListAccounts(requestContext context.Context, activeOnly bool) ([]Account, error) {
	return service.store.ListAccounts(requestContext, activeOnly)
}

// EnsureAccount creates a logical account if it does not already exist.
// Safe to call on every boot.
func (service *Service) EnsureAccount(requestContext context.Context, name string, accountType AccountType, description string) (Account, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return Account{}, WrapError(operationEnsureAccount, "account", "validate", fmt.Errorf("%w: empty value", ErrInvalidAccountName))
	}
	if _, err := ParseAccountType(accountType.String()); err != nil {
		return Account{}, WrapError(operationEnsureAccount, "account", "validate", err)
	}
	var ensured Account
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		existing, err := transactionStore.GetAccountByName(ctx, trimmedName)
		if err == nil {
			ensured = existing
			return nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		nowUnixUTC := service.nowFn()
		createdAccount, createErr := transactionStore.CreateAccount(ctx, Account{
			Name:           trimmedName,
			Type:           accountType,
			Description:    description,
			Active:         true,
			CreatedUnixUTC: nowUnixUTC,
			UpdatedUnixUTC: nowUnixUTC,
		})
		if createErr != nil {
			return createErr
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType: SubjectAccount,
			SubjectID:   createdAccount.AccountID,
			Action:      ActionCreate,
			Actor:       defaultActor,
			AfterJSON: marshalSnapshot(map[string]string{
				"account_name": createdAccount.Name,
				"account_type": createdAccount.Type.String(),
			}),
			CreatedUnixUTC: nowUnixUTC,
		})
		if auditErr != nil {
			return auditErr
		}
		ensured = createdAccount
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationEnsureAccount,
		AccountID: ensured.AccountID,
		Actor:     defaultActor,
		Error:     operationError,
	})
	return ensured, operationError
}

// DeactivateAccount marks an account inactive. Accounts are never deleted so
// historical transactions stay resolvable.
func (service *Service) DeactivateAccount(requestContext context.Context, accountID string, actor string) error {
	if strings.TrimSpace(actor) == "" {
		actor = defaultActor
	}
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !account.Active {
			return nil
		}
		if err := transactionStore.SetAccountActive(ctx, accountID, false); err != nil {
			return err
		}
		_, auditErr := transactionStore.AppendAuditEntry(ctx, AuditEntry{
			SubjectType:    SubjectAccount,
			SubjectID:      accountID,
			Action:         ActionUpdate,
			Actor:          actor,
			BeforeJSON:     marshalSnapshot(map[string]string{"is_active": "true"}),
			AfterJSON:      marshalSnapshot(map[string]string{"is_active": "false"}),
			CreatedUnixUTC: service.nowFn(),
		})
		return auditErr
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationDeactivateAccount,
		AccountID: accountID,
		Actor:     actor,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
