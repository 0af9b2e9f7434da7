// Package httpserver exposes the treasury service over a gin HTTP API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/treasury/pkg/treasury"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server wires the treasury service into HTTP handlers.
type Server struct {
	service *treasury.Service
	logger  *zap.Logger
	cfg     Config
}

// New validates the configuration and returns a Server.
func New(service *treasury.Service, logger *zap.Logger, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{service: service, logger: logger, cfg: cfg}, nil
}

// Run serves the API until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("treasury api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine with all routes attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.GET("/accounts", server.handleListAccounts)
	api.GET("/accounts/:id", server.handleGetAccount)
	api.GET("/transactions", server.handleListTransactions)
	api.GET("/transactions/:id", server.handleGetTransaction)
	api.GET("/transactions/:id/children", server.handleListChildren)
	api.GET("/allocation-rules", server.handleListRules)
	api.GET("/allocation-rules/:id", server.handleGetRule)
	api.GET("/reconciliations", server.handleListReconciliations)
	api.GET("/audit", server.handleAuditTrail)

	guarded := api.Group("")
	guarded.Use(authMiddleware([]byte(server.cfg.TokenSigningKey), server.cfg.TokenIssuer))
	guarded.Use(requireRole(server.cfg.GuardianRole))
	guarded.POST("/accounts", server.handleEnsureAccount)
	guarded.DELETE("/accounts/:id", server.handleDeactivateAccount)
	guarded.POST("/transactions", server.handleRecordTransaction)
	guarded.POST("/transactions/:id/allocate", server.handleAllocate)
	guarded.POST("/allocation-rules", server.handleCreateRule)
	guarded.DELETE("/allocation-rules/:id", server.handleDeactivateRule)
	guarded.POST("/reconcile", server.handleReconcile)

	return router
}

type recordTransactionRequest struct {
	Type              string         `json:"type"`
	Status            string         `json:"status"`
	Amount            string         `json:"amount"`
	FromAccountID     string         `json:"from_account_id"`
	ToAccountID       string         `json:"to_account_id"`
	ExternalReference string         `json:"external_reference"`
	Description       string         `json:"description"`
	Metadata          map[string]any `json:"metadata"`
	SkipAllocation    bool           `json:"skip_allocation"`
}

func (server *Server) handleRecordTransaction(ctx *gin.Context) {
	var request recordTransactionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := treasury.ParseAmountUnits(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	status := treasury.StatusCompleted
	if request.Status != "" {
		status = treasury.TransactionStatus(request.Status)
	}
	draft := treasury.TransactionDraft{
		Type:              treasury.TransactionType(request.Type),
		Status:            status,
		AmountUnits:       amount,
		FromAccountID:     request.FromAccountID,
		ToAccountID:       request.ToAccountID,
		ExternalReference: request.ExternalReference,
		Description:       request.Description,
		MetadataJSON:      marshalMetadata(request.Metadata),
		PerformedBy:       callerName(ctx),
	}

	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()

	recorded, created, err := server.service.RecordTransaction(requestCtx, draft)
	if err != nil {
		server.respondError(ctx, err)
		return
	}

	children := []treasury.Transaction{}
	if created && !request.SkipAllocation {
		children, err = server.service.Allocate(requestCtx, recorded.TransactionID, callerName(ctx))
		if err != nil && !errors.Is(err, treasury.ErrNoApplicableRule) {
			server.respondError(ctx, err)
			return
		}
	} else if !created {
		children, err = server.service.ListChildren(requestCtx, recorded.TransactionID)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
	}

	statusCode := http.StatusOK
	if created {
		statusCode = http.StatusCreated
	}
	ctx.JSON(statusCode, gin.H{
		"transaction": transactionPayloadFrom(recorded),
		"created":     created,
		"children":    transactionPayloadsFrom(children),
	})
}

func (server *Server) handleAllocate(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	children, err := server.service.Allocate(requestCtx, ctx.Param("id"), callerName(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"children": transactionPayloadsFrom(children)})
}

func (server *Server) handleGetTransaction(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	txn, err := server.service.GetTransaction(requestCtx, ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": transactionPayloadFrom(txn)})
}

func (server *Server) handleListTransactions(ctx *gin.Context) {
	filter := treasury.TransactionFilter{
		Type:                treasury.TransactionType(ctx.Query("type")),
		Status:              treasury.TransactionStatus(ctx.Query("status")),
		FromAccountID:       ctx.Query("from_account_id"),
		ToAccountID:         ctx.Query("to_account_id"),
		ParentTransactionID: ctx.Query("parent_transaction_id"),
		Limit:               intQuery(ctx, "limit"),
		Offset:              intQuery(ctx, "offset"),
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	transactions, err := server.service.ListTransactions(requestCtx, filter)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": transactionPayloadsFrom(transactions)})
}

func (server *Server) handleListChildren(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	children, err := server.service.ListChildren(requestCtx, ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"children": transactionPayloadsFrom(children)})
}

type ensureAccountRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (server *Server) handleEnsureAccount(ctx *gin.Context) {
	var request ensureAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	account, err := server.service.EnsureAccount(requestCtx, request.Name, treasury.AccountType(request.Type), request.Description)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
}

func (server *Server) handleGetAccount(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	account, err := server.service.GetAccount(requestCtx, ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accountPayloadFrom(account)})
}

func (server *Server) handleListAccounts(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	accounts, err := server.service.ListAccounts(requestCtx, ctx.Query("active") == "true")
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]accountPayload, 0, len(accounts))
	for _, account := range accounts {
		payloads = append(payloads, accountPayloadFrom(account))
	}
	ctx.JSON(http.StatusOK, gin.H{"accounts": payloads})
}

func (server *Server) handleDeactivateAccount(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	if err := server.service.DeactivateAccount(requestCtx, ctx.Param("id"), callerName(ctx)); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

type createRuleRequest struct {
	Name        string             `json:"name"`
	TriggerType string             `json:"trigger_type"`
	Splits      []ruleSplitPayload `json:"splits"`
	Priority    int                `json:"priority"`
	MinAmount   string             `json:"min_amount"`
	MaxAmount   string             `json:"max_amount"`
	Description string             `json:"description"`
}

func (server *Server) handleCreateRule(ctx *gin.Context) {
	var request createRuleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	draft := treasury.RuleDraft{
		Name:        request.Name,
		TriggerType: treasury.TransactionType(request.TriggerType),
		Priority:    request.Priority,
		Description: request.Description,
		CreatedBy:   callerName(ctx),
	}
	for _, split := range request.Splits {
		percentage, err := treasury.ParsePercentage(split.Percentage)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		draft.Splits = append(draft.Splits, treasury.RuleSplit{AccountID: split.AccountID, Percentage: percentage})
	}
	if request.MinAmount != "" {
		units, err := treasury.ParseBalanceUnits(request.MinAmount)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		draft.MinAmountUnits = units
	}
	if request.MaxAmount != "" {
		units, err := treasury.ParseBalanceUnits(request.MaxAmount)
		if err != nil {
			server.respondError(ctx, err)
			return
		}
		draft.MaxAmountUnits = units
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	rule, err := server.service.CreateRule(requestCtx, draft)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"rule": rulePayloadFrom(rule)})
}

func (server *Server) handleGetRule(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	rule, err := server.service.GetRule(requestCtx, ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rule": rulePayloadFrom(rule)})
}

func (server *Server) handleListRules(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	rules, err := server.service.ListRules(requestCtx, ctx.Query("active") == "true")
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		payloads = append(payloads, rulePayloadFrom(rule))
	}
	ctx.JSON(http.StatusOK, gin.H{"rules": payloads})
}

func (server *Server) handleDeactivateRule(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	if err := server.service.DeactivateRule(requestCtx, ctx.Param("id"), callerName(ctx)); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

type reconcileRequest struct {
	ExternalBalance string `json:"external_balance"`
	Source          string `json:"source"`
	Note            string `json:"note"`
}

func (server *Server) handleReconcile(ctx *gin.Context) {
	var request reconcileRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	externalUnits, err := treasury.ParseBalanceUnits(request.ExternalBalance)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	record, err := server.service.Reconcile(requestCtx, externalUnits, request.Source, request.Note, callerName(ctx))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"reconciliation": reconciliationPayloadFrom(record)})
}

func (server *Server) handleListReconciliations(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	records, err := server.service.ListReconciliations(requestCtx, intQuery(ctx, "limit"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]reconciliationPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, reconciliationPayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"reconciliations": payloads})
}

func (server *Server) handleAuditTrail(ctx *gin.Context) {
	filter := treasury.AuditFilter{
		SubjectType: treasury.AuditSubject(ctx.Query("subject_type")),
		SubjectID:   ctx.Query("subject_id"),
		Actor:       ctx.Query("actor"),
		Limit:       intQuery(ctx, "limit"),
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	entries, err := server.service.AuditTrail(requestCtx, filter)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]auditPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, auditPayloadFrom(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payloads})
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	statusCode, code := mapDomainError(err)
	if statusCode == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(statusCode, errorResponse(code, "internal error"))
		return
	}
	ctx.JSON(statusCode, errorResponse(code, err.Error()))
}

func mapDomainError(source error) (int, string) {
	switch {
	case errors.Is(source, treasury.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(source, treasury.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(source, treasury.ErrRuleNotFound):
		return http.StatusNotFound, "rule_not_found"
	case errors.Is(source, treasury.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(source, treasury.ErrDuplicateExternalReference):
		return http.StatusConflict, "duplicate_external_reference"
	case errors.Is(source, treasury.ErrAllocationConflict):
		return http.StatusConflict, "allocation_conflict"
	case errors.Is(source, treasury.ErrAccountInactive):
		return http.StatusUnprocessableEntity, "account_inactive"
	case errors.Is(source, treasury.ErrNoApplicableRule):
		return http.StatusUnprocessableEntity, "no_applicable_rule"
	case errors.Is(source, treasury.ErrInvalidAccountID),
		errors.Is(source, treasury.ErrInvalidAccountName),
		errors.Is(source, treasury.ErrInvalidAccountType),
		errors.Is(source, treasury.ErrInvalidTransactionID),
		errors.Is(source, treasury.ErrInvalidTransactionType),
		errors.Is(source, treasury.ErrInvalidTransactionStatus),
		errors.Is(source, treasury.ErrInvalidAmountUnits),
		errors.Is(source, treasury.ErrInvalidPercentage),
		errors.Is(source, treasury.ErrInvalidRule),
		errors.Is(source, treasury.ErrInvalidMetadataJSON):
		return http.StatusBadRequest, "invalid_argument"
	}
	return http.StatusInternalServerError, "internal"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func intQuery(ctx *gin.Context, name string) int {
	value, err := strconv.Atoi(ctx.Query(name))
	if err != nil || value < 0 {
		return 0
	}
	return value
}

type accountPayload struct {
	AccountID      string `json:"account_id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Balance        string `json:"balance"`
	Description    string `json:"description,omitempty"`
	Active         bool   `json:"active"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

func accountPayloadFrom(account treasury.Account) accountPayload {
	return accountPayload{
		AccountID:      account.AccountID,
		Name:           account.Name,
		Type:           account.Type.String(),
		Balance:        treasury.FormatUnits(account.BalanceUnits),
		Description:    account.Description,
		Active:         account.Active,
		CreatedUnixUTC: account.CreatedUnixUTC,
		UpdatedUnixUTC: account.UpdatedUnixUTC,
	}
}

type transactionPayload struct {
	TransactionID       string          `json:"transaction_id"`
	Type                string          `json:"type"`
	Status              string          `json:"status"`
	Amount              string          `json:"amount"`
	FromAccountID       string          `json:"from_account_id,omitempty"`
	ToAccountID         string          `json:"to_account_id,omitempty"`
	ParentTransactionID string          `json:"parent_transaction_id,omitempty"`
	ExternalReference   string          `json:"external_reference,omitempty"`
	Description         string          `json:"description,omitempty"`
	Metadata            json.RawMessage `json:"metadata"`
	PerformedBy         string          `json:"performed_by"`
	CreatedUnixUTC      int64           `json:"created_unix_utc"`
	CompletedUnixUTC    int64           `json:"completed_unix_utc,omitempty"`
}

func transactionPayloadFrom(txn treasury.Transaction) transactionPayload {
	metadata := txn.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	return transactionPayload{
		TransactionID:       txn.TransactionID,
		Type:                txn.Type.String(),
		Status:              txn.Status.String(),
		Amount:              txn.AmountUnits.String(),
		FromAccountID:       txn.FromAccountID,
		ToAccountID:         txn.ToAccountID,
		ParentTransactionID: txn.ParentTransactionID,
		ExternalReference:   txn.ExternalReference,
		Description:         txn.Description,
		Metadata:            json.RawMessage(metadata),
		PerformedBy:         txn.PerformedBy,
		CreatedUnixUTC:      txn.CreatedUnixUTC,
		CompletedUnixUTC:    txn.CompletedUnixUTC,
	}
}

func transactionPayloadsFrom(transactions []treasury.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, txn := range transactions {
		payloads = append(payloads, transactionPayloadFrom(txn))
	}
	return payloads
}

type ruleSplitPayload struct {
	AccountID  string `json:"account_id"`
	Percentage string `json:"percentage"`
}

type rulePayload struct {
	RuleID         string             `json:"rule_id"`
	Name           string             `json:"name"`
	Version        int                `json:"version"`
	TriggerType    string             `json:"trigger_type"`
	Splits         []ruleSplitPayload `json:"splits"`
	Priority       int                `json:"priority"`
	Active         bool               `json:"active"`
	MinAmount      string             `json:"min_amount,omitempty"`
	MaxAmount      string             `json:"max_amount,omitempty"`
	Description    string             `json:"description,omitempty"`
	CreatedBy      string             `json:"created_by"`
	CreatedUnixUTC int64              `json:"created_unix_utc"`
}

func rulePayloadFrom(rule treasury.AllocationRule) rulePayload {
	splits := make([]ruleSplitPayload, 0, len(rule.Splits))
	for _, split := range rule.Splits {
		splits = append(splits, ruleSplitPayload{
			AccountID:  split.AccountID,
			Percentage: split.Percentage.String(),
		})
	}
	payload := rulePayload{
		RuleID:         rule.RuleID,
		Name:           rule.Name,
		Version:        rule.Version,
		TriggerType:    rule.TriggerType.String(),
		Splits:         splits,
		Priority:       rule.Priority,
		Active:         rule.Active,
		Description:    rule.Description,
		CreatedBy:      rule.CreatedBy,
		CreatedUnixUTC: rule.CreatedUnixUTC,
	}
	if rule.MinAmountUnits > 0 {
		payload.MinAmount = treasury.FormatUnits(rule.MinAmountUnits)
	}
	if rule.MaxAmountUnits > 0 {
		payload.MaxAmount = treasury.FormatUnits(rule.MaxAmountUnits)
	}
	return payload
}

type reconciliationPayload struct {
	RecordID           string `json:"record_id"`
	ExternalBalance    string `json:"external_balance"`
	Source             string `json:"source,omitempty"`
	InternalBalance    string `json:"internal_balance"`
	Discrepancy        string `json:"discrepancy"`
	DiscrepancyPercent string `json:"discrepancy_percent"`
	Status             string `json:"status"`
	Severity           string `json:"severity"`
	Note               string `json:"note,omitempty"`
	PerformedBy        string `json:"performed_by"`
	CreatedUnixUTC     int64  `json:"created_unix_utc"`
}

func reconciliationPayloadFrom(record treasury.ReconciliationRecord) reconciliationPayload {
	return reconciliationPayload{
		RecordID:           record.RecordID,
		ExternalBalance:    treasury.FormatUnits(record.ExternalBalanceUnits),
		Source:             record.SourceLabel,
		InternalBalance:    treasury.FormatUnits(record.InternalBalanceUnits),
		Discrepancy:        treasury.FormatUnits(record.DiscrepancyUnits),
		DiscrepancyPercent: record.DiscrepancyPercent.String(),
		Status:             record.Status.String(),
		Severity:           record.Severity.String(),
		Note:               record.Note,
		PerformedBy:        record.PerformedBy,
		CreatedUnixUTC:     record.CreatedUnixUTC,
	}
}

type auditPayload struct {
	EntryID        string          `json:"entry_id"`
	SubjectType    string          `json:"subject_type"`
	SubjectID      string          `json:"subject_id"`
	Action         string          `json:"action"`
	Actor          string          `json:"actor"`
	Before         json.RawMessage `json:"before"`
	After          json.RawMessage `json:"after"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

func auditPayloadFrom(entry treasury.AuditEntry) auditPayload {
	before := entry.BeforeJSON
	if before == "" {
		before = "{}"
	}
	after := entry.AfterJSON
	if after == "" {
		after = "{}"
	}
	return auditPayload{
		EntryID:        entry.EntryID,
		SubjectType:    entry.SubjectType.String(),
		SubjectID:      entry.SubjectID,
		Action:         entry.Action.String(),
		Actor:          entry.Actor,
		Before:         json.RawMessage(before),
		After:          json.RawMessage(after),
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
}
