// Package oplog bridges treasury operation callbacks onto a zap logger.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/treasury/pkg/treasury"
	"go.uber.org/zap"
)

// ZapLogger implements treasury.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger writing to the given zap logger.
func New(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// LogOperation writes one structured log line per service operation.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry treasury.OperationLog) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields, zap.String("operation", entry.Operation), zap.String("status", entry.Status))
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	if entry.RuleID != "" {
		fields = append(fields, zap.String("rule_id", entry.RuleID))
	}
	if entry.AccountID != "" {
		fields = append(fields, zap.String("account_id", entry.AccountID))
	}
	if entry.AmountUnits != 0 {
		fields = append(fields, zap.Int64("amount_units", entry.AmountUnits))
	}
	if entry.Actor != "" {
		fields = append(fields, zap.String("actor", entry.Actor))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("treasury operation failed", fields...)
		return
	}
	zapLogger.logger.Info("treasury operation", fields...)
}
