package treasury

import (
	"context"
	"encoding/json"
)

// AuditTrail queries the append-only audit log. Entries are never edited or
// deleted; this is the only read path.
func (service *Service) AuditTrail(requestContext context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	return service.store.ListAuditEntries(requestContext, filter)
}

func marshalSnapshot(snapshot map[string]string) string {
	return marshalValue(snapshot)
}

func marshalValue(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
