package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// HistoryLedger is the append-only audit trail of decisions. Entries written
// by a decision are appended inside the decision transaction by the request
// store; Append exists for imports and tooling.
type HistoryLedger struct {
	store HistoryStore
}

// NewHistoryLedger creates a new HistoryLedger.
func NewHistoryLedger(store HistoryStore) *HistoryLedger {
	return &HistoryLedger{store: store}
}

// Append stores entry and returns its id.
func (l *HistoryLedger) Append(ctx context.Context, entry *repository.HistoryEntry) (int64, error) {
	if _, err := repository.ParseDecision(string(entry.Decision)); err != nil {
		return 0, errors.InvalidInput("decision", err.Error())
	}
	if entry.DecidedAt.IsZero() {
		entry.DecidedAt = time.Now().UTC()
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// ListFor returns the entries of a request ascending by decision time.
func (l *HistoryLedger) ListFor(ctx context.Context, requestID int64) ([]*repository.HistoryEntry, error) {
	return l.store.ListFor(ctx, requestID)
}
