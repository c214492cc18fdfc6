package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// AuditLog is an in-memory audit trail. It is both the audit store and an
// event sink, so tests can assert on emitted events.
type AuditLog struct {
	db *DB
}

var (
	_ domain.AuditStore = (*AuditLog)(nil)
	_ domain.EventSink  = (*AuditLog)(nil)
)

func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	a.db.nextAuditID++
	a.db.audit = append(a.db.audit, domain.AuditEntry{
		ID:        a.db.nextAuditID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Emit records ev and appends its audit row.
func (a *AuditLog) Emit(ctx context.Context, ev domain.Event) error {
	a.db.mu.Lock()
	a.db.events = append(a.db.events, ev)
	a.db.mu.Unlock()
	return a.Log(ctx, ev.Name, ev.Detail())
}

// List returns entries newest first.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.db.mu.RLock()
	defer a.db.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(a.db.audit))
	for i := len(a.db.audit) - 1; i >= 0; i-- {
		e := a.db.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

// Events returns the emitted events in order.
func (a *AuditLog) Events() []domain.Event {
	a.db.mu.RLock()
	defer a.db.mu.RUnlock()
	return append([]domain.Event(nil), a.db.events...)
}

// EventNames returns the names of emitted events in order.
func (a *AuditLog) EventNames() []string {
	evs := a.Events()
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = ev.Name
	}
	return names
}
