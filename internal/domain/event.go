package domain

import (
	"context"
	"time"
)

// Event names written to the audit trail.
const (
	EventConfigInitialized     = "config_initialized"
	EventAuthoritiesUpdated    = "authorities_updated"
	EventSystemPaused          = "system_paused"
	EventSystemResumed         = "system_resumed"
	EventDelegationCreated     = "delegation_created"
	EventDelegationUpdated     = "delegation_updated"
	EventDelegationRevoked     = "delegation_revoked"
	EventBotAuthorityRotated   = "bot_authority_rotated"
	EventDelegationClosed      = "delegation_closed"
	EventPositionOpened        = "position_opened"
	EventPositionClosed        = "position_closed"
	EventPositionRecordDeleted = "position_record_deleted"
)

// Event is one entry of the append-only audit trail, emitted after a
// successful mutation.
type Event struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Actor       Identity       `json:"actor"`
	User        *Identity      `json:"user,omitempty"`
	Delegation  string         `json:"delegation,omitempty"`
	PositionSeq *uint64        `json:"position_seq,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	At          time.Time      `json:"at"`
}

// EventSink receives ledger events. Sinks are never required for
// correctness; a failed Emit does not undo the mutation.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// BalanceSource reports a user's spendable balance in base units.
type BalanceSource interface {
	Balance(ctx context.Context, user Identity) (uint64, error)
}

// Detail flattens the event into the audit log detail shape.
func (e Event) Detail() map[string]any {
	detail := make(map[string]any, len(e.Fields)+5)
	for k, v := range e.Fields {
		detail[k] = v
	}
	detail["event_id"] = e.ID
	detail["actor"] = e.Actor.Hex()
	if e.User != nil {
		detail["user"] = e.User.Hex()
	}
	if e.Delegation != "" {
		detail["delegation"] = e.Delegation
	}
	if e.PositionSeq != nil {
		detail["position_seq"] = *e.PositionSeq
	}
	detail["at"] = e.At.UTC().Format(time.RFC3339Nano)
	return detail
}
