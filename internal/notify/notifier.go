// Package notify pushes operator alerts for selected ledger events to chat
// channels such as Telegram and Discord.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are the ledger events that page an operator when no explicit
// list is configured.
var DefaultEvents = []string{
	domain.EventSystemPaused,
	domain.EventSystemResumed,
	domain.EventDelegationRevoked,
	domain.EventBotAuthorityRotated,
}

// Notifier is an event sink that forwards allowed events to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier. An empty events list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Emit formats ev and sends it when its name is allowed.
func (n *Notifier) Emit(ctx context.Context, ev domain.Event) error {
	if !n.events[ev.Name] {
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form alert to every sender.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders ev as a short alert.
func Format(ev domain.Event) (title, message string) {
	user := "-"
	if ev.User != nil {
		user = ev.User.Hex()
	}
	switch ev.Name {
	case domain.EventSystemPaused:
		return "Ledger paused", fmt.Sprintf("All mutations halted by %s.", ev.Actor.Hex())
	case domain.EventSystemResumed:
		return "Ledger resumed", fmt.Sprintf("Mutations re-enabled by %s.", ev.Actor.Hex())
	case domain.EventDelegationRevoked:
		return "Delegation revoked", fmt.Sprintf("User %s revoked delegation %s with %v open trade(s).",
			user, ev.Delegation, ev.Fields["active_trades"])
	case domain.EventBotAuthorityRotated:
		return "Bot authority rotated", fmt.Sprintf("User %s moved trading rights from %v to %v.",
			user, ev.Fields["old_authority"], ev.Fields["new_authority"])
	case domain.EventPositionClosed:
		msg := fmt.Sprintf("Position %s:%s of user %s closed", ev.Delegation, seqString(ev.PositionSeq), user)
		if pnl, ok := ev.Fields["pnl"].(int64); ok {
			msg += fmt.Sprintf(", PnL %s coins", domain.FormatSignedCoins(pnl))
		}
		return "Position closed", msg + "."
	}
	return ev.Name, formatFields(ev.Fields)
}

func seqString(seq *uint64) string {
	if seq == nil {
		return "?"
	}
	return fmt.Sprint(*seq)
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}

// postJSON sends payload and treats any non-2xx reply as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
