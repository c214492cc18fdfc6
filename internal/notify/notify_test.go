package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersToDefaultEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Emit(ctx, domain.Event{Name: domain.EventPositionOpened}))
	require.NoError(t, n.Emit(ctx, domain.Event{Name: domain.EventSystemPaused}))
	require.NoError(t, n.Emit(ctx, domain.Event{Name: domain.EventDelegationRevoked}))

	assert.Equal(t, []string{"Ledger paused", "Delegation revoked"}, s.titles)
}

func TestNotifier_ExplicitEventList(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" position_closed "}, discardLogger())

	require.NoError(t, n.Emit(context.Background(), domain.Event{Name: domain.EventSystemPaused}))
	require.NoError(t, n.Emit(context.Background(), domain.Event{Name: domain.EventPositionClosed}))
	assert.Equal(t, []string{"Position closed"}, s.titles)
}

func TestNotifier_OneSenderFailingDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestFormat(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	seq := uint64(3)

	title, msg := Format(domain.Event{
		Name:        domain.EventPositionClosed,
		User:        &user,
		Delegation:  "abc",
		PositionSeq: &seq,
		Fields:      map[string]any{"pnl": int64(-1_500_000_000)},
	})
	assert.Equal(t, "Position closed", title)
	assert.Contains(t, msg, "abc:3")
	assert.Contains(t, msg, "PnL -1.5 coins")

	title, msg = Format(domain.Event{
		Name:   domain.EventBotAuthorityRotated,
		User:   &user,
		Fields: map[string]any{"old_authority": "0xold", "new_authority": "0xnew"},
	})
	assert.Equal(t, "Bot authority rotated", title)
	assert.Contains(t, msg, "from 0xold to 0xnew")

	title, msg = Format(domain.Event{Name: "custom", Fields: map[string]any{"b": 2, "a": 1}})
	assert.Equal(t, "custom", title)
	assert.Equal(t, "a=1 b=2", msg)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Ledger paused", "halted"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Ledger paused*\nhalted", got["text"])
}

func TestDiscordSender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordSender_Embed(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Send(context.Background(), "Ledger paused", "halted"))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Ledger paused", got.Embeds[0].Title)
	assert.Equal(t, "halted", got.Embeds[0].Description)
	assert.Equal(t, discordRed, got.Embeds[0].Color)
	assert.Equal(t, "2026-03-01T12:00:00Z", got.Embeds[0].Timestamp)
}
