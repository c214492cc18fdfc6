package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/botledger/internal/client"
	"github.com/alanyoungcy/botledger/internal/crypto"
	"github.com/alanyoungcy/botledger/internal/domain"
)

var commands = map[string]command{
	"keygen":         {usage: "create an encrypted key file", run: keygen},
	"address":        {usage: "print the signing identity", signed: true, run: address},
	"health":         {usage: "server and dependency status", run: health},
	"init":           {usage: "initialize the global config", signed: true, run: initConfig},
	"config":         {usage: "show the global config", run: showConfig},
	"pause":          {usage: "pause the ledger", signed: true, run: pause},
	"resume":         {usage: "resume the ledger", signed: true, run: resume},
	"authorities":    {usage: "reassign protocol and emergency authorities", signed: true, run: authorities},
	"delegate":       {usage: "grant a bot trading rights for the signer", signed: true, run: delegate},
	"update":         {usage: "change the signer's grant", signed: true, run: update},
	"revoke":         {usage: "deactivate a grant", signed: true, run: revoke},
	"rotate":         {usage: "move a grant to a new bot authority", signed: true, run: rotate},
	"close":          {usage: "remove a grant with no open trades", signed: true, run: closeGrant},
	"get":            {usage: "show a grant", run: getGrant},
	"stats":          {usage: "show a grant's statistics", run: stats},
	"list":           {usage: "list grants", run: list},
	"open":           {usage: "record a trade as the bot", signed: true, run: openPosition},
	"positions":      {usage: "list a grant's positions", run: positions},
	"position":       {usage: "show one position", run: position},
	"close-position": {usage: "settle an open position as the bot", signed: true, run: closePosition},
	"delete-record":  {usage: "delete a settled position record", signed: true, run: deleteRecord},
	"events":         {usage: "list audit events", run: events},
	"archives":       {usage: "list archived event files", run: archives},
	"archive":        {usage: "download one archived event file", run: archive},
}

func keygen(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "ledger.key", "key file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if e.g.password == "" {
		return errors.New("keygen: -password or LEDGERCTL_KEY_PASSWORD is required")
	}
	keyHex := e.g.key
	if keyHex == "" {
		pk, err := ethcrypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("keygen: %w", err)
		}
		keyHex = hex.EncodeToString(ethcrypto.FromECDSA(pk))
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	if err := crypto.SaveKey(*out, keyHex, e.g.password); err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	return e.print(map[string]string{"address": signer.Address().Hex(), "key_file": *out})
}

func address(_ context.Context, e *env, _ []string) error {
	return e.print(map[string]string{"address": e.client.Identity().Hex()})
}

func health(ctx context.Context, e *env, _ []string) error {
	h, err := e.client.Health(ctx)
	if err != nil {
		return err
	}
	return e.print(h)
}

func parseAuthorities(name string, args []string) (protocol, emergency domain.Identity, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	p := fs.String("protocol", "", "protocol authority address")
	em := fs.String("emergency", "", "emergency authority address")
	if err = fs.Parse(args); err != nil {
		return
	}
	if err = required(fs, "protocol", "emergency"); err != nil {
		return
	}
	if protocol, err = domain.ParseIdentity(*p); err != nil {
		return
	}
	emergency, err = domain.ParseIdentity(*em)
	return
}

func initConfig(ctx context.Context, e *env, args []string) error {
	protocol, emergency, err := parseAuthorities("init", args)
	if err != nil {
		return err
	}
	cfg, err := e.client.Initialize(ctx, protocol, emergency)
	if err != nil {
		return err
	}
	return e.print(cfg)
}

func showConfig(ctx context.Context, e *env, _ []string) error {
	cfg, err := e.client.Config(ctx)
	if err != nil {
		return err
	}
	return e.print(cfg)
}

func pause(ctx context.Context, e *env, _ []string) error {
	changed, err := e.client.Pause(ctx)
	if err != nil {
		return err
	}
	return e.print(map[string]bool{"is_paused": true, "changed": changed})
}

func resume(ctx context.Context, e *env, _ []string) error {
	changed, err := e.client.Resume(ctx)
	if err != nil {
		return err
	}
	return e.print(map[string]bool{"is_paused": false, "changed": changed})
}

func authorities(ctx context.Context, e *env, args []string) error {
	protocol, emergency, err := parseAuthorities("authorities", args)
	if err != nil {
		return err
	}
	cfg, err := e.client.SetAuthorities(ctx, protocol, emergency)
	if err != nil {
		return err
	}
	return e.print(cfg)
}

func delegate(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delegate", flag.ContinueOnError)
	bot := fs.String("bot", "", "bot authority address")
	strategy := fs.Uint("strategy", 0, "strategy 0-3")
	maxSize := fs.String("max-size", "", "max position size in coins, e.g. 2.5")
	maxTrades := fs.Uint("max-trades", 1, "max concurrent trades 1-10")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "bot", "max-size"); err != nil {
		return err
	}
	botID, err := domain.ParseIdentity(*bot)
	if err != nil {
		return err
	}
	size, err := domain.ParseCoins(*maxSize)
	if err != nil {
		return err
	}
	if *strategy > 255 || *maxTrades > 255 {
		return errors.New("delegate: strategy and max-trades must fit in a byte")
	}
	d, err := e.client.CreateDelegation(ctx, client.Grant{
		BotAuthority:        botID,
		Strategy:            domain.Strategy(*strategy),
		MaxPositionSize:     size,
		MaxConcurrentTrades: uint8(*maxTrades),
	})
	if err != nil {
		return err
	}
	return e.print(d)
}

func update(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	strategy := fs.String("strategy", "", "new strategy 0-3")
	maxSize := fs.String("max-size", "", "new max position size in coins")
	maxTrades := fs.String("max-trades", "", "new max concurrent trades")
	active := fs.String("active", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var u client.GrantUpdate
	if *strategy != "" {
		n, err := strconv.ParseUint(*strategy, 10, 8)
		if err != nil {
			return fmt.Errorf("update: -strategy: %w", err)
		}
		v := uint8(n)
		u.Strategy = &v
	}
	if *maxSize != "" {
		v, err := domain.ParseCoins(*maxSize)
		if err != nil {
			return err
		}
		u.MaxPositionSize = &v
	}
	if *maxTrades != "" {
		n, err := strconv.ParseUint(*maxTrades, 10, 8)
		if err != nil {
			return fmt.Errorf("update: -max-trades: %w", err)
		}
		v := uint8(n)
		u.MaxConcurrentTrades = &v
	}
	if *active != "" {
		v, err := strconv.ParseBool(*active)
		if err != nil {
			return fmt.Errorf("update: -active: %w", err)
		}
		u.IsActive = &v
	}
	d, err := e.client.UpdateDelegation(ctx, e.client.Identity(), u)
	if err != nil {
		return err
	}
	return e.print(d)
}

// userFlag parses a -user flag, defaulting to the signer.
func userFlag(e *env, name string, args []string, extra func(*flag.FlagSet)) (*flag.FlagSet, domain.Identity, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	user := fs.String("user", "", "grant owner address (default: signer)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, domain.Identity{}, err
	}
	if *user == "" {
		if id := e.client.Identity(); !domain.IsZeroIdentity(id) {
			return fs, id, nil
		}
		return nil, domain.Identity{}, fmt.Errorf("%s: -user is required", name)
	}
	id, err := domain.ParseIdentity(*user)
	return fs, id, err
}

func revoke(ctx context.Context, e *env, args []string) error {
	_, user, err := userFlag(e, "revoke", args, nil)
	if err != nil {
		return err
	}
	changed, err := e.client.Revoke(ctx, user)
	if err != nil {
		return err
	}
	return e.print(map[string]bool{"is_active": false, "changed": changed})
}

func rotate(ctx context.Context, e *env, args []string) error {
	var bot *string
	fs, user, err := userFlag(e, "rotate", args, func(fs *flag.FlagSet) {
		bot = fs.String("bot", "", "new bot authority address")
	})
	if err != nil {
		return err
	}
	if err := required(fs, "bot"); err != nil {
		return err
	}
	next, err := domain.ParseIdentity(*bot)
	if err != nil {
		return err
	}
	old, err := e.client.Rotate(ctx, user, next)
	if err != nil {
		return err
	}
	return e.print(map[string]string{"old_authority": old.Hex(), "new_authority": next.Hex()})
}

func closeGrant(ctx context.Context, e *env, args []string) error {
	_, user, err := userFlag(e, "close", args, nil)
	if err != nil {
		return err
	}
	d, err := e.client.CloseDelegation(ctx, user)
	if err != nil {
		return err
	}
	return e.print(d)
}

func getGrant(ctx context.Context, e *env, args []string) error {
	_, user, err := userFlag(e, "get", args, nil)
	if err != nil {
		return err
	}
	d, err := e.client.Delegation(ctx, user)
	if err != nil {
		return err
	}
	return e.print(d)
}

func stats(ctx context.Context, e *env, args []string) error {
	_, user, err := userFlag(e, "stats", args, nil)
	if err != nil {
		return err
	}
	s, err := e.client.Stats(ctx, user)
	if err != nil {
		return err
	}
	return e.print(s)
}

func pageFlags(fs *flag.FlagSet) (limit, offset *int) {
	return fs.Int("limit", 50, "page size"), fs.Int("offset", 0, "page offset")
}

func list(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	limit, offset := pageFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ds, err := e.client.Delegations(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	return e.print(ds)
}

func openPosition(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	user := fs.String("user", "", "grant owner address")
	token := fs.String("token", "", "token identifier")
	amount := fs.String("amount", "", "amount in coins")
	entry := fs.String("entry", "", "entry price, e.g. 0.0021")
	tp := fs.String("take-profit", "", "take-profit price, above entry")
	sl := fs.String("stop-loss", "", "stop-loss price, below entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user", "token", "amount", "entry", "take-profit", "stop-loss"); err != nil {
		return err
	}
	owner, err := domain.ParseIdentity(*user)
	if err != nil {
		return err
	}
	t := client.Trade{TokenID: *token}
	if t.Amount, err = domain.ParseCoins(*amount); err != nil {
		return err
	}
	if t.EntryPrice, err = domain.ParsePrice(*entry); err != nil {
		return err
	}
	if t.TakeProfit, err = domain.ParsePrice(*tp); err != nil {
		return err
	}
	if t.StopLoss, err = domain.ParsePrice(*sl); err != nil {
		return err
	}
	p, err := e.client.OpenPosition(ctx, owner, t)
	if err != nil {
		return err
	}
	return e.print(p)
}

func positions(ctx context.Context, e *env, args []string) error {
	var status *string
	var limit, offset *int
	_, user, err := userFlag(e, "positions", args, func(fs *flag.FlagSet) {
		status = fs.String("status", "", "open, closed or liquidated")
		limit, offset = pageFlags(fs)
	})
	if err != nil {
		return err
	}
	ps, err := e.client.Positions(ctx, user, domain.PositionStatus(*status), *limit, *offset)
	if err != nil {
		return err
	}
	return e.print(ps)
}

func keyFlags(fs *flag.FlagSet) (delegation *string, seq *uint64) {
	return fs.String("delegation", "", "delegation id"), fs.Uint64("seq", 0, "position sequence number")
}

func position(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("position", flag.ContinueOnError)
	delegation, seq := keyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "delegation"); err != nil {
		return err
	}
	p, err := e.client.Position(ctx, domain.PositionKey{Delegation: *delegation, Seq: *seq})
	if err != nil {
		return err
	}
	return e.print(p)
}

func closePosition(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("close-position", flag.ContinueOnError)
	user := fs.String("user", "", "grant owner address")
	delegation, seq := keyFlags(fs)
	exit := fs.String("exit", "", "exit price")
	received := fs.String("received", "", "amount received in coins")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user", "delegation", "exit", "received"); err != nil {
		return err
	}
	owner, err := domain.ParseIdentity(*user)
	if err != nil {
		return err
	}
	exitPrice, err := domain.ParsePrice(*exit)
	if err != nil {
		return err
	}
	amount, err := domain.ParseCoins(*received)
	if err != nil {
		return err
	}
	key := domain.PositionKey{Delegation: *delegation, Seq: *seq}
	pnl, err := e.client.ClosePosition(ctx, owner, key, exitPrice, amount)
	if err != nil {
		return err
	}
	return e.print(map[string]any{
		"delegation": key.Delegation,
		"seq":        key.Seq,
		"pnl":        pnl,
		"pnl_coins":  domain.FormatSignedCoins(pnl),
	})
}

func deleteRecord(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete-record", flag.ContinueOnError)
	delegation, seq := keyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "delegation"); err != nil {
		return err
	}
	key := domain.PositionKey{Delegation: *delegation, Seq: *seq}
	if err := e.client.DeletePositionRecord(ctx, key); err != nil {
		return err
	}
	return e.print(map[string]any{"deleted": key.String()})
}

func events(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	limit, offset := pageFlags(fs)
	since := fs.Duration("since", 0, "only events newer than this, e.g. 24h")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}
	entries, err := e.client.Events(ctx, from, time.Time{}, *limit, *offset)
	if err != nil {
		return err
	}
	return e.print(entries)
}

func archives(ctx context.Context, e *env, _ []string) error {
	infos, err := e.client.Archives(ctx)
	if err != nil {
		return err
	}
	return e.print(infos)
}

func archive(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	name := fs.String("name", "", "archive file name, e.g. 2026-01.jsonl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "name"); err != nil {
		return err
	}
	return e.client.DownloadArchive(ctx, *name, e.out)
}
