// Command ledgerctl is an operator and bot CLI for the ledger API. Requests
// are signed with a key given as hex or as an encrypted key file.
//
//	ledgerctl [global flags] <command> [command flags]
//
// Global flags fall back to LEDGERCTL_* environment variables, which may also
// come from a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/botledger/internal/client"
	"github.com/alanyoungcy/botledger/internal/crypto"
)

type globals struct {
	server   string
	apiKey   string
	key      string
	keyFile  string
	password string
	timeout  time.Duration
}

type command struct {
	usage  string
	signed bool
	run    func(ctx context.Context, env *env, args []string) error
}

type env struct {
	g      globals
	client *client.Client
	out    io.Writer
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&g.server, "server", envOr("LEDGERCTL_SERVER", "http://localhost:8080"), "ledger API base URL")
	fs.StringVar(&g.apiKey, "api-key", os.Getenv("LEDGERCTL_API_KEY"), "API key, when the server requires one")
	fs.StringVar(&g.key, "key", os.Getenv("LEDGERCTL_PRIVATE_KEY"), "hex private key")
	fs.StringVar(&g.keyFile, "key-file", os.Getenv("LEDGERCTL_KEY_FILE"), "encrypted key file")
	fs.StringVar(&g.password, "password", os.Getenv("LEDGERCTL_KEY_PASSWORD"), "key file password")
	fs.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	e := &env{g: g, out: out}
	opts := []client.Option{}
	if g.apiKey != "" {
		opts = append(opts, client.WithAPIKey(g.apiKey))
	}
	if cmd.signed {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    g.key,
			EncryptedKeyPath: g.keyFile,
			KeyPassword:      g.password,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		opts = append(opts, client.WithSigner(signer))
	}
	e.client = client.New(g.server, opts...)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return cmd.run(ctx, e, rest)
}

func printUsage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "usage: ledgerctl [global flags] <command> [command flags]")
	fmt.Fprintln(w, "\nglobal flags:")
	fs.PrintDefaults()
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-16s %s\n", n, commands[n].usage)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// required reports the first empty flag value among names.
func required(fs *flag.FlagSet, names ...string) error {
	var missing []string
	for _, n := range names {
		if f := fs.Lookup(n); f == nil || strings.TrimSpace(f.Value.String()) == "" {
			missing = append(missing, "-"+n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing %s", fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}
