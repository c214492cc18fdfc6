package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/server/handler"
)

func testKey(t *testing.T) (string, string) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()
}

func TestKeygenThenAddress(t *testing.T) {
	ctx := context.Background()
	keyHex, want := testKey(t)
	path := filepath.Join(t.TempDir(), "bot.key")

	var out bytes.Buffer
	err := run(ctx, []string{"-key", keyHex, "-password", "pw", "keygen", "-out", path}, &out)
	require.NoError(t, err)

	var created map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &created))
	assert.Equal(t, want, created["address"])
	assert.Equal(t, path, created["key_file"])

	out.Reset()
	err = run(ctx, []string{"-key-file", path, "-password", "pw", "address"}, &out)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, want, got["address"])

	err = run(ctx, []string{"-key-file", path, "-password", "wrong", "address"}, io.Discard)
	assert.Error(t, err)
}

func TestKeygen_RequiresPassword(t *testing.T) {
	t.Setenv("LEDGERCTL_KEY_PASSWORD", "")
	err := run(context.Background(), []string{"keygen", "-out", filepath.Join(t.TempDir(), "k")}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestRun_CommandErrors(t *testing.T) {
	ctx := context.Background()
	keyHex, _ := testKey(t)

	err := run(ctx, nil, io.Discard)
	assert.EqualError(t, err, "no command given")

	err = run(ctx, []string{"frobnicate"}, io.Discard)
	assert.EqualError(t, err, `unknown command "frobnicate"`)

	t.Setenv("LEDGERCTL_PRIVATE_KEY", "")
	t.Setenv("LEDGERCTL_KEY_FILE", "")
	err = run(ctx, []string{"pause"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key configured")

	err = run(ctx, []string{"-key", keyHex, "delegate", "-strategy", "1"}, io.Discard)
	assert.EqualError(t, err, "delegate: missing -bot, -max-size")

	err = run(ctx, []string{"-key", keyHex, "delegate", "-bot", "nope", "-max-size", "1"}, io.Discard)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewHealthHandler("server", nil, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.HealthCheck)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{"-server", ts.URL, "health"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"status": "ok"`)
}

func TestRequired(t *testing.T) {
	fs := flag.NewFlagSet("x", flag.ContinueOnError)
	fs.String("a", "", "")
	fs.String("b", "", "")
	require.NoError(t, fs.Parse([]string{"-a", "1"}))
	assert.EqualError(t, required(fs, "a", "b"), "x: missing -b")
	assert.NoError(t, required(fs, "a"))
}
