package crypto

import (
	"encoding/hex"
	"math/big"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyHex(t *testing.T) string {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(ethcrypto.FromECDSA(pk))
}

func TestSignAndVerifyRequest(t *testing.T) {
	s, err := NewSigner("0x" + newKeyHex(t))
	require.NoError(t, err)

	body := []byte(`{"amount":1000}`)
	sig, err := s.SignRequest(1700000000, "post", "/api/delegations", body)
	require.NoError(t, err)

	got, err := RecoverRequestSigner(1700000000, "POST", "/api/delegations", body, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)
	require.NoError(t, VerifyRequest(s.Address(), 1700000000, "POST", "/api/delegations", body, sig))
}

func TestVerifyRequest_RejectsTampering(t *testing.T) {
	s, err := NewSigner(newKeyHex(t))
	require.NoError(t, err)
	other, err := NewSigner(newKeyHex(t))
	require.NoError(t, err)

	body := []byte(`{}`)
	sig, err := s.SignRequest(10, "DELETE", "/api/delegations/x", body)
	require.NoError(t, err)

	cases := map[string]func() error{
		"other body": func() error {
			return VerifyRequest(s.Address(), 10, "DELETE", "/api/delegations/x", []byte(`{"a":1}`), sig)
		},
		"other path": func() error {
			return VerifyRequest(s.Address(), 10, "DELETE", "/api/delegations/y", body, sig)
		},
		"other timestamp": func() error {
			return VerifyRequest(s.Address(), 11, "DELETE", "/api/delegations/x", body, sig)
		},
		"other signer": func() error {
			return VerifyRequest(other.Address(), 10, "DELETE", "/api/delegations/x", body, sig)
		},
		"garbage": func() error {
			return VerifyRequest(s.Address(), 10, "DELETE", "/api/delegations/x", body, "0xdead")
		},
	}
	for name, check := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, check(), ErrBadSignature)
		})
	}
}

// highS returns the other valid encoding of sig: S replaced by n-S and the
// recovery id flipped.
func highS(t *testing.T, sig string) string {
	t.Helper()
	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	n := ethcrypto.S256().Params().N
	flipped := new(big.Int).Sub(n, new(big.Int).SetBytes(raw[32:64]))
	flipped.FillBytes(raw[32:64])
	raw[64] ^= 1
	return "0x" + hex.EncodeToString(raw)
}

func TestRecoverRequestSigner_OnlyCanonicalEncoding(t *testing.T) {
	s, err := NewSigner(newKeyHex(t))
	require.NoError(t, err)
	body := []byte(`{"amount":1}`)
	sig, err := s.SignRequest(10, "POST", "/api/delegations/x/positions", body)
	require.NoError(t, err)
	require.Contains(t, []string{"1b", "1c"}, sig[len(sig)-2:])

	zeroOne := sig[:len(sig)-2] + map[string]string{"1b": "00", "1c": "01"}[sig[len(sig)-2:]]

	for name, variant := range map[string]string{
		"v as 0 or 1": zeroOne,
		"high s":      highS(t, sig),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := RecoverRequestSigner(10, "POST", "/api/delegations/x/positions", body, variant)
			assert.ErrorIs(t, err, ErrBadSignature)
		})
	}
}

func TestReplayKey_IgnoresSignatureEncoding(t *testing.T) {
	s, err := NewSigner(newKeyHex(t))
	require.NoError(t, err)
	body := []byte(`{}`)

	k1 := ReplayKey(s.Address(), 10, "POST", "/api/config/pause", body)
	assert.Equal(t, k1, ReplayKey(s.Address(), 10, "post", "/api/config/pause", body))
	assert.NotEqual(t, k1, ReplayKey(s.Address(), 11, "POST", "/api/config/pause", body))
	assert.NotEqual(t, k1, ReplayKey(s.Address(), 10, "POST", "/api/config/pause", []byte(`{"a":1}`)))
}

func TestCanonicalRequest(t *testing.T) {
	got := CanonicalRequest(5, "get", "/api/config", nil)
	assert.Equal(t, "5\nGET\n/api/config\ne3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)
}

func TestKeyFileRoundTrip(t *testing.T) {
	key := newKeyHex(t)
	path := filepath.Join(t.TempDir(), "bot.key.json")
	require.NoError(t, SaveKey(path, key, "hunter2"))

	signer, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	want, err := NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, want.Address(), signer.Address())

	_, err = LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
}

func TestLoadKey_RawWins(t *testing.T) {
	key := newKeyHex(t)
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + key, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}
