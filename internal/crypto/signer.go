package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-Ledger-Address"
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

// ErrBadSignature is returned when a signature cannot be decoded or does not
// recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs ledger API requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex private key, with or without 0x.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the identity the signer proves.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the hex signature for one request.
func (s *Signer) SignRequest(timestamp int64, method, path string, body []byte) (string, error) {
	return s.signDigest(requestDigest(timestamp, method, path, body))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// CanonicalRequest is the text a request signature covers:
//
//	<unix seconds>\n<METHOD>\n<path>\n<hex sha256(body)>
func CanonicalRequest(timestamp int64, method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%d\n%s\n%s\n%x", timestamp, strings.ToUpper(method), path, sum)
}

// requestDigest applies the EIP-191 personal-message prefix.
func requestDigest(timestamp int64, method, path string, body []byte) []byte {
	return accounts.TextHash([]byte(CanonicalRequest(timestamp, method, path, body)))
}

// RecoverRequestSigner returns the address that produced sigHex over the
// request. Only the canonical encoding is accepted: v must be 27 or 28 and S
// must be in the lower half of the curve order.
func RecoverRequestSigner(timestamp int64, method, path string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] != 27 && sig[64] != 28 {
		return common.Address{}, fmt.Errorf("%w: recovery id must be 27 or 28", ErrBadSignature)
	}
	sig[64] -= 27
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: non-canonical signature values", ErrBadSignature)
	}
	pub, err := ethcrypto.SigToPub(requestDigest(timestamp, method, path, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ReplayKey identifies one signed request independently of how its
// signature is encoded.
func ReplayKey(addr common.Address, timestamp int64, method, path string, body []byte) string {
	return fmt.Sprintf("%s|%d|%x", strings.ToLower(addr.Hex()), timestamp, requestDigest(timestamp, method, path, body))
}

// VerifyRequest checks that sigHex over the request was produced by want.
func VerifyRequest(want common.Address, timestamp int64, method, path string, body []byte, sigHex string) error {
	got, err := RecoverRequestSigner(timestamp, method, path, body, sigHex)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, got.Hex())
	}
	return nil
}
