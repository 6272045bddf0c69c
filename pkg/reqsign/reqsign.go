// Package reqsign signs and verifies marketplace write requests with secp256k1 keys.
//
// The signed message binds the HTTP method, path, sender, timestamp, idempotency key
// and a keccak256 digest of the body, and is hashed as an EIP-191 personal message
// so wallets can produce the same signature.
package reqsign

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

var (
	ErrMissingSignature = errors.New("reqsign: signature is required")
	ErrBadSignature     = errors.New("reqsign: signature does not match sender")
	ErrStale            = errors.New("reqsign: timestamp outside allowed skew")
	ErrBadSender        = errors.New("reqsign: sender is not a hex address")
)

// Fields are the parts of a request covered by the signature.
type Fields struct {
	Method         string
	Path           string
	Sender         string
	Timestamp      int64
	IdempotencyKey string
	Body           []byte
}

// Message 返回待签名的规范化文本
func (f Fields) Message() []byte {
	var b strings.Builder
	b.WriteString("nftmarket request\n")
	b.WriteString(strings.ToUpper(f.Method))
	b.WriteByte('\n')
	b.WriteString(f.Path)
	b.WriteByte('\n')
	b.WriteString(strings.ToLower(f.Sender))
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(f.Timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(f.IdempotencyKey)
	b.WriteByte('\n')
	b.WriteString(crypto.Keccak256Hash(f.Body).Hex())
	return []byte(b.String())
}

// digest is the EIP-191 personal message hash.
func digest(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// Address returns the checksummed address of key.
func Address(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// ParseKey 从十六进制字符串解析私钥（可带 0x 前缀）
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
}

// NormalizeSender returns the checksummed form of a hex address.
func NormalizeSender(sender string) (string, error) {
	sender = strings.TrimSpace(sender)
	if !common.IsHexAddress(sender) {
		return "", fmt.Errorf("%w: %q", ErrBadSender, sender)
	}
	return common.HexToAddress(sender).Hex(), nil
}

// Sign signs f with key. f.Sender should be Address(key).
func Sign(key *ecdsa.PrivateKey, f Fields) (string, error) {
	sig, err := crypto.Sign(digest(f.Message()), key)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	// wallets emit v as 27/28
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// Verifier checks request signatures against the claimed sender.
type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// Verify recovers the signer of f and returns the checksummed sender when it matches.
func (v Verifier) Verify(f Fields, signature string) (string, error) {
	sender, err := NormalizeSender(f.Sender)
	if err != nil {
		return "", err
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return "", ErrMissingSignature
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := v.MaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if d := now().Sub(time.Unix(f.Timestamp, 0)); d > skew || d < -skew {
		return "", ErrStale
	}

	sig := common.FromHex(signature)
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest(f.Message()), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != sender {
		return "", ErrBadSignature
	}
	return sender, nil
}
