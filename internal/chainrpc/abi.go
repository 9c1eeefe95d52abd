package chainrpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// DelegationPrefix is the code prefix marking an account that has delegated
// execution to a contract (EIP-7702 delegation designator).
const DelegationPrefix = "0xef0100"

// IsDelegatedTo reports whether the account code designates a delegation to
// the given executor contract.
func IsDelegatedTo(code, executor string) bool {
	designator := DelegationPrefix + strings.TrimPrefix(strings.ToLower(executor), "0x")
	return strings.ToLower(code) == designator
}

// BatchCall is one call of a delegated batch, in ABI terms an
// (address to, uint256 value, bytes data) tuple.
type BatchCall struct {
	To    string
	Value *big.Int
	Data  []byte
}

// Keccak256 returns the keccak-256 digest of data.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Selector returns the 4-byte function selector for a canonical signature.
func Selector(signature string) []byte {
	return Keccak256([]byte(signature))[:4]
}

// EncodeExecuteBatch ABI-encodes a call to
// executeBatch((address,uint256,bytes)[] calls, uint256 nonce, bytes signature)
// on the executor contract and returns it hex-prefixed.
func EncodeExecuteBatch(calls []BatchCall, nonce uint64, signature []byte) (string, error) {
	callsEnc, err := encodeCallArray(calls)
	if err != nil {
		return "", err
	}
	sigEnc := encodeBytes(signature)

	// Head: offset(calls), nonce, offset(signature). Offsets are relative
	// to the start of the argument block.
	headLen := 3 * 32
	var out []byte
	out = append(out, encodeUint(big.NewInt(int64(headLen)))...)
	out = append(out, encodeUint(new(big.Int).SetUint64(nonce))...)
	out = append(out, encodeUint(big.NewInt(int64(headLen+len(callsEnc))))...)
	out = append(out, callsEnc...)
	out = append(out, sigEnc...)

	selector := Selector("executeBatch((address,uint256,bytes)[],uint256,bytes)")
	return "0x" + hex.EncodeToString(selector) + hex.EncodeToString(out), nil
}

// EncodeSignatureEnvelope ABI-encodes
// (bytes signature, bytes preHookData, bytes postHookData), the wrapper
// the executor expects around a batch signature. Hook data may be empty.
func EncodeSignatureEnvelope(signature, preHook, postHook []byte) []byte {
	parts := [][]byte{encodeBytes(signature), encodeBytes(preHook), encodeBytes(postHook)}

	var out []byte
	offset := 3 * 32
	for _, p := range parts {
		out = append(out, encodeUint(big.NewInt(int64(offset)))...)
		offset += len(p)
	}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// EncodeNonceCall ABI-encodes nonces(address) for reading the executor's
// per-account batch nonce via eth_call.
func EncodeNonceCall(account string) (string, error) {
	addr, err := encodeAddress(account)
	if err != nil {
		return "", err
	}
	selector := Selector("nonces(address)")
	return "0x" + hex.EncodeToString(selector) + hex.EncodeToString(addr), nil
}

func encodeCallArray(calls []BatchCall) ([]byte, error) {
	var out []byte
	out = append(out, encodeUint(big.NewInt(int64(len(calls))))...)

	// Each element is a dynamic tuple, so the array body is a run of
	// offsets followed by the element encodings.
	encoded := make([][]byte, len(calls))
	for i, c := range calls {
		e, err := encodeCall(c)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		encoded[i] = e
	}

	offset := len(calls) * 32
	for _, e := range encoded {
		out = append(out, encodeUint(big.NewInt(int64(offset)))...)
		offset += len(e)
	}
	for _, e := range encoded {
		out = append(out, e...)
	}
	return out, nil
}

func encodeCall(c BatchCall) ([]byte, error) {
	addr, err := encodeAddress(c.To)
	if err != nil {
		return nil, err
	}
	value := c.Value
	if value == nil {
		value = big.NewInt(0)
	}

	var out []byte
	out = append(out, addr...)
	out = append(out, encodeUint(value)...)
	out = append(out, encodeUint(big.NewInt(3*32))...) // offset of data
	out = append(out, encodeBytes(c.Data)...)
	return out, nil
}

func encodeUint(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

func encodeAddress(addr string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(addr), "0x"))
	if err != nil || len(raw) != 20 {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	out := make([]byte, 32)
	copy(out[12:], raw)
	return out, nil
}

func encodeBytes(b []byte) []byte {
	out := encodeUint(big.NewInt(int64(len(b))))
	out = append(out, b...)
	if pad := len(b) % 32; pad != 0 {
		out = append(out, make([]byte, 32-pad)...)
	}
	return out
}

// HexToBytes decodes a 0x-prefixed hex string, tolerating the empty string.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
