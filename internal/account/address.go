package account

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultPrefix is prepended to every textual address.
	DefaultPrefix = "tsy_"
	// PayloadSize is the number of bytes identifying an account.
	PayloadSize  = 20
	checksumSize = 5
)

// ErrInvalidAddress is returned for identifiers that are not well formed.
var ErrInvalidAddress = errors.New("invalid address")

// Address is the canonical textual identifier of a ledger account. Addresses
// compare and sort as plain strings.
type Address string

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// Codec parses and renders addresses for a given prefix.
type Codec struct {
	Prefix string
}

// NewCodec returns a codec for prefix, falling back to DefaultPrefix.
func NewCodec(prefix string) Codec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Codec{Prefix: prefix}
}

func (c Codec) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}

func (c Codec) length() int {
	return len(c.prefix()) + 2*PayloadSize + 2*checksumSize
}

// Parse validates s and returns its canonical (lower-case hex) form.
func (c Codec) Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	prefix := c.prefix()
	if len(s) != c.length() || !strings.HasPrefix(s, prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	body := strings.ToLower(s[len(prefix):])
	raw, err := hex.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	payload, sum := raw[:PayloadSize], raw[PayloadSize:]
	if !bytes.Equal(checksum(payload), sum) {
		return "", fmt.Errorf("%w: checksum mismatch for %q", ErrInvalidAddress, s)
	}
	return Address(prefix + body), nil
}

// Valid reports whether s parses.
func (c Codec) Valid(s string) bool {
	_, err := c.Parse(s)
	return err == nil
}

// FromPayload renders a 20-byte payload as an address.
func (c Codec) FromPayload(payload []byte) (Address, error) {
	if len(payload) != PayloadSize {
		return "", fmt.Errorf("%w: payload length %d", ErrInvalidAddress, len(payload))
	}
	return Address(c.prefix() + hex.EncodeToString(payload) + hex.EncodeToString(checksum(payload))), nil
}

// FromPublicKey derives an address from a public key the same way the custody
// gateway does: the first 20 bytes of its blake2b digest.
func (c Codec) FromPublicKey(pub []byte) Address {
	h, _ := blake2b.New(PayloadSize, nil)
	h.Write(pub)
	addr, _ := c.FromPayload(h.Sum(nil))
	return addr
}

// Generate returns a random address.
func (c Codec) Generate() (Address, error) {
	payload := make([]byte, PayloadSize)
	if _, err := rand.Read(payload); err != nil {
		return "", err
	}
	return c.FromPayload(payload)
}

// MustGenerate is Generate that panics on error.
func (c Codec) MustGenerate() Address {
	addr, err := c.Generate()
	if err != nil {
		panic(err)
	}
	return addr
}

func checksum(payload []byte) []byte {
	h, _ := blake2b.New(checksumSize, nil)
	h.Write(payload)
	return h.Sum(nil)
}
