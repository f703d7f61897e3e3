package auth

import (
	"errors"
	"time"

	"github.com/congo-pay/custody_ledger/internal/account"
)

var (
	// ErrTokenExpired is returned for tokens past their exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("caller token secret is empty")
)

// CallerTokens issues and verifies bearer tokens that name the calling account.
// The sub claim carries the account address.
type CallerTokens struct {
	secret    []byte
	addresses account.Codec
	now       func() time.Time
}

func NewCallerTokens(secret string, addresses account.Codec) (*CallerTokens, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &CallerTokens{secret: []byte(secret), addresses: addresses, now: time.Now}, nil
}

// Issue signs a token for caller valid for ttl.
func (t *CallerTokens) Issue(caller account.Address, ttl time.Duration) (string, time.Time, error) {
	caller, err := t.addresses.Parse(caller.String())
	if err != nil {
		return "", time.Time{}, err
	}
	now := t.now()
	exp := now.Add(ttl)
	signed, err := SignHS256(map[string]any{
		"sub": caller.String(),
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}, t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks the signature and expiry of token and returns its caller.
func (t *CallerTokens) Verify(token string) (account.Address, error) {
	claims, err := ParseAndVerifyHS256(token, t.secret)
	if err != nil {
		return "", err
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return "", errors.Join(ErrInvalidToken, errors.New("missing exp"))
	}
	if t.now().Unix() >= int64(exp) {
		return "", ErrTokenExpired
	}
	sub, _ := claims["sub"].(string)
	caller, err := t.addresses.Parse(sub)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	return caller, nil
}
