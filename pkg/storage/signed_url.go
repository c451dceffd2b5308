package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid covers malformed or tampered download tokens.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired is returned once a token passes its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedURLSigner issues short-lived download tokens bound to an owner and object key.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token referencing ownerID and key.
func (s *SignedURLSigner) Generate(ownerID, key string) (string, time.Time, error) {
	if ownerID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("owner and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedOwner := base64.RawURLEncoding.EncodeToString([]byte(ownerID))
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	signature := s.sign(encodedOwner, ts, encodedKey)
	return strings.Join([]string{encodedOwner, ts, encodedKey, signature}, "."), expiresAt, nil
}

// Parse validates a token and returns the owner and object key it grants.
func (s *SignedURLSigner) Parse(token string) (ownerID, key string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", ErrTokenInvalid
	}
	encodedOwner, ts, encodedKey, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(encodedOwner, ts, encodedKey)), []byte(signature)) {
		return "", "", ErrTokenInvalid
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", ErrTokenInvalid
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", "", ErrTokenExpired
	}

	rawOwner, err := base64.RawURLEncoding.DecodeString(encodedOwner)
	if err != nil {
		return "", "", ErrTokenInvalid
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return "", "", ErrTokenInvalid
	}
	return string(rawOwner), string(rawKey), nil
}

func (s *SignedURLSigner) sign(owner, ts, key string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(owner + "|" + ts + "|" + key))
	return hex.EncodeToString(mac.Sum(nil))
}
