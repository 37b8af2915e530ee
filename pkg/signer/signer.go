package signer

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
	// ErrMalformed is returned for tokens that do not parse or fail the signature check.
	ErrMalformed = errors.New("invalid ticket")
	// ErrExpired is returned for well-formed tickets past their deadline.
	ErrExpired = errors.New("ticket expired")
)

// Ticket is the verified content of a signed token.
type Ticket struct {
	Purpose   string
	Subject   string
	Payload   string
	ExpiresAt time.Time
}

// Signer creates and validates short-lived HMAC tickets of the form
// purpose.subject.expiry.payload.signature with base64url encoded text fields.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New constructs a signer with the provided secret and default TTL.
func New(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock returns a copy that reads the current time from fn.
func (s *Signer) WithClock(fn func() time.Time) *Signer {
	clone := *s
	clone.now = fn
	return &clone
}

// Generate signs a ticket valid for the signer's TTL.
func (s *Signer) Generate(purpose, subject, payload string) (string, time.Time, error) {
	return s.GenerateFor(purpose, subject, payload, s.ttl)
}

// GenerateFor signs a ticket valid for ttl.
func (s *Signer) GenerateFor(purpose, subject, payload string, ttl time.Duration) (string, time.Time, error) {
	if purpose == "" || subject == "" {
		return "", time.Time{}, fmt.Errorf("purpose and subject required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(ttl).Truncate(time.Second)
	fields := []string{
		encode(purpose),
		encode(subject),
		strconv.FormatInt(expiresAt.Unix(), 10),
		encode(payload),
	}
	body := strings.Join(fields, ".")
	return body + "." + s.sign(body), expiresAt, nil
}

// Parse validates signature, purpose and expiry and returns the ticket content.
func (s *Signer) Parse(token, purpose string) (*Ticket, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return nil, ErrMalformed
	}
	body := strings.Join(parts[:4], ".")
	if !hmac.Equal([]byte(s.sign(body)), []byte(parts[4])) {
		return nil, ErrMalformed
	}

	gotPurpose, err := decode(parts[0])
	if err != nil || gotPurpose != purpose {
		return nil, ErrMalformed
	}
	subject, err := decode(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	expUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	payload, err := decode(parts[3])
	if err != nil {
		return nil, ErrMalformed
	}

	ticket := &Ticket{Purpose: gotPurpose, Subject: subject, Payload: payload, ExpiresAt: time.Unix(expUnix, 0)}
	if s.now().After(ticket.ExpiresAt) {
		return ticket, ErrExpired
	}
	return ticket, nil
}

// Digest returns a keyed hex digest of the parts, used to bind secrets into tickets
// without revealing them.
func (s *Signer) Digest(parts ...string) string {
	return s.sign(strings.Join(parts, "\x00"))
}

func (s *Signer) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func encode(v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}

func decode(v string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
