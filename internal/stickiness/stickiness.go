// Package stickiness issues and verifies the HMAC-signed opaque token
// that pins a conversation to a previously chosen upstream model.
package stickiness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Reason distinguishes why verification failed, so callers can choose a
// distinct X-Route-Why value.
type Reason string

const (
	ReasonBadSignature Reason = "bad_signature"
	ReasonExpired      Reason = "expired"
	ReasonStalePolicy  Reason = "stale_policy"
)

// VerifyError wraps a verification failure with its Reason.
type VerifyError struct {
	Reason Reason
}

func (e *VerifyError) Error() string { return "stickiness: " + string(e.Reason) }

// Claims is the signed payload inside a stickiness token.
type Claims struct {
	RouteID        string    `json:"route_id"`
	Alias          string    `json:"alias"`
	ModelID        string    `json:"model_id"`
	TurnsRemaining int64     `json:"turns_remaining"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	PolicyRev      string    `json:"policy_rev"`
}

// Manager issues and verifies stickiness tokens under a shared HMAC
// secret. If no secret is configured at construction, a random
// process-local one is generated and a warning logged, matching the
// original implementation's fail-open-to-ephemeral-secret behavior for
// single-process dev deployments.
type Manager struct {
	secret []byte
}

// NewManager builds a Manager. An empty secret triggers generation of a
// random 32-byte process-local secret.
func NewManager(secret []byte) *Manager {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("stickiness: failed to generate fallback secret: " + err.Error())
		}
		log.Warn().Msg("ROUTER_STICKY_SECRET not configured; generated an ephemeral process-local secret, stickiness tokens will not survive a restart")
	}
	return &Manager{secret: secret}
}

const tagLen = sha256.Size // 32 bytes, HMAC-SHA256 output

// Issue signs claims and returns the opaque token string: base64url of
// payload_json || hmac_sha256(secret, payload_json), the tag appended raw
// (not dot-separated, since JSON payload bytes may themselves contain '.').
func (m *Manager) Issue(c Claims) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	tag := m.sign(payload)
	buf := append(payload, tag...)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}

// Verify checks the HMAC tag, expiry, and policy revision match,
// returning the decoded Claims on success or a *VerifyError distinguishing
// the failure mode.
func (m *Manager) Verify(token string, now time.Time, currentPolicyRev string) (*Claims, error) {
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(token)
	if err != nil || len(raw) <= tagLen {
		return nil, &VerifyError{Reason: ReasonBadSignature}
	}
	sep := len(raw) - tagLen
	payload, tag := raw[:sep], raw[sep:]

	expected := m.sign(payload)
	if subtle.ConstantTimeCompare(tag, expected) != 1 {
		return nil, &VerifyError{Reason: ReasonBadSignature}
	}

	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, &VerifyError{Reason: ReasonBadSignature}
	}
	if !now.Before(c.ExpiresAt) {
		return nil, &VerifyError{Reason: ReasonExpired}
	}
	if c.PolicyRev != currentPolicyRev {
		return nil, &VerifyError{Reason: ReasonStalePolicy}
	}
	return &c, nil
}

// ProgressTurn advances claims to the next turn, decrementing
// TurnsRemaining, extending ExpiresAt to now+windowMs (capped at cap, the
// enclosing cache entry's ValidUntil), and re-signs. Returns an error if
// no turns remain. A zero cap disables the cap.
func (m *Manager) ProgressTurn(c Claims, now time.Time, windowMs int64, cap time.Time) (string, error) {
	if c.TurnsRemaining <= 0 {
		return "", errors.New("stickiness: no turns remaining")
	}
	c.TurnsRemaining--

	if windowMs <= 0 {
		windowMs = 900000
	}
	expiresAt := now.Add(time.Duration(windowMs) * time.Millisecond)
	if !cap.IsZero() && expiresAt.After(cap) {
		expiresAt = cap
	}
	c.ExpiresAt = expiresAt

	return m.Issue(c)
}

func (m *Manager) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

