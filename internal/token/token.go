// Package token issues and validates the short-lived capability tokens that
// authorize an agent's outbound tool calls.
//
// A token is serialized as base64url(payload_json) "." hex(HMAC-SHA256(secret,
// base64url_payload)). The HMAC binds the payload to a process-wide signing
// secret; validation is constant-time and never leaks timing information
// about how much of the signature matched.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// expiringSoonHorizon is how far ahead of expiry a token is flagged for rotation.
const expiringSoonHorizon = 5 * time.Minute

// Reason enumerates why Validate rejected a token.
type Reason string

const (
	// ReasonNone indicates a valid token.
	ReasonNone Reason = ""
	// ReasonMalformed indicates the wire format could not be parsed.
	ReasonMalformed Reason = "malformed"
	// ReasonBadSignature indicates the HMAC did not match.
	ReasonBadSignature Reason = "bad_signature"
	// ReasonExpired indicates now >= payload.ExpiresAt.
	ReasonExpired Reason = "expired"
)

// Payload is the signed body of a capability token.
type Payload struct {
	AgentID   string    `json:"agentId"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Nonce     string    `json:"nonce"`
	// TokenID, when set, binds this token to a TokenRegistryEntry for
	// provenance checks (see internal/token/registry.go).
	TokenID string `json:"tokenId,omitempty"`
}

// HasScope reports whether scope (a "tool:action" string) is present.
func (p Payload) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IssueParams configures Issue.
type IssueParams struct {
	AgentID    string
	Scopes     []string
	TTL        time.Duration
	WithTokenID bool
}

// Result is the outcome of Validate.
type Result struct {
	OK      bool
	Payload Payload
	Reason  Reason
}

// Codec issues and validates tokens using a single process-wide signing secret.
// The secret is loaded once at startup (see internal/configmgr). Codec has
// no rotation method and validates only against the one secret it holds, so
// tokens signed with any earlier secret fail validation.
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec with the given HMAC signing secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret must not be empty")
	}
	return &Codec{secret: secret}, nil
}

// Issue produces a signed token string for the given parameters.
func (c *Codec) Issue(p IssueParams) (string, Payload, error) {
	if p.AgentID == "" {
		return "", Payload{}, errors.New("token: agentId is required")
	}
	if len(p.Scopes) == 0 {
		return "", Payload{}, errors.New("token: at least one scope is required")
	}
	if p.TTL <= 0 {
		return "", Payload{}, errors.New("token: ttl must be positive")
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", Payload{}, fmt.Errorf("token: generate nonce: %w", err)
	}

	now := time.Now().UTC()
	payload := Payload{
		AgentID:   p.AgentID,
		Scopes:    append([]string(nil), p.Scopes...),
		IssuedAt:  now,
		ExpiresAt: now.Add(p.TTL),
		Nonce:     nonce,
	}
	if p.WithTokenID {
		id, err := randomNonce()
		if err != nil {
			return "", Payload{}, fmt.Errorf("token: generate token id: %w", err)
		}
		payload.TokenID = id
	}

	raw, err := c.encode(payload)
	if err != nil {
		return "", Payload{}, err
	}
	return raw, payload, nil
}

// encode serializes and signs a payload without minting a new nonce/expiry.
func (c *Codec) encode(payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}
	encodedBody := base64.RawURLEncoding.EncodeToString(body)
	sig := c.sign(encodedBody)
	return encodedBody + "." + hex.EncodeToString(sig), nil
}

func (c *Codec) sign(encodedBody string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedBody))
	return mac.Sum(nil)
}

// Validate parses and verifies a token string. Signature comparison is
// constant-time; malformed input is rejected before any comparison happens.
func (c *Codec) Validate(raw string) Result {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Result{Reason: ReasonMalformed}
	}
	encodedBody, sigHex := parts[0], parts[1]

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}

	expected := c.sign(encodedBody)
	if subtle.ConstantTimeCompare(expected, sig) != 1 {
		return Result{Reason: ReasonBadSignature}
	}

	body, err := base64.RawURLEncoding.DecodeString(encodedBody)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{Reason: ReasonMalformed}
	}

	if !time.Now().UTC().Before(payload.ExpiresAt) {
		return Result{Payload: payload, Reason: ReasonExpired}
	}

	return Result{OK: true, Payload: payload}
}

// IsExpiringSoon returns true when payload expires within the rotation horizon.
func IsExpiringSoon(payload Payload) bool {
	return time.Until(payload.ExpiresAt) <= expiringSoonHorizon
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
