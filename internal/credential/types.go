// Package credential manages ToolCredential records: the sealed secrets an
// adapter needs to reach a live upstream. Credentials are
// encrypted at rest via internal/envelope and decrypted only on demand by the
// adapter that consumes them.
package credential

import "time"

// Tool is the closed set of upstream tools the gateway forwards calls to.
type Tool string

const (
	ToolSearch    Tool = "search"
	ToolHTTPFetch Tool = "http_fetch"
	ToolChat      Tool = "chat"
	ToolSendMail  Tool = "send_mail"
)

// Tools lists the full closed set, in declaration order.
var Tools = []Tool{ToolSearch, ToolHTTPFetch, ToolChat, ToolSendMail}

// Valid reports whether t is one of the known tools.
func (t Tool) Valid() bool {
	for _, known := range Tools {
		if t == known {
			return true
		}
	}
	return false
}

// Credential is a sealed secret for one tool. At most one non-revoked
// Credential per tool is "active" at a time; Store enforces this invariant.
type Credential struct {
	ID         string
	Tool       Tool
	Sealed     SealedBlob
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// SealedBlob mirrors envelope.Sealed so this package does not force every
// caller to import internal/envelope just to hold a Credential value.
type SealedBlob struct {
	NonceOuter     string
	NonceInner     string
	CiphertextKey  string
	CiphertextData string
}

// Active reports whether the credential has not been revoked.
func (c Credential) Active() bool {
	return c.RevokedAt == nil
}
