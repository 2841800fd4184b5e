package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/gateway/internal/envelope"
)

// ErrNotFound is returned when a credential ID is unknown.
var ErrNotFound = errors.New("credential: not found")

// ErrNoActiveCredential is returned when a tool has no non-revoked credential.
var ErrNoActiveCredential = errors.New("credential: no active credential for tool")

// ErrInvalidTool is returned when Put is called with a tool outside the
// closed set.
var ErrInvalidTool = errors.New("credential: invalid tool")

// Store holds sealed ToolCredential records and the KEK used to unseal them.
// Plaintext secrets never cross the Store boundary except inside Reveal.
type Store struct {
	mu   sync.RWMutex
	kek  []byte
	byID map[string]Credential
	// activeByTool tracks the current active credential id per tool, so Put
	// can revoke the previous one atomically (at most one active per tool).
	activeByTool map[Tool]string
	persist      Persister
}

// Persister is the optional durable backend behind a Store. Records cross
// this boundary sealed; a Persister never sees plaintext.
type Persister interface {
	Save(ctx context.Context, cred Credential) error
	LoadAll(ctx context.Context) ([]Credential, error)
}

// NewStore constructs a Store that seals/unseals with kek (exactly 32 bytes,
// see envelope.ParseKEK).
func NewStore(kek []byte) *Store {
	return &Store{
		kek:          kek,
		byID:         make(map[string]Credential),
		activeByTool: make(map[Tool]string),
	}
}

// NewPersistentStore constructs a Store backed by p, loading every existing
// record before returning (SECRETS_BACKEND=sqlite).
func NewPersistentStore(ctx context.Context, kek []byte, p Persister) (*Store, error) {
	s := NewStore(kek)
	s.persist = p
	records, err := p.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range records {
		s.byID[c.ID] = c
		if c.Active() {
			s.activeByTool[c.Tool] = c.ID
		}
	}
	return s, nil
}

// Put seals plaintext and stores it as the new active credential for tool,
// revoking whatever credential was previously active for that tool.
func (s *Store) Put(ctx context.Context, tool Tool, plaintext []byte) (Credential, error) {
	if !tool.Valid() {
		return Credential{}, ErrInvalidTool
	}

	sealed, err := envelope.Seal(plaintext, s.kek)
	if err != nil {
		return Credential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prevID, ok := s.activeByTool[tool]; ok {
		prev := s.byID[prevID]
		now := time.Now().UTC()
		prev.RevokedAt = &now
		if err := s.save(ctx, prev); err != nil {
			return Credential{}, err
		}
		s.byID[prevID] = prev
	}

	cred := Credential{
		ID:   uuid.NewString(),
		Tool: tool,
		Sealed: SealedBlob{
			NonceOuter:     sealed.NonceOuter,
			NonceInner:     sealed.NonceInner,
			CiphertextKey:  sealed.CiphertextKey,
			CiphertextData: sealed.CiphertextData,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.save(ctx, cred); err != nil {
		return Credential{}, err
	}
	s.byID[cred.ID] = cred
	s.activeByTool[tool] = cred.ID
	return cred, nil
}

// save writes cred through to the persister, when one is configured.
func (s *Store) save(ctx context.Context, cred Credential) error {
	if s.persist == nil {
		return nil
	}
	return s.persist.Save(ctx, cred)
}

// Revoke marks the credential with the given id as revoked. Revoking an
// already-revoked credential is a no-op.
func (s *Store) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if cred.RevokedAt == nil {
		now := time.Now().UTC()
		cred.RevokedAt = &now
		if err := s.save(ctx, cred); err != nil {
			return err
		}
		s.byID[id] = cred
	}
	if s.activeByTool[cred.Tool] == id {
		delete(s.activeByTool, cred.Tool)
	}
	return nil
}

// Active returns the current active (non-revoked) credential for tool.
func (s *Store) Active(ctx context.Context, tool Tool) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeByTool[tool]
	if !ok {
		return Credential{}, ErrNoActiveCredential
	}
	return s.byID[id], nil
}

// Reveal unseals and returns the plaintext secret for the active credential
// of tool. Callers must discard the returned bytes promptly; Reveal never
// logs the plaintext and the pipeline must not either.
func (s *Store) Reveal(ctx context.Context, tool Tool) ([]byte, error) {
	cred, err := s.Active(ctx, tool)
	if err != nil {
		return nil, err
	}
	return envelope.Unseal(envelope.Sealed{
		NonceOuter:     cred.Sealed.NonceOuter,
		NonceInner:     cred.Sealed.NonceInner,
		CiphertextKey:  cred.Sealed.CiphertextKey,
		CiphertextData: cred.Sealed.CiphertextData,
	}, s.kek)
}

// List returns every credential record (sealed; no plaintext), including
// revoked ones, ordered by no particular guarantee.
func (s *Store) List(ctx context.Context) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Credential, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	return out
}
