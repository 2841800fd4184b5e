// Package adminauth authenticates the gateway's admin HTTP surface (agent,
// policy, credential, chaos, recovery, degradation endpoints). Credentials
// are hashed with Argon2id; a legacy SHA-256 form is still accepted so
// operators seeding credentials from a plain config file do not need the
// Argon2id parameters at hand.
package adminauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidCredential is returned when a bearer token does not match any
// configured admin credential, or matches one that is revoked.
var ErrInvalidCredential = errors.New("adminauth: invalid credential")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("adminauth: unknown hash type")

// argon2idParams follows OWASP's minimums for interactive login: 47 MiB,
// 1 iteration, 1 degree of parallelism.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashToken returns the SHA-256 hex hash of a raw token, used for the
// legacy fast-path lookup of config-seeded credentials.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashTokenArgon2id returns a PHC-format Argon2id hash of raw, for
// credentials created through the admin API rather than seeded directly.
func HashTokenArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

func detectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	if len(stored) == 64 && isHexString(stored) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyToken checks raw against stored, supporting both hash formats.
func VerifyToken(raw, stored string) (bool, error) {
	switch detectHashType(stored) {
	case "argon2id":
		return safeArgon2idCompare(raw, stored)
	case "sha256":
		expected := strings.TrimPrefix(stored, "sha256:")
		computed := HashToken(raw)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare recovers from argon2id's panic on malformed PHC
// strings, converting it into an error so VerifyToken never panics on
// operator-supplied or corrupted hash data.
func safeArgon2idCompare(raw, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("adminauth: invalid argon2id hash: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, stored)
}

// Principal is the admin identity resolved from a valid bearer token.
type Principal struct {
	ID   string
	Name string
}

// Store looks up the stored hash for a bearer token's fast-path SHA-256
// key, and falls back to a full scan for Argon2id credentials (mirroring
// the API-key validation flow this package is adapted from).
type Store interface {
	LookupBySHA256(ctx context.Context, hash string) (Principal, string, error)
	ListCredentials(ctx context.Context) ([]CredentialRecord, error)
}

// CredentialRecord pairs a Principal with its stored hash, for the
// full-scan fallback path.
type CredentialRecord struct {
	Principal  Principal
	StoredHash string
	Revoked    bool
}

// Authenticator validates admin bearer tokens against a Store.
type Authenticator struct {
	store Store
}

// NewAuthenticator constructs an Authenticator backed by store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate validates raw and returns the matching Principal.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (Principal, error) {
	fastHash := HashToken(raw)
	if principal, stored, err := a.store.LookupBySHA256(ctx, fastHash); err == nil {
		ok, verifyErr := VerifyToken(raw, stored)
		if verifyErr == nil && ok {
			return principal, nil
		}
	}

	records, err := a.store.ListCredentials(ctx)
	if err != nil {
		return Principal{}, ErrInvalidCredential
	}
	for _, rec := range records {
		if rec.Revoked {
			continue
		}
		if ok, err := VerifyToken(raw, rec.StoredHash); err == nil && ok {
			return rec.Principal, nil
		}
	}
	return Principal{}, ErrInvalidCredential
}
