// Package configmgr implements the process configuration manager: a
// line-oriented KEY=VALUE file with atomic rename, checksummed backups,
// and exclusive-create file locks with stale-lock reclamation.
package configmgr

import "time"

// DefaultLockTimeout is how old a lock file must be before it is considered
// stale (a lock whose owner PID is not alive is stale at once), and how
// long lock acquisition keeps retrying.
const DefaultLockTimeout = 30 * time.Second

// DefaultBackupsToKeep bounds how many backups cleanupBackups retains.
const DefaultBackupsToKeep = 10

// Lock is the contents of a lock file under the locks directory.
type Lock struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	PID       int       `json:"pid"`
}

// Backup describes one checksummed snapshot of the config file, created
// before every updateConfig write.
type Backup struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Checksum  string    `json:"checksum"` // hex xxhash64 of the backed-up file's bytes
	Size      int64     `json:"size"`
}

// ErrValidation wraps a validation failure surfaced after an updateConfig
// write, once the config manager has already rolled back to the
// just-created backup.
type ErrValidation struct {
	Err          error
	RolledBackTo string
}

func (e *ErrValidation) Error() string {
	return "configmgr: validation failed after write, rolled back to backup " + e.RolledBackTo + ": " + e.Err.Error()
}

func (e *ErrValidation) Unwrap() error { return e.Err }
