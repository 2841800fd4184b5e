package configmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Manager is the process configuration manager.
// One Manager owns one config file plus its sibling backups/ and
// locks/ directories.
type Manager struct {
	path       string
	backupsDir string
	locksDir   string
	tmpl       Template
	lockTimeout time.Duration

	mu sync.Mutex // in-process serialization; acquireLock handles cross-process
}

// Config tunes a Manager.
type Config struct {
	Path        string // path to the live config file
	BackupsDir  string // default: <dir of Path>/backups
	LocksDir    string // default: <dir of Path>/locks
	Template    Template
	LockTimeout time.Duration // default 30s
}

// New constructs a Manager and ensures its backups/locks directories exist.
func New(cfg Config) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("configmgr: Path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if cfg.BackupsDir == "" {
		cfg.BackupsDir = filepath.Join(dir, "backups")
	}
	if cfg.LocksDir == "" {
		cfg.LocksDir = filepath.Join(dir, "locks")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if err := os.MkdirAll(cfg.BackupsDir, 0700); err != nil {
		return nil, fmt.Errorf("configmgr: create backups directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LocksDir, 0700); err != nil {
		return nil, fmt.Errorf("configmgr: create locks directory: %w", err)
	}
	return &Manager{
		path:        cfg.Path,
		backupsDir:  cfg.BackupsDir,
		locksDir:    cfg.LocksDir,
		tmpl:        cfg.Template,
		lockTimeout: cfg.LockTimeout,
	}, nil
}

func (m *Manager) lockPath() string {
	return filepath.Join(m.locksDir, "config.lock")
}

// ReadConfig parses the live config file. A missing file reads as an
// empty map, not an error (first-boot case).
func (m *Manager) ReadConfig() (map[string]string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("configmgr: read config: %w", err)
	}
	return parseConfig(data)
}

// Validator is invoked by UpdateConfig after the new config has been
// written to disk; returning an error triggers an automatic rollback to
// the backup just created.
type Validator func(values map[string]string) error

// UpdateConfig applies changes on top of the current config, under an
// exclusive cross-process lock: backs up the current file, writes the
// merged result through a deterministic template, and atomically renames
// it into place. If validate is non-nil and returns an error, the write is
// rolled back to the backup and the error is returned wrapped in
// ErrValidation.
func (m *Manager) UpdateConfig(changes map[string]string, reason string, validate Validator) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lockID, err := acquireLock(m.lockPath(), "update_config", m.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer releaseLock(m.lockPath(), lockID)

	current, err := m.ReadConfig()
	if err != nil {
		return nil, err
	}

	backupID, backupErr := m.createBackupLocked(reason)
	if backupErr != nil && !os.IsNotExist(backupErr) {
		// Only a genuinely missing source file is tolerated (first write);
		// any other backup failure aborts before we touch the live file.
		if _, statErr := os.Stat(m.path); statErr == nil {
			return nil, fmt.Errorf("configmgr: create backup: %w", backupErr)
		}
	}

	merged := make(map[string]string, len(current)+len(changes))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}

	if err := m.writeLocked(merged); err != nil {
		return nil, fmt.Errorf("configmgr: write config: %w", err)
	}

	if validate != nil {
		if verr := validate(merged); verr != nil {
			if backupID != "" {
				if rerr := m.rollbackLocked(backupID); rerr != nil {
					return nil, fmt.Errorf("configmgr: validation failed (%v) and rollback failed: %w", verr, rerr)
				}
			}
			return nil, &ErrValidation{Err: verr, RolledBackTo: backupID}
		}
	}

	return merged, nil
}

func (m *Manager) writeLocked(values map[string]string) error {
	data := serializeConfig(values, m.tmpl)
	tmpPath := m.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to config: %w", err)
	}
	return nil
}

// createBackupLocked snapshots the current live file (if any) into
// backupsDir/<id>.conf plus a sidecar backupsDir/<id>.json metadata
// record holding {id, timestamp, reason, checksum, size}.
func (m *Manager) createBackupLocked(reason string) (id string, err error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return "", err
	}

	id = uuid.NewString()
	meta := Backup{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Checksum:  strconv.FormatUint(xxhash.Sum64(data), 16),
		Size:      int64(len(data)),
	}

	if err := os.WriteFile(m.backupPath(id), data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup metadata: %w", err)
	}
	if err := os.WriteFile(m.backupMetaPath(id), metaData, 0600); err != nil {
		return "", fmt.Errorf("write backup metadata: %w", err)
	}
	return id, nil
}

func (m *Manager) backupPath(id string) string     { return filepath.Join(m.backupsDir, id+".conf") }
func (m *Manager) backupMetaPath(id string) string { return filepath.Join(m.backupsDir, id+".json") }

// VerifyBackup recomputes the checksum of backupID's snapshot and compares
// it against the recorded metadata. Corruption detection only, not a
// security boundary.
func (m *Manager) VerifyBackup(backupID string) (bool, error) {
	metaData, err := os.ReadFile(m.backupMetaPath(backupID))
	if err != nil {
		return false, fmt.Errorf("configmgr: read backup metadata %s: %w", backupID, err)
	}
	var meta Backup
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return false, fmt.Errorf("configmgr: parse backup metadata %s: %w", backupID, err)
	}
	data, err := os.ReadFile(m.backupPath(backupID))
	if err != nil {
		return false, fmt.Errorf("configmgr: read backup %s: %w", backupID, err)
	}
	if int64(len(data)) != meta.Size {
		return false, nil
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16) == meta.Checksum, nil
}

// RollbackConfig copies backupID's snapshot over the live file.
// Rollback never re-validates; it must always succeed if
// the backup exists and is readable.
func (m *Manager) RollbackConfig(backupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lockID, err := acquireLock(m.lockPath(), "rollback_config", m.lockTimeout)
	if err != nil {
		return err
	}
	defer releaseLock(m.lockPath(), lockID)

	return m.rollbackLocked(backupID)
}

func (m *Manager) rollbackLocked(backupID string) error {
	data, err := os.ReadFile(m.backupPath(backupID))
	if err != nil {
		return fmt.Errorf("configmgr: read backup %s: %w", backupID, err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("configmgr: write rollback temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("configmgr: rename rollback temp file: %w", err)
	}
	return nil
}

// ToggleChaos is a convenience wrapper for the common case of flipping the
// CHAOS_ENABLED flag, using a dedicated reason tag.
func (m *Manager) ToggleChaos(on bool) (map[string]string, error) {
	value := "false"
	if on {
		value = "true"
	}
	return m.UpdateConfig(map[string]string{"CHAOS_ENABLED": value}, "chaos_toggle", nil)
}

// ListBackups returns backup metadata sorted newest first.
func (m *Manager) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(m.backupsDir)
	if err != nil {
		return nil, fmt.Errorf("configmgr: read backups directory: %w", err)
	}
	var out []Backup
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.backupsDir, e.Name()))
		if err != nil {
			continue
		}
		var b Backup
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// CleanupBackups keeps the most recent keep backups and deletes the rest
// (both the .conf snapshot and its .json metadata) atomically per backup.
func (m *Manager) CleanupBackups(keep int) (removed int, err error) {
	if keep <= 0 {
		keep = DefaultBackupsToKeep
	}
	backups, err := m.ListBackups()
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}
	for _, b := range backups[keep:] {
		_ = os.Remove(m.backupPath(b.ID))
		_ = os.Remove(m.backupMetaPath(b.ID))
		removed++
	}
	return removed, nil
}

// CleanupStaleLocks removes lock files whose owner PID is no longer
// running or whose timestamp exceeds the lock timeout. Intended to run
// once at startup.
func (m *Manager) CleanupStaleLocks() (int, error) {
	return cleanupStaleLocks(m.locksDir, m.lockTimeout)
}
