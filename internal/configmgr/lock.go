package configmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned when acquireLock could not obtain the lock
// before the caller's deadline elapsed.
var ErrLockTimeout = errors.New("configmgr: timed out acquiring lock")

// acquireLock creates lockPath exclusively, retrying past stale locks,
// until it succeeds or timeout elapses. On EEXIST the lock is inspected:
// if it is older than the timeout or its holder PID is not alive, it is
// removed and acquisition retries.
func acquireLock(lockPath, operation string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	id := uuid.NewString()

	for {
		lock := Lock{ID: id, Timestamp: time.Now().UTC(), Operation: operation, PID: os.Getpid()}
		data, err := json.Marshal(lock)
		if err != nil {
			return "", fmt.Errorf("configmgr: marshal lock: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
			return "", fmt.Errorf("configmgr: create locks directory: %w", err)
		}

		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil {
				_ = os.Remove(lockPath)
				return "", fmt.Errorf("configmgr: write lock file: %w", werr)
			}
			if cerr != nil {
				_ = os.Remove(lockPath)
				return "", fmt.Errorf("configmgr: close lock file: %w", cerr)
			}
			return id, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("configmgr: create lock file: %w", err)
		}

		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}

		if removeIfStale(lockPath, timeout) {
			continue // retry immediately, a stale lock was just cleared
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// releaseLock removes lockPath if it is still owned by id (best-effort: if
// another process already reclaimed it as stale, there is nothing to do).
func releaseLock(lockPath, id string) {
	existing, ok := readLock(lockPath)
	if !ok || existing.ID != id {
		return
	}
	_ = os.Remove(lockPath)
}

// removeIfStale deletes lockPath and returns true if its lock is older
// than timeout or its owning PID is no longer alive.
func removeIfStale(lockPath string, timeout time.Duration) bool {
	lock, ok := readLock(lockPath)
	if !ok {
		// Unreadable/corrupt lock file; treat as stale so progress isn't blocked.
		_ = os.Remove(lockPath)
		return true
	}
	if time.Since(lock.Timestamp) > timeout || !pidAlive(lock.PID) {
		_ = os.Remove(lockPath)
		return true
	}
	return false
}

func readLock(lockPath string) (Lock, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Lock{}, false
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return Lock{}, false
	}
	return lock, true
}

// cleanupStaleLocks removes any lock file under locksDir whose owner is
// no longer running or whose timestamp exceeds timeout, intended to run
// once at startup.
func cleanupStaleLocks(locksDir string, timeout time.Duration) (removed int, err error) {
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("configmgr: read locks directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(locksDir, e.Name())
		if removeIfStale(path, timeout) {
			removed++
		}
	}
	return removed, nil
}
