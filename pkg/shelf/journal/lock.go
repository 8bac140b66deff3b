package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const ownerFile = "owner.pid"

// ErrBusy is returned by Open when another live shelf process holds the
// journal.
var ErrBusy = errors.New("journal is in use by another shelf process")

func writeOwner(dir string) error {
	return os.WriteFile(filepath.Join(dir, ownerFile), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

func readOwner(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid owner pid %q", data)
	}
	return pid, nil
}

// recoverStaleLock clears the lock left by a shelf process that died with
// the journal open. It returns ErrBusy if the recorded owner is alive and
// nil when there was nothing to recover.
func recoverStaleLock(dir string) error {
	pid, err := readOwner(dir)
	if err != nil {
		return nil //nolint:nilerr // no owner file means nothing to recover
	}

	if processRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrBusy, pid)
	}

	logger.Warn("removing stale journal lock", "dir", dir, "stale_pid", pid)
	_ = os.Remove(filepath.Join(dir, "LOCK"))
	_ = os.Remove(filepath.Join(dir, ownerFile))
	return nil
}

func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
