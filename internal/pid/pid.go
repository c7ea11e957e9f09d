package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/specsweep/internal/errors"
)

const (
	pidFile = "specsweep.pid"
)

// File is a held single-instance lock.
type File struct {
	path string
}

// Write writes the current process ID to a PID file in dir (os.TempDir
// when empty). It fails with ErrAlreadyRunning while the recorded
// process is alive; a stale file is overwritten.
func Write(dir string) (*File, error) {
	errFactory := errors.New()
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, pidFile)

	if bytes, err := os.ReadFile(path); err == nil {
		if pid, ok := parsePID(bytes); ok && alive(pid) {
			return nil, errFactory.WithData(errors.ErrAlreadyRunning, struct {
				PID  int
				Path string
			}{pid, path})
		}
	} else if !os.IsNotExist(err) {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return &File{path: path}, nil
}

// Path of the PID file.
func (f *File) Path() string { return f.path }

// Remove removes the PID file.
func (f *File) Remove() error {
	if f == nil {
		return nil
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func parsePID(b []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
