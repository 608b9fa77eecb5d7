//go:build linux

package privileges

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// UnixDropper is the Linux privilege drop: it forbids gaining new
// privileges via execve (PR_SET_NO_NEW_PRIVS, which also means the process
// cannot usefully spawn anything more privileged than itself) and closes
// every file descriptor not on the pipe allowlist, so the only I/O the
// orchestrator can still perform is over the worker pipes it already
// holds. Installing a full seccomp program is left to the deployment's
// sandbox wrapper; this hook enforces the pipeline's descriptor
// discipline.
type UnixDropper struct{}

// Default returns the platform dropper.
func Default() Dropper { return UnixDropper{} }

// Drop performs the irreversible reduction. allowedFDs lists the pipe ends
// that must survive; stdin/stdout/stderr are always retained for logging.
func (UnixDropper) Drop(allowedFDs []uintptr) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("privileges: set no_new_privs: %w", err)
	}

	allowed := make(map[uintptr]struct{}, len(allowedFDs)+3)
	allowed[0], allowed[1], allowed[2] = struct{}{}, struct{}{}, struct{}{}
	for _, fd := range allowedFDs {
		allowed[fd] = struct{}{}
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return fmt.Errorf("privileges: list open fds: %w", err)
	}
	for _, e := range entries {
		n, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		fd := uintptr(n)
		if _, ok := allowed[fd]; ok {
			continue
		}
		// The ReadDir above holds its own fd on /proc/self/fd; closing an
		// already-closed fd is harmless, so errors are ignored.
		_ = unix.Close(int(fd))
	}
	return nil
}
