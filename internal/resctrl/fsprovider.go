package resctrl

import (
	"bufio"
	"os"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/sys/unix"
)

// OSProvider implements FsProvider over the real filesystem via os and
// golang.org/x/sys/unix, the production counterpart to the in-memory
// fakes used in tests (§B.2).
type OSProvider struct {
	// MountOptions is tokenized the same way a shell would split it
	// (via github.com/google/shlex) and passed to unix.Mount's data
	// argument, e.g. "cdp cdpl3".
	MountOptions string
}

// Exists reports whether path exists, regardless of type.
func (p *OSProvider) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateDir creates path. The returned error wraps the underlying
// syscall.Errno (via *fs.PathError.Unwrap) so resctrl.go's errorIs
// walk classifies EEXIST/ENOSPC without help from this package.
func (p *OSProvider) CreateDir(path string) error {
	return os.Mkdir(path, 0o755)
}

// RemoveDir removes path. resctrl group directories must be empty of
// tasks for rmdir to succeed; the kernel handles eviction.
func (p *OSProvider) RemoveDir(path string) error {
	return os.Remove(path)
}

// WriteString opens path for writing and writes data, without
// truncating — resctrl's tasks/schemata files are append-on-write
// pseudo-files where O_TRUNC is not meaningful.
func (p *OSProvider) WriteString(path, data string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(data)
	return err
}

// ReadToString reads the entire contents of path.
func (p *OSProvider) ReadToString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CheckCanOpenForWrite verifies path is writable without actually
// writing, used by callers that want a fail-fast permission check.
func (p *OSProvider) CheckCanOpenForWrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

// MountResctrl mounts the resctrl filesystem at target, tokenizing
// MountOptions the way a shell would (github.com/google/shlex) before
// joining them with commas for the mount(2) data argument.
func (p *OSProvider) MountResctrl(target string) error {
	data := ""
	if p.MountOptions != "" {
		opts, err := shlex.Split(p.MountOptions)
		if err != nil {
			return err
		}
		data = strings.Join(opts, ",")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return unix.Mount("resctrl", target, "resctrl", 0, data)
}

// IsMounted reports whether target appears as a resctrl mountpoint in
// /proc/mounts.
func (p *OSProvider) IsMounted(target string) bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[1] == target && fields[2] == "resctrl" {
			return true
		}
	}
	return false
}

// ListDir returns the names of entries directly under path.
func (p *OSProvider) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
