// Package sandbox applies best-effort Landlock filesystem restrictions
// at process startup (§B.2): defense in depth for a root-privileged
// per-node agent. Landlock is unsupported on older kernels, so
// restriction failures are logged and ignored rather than treated as
// fatal — the teacher's own runtime carries the same dependency for
// the same reason.
package sandbox

import (
	"log/slog"

	"github.com/landlock-lsm/go-landlock/landlock"
)

// Paths names the directories a binary needs read/write access to.
// Everything else on the filesystem becomes unreachable once Restrict
// succeeds.
type Paths struct {
	// ReadWrite directories the process must be able to create/modify
	// files under (e.g. the local object store directory, /sys/fs/resctrl).
	ReadWrite []string
	// ReadOnly directories the process only needs to read
	// (e.g. /sys/fs/cgroup, /proc).
	ReadOnly []string
}

// Restrict applies a best-effort Landlock ruleset scoping filesystem
// access to paths. On kernels without Landlock support (or any other
// restriction failure) it logs a warning and returns: the process
// continues unsandboxed rather than failing startup, since Landlock is
// a hardening layer, not a functional requirement.
func Restrict(paths Paths, log *slog.Logger) {
	var opts []landlock.PathOpt
	if len(paths.ReadWrite) > 0 {
		opts = append(opts, landlock.RWDirs(paths.ReadWrite...))
	}
	if len(paths.ReadOnly) > 0 {
		opts = append(opts, landlock.RODirs(paths.ReadOnly...))
	}
	if len(opts) == 0 {
		return
	}

	err := landlock.V5.BestEffort().RestrictPaths(opts...)
	if err != nil {
		if log != nil {
			log.Warn("landlock restriction not applied, continuing unsandboxed",
				slog.String("error", err.Error()))
		}
		return
	}
	if log != nil {
		log.Info("landlock filesystem restriction applied",
			slog.Any("read_write", paths.ReadWrite), slog.Any("read_only", paths.ReadOnly))
	}
}

// CollectorPaths derives the sandbox path set for cmd/collector given
// its configured local storage directory (empty when the object store
// backend is not local).
func CollectorPaths(localStorageDir string) Paths {
	ro := []string{"/proc"}
	var rw []string
	if localStorageDir != "" {
		rw = append(rw, localStorageDir)
	}
	return Paths{ReadWrite: rw, ReadOnly: ro}
}

// PluginPaths derives the sandbox path set for cmd/resctrl-plugin: it
// needs to create/remove/write resctrl groups and read cgroup layout.
func PluginPaths(resctrlRoot, cgroupRoot string) Paths {
	return Paths{
		ReadWrite: []string{resctrlRoot},
		ReadOnly:  []string{cgroupRoot, "/proc"},
	}
}
