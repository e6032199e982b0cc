// Package resctrl implements the Resctrl Handle (C6): a thin filesystem
// façade over the kernel resctrl hierarchy, parameterized by an
// FsProvider capability for testability (§4.6).
package resctrl

import (
	"bufio"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/unvariance/collector/internal/errs"
)

const defaultRoot = "/sys/fs/resctrl"

// FsProvider abstracts the filesystem operations C6 needs, so tests can
// substitute an in-memory fake instead of touching the real resctrl tree.
type FsProvider interface {
	Exists(path string) bool
	CreateDir(path string) error
	RemoveDir(path string) error
	WriteString(path, data string) error
	ReadToString(path string) (string, error)
	CheckCanOpenForWrite(path string) error
	MountResctrl(target string) error
	// ListDir returns the names of entries directly under path.
	ListDir(path string) ([]string, error)
	// IsMounted reports whether target is already a mountpoint.
	IsMounted(target string) bool
}

// Config parameterizes a Handle.
type Config struct {
	Root       string
	GroupPrefix string
}

// DefaultConfig mirrors the Rust implementation's resctrl_ctl defaults.
func DefaultConfig() Config {
	return Config{Root: defaultRoot, GroupPrefix: "pod_"}
}

// AssignReport is the result of a reconcile_group pass.
type AssignReport struct {
	Assigned int
	Missing  int
}

// CleanupReport is the result of cleanup_all.
type CleanupReport struct {
	Removed         int
	RemovalFailures int
	RemovalRace     int
	NonPrefixGroups int
}

// Handle operates on a resctrl filesystem tree via fs.
type Handle struct {
	fs  FsProvider
	cfg Config
}

// New constructs a Handle.
func New(fs FsProvider, cfg Config) *Handle {
	return &Handle{fs: fs, cfg: cfg}
}

// EnsureMounted implements §4.6's ensure_mounted contract.
func (h *Handle) EnsureMounted(autoMount bool) error {
	if h.fs.IsMounted(h.cfg.Root) {
		return nil
	}
	if !autoMount {
		return errs.New(errs.NotMounted, "resctrl is not mounted and auto-mount is disabled")
	}
	if err := h.fs.MountResctrl(h.cfg.Root); err != nil {
		return errs.Wrap(errs.MountFailed, "failed to mount resctrl", err)
	}
	return nil
}

// groupPath computes root/<prefix><pod_uid>.
func (h *Handle) groupPath(podUID string) string {
	return h.cfg.Root + "/" + h.cfg.GroupPrefix + podUID
}

// CreateGroup implements §4.6's create_group contract.
func (h *Handle) CreateGroup(podUID string) (string, error) {
	path := h.groupPath(podUID)
	err := h.fs.CreateDir(path)
	if err == nil {
		return path, nil
	}
	if isExist(err) {
		return path, nil
	}
	if isNoSpace(err) {
		return "", errs.Wrap(errs.Capacity, "resctrl group capacity exhausted (RMID)", err)
	}
	return "", errs.Wrap(errs.Io, "failed to create resctrl group", err)
}

// DeleteGroup implements §4.6's delete_group contract.
func (h *Handle) DeleteGroup(groupPath string) error {
	err := h.fs.RemoveDir(groupPath)
	if err == nil || isNotExist(err) {
		return nil
	}
	return errs.Wrap(errs.Io, "failed to delete resctrl group", err)
}

// AssignPid implements §4.6's assign_pid contract.
func (h *Handle) AssignPid(groupPath string, pid int) error {
	err := h.fs.WriteString(groupPath+"/tasks", strconv.Itoa(pid)+"\n")
	if err == nil {
		return nil
	}
	if isESRCH(err) {
		return errs.Wrap(errs.PidGone, "task exited before assignment", err)
	}
	if isNotExist(err) {
		return errs.Wrap(errs.GroupGone, "resctrl group vanished", err)
	}
	return errs.Wrap(errs.Io, "failed to assign pid to resctrl group", err)
}

// ReconcileGroup implements §4.6's reconcile_group — the hard algorithm:
// converge group_path/tasks to contain every pid currently returned by
// pidResolver, across up to maxPasses+1 snapshots of a racy set (the
// tie-break pass draining the newest resolver result before returning).
func (h *Handle) ReconcileGroup(groupPath string, pidResolver func() ([]int, error), maxPasses int) (AssignReport, error) {
	assigned := 0
	missing := 0

	runPass := func() (newPids int, err error) {
		current, err := pidResolver()
		if err != nil {
			return 0, err
		}
		present, err := h.listPresent(groupPath)
		if err != nil {
			return 0, err
		}
		missing = 0
		for _, pid := range current {
			if present[pid] {
				continue
			}
			if aerr := h.AssignPid(groupPath, pid); aerr != nil {
				if errs.Is(aerr, errs.PidGone) {
					missing++
					continue
				}
				return 0, aerr
			}
			present[pid] = true
			assigned++
			newPids++
		}
		return newPids, nil
	}

	for pass := 0; pass < maxPasses; pass++ {
		newPids, err := runPass()
		if err != nil {
			return AssignReport{}, err
		}
		if newPids == 0 {
			return AssignReport{Assigned: assigned, Missing: missing}, nil
		}
	}

	// Tie-break: always drain the newest resolver result before
	// terminating, so a monotonically growing set converges within
	// maxPasses+1 snapshots.
	if _, err := runPass(); err != nil {
		return AssignReport{}, err
	}
	return AssignReport{Assigned: assigned, Missing: missing}, nil
}

func (h *Handle) listPresent(groupPath string) (map[int]bool, error) {
	pids, err := h.ListGroupTasks(groupPath)
	if err != nil {
		return nil, err
	}
	present := make(map[int]bool, len(pids))
	for _, p := range pids {
		present[p] = true
	}
	return present, nil
}

// ListGroupTasks implements §4.6's list_group_tasks contract.
func (h *Handle) ListGroupTasks(groupPath string) ([]int, error) {
	content, err := h.fs.ReadToString(groupPath + "/tasks")
	if err != nil {
		if isNotExist(err) {
			return nil, errs.Wrap(errs.GroupGone, "resctrl group vanished", err)
		}
		return nil, errs.Wrap(errs.Io, "failed to read tasks file", err)
	}
	var pids []int
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// CleanupAll implements §4.6's cleanup_all contract: remove every
// directory whose name starts with the configured prefix under root and
// root/mon_groups. Never touches info/ or non-prefix entries.
func (h *Handle) CleanupAll() (CleanupReport, error) {
	var report CleanupReport

	for _, base := range []string{h.cfg.Root, h.cfg.Root + "/mon_groups"} {
		entries, err := h.fs.ListDir(base)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return report, errs.Wrap(errs.Io, "failed to list resctrl directory", err)
		}
		for _, name := range entries {
			if name == "info" || name == "mon_groups" {
				continue
			}
			if !strings.HasPrefix(name, h.cfg.GroupPrefix) {
				report.NonPrefixGroups++
				continue
			}
			path := base + "/" + name
			if err := h.fs.RemoveDir(path); err != nil {
				if isNotExist(err) {
					report.RemovalRace++
					continue
				}
				report.RemovalFailures++
				continue
			}
			report.Removed++
		}
	}
	return report, nil
}

func isExist(err error) bool     { return errorIs(err, unix.EEXIST) }
func isNotExist(err error) bool  { return errorIs(err, unix.ENOENT) }
func isNoSpace(err error) bool   { return errorIs(err, unix.ENOSPC) }
func isESRCH(err error) bool     { return errorIs(err, unix.ESRCH) }

func errorIs(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	for e := err; e != nil; {
		if en, ok := e.(syscall.Errno); ok {
			errno = en
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return errno == target
}
