// Package pidsource implements the PID Source (C7): reading the live PID
// set for a given cgroup path, the only point of contact between this
// system and the container runtime's cgroup layout (§4.7).
package pidsource

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/unvariance/collector/internal/errs"
)

// Source resolves the current PID set for a cgroup path. Implementations
// are plugged into C6's reconcile_group as the pid_resolver closure.
type Source interface {
	PidsForPath(cgroupPath string) ([]int, error)
}

// CgroupSource reads cgroup.procs (v2 and most v1 layouts), falling back
// to cgroups.procs, per §4.7.
type CgroupSource struct{}

// NewCgroupSource constructs the real, filesystem-backed Source.
func NewCgroupSource() *CgroupSource { return &CgroupSource{} }

func (s *CgroupSource) PidsForPath(cgroupPath string) ([]int, error) {
	return pidsForPath(cgroupPath)
}

func pidsForPath(cgroupPath string) ([]int, error) {
	if cgroupPath == "" {
		return nil, errs.New(errs.InvalidInput, "cgroup path must not be empty")
	}

	content, err := readProcsFile(cgroupPath)
	if err != nil {
		return nil, err
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

func readProcsFile(cgroupPath string) (string, error) {
	for _, name := range []string{"cgroup.procs", "cgroups.procs"} {
		data, err := os.ReadFile(cgroupPath + "/" + name)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", errs.Wrap(errs.Io, "failed to read "+name, err)
		}
	}
	if _, err := os.Stat(cgroupPath); err != nil {
		return "", errs.Wrap(errs.Io, "cgroup path does not exist", err)
	}
	return "", errs.New(errs.Io, "neither cgroup.procs nor cgroups.procs found under "+cgroupPath)
}

// MockSource is an in-memory Source for reconcile tests, matching the
// shape of the Rust implementation's MockCgroupPidSource.
type MockSource struct {
	Pids map[string][]int
}

// NewMockSource constructs an empty MockSource.
func NewMockSource() *MockSource {
	return &MockSource{Pids: make(map[string][]int)}
}

func (m *MockSource) PidsForPath(cgroupPath string) ([]int, error) {
	if cgroupPath == "" {
		return nil, errs.New(errs.InvalidInput, "cgroup path must not be empty")
	}
	return m.Pids[cgroupPath], nil
}
