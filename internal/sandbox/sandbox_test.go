package sandbox

import "testing"

func TestCollectorPathsLocalBackend(t *testing.T) {
	p := CollectorPaths("/var/lib/collector/data")
	if len(p.ReadWrite) != 1 || p.ReadWrite[0] != "/var/lib/collector/data" {
		t.Fatalf("unexpected read-write paths: %v", p.ReadWrite)
	}
}

func TestCollectorPathsNonLocalBackendHasNoReadWrite(t *testing.T) {
	p := CollectorPaths("")
	if len(p.ReadWrite) != 0 {
		t.Fatalf("expected no read-write dirs for non-local backend, got %v", p.ReadWrite)
	}
}

func TestPluginPathsScopesResctrlAndCgroup(t *testing.T) {
	p := PluginPaths("/sys/fs/resctrl", "/sys/fs/cgroup")
	if len(p.ReadWrite) != 1 || p.ReadWrite[0] != "/sys/fs/resctrl" {
		t.Fatalf("unexpected read-write paths: %v", p.ReadWrite)
	}
	if len(p.ReadOnly) != 2 || p.ReadOnly[0] != "/sys/fs/cgroup" {
		t.Fatalf("unexpected read-only paths: %v", p.ReadOnly)
	}
}

// Restrict itself is not exercised here: it calls into a real Landlock
// syscall path that is not meaningfully fakeable without a kernel, and
// the function is documented to degrade to a no-op warning on failure,
// which is exactly what happens in this sandboxed test environment.
func TestRestrictNoPathsIsNoop(t *testing.T) {
	Restrict(Paths{}, nil)
}
