package resctrl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOSProviderCreateWriteReadRemoveDir(t *testing.T) {
	root := t.TempDir()
	p := &OSProvider{}

	dir := filepath.Join(root, "pod_abc")
	if err := p.CreateDir(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Exists(dir) {
		t.Fatal("expected directory to exist")
	}

	tasksPath := filepath.Join(dir, "tasks")
	if err := os.WriteFile(tasksPath, nil, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.WriteString(tasksPath, "123\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := p.ReadToString(tasksPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "123\n" {
		t.Fatalf("unexpected content: %q", content)
	}

	names, err := p.ListDir(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 1 || names[0] != "pod_abc" {
		t.Fatalf("unexpected listing: %v", names)
	}

	if err := p.RemoveDir(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Exists(dir) {
		t.Fatal("expected directory to be removed")
	}
}

func TestOSProviderCreateDirEexistIsClassifiable(t *testing.T) {
	root := t.TempDir()
	p := &OSProvider{}
	dir := filepath.Join(root, "pod_x")

	if err := p.CreateDir(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := p.CreateDir(dir)
	if err == nil {
		t.Fatal("expected an error creating an already-existing directory")
	}
	if !isExist(err) {
		t.Fatalf("expected errorIs(EEXIST) to classify *fs.PathError, got: %v", err)
	}
}

func TestOSProviderRemoveDirEnoentIsClassifiable(t *testing.T) {
	p := &OSProvider{}
	err := p.RemoveDir("/does/not/exist/pod_x")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isNotExist(err) {
		t.Fatalf("expected errorIs(ENOENT) to classify *fs.PathError, got: %v", err)
	}
}

func TestOSProviderCheckCanOpenForWrite(t *testing.T) {
	root := t.TempDir()
	p := &OSProvider{}
	path := filepath.Join(root, "tasks")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.CheckCanOpenForWrite(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.CheckCanOpenForWrite(filepath.Join(root, "missing")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestOSProviderIsMountedFalseForNonMountpoint(t *testing.T) {
	p := &OSProvider{}
	if p.IsMounted(t.TempDir()) {
		t.Fatal("a plain temp dir must not report as mounted")
	}
}

func TestOSProviderMountResctrlTokenizesOptionsViaShlex(t *testing.T) {
	// MountResctrl itself requires CAP_SYS_ADMIN and a real resctrl
	// filesystem; here we only verify shlex tokenization failure
	// propagates as an error before the mount syscall is attempted.
	p := &OSProvider{MountOptions: `"unterminated`}
	err := p.MountResctrl(filepath.Join(t.TempDir(), "resctrl"))
	if err == nil {
		t.Fatal("expected an error from malformed mount options")
	}
	if errors.Is(err, os.ErrInvalid) {
		t.Fatal("error should come from shlex, not os")
	}
}
