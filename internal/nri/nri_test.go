package nri

import "testing"

func TestFullCgroupPathSystemdDriver(t *testing.T) {
	got := FullCgroupPath("kubepods-besteffort-pod123.slice", "unit:cri:abc")
	want := "/sys/fs/cgroup/kubepods-besteffort-pod123.slice/cri-abc.scope"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFullCgroupPathCgroupfsDriver(t *testing.T) {
	got := FullCgroupPath("/kubepods/besteffort/pod123", "unit:cri:abc")
	want := "/sys/fs/cgroup/kubepods/besteffort/pod123/abc"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFullCgroupPathParentAlreadyRooted(t *testing.T) {
	got := FullCgroupPath("/sys/fs/cgroup/kubepods/pod1", "unit:cri:abc")
	want := "/sys/fs/cgroup/kubepods/pod1/abc"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFullCgroupPathMissingFieldsFallsBackToContainerPath(t *testing.T) {
	got := FullCgroupPath("", "/some/container/path")
	want := "/sys/fs/cgroup/some/container/path"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
