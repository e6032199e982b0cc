package reconciler

import (
	"strings"
	"syscall"
	"testing"

	"github.com/unvariance/collector/internal/nri"
	"github.com/unvariance/collector/internal/pidsource"
	"github.com/unvariance/collector/internal/resctrl"
)

// fakeFs is a minimal resctrl.FsProvider double, local to this package's
// tests so the reconciler can be exercised without a real resctrl tree.
type fakeFs struct {
	dirs       map[string]bool
	files      map[string]string
	failCreate map[string]error
}

func newFakeFs() *fakeFs {
	return &fakeFs{
		dirs:       map[string]bool{"/sys/fs/resctrl": true, "/sys/fs/resctrl/mon_groups": true, "/sys/fs/resctrl/info": true},
		files:      map[string]string{},
		failCreate: map[string]error{},
	}
}

func (f *fakeFs) Exists(path string) bool { return f.dirs[path] || f.files[path] != "" }

func (f *fakeFs) CreateDir(path string) error {
	if err, ok := f.failCreate[path]; ok {
		return err
	}
	if f.dirs[path] {
		return syscall.EEXIST
	}
	f.dirs[path] = true
	f.files[path+"/tasks"] = ""
	return nil
}

func (f *fakeFs) RemoveDir(path string) error {
	if !f.dirs[path] {
		return syscall.ENOENT
	}
	delete(f.dirs, path)
	delete(f.files, path+"/tasks")
	return nil
}

func (f *fakeFs) WriteString(path, data string) error {
	dir := path[:strings.LastIndex(path, "/")]
	if !f.dirs[dir] {
		return syscall.ENOENT
	}
	f.files[path] += data
	return nil
}

func (f *fakeFs) ReadToString(path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", syscall.ENOENT
	}
	return content, nil
}

func (f *fakeFs) CheckCanOpenForWrite(path string) error { return nil }
func (f *fakeFs) MountResctrl(target string) error       { return nil }
func (f *fakeFs) IsMounted(target string) bool           { return true }

func (f *fakeFs) ListDir(path string) ([]string, error) {
	if !f.dirs[path] {
		return nil, syscall.ENOENT
	}
	prefix := path + "/"
	var names []string
	for d := range f.dirs {
		if strings.HasPrefix(d, prefix) && !strings.Contains(strings.TrimPrefix(d, prefix), "/") {
			names = append(names, strings.TrimPrefix(d, prefix))
		}
	}
	return names, nil
}

func newTestReconciler() (*Reconciler, *fakeFs, *pidsource.MockSource) {
	fs := newFakeFs()
	handle := resctrl.New(fs, resctrl.DefaultConfig())
	pids := pidsource.NewMockSource()
	r := New(handle, pids, DefaultConfig(), nil)
	return r, fs, pids
}

func drainEvents(r *Reconciler, n int) []Event {
	var out []Event
	for i := 0; i < n; i++ {
		out = append(out, <-r.Events())
	}
	return out
}

// TestSinglePodSingleContainerHappyPath exercises §8 scenario 1.
func TestSinglePodSingleContainerHappyPath(t *testing.T) {
	r, _, pids := newTestReconciler()
	pids.Pids["/cg/u1:cri:c1"] = []int{7777}

	r.HandleNewPod("u1")
	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")

	events := drainEvents(r, 2)
	if events[0].Group != GroupExists || events[0].TotalContainers != 0 || events[0].ReconciledContainers != 0 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].TotalContainers != 1 || events[1].ReconciledContainers != 1 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}

	tasks, err := r.handle.ListGroupTasks("/sys/fs/resctrl/pod_u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0] != 7777 {
		t.Fatalf("unexpected tasks: %v", tasks)
	}
}

// TestCapacityExhaustionThenRecovery exercises §8 scenario 2.
func TestCapacityExhaustionThenRecovery(t *testing.T) {
	r, fs, pids := newTestReconciler()
	fs.failCreate["/sys/fs/resctrl/pod_u1"] = syscall.ENOSPC

	r.HandleNewPod("u1")
	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")

	events := drainEvents(r, 2)
	if events[0].Group != GroupFailed || events[0].TotalContainers != 0 {
		t.Fatalf("unexpected event 0: %+v", events[0])
	}
	if events[1].Group != GroupFailed || events[1].TotalContainers != 1 {
		t.Fatalf("unexpected event 1: %+v", events[1])
	}

	delete(fs.failCreate, "/sys/fs/resctrl/pod_u1")
	if err := r.RetryGroupCreation("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := <-r.Events()
	if ev.Group != GroupExists || ev.ReconciledContainers != 0 {
		t.Fatalf("unexpected event after retry_group_creation: %+v", ev)
	}

	pids.Pids["/cg/u1:cri:c1"] = []int{1}
	if err := r.RetryContainerReconcile("c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev = <-r.Events()
	if ev.ReconciledContainers != 1 {
		t.Fatalf("expected reconciled=1, got: %+v", ev)
	}
}

// TestNoReconciledToPartialRegression exercises §8's no-regression invariant.
func TestNoReconciledToPartialRegression(t *testing.T) {
	r, _, pids := newTestReconciler()
	pids.Pids["/cg/u1:cri:c1"] = []int{1}

	r.HandleNewPod("u1")
	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")
	drainEvents(r, 2)

	if err := r.RetryContainerReconcile("c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-r.Events():
		t.Fatalf("expected no event for already-reconciled container, got: %+v", ev)
	default:
	}
}

// TestCountMonotonicity exercises §8's count-monotonicity invariant.
func TestCountMonotonicity(t *testing.T) {
	r, _, pids := newTestReconciler()
	pids.Pids["/cg/u1:cri:c1"] = []int{1}
	pids.Pids["/cg/u1:cri:c2"] = []int{2}

	r.HandleNewPod("u1")
	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")
	r.HandleNewContainer("u1", "c2", "/cg/u1:cri:c2")
	drainEvents(r, 3)

	r.mu.Lock()
	total := r.pods["u1"].TotalContainers
	reconciled := r.pods["u1"].ReconciledContainers
	r.mu.Unlock()
	if total != 2 || reconciled > total {
		t.Fatalf("invariant violated: total=%d reconciled=%d", total, reconciled)
	}

	r.RemoveContainer("u1", "c1")
	<-r.Events()

	r.mu.Lock()
	total = r.pods["u1"].TotalContainers
	reconciled = r.pods["u1"].ReconciledContainers
	r.mu.Unlock()
	if total != 1 || reconciled > total {
		t.Fatalf("invariant violated after removal: total=%d reconciled=%d", total, reconciled)
	}
}

// TestStartupCleanupLeavesNonPrefixEntries exercises §8 scenario 5.
func TestStartupCleanupLeavesNonPrefixEntries(t *testing.T) {
	r, fs, _ := newTestReconciler()
	fs.CreateDir("/sys/fs/resctrl/pod_x")
	fs.CreateDir("/sys/fs/resctrl/other")
	fs.CreateDir("/sys/fs/resctrl/mon_groups/pod_y")
	fs.CreateDir("/sys/fs/resctrl/mon_groups/foo")

	r.Synchronize(nil, nil)

	select {
	case ev := <-r.Events():
		t.Fatalf("expected no events from startup cleanup, got: %+v", ev)
	default:
	}

	if fs.dirs["/sys/fs/resctrl/pod_x"] {
		t.Fatal("pod_x should be removed")
	}
	if !fs.dirs["/sys/fs/resctrl/other"] {
		t.Fatal("other should remain")
	}
	if !fs.dirs["/sys/fs/resctrl/info"] {
		t.Fatal("info should remain")
	}
}

// TestContainerBeforePodIsNoPodTerminal exercises the decided Open
// Question (§9, §D): NoPod is terminal for that container.
func TestContainerBeforePodIsNoPodTerminal(t *testing.T) {
	r, _, _ := newTestReconciler()

	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")

	r.mu.Lock()
	c := r.containers["c1"]
	r.mu.Unlock()
	if c.Sync != SyncNoPod {
		t.Fatalf("expected NoPod, got %v", c.Sync)
	}

	r.HandleNewPod("u1")
	<-r.Events() // AddOrUpdate for the pod itself

	r.mu.Lock()
	c = r.containers["c1"]
	pod := r.pods["u1"]
	r.mu.Unlock()
	if c.Sync != SyncNoPod {
		t.Fatal("container must remain NoPod; the runtime is expected to re-send create events")
	}
	if pod.TotalContainers != 0 {
		t.Fatalf("NoPod container must never contribute to total_containers, got %d", pod.TotalContainers)
	}
}

func TestFullCgroupPathWiring(t *testing.T) {
	r, _, pids := newTestReconciler()
	pids.Pids["/sys/fs/cgroup/kubepods.slice/cri-c1.scope"] = []int{1}

	r.Synchronize(
		[]nri.PodSandbox{{UID: "u1", CgroupParent: "kubepods.slice"}},
		[]nri.Container{{ID: "c1", PodUID: "u1", CgroupsPath: "unit:cri:c1"}},
	)

	events := drainEvents(r, 2)
	if events[1].ReconciledContainers != 1 {
		t.Fatalf("expected container reconciled via computed cgroup path, got: %+v", events[1])
	}
}

// TestWithGroupCacheDisabledStillConverges exercises the default
// production wiring (no Redis configured): WithGroupCache(nil) must
// leave behavior identical to never calling it.
func TestWithGroupCacheDisabledStillConverges(t *testing.T) {
	r, _, pids := newTestReconciler()
	r.WithGroupCache(nil)
	pids.Pids["/cg/u1:cri:c1"] = []int{42}

	r.HandleNewPod("u1")
	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")

	events := drainEvents(r, 2)
	if events[1].ReconciledContainers != 1 {
		t.Fatalf("expected convergence with a nil group cache, got: %+v", events[1])
	}

	r.RemovePodSandbox("u1")
	<-r.Events()
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	r, _, pids := newTestReconciler()
	pids.Pids["/cg/u1:cri:c1"] = []int{1}

	r.HandleNewPod("u1")
	r.HandleNewContainer("u1", "c1", "/cg/u1:cri:c1")
	drainEvents(r, 2)

	pods, containers := r.Snapshot()
	if len(pods) != 1 || pods[0].PodUID != "u1" {
		t.Fatalf("unexpected pods snapshot: %+v", pods)
	}
	if len(containers) != 1 || containers[0].ContainerID != "c1" {
		t.Fatalf("unexpected containers snapshot: %+v", containers)
	}
}
