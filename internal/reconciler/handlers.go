package reconciler

import (
	"context"
	"log/slog"

	"github.com/unvariance/collector/internal/errs"
	"github.com/unvariance/collector/internal/nri"
)

// HandleNewPod implements §4.8's handle_new_pod. Idempotent on repeated
// calls. Consults the optional group cache (§B.5) first so a plugin
// restart on the same node does not have to re-walk /sys/fs/resctrl
// just to learn a pod already converged; a cache miss or disabled
// cache falls straight through to create_group exactly as before.
func (r *Reconciler) HandleNewPod(podUID string) {
	r.mu.Lock()
	if _, ok := r.pods[podUID]; ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ctx := context.Background()

	var path string
	var createErr error
	if cached, ok := r.cache.GroupPath(ctx, podUID); ok {
		path = cached
	} else {
		path, createErr = r.handle.CreateGroup(podUID)
		if createErr == nil {
			r.cache.SetGroupPath(ctx, podUID, path)
		}
	}

	r.mu.Lock()
	if _, alreadyPresent := r.pods[podUID]; alreadyPresent {
		r.mu.Unlock()
		if createErr == nil {
			// A racing call (e.g. a duplicate NRI event) already inserted
			// this pod while we were creating the group; don't clobber
			// its state. Best-effort cleanup of the now-orphaned group.
			_ = r.handle.DeleteGroup(path)
		}
		return
	}
	state := &PodState{PodUID: podUID}
	if createErr == nil {
		state.Group = GroupExists
		state.GroupPath = path
	} else {
		state.Group = GroupFailed
	}
	r.pods[podUID] = state
	r.emit(podEvent(EventAddOrUpdate, state))
	r.mu.Unlock()
}

// HandleNewContainer implements §4.8's handle_new_container.
func (r *Reconciler) HandleNewContainer(podUID, containerID, fullCgroupPath string) {
	r.mu.Lock()
	// A re-sent create for a container still in NoPod is not a duplicate:
	// NoPod contributes to no counters, so the entry is simply replaced.
	if existing, ok := r.containers[containerID]; ok && existing.Sync != SyncNoPod {
		r.mu.Unlock()
		if r.log != nil {
			r.log.Error("duplicate create_container event", slog.String("container_id", containerID))
		}
		return
	}

	pod, podKnown := r.pods[podUID]

	if !podKnown {
		r.containers[containerID] = &ContainerState{
			ContainerID: containerID,
			PodUID:      podUID,
			CgroupPath:  fullCgroupPath,
			Sync:        SyncNoPod,
		}
		r.mu.Unlock()
		return
	}

	if pod.Group == GroupFailed {
		r.containers[containerID] = &ContainerState{
			ContainerID: containerID,
			PodUID:      podUID,
			CgroupPath:  fullCgroupPath,
			Sync:        SyncPartial,
		}
		pod.TotalContainers++
		r.emit(podEvent(EventAddOrUpdate, pod))
		r.mu.Unlock()
		return
	}

	groupPath := pod.GroupPath
	r.mu.Unlock()

	report, reconcileErr := r.handle.ReconcileGroup(groupPath, func() ([]int, error) {
		return r.pids.PidsForPath(fullCgroupPath)
	}, r.maxPasses())

	r.mu.Lock()
	sync := SyncPartial
	if reconcileErr == nil && report.Missing == 0 {
		sync = SyncReconciled
	}
	r.containers[containerID] = &ContainerState{
		ContainerID: containerID,
		PodUID:      podUID,
		CgroupPath:  fullCgroupPath,
		Sync:        sync,
	}
	pod.TotalContainers++
	if sync == SyncReconciled {
		pod.ReconciledContainers++
	}
	r.emit(podEvent(EventAddOrUpdate, pod))
	r.mu.Unlock()

	if reconcileErr != nil && r.log != nil {
		r.log.Warn("reconcile_group failed for new container",
			slog.String("container_id", containerID), slog.String("error", reconcileErr.Error()))
	}
}

// RemovePodSandbox implements §4.8's state_change(REMOVE_POD_SANDBOX, pod).
func (r *Reconciler) RemovePodSandbox(podUID string) {
	r.mu.Lock()
	pod, ok := r.pods[podUID]
	if !ok {
		r.mu.Unlock()
		return
	}
	groupPath := pod.GroupPath
	hadGroup := pod.Group == GroupExists

	for id, c := range r.containers {
		if c.PodUID == podUID {
			delete(r.containers, id)
		}
	}
	delete(r.pods, podUID)

	// Emitted while still holding the lock to preserve ordering against
	// any concurrent AddOrUpdate for the same pod (§4.8).
	r.emit(Event{Kind: EventRemoved, PodUID: podUID})
	r.mu.Unlock()

	r.cache.Forget(context.Background(), podUID)

	if hadGroup {
		if err := r.handle.DeleteGroup(groupPath); err != nil && r.log != nil {
			r.log.Warn("failed to delete resctrl group on pod removal",
				slog.String("pod_uid", podUID), slog.String("error", err.Error()))
		}
	}
}

// RemoveContainer implements §4.8's state_change(REMOVE_CONTAINER, pod, container).
func (r *Reconciler) RemoveContainer(podUID, containerID string) {
	r.mu.Lock()
	c, ok := r.containers[containerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.containers, containerID)

	pod, podOK := r.pods[podUID]
	if podOK {
		if c.Sync != SyncNoPod {
			if pod.TotalContainers > 0 {
				pod.TotalContainers--
			}
		}
		if c.Sync == SyncReconciled && pod.ReconciledContainers > 0 {
			pod.ReconciledContainers--
		}
	}

	if podOK {
		r.emit(podEvent(EventAddOrUpdate, pod))
	}
	r.mu.Unlock()
}

// RetryGroupCreation implements §4.8's retry_group_creation.
func (r *Reconciler) RetryGroupCreation(podUID string) error {
	r.mu.Lock()
	pod, ok := r.pods[podUID]
	if !ok || pod.Group != GroupFailed {
		r.mu.Unlock()
		if !ok {
			return errs.New(errs.InvalidInput, "pod not found: "+podUID)
		}
		return nil
	}
	r.mu.Unlock()

	path, createErr := r.handle.CreateGroup(podUID)

	r.mu.Lock()
	pod, stillExists := r.pods[podUID]
	if !stillExists {
		r.mu.Unlock()
		if createErr == nil {
			// The pod was removed between snapshot and retake: the
			// just-created group is now orphaned. Best-effort cleanup.
			_ = r.handle.DeleteGroup(path)
		}
		return errs.New(errs.InvalidInput, "pod removed during retry_group_creation: "+podUID)
	}
	if pod.Group != GroupFailed {
		r.mu.Unlock()
		return nil
	}

	if createErr != nil {
		r.mu.Unlock()
		return createErr
	}
	pod.Group = GroupExists
	pod.GroupPath = path
	r.emit(podEvent(EventAddOrUpdate, pod))
	r.mu.Unlock()
	return nil
}

// RetryContainerReconcile implements §4.8's retry_container_reconcile.
// Never regresses Reconciled -> Partial.
func (r *Reconciler) RetryContainerReconcile(containerID string) error {
	r.mu.Lock()
	c, ok := r.containers[containerID]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.InvalidInput, "container not found: "+containerID)
	}
	if c.Sync == SyncReconciled {
		r.mu.Unlock()
		return nil
	}
	pod, podOK := r.pods[c.PodUID]
	if !podOK || pod.Group != GroupExists {
		r.mu.Unlock()
		return nil
	}
	groupPath := pod.GroupPath
	cgroupPath := c.CgroupPath
	r.mu.Unlock()

	report, err := r.handle.ReconcileGroup(groupPath, func() ([]int, error) {
		return r.pids.PidsForPath(cgroupPath)
	}, r.maxPasses())
	if err != nil {
		return err
	}

	r.mu.Lock()
	c, ok = r.containers[containerID]
	if !ok || c.Sync == SyncReconciled {
		r.mu.Unlock()
		return nil
	}
	pod, podOK = r.pods[c.PodUID]
	if !podOK {
		r.mu.Unlock()
		return nil
	}
	if report.Missing == 0 {
		c.Sync = SyncReconciled
		pod.ReconciledContainers++
		r.emit(podEvent(EventAddOrUpdate, pod))
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return nil
}

// Synchronize implements §4.8's startup synchronize handler.
func (r *Reconciler) Synchronize(pods []nri.PodSandbox, containers []nri.Container) {
	if err := r.handle.EnsureMounted(r.cfg.AutoMount); err != nil && r.log != nil {
		r.log.Warn("resctrl not mounted at startup, continuing in degraded mode", slog.String("error", err.Error()))
	}

	if r.cfg.CleanupOnStart {
		report, err := r.handle.CleanupAll()
		if err != nil && r.log != nil {
			r.log.Warn("cleanup_all failed", slog.String("error", err.Error()))
		} else if r.log != nil {
			r.log.Info("startup cleanup complete",
				slog.Int("removed", report.Removed),
				slog.Int("removal_failures", report.RemovalFailures),
				slog.Int("removal_race", report.RemovalRace),
				slog.Int("non_prefix_groups", report.NonPrefixGroups))
		}
	}

	for _, p := range pods {
		r.HandleNewPod(p.UID)
	}
	for _, c := range containers {
		fullPath := nri.FullCgroupPath(podCgroupParent(pods, c.PodUID), c.CgroupsPath)
		r.HandleNewContainer(c.PodUID, c.ID, fullPath)
	}
}

func podCgroupParent(pods []nri.PodSandbox, uid string) string {
	for _, p := range pods {
		if p.UID == uid {
			return p.CgroupParent
		}
	}
	return ""
}

func podEvent(kind EventKind, pod *PodState) Event {
	return Event{
		Kind:                 kind,
		PodUID:               pod.PodUID,
		Group:                pod.Group,
		GroupPath:            pod.GroupPath,
		TotalContainers:      pod.TotalContainers,
		ReconciledContainers: pod.ReconciledContainers,
	}
}
