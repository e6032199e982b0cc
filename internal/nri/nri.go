// Package nri defines the container-runtime plugin lifecycle event types
// and the cgroup full-path computation the reconciler (C8) consumes.
// Framing and transport (ttrpc over a multiplexed socket) are out of
// scope (§1); this package only specifies the shapes carried over it.
package nri

import "strings"

// EventKind enumerates the runtime lifecycle callbacks §4.8 reacts to.
type EventKind int

const (
	EventSynchronize EventKind = iota
	EventCreateContainer
	EventRunPodSandbox
	EventRemovePodSandbox
	EventRemoveContainer
)

// PodSandbox is the runtime-supplied pod metadata relevant to resctrl
// group assignment.
type PodSandbox struct {
	UID           string
	CgroupParent  string
}

// Container is the runtime-supplied container metadata.
type Container struct {
	ID           string
	PodUID       string
	CgroupsPath  string // colon-delimited: <unit>:<runtime>:<container_id>
}

// RegistrationRequest/Response model the plugin registration handshake:
// send name + index, receive configure, reply with the event mask (§6).
type RegistrationRequest struct {
	Name  string
	Index string
}

type EventMask uint32

const (
	MaskCreateContainer EventMask = 1 << iota
	MaskRemoveContainer
	MaskRunPodSandbox
	MaskRemovePodSandbox
)

// DefaultEventMask is the mask this plugin always registers for (§6).
const DefaultEventMask = MaskCreateContainer | MaskRemoveContainer | MaskRunPodSandbox | MaskRemovePodSandbox

// FullCgroupPath implements §6's cgroup full-path computation.
//
// The container-supplied cgroups_path is colon-delimited
// (<unit>:<runtime>:<container_id>), combined with the pod's
// cgroup_parent:
//   - if cgroup_parent contains ".slice" -> systemd driver layout
//   - otherwise -> cgroupfs driver layout
//
// The prefix /sys/fs/cgroup is prepended iff the parent is not already
// rooted there. If either field is missing, the container path alone is
// prefix-normalized.
func FullCgroupPath(cgroupParent, cgroupsPath string) string {
	const cgroupRoot = "/sys/fs/cgroup"

	if cgroupParent == "" || cgroupsPath == "" {
		return normalizeRoot(cgroupRoot, cgroupsPath)
	}

	parts := strings.SplitN(cgroupsPath, ":", 3)
	runtime := ""
	containerID := cgroupsPath
	if len(parts) == 3 {
		runtime = parts[1]
		containerID = parts[2]
	}

	parent := cgroupParent
	var leaf string
	if strings.Contains(cgroupParent, ".slice") {
		leaf = runtime + "-" + containerID + ".scope"
	} else {
		leaf = containerID
	}

	full := parent + "/" + leaf
	return normalizeRoot(cgroupRoot, full)
}

func normalizeRoot(cgroupRoot, path string) string {
	if strings.HasPrefix(path, cgroupRoot) {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return cgroupRoot + path
	}
	return cgroupRoot + "/" + path
}
