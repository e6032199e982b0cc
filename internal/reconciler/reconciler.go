// Package reconciler implements the Plugin Reconciler (C8): an
// event-driven state machine driven by container-runtime lifecycle
// callbacks, converging the (pod_group ↔ set_of_container_pids)
// invariant by driving C6/C7 (§4.8).
package reconciler

import (
	"log/slog"
	"sync"

	"github.com/unvariance/collector/internal/errs"
	"github.com/unvariance/collector/internal/groupcache"
	"github.com/unvariance/collector/internal/pidsource"
	"github.com/unvariance/collector/internal/resctrl"
)

// GroupState is a pod's resctrl group status.
type GroupState int

const (
	GroupUnknown GroupState = iota
	GroupExists
	GroupFailed
)

// PodState mirrors §3's PodState.
type PodState struct {
	PodUID              string
	Group               GroupState
	GroupPath           string // valid iff Group == GroupExists
	TotalContainers     int
	ReconciledContainers int
}

// ContainerSyncState mirrors §3's ContainerState.sync_state.
type ContainerSyncState int

const (
	SyncNoPod ContainerSyncState = iota
	SyncPartial
	SyncReconciled
)

// ContainerState mirrors §3's ContainerState.
type ContainerState struct {
	ContainerID string
	PodUID      string
	CgroupPath  string
	Sync        ContainerSyncState
}

// EventKind distinguishes the two outbound plugin events (§6).
type EventKind int

const (
	EventAddOrUpdate EventKind = iota
	EventRemoved
)

// Event is the outbound PodResctrlEvent carried to any subscriber (§6).
type Event struct {
	Kind                 EventKind
	PodUID               string
	Group                GroupState
	GroupPath            string
	TotalContainers      int
	ReconciledContainers int
}

// Config parameterizes the Reconciler (§4.8's ResctrlPluginConfig).
type Config struct {
	GroupPrefix      string
	CleanupOnStart   bool
	MaxReconcilePasses int
	AutoMount        bool
	EventChannelCapacity int
}

// DefaultConfig mirrors the Rust skeleton's defaults.
func DefaultConfig() Config {
	return Config{
		GroupPrefix:          "pod_",
		CleanupOnStart:       true,
		MaxReconcilePasses:   10,
		AutoMount:            false,
		EventChannelCapacity: 128,
	}
}

// Reconciler holds the pods/containers state under a single mutex.
// Filesystem work (via handle) happens with the mutex released; the
// mutex is retaken only to commit state and emit events (§4.8, §5).
type Reconciler struct {
	mu         sync.Mutex
	pods       map[string]*PodState
	containers map[string]*ContainerState

	handle *resctrl.Handle
	pids   pidsource.Source
	cache  *groupcache.Cache
	log    *slog.Logger
	cfg    Config

	events        chan Event
	droppedEvents uint64
	droppedMu     sync.Mutex
}

// New constructs a Reconciler. handle drives the filesystem; pids
// resolves the live PID set for a container's cgroup path. cache is
// optional (nil disables it) and only ever used as an optimization
// hint (§B.5) — the filesystem remains authoritative.
func New(handle *resctrl.Handle, pids pidsource.Source, cfg Config, log *slog.Logger) *Reconciler {
	return &Reconciler{
		pods:       make(map[string]*PodState),
		containers: make(map[string]*ContainerState),
		handle:     handle,
		pids:       pids,
		log:        log,
		cfg:        cfg,
		events:     make(chan Event, cfg.EventChannelCapacity),
	}
}

// WithGroupCache attaches an optional distributed group-assignment
// cache (§B.5) and returns the Reconciler for chaining.
func (r *Reconciler) WithGroupCache(cache *groupcache.Cache) *Reconciler {
	r.cache = cache
	return r
}

// Events returns the outbound event channel for subscribers.
func (r *Reconciler) Events() <-chan Event { return r.events }

// DroppedEvents returns the count of events dropped due to a full
// outbound channel (§4.8, §6).
func (r *Reconciler) DroppedEvents() uint64 {
	r.droppedMu.Lock()
	defer r.droppedMu.Unlock()
	return r.droppedEvents
}

func (r *Reconciler) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.droppedMu.Lock()
		r.droppedEvents++
		r.droppedMu.Unlock()
	}
}

// Snapshot returns a point-in-time copy of all pod and container
// state, for the debug status surface (§B.6). Never blocks on
// filesystem or network I/O.
func (r *Reconciler) Snapshot() ([]PodState, []ContainerState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pods := make([]PodState, 0, len(r.pods))
	for _, p := range r.pods {
		pods = append(pods, *p)
	}
	containers := make([]ContainerState, 0, len(r.containers))
	for _, c := range r.containers {
		containers = append(containers, *c)
	}
	return pods, containers
}

// maxPasses is the configured reconcile-pass bound.
func (r *Reconciler) maxPasses() int {
	if r.cfg.MaxReconcilePasses > 0 {
		return r.cfg.MaxReconcilePasses
	}
	return 10
}
