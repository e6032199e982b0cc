// Command resctrl-plugin is the NRI-style resctrl reconciliation plugin
// (C6-C9): it tracks pod/container lifecycle events from the container
// runtime and converges every container's PIDs into a per-pod resctrl
// monitoring group (§1, §4.8).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/unvariance/collector/internal/auditsink"
	"github.com/unvariance/collector/internal/config"
	"github.com/unvariance/collector/internal/groupcache"
	"github.com/unvariance/collector/internal/nri"
	"github.com/unvariance/collector/internal/pidsource"
	"github.com/unvariance/collector/internal/podinfo"
	"github.com/unvariance/collector/internal/reconciler"
	"github.com/unvariance/collector/internal/resctrl"
	"github.com/unvariance/collector/internal/sandbox"
	"github.com/unvariance/collector/internal/shutdown"
	"github.com/unvariance/collector/internal/statusserver"
	"github.com/unvariance/collector/pkg/logging"
	"github.com/unvariance/collector/pkg/metrics"
)

var version = "dev"

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func main() {
	logFlags := logging.RegisterFlags()
	metricFlags := metrics.RegisterFlags("resctrl-plugin")

	resctrlRoot := flag.String("resctrl-root", getEnv("RESCTRL_ROOT", "/sys/fs/resctrl"), "Mountpoint of the resctrl filesystem.")
	cgroupRoot := flag.String("cgroup-root", getEnv("CGROUP_ROOT", "/sys/fs/cgroup"), "Mountpoint of the cgroup v2 hierarchy.")
	mountOpts := flag.String("resctrl-mount-opts", getEnv("RESCTRL_MOUNT_OPTS", ""), "Options passed to mount(2) when auto-mounting resctrl, shell-quoted.")
	auditDSN := flag.String("audit-dsn", getEnv("AUDIT_DSN", ""), "Postgres DSN for the audit sink; empty disables it.")
	redisAddr := flag.String("redis-addr", getEnv("GROUP_CACHE_REDIS_ADDR", ""), "host:port of a Redis instance backing the group-assignment cache; empty disables it.")
	redisPassword := flag.String("redis-password", getEnv("GROUP_CACHE_REDIS_PASSWORD", ""), "Redis AUTH password.")
	redisDB := flag.Int("redis-db", 0, "Redis logical database index.")
	redisTLS := flag.Bool("redis-tls", false, "Use TLS for the Redis connection.")
	statusAddr := flag.String("status-addr", getEnv("STATUS_ADDR", ""), "Address to serve the debug /status websocket on; empty disables it.")
	enrichPods := flag.Bool("enable-pod-enrichment", false, "Look up owning Pod metadata from the Kubernetes API for audit/status output.")
	nodeName := flag.String("node-name", getEnv("NODE_NAME", ""), "This node's name, used to scope pod-enrichment lookups.")

	cfg, err := config.ParsePluginFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logCfg := logFlags.ToConfig()
	log := logging.Setup("resctrl-plugin", logCfg)

	sandbox.Restrict(sandbox.PluginPaths(*resctrlRoot, *cgroupRoot), log)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()

	metricsCreator, err := metrics.New(ctx, metricFlags.ToConfig("resctrl-plugin", version))
	if err != nil {
		log.Error("failed to initialize metrics", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cache, err := newGroupCache(ctx, *redisAddr, *redisPassword, *redisDB, *redisTLS, log)
	if err != nil {
		log.Error("failed to connect to group-assignment cache", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sink, err := auditsink.New(ctx, withDSN(auditsink.DefaultConfig(), *auditDSN), log)
	if err != nil {
		log.Error("failed to connect audit sink", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sink.Close()

	lookup, err := newPodLookup(*enrichPods, *nodeName)
	if err != nil {
		log.Error("failed to construct pod-enrichment client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	events, err := connectNRI(cfg.SocketPath, log)
	if err != nil {
		log.Error("failed to bind container-runtime plugin transport", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fsProvider := &resctrl.OSProvider{MountOptions: *mountOpts}
	handle := resctrl.New(fsProvider, resctrl.Config{Root: *resctrlRoot, GroupPrefix: cfg.GroupPrefix})
	pids := pidsource.NewCgroupSource()

	r := reconciler.New(handle, pids, reconciler.Config{
		GroupPrefix:          cfg.GroupPrefix,
		CleanupOnStart:       cfg.CleanupOnStart,
		MaxReconcilePasses:   cfg.MaxReconcilePasses,
		AutoMount:            cfg.AutoMount,
		EventChannelCapacity: cfg.EventChannelCap,
	}, log)
	r.WithGroupCache(cache)

	fabric := shutdown.New(ctx, log)

	fabric.Go("nri-dispatch", func(ctx context.Context) error {
		return dispatchNRIEvents(ctx, r, events)
	})

	scheduler := reconciler.NewScheduler(r, log)
	fabric.Go("retry-scheduler", scheduler.Run)
	fabric.Go("retry-rescan", scheduler.RescanFailed(30*time.Second))

	auditIn := r.Events()
	if lookup != nil {
		enriched := make(chan reconciler.Event, cfg.EventChannelCap)
		fabric.Go("pod-enrichment", func(ctx context.Context) error {
			defer close(enriched)
			if err := lookup.Refresh(ctx); err != nil {
				log.Warn("initial pod-enrichment refresh failed", slog.String("error", err.Error()))
			}
			refresh := time.NewTicker(30 * time.Second)
			defer refresh.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-refresh.C:
					if err := lookup.Refresh(ctx); err != nil {
						log.Debug("pod-enrichment refresh failed", slog.String("error", err.Error()))
					}
				case ev, ok := <-r.Events():
					if !ok {
						return nil
					}
					if info, found, err := lookup.ByUID(ctx, ev.PodUID); err == nil && found {
						log.Debug("pod_resctrl_event",
							slog.String("pod_uid", ev.PodUID),
							slog.String("namespace", info.Namespace),
							slog.String("pod_name", info.Name),
							slog.String("qos_class", info.QoSClass))
					}
					select {
					case enriched <- ev:
					case <-ctx.Done():
						return nil
					}
				}
			}
		})
		auditIn = enriched
	}
	fabric.Go("audit-sink", func(ctx context.Context) error {
		return sink.Run(ctx, auditIn)
	})

	if *statusAddr != "" {
		srv := statusserver.New(func() statusserver.Snapshot {
			return reconcilerSnapshot(r)
		}, time.Second, log)
		fabric.Go("status-server", func(ctx context.Context) error {
			return srv.Run(ctx, *statusAddr)
		})
	}

	fabric.Wait()
	if metricsCreator != nil {
		_ = metricsCreator.Shutdown(context.Background())
	}
	if cause := fabric.Err(); cause != nil && !errors.Is(cause, context.Canceled) {
		log.Error("shutting down after task failure", slog.String("cause", cause.Error()))
		os.Exit(1)
	}
}

func withDSN(cfg auditsink.Config, dsn string) auditsink.Config {
	cfg.DSN = dsn
	return cfg
}

func newGroupCache(ctx context.Context, addr, password string, db int, tlsEnabled bool, log *slog.Logger) (*groupcache.Cache, error) {
	if addr == "" {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis-addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse redis-addr port %q: %w", portStr, err)
	}
	cfg := groupcache.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Password = password
	cfg.DB = db
	cfg.TLSEnabled = tlsEnabled
	return groupcache.New(ctx, cfg, log)
}

func newPodLookup(enabled bool, nodeName string) (*podinfo.CachedLookup, error) {
	if !enabled {
		return nil, nil
	}
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster kubeconfig: %w", err)
	}
	cli, err := client.New(restCfg, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("construct kubernetes client: %w", err)
	}
	return podinfo.NewCachedLookup(cli, nodeName), nil
}

func reconcilerSnapshot(r *reconciler.Reconciler) statusserver.Snapshot {
	pods, containers := r.Snapshot()
	out := statusserver.Snapshot{
		Pods:       make([]statusserver.PodStatus, 0, len(pods)),
		Containers: make([]statusserver.ContainerStatus, 0, len(containers)),
	}
	for _, p := range pods {
		out.Pods = append(out.Pods, statusserver.PodStatus{
			PodUID:               p.PodUID,
			Group:                groupStateLabel(p.Group),
			GroupPath:            p.GroupPath,
			TotalContainers:      p.TotalContainers,
			ReconciledContainers: p.ReconciledContainers,
		})
	}
	for _, c := range containers {
		out.Containers = append(out.Containers, statusserver.ContainerStatus{
			ContainerID: c.ContainerID,
			PodUID:      c.PodUID,
			Sync:        syncStateLabel(c.Sync),
		})
	}
	return out
}

func groupStateLabel(g reconciler.GroupState) string {
	switch g {
	case reconciler.GroupExists:
		return "exists"
	case reconciler.GroupFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func syncStateLabel(s reconciler.ContainerSyncState) string {
	switch s {
	case reconciler.SyncReconciled:
		return "reconciled"
	case reconciler.SyncPartial:
		return "partial"
	default:
		return "no_pod"
	}
}

// dispatchNRIEvents translates raw lifecycle events into reconciler
// calls, computing each container's full cgroup path from its pod's
// cgroup_parent the way §6 specifies. cgroupParents is only needed here
// because live CreateContainer events don't carry their pod's
// cgroup_parent directly; synchronize snapshots do. The map is only
// ever touched from this single goroutine, so it needs no lock.
func dispatchNRIEvents(ctx context.Context, r *reconciler.Reconciler, events <-chan nriEvent) error {
	cgroupParents := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case nri.EventSynchronize:
				for _, p := range ev.Pods {
					cgroupParents[p.UID] = p.CgroupParent
				}
				r.Synchronize(ev.Pods, ev.Containers)
			case nri.EventRunPodSandbox:
				cgroupParents[ev.Pod.UID] = ev.Pod.CgroupParent
				r.HandleNewPod(ev.Pod.UID)
			case nri.EventCreateContainer:
				fullPath := nri.FullCgroupPath(cgroupParents[ev.Container.PodUID], ev.Container.CgroupsPath)
				r.HandleNewContainer(ev.Container.PodUID, ev.Container.ID, fullPath)
			case nri.EventRemovePodSandbox:
				delete(cgroupParents, ev.Pod.UID)
				r.RemovePodSandbox(ev.Pod.UID)
			case nri.EventRemoveContainer:
				r.RemoveContainer(ev.Container.PodUID, ev.Container.ID)
			}
		}
	}
}
