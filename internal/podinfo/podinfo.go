// Package podinfo looks up pod metadata for resctrl-plugin reconciler
// events from the Kubernetes API (§B.3) through a controller-runtime
// client, keeping its own UID-indexed map of this node's pods so a
// lookup does not query the API server every time. Node metadata is
// not looked up.
package podinfo

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// PodInfo is the pod metadata looked up for a resctrl reconciler event,
// giving a namespace/name instead of a bare pod UID.
type PodInfo struct {
	UID       string
	Namespace string
	Name      string
	NodeName  string
	QoSClass  string
	Labels    map[string]string
}

// Lookup resolves pod metadata by UID. Implementations may cache.
type Lookup interface {
	ByUID(ctx context.Context, uid string) (PodInfo, bool, error)
}

// CachedLookup resolves pod UIDs against a controller-runtime cached
// client. It starts with an empty UID-indexed map of the local node's
// pods, which Refresh rebuilds and ByUID fills in on a miss, the
// same rebuild-from-store pattern the teacher's node/pod listeners use
// against an informer cache rather than issuing a Get per lookup.
type CachedLookup struct {
	cli      client.Client
	nodeName string
	byUID    map[string]PodInfo
}

// NewCachedLookup builds a CachedLookup scoped to nodeName (typically
// this agent's own node, via the downward API NODE_NAME env var).
func NewCachedLookup(cli client.Client, nodeName string) *CachedLookup {
	return &CachedLookup{cli: cli, nodeName: nodeName, byUID: map[string]PodInfo{}}
}

// Refresh lists all pods scheduled to this node and rebuilds the
// UID-indexed cache. Intended to run on startup and on a coarse
// interval, not per-event.
func (l *CachedLookup) Refresh(ctx context.Context) error {
	var pods corev1.PodList
	if err := l.cli.List(ctx, &pods, client.MatchingFields{"spec.nodeName": l.nodeName}); err != nil {
		return fmt.Errorf("list pods on node %s: %w", l.nodeName, err)
	}

	fresh := make(map[string]PodInfo, len(pods.Items))
	for i := range pods.Items {
		p := &pods.Items[i]
		fresh[string(p.UID)] = PodInfo{
			UID:       string(p.UID),
			Namespace: p.Namespace,
			Name:      p.Name,
			NodeName:  p.Spec.NodeName,
			QoSClass:  string(p.Status.QOSClass),
			Labels:    p.Labels,
		}
	}
	l.byUID = fresh
	return nil
}

// ByUID implements Lookup from the in-memory cache, falling back to
// listing this node's pods again on a cache miss (a pod created since
// the last Refresh) before giving up.
func (l *CachedLookup) ByUID(ctx context.Context, uid string) (PodInfo, bool, error) {
	if info, ok := l.byUID[uid]; ok {
		return info, true, nil
	}

	var pods corev1.PodList
	if err := l.cli.List(ctx, &pods, client.MatchingFields{"spec.nodeName": l.nodeName}); err != nil {
		return PodInfo{}, false, fmt.Errorf("list pods on node %s: %w", l.nodeName, err)
	}
	for i := range pods.Items {
		p := &pods.Items[i]
		if string(p.UID) == uid {
			info := PodInfo{
				UID:       string(p.UID),
				Namespace: p.Namespace,
				Name:      p.Name,
				NodeName:  p.Spec.NodeName,
				QoSClass:  string(p.Status.QOSClass),
				Labels:    p.Labels,
			}
			l.byUID[uid] = info
			return info, true, nil
		}
	}
	return PodInfo{}, false, nil
}

// PodNamespacedName is a convenience for building a client.ObjectKey
// when callers already know namespace/name rather than only a UID.
func PodNamespacedName(namespace, name string) types.NamespacedName {
	return types.NamespacedName{Namespace: namespace, Name: name}
}
