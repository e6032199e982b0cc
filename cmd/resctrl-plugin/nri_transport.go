package main

import (
	"log/slog"

	"github.com/unvariance/collector/internal/errs"
	"github.com/unvariance/collector/internal/nri"
)

// nriEvent is one lifecycle callback as it would arrive over the
// container-runtime plugin transport, carrying enough raw fields to
// drive the reconciler directly.
type nriEvent struct {
	Kind       nri.EventKind
	Pod        nri.PodSandbox
	Container  nri.Container
	Pods       []nri.PodSandbox // populated only for EventSynchronize
	Containers []nri.Container  // populated only for EventSynchronize
}

// connectNRI would register this plugin with the container runtime over
// ttrpc at socketPath and return a channel of lifecycle events as they
// arrive. Framing and transport are explicitly out of scope for this
// design: spec §1 states "we specify the lifecycle events and the
// registration handshake but not framing." nriEvent/connectNRI is the
// abstraction boundary a real ttrpc server plugs into; this placeholder
// reports the fatal startup error §7 names ("failure to ... bind the
// plugin socket") rather than silently running with no event source.
func connectNRI(socketPath string, log *slog.Logger) (<-chan nriEvent, error) {
	return nil, errs.New(errs.Io, "no container-runtime plugin transport wired at "+socketPath+" (NRI ttrpc framing is out of scope for this repository)")
}
