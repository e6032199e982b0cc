package main

import (
	"log/slog"

	"github.com/unvariance/collector/internal/errs"
	"github.com/unvariance/collector/internal/eventbus"
)

// openRings would load and attach the kernel-side eBPF program and
// return one eventbus.Ring per CPU ring buffer it exposes. Compiling,
// loading, and attaching that program is explicitly out of scope for
// this design: "How the program is compiled, loaded, or attached is not
// part of this design" (spec §1). eventbus.Ring is the abstraction
// boundary a real loader plugs into; this placeholder reports the
// fatal startup error §7 names ("failure to load the kernel producer")
// rather than silently running with zero rings.
func openRings(log *slog.Logger) ([]eventbus.Ring, error) {
	return nil, errs.New(errs.Io, "no kernel event producer wired (ring-buffer loading is out of scope for this repository)")
}
