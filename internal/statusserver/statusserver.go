// Package statusserver serves a debug-only /status websocket
// (§B.6) that streams the resctrl-plugin's current in-memory
// (PodState, ContainerState) snapshot as JSON to connected operators.
// Explicitly not a query engine (§1, §E): no query language, no
// persistence, no cross-node aggregation — just the live reconciler
// state already held in memory. Grounded on the teacher's use of
// gorilla/websocket for bidirectional streaming (forward_ws.go), here
// adapted to a one-way server push instead of a tunnel.
package statusserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshot is the JSON payload pushed to each connected client.
type Snapshot struct {
	Pods       []PodStatus       `json:"pods"`
	Containers []ContainerStatus `json:"containers"`
}

// PodStatus mirrors reconciler.PodState without importing it directly,
// keeping this package decoupled from the reconciler's internal types.
type PodStatus struct {
	PodUID               string `json:"pod_uid"`
	Group                string `json:"group"`
	GroupPath            string `json:"group_path,omitempty"`
	TotalContainers      int    `json:"total_containers"`
	ReconciledContainers int    `json:"reconciled_containers"`
}

// ContainerStatus mirrors reconciler.ContainerState.
type ContainerStatus struct {
	ContainerID string `json:"container_id"`
	PodUID      string `json:"pod_uid"`
	Sync        string `json:"sync"`
}

// SnapshotFunc returns the current state snapshot. Implemented by the
// reconciler; kept as a function type here to avoid a reconciler
// import cycle and so tests can supply a canned snapshot.
type SnapshotFunc func() Snapshot

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Debug endpoint read by operator tooling from arbitrary origins
	// (kubectl port-forward, local browsers); it is read-only and
	// exposes no control surface, so origin checking is relaxed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the /status websocket endpoint.
type Server struct {
	snapshot SnapshotFunc
	interval time.Duration
	log      *slog.Logger
}

// New constructs a Server. interval controls how often a connected
// client receives a fresh snapshot push.
func New(snapshot SnapshotFunc, interval time.Duration, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{snapshot: snapshot, interval: interval, log: log}
}

// Handler returns an http.Handler for the /status endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveStatus)
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("status websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				s.log.Debug("status websocket write failed, closing connection",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// Run starts an HTTP server bound to addr serving only /status, and
// blocks until ctx is cancelled, matching the shutdown.Fabric task
// contract so it can be wired with Go(name, fn).
func (s *Server) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/status", s.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
