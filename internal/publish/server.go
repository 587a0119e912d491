// Package publish pushes the latest arena snapshot to WebSocket subscribers.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mecathron/arena-tracker/internal/config"
	"github.com/mecathron/arena-tracker/internal/state"
)

const (
	instrumentationName = "github.com/mecathron/arena-tracker/internal/publish"
	shutdownTimeout     = 5 * time.Second
)

// Source yields the current snapshot, nil before the first frame.
// *state.Latest satisfies it.
type Source interface {
	Load() *state.Snapshot
}

// Server accepts subscribers and broadcasts snapshots to them on a fixed
// interval. Only snapshots newer than the last broadcast one are sent, and a
// subscriber never receives a snapshot that was current when it connected.
//
// There is no heartbeat: while the camera is stalled no new snapshot is
// published and subscribers receive nothing at all. Clients must not treat
// silence as a dropped connection.
type Server struct {
	cfg    config.PublishSettings
	src    Source
	logger *slog.Logger

	upgrader ws.Upgrader

	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	reserved int
	closed   bool
	wg       sync.WaitGroup

	// lastSeq is touched only by the broadcast loop.
	lastSeq uint64

	subscribers metric.Int64ObservableGauge
	sent        metric.Int64Counter
	superseded  metric.Int64Counter
	failures    metric.Int64Counter
	refused     metric.Int64Counter
}

// New creates a server reading snapshots from src. It does not listen until
// Run is called; ServeHTTP can also be mounted on another mux.
func New(cfg config.PublishSettings, src Source, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		src:    src,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
		upgrader: ws.Upgrader{
			// Clients are local tools (renderers, loggers) served from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	m := otel.Meter(instrumentationName)
	var err error

	s.subscribers, err = m.Int64ObservableGauge(
		"publish.subscribers",
		metric.WithDescription("Currently connected subscribers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating subscribers gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(s.subscribers, int64(s.ClientCount()))
			return nil
		},
		s.subscribers,
	)
	if err != nil {
		return nil, fmt.Errorf("registering subscribers callback: %w", err)
	}

	if s.sent, err = m.Int64Counter("publish.messages.sent",
		metric.WithDescription("Snapshots offered to subscribers")); err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	if s.superseded, err = m.Int64Counter("publish.messages.superseded",
		metric.WithDescription("Pending snapshots replaced before being written")); err != nil {
		return nil, fmt.Errorf("creating superseded counter: %w", err)
	}
	if s.failures, err = m.Int64Counter("publish.send.failures",
		metric.WithDescription("Subscribers dropped after a write error")); err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}
	if s.refused, err = m.Int64Counter("publish.subscribers.refused",
		metric.WithDescription("Connections refused because the server was full")); err != nil {
		return nil, fmt.Errorf("creating refused counter: %w", err)
	}

	return s, nil
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// ServeHTTP upgrades the request to a WebSocket subscription.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.reserve() {
		s.refused.Add(r.Context(), 1)
		s.logger.Warn("Subscriber refused", "remote_addr", r.RemoteAddr, "max_clients", s.cfg.MaxClients)
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		// Upgrade already replied to the client.
		s.logger.Debug("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	var joinedSeq uint64
	if snap := s.src.Load(); snap != nil {
		joinedSeq = snap.Seq
	}
	sub := newSubscriber(uuid.NewString(), conn, joinedSeq)

	if !s.add(sub) {
		sub.close(true, s.cfg.WriteTimeout)
		return
	}

	s.logger.Info("Subscriber connected",
		"subscriber_id", sub.id,
		"remote_addr", r.RemoteAddr,
		"joined_seq", joinedSeq,
		"subscribers", s.ClientCount())

	go func() {
		defer s.wg.Done()
		if err := sub.writeLoop(s.cfg.WriteTimeout); err != nil {
			s.failures.Add(context.Background(), 1)
			s.remove(sub, "write_failed", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		err := sub.readLoop()
		s.remove(sub, "disconnected", err)
	}()
}

// reserve holds a slot for a connection being upgraded.
func (s *Server) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.subs)+s.reserved >= s.cfg.MaxClients {
		return false
	}
	s.reserved++
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.reserved--
	s.mu.Unlock()
}

// add turns a reservation into a subscriber and accounts for its two
// goroutines. It fails once the server is shutting down.
func (s *Server) add(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved--
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	s.wg.Add(2)
	return true
}

func (s *Server) remove(sub *subscriber, reason string, err error) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	s.mu.Unlock()

	sub.close(false, s.cfg.WriteTimeout)
	if !ok {
		return
	}

	attrs := []any{"subscriber_id", sub.id, "reason", reason, "subscribers", s.ClientCount()}
	if err != nil && !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
		attrs = append(attrs, "error", err)
	}
	s.logger.Info("Subscriber disconnected", attrs...)
}

func (s *Server) snapshotSubs() []*subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// broadcast reads the current snapshot once, encodes it once and offers it
// to every subscriber. It returns the number of subscribers that accepted it.
func (s *Server) broadcast(ctx context.Context) (int, error) {
	snap := s.src.Load()
	if snap == nil || snap.Seq == s.lastSeq {
		return 0, nil
	}

	payload, err := snap.Payload(state.EncodeOptions{IncludeCollisions: s.cfg.IncludeCollisions})
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot %d: %w", snap.Seq, err)
	}
	s.lastSeq = snap.Seq

	delivered := 0
	for _, sub := range s.snapshotSubs() {
		accepted, superseded := sub.offer(snap.Seq, payload)
		if !accepted {
			continue
		}
		delivered++
		if superseded {
			s.superseded.Add(ctx, 1)
		}
	}
	if delivered > 0 {
		s.sent.Add(ctx, int64(delivered))
	}
	return delivered, nil
}

// Broadcast runs the broadcast loop until ctx is cancelled.
func (s *Server) Broadcast(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.broadcast(ctx); err != nil {
				s.logger.Error("Broadcast failed", "error", err)
			}
		}
	}
}

// Run listens on ListenAddr and broadcasts until ctx is cancelled, then
// closes every subscriber and waits for their goroutines.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Info("Publisher listening",
		"addr", ln.Addr().String(),
		"path", s.cfg.Path,
		"interval", s.cfg.Interval,
		"max_clients", s.cfg.MaxClients)

	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		s.Broadcast(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("publisher stopped: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Publisher shutdown incomplete", "error", err)
	}
	stop()
	<-broadcastDone
	s.Close()

	s.logger.Debug("Publisher stopped")
	return runErr
}

// Close disconnects every subscriber and waits for their goroutines. The
// server refuses new subscribers afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*subscriber]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close(true, s.cfg.WriteTimeout)
	}
	s.wg.Wait()
}
