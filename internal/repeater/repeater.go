// Package repeater implements the central router: it connects a
// fabric's Talkers and Sockets and fans messages between them
// according to broadcast scope and talker-match kind. It holds no
// mutable state of its own beyond the four immutable collections it
// was built from.
package repeater

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jsontalkie/jsontalkie/internal/socket"
	"github.com/jsontalkie/jsontalkie/internal/talker"
)

// MetricsSink receives Repeater-level observability signals.
// internal/obs.Metrics satisfies this structurally.
type MetricsSink interface {
	ObserveFanout(n int)
}

// Repeater routes messages between a fabric's up/down-linked Sockets
// and Talkers. Construct it once, after all Sockets and Talkers exist;
// New closes the Socket<->Repeater and Talker<->Repeater back-
// references for you.
type Repeater struct {
	upSockets    []*socket.Socket
	downSockets  []*socket.Socket
	upTalkers    []*talker.Talker
	downTalkers  []*talker.Talker
	localTalkers []*talker.Talker

	log     *slog.Logger
	metrics MetricsSink
	tracer  trace.Tracer
}

// Option configures a Repeater at construction.
type Option func(*Repeater)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(r *Repeater) { r.log = l } }

// WithMetrics attaches a fan-out observability sink.
func WithMetrics(m MetricsSink) Option { return func(r *Repeater) { r.metrics = m } }

// WithTracer attaches a span source for the four dispatch entry
// points; obs.Tracer.Tracer() supplies one. The default is a no-op.
func WithTracer(tr trace.Tracer) Option { return func(r *Repeater) { r.tracer = tr } }

// New builds a Repeater over the fabric's four collections and wires
// the back-references every Socket and Talker needs to transmit
// through it.
func New(upSockets, downSockets []*socket.Socket, upTalkers, downTalkers []*talker.Talker, opts ...Option) *Repeater {
	r := &Repeater{
		upSockets:   upSockets,
		downSockets: downSockets,
		upTalkers:   upTalkers,
		downTalkers: downTalkers,
		log:         slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("jsontalkie"),
	}
	r.localTalkers = make([]*talker.Talker, 0, len(downTalkers)+len(upTalkers))
	r.localTalkers = append(r.localTalkers, downTalkers...)
	r.localTalkers = append(r.localTalkers, upTalkers...)

	for _, opt := range opts {
		opt(r)
	}

	for _, s := range upSockets {
		s.SetRepeater(r)
	}
	for _, s := range downSockets {
		s.SetRepeater(r)
	}
	for _, t := range r.localTalkers {
		t.SetRepeater(r)
		t.SetSocketSource(r)
	}
	return r
}

// Tick advances every owned Socket's timers/receive pump and every
// Talker's optional per-tick Manifesto hook. nowMs is the host's
// millisecond clock.
func (r *Repeater) Tick(nowMs int64) {
	for _, s := range r.upSockets {
		s.Tick(nowMs)
	}
	for _, s := range r.downSockets {
		s.Tick(nowMs)
	}
	for _, t := range r.localTalkers {
		t.Tick(nowMs)
	}
}

// Sockets implements talker.SocketSource for System/Sockets,
// System/Errors, System/Drops and System/Delay introspection.
func (r *Repeater) Sockets() []talker.SocketInfo {
	out := make([]talker.SocketInfo, 0, len(r.upSockets)+len(r.downSockets))
	for _, s := range r.downSockets {
		out = append(out, talker.SocketInfo{Name: s.Name(), LinkType: s.LinkType(), Counters: s.Counters(), MaxDelay: s.MaxDelay()})
	}
	for _, s := range r.upSockets {
		out = append(out, talker.SocketInfo{Name: s.Name(), LinkType: s.LinkType(), Counters: s.Counters(), MaxDelay: s.MaxDelay()})
	}
	return out
}

func (r *Repeater) bridgedUpSockets() []*socket.Socket {
	out := make([]*socket.Socket, 0, len(r.upSockets))
	for _, s := range r.upSockets {
		if s.Bridged() {
			out = append(out, s)
		}
	}
	return out
}

func (r *Repeater) observeFanout(n int) {
	if r.metrics != nil {
		r.metrics.ObserveFanout(n)
	}
}
