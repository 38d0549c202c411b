package socket

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jsontalkie/jsontalkie/internal/config"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// Error wraps a failure from a host-facing Socket operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("socket: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Socket owns the integrity-check and recovery state for one
// transport endpoint. It has no notion of the wire's physical medium;
// that is supplied by Transport.
type Socket struct {
	name      string
	linkType  LinkType
	bridged   bool
	maxDelay  int64
	transport Transport
	repeater  Repeater
	metrics   MetricsSink
	tracer    trace.Tracer
	log       *slog.Logger

	lastLocalTime       int64
	lastRemoteTimestamp uint16
	haveRemoteTimestamp bool
	controlTiming       bool

	corrupted         corruptedRecord
	consecutiveErrors int

	lost, recoveries, drops, fails int64

	fromTalker   FromTalker
	haveFromTalk bool
}

// Option configures a Socket at construction.
type Option func(*Socket)

// WithBridged marks an up-linked socket as also serving local traffic.
func WithBridged() Option { return func(s *Socket) { s.bridged = true } }

// WithMaxDelay overrides the default Call-kind delay tolerance, in
// milliseconds.
func WithMaxDelay(ms int64) Option { return func(s *Socket) { s.maxDelay = ms } }

// WithMetrics attaches a counters sink.
func WithMetrics(m MetricsSink) Option { return func(s *Socket) { s.metrics = m } }

// WithTracer attaches a span source for the ingress/egress pipeline;
// obs.Tracer.Tracer() supplies one. The default is a no-op.
func WithTracer(tr trace.Tracer) Option { return func(s *Socket) { s.tracer = tr } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(s *Socket) { s.log = l } }

// New constructs a Socket bound to transport, with the given link
// type. name identifies the socket in logs, spans and System/Sockets
// introspection replies.
func New(name string, linkType LinkType, transport Transport, opts ...Option) *Socket {
	s := &Socket{
		name:      name,
		linkType:  linkType,
		maxDelay:  config.DefaultMaxDelayMs,
		transport: transport,
		tracer:    noop.NewTracerProvider().Tracer("jsontalkie"),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRepeater binds the routing callback. repeater.New calls it on
// every socket the Repeater is built over.
func (s *Socket) SetRepeater(r Repeater) { s.repeater = r }

// Name returns the socket's diagnostic name.
func (s *Socket) Name() string { return s.name }

// LinkType reports whether this socket treats its peer as local or remote.
func (s *Socket) LinkType() LinkType { return s.linkType }

// Bridged reports whether an up-linked socket also serves local traffic.
func (s *Socket) Bridged() bool { return s.bridged }

// MaxDelay returns the Call-kind delay tolerance, in milliseconds.
func (s *Socket) MaxDelay() int64 { return s.maxDelay }

// FromTalker returns the last observed (name, broadcast) pair, if any.
func (s *Socket) FromTalker() (FromTalker, bool) { return s.fromTalker, s.haveFromTalk }

// Counters snapshots the socket's lost/recoveries/drops/fails tallies.
type Counters struct {
	Lost, Recoveries, Drops, Fails int64
}

// Counters returns a snapshot of the socket's failure counters.
func (s *Socket) Counters() Counters {
	return Counters{Lost: s.lost, Recoveries: s.recoveries, Drops: s.drops, Fails: s.fails}
}

func (s *Socket) incLost(n int64) {
	s.lost += n
	if s.metrics != nil {
		s.metrics.IncLost(n)
	}
}

func (s *Socket) incRecoveries(n int64) {
	s.recoveries += n
	if s.metrics != nil {
		s.metrics.IncRecoveries(n)
	}
}

func (s *Socket) incDrops(n int64) {
	s.drops += n
	if s.metrics != nil {
		s.metrics.IncDrops(n)
	}
}

func (s *Socket) incFails(n int64) {
	s.fails += n
	if s.metrics != nil {
		s.metrics.IncFails(n)
	}
}

func (s *Socket) incActiveRecovery(n int64) {
	if s.metrics != nil {
		s.metrics.IncActiveRecovery(n)
	}
}

// FinishTransmission stamps the checksum and hands the message to the
// transport. It is the only sanctioned way to send: callers must not
// call Transport.Send directly.
func (s *Socket) FinishTransmission(msg *protocol.Message) error {
	_, span := s.tracer.Start(context.Background(), "socket.finish_transmission",
		trace.WithAttributes(attribute.String("socket.name", s.name)))
	defer span.End()

	if !msg.InsertChecksum() {
		span.SetAttributes(attribute.Bool("error", true), attribute.String("error.type", "overflow"))
		return &Error{Op: "finish_transmission", Err: fmt.Errorf("checksum insertion overflowed buffer")}
	}
	if id, ok := msg.GetUint(protocol.KeyIdentity); ok {
		span.SetAttributes(attribute.Int("message.identity", int(id)))
	}
	if err := s.transport.Send(msg.Bytes()); err != nil {
		s.incFails(1)
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true), attribute.String("error.type", "send"))
		return &Error{Op: "finish_transmission", Err: err}
	}
	span.SetAttributes(attribute.Bool("ok", true), attribute.Int("datagram.bytes", msg.Len()))
	return nil
}

// Tick advances the socket's timers and pumps the transport's receive
// side. nowMs is the host's millisecond clock.
func (s *Socket) Tick(nowMs int64) {
	if s.controlTiming && nowMs-s.lastLocalTime > config.MaxPacketLifetimeMs {
		s.controlTiming = false
	}
	if s.corrupted.active && nowMs-s.corrupted.receivedTime > config.RecoveryTTLMs {
		s.corrupted = corruptedRecord{}
		s.incActiveRecovery(-1)
	}
	for {
		data, ok := s.transport.TryRecv()
		if !ok {
			return
		}
		s.OnInbound(nowMs, data)
	}
}
