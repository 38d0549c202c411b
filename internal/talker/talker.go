// Package talker implements the message-kind state machine: a named
// endpoint bound to a Manifesto that answers Call/Talk/Channel/Ping/
// List/System/Echo/Error/Noise messages.
package talker

import (
	"fmt"
	"log/slog"

	"github.com/jsontalkie/jsontalkie/internal/manifesto"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
	"github.com/jsontalkie/jsontalkie/internal/socket"
)

// Error wraps a failure from a host-facing Talker operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("talker: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// NoChannel is the sentinel channel value meaning "unassigned".
const NoChannel uint8 = 255

// Repeater is the routing callback a Talker hands outbound messages
// to. internal/repeater.Repeater satisfies this.
type Repeater interface {
	TalkerDownlink(nowMs int64, from *Talker, msg *protocol.Message) bool
	TalkerUplink(nowMs int64, from *Talker, msg *protocol.Message) bool
}

// SocketInfo is a read-only snapshot of one Socket, used to answer
// System/Sockets and System/Errors/Drops/Delay introspection without the
// talker package depending on the Repeater's internal layout.
type SocketInfo struct {
	Name     string
	LinkType socket.LinkType
	Counters socket.Counters
	MaxDelay int64
}

// SocketSource exposes the fabric's sockets for introspection.
// internal/repeater.Repeater satisfies this.
type SocketSource interface {
	Sockets() []SocketInfo
}

// Talker is a named endpoint bound to an (optional) Manifesto.
type Talker struct {
	name        string
	description string
	channel     uint8
	mutedCalls  bool
	linkType    socket.LinkType

	manifesto manifesto.Manifesto
	repeater  Repeater
	sockets   SocketSource
	log       *slog.Logger

	transmitted     protocol.Message
	haveTransmitted bool
	lastIdentity    uint16
}

// Option configures a Talker at construction.
type Option func(*Talker)

// WithChannel sets the Talker's initial channel (0..254; NoChannel=255).
func WithChannel(ch uint8) Option { return func(t *Talker) { t.channel = ch } }

// WithUpLinked marks the Talker as up-linked (treats its peer as remote).
func WithUpLinked() Option { return func(t *Talker) { t.linkType = socket.UpLinked } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(t *Talker) { t.log = l } }

// WithSocketSource attaches the socket-introspection source consumed by
// System/Sockets, System/Errors, System/Drops and System/Delay.
func WithSocketSource(s SocketSource) Option { return func(t *Talker) { t.sockets = s } }

// New constructs a Talker. m may be nil, in which case the Talker
// answers Call, List, System/Board and System/Manifesto with r=NoJoy;
// Talk/Channel/Ping, System/Mute and the socket-introspection System
// sub-commands work without a Manifesto.
func New(name, description string, m manifesto.Manifesto, opts ...Option) *Talker {
	t := &Talker{
		name:        name,
		description: description,
		channel:     NoChannel,
		manifesto:   m,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetRepeater binds the routing callback.
func (t *Talker) SetRepeater(r Repeater) { t.repeater = r }

// SetSocketSource attaches the socket-introspection source, typically
// called once by the owning Repeater at construction time.
func (t *Talker) SetSocketSource(s SocketSource) { t.sockets = s }

// Name implements manifesto.TalkerView and reports the Talker's name.
func (t *Talker) Name() string { return t.name }

// Description returns the Talker's description string.
func (t *Talker) Description() string { return t.description }

// Channel implements manifesto.TalkerView.
func (t *Talker) Channel() uint8 { return t.channel }

// SetChannel implements manifesto.TalkerView.
func (t *Talker) SetChannel(ch uint8) { t.channel = ch }

// MutedCalls implements manifesto.TalkerView.
func (t *Talker) MutedCalls() bool { return t.mutedCalls }

// SetMutedCalls implements manifesto.TalkerView.
func (t *Talker) SetMutedCalls(m bool) { t.mutedCalls = m }

// LinkType reports whether this Talker treats its peer as local or remote.
func (t *Talker) LinkType() socket.LinkType { return t.linkType }

// Tick runs the bound Manifesto's optional per-tick hook, if any.
func (t *Talker) Tick(nowMs int64) {
	if tk, ok := t.manifesto.(manifesto.Ticker); ok {
		tk.Tick(t)
	}
}

// Handle runs the message-kind state machine over msg, which is
// mutated in place into its reply (if any). An unknown kind is handled
// as Noise. It returns false only when a transmission fails.
func (t *Talker) Handle(nowMs int64, msg *protocol.Message, match protocol.MatchKind) bool {
	kindVal, _ := msg.GetUint(protocol.KeyKind)
	kind := protocol.Kind(kindVal)

	switch kind {
	case protocol.KindCall:
		return t.handleCall(nowMs, msg, match)
	case protocol.KindTalk:
		return t.handleTalk(nowMs, msg)
	case protocol.KindChannel:
		return t.handleChannel(nowMs, msg)
	case protocol.KindPing:
		return t.handlePing(nowMs, msg)
	case protocol.KindList:
		return t.handleList(nowMs, msg)
	case protocol.KindSystem:
		return t.handleSystem(nowMs, msg)
	case protocol.KindEcho:
		return t.handleEcho(nowMs, msg, match)
	case protocol.KindError:
		return t.handleErrorKind(nowMs, msg)
	default:
		return t.handleNoise(nowMs, msg, match)
	}
}

// prepare finalizes an outbound message: ensures f == self.name
// (swapping t<->f first if f names someone else), then
// stamps a fresh identity for non-reply kinds (caching the message for
// echo/error pairing) or, for reply kinds missing an identity, turns
// the outbound into an Error{Identity} instead of sending a reply that
// can never be paired.
func (t *Talker) prepare(nowMs int64, msg *protocol.Message) {
	if f, ok := msg.GetName(protocol.KeyFrom); ok && f != t.name {
		msg.SwapToWithFrom()
	}
	msg.SetName(protocol.KeyFrom, t.name)

	kindVal, _ := msg.GetUint(protocol.KeyKind)
	kind := protocol.Kind(kindVal)

	if kind < protocol.KindEcho {
		identity := uint16(nowMs & 0xFFFF)
		msg.SetUint(protocol.KeyIdentity, uint64(identity))
		t.transmitted = msg.Clone()
		t.haveTransmitted = true
		t.lastIdentity = identity
		return
	}

	if !msg.Has(protocol.KeyIdentity) {
		msg.Reset()
		msg.SetUint(protocol.KeyKind, uint64(protocol.KindError))
		msg.SetUint(protocol.KeyError, uint64(protocol.ErrorIdentity))
		msg.SetName(protocol.KeyFrom, t.name)
	}
}

// Transmit originates an outbound message from this Talker: a host
// composes a Call/Ping/... addressed to a peer and hands it here
// instead of to Handle (which is reserved for messages the fabric
// routed *to* this Talker). The message is prepared in place (from set
// to this Talker's name, identity stamped and cached for non-reply
// kinds) and routed through the Repeater.
func (t *Talker) Transmit(nowMs int64, msg *protocol.Message) bool {
	return t.transmit(nowMs, msg)
}

// transmit runs prepare and hands the message to the Repeater: the
// uplink entry point for an up-linked Talker or a Remote-scoped
// message, the downlink entry point otherwise.
func (t *Talker) transmit(nowMs int64, msg *protocol.Message) bool {
	t.prepare(nowMs, msg)
	if t.repeater == nil {
		return false
	}
	bscope := protocol.BroadcastLocal
	if bval, ok := msg.GetUint(protocol.KeyBroadcast); ok && bval <= uint64(protocol.BroadcastSelf) {
		bscope = protocol.Broadcast(bval)
	}
	if t.linkType == socket.UpLinked || bscope == protocol.BroadcastRemote {
		return t.repeater.TalkerUplink(nowMs, t, msg)
	}
	return t.repeater.TalkerDownlink(nowMs, t, msg)
}

// retransmit re-sends the last outbound message byte-for-byte (same
// identity, no new prepare pass): an end-to-end Checksum error pairs
// with the original identity and asks for the exact original bytes
// again.
func (t *Talker) retransmit(nowMs int64) bool {
	if !t.haveTransmitted || t.repeater == nil {
		return false
	}
	msg := t.transmitted.Clone()
	bscope := protocol.BroadcastLocal
	if bval, ok := msg.GetUint(protocol.KeyBroadcast); ok && bval <= uint64(protocol.BroadcastSelf) {
		bscope = protocol.Broadcast(bval)
	}
	if t.linkType == socket.UpLinked || bscope == protocol.BroadcastRemote {
		return t.repeater.TalkerUplink(nowMs, t, &msg)
	}
	return t.repeater.TalkerDownlink(nowMs, t, &msg)
}
