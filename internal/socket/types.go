// Package socket implements the integrity and recovery pipeline that
// sits between a raw transport and the routing layer: checksum
// validation and stamping, single-outstanding-corruption recovery,
// and the Call-kind delay filter.
package socket

import "github.com/jsontalkie/jsontalkie/internal/protocol"

// LinkType describes how a Socket's peer relates to the local fabric.
type LinkType uint8

const (
	// DownLinked treats the peer as local: a child connection.
	DownLinked LinkType = iota
	// UpLinked treats the peer as remote: a parent/hub connection.
	UpLinked
)

func (l LinkType) String() string {
	if l == UpLinked {
		return "up-linked"
	}
	return "down-linked"
}

// Transport moves raw datagrams for a Socket. Implementations are
// supplied by the host; the core never opens a physical connection
// itself.
type Transport interface {
	// Send writes one datagram. Returning an error increments the
	// owning Socket's fails counter.
	Send(data []byte) error
	// TryRecv pops one pending inbound datagram without blocking. ok
	// is false when nothing is queued.
	TryRecv() ([]byte, bool)
}

// Repeater is the routing callback a Socket hands inbound messages
// (and self-originated recovery requests) to. internal/repeater.Repeater
// satisfies this.
type Repeater interface {
	SocketDownlink(nowMs int64, from *Socket, msg *protocol.Message) bool
	SocketUplink(nowMs int64, from *Socket, msg *protocol.Message) bool
}

// MetricsSink receives socket-level counters. Implementations are
// optional; a nil sink is a no-op. internal/obs.Metrics satisfies this
// structurally, without this package importing internal/obs.
type MetricsSink interface {
	IncLost(n int64)
	IncRecoveries(n int64)
	IncDrops(n int64)
	IncFails(n int64)
	IncActiveRecovery(n int64)
}

// FromTalker is the last observed (name, broadcast scope) pair seen on
// a socket, used by transports that need to address a reply back to a
// specific physical peer.
type FromTalker struct {
	Name      string
	Broadcast protocol.Broadcast
}

// RecoveryKind classifies why a message failed checksum validation.
type RecoveryKind int

const (
	// DataBad: both checksum and identity parsed, but the checksum
	// did not match the content.
	DataBad RecoveryKind = iota
	// ChecksumMissing: c missing or unparseable, i parseable.
	ChecksumMissing
	// IdentityMissing: i missing or unparseable, c parseable.
	IdentityMissing
)

func (k RecoveryKind) String() string {
	switch k {
	case DataBad:
		return "data-bad"
	case ChecksumMissing:
		return "checksum-missing"
	case IdentityMissing:
		return "identity-missing"
	default:
		return "unrecoverable"
	}
}

type corruptedRecord struct {
	active       bool
	kind         RecoveryKind
	broadcast    protocol.Broadcast
	hasBroadcast bool
	identity     uint16
	hasIdentity  bool
	checksum     uint16
	hasChecksum  bool
	receivedTime int64
}
