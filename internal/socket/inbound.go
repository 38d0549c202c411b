package socket

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsontalkie/jsontalkie/internal/config"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// OnInbound runs one datagram through the integrity and recovery
// pipeline: validation, checksum/recovery classification, the
// from_talker cache, the Call-kind delay filter, and finally dispatch
// into the Repeater. Malformed or unrecoverable datagrams are dropped
// silently.
func (s *Socket) OnInbound(nowMs int64, data []byte) {
	_, span := s.tracer.Start(context.Background(), "socket.on_inbound",
		trace.WithAttributes(
			attribute.String("socket.name", s.name),
			attribute.Int("datagram.bytes", len(data)),
		))
	defer span.End()

	msg := protocol.New()
	if !msg.Deserialize(data) || !msg.ValidateJSON() {
		span.SetAttributes(attribute.Bool("error", true), attribute.String("error.type", "malformed"))
		return
	}

	identity, haveIdentity, checksum, haveChecksum, csType, clean := s.checkIntegrity(msg)
	if !clean {
		reconstructed := false
		if msg.TryToReconstruct() && msg.ValidateJSON() {
			identity, haveIdentity, checksum, haveChecksum, csType, clean = s.checkIntegrity(msg)
			reconstructed = true
		}
		if !clean {
			kind, recoverable := classify(csType, haveIdentity)
			if !recoverable {
				s.incLost(1)
				span.SetAttributes(attribute.Bool("error", true), attribute.String("error.type", "unrecoverable"))
				s.log.Debug("dropping unrecoverable message", "socket", s.name, "reconstructed", reconstructed)
				return
			}
			armed := false
			if !s.corrupted.active && s.consecutiveErrors < config.MaxConsecutiveErrors {
				s.armRecovery(nowMs, kind, msg, identity, haveIdentity, checksum, haveChecksum)
				armed = true
			}
			s.consecutiveErrors++
			span.SetAttributes(
				attribute.Bool("error", true),
				attribute.String("error.type", kind.String()),
				attribute.Bool("recovery.armed", armed),
			)
			return
		}
		span.SetAttributes(attribute.Bool("reconstructed", true))
		s.log.Debug("recovered message via key-delimiter reconstruction", "socket", s.name)
	}
	s.consecutiveErrors = 0

	if msg.Has(protocol.KeyRecovery) {
		msg.ReplaceKey(protocol.KeyRecovery, protocol.KeyKind)
		if s.tryMatchRecovery(nowMs, identity, haveIdentity, checksum, haveChecksum) {
			s.incRecoveries(1)
			if s.lost > 0 {
				s.incLost(-1)
			}
			s.corrupted = corruptedRecord{}
			s.incActiveRecovery(-1)
			span.SetAttributes(attribute.Bool("recovery.matched", true))
		} else {
			msg.ReplaceKey(protocol.KeyKind, protocol.KeyRecovery)
		}
	}

	// The kind is read only after any M->m conversion: a recovered
	// message continues as a normal one from here on, delay filter
	// included.
	kindVal, kindOK := msg.GetUint(protocol.KeyKind)
	kind := protocol.Kind(kindVal)
	if !kindOK || kindVal > uint64(protocol.KindError) {
		kind = protocol.KindNoise
	}
	span.SetAttributes(attribute.String("message.kind", kind.String()))
	if haveIdentity {
		span.SetAttributes(attribute.Int("message.identity", int(identity)))
	}

	if msg.Has(protocol.KeyBroadcast) && msg.Has(protocol.KeyFrom) {
		name, _ := msg.GetName(protocol.KeyFrom)
		bval, _ := msg.GetUint(protocol.KeyBroadcast)
		s.fromTalker = FromTalker{Name: name, Broadcast: protocol.Broadcast(bval)}
		s.haveFromTalk = true
	} else if kind == protocol.KindNoise && !msg.Has(protocol.KeyFrom) {
		s.haveFromTalk = false
		return
	}

	bscope := protocol.BroadcastRemote
	if bval, ok := msg.GetUint(protocol.KeyBroadcast); ok && bval <= uint64(protocol.BroadcastSelf) {
		bscope = protocol.Broadcast(bval)
	}

	if kind == protocol.KindCall && haveIdentity {
		if s.applyDelayFilter(nowMs, msg, identity, bscope) {
			span.SetAttributes(attribute.Bool("error", true), attribute.String("error.type", "delay"))
			return
		}
	}

	span.SetAttributes(attribute.Bool("ok", true))
	s.routeInbound(nowMs, msg, bscope)
}

// checkIntegrity reads the identity and checksum fields (before
// ValidateChecksum's side effect of removing "c") and validates the
// checksum. csType reflects the checksum field's shape prior to
// removal, for classify to use if validation fails.
func (s *Socket) checkIntegrity(msg *protocol.Message) (identity uint16, haveIdentity bool, checksum uint16, haveChecksum bool, csType protocol.ValueType, valid bool) {
	idType := msg.ValueType(protocol.KeyIdentity)
	csType = msg.ValueType(protocol.KeyChecksum)

	if idType == protocol.ValueInt {
		if v, ok := msg.GetUint(protocol.KeyIdentity); ok && v <= 65535 {
			identity, haveIdentity = uint16(v), true
		}
	}
	if csType == protocol.ValueInt {
		if v, ok := msg.GetUint(protocol.KeyChecksum); ok && v <= 65535 {
			checksum, haveChecksum = uint16(v), true
		}
	}
	valid = msg.ValidateChecksum()
	return
}

// classify maps a checksum-validation failure onto the ingress error
// classes: which of identity and checksum survived decides whether a
// recovery can be attempted and how a retransmission will be matched.
func classify(csType protocol.ValueType, haveIdentity bool) (RecoveryKind, bool) {
	csKnown := csType == protocol.ValueInt
	switch {
	case csKnown && haveIdentity:
		return DataBad, true
	case !csKnown && haveIdentity:
		return ChecksumMissing, true
	case csKnown && !haveIdentity:
		return IdentityMissing, true
	default:
		return 0, false
	}
}

func (s *Socket) armRecovery(nowMs int64, kind RecoveryKind, msg *protocol.Message, identity uint16, haveIdentity bool, checksum uint16, haveChecksum bool) {
	rec := corruptedRecord{active: true, kind: kind, receivedTime: nowMs}
	if bval, ok := msg.GetUint(protocol.KeyBroadcast); ok && bval <= uint64(protocol.BroadcastSelf) {
		rec.broadcast, rec.hasBroadcast = protocol.Broadcast(bval), true
	}
	if haveIdentity {
		rec.identity, rec.hasIdentity = identity, true
	}
	if haveChecksum {
		rec.checksum, rec.hasChecksum = checksum, true
	}
	s.corrupted = rec
	s.incActiveRecovery(1)

	compose := func(b protocol.Broadcast) *protocol.Message {
		em := protocol.New()
		em.SetUint(protocol.KeyKind, uint64(protocol.KindError))
		em.SetUint(protocol.KeyError, uint64(protocol.ErrorChecksum))
		if haveIdentity {
			em.SetUint(protocol.KeyIdentity, uint64(identity))
		}
		em.SetUint(protocol.KeyBroadcast, uint64(b))
		return em
	}

	if rec.hasBroadcast {
		s.routeOutbound(nowMs, compose(rec.broadcast), rec.broadcast)
	} else {
		s.routeOutbound(nowMs, compose(protocol.BroadcastRemote), protocol.BroadcastRemote)
		s.routeOutbound(nowMs, compose(protocol.BroadcastLocal), protocol.BroadcastLocal)
	}
}

func (s *Socket) tryMatchRecovery(nowMs int64, identity uint16, haveIdentity bool, checksum uint16, haveChecksum bool) bool {
	rec := s.corrupted
	if !rec.active || nowMs-rec.receivedTime > config.RecoveryTTLMs {
		return false
	}
	switch rec.kind {
	case DataBad:
		return haveIdentity && rec.hasIdentity && identity == rec.identity &&
			haveChecksum && rec.hasChecksum && checksum == rec.checksum
	case ChecksumMissing:
		return haveIdentity && rec.hasIdentity && identity == rec.identity
	case IdentityMissing:
		return haveChecksum && rec.hasChecksum && checksum == rec.checksum
	default:
		return false
	}
}

// applyDelayFilter returns true if the message was dropped.
func (s *Socket) applyDelayFilter(nowMs int64, msg *protocol.Message, identity uint16, bscope protocol.Broadcast) bool {
	remoteDelay := uint16(0)
	if s.haveRemoteTimestamp {
		remoteDelay = s.lastRemoteTimestamp - identity
	}
	localDelay := nowMs - s.lastLocalTime
	outOfOrder := s.haveRemoteTimestamp && remoteDelay > 0 && remoteDelay < 32768

	if outOfOrder && (int64(remoteDelay) > s.maxDelay || localDelay > s.maxDelay) {
		em := protocol.New()
		em.SetUint(protocol.KeyKind, uint64(protocol.KindError))
		em.SetUint(protocol.KeyError, uint64(protocol.ErrorDelay))
		if name, ok := msg.GetName(protocol.KeyFrom); ok {
			em.SetName(protocol.KeyTo, name)
		}
		em.SetUint(protocol.KeyIdentity, uint64(identity))
		em.SetUint(protocol.KeyBroadcast, uint64(bscope))
		s.incDrops(1)
		s.routeOutbound(nowMs, em, bscope)
		return true
	}

	s.lastLocalTime = nowMs
	s.lastRemoteTimestamp = identity
	s.haveRemoteTimestamp = true
	s.controlTiming = true
	return false
}

// routeInbound hands a message the socket received to the Repeater.
func (s *Socket) routeInbound(nowMs int64, msg *protocol.Message, bscope protocol.Broadcast) {
	s.dispatch(nowMs, msg, bscope)
}

// routeOutbound hands a message the socket originated (a recovery or
// delay-filter error) to the Repeater, exactly as it would an inbound
// message of the same scope.
func (s *Socket) routeOutbound(nowMs int64, msg *protocol.Message, bscope protocol.Broadcast) {
	s.dispatch(nowMs, msg, bscope)
}

// dispatch picks the Repeater entry point: a down-linked socket pushes
// a Remote-scoped message further up, otherwise (Local/Self/None, or
// when the socket is up-linked) the message terminates at this hop.
func (s *Socket) dispatch(nowMs int64, msg *protocol.Message, bscope protocol.Broadcast) {
	if s.repeater == nil {
		return
	}
	if s.linkType == DownLinked && bscope == protocol.BroadcastRemote {
		s.repeater.SocketUplink(nowMs, s, msg)
		return
	}
	s.repeater.SocketDownlink(nowMs, s, msg)
}
