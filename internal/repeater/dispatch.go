package repeater

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsontalkie/jsontalkie/internal/protocol"
	"github.com/jsontalkie/jsontalkie/internal/socket"
	"github.com/jsontalkie/jsontalkie/internal/talker"
)

func effectiveKind(msg *protocol.Message) protocol.Kind {
	v, ok := msg.GetUint(protocol.KeyKind)
	if !ok || v > uint64(protocol.KindError) {
		return protocol.KindNoise
	}
	return protocol.Kind(v)
}

func readBroadcast(msg *protocol.Message, def protocol.Broadcast) protocol.Broadcast {
	if v, ok := msg.GetUint(protocol.KeyBroadcast); ok && v <= uint64(protocol.BroadcastSelf) {
		return protocol.Broadcast(v)
	}
	return def
}

// startDispatchSpan opens one span per dispatch entry point, tagged
// with the source and enough message fields (kind, identity, scope) to
// correlate the hops of a single exchange across spans.
func (r *Repeater) startDispatchSpan(name, from string, msg *protocol.Message) trace.Span {
	attrs := []attribute.KeyValue{
		attribute.String("from", from),
		attribute.String("message.kind", effectiveKind(msg).String()),
	}
	if id, ok := msg.GetUint(protocol.KeyIdentity); ok {
		attrs = append(attrs, attribute.Int("message.identity", int(id)))
	}
	if b, ok := msg.GetUint(protocol.KeyBroadcast); ok && b <= uint64(protocol.BroadcastSelf) {
		attrs = append(attrs, attribute.String("message.broadcast", protocol.Broadcast(b).String()))
	}
	_, span := r.tracer.Start(context.Background(), name, trace.WithAttributes(attrs...))
	return span
}

// emitToSockets checksum-stamps an independent copy of msg for each
// target (excluding skip, if non-nil) and hands it to
// Socket.FinishTransmission. Egress order equals declared order.
func (r *Repeater) emitToSockets(targets []*socket.Socket, msg *protocol.Message, skip *socket.Socket) bool {
	ok := true
	n := 0
	for _, s := range targets {
		if s == skip {
			continue
		}
		clone := msg.Clone()
		if err := s.FinishTransmission(&clone); err != nil {
			r.log.Warn("socket emission failed", "socket", s.Name(), "error", err)
			ok = false
		}
		n++
	}
	if n > 0 {
		r.observeFanout(n)
	}
	return ok
}

// fanoutTalkers dispatches msg to targets according to match, skipping
// skip (the originating Talker, if any). Any/ByChannel visit every
// eligible talker with its own copy of msg; ByName stops at the first
// matching name.
func (r *Repeater) fanoutTalkers(nowMs int64, targets []*talker.Talker, msg *protocol.Message, match protocol.MatchKind, skip *talker.Talker) bool {
	switch match {
	case protocol.MatchAny:
		ok := true
		n := 0
		for _, t := range targets {
			if t == skip {
				continue
			}
			clone := msg.Clone()
			if !t.Handle(nowMs, &clone, match) {
				ok = false
			}
			n++
		}
		if n > 0 {
			r.observeFanout(n)
		}
		return ok
	case protocol.MatchByChannel:
		chv, _ := msg.GetUint(protocol.KeyTo)
		ch := uint8(chv)
		ok := true
		n := 0
		for _, t := range targets {
			if t == skip || t.Channel() == talker.NoChannel || t.Channel() != ch {
				continue
			}
			clone := msg.Clone()
			if !t.Handle(nowMs, &clone, match) {
				ok = false
			}
			n++
		}
		if n > 0 {
			r.observeFanout(n)
		}
		return ok
	case protocol.MatchByName:
		name, ok := msg.GetName(protocol.KeyTo)
		if !ok {
			return true
		}
		for _, t := range targets {
			if t == skip || t.Name() != name {
				continue
			}
			clone := msg.Clone()
			r.observeFanout(1)
			return t.Handle(nowMs, &clone, match)
		}
		return true
	default: // MatchNone, MatchFail: no talker dispatch.
		return true
	}
}

// SocketDownlink implements socket.Repeater. Called for a message that
// stays at this hop: dispatch to down-linked talkers, then forward a
// checksum-stamped copy to every other down-linked socket.
func (r *Repeater) SocketDownlink(nowMs int64, from *socket.Socket, msg *protocol.Message) bool {
	span := r.startDispatchSpan("repeater.socket_downlink", from.Name(), msg)
	defer span.End()

	kind := effectiveKind(msg)
	match := msg.GetTalkerMatch(kind)
	span.SetAttributes(attribute.String("match", match.String()))

	ok := r.fanoutTalkers(nowMs, r.downTalkers, msg, match, nil)
	if !r.emitToSockets(r.downSockets, msg, from) {
		ok = false
	}
	span.SetAttributes(attribute.Bool("ok", ok))
	return ok
}

// SocketUplink implements socket.Repeater. Called by a down-linked
// socket with a Remote-scoped message: forward to every up-linked
// socket. A Local-scoped message instead fans out to the local talker
// set and any bridged up-linked sockets.
func (r *Repeater) SocketUplink(nowMs int64, from *socket.Socket, msg *protocol.Message) bool {
	span := r.startDispatchSpan("repeater.socket_uplink", from.Name(), msg)
	defer span.End()

	bscope := readBroadcast(msg, protocol.BroadcastRemote)
	var ok bool
	if bscope == protocol.BroadcastLocal {
		kind := effectiveKind(msg)
		match := msg.GetTalkerMatch(kind)
		span.SetAttributes(attribute.String("match", match.String()))
		ok = r.fanoutTalkers(nowMs, r.localTalkers, msg, match, nil)
		if !r.emitToSockets(r.bridgedUpSockets(), msg, from) {
			ok = false
		}
	} else {
		ok = r.emitToSockets(r.upSockets, msg, from)
	}
	span.SetAttributes(attribute.Bool("ok", ok))
	return ok
}

// TalkerDownlink implements talker.Repeater for a down-linked Talker's
// outbound message: Local scope fans out to the rest of the local
// talker set and emits on every down-linked socket and bridged
// up-linked socket; Self scope re-invokes the sender's own handler.
func (r *Repeater) TalkerDownlink(nowMs int64, from *talker.Talker, msg *protocol.Message) bool {
	span := r.startDispatchSpan("repeater.talker_downlink", from.Name(), msg)
	defer span.End()

	ok := r.talkerOriginated(nowMs, from, msg)
	span.SetAttributes(attribute.Bool("ok", ok))
	return ok
}

// TalkerUplink implements talker.Repeater for an up-linked Talker's
// outbound message: Remote scope emits on every up-linked socket;
// Local and Self scope behave exactly as TalkerDownlink.
func (r *Repeater) TalkerUplink(nowMs int64, from *talker.Talker, msg *protocol.Message) bool {
	span := r.startDispatchSpan("repeater.talker_uplink", from.Name(), msg)
	defer span.End()

	bscope := readBroadcast(msg, protocol.BroadcastRemote)
	var ok bool
	if bscope == protocol.BroadcastRemote {
		ok = r.emitToSockets(r.upSockets, msg, nil)
	} else {
		ok = r.talkerOriginated(nowMs, from, msg)
	}
	span.SetAttributes(attribute.Bool("ok", ok))
	return ok
}

// talkerOriginated implements the Local/Self fan-out shared by
// TalkerDownlink and TalkerUplink's non-Remote branches.
func (r *Repeater) talkerOriginated(nowMs int64, from *talker.Talker, msg *protocol.Message) bool {
	bscope := readBroadcast(msg, protocol.BroadcastLocal)
	kind := effectiveKind(msg)
	match := msg.GetTalkerMatch(kind)

	if bscope == protocol.BroadcastSelf {
		return from.Handle(nowMs, msg, match)
	}

	ok := r.fanoutTalkers(nowMs, r.localTalkers, msg, match, from)
	if !r.emitToSockets(r.downSockets, msg, nil) {
		ok = false
	}
	if !r.emitToSockets(r.bridgedUpSockets(), msg, nil) {
		ok = false
	}
	return ok
}
