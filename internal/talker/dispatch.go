package talker

import (
	"github.com/jsontalkie/jsontalkie/internal/manifesto"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

const maxActionIndex = 254

// handleCall resolves the action named or indexed by "a" against the
// bound Manifesto, invokes it, and converts the message into its Echo
// reply.
func (t *Talker) handleCall(nowMs int64, msg *protocol.Message, match protocol.MatchKind) bool {
	if t.manifesto == nil {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNoJoy))
		msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
		return t.replyUnlessMuted(nowMs, msg)
	}

	idx, found := t.resolveAction(msg)
	if !found {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerSayAgain))
		msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
		return t.replyUnlessMuted(nowMs, msg)
	}

	ok := t.manifesto.ActionByIndex(idx, t, msg, match)
	msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	if !ok {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNegative))
	}
	return t.replyUnlessMuted(nowMs, msg)
}

func (t *Talker) resolveAction(msg *protocol.Message) (int, bool) {
	switch msg.ValueType(protocol.KeyAction) {
	case protocol.ValueInt:
		v, ok := msg.GetUint(protocol.KeyAction)
		if !ok || v > maxActionIndex {
			return 0, false
		}
		idx := int(v)
		return idx, idx < len(t.manifesto.Actions())
	case protocol.ValueString:
		name, ok := msg.GetName(protocol.KeyAction)
		if !ok {
			return 0, false
		}
		return t.manifesto.IndexOf(name)
	default:
		return 0, false
	}
}

// replyUnlessMuted transmits msg unless the Talker is muted or the
// request asked for no reply.
func (t *Talker) replyUnlessMuted(nowMs int64, msg *protocol.Message) bool {
	if t.mutedCalls || msg.Has(protocol.KeyNoReply) {
		return true
	}
	return t.transmit(nowMs, msg)
}

// handleTalk replies to a Talk request with this Talker's description.
func (t *Talker) handleTalk(nowMs int64, msg *protocol.Message) bool {
	msg.SetFreeString('0', t.description)
	msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	return t.transmit(nowMs, msg)
}

// handleChannel reads or writes this Talker's channel number.
func (t *Talker) handleChannel(nowMs int64, msg *protocol.Message) bool {
	if msg.ValueType('0') == protocol.ValueInt {
		if v, ok := msg.GetUint('0'); ok && v <= 254 {
			t.channel = uint8(v)
		}
	} else {
		msg.SetUint('0', uint64(t.channel))
	}
	msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	return t.transmit(nowMs, msg)
}

// handlePing converts a Ping into its Echo; from/to are swapped by
// the generic prepare pass inside transmit.
func (t *Talker) handlePing(nowMs int64, msg *protocol.Message) bool {
	msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	return t.transmit(nowMs, msg)
}

// handleList emits one Echo per bound Manifesto action, in declared
// order, each carrying (0: index, 1: name, 2: description).
func (t *Talker) handleList(nowMs int64, msg *protocol.Message) bool {
	msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))

	if t.manifesto == nil {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNoJoy))
		return t.transmit(nowMs, msg)
	}

	actions := t.manifesto.Actions()
	if len(actions) == 0 {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNil))
		return t.transmit(nowMs, msg)
	}

	template := msg.Clone()
	ok := true
	for i, a := range actions {
		reply := template.Clone()
		reply.SetUint('0', uint64(i))
		reply.SetName('1', a.Name)
		reply.SetFreeString('2', a.Description)
		if !t.transmit(nowMs, &reply) {
			ok = false
		}
	}
	return ok
}

// handleSystem dispatches on the "s" sub-kind.
func (t *Talker) handleSystem(nowMs int64, msg *protocol.Message) bool {
	msg.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	sv, _ := msg.GetUint(protocol.KeySystem)

	switch protocol.SystemKind(sv) {
	case protocol.SystemBoard:
		if br, ok := t.manifesto.(manifesto.BoardReporter); ok {
			msg.SetFreeString('0', br.Board())
		} else {
			msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNoJoy))
		}
		return t.transmit(nowMs, msg)
	case protocol.SystemMute:
		if msg.ValueType('0') == protocol.ValueInt {
			if v, ok := msg.GetUint('0'); ok {
				t.mutedCalls = v != 0
			}
		}
		if t.mutedCalls {
			msg.SetUint('0', 1)
		} else {
			msg.SetUint('0', 0)
		}
		return t.transmit(nowMs, msg)
	case protocol.SystemManifesto:
		if t.manifesto == nil {
			msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNoJoy))
			return t.transmit(nowMs, msg)
		}
		msg.SetFreeString('0', t.manifesto.ClassDescription())
		return t.transmit(nowMs, msg)
	case protocol.SystemErrors, protocol.SystemDrops, protocol.SystemDelay, protocol.SystemSockets:
		return t.handleSocketIntrospection(nowMs, msg, protocol.SystemKind(sv))
	default:
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNoJoy))
		return t.transmit(nowMs, msg)
	}
}

// handleSocketIntrospection emits one Echo per Socket exposed by the
// Repeater, carrying (0: index, 1: socket name, 2: the counter or
// setting named by sub). Errors reports lost+fails, Drops the delay-
// filter drops, Delay the configured tolerance, Sockets the link type.
func (t *Talker) handleSocketIntrospection(nowMs int64, msg *protocol.Message, sub protocol.SystemKind) bool {
	if t.sockets == nil {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNoJoy))
		return t.transmit(nowMs, msg)
	}
	infos := t.sockets.Sockets()
	if len(infos) == 0 {
		msg.SetUint(protocol.KeyRoger, uint64(protocol.RogerNil))
		return t.transmit(nowMs, msg)
	}

	template := msg.Clone()
	ok := true
	for i, info := range infos {
		reply := template.Clone()
		reply.SetUint('0', uint64(i))
		reply.SetName('1', info.Name)
		var value uint64
		switch sub {
		case protocol.SystemErrors:
			value = uint64(info.Counters.Lost + info.Counters.Fails)
		case protocol.SystemDrops:
			value = uint64(info.Counters.Drops)
		case protocol.SystemDelay:
			value = uint64(info.MaxDelay)
		case protocol.SystemSockets:
			value = uint64(info.LinkType)
		}
		reply.SetUint('2', value)
		if !t.transmit(nowMs, &reply) {
			ok = false
		}
	}
	return ok
}

// handleEcho delegates a matched echo to the Manifesto's optional
// on_echo hook. It is only acted on for a ByName match whose identity
// pairs with this Talker's last transmitted outbound.
func (t *Talker) handleEcho(nowMs int64, msg *protocol.Message, match protocol.MatchKind) bool {
	if match != protocol.MatchByName || !t.haveTransmitted {
		return true
	}
	idv, ok := msg.GetUint(protocol.KeyIdentity)
	if !ok || uint16(idv) != t.lastIdentity {
		return true
	}
	if eh, ok := t.manifesto.(manifesto.EchoHandler); ok {
		eh.OnEcho(t, msg, match)
	}
	return true
}

// handleErrorKind completes end-to-end recovery (Checksum error
// pairing with the last transmitted identity re-sends the original
// bytes) or delegates to the Manifesto's optional on_error hook.
func (t *Talker) handleErrorKind(nowMs int64, msg *protocol.Message) bool {
	idv, haveID := msg.GetUint(protocol.KeyIdentity)
	ecv, haveErr := msg.GetUint(protocol.KeyError)

	if haveID && haveErr && t.haveTransmitted && uint16(idv) == t.lastIdentity &&
		protocol.ErrorCode(ecv) == protocol.ErrorChecksum {
		return t.retransmit(nowMs)
	}

	if eh, ok := t.manifesto.(manifesto.ErrorHandler); ok {
		eh.OnError(t, msg, protocol.MatchNone)
	}
	return true
}

// handleNoise synthesizes an Error reply when the Noise message
// carries both an error code and an identity to pair it with,
// otherwise delegates to the Manifesto's optional on_noise hook.
func (t *Talker) handleNoise(nowMs int64, msg *protocol.Message, match protocol.MatchKind) bool {
	if msg.Has(protocol.KeyError) && msg.Has(protocol.KeyIdentity) {
		ec, _ := msg.GetUint(protocol.KeyError)
		idv, _ := msg.GetUint(protocol.KeyIdentity)

		em := protocol.New()
		em.SetUint(protocol.KeyKind, uint64(protocol.KindError))
		em.SetUint(protocol.KeyError, ec)
		em.SetUint(protocol.KeyIdentity, idv)
		if f, ok := msg.GetName(protocol.KeyFrom); ok {
			em.SetName(protocol.KeyTo, f)
		}
		if b, ok := msg.GetUint(protocol.KeyBroadcast); ok {
			em.SetUint(protocol.KeyBroadcast, b)
		}
		return t.transmit(nowMs, em)
	}

	if nh, ok := t.manifesto.(manifesto.NoiseHandler); ok {
		nh.OnNoise(t, msg, match)
	}
	return true
}
