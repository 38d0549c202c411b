package talker

import (
	"testing"

	"github.com/jsontalkie/jsontalkie/internal/manifesto"
	"github.com/jsontalkie/jsontalkie/internal/manifesto/builtin"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
	"github.com/jsontalkie/jsontalkie/internal/socket"
)

type fakeRepeater struct {
	downlinkCalls int
	uplinkCalls   int
	lastMsg       protocol.Message
	result        bool
}

func newFakeRepeater() *fakeRepeater { return &fakeRepeater{result: true} }

func (f *fakeRepeater) TalkerDownlink(nowMs int64, from *Talker, msg *protocol.Message) bool {
	f.downlinkCalls++
	f.lastMsg = msg.Clone()
	return f.result
}

func (f *fakeRepeater) TalkerUplink(nowMs int64, from *Talker, msg *protocol.Message) bool {
	f.uplinkCalls++
	f.lastMsg = msg.Clone()
	return f.result
}

type fakeSocketSource struct {
	infos []SocketInfo
}

func (f *fakeSocketSource) Sockets() []SocketInfo { return f.infos }

func buildMsg(t *testing.T, kind protocol.Kind, from, to string, b protocol.Broadcast) protocol.Message {
	t.Helper()
	m := protocol.New()
	m.SetUint(protocol.KeyKind, uint64(kind))
	m.SetUint(protocol.KeyBroadcast, uint64(b))
	m.SetName(protocol.KeyFrom, from)
	m.SetName(protocol.KeyTo, to)
	m.SetUint(protocol.KeyIdentity, 100)
	return *m
}

func TestHandlePingReplyIsEchoAddressedBack(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "alpha talker", nil)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindPing, "peer", "alpha", protocol.BroadcastLocal)
	if !tk.Handle(1000, &msg, protocol.MatchNone) {
		t.Fatal("Handle returned false")
	}
	if rep.downlinkCalls != 1 {
		t.Fatalf("downlinkCalls = %d, want 1", rep.downlinkCalls)
	}
	kv, _ := rep.lastMsg.GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindEcho {
		t.Errorf("reply kind = %v, want Echo", protocol.Kind(kv))
	}
	from, _ := rep.lastMsg.GetName(protocol.KeyFrom)
	to, _ := rep.lastMsg.GetName(protocol.KeyTo)
	if from != "alpha" || to != "peer" {
		t.Errorf("reply f/t = %q/%q, want alpha/peer", from, to)
	}
	if !rep.lastMsg.Has(protocol.KeyIdentity) {
		t.Error("reply is missing a stamped identity")
	}
}

func TestHandleTalkRepliesWithDescription(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "a test talker", nil)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindTalk, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchNone)

	desc, ok := rep.lastMsg.GetFreeString('0')
	if !ok || desc != "a test talker" {
		t.Errorf("GetFreeString('0') = %q, %v, want %q, true", desc, ok, "a test talker")
	}
}

func TestHandleChannelSetAndRead(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil, WithChannel(3))
	tk.SetRepeater(rep)

	// Read.
	msg := buildMsg(t, protocol.KindChannel, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchNone)
	v, ok := rep.lastMsg.GetUint('0')
	if !ok || v != 3 {
		t.Errorf("read channel = %d, %v, want 3, true", v, ok)
	}

	// Write.
	msg2 := buildMsg(t, protocol.KindChannel, "peer", "alpha", protocol.BroadcastLocal)
	msg2.SetUint('0', 9)
	tk.Handle(2, &msg2, protocol.MatchNone)
	if tk.Channel() != 9 {
		t.Errorf("Channel() = %d, want 9", tk.Channel())
	}
}

func TestHandleCallResolvesRegisteredAction(t *testing.T) {
	rep := newFakeRepeater()
	echo := builtin.NewEchoManifesto()
	tk := New("alpha", "", echo)
	tk.SetRepeater(rep)

	idx, ok := echo.IndexOf("ping")
	if !ok {
		t.Fatal("ping action not registered")
	}
	msg := buildMsg(t, protocol.KindCall, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetUint(protocol.KeyAction, uint64(idx))
	tk.Handle(1, &msg, protocol.MatchByName)

	kv, _ := rep.lastMsg.GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindEcho {
		t.Errorf("reply kind = %v, want Echo", protocol.Kind(kv))
	}
	if rep.lastMsg.Has(protocol.KeyRoger) {
		t.Errorf("expected no Roger on a successful call, got one")
	}
	if echo.Pings() != 1 {
		t.Errorf("Pings() = %d, want 1", echo.Pings())
	}
}

func TestHandleCallUnknownActionRepliesSayAgain(t *testing.T) {
	rep := newFakeRepeater()
	echo := builtin.NewEchoManifesto()
	tk := New("alpha", "", echo)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindCall, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetName(protocol.KeyAction, "does_not_exist")
	tk.Handle(1, &msg, protocol.MatchByName)

	rv, ok := rep.lastMsg.GetUint(protocol.KeyRoger)
	if !ok || protocol.Roger(rv) != protocol.RogerSayAgain {
		t.Errorf("Roger = %v, %v, want SayAgain", protocol.Roger(rv), ok)
	}
}

func TestHandleCallWithNilManifestoRepliesNoJoy(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindCall, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchByName)

	rv, ok := rep.lastMsg.GetUint(protocol.KeyRoger)
	if !ok || protocol.Roger(rv) != protocol.RogerNoJoy {
		t.Errorf("Roger = %v, %v, want NoJoy", protocol.Roger(rv), ok)
	}
}

func TestHandleCallFailedActionRepliesNegative(t *testing.T) {
	rep := newFakeRepeater()
	echo := builtin.NewEchoManifesto()
	tk := New("alpha", "", echo)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindCall, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetName(protocol.KeyAction, "fail")
	tk.Handle(1, &msg, protocol.MatchByName)

	kv, _ := rep.lastMsg.GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindEcho {
		t.Errorf("reply kind = %v, want Echo", protocol.Kind(kv))
	}
	rv, ok := rep.lastMsg.GetUint(protocol.KeyRoger)
	if !ok || protocol.Roger(rv) != protocol.RogerNegative {
		t.Errorf("Roger = %v, %v, want Negative", protocol.Roger(rv), ok)
	}
}

func TestMutedCallsSuppressReply(t *testing.T) {
	rep := newFakeRepeater()
	echo := builtin.NewEchoManifesto()
	tk := New("alpha", "", echo)
	tk.SetRepeater(rep)
	tk.SetMutedCalls(true)

	idx, _ := echo.IndexOf("ping")
	msg := buildMsg(t, protocol.KindCall, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetUint(protocol.KeyAction, uint64(idx))
	tk.Handle(1, &msg, protocol.MatchByName)

	if rep.downlinkCalls != 0 {
		t.Errorf("downlinkCalls = %d, want 0 while muted", rep.downlinkCalls)
	}
}

func TestHandleListEmitsOneEchoPerAction(t *testing.T) {
	rep := newFakeRepeater()
	echo := builtin.NewEchoManifesto()
	tk := New("alpha", "", echo)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindList, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchByName)

	if rep.downlinkCalls != len(echo.Actions()) {
		t.Errorf("downlinkCalls = %d, want %d (one per action)", rep.downlinkCalls, len(echo.Actions()))
	}
}

func TestHandleListEmptyManifestoRepliesNil(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", manifesto.NewBaseManifesto("Empty"))
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindList, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchByName)

	rv, ok := rep.lastMsg.GetUint(protocol.KeyRoger)
	if !ok || protocol.Roger(rv) != protocol.RogerNil {
		t.Errorf("Roger = %v, %v, want Nil for an empty manifesto", protocol.Roger(rv), ok)
	}
}

func TestHandleSystemBoardDelegatesToBoardReporter(t *testing.T) {
	rep := newFakeRepeater()
	host := builtin.NewHostManifesto()
	tk := New("alpha", "", host)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindSystem, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetUint(protocol.KeySystem, uint64(protocol.SystemBoard))
	tk.Handle(1, &msg, protocol.MatchByName)

	desc, ok := rep.lastMsg.GetFreeString('0')
	if !ok || desc == "" {
		t.Errorf("GetFreeString('0') = %q, %v, want a non-empty board descriptor", desc, ok)
	}
}

func TestHandleSystemManifestoReportsClassDescription(t *testing.T) {
	rep := newFakeRepeater()
	echo := builtin.NewEchoManifesto()
	tk := New("alpha", "", echo)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindSystem, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetUint(protocol.KeySystem, uint64(protocol.SystemManifesto))
	tk.Handle(1, &msg, protocol.MatchByName)

	desc, ok := rep.lastMsg.GetFreeString('0')
	if !ok || desc != "EchoManifesto" {
		t.Errorf("GetFreeString('0') = %q, %v, want %q", desc, ok, "EchoManifesto")
	}
}

func TestHandleSystemSocketsUsesSocketSource(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil, WithSocketSource(&fakeSocketSource{infos: []SocketInfo{
		{Name: "wire0", LinkType: socket.DownLinked, MaxDelay: 5},
	}}))
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindSystem, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetUint(protocol.KeySystem, uint64(protocol.SystemSockets))
	tk.Handle(1, &msg, protocol.MatchByName)

	name, ok := rep.lastMsg.GetName('1')
	if !ok || name != "wire0" {
		t.Errorf("GetName('1') = %q, %v, want %q", name, ok, "wire0")
	}
}

func TestHandleSystemSocketsNoSourceRepliesNoJoy(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindSystem, "peer", "alpha", protocol.BroadcastLocal)
	msg.SetUint(protocol.KeySystem, uint64(protocol.SystemSockets))
	tk.Handle(1, &msg, protocol.MatchByName)

	rv, ok := rep.lastMsg.GetUint(protocol.KeyRoger)
	if !ok || protocol.Roger(rv) != protocol.RogerNoJoy {
		t.Errorf("Roger = %v, %v, want NoJoy", protocol.Roger(rv), ok)
	}
}

func TestHandleEchoOnlyActsOnMatchedIdentity(t *testing.T) {
	rep := newFakeRepeater()
	hooked := &hookedManifesto{BaseManifesto: manifesto.NewBaseManifesto("Hooked")}
	tk := New("alpha", "", hooked)
	tk.SetRepeater(rep)

	// First, originate an outbound ping so lastIdentity/haveTransmitted
	// is set.
	out := buildMsg(t, protocol.KindPing, "alpha", "peer", protocol.BroadcastLocal)
	tk.Transmit(1000, &out)

	identity, _ := rep.lastMsg.GetUint(protocol.KeyIdentity)

	reply := protocol.New()
	reply.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	reply.SetUint(protocol.KeyIdentity, identity)
	reply.SetName(protocol.KeyFrom, "peer")
	reply.SetName(protocol.KeyTo, "alpha")
	tk.Handle(1001, reply, protocol.MatchByName)

	if !hooked.echoCalled {
		t.Error("expected OnEcho to be invoked for a matched identity")
	}
}

func TestHandleEchoIgnoresUnmatchedIdentity(t *testing.T) {
	rep := newFakeRepeater()
	hooked := &hookedManifesto{BaseManifesto: manifesto.NewBaseManifesto("Hooked")}
	tk := New("alpha", "", hooked)
	tk.SetRepeater(rep)

	reply := protocol.New()
	reply.SetUint(protocol.KeyKind, uint64(protocol.KindEcho))
	reply.SetUint(protocol.KeyIdentity, 42)
	reply.SetName(protocol.KeyFrom, "peer")
	reply.SetName(protocol.KeyTo, "alpha")
	tk.Handle(1, reply, protocol.MatchByName)

	if hooked.echoCalled {
		t.Error("OnEcho should not fire without a prior transmitted message")
	}
}

func TestHandleErrorChecksumRetransmitsOriginalBytes(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil)
	tk.SetRepeater(rep)

	out := buildMsg(t, protocol.KindPing, "alpha", "peer", protocol.BroadcastLocal)
	tk.Transmit(1000, &out)
	firstSent := rep.lastMsg.Clone()
	identity, _ := firstSent.GetUint(protocol.KeyIdentity)

	errMsg := protocol.New()
	errMsg.SetUint(protocol.KeyKind, uint64(protocol.KindError))
	errMsg.SetUint(protocol.KeyError, uint64(protocol.ErrorChecksum))
	errMsg.SetUint(protocol.KeyIdentity, identity)
	tk.Handle(1001, errMsg, protocol.MatchByName)

	secondKind, _ := rep.lastMsg.GetUint(protocol.KeyKind)
	secondIdentity, _ := rep.lastMsg.GetUint(protocol.KeyIdentity)
	if protocol.Kind(secondKind) != protocol.KindPing {
		t.Errorf("retransmitted kind = %v, want the original Ping", protocol.Kind(secondKind))
	}
	if secondIdentity != identity {
		t.Errorf("retransmitted identity = %d, want %d (unchanged)", secondIdentity, identity)
	}
}

func TestHandleNoiseWithErrorAndIdentitySynthesizesErrorReply(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil)
	tk.SetRepeater(rep)

	msg := protocol.New()
	msg.SetUint(protocol.KeyError, uint64(protocol.ErrorField))
	msg.SetUint(protocol.KeyIdentity, 7)
	msg.SetName(protocol.KeyFrom, "peer")

	tk.Handle(1, msg, protocol.MatchNone)

	kv, _ := rep.lastMsg.GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindError {
		t.Errorf("synthesized reply kind = %v, want Error", protocol.Kind(kv))
	}
	to, _ := rep.lastMsg.GetName(protocol.KeyTo)
	if to != "peer" {
		t.Errorf("synthesized reply To = %q, want %q", to, "peer")
	}
}

func TestPrepareSwapsWhenFromIsNotSelf(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindPing, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchNone)

	from, _ := rep.lastMsg.GetName(protocol.KeyFrom)
	if from != "alpha" {
		t.Errorf("From = %q, want %q", from, "alpha")
	}
}

func TestTransmitChoosesUplinkForRemoteBroadcast(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil)
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindPing, "peer", "alpha", protocol.BroadcastRemote)
	tk.Handle(1, &msg, protocol.MatchNone)

	if rep.uplinkCalls != 1 || rep.downlinkCalls != 0 {
		t.Errorf("uplinkCalls=%d downlinkCalls=%d, want 1, 0", rep.uplinkCalls, rep.downlinkCalls)
	}
}

func TestTransmitChoosesUplinkForUpLinkedTalker(t *testing.T) {
	rep := newFakeRepeater()
	tk := New("alpha", "", nil, WithUpLinked())
	tk.SetRepeater(rep)

	msg := buildMsg(t, protocol.KindPing, "peer", "alpha", protocol.BroadcastLocal)
	tk.Handle(1, &msg, protocol.MatchNone)

	if rep.uplinkCalls != 1 {
		t.Errorf("uplinkCalls = %d, want 1 for an up-linked talker", rep.uplinkCalls)
	}
}

// hookedManifesto records whether its optional Echo hook fired.
type hookedManifesto struct {
	*manifesto.BaseManifesto
	echoCalled bool
}

func (h *hookedManifesto) OnEcho(t manifesto.TalkerView, msg *protocol.Message, match protocol.MatchKind) {
	h.echoCalled = true
}
