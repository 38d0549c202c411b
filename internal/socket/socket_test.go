package socket

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jsontalkie/jsontalkie/internal/loopback"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// fakeRepeater records every message handed to it by a Socket, playing
// the role internal/repeater.Repeater plays in production, without
// pulling in the talker-fanout machinery this package doesn't need to
// exercise.
type fakeRepeater struct {
	downlinked []*protocol.Message
	uplinked   []*protocol.Message
}

func (f *fakeRepeater) SocketDownlink(nowMs int64, from *Socket, msg *protocol.Message) bool {
	clone := msg.Clone()
	f.downlinked = append(f.downlinked, &clone)
	return true
}

func (f *fakeRepeater) SocketUplink(nowMs int64, from *Socket, msg *protocol.Message) bool {
	clone := msg.Clone()
	f.uplinked = append(f.uplinked, &clone)
	return true
}

func buildDatagram(t *testing.T, kind protocol.Kind, from, to string, identity uint16, b protocol.Broadcast) *protocol.Message {
	t.Helper()
	m := protocol.New()
	m.SetUint(protocol.KeyKind, uint64(kind))
	m.SetUint(protocol.KeyBroadcast, uint64(b))
	m.SetName(protocol.KeyFrom, from)
	if to != "" {
		m.SetName(protocol.KeyTo, to)
	}
	m.SetUint(protocol.KeyIdentity, uint64(identity))
	return m
}

func serialize(t *testing.T, m *protocol.Message) []byte {
	t.Helper()
	if !m.InsertChecksum() {
		t.Fatal("InsertChecksum overflowed the buffer")
	}
	data := make([]byte, m.Len())
	m.Serialize(data)
	return data
}

// corruptChecksumDigit flips the first digit of the trailing "c":N
// field to a different digit, leaving every structural byte (quotes,
// colon, braces) untouched. This produces a data-bad classification
// (checksum present and parseable, but wrong) without risking an
// unrelated structural break from a blind byte flip.
func corruptChecksumDigit(t *testing.T, data []byte) []byte {
	t.Helper()
	marker := []byte(`"c":`)
	idx := -1
	for i := 0; i+len(marker) < len(data); i++ {
		match := true
		for j, c := range marker {
			if data[i+j] != c {
				match = false
				break
			}
		}
		if match {
			idx = i + len(marker)
			break
		}
	}
	if idx < 0 || idx >= len(data) {
		t.Fatal("could not locate the \"c\" field in the serialized datagram")
	}
	out := make([]byte, len(data))
	copy(out, data)
	out[idx] = '0' + (out[idx]-'0'+1)%10
	return out
}

func TestFinishTransmissionStampsChecksum(t *testing.T) {
	wire := loopback.New()
	s := New("wire0", DownLinked, wire)

	m := buildDatagram(t, protocol.KindPing, "alpha", "beta", 100, protocol.BroadcastLocal)
	if err := s.FinishTransmission(m); err != nil {
		t.Fatalf("FinishTransmission: %v", err)
	}

	sent := wire.Sent()
	if len(sent) != 1 {
		t.Fatalf("wire.Sent() has %d datagrams, want 1", len(sent))
	}
	out := protocol.New()
	if !out.Deserialize(sent[0]) {
		t.Fatal("sent datagram failed to deserialize")
	}
	if !out.ValidateChecksum() {
		t.Error("sent datagram has an invalid checksum")
	}
}

// TestChecksumMismatchArmsRecoveryAndEmitsError: a receiver getting a
// message with a wrong checksum but a parseable identity classifies it
// as data-bad, arms a recovery record, and emits an Error{Checksum}
// back onto the fabric.
func TestChecksumMismatchArmsRecoveryAndEmitsError(t *testing.T) {
	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire)
	s.SetRepeater(rep)

	m := buildDatagram(t, protocol.KindCall, "ctrl", "led", 201, protocol.BroadcastLocal)
	m.SetName(protocol.KeyAction, "off")
	data := corruptChecksumDigit(t, serialize(t, m))

	s.OnInbound(1000, data)

	if len(rep.downlinked) != 1 {
		t.Fatalf("repeater saw %d downlinked messages, want 1 (the recovery error)", len(rep.downlinked))
	}
	errMsg := rep.downlinked[0]
	kv, _ := errMsg.GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindError {
		t.Errorf("emitted kind = %v, want Error", protocol.Kind(kv))
	}
	ec, _ := errMsg.GetUint(protocol.KeyError)
	if protocol.ErrorCode(ec) != protocol.ErrorChecksum {
		t.Errorf("emitted error code = %v, want Checksum", protocol.ErrorCode(ec))
	}
	if s.Counters().Lost != 0 {
		t.Errorf("Lost = %d, want 0 (a recoverable corruption is not yet lost)", s.Counters().Lost)
	}
}

// TestUnrecoverableCorruptionIsLost covers the case where both checksum
// and identity are missing or unparseable: the message is dropped
// outright and counted as lost, with no recovery attempt emitted.
func TestUnrecoverableCorruptionIsLost(t *testing.T) {
	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire)
	s.SetRepeater(rep)

	m := protocol.New()
	m.SetUint(protocol.KeyKind, uint64(protocol.KindPing))
	m.SetName(protocol.KeyFrom, "alphabetsoup123") // 15 chars: pushes length past the 19-byte floor
	// No "i" and no "c": both classification anchors are absent.
	data := make([]byte, m.Len())
	m.Serialize(data)
	if len(data) < 19 {
		t.Fatalf("test datagram is %d bytes, want >= 19 to exercise ValidateJSON's floor", len(data))
	}

	s.OnInbound(1000, data)

	if s.Counters().Lost != 1 {
		t.Fatalf("Lost = %d, want 1", s.Counters().Lost)
	}
	if len(rep.downlinked)+len(rep.uplinked) != 0 {
		t.Error("an unrecoverable message must not reach the Repeater")
	}
}

// TestRecoveryTagClearsCorruptionRecord: a matching M-tagged reply
// increments recoveries and clears the outstanding corruption record.
// It uses a checksum-missing corruption (whose match rule needs only a
// matching identity) so the retransmission can carry a genuinely valid
// checksum without needing to reproduce the original corruption.
func TestRecoveryTagClearsCorruptionRecord(t *testing.T) {
	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire)
	s.SetRepeater(rep)

	bad := buildDatagram(t, protocol.KindCall, "ctrl", "led", 201, protocol.BroadcastLocal)
	bad.SetName(protocol.KeyAction, "off")
	badData := make([]byte, bad.Len())
	bad.Serialize(badData) // no InsertChecksum: "c" is absent entirely
	s.OnInbound(1000, badData)
	if s.Counters().Lost != 0 {
		t.Fatalf("Lost = %d, want 0 after arming recovery", s.Counters().Lost)
	}

	retry := buildDatagram(t, protocol.KindCall, "ctrl", "led", 201, protocol.BroadcastLocal)
	retry.SetName(protocol.KeyAction, "off")
	// Tag as a recovery reply before stamping: the checksum must cover
	// the buffer as it will actually arrive, "M" key and all.
	retry.ReplaceKey(protocol.KeyKind, protocol.KeyRecovery)
	retry.InsertChecksum()
	retryData := make([]byte, retry.Len())
	retry.Serialize(retryData)

	s.OnInbound(1010, retryData)

	if s.Counters().Recoveries != 1 {
		t.Errorf("Recoveries = %d, want 1", s.Counters().Recoveries)
	}
	// One more downlinked message: the matched-recovery datagram itself
	// (now routed as a normal Call), beyond the earlier Error.
	if len(rep.downlinked) != 2 {
		t.Fatalf("repeater saw %d downlinked messages, want 2 (error + recovered call)", len(rep.downlinked))
	}
	kv, _ := rep.downlinked[1].GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindCall {
		t.Errorf("recovered datagram kind = %v, want Call (the M tag must convert back to m)", protocol.Kind(kv))
	}
}

// TestDelayFilterDropsOutOfOrderCall: a second Call whose identity
// moves backwards beyond the delay tolerance is dropped with an
// Error{Delay} reply, not forwarded to the Repeater.
func TestDelayFilterDropsOutOfOrderCall(t *testing.T) {
	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire, WithMaxDelay(5))
	s.SetRepeater(rep)

	first := buildDatagram(t, protocol.KindCall, "ctrl", "led", 300, protocol.BroadcastLocal)
	s.OnInbound(1000, serialize(t, first))
	if len(rep.downlinked) != 1 {
		t.Fatalf("first call: repeater saw %d messages, want 1", len(rep.downlinked))
	}

	second := buildDatagram(t, protocol.KindCall, "ctrl", "led", 290, protocol.BroadcastLocal)
	s.OnInbound(1001, serialize(t, second))

	if s.Counters().Drops != 1 {
		t.Fatalf("Drops = %d, want 1", s.Counters().Drops)
	}
	if len(rep.downlinked) != 2 {
		t.Fatalf("repeater saw %d messages after the dropped call, want 2 (first call + Delay error)", len(rep.downlinked))
	}
	errMsg := rep.downlinked[1]
	kv, _ := errMsg.GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindError {
		t.Errorf("second call's reply kind = %v, want Error", protocol.Kind(kv))
	}
	ec, _ := errMsg.GetUint(protocol.KeyError)
	if protocol.ErrorCode(ec) != protocol.ErrorDelay {
		t.Errorf("error code = %v, want Delay", protocol.ErrorCode(ec))
	}
}

// TestReconstructionRecoversFlippedColon exercises the "last resort"
// repair path: a single flipped key-delimiter byte that would
// otherwise make the whole buffer unparseable (and thus unrecoverable)
// is repaired by TryToReconstruct before the socket gives up.
func TestReconstructionRecoversFlippedColon(t *testing.T) {
	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire)
	s.SetRepeater(rep)

	m := buildDatagram(t, protocol.KindPing, "alpha", "beta", 123, protocol.BroadcastLocal)
	data := serialize(t, m)

	out := protocol.New()
	out.Deserialize(data)
	idx := -1
	for i := 0; i+3 < len(data); i++ {
		if data[i] == '"' && data[i+1] == protocol.KeyIdentity && data[i+2] == '"' && data[i+3] == ':' {
			idx = i + 3
			break
		}
	}
	if idx < 0 {
		t.Fatal("could not locate the \"i\" field's colon in the serialized datagram")
	}
	data[idx] = 'X' // flip the colon; the digit that follows still looks like a value start

	s.OnInbound(1000, data)

	if len(rep.downlinked) != 1 {
		t.Fatalf("repeater saw %d messages, want 1 (reconstruction should recover the Ping)", len(rep.downlinked))
	}
	kv, _ := rep.downlinked[0].GetUint(protocol.KeyKind)
	if protocol.Kind(kv) != protocol.KindPing {
		t.Errorf("recovered kind = %v, want Ping", protocol.Kind(kv))
	}
	if s.Counters().Lost != 0 {
		t.Errorf("Lost = %d, want 0 (reconstruction should avoid an unrecoverable drop)", s.Counters().Lost)
	}
}

// TestOnInboundEmitsSpanWithOutcomeAttributes checks the ingress span:
// a clean datagram produces one "socket.on_inbound" span tagged ok, a
// corrupted one produces a span tagged with the corruption class.
func TestOnInboundEmitsSpanWithOutcomeAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire, WithTracer(tp.Tracer("test")))
	s.SetRepeater(rep)

	clean := buildDatagram(t, protocol.KindPing, "alpha", "beta", 42, protocol.BroadcastLocal)
	s.OnInbound(1000, serialize(t, clean))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exporter has %d spans after a clean receipt, want 1", len(spans))
	}
	if spans[0].Name != "socket.on_inbound" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "socket.on_inbound")
	}
	okTagged := false
	for _, kv := range spans[0].Attributes {
		if kv.Key == "ok" && kv.Value.AsBool() {
			okTagged = true
		}
	}
	if !okTagged {
		t.Error("clean receipt span is missing the ok attribute")
	}
	exporter.Reset()

	bad := buildDatagram(t, protocol.KindCall, "ctrl", "led", 43, protocol.BroadcastLocal)
	s.OnInbound(1001, corruptChecksumDigit(t, serialize(t, bad)))

	spans = exporter.GetSpans()
	// Only the ingress span: the Error{Checksum} emission goes through
	// the fake repeater, not a traced socket egress.
	if len(spans) != 1 {
		t.Fatalf("exporter has %d spans after a corrupted receipt, want 1", len(spans))
	}
	var errType string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "error.type" {
			errType = kv.Value.AsString()
		}
	}
	if errType != "data-bad" {
		t.Errorf("error.type = %q, want %q", errType, "data-bad")
	}
}

func TestTickExpiresStaleCorruptionRecord(t *testing.T) {
	wire := loopback.New()
	rep := &fakeRepeater{}
	s := New("wire0", DownLinked, wire)
	s.SetRepeater(rep)

	bad := buildDatagram(t, protocol.KindCall, "ctrl", "led", 201, protocol.BroadcastLocal)
	bad.SetName(protocol.KeyAction, "off")
	data := corruptChecksumDigit(t, serialize(t, bad))
	s.OnInbound(1000, data)
	if !s.corrupted.active {
		t.Fatal("expected an armed corruption record")
	}

	s.Tick(1000 + 101) // past RecoveryTTLMs (100)

	if s.corrupted.active {
		t.Error("corruption record should have expired after RecoveryTTLMs")
	}
}
