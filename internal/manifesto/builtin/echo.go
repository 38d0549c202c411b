package builtin

import (
	"github.com/jsontalkie/jsontalkie/internal/manifesto"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// EchoManifesto is a minimal two-action manifesto used by tests and
// the demo command in place of a real device manifesto: "ping" always
// succeeds, "fail" always fails, exercising both Roger outcomes of a
// Call.
type EchoManifesto struct {
	*manifesto.BaseManifesto
	pings int
}

// NewEchoManifesto builds an EchoManifesto with its actions registered.
func NewEchoManifesto() *EchoManifesto {
	e := &EchoManifesto{BaseManifesto: manifesto.NewBaseManifesto("EchoManifesto")}
	e.MustRegister("ping", "Always succeeds", e.ping)
	e.MustRegister("fail", "Always fails", e.fail)
	return e
}

func (e *EchoManifesto) ping(t manifesto.TalkerView, msg *protocol.Message, match protocol.MatchKind) bool {
	e.pings++
	msg.SetUint('0', uint64(e.pings))
	return true
}

func (e *EchoManifesto) fail(t manifesto.TalkerView, msg *protocol.Message, match protocol.MatchKind) bool {
	return false
}

// Pings returns how many times "ping" has been invoked.
func (e *EchoManifesto) Pings() int { return e.pings }
