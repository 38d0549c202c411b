// Package builtin provides ready-to-use Manifesto implementations
// standing in for the device-specific manifestos (buzzer, LED,
// relay, ...) that are out of scope for this module: a host-
// identifying manifesto and a minimal echo/example manifesto, used by
// the demo command and by tests.
package builtin

import (
	"github.com/jsontalkie/jsontalkie/internal/boardinfo"
	"github.com/jsontalkie/jsontalkie/internal/manifesto"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// HostManifesto exposes the running host as a Talker's action set: an
// "identify" action returning the gopsutil-derived board descriptor,
// and answers System/Board with the same descriptor.
type HostManifesto struct {
	*manifesto.BaseManifesto
}

// NewHostManifesto builds a HostManifesto with its actions registered.
func NewHostManifesto() *HostManifesto {
	h := &HostManifesto{BaseManifesto: manifesto.NewBaseManifesto("HostManifesto")}
	h.MustRegister("identify", "Report host OS/platform/arch", h.identify)
	return h
}

func (h *HostManifesto) identify(t manifesto.TalkerView, msg *protocol.Message, match protocol.MatchKind) bool {
	return msg.SetFreeString('0', boardinfo.Describe())
}

// Board implements manifesto.BoardReporter.
func (h *HostManifesto) Board() string { return boardinfo.Describe() }
