// Package manifesto defines the host-supplied action registry a Talker
// binds to: an ordered list of named actions plus optional hooks for
// echo, error, noise and per-tick housekeeping.
package manifesto

import (
	"fmt"

	"github.com/jsontalkie/jsontalkie/internal/config"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
)

// Action describes one callable exposed by a Manifesto.
type Action struct {
	Name        string
	Description string
}

// combinedLen is the name+description budget enforced on every Action
// a Manifesto reports, so List replies always fit the envelope.
func (a Action) combinedLen() int { return len(a.Name) + len(a.Description) }

// TalkerView is the subset of Talker state a Manifesto callback may
// read or mutate. internal/talker.Talker satisfies this; the
// manifesto package never imports internal/talker to avoid a cycle.
type TalkerView interface {
	Name() string
	Channel() uint8
	SetChannel(uint8)
	MutedCalls() bool
	SetMutedCalls(bool)
}

// Manifesto is the interface a host implementation satisfies to
// expose actions to a Talker. A nil Manifesto is valid: the bound
// Talker then answers Call, List, System/Board and System/Manifesto
// with r=NoJoy, and still answers Talk/Channel/Ping, System/Mute and
// the socket-introspection System sub-commands.
type Manifesto interface {
	// Actions returns the ordered action list. Implementations MUST
	// keep len(Actions()) <= 255.
	Actions() []Action
	// ActionByIndex performs action idx's side effect, mutating msg as
	// needed. It returns false to signal failure (turns into r=Negative).
	ActionByIndex(idx int, t TalkerView, msg *protocol.Message, match protocol.MatchKind) bool
	// IndexOf returns the index of the named action, or false if absent.
	IndexOf(name string) (int, bool)
	// ClassDescription names the manifesto's kind, <= 42 chars, for
	// System/Manifesto introspection.
	ClassDescription() string
}

// Ticker is an optional hook invoked once per Repeater tick.
type Ticker interface {
	Tick(t TalkerView)
}

// EchoHandler is an optional hook for a matched Echo (match ==
// protocol.MatchByName and the identity matches the Talker's last
// transmitted message).
type EchoHandler interface {
	OnEcho(t TalkerView, msg *protocol.Message, match protocol.MatchKind)
}

// ErrorHandler is an optional hook for an Error message that does not
// pair with a tracked outbound Checksum recovery.
type ErrorHandler interface {
	OnError(t TalkerView, msg *protocol.Message, match protocol.MatchKind)
}

// NoiseHandler is an optional hook for Noise messages that do not
// carry both an error code and an identity to synthesize a reply from.
type NoiseHandler interface {
	OnNoise(t TalkerView, msg *protocol.Message, match protocol.MatchKind)
}

// BoardReporter is an optional hook answering System/Board
// introspection with a host-identifying descriptor string.
type BoardReporter interface {
	Board() string
}

// ValidationError reports an action list that violates the wire's
// length budgets, or a duplicate action name; returned by CheckActions
// and by BaseManifesto.Register (MustRegister panics with it).
type ValidationError struct {
	Action  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifesto action %q: %s", e.Action, e.Message)
}

// CheckActions validates that every action fits the combined
// name+description budget and that the list itself fits in a byte.
// Hosts building a custom Manifesto should call this once at
// construction time; BaseManifesto does so automatically.
func CheckActions(actions []Action) error {
	if len(actions) > 255 {
		return &ValidationError{Message: fmt.Sprintf("%d actions exceeds the 255 limit", len(actions))}
	}
	for _, a := range actions {
		if a.combinedLen() > config.MaxActionNameDescLen {
			return &ValidationError{Action: a.Name, Message: "name+description exceeds the 40-char budget"}
		}
	}
	return nil
}
