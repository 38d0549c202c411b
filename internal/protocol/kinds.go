// Package protocol implements the JsonMessage wire codec: a bounded
// byte buffer holding one flat JSON object with single-character keys,
// parsed and mutated in place without ever building an intermediate
// object tree.
package protocol

import "fmt"

// Kind is the message-kind value carried in the "m" (or "M", its
// recovery-tagged variant) field. Values are fixed for wire
// compatibility; never renumber them.
type Kind uint8

const (
	KindNoise   Kind = 0
	KindTalk    Kind = 1
	KindChannel Kind = 2
	KindPing    Kind = 3
	KindCall    Kind = 4
	KindList    Kind = 5
	KindSystem  Kind = 6
	KindEcho    Kind = 7
	KindError   Kind = 8
)

func (k Kind) String() string {
	switch k {
	case KindNoise:
		return "Noise"
	case KindTalk:
		return "Talk"
	case KindChannel:
		return "Channel"
	case KindPing:
		return "Ping"
	case KindCall:
		return "Call"
	case KindList:
		return "List"
	case KindSystem:
		return "System"
	case KindEcho:
		return "Echo"
	case KindError:
		return "Error"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Broadcast is the scope carried in the "b" field.
type Broadcast uint8

const (
	BroadcastNone   Broadcast = 0
	BroadcastRemote Broadcast = 1
	BroadcastLocal  Broadcast = 2
	BroadcastSelf   Broadcast = 3
)

func (b Broadcast) String() string {
	switch b {
	case BroadcastNone:
		return "None"
	case BroadcastRemote:
		return "Remote"
	case BroadcastLocal:
		return "Local"
	case BroadcastSelf:
		return "Self"
	default:
		return fmt.Sprintf("Broadcast(%d)", uint8(b))
	}
}

// Roger is the "r" reply modifier attached to a successful Echo.
type Roger uint8

const (
	RogerRoger    Roger = 0
	RogerNegative Roger = 1
	RogerSayAgain Roger = 2
	RogerNil      Roger = 3
	RogerNoJoy    Roger = 4
)

func (r Roger) String() string {
	switch r {
	case RogerRoger:
		return "Roger"
	case RogerNegative:
		return "Negative"
	case RogerSayAgain:
		return "SayAgain"
	case RogerNil:
		return "Nil"
	case RogerNoJoy:
		return "NoJoy"
	default:
		return fmt.Sprintf("Roger(%d)", uint8(r))
	}
}

// ErrorCode is the "e" field carried by an Error kind message.
type ErrorCode uint8

const (
	ErrorUndefined ErrorCode = 0
	ErrorChecksum  ErrorCode = 1
	ErrorMessage   ErrorCode = 2
	ErrorIdentity  ErrorCode = 3
	ErrorField     ErrorCode = 4
	ErrorFrom      ErrorCode = 5
	ErrorTo        ErrorCode = 6
	ErrorDelay     ErrorCode = 7
	ErrorKey       ErrorCode = 8
	ErrorValue     ErrorCode = 9
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorUndefined:
		return "Undefined"
	case ErrorChecksum:
		return "Checksum"
	case ErrorMessage:
		return "Message"
	case ErrorIdentity:
		return "Identity"
	case ErrorField:
		return "Field"
	case ErrorFrom:
		return "From"
	case ErrorTo:
		return "To"
	case ErrorDelay:
		return "Delay"
	case ErrorKey:
		return "Key"
	case ErrorValue:
		return "Value"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(e))
	}
}

// SystemKind is the "s" sub-command value carried by a System message.
type SystemKind uint8

const (
	SystemUndefined SystemKind = 0
	SystemBoard     SystemKind = 1
	SystemMute      SystemKind = 2
	SystemErrors    SystemKind = 3
	SystemDrops     SystemKind = 4
	SystemDelay     SystemKind = 5
	SystemSockets   SystemKind = 6
	SystemManifesto SystemKind = 7
)

func (s SystemKind) String() string {
	switch s {
	case SystemUndefined:
		return "Undefined"
	case SystemBoard:
		return "Board"
	case SystemMute:
		return "Mute"
	case SystemErrors:
		return "Errors"
	case SystemDrops:
		return "Drops"
	case SystemDelay:
		return "Delay"
	case SystemSockets:
		return "Sockets"
	case SystemManifesto:
		return "Manifesto"
	default:
		return fmt.Sprintf("SystemKind(%d)", uint8(s))
	}
}

// ValueType classifies what is found at a key.
type ValueType int

const (
	ValueVoid ValueType = iota
	ValueString
	ValueInt
	ValueOther
)

func (v ValueType) String() string {
	switch v {
	case ValueVoid:
		return "Void"
	case ValueString:
		return "String"
	case ValueInt:
		return "Int"
	case ValueOther:
		return "Other"
	default:
		return fmt.Sprintf("ValueType(%d)", int(v))
	}
}

// MatchKind describes how the "t" field selects a destination talker.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchAny
	MatchByChannel
	MatchByName
	MatchFail
)

func (m MatchKind) String() string {
	switch m {
	case MatchNone:
		return "None"
	case MatchAny:
		return "Any"
	case MatchByChannel:
		return "ByChannel"
	case MatchByName:
		return "ByName"
	case MatchFail:
		return "Fail"
	default:
		return fmt.Sprintf("MatchKind(%d)", int(m))
	}
}

// Canonical single-character field keys.
const (
	KeyKind      = 'm'
	KeyRecovery  = 'M'
	KeyBroadcast = 'b'
	KeyIdentity  = 'i'
	KeyFrom      = 'f'
	KeyTo        = 't'
	KeyAction    = 'a'
	KeySystem    = 's'
	KeyRoger     = 'r'
	KeyError     = 'e'
	KeyNoReply   = 'n'
	KeyChecksum  = 'c'
)

func isCanonicalKey(c byte) bool {
	switch c {
	case KeyKind, KeyRecovery, KeyBroadcast, KeyIdentity, KeyFrom, KeyTo,
		KeyAction, KeySystem, KeyRoger, KeyError, KeyNoReply, KeyChecksum:
		return true
	}
	return c >= '0' && c <= '9'
}
