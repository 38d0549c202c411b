// Package config holds the tunable constants shared by the protocol,
// socket and talker packages.
package config

// Default protocol constants. These are wire-relevant: BufCap bounds
// every JsonMessage buffer and RecoveryTTLMs/MaxPacketLifetimeMs gate
// the socket's recovery and delay-filter state machines.
const (
	// BufCap is the fixed capacity, in bytes, of a JsonMessage buffer.
	BufCap = 128

	// NameLen is the max length (plus NUL) for name-class fields (f, t, a).
	NameLen = 16

	// MaxFreeStringLen is the max length for free-form string fields.
	MaxFreeStringLen = 63

	// MinMessageLen is the minimum byte length validate_json accepts.
	MinMessageLen = 19

	// RecoveryTTLMs is how long a corrupted-message record stays active
	// before it self-expires.
	RecoveryTTLMs = 100

	// MaxConsecutiveErrors caps the number of back-to-back recoverable
	// errors a socket will attempt to arm recovery for.
	MaxConsecutiveErrors = 5

	// MaxPacketLifetimeMs disarms the delay-filter timing gate.
	MaxPacketLifetimeMs = 256

	// DefaultMaxDelayMs is the default max tolerable timestamp delta
	// between consecutive Call messages.
	DefaultMaxDelayMs = 5
)

// Action name/description and manifesto class description budgets,
// sized so a List or System reply always fits the message envelope.
const (
	MaxActionNameDescLen  = 40
	MaxManifestoClassDesc = 42
)
