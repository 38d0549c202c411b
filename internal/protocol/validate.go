package protocol

import "github.com/jsontalkie/jsontalkie/internal/config"

// ValidateJSON trims trailing junk that follows the object's real
// closing brace (respecting a backslash-escaped `}` inside a string)
// and rejects buffers that are too short or do not open with `{`. It
// mutates m.Len() down to the trimmed length on success.
func (m *Message) ValidateJSON() bool {
	if m.len < config.MinMessageLen {
		return false
	}
	if m.buf[0] != '{' {
		return false
	}
	end := m.len
	for end > 1 {
		c := m.buf[end-1]
		if c == '}' {
			if end-2 >= 0 && m.buf[end-2] == '\\' {
				end--
				continue
			}
			break
		}
		end--
	}
	if end < 2 || m.buf[end-1] != '}' {
		return false
	}
	m.len = end
	return true
}

// TryToReconstruct makes a single best-effort repair pass over
// `"k":` delimiters, fixing a flipped colon immediately following a
// quoted single-character key when the following byte looks like a
// value start (a digit or a quote). It is a last resort, used only
// once a buffer has already failed checksum validation. Returns true
// if any repair was made.
func (m *Message) TryToReconstruct() bool {
	repaired := false
	data := m.buf[:m.len]
	for i := 0; i+4 < len(data); i++ {
		if data[i] != '"' || !isCanonicalKey(data[i+1]) || data[i+2] != '"' {
			continue
		}
		if data[i+3] == ':' {
			continue
		}
		afterSlot := data[i+4]
		if afterSlot == '"' || (afterSlot >= '0' && afterSlot <= '9') {
			data[i+3] = ':'
			repaired = true
		}
	}
	return repaired
}

// GetTalkerMatch interprets the `t` field to decide how this message
// should be matched against a Talker's name/channel.
//
// A Noise message never participates in routing, regardless of `t`.
// Among the remaining kinds, Talk/Channel/Ping may be left unaddressed
// (matching Any); kinds stricter than those (Call, List, System, Echo,
// Error) must name a destination or the match fails outright, to avoid
// accidental all-hands side effects from an unaddressed Call.
func (m *Message) GetTalkerMatch(kind Kind) MatchKind {
	if kind == KindNoise {
		return MatchNone
	}
	switch m.ValueType(KeyTo) {
	case ValueVoid:
		if kind <= KindPing {
			return MatchAny
		}
		return MatchFail
	case ValueInt:
		return MatchByChannel
	case ValueString:
		return MatchByName
	default:
		return MatchFail
	}
}
