package protocol

import (
	"strconv"

	"github.com/jsontalkie/jsontalkie/internal/config"
)

// Message is a fixed-capacity JSON object: a single flat `{...}` value
// whose fields use single-character keys. All mutation happens in
// place; there is never an intermediate object tree.
type Message struct {
	buf [config.BufCap]byte
	len int
}

// New returns an empty message: the literal `{}`.
func New() *Message {
	m := &Message{}
	m.Reset()
	return m
}

// Reset discards all fields, returning the message to `{}`.
func (m *Message) Reset() {
	m.buf[0] = '{'
	m.buf[1] = '}'
	m.len = 2
}

// Len reports the current serialized length in bytes.
func (m *Message) Len() int { return m.len }

// Bytes returns a defensive copy of the current wire bytes.
func (m *Message) Bytes() []byte {
	out := make([]byte, m.len)
	copy(out, m.buf[:m.len])
	return out
}

// Clone returns an independent value copy of m.
func (m *Message) Clone() Message {
	return *m
}

type fieldLoc struct {
	fieldStart int
	fieldEnd   int
	valStart   int
	valEnd     int
	quoted     bool
}

// locate finds the sole occurrence of key. A key that appears more
// than once is treated as a parse failure for that key, per the
// "duplicate keys (reject at parse)" edge case.
func (m *Message) locate(key byte) (fieldLoc, bool) {
	b := m.buf[:m.len]
	if len(b) < 2 || b[0] != '{' || b[len(b)-1] != '}' {
		return fieldLoc{}, false
	}
	var found fieldLoc
	seen := false
	i := 1
	for i < len(b)-1 {
		if b[i] != '"' || i+3 >= len(b) {
			return fieldLoc{}, false
		}
		kc := b[i+1]
		if b[i+2] != '"' || b[i+3] != ':' {
			return fieldLoc{}, false
		}
		valStart := i + 4
		valEnd, quoted, ok := scanValue(b, valStart)
		if !ok {
			return fieldLoc{}, false
		}
		if kc == key {
			if seen {
				return fieldLoc{}, false
			}
			seen = true
			found = fieldLoc{fieldStart: i, fieldEnd: valEnd, valStart: valStart, valEnd: valEnd, quoted: quoted}
		}
		i = valEnd
		if i < len(b) && b[i] == ',' {
			i++
			continue
		}
		break
	}
	if !seen {
		return fieldLoc{}, false
	}
	return found, true
}

// scanValue finds the end of the value starting at start, returning
// whether it was a quoted string. It requires a non-quoted value to be
// terminated by an (unescaped) `,` or `}`; failure to find one is
// treated as truncation.
func scanValue(b []byte, start int) (end int, quoted bool, ok bool) {
	if start >= len(b) {
		return 0, false, false
	}
	if b[start] == '"' {
		j := start + 1
		for j < len(b) {
			if b[j] == '\\' {
				j += 2
				continue
			}
			if b[j] == '"' {
				return j + 1, true, true
			}
			j++
		}
		return 0, false, false
	}
	j := start
	for j < len(b) && b[j] != ',' && b[j] != '}' {
		j++
	}
	if j >= len(b) || j == start {
		return 0, false, false
	}
	return j, false, true
}

// Has reports whether key is present exactly once and well-formed.
func (m *Message) Has(key byte) bool {
	_, ok := m.locate(key)
	return ok
}

// ValueType classifies the value stored at key.
func (m *Message) ValueType(key byte) ValueType {
	loc, ok := m.locate(key)
	if !ok {
		return ValueVoid
	}
	if loc.quoted {
		return ValueString
	}
	raw := m.buf[loc.valStart:loc.valEnd]
	for _, c := range raw {
		if c < '0' || c > '9' {
			return ValueOther
		}
	}
	return ValueInt
}

func isNameChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_'
}

func validateName(s string) bool {
	if len(s) == 0 || len(s) > config.NameLen-1 {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

func unescapeString(raw []byte) (string, bool) {
	out := make([]byte, 0, len(raw))
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c == '\\' {
			if i+1 >= len(raw) {
				return "", false
			}
			out = append(out, raw[i+1])
			i += 2
			continue
		}
		if c < 0x20 {
			return "", false
		}
		out = append(out, c)
		i++
	}
	return string(out), true
}

// GetName reads a name-class field (f, t, a and numeric keys used as
// names): a quoted string of at most 15 characters drawn from
// [A-Za-z0-9_], not starting with a digit.
func (m *Message) GetName(key byte) (string, bool) {
	loc, ok := m.locate(key)
	if !ok || !loc.quoted {
		return "", false
	}
	raw := m.buf[loc.valStart+1 : loc.valEnd-1]
	s, ok := unescapeString(raw)
	if !ok || !validateName(s) {
		return "", false
	}
	return s, true
}

// GetFreeString reads a free-form string field: a quoted, printable
// string of at most 63 characters.
func (m *Message) GetFreeString(key byte) (string, bool) {
	loc, ok := m.locate(key)
	if !ok || !loc.quoted {
		return "", false
	}
	raw := m.buf[loc.valStart+1 : loc.valEnd-1]
	s, ok := unescapeString(raw)
	if !ok || len(s) > config.MaxFreeStringLen {
		return "", false
	}
	return s, true
}

// GetUint reads an unsigned integer field: 1 to 10 decimal digits,
// terminated by `,` or `}`.
func (m *Message) GetUint(key byte) (uint64, bool) {
	loc, ok := m.locate(key)
	if !ok || loc.quoted {
		return 0, false
	}
	raw := m.buf[loc.valStart:loc.valEnd]
	if len(raw) == 0 || len(raw) > 10 {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Remove deletes key's field, collapsing the surrounding comma.
func (m *Message) Remove(key byte) bool {
	loc, ok := m.locate(key)
	if !ok {
		return false
	}
	start := loc.fieldStart
	end := loc.fieldEnd
	if start > 1 && m.buf[start-1] == ',' {
		start--
	} else if end < m.len-1 && m.buf[end] == ',' {
		end++
	}
	copy(m.buf[start:], m.buf[end:m.len])
	m.len -= end - start
	return true
}

// appendField inserts raw (a complete `"k":v` field, no surrounding
// comma) just before the closing `}`.
func (m *Message) appendField(raw []byte) bool {
	insertPos := m.len - 1
	needComma := insertPos > 1
	extra := len(raw)
	if needComma {
		extra++
	}
	if m.len+extra > config.BufCap {
		return false
	}
	copy(m.buf[insertPos+extra:], m.buf[insertPos:m.len])
	pos := insertPos
	if needComma {
		m.buf[pos] = ','
		pos++
	}
	copy(m.buf[pos:], raw)
	m.len += extra
	return true
}

// SetName replaces or inserts a name-class field.
func (m *Message) SetName(key byte, s string) bool {
	if !validateName(s) {
		return false
	}
	m.Remove(key)
	raw := make([]byte, 0, 4+len(s))
	raw = append(raw, '"', key, '"', ':', '"')
	raw = append(raw, s...)
	raw = append(raw, '"')
	return m.appendField(raw)
}

// SetFreeString replaces or inserts a free-form string field.
func (m *Message) SetFreeString(key byte, s string) bool {
	if len(s) > config.MaxFreeStringLen {
		return false
	}
	m.Remove(key)
	raw := make([]byte, 0, 4+2*len(s))
	raw = append(raw, '"', key, '"', ':', '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			raw = append(raw, '\\')
		}
		raw = append(raw, c)
	}
	raw = append(raw, '"')
	return m.appendField(raw)
}

// SetUint replaces or inserts an unsigned integer field.
func (m *Message) SetUint(key byte, n uint64) bool {
	if n > 9999999999 {
		return false
	}
	m.Remove(key)
	raw := []byte{'"', key, '"', ':'}
	raw = strconv.AppendUint(raw, n, 10)
	return m.appendField(raw)
}

// ReplaceKey renames old to new, keeping the value untouched. Used to
// toggle m<->M.
func (m *Message) ReplaceKey(old, newKey byte) bool {
	loc, ok := m.locate(old)
	if !ok {
		return false
	}
	m.buf[loc.fieldStart+1] = newKey
	return true
}

func (m *Message) swapKeys(a, b byte) bool {
	locA, okA := m.locate(a)
	locB, okB := m.locate(b)
	if okA {
		m.buf[locA.fieldStart+1] = b
	}
	if okB {
		m.buf[locB.fieldStart+1] = a
	}
	return okA || okB
}

// SwapToWithFrom renames the field keyed `t` to `f` and the field
// keyed `f` to `t`, preserving values. Used to generate replies.
func (m *Message) SwapToWithFrom() bool {
	return m.swapKeys(KeyTo, KeyFrom)
}

// SwapFromWithTo is the mirror of SwapToWithFrom; the wire effect is
// identical, only the calling context differs.
func (m *Message) SwapFromWithTo() bool {
	return m.swapKeys(KeyFrom, KeyTo)
}

// Serialize copies the wire bytes into out, returning the number of
// bytes written.
func (m *Message) Serialize(out []byte) int {
	return copy(out, m.buf[:m.len])
}

// Deserialize loads data as the message's raw buffer. It is a bounds
// check only; no structural validation is performed.
func (m *Message) Deserialize(data []byte) bool {
	if len(data) > config.BufCap || len(data) == 0 {
		return false
	}
	copy(m.buf[:], data)
	m.len = len(data)
	return true
}
