package protocol

// GenerateChecksum XORs successive big-endian 16-bit words over the
// current buffer. It must be called on a buffer from which `c` has
// already been removed (or into which it has not yet been inserted).
func (m *Message) GenerateChecksum() uint16 {
	data := m.buf[:m.len]
	var cs uint16
	i := 0
	for ; i+1 < len(data); i += 2 {
		cs ^= uint16(data[i])<<8 | uint16(data[i+1])
	}
	if i < len(data) {
		cs ^= uint16(data[i]) << 8
	}
	return cs
}

// InsertChecksum removes any prior `c`, computes the checksum over
// the remaining buffer, and appends `c` as the last field. It must be
// the final mutation before egress, since any later Set* call would
// re-insert its field after `c`.
func (m *Message) InsertChecksum() bool {
	m.Remove(KeyChecksum)
	cs := m.GenerateChecksum()
	return m.SetUint(KeyChecksum, uint64(cs))
}

// ValidateChecksum extracts and removes `c`, recomputes the checksum
// over what remains, and reports whether they match.
func (m *Message) ValidateChecksum() bool {
	if !m.Has(KeyChecksum) {
		return false
	}
	want, ok := m.GetUint(KeyChecksum)
	m.Remove(KeyChecksum)
	if !ok {
		return false
	}
	return uint16(want) == m.GenerateChecksum()
}
