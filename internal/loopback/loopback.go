// Package loopback provides an in-memory socket.Transport used by
// tests and the demo command: no physical medium, just a pair of byte
// queues. An in-process double satisfying a real interface, with no
// I/O of its own.
package loopback

import "sync"

// Transport is an in-memory socket.Transport. Pair two Transports with
// Link to let them exchange datagrams, or queue bytes directly with
// Inject for single-ended tests.
type Transport struct {
	mu      sync.Mutex
	pending [][]byte
	peer    *Transport
	sent    [][]byte
}

// New returns an unconnected Transport.
func New() *Transport {
	return &Transport{}
}

// Link connects a and b so that a.Send delivers to b.TryRecv and vice
// versa.
func Link(a, b *Transport) {
	a.peer = b
	b.peer = a
}

// Send implements socket.Transport: records a copy of data in the Sent
// log and, if linked, also hands it to the peer's inbound queue.
func (tr *Transport) Send(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	tr.mu.Lock()
	tr.sent = append(tr.sent, cp)
	tr.mu.Unlock()

	if tr.peer == nil {
		return nil
	}
	tr.peer.mu.Lock()
	tr.peer.pending = append(tr.peer.pending, cp)
	tr.peer.mu.Unlock()
	return nil
}

// TryRecv implements socket.Transport: pops the oldest queued inbound
// datagram, if any.
func (tr *Transport) TryRecv() ([]byte, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.pending) == 0 {
		return nil, false
	}
	data := tr.pending[0]
	tr.pending = tr.pending[1:]
	return data, true
}

// Inject queues data directly, as though it arrived over the wire.
// Used by tests that don't need a linked peer.
func (tr *Transport) Inject(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	tr.mu.Lock()
	tr.pending = append(tr.pending, cp)
	tr.mu.Unlock()
}

// Sent returns every datagram this Transport has sent, in order.
func (tr *Transport) Sent() [][]byte {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([][]byte, len(tr.sent))
	copy(out, tr.sent)
	return out
}
