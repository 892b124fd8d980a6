package replay

import "github.com/drpcorg/replay/protocol"

// PeerID identifies a connected participant. Assignment is the host's
// concern; the replay core only requires uniqueness within a session.
type PeerID uint32

// Acks is the acknowledgment table: the highest intent sequence number
// applied so far for each peer. It rides verbatim on every broadcast so
// clients can prune their pending buffers. Entries only ever go up.
type Acks map[PeerID]int64

func (a Acks) Get(peer PeerID) int64 {
	return a[peer]
}

// Put records seq for the peer if it advances the watermark, and reports
// whether it did.
func (a Acks) Put(peer PeerID, seq int64) bool {
	if pre, ok := a[peer]; ok && pre >= seq {
		return false
	}
	a[peer] = seq
	return true
}

func (a Acks) Clone() Acks {
	c := make(Acks, len(a))
	for peer, seq := range a {
		c[peer] = seq
	}
	return c
}

// AppendTLV appends the table as repeated 'A' records of (seq, peer) pairs.
// The type letter must survive (batch parsing dispatches on it), so the
// tiny header form is not used here.
func (a Acks) AppendTLV(into []byte) []byte {
	for peer, seq := range a {
		into = protocol.Append(into, 'A', ZipUint64Pair(uint64(seq), uint64(peer)))
	}
	return into
}

// ParseAcks reads a table written by AppendTLV. Unparseable input returns
// ErrBadPacket; the caller drops the enclosing envelope.
func ParseAcks(body []byte) (Acks, error) {
	acks := make(Acks)
	rest := body
	for len(rest) > 0 {
		var pair []byte
		pair, rest = protocol.Take('A', rest)
		if pair == nil {
			return nil, ErrBadPacket
		}
		seq, peer := UnzipUint64Pair(pair)
		acks.Put(PeerID(peer), int64(seq))
	}
	return acks, nil
}
