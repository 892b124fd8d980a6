package replay

import (
	"errors"

	"github.com/drpcorg/replay/protocol"
)

// The three wire envelopes. Top-level TLV record types:
//
//	'I'  intent blob, client → authority
//	'E'  event batch, authority → clients (incremental)
//	'S'  snapshot, authority → clients (absolute)
//
// Inner records: 'Q' sequence, 'P' peer, 'B' payload, 'T' tick,
// 'A' ack pair (repeated), 'V' event payload (repeated), 'M' model payload.
// Intent/event/model payloads stay opaque to this layer.

var (
	ErrBadPacket  = errors.New("bad replay packet")
	ErrBadIPacket = errors.New("bad I (intent) packet")
	ErrBadEPacket = errors.New("bad E (event batch) packet")
	ErrBadSPacket = errors.New("bad S (snapshot) packet")
)

// IntentBlob carries one opaquely encoded intent with its sender-assigned
// sequence number.
type IntentBlob struct {
	Seq     int64
	From    PeerID
	Payload []byte
}

func (b *IntentBlob) Record() []byte {
	return protocol.Record('I',
		protocol.TinyRecord('Q', ZipUint64(uint64(b.Seq))),
		protocol.TinyRecord('P', ZipUint64(uint64(b.From))),
		protocol.Record('B', b.Payload),
	)
}

func ParseIntentBlob(rec []byte) (*IntentBlob, error) {
	body, _ := protocol.Take('I', rec)
	if body == nil {
		return nil, ErrBadIPacket
	}
	seq, rest := protocol.Take('Q', body)
	if seq == nil {
		return nil, ErrBadIPacket
	}
	peer, rest := protocol.Take('P', rest)
	if peer == nil {
		return nil, ErrBadIPacket
	}
	payload, _ := protocol.Take('B', rest)
	if payload == nil {
		return nil, ErrBadIPacket
	}
	return &IntentBlob{
		Seq:     int64(UnzipUint64(seq)),
		From:    PeerID(UnzipUint64(peer)),
		Payload: payload,
	}, nil
}

// EventBatch is the incremental broadcast: everything the reducer emitted at
// one authority tick, plus the ack table as of that tick.
type EventBatch struct {
	Tick   int64
	Acks   Acks
	Events [][]byte
}

func (b *EventBatch) Record() []byte {
	bm, buf := protocol.OpenHeader(nil, 'E')
	buf = protocol.Append(buf, 't', ZipUint64(uint64(b.Tick)))
	buf = b.Acks.AppendTLV(buf)
	for _, ev := range b.Events {
		buf = protocol.Append(buf, 'V', ev)
	}
	protocol.CloseHeader(buf, bm)
	return buf
}

func ParseEventBatch(rec []byte) (*EventBatch, error) {
	body, _ := protocol.Take('E', rec)
	if body == nil {
		return nil, ErrBadEPacket
	}
	tick, rest := protocol.Take('T', body)
	if tick == nil {
		return nil, ErrBadEPacket
	}
	batch := &EventBatch{Tick: int64(UnzipUint64(tick)), Acks: make(Acks)}
	for len(rest) > 0 {
		lit, rbody, next := protocol.TakeAny(rest)
		if rbody == nil {
			return nil, ErrBadEPacket
		}
		switch lit {
		case 'A':
			seq, peer := UnzipUint64Pair(rbody)
			batch.Acks.Put(PeerID(peer), int64(seq))
		case 'V':
			batch.Events = append(batch.Events, rbody)
		default:
			return nil, ErrBadEPacket
		}
		rest = next
	}
	return batch, nil
}

// Snapshot is the absolute broadcast: the whole model at one tick. Used for
// late-join catch-up and desync correction; its loss has no self-healing
// path other than another snapshot, so it belongs on a reliable channel.
type Snapshot struct {
	Tick  int64
	Acks  Acks
	Model []byte
}

func (s *Snapshot) Record() []byte {
	bm, buf := protocol.OpenHeader(nil, 'S')
	buf = protocol.Append(buf, 't', ZipUint64(uint64(s.Tick)))
	buf = s.Acks.AppendTLV(buf)
	buf = protocol.Append(buf, 'M', s.Model)
	protocol.CloseHeader(buf, bm)
	return buf
}

func ParseSnapshot(rec []byte) (*Snapshot, error) {
	body, _ := protocol.Take('S', rec)
	if body == nil {
		return nil, ErrBadSPacket
	}
	tick, rest := protocol.Take('T', body)
	if tick == nil {
		return nil, ErrBadSPacket
	}
	snap := &Snapshot{Tick: int64(UnzipUint64(tick)), Acks: make(Acks)}
	for len(rest) > 0 {
		lit, rbody, next := protocol.TakeAny(rest)
		if rbody == nil {
			return nil, ErrBadSPacket
		}
		switch lit {
		case 'A':
			seq, peer := UnzipUint64Pair(rbody)
			snap.Acks.Put(PeerID(peer), int64(seq))
		case 'M':
			snap.Model = rbody
		default:
			return nil, ErrBadSPacket
		}
		rest = next
	}
	if snap.Model == nil {
		return nil, ErrBadSPacket
	}
	return snap, nil
}
