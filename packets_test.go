package replay

import (
	"testing"

	"github.com/drpcorg/replay/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentBlobRecord(t *testing.T) {
	blob := &IntentBlob{Seq: 42, From: 7, Payload: []byte("payload")}
	rec := blob.Record()
	assert.Equal(t, uint8('I'), protocol.Lit(rec))

	parsed, err := ParseIntentBlob(rec)
	require.NoError(t, err)
	assert.Equal(t, blob, parsed)

	_, err = ParseIntentBlob(protocol.Record('X', []byte("nope")))
	assert.ErrorIs(t, err, ErrBadIPacket)
	_, err = ParseIntentBlob(protocol.Record('I', []byte("garbage")))
	assert.ErrorIs(t, err, ErrBadIPacket)
}

func TestEventBatchRecord(t *testing.T) {
	batch := &EventBatch{
		Tick:   3,
		Acks:   Acks{1: 10, 2: 20},
		Events: [][]byte{[]byte("ev1"), []byte("ev2")},
	}
	rec := batch.Record()
	assert.Equal(t, uint8('E'), protocol.Lit(rec))

	parsed, err := ParseEventBatch(rec)
	require.NoError(t, err)
	assert.Equal(t, batch, parsed)
}

func TestEventBatchEmpty(t *testing.T) {
	// a heartbeat tick carries no acks and no events
	batch := &EventBatch{Tick: 0, Acks: make(Acks)}
	parsed, err := ParseEventBatch(batch.Record())
	require.NoError(t, err)
	assert.Equal(t, int64(0), parsed.Tick)
	assert.Equal(t, 0, len(parsed.Acks))
	assert.Equal(t, 0, len(parsed.Events))
}

func TestSnapshotRecord(t *testing.T) {
	snap := &Snapshot{
		Tick:  99,
		Acks:  Acks{5: 50},
		Model: []byte("whole model"),
	}
	rec := snap.Record()
	assert.Equal(t, uint8('S'), protocol.Lit(rec))

	parsed, err := ParseSnapshot(rec)
	require.NoError(t, err)
	assert.Equal(t, snap, parsed)
}

func TestSnapshotRequiresModel(t *testing.T) {
	bm, buf := protocol.OpenHeader(nil, 'S')
	buf = protocol.Append(buf, 't', ZipUint64(7))
	protocol.CloseHeader(buf, bm)

	_, err := ParseSnapshot(buf)
	assert.ErrorIs(t, err, ErrBadSPacket)
}

func TestParsePacketGarbage(t *testing.T) {
	_, err := ParseEventBatch(protocol.Record('E', []byte{0xff}))
	assert.ErrorIs(t, err, ErrBadEPacket)
	_, err = ParseSnapshot(protocol.Record('S', []byte{0xff}))
	assert.ErrorIs(t, err, ErrBadSPacket)
}
