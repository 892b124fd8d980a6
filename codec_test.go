package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBORCodecRoundtrip(t *testing.T) {
	codec := NewCBORCodec()

	model := NewGridModel()
	model.Walkers[1] = GridPoint{X: -3, Y: 7}
	model.Walkers[2] = GridPoint{X: 0, Y: 0}

	data, err := codec.Encode(model)
	require.NoError(t, err)

	var decoded GridModel
	require.NoError(t, codec.Decode(data, &decoded))
	assert.Equal(t, model.Walkers, decoded.Walkers)
}

func TestCBORCodecDeterministic(t *testing.T) {
	codec := NewCBORCodec()

	// map iteration order must not leak into the wire form
	model := NewGridModel()
	for peer := PeerID(1); peer <= 20; peer++ {
		model.Walkers[peer] = GridPoint{X: int64(peer), Y: -int64(peer)}
	}

	first, err := codec.Encode(model)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := codec.Encode(model.Clone())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCBORCodecDecodeError(t *testing.T) {
	codec := NewCBORCodec()
	var move GridMove
	assert.Error(t, codec.Decode([]byte{0xff, 0x00}, &move))
}
