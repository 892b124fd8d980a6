package replay

import (
	"github.com/fxamacker/cbor/v2"
)

// Codec turns intent/event/model payloads into the compact self-describing
// bytes the envelopes carry. The envelope layer never inspects the payload;
// a decode error means "drop this message", never a fatal condition.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// CBORCodec is the default codec. Encoding uses the core deterministic
// options so that equal values encode to equal bytes; the determinism
// required of reducers extends to the model's wire form.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() *CBORCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err) // static options, cannot fail
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &CBORCodec{enc: enc, dec: dec}
}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
