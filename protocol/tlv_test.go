package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTLVAppend(t *testing.T) {
	buf := []byte{}
	buf = Append(buf, 'A', []byte{'A'})
	buf = Append(buf, 'b', []byte{'B', 'B'})
	correct := []byte{'a', 1, 'A', '2', 'B', 'B'}
	assert.Equal(t, correct, buf)

	var c256 [256]byte
	for n := range c256 {
		c256[n] = 'c'
	}
	buf = Append(buf, 'C', c256[:])
	assert.Equal(t, len(correct)+5+len(c256), len(buf))
	assert.Equal(t, uint8('C'), buf[len(correct)])
	assert.Equal(t, uint8(1), buf[len(correct)+2])

	body, rest, err := TakeWary('A', buf)
	assert.Nil(t, err)
	assert.Equal(t, []byte{'A'}, body)

	body2, rest, err := TakeWary('B', rest)
	assert.Nil(t, err)
	assert.Equal(t, []byte{'B', 'B'}, body2)

	lit, body3, rest := TakeAny(rest)
	assert.Equal(t, uint8('C'), lit)
	assert.Equal(t, c256[:], body3)
	assert.Equal(t, 0, len(rest))
}

func TestOpenCloseHeader(t *testing.T) {
	buf := []byte{}
	bm, buf := OpenHeader(buf, 'A')
	text := "some text"
	buf = append(buf, text...)
	CloseHeader(buf, bm)

	lit, body, rest := TakeAny(buf)
	assert.Equal(t, uint8('A'), lit)
	assert.Equal(t, text, string(body))
	assert.Equal(t, 0, len(rest))
}

func TestTinyRecord(t *testing.T) {
	tiny := TinyRecord('X', []byte("12"))
	assert.Equal(t, "212", string(tiny))

	// tiny records keep the body but normalize the type away
	body, rest := Take('X', tiny)
	assert.Equal(t, "12", string(body))
	assert.Equal(t, 0, len(rest))
}

func TestSplit(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Record('A', []byte("aaa")))
	buf.Write(Record('B', []byte("bb")))

	recs, err := Split(&buf)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(recs))
	assert.Equal(t, uint8('A'), Lit(recs[0]))
	assert.Equal(t, uint8('B'), Lit(recs[1]))

	// a half-received record stays in the buffer
	whole := Record('C', make([]byte, 300))
	buf.Write(whole[:100])
	recs, err = Split(&buf)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 0, len(recs))
	assert.Equal(t, 100, buf.Len())

	buf.Write(whole[100:])
	recs, err = Split(&buf)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(recs))
	assert.Equal(t, whole, recs[0])
}

func TestSplitGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x02, 0x03})
	recs, err := Split(&buf)
	assert.ErrorIs(t, err, ErrBadRecord)
	assert.Equal(t, 0, len(recs))
}

func TestProbeHeader(t *testing.T) {
	lit, hdrlen, bodylen := ProbeHeader([]byte{})
	assert.Equal(t, uint8(0), lit)
	assert.Equal(t, 0, hdrlen)
	assert.Equal(t, 0, bodylen)

	lit, hdrlen, bodylen = ProbeHeader([]byte{'3', 'x', 'y', 'z'})
	assert.Equal(t, uint8('0'), lit)
	assert.Equal(t, 1, hdrlen)
	assert.Equal(t, 3, bodylen)

	lit, hdrlen, bodylen = ProbeHeader([]byte{'a', 200})
	assert.Equal(t, uint8('A'), lit)
	assert.Equal(t, 2, hdrlen)
	assert.Equal(t, 200, bodylen)

	lit, _, _ = ProbeHeader([]byte{0xff})
	assert.Equal(t, uint8('-'), lit)
}
