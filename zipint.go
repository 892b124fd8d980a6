package replay

// Zipped integers: little-endian with trailing zero bytes stripped. Ticks
// and sequence numbers start tiny and stay tiny on the wire for most of a
// session's life.

func ZipUint64(v uint64) []byte {
	buf := [8]byte{}
	i := 0
	for v > 0 {
		buf[i] = uint8(v)
		v >>= 8
		i++
	}
	return buf[0:i]
}

func UnzipUint64(zip []byte) (v uint64) {
	for i := len(zip) - 1; i >= 0; i-- {
		v <<= 8
		v |= uint64(zip[i])
	}
	return
}

func ZigZagInt64(i int64) uint64 {
	return uint64(i*2) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

func ZipInt64(v int64) []byte {
	return ZipUint64(ZigZagInt64(v))
}

func UnzipInt64(zip []byte) int64 {
	return ZagZigUint64(UnzipUint64(zip))
}

// ZipUint64Pair packs two zipped ints behind one sizing byte: the high
// nibble holds the byte length of the first value, the low nibble that of
// the second.
func ZipUint64Pair(big, lil uint64) []byte {
	bz, lz := ZipUint64(big), ZipUint64(lil)
	ret := make([]byte, 1, 1+len(bz)+len(lz))
	ret[0] = byte(len(bz)<<4) | byte(len(lz))
	ret = append(ret, bz...)
	return append(ret, lz...)
}

func UnzipUint64Pair(zip []byte) (big, lil uint64) {
	if len(zip) == 0 {
		return 0, 0
	}
	bl, ll := int(zip[0]>>4), int(zip[0]&0xf)
	if 1+bl+ll != len(zip) {
		return 0, 0 // error, caller drops the record
	}
	big = UnzipUint64(zip[1 : 1+bl])
	lil = UnzipUint64(zip[1+bl:])
	return
}
