package codec

// getBits extracts n (at most 64) bits of buf starting at bit pos, LSB first.
func getBits(buf []byte, pos, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		p := pos + i
		if p/8 < len(buf) && buf[p/8]>>(uint(p)%8)&1 != 0 {
			v |= 1 << uint(i)
		}
	}
	return v
}

// putBits stores the low n bits of v into buf starting at bit pos.
func putBits(buf []byte, pos, n int, v uint64) {
	for i := 0; i < n; i++ {
		p := pos + i
		if v>>uint(i)&1 != 0 {
			buf[p/8] |= 1 << (uint(p) % 8)
		} else {
			buf[p/8] &^= 1 << (uint(p) % 8)
		}
	}
}
