package icm20948

// avgRing is a fixed-depth moving average over raw counts, one per axis per
// sensor. Depth is a power of two so the average stays integer-exact.
type avgRing struct {
	buf [8]int32
	idx int
}

func (r *avgRing) push(v int32) int32 {
	r.buf[r.idx] = v
	r.idx = (r.idx + 1) & 0x07
	var sum int32
	for _, b := range r.buf {
		sum += b
	}
	return sum >> 3
}
