package device

// framer regroups device callback buffers, whose size the driver picks, into
// frames of a fixed size.
type framer struct {
	size int
	buf  []float32
}

func newFramer(size int) *framer {
	return &framer{size: size, buf: make([]float32, 0, size*2)}
}

// push appends samples and calls emit with every complete frame, oldest
// first. Each emitted frame is a fresh slice.
func (f *framer) push(samples []float32, emit func([]float32)) {
	f.buf = append(f.buf, samples...)
	for len(f.buf) >= f.size {
		frame := make([]float32, f.size)
		copy(frame, f.buf[:f.size])
		f.buf = append(f.buf[:0], f.buf[f.size:]...)
		emit(frame)
	}
}

func (f *framer) pending() int {
	return len(f.buf)
}
