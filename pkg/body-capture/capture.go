package capture

// Buffer is a write-once, read-once staging area for response bytes.
// The proxy writes every chunk it forwards to the client into the
// buffer; when the response completes, ToBuffer materializes the chunks
// into one contiguous byte slice and the buffer releases its storage.
//
// A Buffer belongs to exactly one request and must be closed on every
// code path, whether or not it was used for a cache write.
type Buffer struct {
	chunks [][]byte
	length int
	closed bool
}

func New() *Buffer {
	return &Buffer{}
}

// Write appends a copy of p to the buffer. The copy is required because
// the stream copy loop reuses its chunk buffer. Write never fails and
// never blocks the stream it mirrors.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.closed {
		return len(p), nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.length += len(p)
	return len(p), nil
}

// ToBuffer materializes all written chunks, in write order, into a
// single byte slice and releases the chunk storage. Calling it signals
// that capture is complete; subsequent writes are discarded.
func (b *Buffer) ToBuffer() []byte {
	buf := make([]byte, 0, b.length)
	for _, chunk := range b.chunks {
		buf = append(buf, chunk...)
	}
	b.release()
	return buf
}

// Len returns the number of bytes captured so far.
func (b *Buffer) Len() int {
	return b.length
}

// Close releases the internal storage. It is safe to call whether or
// not ToBuffer was used, and safe to call more than once.
func (b *Buffer) Close() error {
	b.release()
	return nil
}

func (b *Buffer) release() {
	b.chunks = nil
	b.closed = true
}
