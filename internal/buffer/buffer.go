package buffer

// Buffer is a fixed-capacity byte buffer. It never grows past the capacity it was created
// with, so every connection keeps a bounded memory footprint. Besides plain appending it
// supports shifting consumed bytes out of the front, which is what the request parser does
// after every phase, and segments, which the response composer uses to tell apart the
// status line from the header lines written by the route handler.
type Buffer struct {
	memory []byte
	begin  int
}

func New(size int) *Buffer {
	return &Buffer{
		memory: make([]byte, 0, size),
	}
}

// Append writes data, checking whether the new amount of bytes doesn't exceed the
// capacity, otherwise discarding the data and returning false.
func (b *Buffer) Append(elements []byte) (ok bool) {
	if len(b.memory)+len(elements) > cap(b.memory) {
		return false
	}

	b.memory = append(b.memory, elements...)
	return true
}

// AppendString is the same as Append, but for strings.
func (b *Buffer) AppendString(str string) (ok bool) {
	if len(b.memory)+len(str) > cap(b.memory) {
		return false
	}

	b.memory = append(b.memory, str...)
	return true
}

// AppendByte writes a single byte, checking whether it won't exceed the capacity.
func (b *Buffer) AppendByte(c byte) (ok bool) {
	if len(b.memory) == cap(b.memory) {
		return false
	}

	b.memory = append(b.memory, c)
	return true
}

// Fill copies as much of data as fits into the free space and returns the number of
// copied bytes.
func (b *Buffer) Fill(data []byte) int {
	n := min(len(data), b.Free())
	b.memory = append(b.memory, data[:n]...)
	return n
}

// Bytes returns all the buffered data. The slice is valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.memory
}

func (b *Buffer) Len() int {
	return len(b.memory)
}

func (b *Buffer) Cap() int {
	return cap(b.memory)
}

func (b *Buffer) Free() int {
	return cap(b.memory) - len(b.memory)
}

func (b *Buffer) Full() bool {
	return len(b.memory) == cap(b.memory)
}

// Consume drops n bytes from the front, shifting the rest to the beginning.
func (b *Buffer) Consume(n int) {
	b.Cut(0, n)
}

// Cut removes bytes in range [from, to), shifting the tail to the left.
func (b *Buffer) Cut(from, to int) {
	to = min(to, len(b.memory))
	if from >= to {
		return
	}

	n := copy(b.memory[from:], b.memory[to:])
	b.memory = b.memory[:from+n]
	b.begin = min(b.begin, len(b.memory))
}

// Trunc keeps only the first n bytes.
func (b *Buffer) Trunc(n int) {
	if n < len(b.memory) {
		b.memory = b.memory[:n]
		b.begin = min(b.begin, n)
	}
}

// SegmentLength returns a number of bytes, taken by current segment, calculated as a difference
// between the beginning of the current segment and the current pointer.
func (b *Buffer) SegmentLength() int {
	return len(b.memory) - b.begin
}

// Preview returns current segment without moving the head.
func (b *Buffer) Preview() []byte {
	return b.memory[b.begin:]
}

// Finish completes current segment, returning its value.
func (b *Buffer) Finish() []byte {
	segment := b.memory[b.begin:]
	b.begin = len(b.memory)

	return segment
}

// Clear just resets the pointers, so old values may be overridden by new ones.
func (b *Buffer) Clear() {
	b.begin = 0
	b.memory = b.memory[:0]
}
