package http1

// segment is a single piece of enqueued response data. Static segments are borrowed from
// the caller, owned ones are private copies.
type segment struct {
	data  []byte
	owned bool
}

// queue is a FIFO of segments, appended to the tail and drained from the head. The head
// segment may be drained partially, in which case offset points at its first unsent byte.
type queue struct {
	segments []segment
	head     int
	offset   int
	// length is the number of bytes not sent yet.
	length int
	// owned is the number of bytes held by owned segments.
	owned int
}

func (q *queue) Push(data []byte, owned bool) {
	q.segments = append(q.segments, segment{data: data, owned: owned})
	q.length += len(data)
	if owned {
		q.owned += len(data)
	}
}

func (q *queue) Empty() bool {
	return q.head == len(q.segments)
}

func (q *queue) Len() int {
	return len(q.segments) - q.head
}

// Peek returns the unsent part of the head segment.
func (q *queue) Peek() []byte {
	return q.segments[q.head].data[q.offset:]
}

// Advance marks n bytes of the head segment as sent, releasing it once it's fully sent.
func (q *queue) Advance(n int) {
	q.offset += n
	q.length -= n

	if head := q.segments[q.head]; q.offset >= len(head.data) {
		q.pop()
	}
}

func (q *queue) pop() {
	if head := q.segments[q.head]; head.owned {
		q.owned -= len(head.data)
	}

	q.segments[q.head] = segment{}
	q.head++
	q.offset = 0

	if q.Empty() {
		q.segments = q.segments[:0]
		q.head = 0
	}
}

// Reset drops all the segments.
func (q *queue) Reset() {
	clear(q.segments)
	q.segments = q.segments[:0]
	q.head, q.offset, q.length, q.owned = 0, 0, 0, 0
}
