package relay

// queue is a FIFO of pending media chunks. Not safe for concurrent use; the
// owning session guards it.
type queue struct {
	chunks [][]byte
	head   int
	bytes  int
}

func (q *queue) push(chunk []byte) {
	q.chunks = append(q.chunks, chunk)
	q.bytes += len(chunk)
}

// pop removes and returns the oldest chunk.
func (q *queue) pop() ([]byte, bool) {
	if q.head >= len(q.chunks) {
		return nil, false
	}
	chunk := q.chunks[q.head]
	q.chunks[q.head] = nil
	q.head++
	q.bytes -= len(chunk)

	// Reuse the backing array once it is fully consumed.
	if q.head == len(q.chunks) {
		q.chunks = q.chunks[:0]
		q.head = 0
	}
	return chunk, true
}

func (q *queue) len() int {
	return len(q.chunks) - q.head
}

func (q *queue) size() int {
	return q.bytes
}

// clear drops everything and returns how many chunks were discarded.
func (q *queue) clear() int {
	n := q.len()
	q.chunks = nil
	q.head = 0
	q.bytes = 0
	return n
}
