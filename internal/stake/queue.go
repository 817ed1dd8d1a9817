package stake

import "sort"

// Queue is the ordered set of currently-mining arbiters. Each entry gets a
// monotonically increasing position at enqueue time; positions are vacated on
// removal and never reused, so a position stays a valid handle for as long as
// its holder is queued.
type Queue struct {
	nextPos uint64
	byPos   map[uint64]uint64 // position -> arbiter id
	order   []uint64          // occupied positions, ascending
}

// NewQueue creates an empty mining queue. Position 0 is the "not queued"
// sentinel, so assignment starts at 1.
func NewQueue() *Queue {
	return &Queue{
		nextPos: 1,
		byPos:   make(map[uint64]uint64),
	}
}

// Enqueue appends an arbiter and returns its assigned position.
func (q *Queue) Enqueue(arbiterID uint64) uint64 {
	pos := q.nextPos
	q.nextPos++
	q.byPos[pos] = arbiterID
	q.order = append(q.order, pos)
	return pos
}

// Remove vacates a position. Returns false if the position is not occupied.
func (q *Queue) Remove(pos uint64) bool {
	if _, ok := q.byPos[pos]; !ok {
		return false
	}
	delete(q.byPos, pos)
	for i, p := range q.order {
		if p == pos {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Front returns up to n arbiter ids in queue order without removing them.
func (q *Queue) Front(n int) []uint64 {
	if n > len(q.order) {
		n = len(q.order)
	}
	ids := make([]uint64, 0, n)
	for _, pos := range q.order[:n] {
		ids = append(ids, q.byPos[pos])
	}
	return ids
}

// Len returns the number of queued arbiters.
func (q *Queue) Len() int {
	return len(q.order)
}

// restore re-inserts an arbiter at a known position, used when rebuilding the
// queue from persisted arbiter records.
func (q *Queue) restore(pos, arbiterID uint64) {
	q.byPos[pos] = arbiterID
	q.order = append(q.order, pos)
	sort.Slice(q.order, func(i, j int) bool { return q.order[i] < q.order[j] })
	if pos >= q.nextPos {
		q.nextPos = pos + 1
	}
}
