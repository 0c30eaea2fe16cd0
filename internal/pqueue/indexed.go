// Package pqueue provides an indexed priority queue: a binary max-heap
// paired with a position map so that the score of any queued key can be
// changed in O(log n), without the remove-and-reinsert dance a plain heap
// would need.
package pqueue

type entry[K comparable] struct {
	key   K
	score float64
}

// Indexed is a max-heap over keys with float64 scores. The zero value is
// not usable; call New. Not safe for concurrent use - callers hold their
// own lock.
type Indexed[K comparable] struct {
	heap []entry[K]
	pos  map[K]int
}

// New returns an empty indexed priority queue.
func New[K comparable]() *Indexed[K] {
	return &Indexed[K]{pos: make(map[K]int)}
}

// Len returns the number of queued keys.
func (q *Indexed[K]) Len() int { return len(q.heap) }

// Contains reports whether key is currently queued.
func (q *Indexed[K]) Contains(key K) bool {
	_, ok := q.pos[key]
	return ok
}

// Score returns the current score of key, if queued.
func (q *Indexed[K]) Score(key K) (float64, bool) {
	i, ok := q.pos[key]
	if !ok {
		return 0, false
	}
	return q.heap[i].score, true
}

// Push inserts key with the given score. If key is already queued its
// score is updated instead.
func (q *Indexed[K]) Push(key K, score float64) {
	if i, ok := q.pos[key]; ok {
		q.heap[i].score = score
		q.fix(i)
		return
	}
	q.heap = append(q.heap, entry[K]{key: key, score: score})
	i := len(q.heap) - 1
	q.pos[key] = i
	q.up(i)
}

// UpdateScore changes the score of an already-queued key and restores heap
// order. It reports whether the key was present.
func (q *Indexed[K]) UpdateScore(key K, score float64) bool {
	i, ok := q.pos[key]
	if !ok {
		return false
	}
	q.heap[i].score = score
	q.fix(i)
	return true
}

// PopMax removes and returns the highest-scored key. The boolean is false
// when the queue is empty.
func (q *Indexed[K]) PopMax() (K, float64, bool) {
	if len(q.heap) == 0 {
		var zero K
		return zero, 0, false
	}
	top := q.heap[0]
	q.swap(0, len(q.heap)-1)
	q.heap = q.heap[:len(q.heap)-1]
	delete(q.pos, top.key)
	if len(q.heap) > 0 {
		q.down(0)
	}
	return top.key, top.score, true
}

// Peek returns the highest-scored key without removing it.
func (q *Indexed[K]) Peek() (K, float64, bool) {
	if len(q.heap) == 0 {
		var zero K
		return zero, 0, false
	}
	return q.heap[0].key, q.heap[0].score, true
}

// Remove deletes key from the queue, if present.
func (q *Indexed[K]) Remove(key K) bool {
	i, ok := q.pos[key]
	if !ok {
		return false
	}
	last := len(q.heap) - 1
	q.swap(i, last)
	q.heap = q.heap[:last]
	delete(q.pos, key)
	if i < last {
		q.fix(i)
	}
	return true
}

// Keys returns all queued keys in heap (not sorted) order.
func (q *Indexed[K]) Keys() []K {
	keys := make([]K, len(q.heap))
	for i, e := range q.heap {
		keys[i] = e.key
	}
	return keys
}

func (q *Indexed[K]) fix(i int) {
	// One of the two is a no-op depending on which way the score moved.
	q.up(i)
	q.down(i)
}

func (q *Indexed[K]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if q.heap[parent].score >= q.heap[i].score {
			break
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *Indexed[K]) down(i int) {
	n := len(q.heap)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		largest := left
		if right := left + 1; right < n && q.heap[right].score > q.heap[left].score {
			largest = right
		}
		if q.heap[i].score >= q.heap[largest].score {
			break
		}
		q.swap(i, largest)
		i = largest
	}
}

func (q *Indexed[K]) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.pos[q.heap[i].key] = i
	q.pos[q.heap[j].key] = j
}
