package signal

import "sync"

// DefaultCapacity is the number of samples a queue holds before the oldest
// unread sample is dropped.
const DefaultCapacity = 10

// Queue is a fixed-capacity FIFO of samples with one writer (the sampler)
// and one reader (the odometry consumer).  When full, a push drops the
// oldest unread sample so the freshest data is always retained.
type Queue struct {
	lock    sync.Mutex
	buf     []float64
	head    int // index of the oldest sample
	size    int
	dropped uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		panic("signal: queue capacity must be positive")
	}
	return &Queue{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample if the queue is full.
func (q *Queue) Push(v float64) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.size == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
}

// Drain removes and returns every queued sample, oldest first.
func (q *Queue) Drain() []float64 {
	q.lock.Lock()
	defer q.lock.Unlock()

	out := make([]float64, q.size)
	for i := range out {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.head = 0
	q.size = 0
	return out
}

// Peek returns the newest sample without removing anything.
func (q *Queue) Peek() (float64, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.size == 0 {
		return 0, false
	}
	return q.buf[(q.head+q.size-1)%len(q.buf)], true
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.size
}

func (q *Queue) Cap() int {
	return len(q.buf)
}

// Dropped is the number of samples evicted by overflow since creation.
func (q *Queue) Dropped() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped
}

// Reader is the read-only view handed to consumers.
type Reader interface {
	Drain() []float64
	Peek() (float64, bool)
	Len() int
	Cap() int
}

var _ Reader = (*Queue)(nil)
