package ingest

import (
	"sync"

	"github.com/Virrpe/saaspype-trends/internal/metrics"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Intake is the bounded queue between event producers and the tick loop.
// Producers never block: when the queue is full the oldest unprocessed event
// is dropped and counted. This is documented lossy behaviour under overload.
type Intake struct {
	mu      sync.Mutex
	buf     []models.ContentEvent
	head    int
	size    int
	dropped uint64
	invalid uint64
}

// NewIntake creates a queue holding up to capacity events.
func NewIntake(capacity int) *Intake {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Intake{buf: make([]models.ContentEvent, capacity)}
}

// Offer enqueues an event. Malformed events are rejected outright; on
// overflow the oldest queued event is displaced. The return value reports
// whether the offered event itself was accepted.
func (q *Intake) Offer(event models.ContentEvent) bool {
	if !event.Valid() {
		q.mu.Lock()
		q.invalid++
		q.mu.Unlock()
		metrics.EventDropped(metrics.DropMalformed)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.buf) {
		// Displace the oldest event.
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		metrics.EventDropped(metrics.DropOverflow)
	}
	tail := (q.head + q.size) % len(q.buf)
	q.buf[tail] = event
	q.size++
	return true
}

// Drain removes and returns up to max queued events in arrival order.
func (q *Intake) Drain(max int) []models.ContentEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	n := q.size
	if max > 0 && max < n {
		n = max
	}
	out := make([]models.ContentEvent, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.head = (q.head + n) % len(q.buf)
	q.size -= n
	return out
}

// Len reports the number of queued events.
func (q *Intake) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped reports how many events were displaced by overflow.
func (q *Intake) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Invalid reports how many malformed events were rejected.
func (q *Intake) Invalid() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.invalid
}
