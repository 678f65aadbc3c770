package chat

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiryQueue orders pending message expirations by deadline. A single
// sweep loop drains it, so the number of live messages costs no timers.
type ExpiryQueue struct {
	mu       sync.Mutex
	items    expiryHeap
	byID     map[string]*expiryItem
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

type expiryItem struct {
	messageID string
	roomID    string
	at        time.Time
	index     int
}

// Expiration identifies a message whose deadline has passed.
type Expiration struct {
	MessageID string
	RoomID    string
	At        time.Time
}

// NewExpiryQueue builds a queue swept every interval.
func NewExpiryQueue(interval time.Duration, now func() time.Time, log *slog.Logger) *ExpiryQueue {
	if now == nil {
		now = time.Now
	}
	return &ExpiryQueue{
		byID:     make(map[string]*expiryItem),
		interval: interval,
		now:      now,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Schedule registers or moves the deadline of a message.
func (q *ExpiryQueue) Schedule(messageID, roomID string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.byID[messageID]; ok {
		item.at = at
		heap.Fix(&q.items, item.index)
		return
	}
	item := &expiryItem{messageID: messageID, roomID: roomID, at: at}
	heap.Push(&q.items, item)
	q.byID[messageID] = item
}

// Cancel drops the pending expiration of a message, if any.
func (q *ExpiryQueue) Cancel(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[messageID]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, messageID)
	return true
}

// CancelRoom drops every pending expiration of a room and returns how many.
func (q *ExpiryQueue) CancelRoom(roomID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancelled := 0
	for id, item := range q.byID {
		if item.roomID != roomID {
			continue
		}
		heap.Remove(&q.items, item.index)
		delete(q.byID, id)
		cancelled++
	}
	return cancelled
}

// Len reports the number of pending expirations.
func (q *ExpiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PopDue removes and returns every entry whose deadline is not after now.
func (q *ExpiryQueue) PopDue(now time.Time) []Expiration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Expiration
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		item := heap.Pop(&q.items).(*expiryItem)
		delete(q.byID, item.messageID)
		due = append(due, Expiration{MessageID: item.messageID, RoomID: item.roomID, At: item.at})
	}
	return due
}

// Run sweeps the queue until ctx is done or Stop is called.
func (q *ExpiryQueue) Run(ctx context.Context, expire func(context.Context, Expiration)) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-ticker.C:
			for _, e := range q.PopDue(q.now()) {
				expire(ctx, e)
			}
		}
	}
}

// Stop ends the sweep loop and forgets every pending expiration.
func (q *ExpiryQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		pending := len(q.items)
		q.items = nil
		q.byID = make(map[string]*expiryItem)
		q.mu.Unlock()
		if q.log != nil {
			q.log.Debug("expiry queue stopped", "pending", pending)
		}
	})
}

type expiryHeap []*expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	item := x.(*expiryItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
