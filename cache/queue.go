package cache

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkaberg/netcache/metrics"
)

// FetchRequest asks the worker to refresh Name, not before NotBefore.
type FetchRequest struct {
	Name      string    `json:"name"`
	NotBefore time.Time `json:"notBefore"`
}

type queueItem struct {
	FetchRequest
	seq uint64
}

// fetchHeap orders requests by NotBefore, then by insertion order.
type fetchHeap []queueItem

func (h fetchHeap) Len() int { return len(h) }

func (h fetchHeap) Less(i, j int) bool {
	if h[i].NotBefore.Equal(h[j].NotBefore) {
		return h[i].seq < h[j].seq
	}
	return h[i].NotBefore.Before(h[j].NotBefore)
}

func (h fetchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fetchHeap) Push(x interface{}) {
	*h = append(*h, x.(queueItem))
}

func (h *fetchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Queue holds pending fetch requests, at most one per name.
type Queue struct {
	mu      *sync.Mutex
	items   fetchHeap
	pending map[string]struct{}
	seq     uint64
	log     zerolog.Logger
}

func newQueue(mu *sync.Mutex, l zerolog.Logger) *Queue {
	return &Queue{
		mu:      mu,
		pending: make(map[string]struct{}),
		log:     l,
	}
}

// Push adds a request for name. It returns false, and changes nothing, when
// name is already queued.
func (q *Queue) Push(name string, notBefore time.Time) bool {
	q.mu.Lock()
	if _, ok := q.pending[name]; ok {
		q.mu.Unlock()
		q.log.Debug().Str("file", name).Msg("fetch already queued")
		return false
	}

	q.seq++
	heap.Push(&q.items, queueItem{
		FetchRequest: FetchRequest{Name: name, NotBefore: notBefore},
		seq:          q.seq,
	})
	q.pending[name] = struct{}{}
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	return true
}

// Pop removes the earliest request.
func (q *Queue) Pop() (FetchRequest, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return FetchRequest{}, false
	}

	it := heap.Pop(&q.items).(queueItem)
	delete(q.pending, it.Name)
	n := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueLength(n)
	return it.FetchRequest, true
}

func (q *Queue) Peek() (FetchRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return FetchRequest{}, false
	}
	return q.items[0].FetchRequest, true
}

func (q *Queue) Contains(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[name]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the pending requests in the order they will be served.
func (q *Queue) Snapshot() []FetchRequest {
	q.mu.Lock()
	items := make(fetchHeap, len(q.items))
	copy(items, q.items)
	q.mu.Unlock()

	sort.Sort(items)
	out := make([]FetchRequest, len(items))
	for i, it := range items {
		out[i] = it.FetchRequest
	}
	return out
}
