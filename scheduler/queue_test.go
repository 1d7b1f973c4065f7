package scheduler

import (
	"fmt"
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(Job{URL: "a"}, Job{URL: "b"})
	q.Push(Job{URL: "c"})

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		job, ok := q.Pop()
		if !ok || job.URL != want {
			t.Fatalf("Pop() = %q, %v; want %q", job.URL, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue should report false")
	}
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := NewQueue()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				q.Push(Job{URL: fmt.Sprintf("%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var mu sync.Mutex
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[job.URL] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("popped %d distinct jobs, want 800", len(seen))
	}
}
