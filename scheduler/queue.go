package scheduler

import (
	"sync"

	composerhttp "github.com/willibrandon/composer-prefetch/http"
)

// Job is one fetch to schedule. Jobs are not modified once pushed.
type Job struct {
	// Origin is the host the fetch is attributed to
	Origin  string
	URL     string
	Headers map[string]string

	// Destination streams the body to a file instead of memory
	Destination string

	Progress composerhttp.ProgressFunc

	// CacheResult keeps the in-memory result for later fetches of the same URL
	CacheResult bool

	// Meta carries caller data to the JobFunc
	Meta any
}

// Queue is a FIFO of jobs shared by the caller and Download. Job callbacks
// may Push while Download is draining it.
type Queue struct {
	mu   sync.Mutex
	jobs []Job
}

// NewQueue returns a queue holding jobs.
func NewQueue(jobs ...Job) *Queue {
	q := &Queue{}
	q.Push(jobs...)
	return q
}

// Push appends jobs to the back of the queue.
func (q *Queue) Push(jobs ...Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, jobs...)
	q.mu.Unlock()
}

// Pop removes the job at the front of the queue.
func (q *Queue) Pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return job, true
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
