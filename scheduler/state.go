package scheduler

import (
	"sync"
	"time"
)

const (
	// minRenderStep is the smallest percentage change that is rendered
	minRenderStep = 1
	// eagerRenderStep is rendered immediately, regardless of renderInterval
	eagerRenderStep = 5
	renderInterval  = time.Second
)

// TransferState is the aggregate progress of one Download session.
type TransferState struct {
	// JobCount is the number of fetches started in the session
	JobCount int

	// BytesMaxCount is the number of fetches whose size is known
	BytesMaxCount int
	// BytesMax is the sum of the known sizes
	BytesMax int64
	// BytesTransferred is the sum of bytes received
	BytesTransferred int64

	NestingLevel      int
	MaxNestingReached bool

	LastProgress float64
	LastUpdate   time.Time
}

// Percent weights the byte ratio by the share of fetches whose size is known,
// so a session does not report 100% while sizes are still arriving.
func (s *TransferState) Percent() float64 {
	if s.BytesMax <= 0 || s.JobCount == 0 {
		return 0
	}
	ratio := float64(s.BytesTransferred) / float64(s.BytesMax)
	known := float64(s.BytesMaxCount) / float64(s.JobCount)
	pct := ratio * known * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// shouldRender applies the throttle: at least one point of progress, and
// either five points or a second since the last render.
func (s *TransferState) shouldRender(pct float64, now time.Time) bool {
	delta := pct - s.LastProgress
	if delta < minRenderStep {
		return false
	}
	return delta >= eagerRenderStep || now.Sub(s.LastUpdate) >= renderInterval
}

// sessionState guards a TransferState shared by the session's workers.
type sessionState struct {
	mu    sync.Mutex
	state TransferState
}

func (ss *sessionState) snapshot() TransferState {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

func (ss *sessionState) update(fn func(*TransferState)) {
	ss.mu.Lock()
	fn(&ss.state)
	ss.mu.Unlock()
}

// advance records progress and returns the percentage to render, if any.
func (ss *sessionState) advance(fn func(*TransferState), now time.Time) (float64, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	fn(&ss.state)
	pct := ss.state.Percent()
	if !ss.state.shouldRender(pct, now) {
		return 0, false
	}
	ss.state.LastProgress = pct
	ss.state.LastUpdate = now
	return pct, true
}
