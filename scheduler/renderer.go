package scheduler

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Renderer displays the aggregate progress of a Download session.
type Renderer interface {
	Start(jobs int)
	Render(percent int)
	Finish()
}

// RenderFunc adapts a function to a Renderer that only receives updates.
type RenderFunc func(percent int)

func (f RenderFunc) Start(int)          {}
func (f RenderFunc) Render(percent int) { f(percent) }
func (f RenderFunc) Finish()            {}

// BarRenderer draws a progress bar on a terminal. On anything else it
// renders nothing.
type BarRenderer struct {
	output io.Writer
	isTTY  bool

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarRenderer creates a renderer writing to w.
func NewBarRenderer(w io.Writer) *BarRenderer {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &BarRenderer{output: w, isTTY: isTTY}
}

// IsTTY reports whether the renderer draws anything.
func (r *BarRenderer) IsTTY() bool {
	return r.isTTY
}

// Start begins a bar for a session.
func (r *BarRenderer) Start(jobs int) {
	if !r.isTTY {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(r.output),
		progressbar.OptionSetDescription(downloadDescription(jobs)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Render moves the bar to percent.
func (r *BarRenderer) Render(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Set(percent)
	}
}

// Finish completes and clears the bar.
func (r *BarRenderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func downloadDescription(jobs int) string {
	if jobs == 1 {
		return "Prefetching 1 file"
	}
	return fmt.Sprintf("Prefetching %d files", jobs)
}
