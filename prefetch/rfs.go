package prefetch

import (
	"context"
	"sync"

	"github.com/willibrandon/composer-prefetch/scheduler"
)

// RemoteFilesystem replaces the host's downloader for single files so they
// share the scheduler's connection pool and result cache.
type RemoteFilesystem struct {
	dl *scheduler.Downloader

	mu   sync.Mutex
	next map[string]string
}

func newRemoteFilesystem(dl *scheduler.Downloader) *RemoteFilesystem {
	return &RemoteFilesystem{dl: dl}
}

// SetNextOptions sets headers for the next GetContents or Copy only.
func (r *RemoteFilesystem) SetNextOptions(headers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = headers
}

func (r *RemoteFilesystem) takeOptions() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.next
	r.next = nil
	return h
}

// GetContents fetches fileURL into memory.
func (r *RemoteFilesystem) GetContents(ctx context.Context, originHost, fileURL string) ([]byte, error) {
	resp, err := r.dl.Fetch(ctx, scheduler.Job{
		Origin:  originHost,
		URL:     fileURL,
		Headers: r.takeOptions(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Copy fetches fileURL into dest.
func (r *RemoteFilesystem) Copy(ctx context.Context, originHost, fileURL, dest string) error {
	_, err := r.dl.Fetch(ctx, scheduler.Job{
		Origin:      originHost,
		URL:         fileURL,
		Headers:     r.takeOptions(),
		Destination: dest,
	})
	return err
}

// OnPreFileDownload routes the host's next download through the scheduler.
func (p *Prefetcher) OnPreFileDownload(ctx context.Context, ev FileDownloadEvent) error {
	if p.disabled() {
		return nil
	}
	ev.SetRemoteFilesystem(p.rfs)
	return nil
}

// RemoteFilesystem returns the shared remote filesystem, or nil before
// activation.
func (p *Prefetcher) RemoteFilesystem() *RemoteFilesystem {
	return p.rfs
}
