package prefetch

import (
	"context"
	"fmt"
)

// Host event names.
const (
	EventCommand                 = "command"
	EventPreDependenciesSolving  = "pre-dependencies-solving"
	EventPostDependenciesSolving = "post-dependencies-solving"
	EventPrePackageInstall       = "pre-package-install"
	EventPrePackageUpdate        = "pre-package-update"
	EventPreFileDownload         = "pre-file-download"
)

// SubscribedEvents maps each handled event to the handler that Dispatch
// runs for it.
func (p *Prefetcher) SubscribedEvents() map[string]string {
	return map[string]string{
		EventCommand:                 "PopulateRepoCache",
		EventPreDependenciesSolving:  "OnPreDependenciesSolving",
		EventPostDependenciesSolving: "OnPostDependenciesSolving",
		EventPrePackageInstall:       "OnPreInstallOrUpdate",
		EventPrePackageUpdate:        "OnPreInstallOrUpdate",
		EventPreFileDownload:         "OnPreFileDownload",
	}
}

// Dispatch runs the handler subscribed to event. Unsubscribed events are
// ignored; a payload of the wrong type is an error.
func (p *Prefetcher) Dispatch(ctx context.Context, event string, payload any) error {
	handler, ok := p.SubscribedEvents()[event]
	if !ok || p.disabled() {
		return nil
	}

	switch handler {
	case "PopulateRepoCache":
		return p.PopulateRepoCache(ctx)
	case "OnPreFileDownload":
		ev, ok := payload.(FileDownloadEvent)
		if !ok {
			return &PayloadError{Event: event, Payload: payload}
		}
		return p.OnPreFileDownload(ctx, ev)
	}

	ev, ok := payload.(InstallerEvent)
	if !ok {
		return &PayloadError{Event: event, Payload: payload}
	}
	switch handler {
	case "OnPreDependenciesSolving":
		return p.OnPreDependenciesSolving(ctx, ev)
	case "OnPostDependenciesSolving":
		return p.OnPostDependenciesSolving(ctx, ev)
	default:
		return p.OnPreInstallOrUpdate(ctx, ev)
	}
}

// PayloadError reports an event dispatched with a payload its handler
// cannot use.
type PayloadError struct {
	Event   string
	Payload any
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("event %s: unexpected payload %T", e.Event, e.Payload)
}
