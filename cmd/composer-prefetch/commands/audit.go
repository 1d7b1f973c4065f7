package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/composer-prefetch/audit"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/cli"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
	composerhttp "github.com/willibrandon/composer-prefetch/http"
)

// AdvisoriesError is returned when installed packages are affected by
// security advisories.
type AdvisoriesError struct {
	Count int
}

func (e *AdvisoriesError) Error() string {
	return fmt.Sprintf("found %d security advisories", e.Count)
}

type auditOptions struct {
	Feed  string
	NoDev bool
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(console *output.Console) *cobra.Command {
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check locked packages against security advisories",
		Long: `Looks up every package in composer.lock in the security advisory feed
and reports the advisories affecting the locked versions. Exits non-zero
when any are found.

Examples:
  composer-prefetch audit
  composer-prefetch audit --no-dev --feed https://packagist.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), console, cli.Options.WorkingDir, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Feed, "feed", audit.DefaultFeedURL, "Security advisory API base URL")
	cmd.Flags().BoolVar(&opts.NoDev, "no-dev", false, "Skip packages-dev")

	return cmd
}

func runAudit(ctx context.Context, console *output.Console, dir string, opts *auditOptions) error {
	proj, err := loadProject(dir, false)
	if err != nil {
		return err
	}
	if proj.Lock == nil {
		return ErrNoLock
	}

	locked := proj.Lock.Packages
	if !opts.NoDev {
		locked = proj.Lock.All()
	}
	installed := make([]audit.Installed, 0, len(locked))
	for _, pkg := range locked {
		installed = append(installed, audit.Installed{Name: pkg.Name(), Version: pkg.Version()})
	}

	logger := cli.Options.Logger()
	client := composerhttp.NewClientWithOptions(composerhttp.WithLogger(logger))
	feed := audit.NewHTTPFeed(opts.Feed, client, logger)

	findings, err := audit.Check(ctx, feed, installed)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		console.Success("No security advisories found for %d packages", len(installed))
		return nil
	}

	for _, f := range findings {
		id := f.Advisory.CVE
		if id == "" {
			id = f.Advisory.ID
		}
		console.Warning("%s %s: %s (%s)", f.Package.Name, f.Package.Version, f.Advisory.Title, id)
		if f.Advisory.Severity != "" {
			console.Detail("  severity: %s", f.Advisory.Severity)
		}
		console.Detail("  affected: %s", f.Advisory.AffectedVersions)
		if f.Advisory.Link != "" {
			console.Detail("  %s", f.Advisory.Link)
		}
		console.Detail("  %s", f.PURL)
	}
	return &AdvisoriesError{Count: len(findings)}
}
