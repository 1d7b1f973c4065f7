package commands

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/cli"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/project"
)

// ErrNoLock is returned by commands that need composer.lock.
var ErrNoLock = errors.New("composer.lock not found, run composer update first")

type distOptions struct {
	DryRun bool
}

// NewDistCommand creates the dist command.
func NewDistCommand(console *output.Console) *cobra.Command {
	opts := &distOptions{}

	cmd := &cobra.Command{
		Use:   "dist",
		Short: "Download the locked dist archives into the file cache",
		Long: `Downloads the dist archive of every package in composer.lock into the
Composer file cache, so composer install extracts them without network access.

Examples:
  composer-prefetch dist
  composer-prefetch dist --dry-run -v detailed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDist(cmd.Context(), console, cli.Options.WorkingDir, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Only report which archives are missing")

	return cmd
}

func runDist(ctx context.Context, console *output.Console, dir string, opts *distOptions) error {
	proj, err := loadProject(dir, false)
	if err != nil {
		return err
	}
	if proj.Lock == nil {
		return ErrNoLock
	}

	p, err := activate(ctx, project.NewHost(proj, "install", project.WithDryRun(opts.DryRun)), console)
	if err != nil {
		return err
	}

	ops := proj.Operations()
	if err := p.PopulateFileCache(ctx, ops); err != nil {
		return err
	}

	total, cached := 0, 0
	for _, op := range ops {
		path, _, ok := p.ArchivePath(op.Package())
		if !ok {
			continue
		}
		total++
		if fileExists(path) {
			cached++
			continue
		}
		console.Detail("  missing %s %s", op.Package().Name(), op.Package().Version())
	}

	if opts.DryRun {
		console.Info("%d of %d archives cached, %d to download", cached, total, total-cached)
		return nil
	}
	if cached < total {
		console.Warning("%d archives could not be downloaded", total-cached)
	}
	console.Success("%d of %d archives cached in %s", cached, total, p.Settings().CacheFilesDir)
	return nil
}

// fileExists stats path without recording a file cache lookup.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
