package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/cli"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/project"
)

type warmOptions struct {
	Repos []string
	Deep  bool
}

// NewWarmCommand creates the warm command.
func NewWarmCommand(console *output.Console) *cobra.Command {
	opts := &warmOptions{}

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Warm the repository metadata cache",
		Long: `Downloads the root, provider listings and package metadata of every
Composer repository the project uses into the repository cache.

Examples:
  composer-prefetch warm
  composer-prefetch warm -d path/to/project --deep=false
  composer-prefetch warm --repo https://repo.packagist.org`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWarm(cmd.Context(), console, cli.Options.WorkingDir, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Repos, "repo", nil, "Composer repository URL(s) to warm instead of the project's")
	cmd.Flags().BoolVar(&opts.Deep, "deep", true, "Also fetch metadata for the root requirements and their dependencies")

	return cmd
}

func runWarm(ctx context.Context, console *output.Console, dir string, opts *warmOptions) error {
	start := time.Now()

	proj, err := loadProject(dir, len(opts.Repos) > 0)
	if err != nil {
		return err
	}

	var hostOpts []project.HostOption
	if len(opts.Repos) > 0 {
		hostOpts = append(hostOpts, project.WithRepositories(repositoryConfigs(opts.Repos)))
	}
	p, err := activate(ctx, project.NewHost(proj, "update", hostOpts...), console)
	if err != nil {
		return err
	}

	if err := p.PopulateRepoCache(ctx); err != nil {
		return err
	}
	if opts.Deep && len(proj.Require) > 0 {
		if err := p.OnPreDependenciesSolving(ctx, proj.Event()); err != nil {
			return err
		}
	}

	repos := p.Repositories()
	for _, r := range repos {
		if r.Root() == nil {
			console.Warning("%s could not be loaded", r.URL())
			continue
		}
		console.Detail("  %s: %d providers", r.URL(), len(r.Providers()))
	}
	console.Success("Warmed %d repositories in %s", len(repos), time.Since(start).Round(time.Millisecond))
	return nil
}
