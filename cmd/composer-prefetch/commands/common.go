// Package commands implements the composer-prefetch subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/cli"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/project"
	"github.com/willibrandon/composer-prefetch/config"
	"github.com/willibrandon/composer-prefetch/prefetch"
	"github.com/willibrandon/composer-prefetch/scheduler"
)

// ErrDisabled is returned when activation left the prefetcher disabled
// without an error, e.g. because a competing plugin is locked.
var ErrDisabled = errors.New("prefetching is disabled for this project")

// loadProject loads the project in dir. A directory without composer.json
// is accepted when allowMissing is set, so repositories given on the
// command line can be warmed from anywhere.
func loadProject(dir string, allowMissing bool) (*project.Project, error) {
	p, err := project.Load(dir)
	if err == nil {
		return p, nil
	}
	if allowMissing && errors.Is(err, fs.ErrNotExist) {
		return &project.Project{Dir: dir, Config: config.MapConfig{}}, nil
	}
	return nil, err
}

// activate builds and activates a prefetcher for host. Progress bars are
// drawn on stderr unless the console is quiet.
func activate(ctx context.Context, host prefetch.Host, console *output.Console) (*prefetch.Prefetcher, error) {
	opts := []prefetch.Option{prefetch.WithLogger(cli.Options.Logger())}
	if console.Verbosity() > output.VerbosityQuiet {
		opts = append(opts, prefetch.WithRenderer(scheduler.NewBarRenderer(os.Stderr)))
	}

	p := prefetch.New(host, opts...)
	if err := p.Activate(ctx); err != nil {
		return nil, err
	}
	if p.State() == prefetch.Disabled {
		return nil, ErrDisabled
	}
	return p, nil
}

// repositoryConfigs turns --repo URLs into composer repositories.
func repositoryConfigs(urls []string) []prefetch.RepositoryConfig {
	repos := make([]prefetch.RepositoryConfig, 0, len(urls))
	for i, u := range urls {
		repos = append(repos, prefetch.RepositoryConfig{
			Name: fmt.Sprintf("repo%d", i),
			Type: "composer",
			URL:  u,
		})
	}
	return repos
}
