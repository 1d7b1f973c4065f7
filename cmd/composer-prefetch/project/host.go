package project

import (
	"github.com/willibrandon/composer-prefetch/config"
	"github.com/willibrandon/composer-prefetch/prefetch"
)

// Host runs the prefetcher against a project outside a package manager.
// It implements prefetch.Host.
type Host struct {
	project *Project
	command string
	dryRun  bool
	repos   []prefetch.RepositoryConfig
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithDryRun marks the run as a dry run.
func WithDryRun(dryRun bool) HostOption {
	return func(h *Host) { h.dryRun = dryRun }
}

// WithRepositories replaces the project's repositories.
func WithRepositories(repos []prefetch.RepositoryConfig) HostOption {
	return func(h *Host) { h.repos = repos }
}

// NewHost creates a host running command against p.
func NewHost(p *Project, command string, opts ...HostOption) *Host {
	h := &Host{project: p, command: command, repos: p.Repositories}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Command() string { return h.command }

func (h *Host) Plugins() []string {
	if h.project.Lock == nil {
		return nil
	}
	return h.project.Lock.Plugins()
}

func (h *Host) WorkingDir() string        { return h.project.Dir }
func (h *Host) Config() config.HostConfig { return h.project.Config }
func (h *Host) DryRun() bool              { return h.dryRun }

func (h *Host) RepositoryManager() prefetch.RepositoryManager {
	return repositories(h.repos)
}

type repositories []prefetch.RepositoryConfig

func (r repositories) Repositories() []prefetch.RepositoryConfig { return r }
