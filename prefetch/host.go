package prefetch

import (
	"github.com/willibrandon/composer-prefetch/config"
)

// Link is a dependency edge from a package to a target package name.
type Link interface {
	Target() string
	Constraint() string
}

// Package is the part of a host package the prefetcher reads.
type Package interface {
	Name() string
	Version() string

	Requires() []Link
	Conflicts() []Link
	Replaces() []Link

	DistType() string
	DistURL() string
	DistMirrors() []string
	DistReference() string
}

// Pool answers which packages satisfy a name and constraint.
type Pool interface {
	WhatProvides(name, constraint string, bypassFilters bool) []Package
}

// SolverJob is one entry of a solver request.
type SolverJob struct {
	// Command is "install", "update" or "remove"
	Command     string
	PackageName string
	Constraint  string
}

// Request is the set of jobs handed to the solver.
type Request interface {
	Jobs() []SolverJob
}

// Operation is one step of a solved transaction.
type Operation interface {
	// JobType is "install", "update", "uninstall", ...
	JobType() string
	// Package is the installed package, or the target of an update
	Package() Package
}

// InstallerEvent carries the solver inputs and, once solved, its operations.
// Package install and update events use the same shape.
type InstallerEvent interface {
	Pool() Pool
	Request() Request
	Operations() []Operation
}

// FileDownloadEvent is raised before the host downloads a file.
type FileDownloadEvent interface {
	ProcessedURL() string
	SetRemoteFilesystem(rfs *RemoteFilesystem)
}

// RepositoryConfig is one configured repository.
type RepositoryConfig struct {
	Name string
	// Type is the repository type: "composer", "vcs", "path", ...
	Type               string
	URL                string
	ForceLazyProviders bool
}

// RepositoryManager lists the host's repositories.
type RepositoryManager interface {
	Repositories() []RepositoryConfig
}

// Host is the package manager the prefetcher is attached to.
type Host interface {
	// Command is the running command name, e.g. "install"
	Command() string
	// Plugins lists the names of the loaded plugins
	Plugins() []string
	WorkingDir() string
	Config() config.HostConfig
	RepositoryManager() RepositoryManager
	DryRun() bool
}
