// Package collaborators documents the one external collaborator this
// repository deliberately does not implement: a scripting surface for
// submitting multi-op scripts (spec.md §4.12). A scripting hook would
// need multi-key transactional isolation beyond read-committed, which is
// out of scope (see SPEC_FULL.md Non-goals), so this package is a stub
// for documentation purposes only — no caller ever constructs a Script.
package collaborators

import "context"

// Script is the shape a scripting collaborator would expose if one were
// ever built: a named, pre-compiled unit of work run against an engine
// handle. Nothing in this repository implements Runner.
type Script struct {
	Name   string
	Source string
}

// Runner is never implemented here. It is named so future work has a
// concrete interface to build against instead of starting from scratch.
type Runner interface {
	Run(ctx context.Context, script Script) error
}
