// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package resolve

import (
	"context"

	"crpin/clients/gitiles"
	"crpin/manifest"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// Stage identifies where a pin-update run currently is. Failures are
// reported with the stage they happened in.
type Stage int

const (
	Idle Stage = iota
	ResolvingVersion
	FetchingGraph
	ComputingHashes
	WritingManifest
	Done
	Failed
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ResolvingVersion:
		return "ResolvingVersion"
	case FetchingGraph:
		return "FetchingGraph"
	case ComputingHashes:
		return "ComputingHashes"
	case WritingManifest:
		return "WritingManifest"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Workflow runs one pin update end to end: resolve the version tag, walk
// the DEPS graph, compute digests, merge into the manifest. The manifest
// file is only touched in the final stage, and only through an atomic
// replace, so a failed or cancelled run leaves it byte-identical.
type Workflow struct {
	Client gitiles.Client

	// Manifest is the path of the manifest file to update.
	Manifest string
	// Repo is the root repository URL.
	Repo string
	// Version is the release tag to pin.
	Version string

	// DepsFile, Vars and EvalConditions configure the Resolver.
	DepsFile       string
	Vars           map[string]string
	EvalConditions bool

	// SkipHashes writes the placeholder digest for every entry instead
	// of fetching archives.
	SkipHashes bool
	// HashWorkers bounds concurrent archive fetches; 0 means
	// DefaultHashWorkers.
	HashWorkers int

	stage Stage
}

// Result summarizes a successful run.
type Result struct {
	// Commit is the commit the version tag resolved to.
	Commit string
	// Deps is the number of entries in the written dependency graph.
	Deps int
}

// Stage reports the stage the workflow is in.
func (w *Workflow) Stage() Stage {
	return w.stage
}

// Run executes the workflow. The returned error names the stage it
// happened in and leaves the manifest file untouched unless the failure
// came from the atomic replace itself.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	m, err := manifest.Load(w.Manifest)
	if err != nil {
		return nil, w.fail(errors.Annotate(err, "loading manifest %s", w.Manifest).Err())
	}

	w.advance(ctx, ResolvingVersion, "Resolving version %s in %s", w.Version, w.Repo)
	commit, err := w.Client.ResolveTag(ctx, w.Repo, w.Version)
	if err != nil {
		return nil, w.fail(err)
	}
	logging.Infof(ctx, "Version %s is commit %s", w.Version, commit)

	w.advance(ctx, FetchingGraph, "Fetching the DEPS graph at %s", commit)
	r := &Resolver{
		Client:         w.Client,
		DepsFile:       w.DepsFile,
		Vars:           w.Vars,
		EvalConditions: w.EvalConditions,
	}
	graph, stats, err := r.Resolve(ctx, w.Repo, commit)
	if err != nil {
		return nil, w.fail(err)
	}
	logging.Infof(ctx, "Resolved %d git dependencies (skipped %d cipd and %d gcs entries)", len(graph), stats.CIPDDeps, stats.GCSDeps)
	if stats.Dropped > 0 {
		logging.Infof(ctx, "Dropped %d dependencies whose conditions evaluated to false", stats.Dropped)
	}

	workers := w.HashWorkers
	if workers <= 0 {
		workers = DefaultHashWorkers
	}
	w.advance(ctx, ComputingHashes, "Computing digests for %d dependencies with %d workers", len(graph), workers)
	if err := computeHashes(ctx, w.Client, graph, workers, w.SkipHashes); err != nil {
		return nil, w.fail(err)
	}

	w.advance(ctx, WritingManifest, "Writing %d dependencies to %s", len(graph), w.Manifest)
	m.SetVersion(w.Version)
	m.SetDeps(graph)
	if err := m.Write(w.Manifest); err != nil {
		return nil, w.fail(err)
	}

	w.advance(ctx, Done, "Pinned %s at %s with %d dependencies", w.Version, commit, len(graph))
	return &Result{Commit: commit, Deps: len(graph)}, nil
}

func (w *Workflow) advance(ctx context.Context, s Stage, format string, args ...any) {
	w.stage = s
	logging.Infof(ctx, format, args...)
}

// fail finalizes the workflow in the Failed stage, annotating the error
// with the stage it came from.
func (w *Workflow) fail(err error) error {
	at := w.stage
	w.stage = Failed
	return errors.Annotate(err, "stage %s", at).Err()
}
