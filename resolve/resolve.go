// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package resolve walks a DEPS graph hosted on Gitiles into the flat
// path-keyed dependency graph persisted in the manifest, and orchestrates
// the whole pin-update workflow around it.
package resolve

import (
	"context"
	"fmt"
	"path"

	"crpin/clients/gitiles"
	"crpin/gclient"
	"crpin/manifest"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// Resolver turns the DEPS document tree of a pinned root repository into
// a flat dependency graph.
type Resolver struct {
	Client gitiles.Client

	// DepsFile is the name of the root document. Empty means "DEPS".
	DepsFile string

	// Vars are caller overrides applied to every evaluated document.
	Vars map[string]string

	// EvalConditions drops dependencies whose condition evaluates to
	// false. When unset conditions are recorded verbatim and every
	// dependency is kept.
	EvalConditions bool
}

// Stats counts what the walk saw besides the git dependencies it kept.
type Stats struct {
	// CIPDDeps and GCSDeps are declarations skipped for having no git
	// repository to pin.
	CIPDDeps int
	GCSDeps  int

	// Dropped counts dependencies removed by condition evaluation.
	Dropped int
}

// Resolve fetches and walks the DEPS graph of repo at commit, following
// recursedeps, and returns the dependency graph rooted at "src". The root
// entry's revision is always the given commit, whatever the documents
// say.
func (r *Resolver) Resolve(ctx context.Context, repo, commit string) (map[string]*manifest.Dep, *Stats, error) {
	root := gclient.NormalizeURL(repo)
	graph := map[string]*manifest.Dep{
		"src": {URL: root, Rev: commit},
	}
	stats := &Stats{}
	visited := stringset.New(0)
	if err := r.walk(ctx, root, commit, r.depsFile(), "src", graph, stats, visited); err != nil {
		return nil, nil, err
	}
	graph["src"].URL = root
	graph["src"].Rev = commit
	return graph, stats, nil
}

func (r *Resolver) depsFile() string {
	if r.DepsFile == "" {
		return "DEPS"
	}
	return r.DepsFile
}

// walk evaluates one DEPS document and merges its entries into graph,
// descending into recursedeps. Each document is visited at most once.
func (r *Resolver) walk(ctx context.Context, repo, rev, depsFile, parentPath string, graph map[string]*manifest.Dep, stats *Stats, visited stringset.Set) error {
	if !visited.Add(repo + "@" + rev + "/" + depsFile) {
		return nil
	}

	contents, err := r.Client.DownloadFile(ctx, repo, rev, depsFile)
	if err != nil {
		return errors.Annotate(err, "fetching %s of %s@%s", depsFile, repo, rev).Err()
	}
	name := fmt.Sprintf("%s/+/%s/%s", repo, rev, depsFile)
	f, err := gclient.Parse(name, contents, r.Vars)
	if err != nil {
		return err
	}
	logging.Infof(ctx, "Parsed %s: %d git dependencies, %d nested documents", name, len(f.Deps), len(f.Recurse))

	for depPath, dep := range f.Deps {
		abs := depPath
		if f.UseRelativePaths {
			abs = path.Join(parentPath, depPath)
		}
		if abs == "src" {
			// The root entry is owned by the resolver; the resolved
			// commit wins over whatever the document declares.
			logging.Debugf(ctx, "%s declares the root path, ignoring", name)
			continue
		}
		if r.EvalConditions && dep.Condition != "" {
			ok, err := gclient.EvalCondition(dep.Condition, f.Vars)
			if err != nil {
				return errors.Annotate(err, "deps[%q] in %s", abs, name).Err()
			}
			if !ok {
				stats.Dropped++
				continue
			}
		}
		entry := &manifest.Dep{URL: dep.URL, Rev: dep.Rev, Condition: dep.Condition}
		if existing, ok := graph[abs]; ok {
			if existing.URL != entry.URL || existing.Rev != entry.Rev {
				return gclient.ParseFailure.Apply(errors.Reason(
					"conflicting declarations for %q: %s@%s and %s@%s",
					abs, existing.URL, existing.Rev, entry.URL, entry.Rev).Err())
			}
			continue
		}
		graph[abs] = entry
	}
	stats.CIPDDeps += f.CIPDDeps
	stats.GCSDeps += f.GCSDeps

	for _, rec := range f.Recurse {
		abs := rec.Path
		if f.UseRelativePaths {
			abs = path.Join(parentPath, rec.Path)
		}
		entry, ok := graph[abs]
		if !ok {
			logging.Warningf(ctx, "recursedeps in %s names %q, which has no git dependency; skipping", name, abs)
			continue
		}
		if entry.Rev == "" {
			logging.Warningf(ctx, "recursedeps in %s names unpinned %q; skipping", name, abs)
			continue
		}
		if err := r.walk(ctx, entry.URL, entry.Rev, rec.DepsFile, abs, graph, stats, visited); err != nil {
			return err
		}
	}
	return nil
}
