// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package resolve

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"crpin/clients/gitiles"
	"crpin/manifest"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// HashFailure tags errors from digest computation. A single failed digest
// aborts the whole run, since a partially hashed graph must never be
// persisted.
var HashFailure = errors.BoolTag{Key: errors.NewTagKey("hash_compute_failure")}

// DefaultHashWorkers is how many archive fetches run concurrently unless
// the caller picks a limit.
const DefaultHashWorkers = 8

// computeHashes fills in the Hash field of every graph entry. Digests are
// SHA-256 over the uncompressed tar stream of the repository's Gitiles
// archive, SRI-encoded; the gzip wrapper is excluded because its header
// is not reproducible across servers. Entries on hosts without an archive
// endpoint, and all entries when skip is set, get the placeholder digest
// the downstream build knows to repair.
func computeHashes(ctx context.Context, client gitiles.Client, graph map[string]*manifest.Dep, workers int, skip bool) error {
	if workers <= 0 {
		workers = DefaultHashWorkers
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, p := range sortedPaths(graph) {
		dep := graph[p]
		switch {
		case skip:
			dep.Hash = manifest.PlaceholderHash
		case !gitiles.SupportsArchive(dep.URL):
			logging.Debugf(ctx, "%s: %s has no archive endpoint, using the placeholder digest", p, dep.URL)
			dep.Hash = manifest.PlaceholderHash
		case dep.Rev == "":
			logging.Warningf(ctx, "%s is unpinned, using the placeholder digest", p)
			dep.Hash = manifest.PlaceholderHash
		default:
			p, dep := p, dep
			eg.Go(func() error {
				archive, err := client.Archive(egCtx, dep.URL, dep.Rev)
				if err != nil {
					return HashFailure.Apply(errors.Annotate(err, "computing digest for %q", p).Err())
				}
				digest, err := tarStreamDigest(archive)
				if err != nil {
					return HashFailure.Apply(errors.Annotate(err, "computing digest for %q", p).Err())
				}
				dep.Hash = digest
				logging.Debugf(ctx, "%s@%.12s is %s", p, dep.Rev, digest)
				return nil
			})
		}
	}
	return eg.Wait()
}

// tarStreamDigest hashes the decompressed payload of a gzipped tar
// archive and returns the SRI-encoded digest.
func tarStreamDigest(archive []byte) (string, error) {
	gr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return "", errors.Annotate(err, "decompressing archive").Err()
	}
	defer gr.Close()
	h := sha256.New()
	if _, err := io.Copy(h, gr); err != nil {
		return "", errors.Annotate(err, "decompressing archive").Err()
	}
	return "sha256-" + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func sortedPaths(graph map[string]*manifest.Dep) []string {
	paths := make([]string, 0, len(graph))
	for p := range graph {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
