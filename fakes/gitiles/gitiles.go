// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gitiles provides an in-memory gitiles.Client serving fixed fake
// data for tests.
package gitiles

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crpin/clients/gitiles"
	"sort"

	"go.chromium.org/luci/common/errors"
)

// Repo is the fake data for a single repository.
type Repo struct {
	// Tags maps tag names to commit IDs.
	Tags map[string]string

	// Files maps "committish/path" to file contents.
	Files map[string]string

	// Archives maps committishes to gzipped tar archives, typically
	// built with the Archive helper.
	Archives map[string][]byte
}

// Client serves fake data for a set of repositories, keyed by their URL.
// Missing repositories, tags, files and archives all report not-found,
// the way the live service does.
type Client struct {
	Repos map[string]*Repo
}

var _ gitiles.Client = (*Client)(nil)

func (c *Client) repo(url string) (*Repo, error) {
	repo, ok := c.Repos[url]
	if !ok {
		return nil, gitiles.NotFound.Apply(errors.Reason("unknown repository %q", url).Err())
	}
	return repo, nil
}

func (c *Client) ResolveTag(ctx context.Context, repoURL, tag string) (string, error) {
	repo, err := c.repo(repoURL)
	if err != nil {
		return "", err
	}
	commit, ok := repo.Tags[tag]
	if !ok {
		return "", gitiles.NotFound.Apply(errors.Reason("unknown tag %q in %s", tag, repoURL).Err())
	}
	return commit, nil
}

func (c *Client) DownloadFile(ctx context.Context, repoURL, committish, path string) (string, error) {
	repo, err := c.repo(repoURL)
	if err != nil {
		return "", err
	}
	contents, ok := repo.Files[committish+"/"+path]
	if !ok {
		return "", gitiles.NotFound.Apply(errors.Reason("unknown file %q at %s@%s", path, repoURL, committish).Err())
	}
	return contents, nil
}

func (c *Client) Archive(ctx context.Context, repoURL, committish string) ([]byte, error) {
	repo, err := c.repo(repoURL)
	if err != nil {
		return nil, err
	}
	archive, ok := repo.Archives[committish]
	if !ok {
		return nil, gitiles.NotFound.Apply(errors.Reason("no archive of %s@%s", repoURL, committish).Err())
	}
	return archive, nil
}

// Archive builds a gzipped tar archive holding the given files, in sorted
// path order so identical inputs produce identical bytes.
func Archive(files map[string]string) []byte {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, p := range paths {
		if err := tw.WriteHeader(&tar.Header{
			Name: p,
			Mode: 0644,
			Size: int64(len(files[p])),
		}); err != nil {
			panic(err)
		}
		if _, err := tw.Write([]byte(files[p])); err != nil {
			panic(err)
		}
	}
	if err := tw.Close(); err != nil {
		panic(err)
	}
	if err := gw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
