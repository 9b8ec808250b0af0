// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gitiles is a read-only client for the Gitiles REST API, covering
// the three requests the pin-update workflow needs: tag resolution, file
// download and tree archives.
package gitiles

import (
	"bytes"
	"context"
	"crpin/gclient"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"
)

// NotFound tags errors for tags, revisions or files that do not exist
// upstream. Such errors are fatal and never retried.
var NotFound = errors.BoolTag{Key: errors.NewTagKey("gitiles_not_found")}

// Client is the subset of the Gitiles API the resolver depends on. Tests
// substitute an in-memory implementation.
type Client interface {
	// ResolveTag returns the commit ID tagged refs/tags/<tag> in repo.
	ResolveTag(ctx context.Context, repo, tag string) (string, error)

	// DownloadFile returns the contents of the file at path in repo at
	// the given committish.
	DownloadFile(ctx context.Context, repo, committish, path string) (string, error)

	// Archive returns the gzipped tar archive of the repository tree at
	// the given committish.
	Archive(ctx context.Context, repo, committish string) ([]byte, error)
}

// RESTClient talks to Gitiles hosts over their JSON/TEXT REST endpoints.
type RESTClient struct {
	// Client makes the requests; it should carry any authentication the
	// host demands.
	Client *http.Client

	// MetaTimeout bounds each metadata request (tag lookup, file
	// download). ArchiveTimeout bounds each archive download, which for
	// large trees runs far longer.
	MetaTimeout    time.Duration
	ArchiveTimeout time.Duration
}

var _ Client = (*RESTClient)(nil)

// NewClient returns a RESTClient with default timeouts. A nil http client
// uses http.DefaultClient.
func NewClient(c *http.Client) *RESTClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &RESTClient{
		Client:         c,
		MetaTimeout:    time.Minute,
		ArchiveTimeout: 30 * time.Minute,
	}
}

var commitRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

func (c *RESTClient) ResolveTag(ctx context.Context, repo, tag string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/+/refs/tags/%s?format=JSON", repo, url.PathEscape(tag)), c.MetaTimeout, "gitiles_resolve_tag")
	if err != nil {
		return "", errors.Annotate(err, "resolving tag %q in %s", tag, repo).Err()
	}
	payload, err := stripXSSIPrefix(body)
	if err != nil {
		return "", gclient.ParseFailure.Apply(errors.Annotate(err, "resolving tag %q in %s", tag, repo).Err())
	}
	var commit struct {
		Commit string `json:"commit"`
	}
	if err := json.Unmarshal(payload, &commit); err != nil {
		return "", gclient.ParseFailure.Apply(errors.Annotate(err, "resolving tag %q in %s", tag, repo).Err())
	}
	if !commitRe.MatchString(commit.Commit) {
		return "", gclient.ParseFailure.Apply(errors.Reason("resolving tag %q in %s: response has no 40-hex commit", tag, repo).Err())
	}
	return commit.Commit, nil
}

func (c *RESTClient) DownloadFile(ctx context.Context, repo, committish, path string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/+/%s/%s?format=TEXT", repo, committish, path), c.MetaTimeout, "gitiles_download_file")
	if err != nil {
		return "", errors.Annotate(err, "downloading %s from %s@%s", path, repo, committish).Err()
	}
	// ?format=TEXT responds with the base64-encoded file body.
	decoded, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(body)))
	if err != nil {
		return "", gclient.ParseFailure.Apply(errors.Annotate(err, "decoding %s from %s@%s", path, repo, committish).Err())
	}
	return string(decoded), nil
}

func (c *RESTClient) Archive(ctx context.Context, repo, committish string) ([]byte, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/+archive/%s.tar.gz", repo, committish), c.ArchiveTimeout, "gitiles_archive")
	if err != nil {
		return nil, errors.Annotate(err, "fetching archive of %s@%s", repo, committish).Err()
	}
	logging.Debugf(ctx, "Archive of %s@%s size: %s", repo, committish, humanize.Bytes(uint64(len(body))))
	return body, nil
}

// get performs one GET with a per-request timeout, retrying transient
// failures with bounded exponential backoff.
func (c *RESTClient) get(ctx context.Context, requestURL string, timeout time.Duration, op string) ([]byte, error) {
	var body []byte
	err := retry.Retry(ctx, transient.Only(retry.Default), func() error {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(rctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return transient.Tag.Apply(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusErr(resp, op)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return transient.Tag.Apply(errors.Annotate(err, "%s: reading response", op).Err())
		}
		body = b
		return nil
	}, retry.LogCallback(ctx, op))
	return body, err
}

func statusErr(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NotFound.Apply(errors.Reason("%s: %s", op, resp.Status).Err())
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return transient.Tag.Apply(errors.Reason("%s: %s", op, resp.Status).Err())
	default:
		return errors.Reason("%s: unexpected response %s", op, resp.Status).Err()
	}
}

// stripXSSIPrefix removes the ")]}'" line Gitiles prepends to JSON
// responses.
func stripXSSIPrefix(body []byte) ([]byte, error) {
	i := bytes.IndexByte(body, '\n')
	if i < 0 || !bytes.Equal(bytes.TrimSpace(body[:i]), []byte(")]}'")) {
		return nil, errors.Reason("response lacks the )]}' prefix line").Err()
	}
	return body[i+1:], nil
}

// SupportsArchive reports whether repo is served by a Gitiles host with
// the +archive endpoint. Mirrors of other hosting services do not expose
// it, so their trees cannot be digested directly.
func SupportsArchive(repo string) bool {
	u, err := url.Parse(repo)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Hostname(), ".googlesource.com")
}
