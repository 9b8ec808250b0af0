// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package site contains site-local constants for the crpin tool.
package site

import (
	"os"
	"path/filepath"

	"go.chromium.org/luci/auth"
	"go.chromium.org/luci/common/api/gitiles"
	"go.chromium.org/luci/hardcoded/chromeinfra"
)

// DefaultRepo is the root repository whose tags name releases.
const DefaultRepo = "https://chromium.googlesource.com/chromium/src"

// DefaultManifest is the manifest file updated in place.
const DefaultManifest = "info.json"

// DefaultAuthOptions is an auth.Options struct prefilled with chrome-infra
// defaults.
var DefaultAuthOptions = chromeinfra.SetDefaultAuthOptions(auth.Options{
	Scopes:     []string{auth.OAuthScopeEmail, gitiles.OAuthScope},
	SecretsDir: SecretsDir(),
})

// SecretsDir returns an absolute path to a directory (in $HOME) to keep
// secret files in (e.g. OAuth refresh tokens) or an empty string if $HOME
// can't be determined (happens in some degenerate cases, it just disables
// auth token cache).
func SecretsDir() string {
	configDir := os.Getenv("XDG_CACHE_HOME")
	if configDir == "" {
		configDir = filepath.Join(os.Getenv("HOME"), ".cache")
	}
	return filepath.Join(configDir, "crpin", "auth")
}
