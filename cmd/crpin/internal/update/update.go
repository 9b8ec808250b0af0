// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package update implements the subcommand that pins a release.
package update

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"crpin/clients/gitiles"
	"crpin/cmd/crpin/internal/site"
	"crpin/cmdsupport/cmdlib"
	"crpin/manifest"
	"crpin/resolve"

	"github.com/hashicorp/go-version"
	"github.com/maruel/subcommands"
	"go.chromium.org/luci/auth/client/authcli"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/flag/stringmapflag"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/signals"
)

// Cmd pins the dependency graph of a release into the manifest.
var Cmd = &subcommands.Command{
	UsageLine: "update [flags] VERSION",
	ShortDesc: "pins a release's dependency graph into the manifest",
	LongDesc: `Pins a release's dependency graph into the manifest.

Resolves VERSION (a release tag like 126.0.6478.126) to a commit, walks
the DEPS documents reachable from it, computes a content digest for every
git dependency and rewrites the manifest's "version" and "deps" members.
Everything else in the manifest is preserved byte for byte, and on any
failure the file is left untouched.`,
	CommandRun: func() subcommands.CommandRun {
		c := &updateRun{}
		c.authFlags.Register(&c.Flags, site.DefaultAuthOptions)
		c.Flags.StringVar(&c.manifest, "manifest", site.DefaultManifest,
			"Path of the manifest file to update.")
		c.Flags.StringVar(&c.repo, "repo", site.DefaultRepo,
			"URL of the root repository whose tags name releases.")
		c.Flags.StringVar(&c.depsFile, "deps-file", "DEPS",
			"Name of the dependency document in the root repository.")
		c.Flags.IntVar(&c.workers, "j", resolve.DefaultHashWorkers,
			"How many archive digests to fetch concurrently.")
		c.Flags.BoolVar(&c.skipHashes, "skip-hashes", false,
			"Write the placeholder digest for every entry instead of fetching archives.")
		c.Flags.BoolVar(&c.evalConditions, "eval-conditions", false,
			"Evaluate dependency conditions and drop entries whose condition is false.")
		c.Flags.Var(&c.vars, "var",
			"A name=value variable override for DEPS evaluation; may be repeated.")
		return c
	},
}

type updateRun struct {
	subcommands.CommandRunBase
	authFlags authcli.Flags

	manifest       string
	repo           string
	depsFile       string
	workers        int
	skipHashes     bool
	evalConditions bool
	vars           stringmapflag.Value
}

func (c *updateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args, env); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *updateRun) innerRun(a subcommands.Application, args []string, env subcommands.Env) error {
	if len(args) != 1 {
		return cmdlib.NewUsageError(c.Flags, "exactly one VERSION argument is required")
	}
	pin := args[0]
	requested, err := version.NewVersion(pin)
	if err != nil {
		return cmdlib.NewUsageError(c.Flags, "invalid version %q: %s", pin, err)
	}

	ctx, cancel := context.WithCancel(cli.GetContext(a, c, env))
	defer cancel()
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, signals.Interrupts()...)
	defer signal.Stop(interrupted)
	go func() {
		<-interrupted
		logging.Warningf(ctx, "Interrupted, aborting")
		cancel()
	}()

	// Advisory only; the workflow reports manifest problems itself.
	if m, err := manifest.Load(c.manifest); err == nil && m.Version() != "" {
		if pinned, perr := version.NewVersion(m.Version()); perr == nil && requested.LessThan(pinned) {
			logging.Warningf(ctx, "Version %s is older than the pinned %s", pin, m.Version())
		}
	}

	client, err := cmdlib.NewHTTPClient(ctx, &c.authFlags)
	if err != nil {
		return err
	}

	w := &resolve.Workflow{
		Client:         gitiles.NewClient(client),
		Manifest:       c.manifest,
		Repo:           c.repo,
		Version:        pin,
		DepsFile:       c.depsFile,
		Vars:           c.vars,
		EvalConditions: c.evalConditions,
		SkipHashes:     c.skipHashes,
		HashWorkers:    c.workers,
	}
	res, err := w.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.GetOut(), "Pinned %s at commit %s with %d dependencies in %s\n",
		pin, res.Commit, res.Deps, c.manifest)
	return nil
}
