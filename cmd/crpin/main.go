// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command crpin pins a Chromium release's dependency graph into a package
// manifest.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/auth/client/authcli"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging/gologger"
	"golang.org/x/term"

	"crpin/cmd/crpin/internal/fix"
	"crpin/cmd/crpin/internal/site"
	"crpin/cmd/crpin/internal/update"
)

func loggerConfig() *gologger.LoggerConfig {
	cfg := &gologger.LoggerConfig{
		Out:    os.Stderr,
		Format: "[%{level:.1s}%{time:15:04:05.000}]",
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.Format = "%{color}" + cfg.Format + "%{color:reset}"
	}
	cfg.Format += " %{message}"
	return cfg
}

var application = &cli.Application{
	Name: "crpin",
	Title: `Dependency pinning tool for Chromium-derived trees

crpin walks a release's DEPS graph over Gitiles and keeps the package
manifest's revisions and source digests in step with it.`,
	Context: func(ctx context.Context) context.Context {
		return loggerConfig().Use(ctx)
	},
	Commands: []*subcommands.Command{
		subcommands.CmdHelp,
		subcommands.Section("Pinning"),
		update.Cmd,
		fix.Cmd,
		subcommands.Section("Authentication"),
		authcli.SubcommandLogin(site.DefaultAuthOptions, "login", false),
		authcli.SubcommandLogout(site.DefaultAuthOptions, "logout", false),
		authcli.SubcommandInfo(site.DefaultAuthOptions, "whoami", false),
	},
}

func main() {
	os.Exit(subcommands.Run(application, nil))
}
