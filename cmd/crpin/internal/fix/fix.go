// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fix implements the subcommand that repairs placeholder digests
// by replaying the downstream build.
package fix

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"crpin/cmd/crpin/internal/site"
	"crpin/cmdsupport/cmdlib"
	"crpin/manifest"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/signals"
)

// DefaultBuildCommand builds the flake output whose fetchers consume the
// manifest.
const DefaultBuildCommand = "nix build .#default --keep-failed -L"

// DefaultMaxIterations bounds the build-patch loop.
const DefaultMaxIterations = 50

// Cmd repairs placeholder digests by replaying the downstream build.
var Cmd = &subcommands.Command{
	UsageLine: "fix-hashes [flags]",
	ShortDesc: "repairs placeholder digests from build failures",
	LongDesc: `Repairs placeholder digests from build failures.

Runs the downstream build in a loop. Each time the build fails with a
digest mismatch, the archive revision named in the failure is looked up
in the manifest, that entry's placeholder digest is replaced with the
digest the build expected, and the build is retried. The loop ends when
the build succeeds or after -max-iterations attempts.`,
	CommandRun: func() subcommands.CommandRun {
		c := &fixRun{}
		c.Flags.StringVar(&c.manifest, "manifest", site.DefaultManifest,
			"Path of the manifest file to repair.")
		c.Flags.StringVar(&c.buildCommand, "build-command", DefaultBuildCommand,
			"Shell command that exercises the manifest's digests.")
		c.Flags.IntVar(&c.maxIterations, "max-iterations", DefaultMaxIterations,
			"How many build attempts to make before giving up.")
		c.Flags.BoolVar(&c.dryRun, "dry-run", false,
			"Report the first digest that would change without modifying the manifest.")
		c.Flags.BoolVar(&c.noBackup, "no-backup", false,
			"Skip the manifest backup before the first modification.")
		c.Flags.StringVar(&c.placeholder, "placeholder-hash", manifest.PlaceholderHash,
			"The digest value treated as a placeholder.")
		return c
	},
}

type fixRun struct {
	subcommands.CommandRunBase

	manifest      string
	buildCommand  string
	maxIterations int
	dryRun        bool
	noBackup      bool
	placeholder   string
}

// replacement records one repaired manifest entry.
type replacement struct {
	Name string
	Rev  string
	Hash string
}

func (c *fixRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.innerRun(a, args, env); err != nil {
		cmdlib.PrintError(a, err)
		return 1
	}
	return 0
}

func (c *fixRun) innerRun(a subcommands.Application, args []string, env subcommands.Env) error {
	if len(args) != 0 {
		return cmdlib.NewUsageError(c.Flags, "unexpected arguments %q", args)
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

	return c.fix(ctx, a.GetOut())
}

// fix runs the build-patch loop, writing the final summary to out.
func (c *fixRun) fix(ctx context.Context, out io.Writer) error {
	m, err := manifest.Load(c.manifest)
	if err != nil {
		return err
	}
	n := m.CountHash(c.placeholder)
	if n == 0 {
		fmt.Fprintf(out, "No placeholder digests in %s, nothing to do\n", c.manifest)
		return nil
	}
	logging.Infof(ctx, "%d placeholder digest(s) to replace in %s", n, c.manifest)

	if !c.noBackup && !c.dryRun {
		backup, err := c.backup()
		if err != nil {
			logging.Warningf(ctx, "Could not back up %s: %s", c.manifest, err)
			if !cmdlib.CLIPrompt(out, os.Stdin)("Continue without a backup?") {
				return errors.Reason("aborted: the manifest could not be backed up").Err()
			}
		} else {
			logging.Infof(ctx, "Backed up %s to %s", c.manifest, backup)
		}
	}

	start := time.Now()
	processed := stringset.New(0)
	var replaced []replacement

	for attempt := 1; attempt <= c.maxIterations; attempt++ {
		logging.Infof(ctx, "Build attempt %d of %d: %s", attempt, c.maxIterations, c.buildCommand)
		output, ok, err := c.build(ctx)
		if err != nil {
			return err
		}
		if ok {
			logging.Infof(ctx, "Build succeeded after %d attempt(s)", attempt)
			c.summarize(out, replaced, time.Since(start))
			return nil
		}

		found := extractMismatch(output)
		if found == nil {
			for _, line := range tail(output, 15) {
				logging.Errorf(ctx, "build: %s", line)
			}
			return errors.Reason("the build failed without a digest mismatch").Err()
		}
		if found.Rev == "" {
			return errors.Reason(
				"digest mismatch %s names no archive revision; it is outside the manifest (an npmHash or similar), update it by hand",
				found.Hash).Err()
		}
		if !processed.Add(found.Rev) {
			return errors.Reason("revision %.12s still mismatches after being patched, giving up", found.Rev).Err()
		}
		if found.URL != "" {
			logging.Debugf(ctx, "Mismatch while fetching %s/+archive/%s.tar.gz", found.URL, found.Rev)
		}

		name, err := c.patch(ctx, found)
		if err != nil {
			return err
		}
		replaced = append(replaced, replacement{Name: name, Rev: found.Rev, Hash: found.Hash})
		if c.dryRun {
			logging.Infof(ctx, "Dry run: stopping after the first mismatch")
			c.summarize(out, replaced, time.Since(start))
			return nil
		}
	}

	c.summarize(out, replaced, time.Since(start))
	return errors.Reason("the build still fails after %d attempts", c.maxIterations).Err()
}

// build runs the build command through the shell, returning its combined
// output and whether it exited zero. A non-zero exit is not an error;
// failing to run at all is.
func (c *fixRun) build(ctx context.Context) (string, bool, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", c.buildCommand)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err == nil {
		return buf.String(), true, nil
	}
	if ctx.Err() != nil {
		return "", false, errors.Annotate(ctx.Err(), "build interrupted").Err()
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return buf.String(), false, nil
	}
	return "", false, errors.Annotate(err, "running %q", c.buildCommand).Err()
}

// patch replaces the placeholder digest of the manifest entry pinned at
// found.Rev and writes the file back atomically. It returns a short name
// for the patched entry. The manifest is re-read on every call since the
// build may take long enough for a human to edit it in between.
func (c *fixRun) patch(ctx context.Context, found *mismatch) (string, error) {
	m, err := manifest.Load(c.manifest)
	if err != nil {
		return "", err
	}
	entry, docPath := m.FindByRev(found.Rev, c.placeholder)
	if entry == nil {
		return "", errors.Reason("no manifest entry pins %.12s with the placeholder digest", found.Rev).Err()
	}
	name := describe(entry, found.Rev)
	logging.Infof(ctx, "%s (%s): %s", name, docPath, found.Hash)
	if c.dryRun {
		return name, nil
	}
	entry.Set("hash", found.Hash)
	if err := m.Write(c.manifest); err != nil {
		return "", err
	}
	logging.Infof(ctx, "%d placeholder digest(s) left", m.CountHash(c.placeholder))
	return name, nil
}

// backup copies the manifest to a dotted, timestamped sibling.
func (c *fixRun) backup() (string, error) {
	data, err := os.ReadFile(c.manifest)
	if err != nil {
		return "", errors.Annotate(err, "reading %s", c.manifest).Err()
	}
	dir, base := filepath.Split(c.manifest)
	target := filepath.Join(dir, fmt.Sprintf(".%s.backup_%s", base, time.Now().Format("20060102_150405")))
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", err
	}
	return target, nil
}

func (c *fixRun) summarize(w io.Writer, replaced []replacement, took time.Duration) {
	verb := "Replaced"
	if c.dryRun {
		verb = "Would replace"
	}
	fmt.Fprintf(w, "%s %d digest(s) in %s\n", verb, len(replaced), took.Round(time.Second))
	for i, r := range replaced {
		fmt.Fprintf(w, "  %d. %s at %.12s: %s\n", i+1, r.Name, r.Rev, r.Hash)
	}
}

// mismatch is the digest failure parsed out of build output: the digest
// the build expected, the archive revision it was fetching, and, when the
// fetcher logged it, the repository URL.
type mismatch struct {
	Hash string
	Rev  string
	URL  string
}

var (
	gotHashRe = regexp.MustCompile(`got:\s+(sha256-[\w+/=]+)`)
	unpackRe  = regexp.MustCompile(`unpacking source archive /build/([0-9a-f]+)\.tar\.gz`)
	archiveRe = regexp.MustCompile(`trying (https://\S+)/\+archive/([0-9a-f]+)\.tar\.gz`)
)

// extractMismatch pulls the mismatched digest and the archive revision
// out of failed build output. Nil means the failure is not a digest
// mismatch; an empty Rev means the mismatch is not about a pinned
// archive.
func extractMismatch(output string) *mismatch {
	h := gotHashRe.FindStringSubmatch(output)
	if h == nil {
		return nil
	}
	found := &mismatch{Hash: h[1]}
	if m := unpackRe.FindStringSubmatch(output); m != nil {
		found.Rev = m[1]
	}
	if m := archiveRe.FindStringSubmatch(output); m != nil {
		if found.Rev == "" || m[2] == found.Rev {
			found.Rev = m[2]
			found.URL = m[1]
		}
	}
	return found
}

// describe names a manifest entry for humans, preferring the repository
// path over the 40-hex revision.
func describe(entry *manifest.Object, rev string) string {
	repo := entry.GetString("url")
	if repo == "" {
		return fmt.Sprintf("%.12s", rev)
	}
	u, err := url.Parse(repo)
	if err != nil {
		return fmt.Sprintf("%.12s", rev)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	switch {
	case strings.HasSuffix(u.Hostname(), ".googlesource.com"):
		return name
	case u.Hostname() == "github.com":
		if parts := strings.Split(name, "/"); len(parts) > 2 {
			return strings.Join(parts[:2], "/")
		}
		return name
	default:
		return path.Base(name)
	}
}

func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
