// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package resolve

import (
	"context"
	fakegitiles "crpin/fakes/gitiles"
	"crpin/gclient"
	"crpin/manifest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"
)

var (
	commitA = strings.Repeat("a", 40)
	commitB = strings.Repeat("b", 40)
	commitC = strings.Repeat("c", 40)
	commitD = strings.Repeat("d", 40)
)

const (
	srcRepo   = "https://chromium.googlesource.com/chromium/src"
	v8Repo    = "https://chromium.googlesource.com/v8/v8"
	angleRepo = "https://chromium.googlesource.com/angle/angle"
)

// srcWithDEPS is a fake for srcRepo whose DEPS at commitA has the given
// contents.
func srcWithDEPS(contents string) map[string]*fakegitiles.Repo {
	return map[string]*fakegitiles.Repo{
		srcRepo: {
			Files: map[string]string{commitA + "/DEPS": contents},
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	Convey("Resolve", t, func() {

		Convey("builds the flat graph rooted at src", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`deps = {
  'src/v8': 'https://chromium.googlesource.com/v8/v8.git@` + commitB + `',
}`)}

			graph, stats, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph, ShouldHaveLength, 2)
			So(graph["src"].URL, ShouldEqual, srcRepo)
			So(graph["src"].Rev, ShouldEqual, commitA)
			So(graph["src/v8"].URL, ShouldEqual, v8Repo)
			So(graph["src/v8"].Rev, ShouldEqual, commitB)
			So(stats.CIPDDeps, ShouldEqual, 0)
		})

		Convey("the resolved commit wins over a declared root entry", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`deps = {
  'src': 'https://chromium.googlesource.com/chromium/src@` + commitD + `',
}`)}

			graph, _, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph["src"].Rev, ShouldEqual, commitA)
		})

		Convey("descends into recursedeps with relative paths", func() {
			repos := srcWithDEPS(`deps = {
  'src/third_party/angle': '` + angleRepo + `@` + commitC + `',
}
recursedeps = ['src/third_party/angle']`)
			repos[angleRepo] = &fakegitiles.Repo{
				Files: map[string]string{commitC + "/DEPS": `use_relative_paths = True
deps = {
  'third_party/glslang/src': 'https://chromium.googlesource.com/external/glslang@` + commitD + `',
}`},
			}
			client := &fakegitiles.Client{Repos: repos}

			graph, _, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph, ShouldHaveLength, 3)
			dep := graph["src/third_party/angle/third_party/glslang/src"]
			So(dep, ShouldNotBeNil)
			So(dep.Rev, ShouldEqual, commitD)
		})

		Convey("descends into a custom deps file named by the tuple form", func() {
			repos := srcWithDEPS(`deps = {
  'src/clank': '` + angleRepo + `@` + commitC + `',
}
recursedeps = [('src/clank', 'DEPS.clank')]`)
			repos[angleRepo] = &fakegitiles.Repo{
				Files: map[string]string{commitC + "/DEPS.clank": `deps = {
  'src/clank/foo': 'https://chromium.googlesource.com/foo@` + commitD + `',
}`},
			}
			client := &fakegitiles.Client{Repos: repos}

			graph, _, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph["src/clank/foo"].Rev, ShouldEqual, commitD)
		})

		Convey("records conditions verbatim by default", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`vars = {'checkout_android': False}
deps = {
  'src/android': {
    'url': 'https://chromium.googlesource.com/android@` + commitB + `',
    'condition': 'checkout_android',
  },
}`)}

			graph, stats, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph["src/android"].Condition, ShouldEqual, "checkout_android")
			So(stats.Dropped, ShouldEqual, 0)
		})

		Convey("drops false conditions when evaluation is on", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`vars = {'checkout_android': False, 'checkout_linux': True}
deps = {
  'src/android': {
    'url': 'https://chromium.googlesource.com/android@` + commitB + `',
    'condition': 'checkout_android',
  },
  'src/linux': {
    'url': 'https://chromium.googlesource.com/linux@` + commitC + `',
    'condition': 'checkout_linux',
  },
}`)}

			graph, stats, err := (&Resolver{Client: client, EvalConditions: true}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph, ShouldHaveLength, 2)
			So(graph["src/android"], ShouldBeNil)
			So(graph["src/linux"], ShouldNotBeNil)
			So(stats.Dropped, ShouldEqual, 1)
		})

		Convey("var overrides reach condition evaluation", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`vars = {'checkout_android': False}
deps = {
  'src/android': {
    'url': 'https://chromium.googlesource.com/android@` + commitB + `',
    'condition': 'checkout_android',
  },
}`)}

			r := &Resolver{
				Client:         client,
				EvalConditions: true,
				Vars:           map[string]string{"checkout_android": "True"},
			}
			graph, _, err := r.Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph["src/android"], ShouldNotBeNil)
		})

		Convey("counts cipd and gcs entries", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`deps = {
  'src/tools/luci-go': {
    'packages': [{'package': 'infra/tools/rdb', 'version': 'latest'}],
    'dep_type': 'cipd',
  },
  'src/third_party/node': {
    'bucket': 'chromium-nodejs',
    'objects': [],
    'dep_type': 'gcs',
  },
}`)}

			graph, stats, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldBeNil)
			So(graph, ShouldHaveLength, 1)
			So(stats.CIPDDeps, ShouldEqual, 1)
			So(stats.GCSDeps, ShouldEqual, 1)
		})

		Convey("rejects conflicting declarations of one path", func() {
			repos := srcWithDEPS(`deps = {
  'src/v8': '` + v8Repo + `@` + commitB + `',
  'src/dup': '` + v8Repo + `@` + commitB + `',
}
recursedeps = ['src/v8']`)
			repos[v8Repo] = &fakegitiles.Repo{
				Files: map[string]string{commitB + "/DEPS": `deps = {
  'src/dup': '` + v8Repo + `@` + commitC + `',
}`},
			}
			client := &fakegitiles.Client{Repos: repos}

			_, _, err := (&Resolver{Client: client}).Resolve(ctx, srcRepo, commitA)

			So(err, ShouldErrLike, `conflicting declarations for "src/dup"`)
			So(gclient.ParseFailure.In(err), ShouldBeTrue)
		})

		Convey("resolving twice yields identical graphs", func() {
			client := &fakegitiles.Client{Repos: srcWithDEPS(`deps = {
  'src/v8': '` + v8Repo + `@` + commitB + `',
  'src/third_party/angle': '` + angleRepo + `@` + commitC + `',
}`)}
			r := &Resolver{Client: client}

			first, _, err := r.Resolve(ctx, srcRepo, commitA)
			So(err, ShouldBeNil)
			second, _, err := r.Resolve(ctx, srcRepo, commitA)
			So(err, ShouldBeNil)

			So(second, ShouldResemble, first)
		})
	})
}

func TestComputeHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	Convey("computeHashes", t, func() {
		archive := fakegitiles.Archive(map[string]string{"DEPS": "deps = {}"})
		client := &fakegitiles.Client{
			Repos: map[string]*fakegitiles.Repo{
				v8Repo: {
					Archives: map[string][]byte{commitB: archive},
				},
			},
		}

		Convey("digests have the fixed SRI length", func() {
			graph := map[string]*manifest.Dep{
				"src/v8": {URL: v8Repo, Rev: commitB},
			}

			So(computeHashes(ctx, client, graph, 4, false), ShouldBeNil)

			So(graph["src/v8"].Hash, ShouldStartWith, "sha256-")
			So(graph["src/v8"].Hash, ShouldHaveLength, len(manifest.PlaceholderHash))
			So(graph["src/v8"].Hash, ShouldNotEqual, manifest.PlaceholderHash)
		})

		Convey("identical trees digest identically, distinct trees differently", func() {
			client.Repos[v8Repo].Archives[commitC] = fakegitiles.Archive(map[string]string{"DEPS": "deps = {}"})
			client.Repos[v8Repo].Archives[commitD] = fakegitiles.Archive(map[string]string{"DEPS": "deps = {}", "OWNERS": "*"})
			graph := map[string]*manifest.Dep{
				"src/a": {URL: v8Repo, Rev: commitB},
				"src/b": {URL: v8Repo, Rev: commitC},
				"src/c": {URL: v8Repo, Rev: commitD},
			}

			So(computeHashes(ctx, client, graph, 4, false), ShouldBeNil)

			So(graph["src/b"].Hash, ShouldEqual, graph["src/a"].Hash)
			So(graph["src/c"].Hash, ShouldNotEqual, graph["src/a"].Hash)
		})

		Convey("hosts without an archive endpoint get the placeholder", func() {
			graph := map[string]*manifest.Dep{
				"src/gh": {URL: "https://github.com/foo/bar", Rev: commitB},
			}

			So(computeHashes(ctx, client, graph, 4, false), ShouldBeNil)

			So(graph["src/gh"].Hash, ShouldEqual, manifest.PlaceholderHash)
		})

		Convey("skip forces the placeholder everywhere", func() {
			graph := map[string]*manifest.Dep{
				"src/v8": {URL: v8Repo, Rev: commitB},
			}

			So(computeHashes(ctx, client, graph, 4, true), ShouldBeNil)

			So(graph["src/v8"].Hash, ShouldEqual, manifest.PlaceholderHash)
		})

		Convey("a single failure aborts and names the path", func() {
			graph := map[string]*manifest.Dep{
				"src/v8":      {URL: v8Repo, Rev: commitB},
				"src/missing": {URL: v8Repo, Rev: strings.Repeat("e", 40)},
			}

			err := computeHashes(ctx, client, graph, 4, false)

			So(err, ShouldErrLike, `computing digest for "src/missing"`)
			So(HashFailure.In(err), ShouldBeTrue)
		})
	})
}
