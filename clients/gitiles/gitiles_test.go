// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package gitiles

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"

	"crpin/gclient"

	"go.chromium.org/luci/common/retry/transient"
)

const fakeCommit = "0123456789abcdef0123456789abcdef01234567"

func TestResolveTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	Convey("ResolveTag", t, func() {

		Convey("returns the tagged commit", func() {
			var gotURL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotURL = r.URL.String()
				fmt.Fprintf(w, ")]}'\n{\"commit\": %q, \"tree\": \"ffff\"}", fakeCommit)
			}))
			defer srv.Close()

			commit, err := NewClient(nil).ResolveTag(ctx, srv.URL+"/chromium/src", "126.0.6478.126")

			So(err, ShouldBeNil)
			So(commit, ShouldEqual, fakeCommit)
			So(gotURL, ShouldEqual, "/chromium/src/+/refs/tags/126.0.6478.126?format=JSON")
		})

		Convey("tags a missing tag as not found", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			}))
			defer srv.Close()

			_, err := NewClient(nil).ResolveTag(ctx, srv.URL+"/chromium/src", "999.0.0.0")

			So(err, ShouldNotBeNil)
			So(NotFound.In(err), ShouldBeTrue)
			So(transient.Tag.In(err), ShouldBeFalse)
		})

		Convey("rejects a response without the anti-XSSI prefix", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, "{\"commit\": %q}", fakeCommit)
			}))
			defer srv.Close()

			_, err := NewClient(nil).ResolveTag(ctx, srv.URL+"/chromium/src", "126.0.6478.126")

			So(err, ShouldErrLike, ")]}'")
			So(gclient.ParseFailure.In(err), ShouldBeTrue)
		})

		Convey("rejects a response without a 40-hex commit", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, ")]}'\n{\"commit\": \"not-a-commit\"}")
			}))
			defer srv.Close()

			_, err := NewClient(nil).ResolveTag(ctx, srv.URL+"/chromium/src", "126.0.6478.126")

			So(err, ShouldErrLike, "no 40-hex commit")
			So(gclient.ParseFailure.In(err), ShouldBeTrue)
		})

		Convey("retries transient server errors", func() {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 1 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				fmt.Fprintf(w, ")]}'\n{\"commit\": %q}", fakeCommit)
			}))
			defer srv.Close()

			commit, err := NewClient(nil).ResolveTag(ctx, srv.URL+"/chromium/src", "126.0.6478.126")

			So(err, ShouldBeNil)
			So(commit, ShouldEqual, fakeCommit)
			So(calls, ShouldEqual, 2)
		})
	})
}

func TestDownloadFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	Convey("DownloadFile", t, func() {

		Convey("decodes the base64 body", func() {
			contents := "vars = {}\ndeps = {}\n"
			var gotURL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotURL = r.URL.String()
				fmt.Fprint(w, base64.StdEncoding.EncodeToString([]byte(contents)))
			}))
			defer srv.Close()

			got, err := NewClient(nil).DownloadFile(ctx, srv.URL+"/chromium/src", fakeCommit, "DEPS")

			So(err, ShouldBeNil)
			So(got, ShouldEqual, contents)
			So(gotURL, ShouldEqual, "/chromium/src/+/"+fakeCommit+"/DEPS?format=TEXT")
		})

		Convey("tags a missing file as not found", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			}))
			defer srv.Close()

			_, err := NewClient(nil).DownloadFile(ctx, srv.URL+"/chromium/src", fakeCommit, "DEPS")

			So(err, ShouldNotBeNil)
			So(NotFound.In(err), ShouldBeTrue)
		})
	})
}

func TestArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	Convey("Archive", t, func() {

		Convey("returns the archive bytes", func() {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.Write([]byte("fake-tarball"))
			}))
			defer srv.Close()

			got, err := NewClient(nil).Archive(ctx, srv.URL+"/v8/v8", fakeCommit)

			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "fake-tarball")
			So(gotPath, ShouldEqual, "/v8/v8/+archive/"+fakeCommit+".tar.gz")
		})
	})
}

func TestSupportsArchive(t *testing.T) {
	t.Parallel()

	Convey("SupportsArchive", t, func() {
		So(SupportsArchive("https://chromium.googlesource.com/chromium/src"), ShouldBeTrue)
		So(SupportsArchive("https://dawn.googlesource.com/dawn"), ShouldBeTrue)
		So(SupportsArchive("https://github.com/example/repo"), ShouldBeFalse)
		So(SupportsArchive("not a url"), ShouldBeFalse)
	})
}
