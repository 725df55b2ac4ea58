// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package scan

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/riannucci/graft/digest"
)

func TestWalk(t *testing.T) {
	t.Parallel()

	Convey("Walk", t, func() {
		dir := t.TempDir()
		ctx := context.Background()

		Convey("produces a sorted set of (path, digest, size)", func() {
			write(t, dir, "b.txt", "bbb")
			write(t, dir, "a/nested.txt", "nested")
			write(t, dir, "a.txt", "aaa")

			s, err := Walk(ctx, dir, nil)
			So(err, ShouldBeNil)
			So(s.Paths(), ShouldResemble, []string{"a.txt", "a/nested.txt", "b.txt"})

			e, ok := s.ByPath("a.txt")
			So(ok, ShouldBeTrue)
			So(e.Size, ShouldEqual, 3)
			So(e.Digest, ShouldResemble, digest.HashBytes([]byte("aaa")))
		})

		Convey("includes hidden files", func() {
			write(t, dir, ".hidden", "secret")
			s, err := Walk(ctx, dir, nil)
			So(err, ShouldBeNil)
			So(s.Paths(), ShouldResemble, []string{".hidden"})
		})

		Convey("excludes .patch-backup and .graft_assets when asked", func() {
			write(t, dir, "keep.txt", "keep")
			write(t, dir, ".patch-backup/old.txt", "old")
			write(t, dir, ".graft_assets/icon.png", "icon")

			s, err := Walk(ctx, dir, ExcludePatchDirectoryInternals)
			So(err, ShouldBeNil)
			So(s.Paths(), ShouldResemble, []string{"keep.txt"})
		})

		Convey("skips symlinks with a warning, not an error", func() {
			if runtime.GOOS == "windows" {
				return
			}
			write(t, dir, "real.txt", "real")
			So(os.Symlink(filepath.Join(dir, "real.txt"), filepath.Join(dir, "link.txt")), ShouldBeNil)

			s, err := Walk(ctx, dir, nil)
			So(err, ShouldBeNil)
			So(s.Paths(), ShouldResemble, []string{"real.txt"})
		})

		Convey("an empty directory produces an empty scan", func() {
			s, err := Walk(ctx, dir, nil)
			So(err, ShouldBeNil)
			So(s.Entries, ShouldBeEmpty)
		})

		Convey("empty files are valid", func() {
			write(t, dir, "empty.bin", "")
			s, err := Walk(ctx, dir, nil)
			So(err, ShouldBeNil)
			e, ok := s.ByPath("empty.bin")
			So(ok, ShouldBeTrue)
			So(e.Size, ShouldEqual, 0)
			So(e.Digest, ShouldResemble, digest.HashBytes(nil))
		})

		Convey("an unreadable root is an error", func() {
			_, err := Walk(ctx, filepath.Join(dir, "does-not-exist"), nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
