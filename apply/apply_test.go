// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apply

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/manifest"
	"github.com/riannucci/graft/patchbuild"
	"github.com/riannucci/graft/rollback"
	"github.com/riannucci/graft/scan"
)

func buildPatch(t *testing.T, oldRoot, modRoot, patchDir string) {
	t.Helper()
	ctx := context.Background()
	old, err := scan.Walk(ctx, oldRoot, nil)
	if err != nil {
		t.Fatal(err)
	}
	mod, err := scan.Walk(ctx, modRoot, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := patchbuild.Build(ctx, old, mod, patchDir); err != nil {
		t.Fatal(err)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	Convey("Apply", t, func() {
		ctx := context.Background()

		Convey("applies add, patch, and delete operations and leaves a retained backup", func() {
			oldRoot, modRoot, target, patchDir := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
			write(t, oldRoot, "keep.txt", "keep")
			write(t, oldRoot, "remove.txt", "bye")
			write(t, oldRoot, "change.txt", "version one content")
			write(t, modRoot, "keep.txt", "keep")
			write(t, modRoot, "change.txt", "version two content, a bit longer")
			write(t, modRoot, "new.txt", "brand new file")
			buildPatch(t, oldRoot, modRoot, patchDir)

			write(t, target, "keep.txt", "keep")
			write(t, target, "remove.txt", "bye")
			write(t, target, "change.txt", "version one content")

			pd := manifest.Open(patchDir)
			err := Apply(ctx, target, pd)
			So(err, ShouldBeNil)

			got, err := os.ReadFile(filepath.Join(target, "change.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "version two content, a bit longer")

			got, err = os.ReadFile(filepath.Join(target, "new.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "brand new file")

			_, err = os.Stat(filepath.Join(target, "remove.txt"))
			So(os.IsNotExist(err), ShouldBeTrue)

			So(rollback.BackupDir{Root: target}.Exists(), ShouldBeTrue)
		})

		Convey("purges the backup on success when asked", func() {
			oldRoot, modRoot, target, patchDir := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
			write(t, oldRoot, "a.txt", "one")
			write(t, modRoot, "a.txt", "two")
			buildPatch(t, oldRoot, modRoot, patchDir)
			write(t, target, "a.txt", "one")

			pd := manifest.Open(patchDir)
			So(Apply(ctx, target, pd, WithPurgeBackup()), ShouldBeNil)
			So(rollback.BackupDir{Root: target}.Exists(), ShouldBeFalse)
		})

		Convey("fails preflight without mutating anything when a source digest doesn't match", func() {
			oldRoot, modRoot, target, patchDir := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
			write(t, oldRoot, "a.txt", "one")
			write(t, modRoot, "a.txt", "two")
			buildPatch(t, oldRoot, modRoot, patchDir)
			write(t, target, "a.txt", "something else entirely, not the expected original")

			pd := manifest.Open(patchDir)
			err := Apply(ctx, target, pd)
			So(err, ShouldNotBeNil)
			var pf *graft.PreflightError
			So(errors.As(err, &pf), ShouldBeTrue)
			So(pf.Kind, ShouldEqual, graft.DigestMismatchKind)

			got, err := os.ReadFile(filepath.Join(target, "a.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "something else entirely, not the expected original")
			So(rollback.BackupDir{Root: target}.Exists(), ShouldBeFalse)
		})

		Convey("treats a --force Add over an already-correct target as a no-op", func() {
			oldRoot, modRoot, target, patchDir := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
			write(t, modRoot, "new.txt", "brand new file")
			buildPatch(t, oldRoot, modRoot, patchDir)
			write(t, target, "new.txt", "brand new file")

			pd := manifest.Open(patchDir)
			So(Apply(ctx, target, pd, WithForce()), ShouldBeNil)
		})

		Convey("rolls back and restores original state when a mid-apply mutation fails", func() {
			oldRoot, modRoot, target, patchDir := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
			write(t, oldRoot, "first.txt", "first original content, quite long so a delta makes sense")
			write(t, oldRoot, "second.txt", "second original content, also fairly long for a delta")
			write(t, modRoot, "first.txt", "first MODIFIED content, quite long so a delta makes sense")
			write(t, modRoot, "second.txt", "second MODIFIED content, also fairly long for a delta")
			buildPatch(t, oldRoot, modRoot, patchDir)

			write(t, target, "first.txt", "first original content, quite long so a delta makes sense")
			write(t, target, "second.txt", "second original content, also fairly long for a delta")

			// corrupt second.txt's delta so its mutation fails after
			// first.txt's has already been journaled and applied.
			pd := manifest.Open(patchDir)
			m, err := pd.Read()
			So(err, ShouldBeNil)
			var secondRef string
			for _, e := range m.Entries {
				if e.Path == "second.txt" {
					secondRef = pd.DiffRefPath(e.Path)
				}
			}
			So(secondRef, ShouldNotBeEmpty)
			So(os.WriteFile(secondRef, []byte("not a valid delta at all"), 0644), ShouldBeNil)

			err = Apply(ctx, target, pd)
			So(err, ShouldNotBeNil)
			var ae *graft.ApplyError
			So(errors.As(err, &ae), ShouldBeTrue)
			So(ae.Rollback.Restored, ShouldBeTrue)

			got, err := os.ReadFile(filepath.Join(target, "first.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "first original content, quite long so a delta makes sense")

			got, err = os.ReadFile(filepath.Join(target, "second.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "second original content, also fairly long for a delta")
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
