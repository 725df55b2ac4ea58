// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/digest"
)

func TestJournalAndRestore(t *testing.T) {
	t.Parallel()

	Convey("Journal + Restore", t, func() {
		root := t.TempDir()
		ctx := context.Background()

		writeFile(t, root, "patched.txt", "new content")
		writeFile(t, root, "added.txt", "brand new")

		j, err := OpenJournal(root)
		So(err, ShouldBeNil)

		Convey("round-trips a restore-content entry", func() {
			oldDigest := digest.HashBytes([]byte("original content"))
			So(j.BackupContent("patched.txt", oldDigest, []byte("original content")), ShouldBeNil)

			report, err := Restore(ctx, root)
			So(err, ShouldBeNil)
			So(report.Restored, ShouldResemble, []string{"patched.txt"})

			got, err := os.ReadFile(filepath.Join(root, "patched.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "original content")
		})

		Convey("round-trips a restore-absence entry", func() {
			So(j.RecordAbsence("added.txt"), ShouldBeNil)

			report, err := Restore(ctx, root)
			So(err, ShouldBeNil)
			So(report.Removed, ShouldResemble, []string{"added.txt"})

			_, err = os.Stat(filepath.Join(root, "added.txt"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("removes now-empty intermediate directories for a nested restore-absence entry", func() {
			writeFile(t, root, "assets/ui/en/strings.txt", "hello")
			So(j.RecordAbsence("assets/ui/en/strings.txt"), ShouldBeNil)

			report, err := Restore(ctx, root)
			So(err, ShouldBeNil)
			So(report.Removed, ShouldResemble, []string{"assets/ui/en/strings.txt"})

			_, err = os.Stat(filepath.Join(root, "assets"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("stops removing empty parents at a directory that still has content", func() {
			writeFile(t, root, "assets/ui/en/strings.txt", "hello")
			writeFile(t, root, "assets/ui/keep.txt", "still here")
			So(j.RecordAbsence("assets/ui/en/strings.txt"), ShouldBeNil)

			_, err := Restore(ctx, root)
			So(err, ShouldBeNil)

			_, err = os.Stat(filepath.Join(root, "assets", "ui", "en"))
			So(os.IsNotExist(err), ShouldBeTrue)

			got, err := os.ReadFile(filepath.Join(root, "assets", "ui", "keep.txt"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "still here")
		})

		Convey("restores multiple entries in reverse journal order", func() {
			oldA := digest.HashBytes([]byte("A original"))
			writeFile(t, root, "a.txt", "A new")
			So(j.BackupContent("a.txt", oldA, []byte("A original")), ShouldBeNil)
			So(j.RecordAbsence("added.txt"), ShouldBeNil)

			report, err := Restore(ctx, root)
			So(err, ShouldBeNil)
			So(report.Removed, ShouldResemble, []string{"added.txt"})
			So(report.Restored, ShouldResemble, []string{"a.txt"})
		})

		Convey("a digest mismatch on restore is unrecoverable and preserves the backup dir", func() {
			wrongDigest := digest.HashBytes([]byte("not what actually got backed up"))
			So(j.BackupContent("patched.txt", wrongDigest, []byte("original content")), ShouldBeNil)

			_, err := Restore(ctx, root)
			So(err, ShouldNotBeNil)
			var uc *graft.UnrecoverableCorruptionError
			So(errors.As(err, &uc), ShouldBeTrue)

			So(BackupDir{Root: root}.Exists(), ShouldBeTrue)
		})

		Convey("Purge removes the backup directory", func() {
			So(j.RecordAbsence("added.txt"), ShouldBeNil)
			So(Purge(root), ShouldBeNil)
			So(BackupDir{Root: root}.Exists(), ShouldBeFalse)
		})
	})
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
