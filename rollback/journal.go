// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rollback

import (
	"os"
	"path/filepath"

	"github.com/luci/luci-go/common/errors"

	"github.com/riannucci/graft/digest"
)

// Journal is the write side of a BackupDir, used by the Apply Engine
// during Phase P2 (spec.md §4.5) to record pre-mutation state before each
// mutation, in order, flushing after every append -- so that a crash
// between any two journaled operations leaves a manifest describing
// exactly the operations that are safe to roll back.
type Journal struct {
	Dir      BackupDir
	manifest BackupManifest
}

// OpenJournal creates a fresh backup directory under targetRoot and
// returns a Journal ready to accept entries. It is an error to open a
// journal where one already exists; callers should Remove a stale one
// first if that's intended (e.g. after a fully-committed prior apply).
func OpenJournal(targetRoot string) (*Journal, error) {
	dir := BackupDir{Root: targetRoot}
	if dir.Exists() {
		return nil, errors.Reason("backup directory already exists at %(dir)q").D("dir", dir.dir()).Err()
	}
	if err := dir.EnsureDirs(); err != nil {
		return nil, err
	}
	j := &Journal{Dir: dir, manifest: BackupManifest{Version: manifestJournalVersion}}
	if err := dir.writeManifest(&j.manifest); err != nil {
		return nil, err
	}
	return j, nil
}

const manifestJournalVersion = "1"

// BackupContent journals the pre-mutation bytes of relPath (for a Patch or
// Delete operation about to be applied): the content is copied into
// .patch-backup/content/<ref>, fsync'd along with the content directory
// itself, and only then does the entry get appended to
// backup-manifest.json and that manifest fsync'd -- matching spec.md §5's
// ordering guarantee that the backup write (file content AND its
// directory entry) happens-before the mutation it documents.
func (j *Journal) BackupContent(relPath string, oldDigest digest.Digest, content []byte) error {
	ref := j.Dir.ContentRefPath(relPath)
	f, err := os.Create(ref)
	if err != nil {
		return errors.Annotate(err).Reason("creating backup content for %(path)q").D("path", relPath).Err()
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return errors.Annotate(err).Reason("writing backup content for %(path)q").D("path", relPath).Err()
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Annotate(err).Reason("syncing backup content for %(path)q").D("path", relPath).Err()
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err).Reason("closing backup content for %(path)q").D("path", relPath).Err()
	}
	if err := syncDir(j.Dir.ContentDir()); err != nil {
		return errors.Annotate(err).Reason("syncing content dir after backing up %(path)q").D("path", relPath).Err()
	}

	j.manifest.Entries = append(j.manifest.Entries, BackupEntry{
		Action:    ActionRestoreContent,
		Path:      relPath,
		OldDigest: oldDigest,
		BackupRef: filepath.Base(ref),
	})
	return j.Dir.writeManifest(&j.manifest)
}

// RecordAbsence journals that relPath had no prior content (an Add
// operation about to run): on rollback, the file created by that Add
// should simply be unlinked.
func (j *Journal) RecordAbsence(relPath string) error {
	j.manifest.Entries = append(j.manifest.Entries, BackupEntry{
		Action: ActionRestoreAbsence,
		Path:   relPath,
	})
	return j.Dir.writeManifest(&j.manifest)
}
