// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rollback implements the backup journal and Rollback Engine from
// spec.md §4.6: a reverse-order restore of a target directory from the
// `.patch-backup/` journal the Apply Engine writes during Phase P2. The
// journal format mirrors manifest.Manifest (see spec.md §6, "Backup
// manifest JSON"), grounded on the same custom-marshaling approach
// manifest.Entry uses, and the write discipline is grounded on
// PatchDirectory.Write's temp-file-then-fsync-then-rename pattern.
package rollback

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/luci/luci-go/common/errors"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/digest"
	"github.com/riannucci/graft/manifest"
)

// BackupDirName is the PatchDirectory-private subtree the Apply Engine
// creates under the target root to journal pre-mutation state.
const BackupDirName = ".patch-backup"

// Action discriminates a BackupEntry's restore semantics.
type Action string

// The two backup-entry kinds, see spec.md §4.6.
const (
	ActionRestoreContent Action = "restore-content"
	ActionRestoreAbsence Action = "restore-absence"
)

// BackupEntry records what must happen to one path during rollback.
// RestoreContent entries carry the digest the path must be restored to,
// for post-rollback verification; RestoreAbsence entries carry only a
// path, since there is no prior content to verify against.
type BackupEntry struct {
	Action    Action
	Path      string
	OldDigest digest.Digest
	BackupRef string // hex name under .patch-backup/content/; RestoreContent only
}

type wireBackupEntry struct {
	Action    Action `json:"action"`
	Path      string `json:"path"`
	OldDigest string `json:"old_digest,omitempty"`
	BackupRef string `json:"backup_ref,omitempty"`
}

// MarshalJSON emits the action-gated field set described in spec.md §6.
func (e BackupEntry) MarshalJSON() ([]byte, error) {
	w := wireBackupEntry{Action: e.Action, Path: e.Path}
	switch e.Action {
	case ActionRestoreContent:
		w.OldDigest = e.OldDigest.String()
		w.BackupRef = e.BackupRef
	case ActionRestoreAbsence:
		// no further fields
	default:
		return nil, errors.Reason("unknown backup action %(action)q").D("action", e.Action).Err()
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a BackupEntry written by MarshalJSON.
func (e *BackupEntry) UnmarshalJSON(buf []byte) error {
	var w wireBackupEntry
	if err := json.Unmarshal(buf, &w); err != nil {
		return errors.Annotate(err).Reason("decoding backup entry").Err()
	}
	e.Action, e.Path = w.Action, w.Path
	switch w.Action {
	case ActionRestoreContent:
		d, err := digest.ParseDigest(w.OldDigest)
		if err != nil {
			return errors.Annotate(err).Reason("entry %(path)q: bad old_digest").D("path", w.Path).Err()
		}
		e.OldDigest = d
		e.BackupRef = w.BackupRef
	case ActionRestoreAbsence:
		// no further fields
	default:
		return errors.Reason("entry %(path)q: unknown backup action %(action)q").
			D("path", w.Path).D("action", w.Action).Err()
	}
	return nil
}

// BackupManifest is the versioned record of what Phase P2 journaled,
// written to backup-manifest.json under BackupDirName, in the exact order
// entries were appended (spec.md §6).
type BackupManifest struct {
	Version string        `json:"version"`
	Entries []BackupEntry `json:"entries"`
}

// BackupDir is the on-disk layout of a target's `.patch-backup/` tree:
//
//	<target>/.patch-backup/
//	  backup-manifest.json
//	  content/<sha256-of-path>
type BackupDir struct {
	Root string // the target root; BackupDirName lives under it
}

func (b BackupDir) dir() string { return filepath.Join(b.Root, BackupDirName) }

// ManifestPath is <target>/.patch-backup/backup-manifest.json.
func (b BackupDir) ManifestPath() string { return filepath.Join(b.dir(), "backup-manifest.json") }

// ContentDir is <target>/.patch-backup/content.
func (b BackupDir) ContentDir() string { return filepath.Join(b.dir(), "content") }

// ContentRefPath is where the pre-mutation bytes for relPath are journaled.
func (b BackupDir) ContentRefPath(relPath string) string {
	return filepath.Join(b.ContentDir(), manifest.RefName(relPath))
}

// Exists reports whether a backup directory is present at all.
func (b BackupDir) Exists() bool {
	_, err := os.Stat(b.dir())
	return err == nil
}

// EnsureDirs creates the backup directory and its content subdirectory.
func (b BackupDir) EnsureDirs() error {
	if err := os.MkdirAll(b.ContentDir(), 0777); err != nil {
		return errors.Annotate(err).Reason("creating %(dir)q").D("dir", b.ContentDir()).Err()
	}
	return nil
}

// Remove deletes the entire backup directory tree, used once a patch (or
// a rollback) is fully committed and the caller asked to purge it.
func (b BackupDir) Remove() error {
	if err := os.RemoveAll(b.dir()); err != nil {
		return errors.Annotate(err).Reason("removing %(dir)q").D("dir", b.dir()).Err()
	}
	return nil
}

// ReadManifest loads and parses backup-manifest.json.
func (b BackupDir) ReadManifest() (*BackupManifest, error) {
	buf, err := os.ReadFile(b.ManifestPath())
	if err != nil {
		return nil, errors.Annotate(err).Reason("reading %(path)q").D("path", b.ManifestPath()).Err()
	}
	var m BackupManifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, &graft.ManifestCorruptError{Detail: err.Error()}
	}
	return &m, nil
}

// writeManifest writes m to ManifestPath via a temp-file-then-fsync-then-
// rename sequence, the same discipline PatchDirectory.Write uses -- so a
// crash leaves either the prior complete manifest or none, never a
// half-written one. Per spec.md §5, the rename's directory entry must
// itself be fsync'd, not just the file's content, so the directory is
// synced after the rename too.
func (b BackupDir) writeManifest(m *BackupManifest) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Annotate(err).Reason("marshaling backup manifest").Err()
	}
	path := b.ManifestPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return errors.Annotate(err).Reason("writing backup manifest tmp file").Err()
	}
	if f, err := os.Open(tmp); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Annotate(err).Reason("renaming backup manifest into place").Err()
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return errors.Annotate(err).Reason("syncing %(dir)q after renaming backup manifest into place").D("dir", filepath.Dir(path)).Err()
	}
	return nil
}

// syncDir fsyncs a directory's entry after a create or rename into it --
// the file content can be durable on disk while the directory entry
// pointing at it is not, per spec.md §5's "fsync of the backup file and
// its directory" ordering guarantee.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
