// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rollback

import (
	"context"
	"os"
	"path/filepath"

	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/logging"
	"golang.org/x/sync/errgroup"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/digest"
)

// Report summarizes a completed rollback.
type Report struct {
	Restored []string // paths whose content was restored
	Removed  []string // paths that were unlinked (undoing an Add)
}

// verifyTask is a restored path still owed a post-restore digest check.
type verifyTask struct {
	path, abs, backupPath string
	want                  digest.Digest
}

// Restore reads backup-manifest.json under targetRoot's BackupDirName and
// undoes every journaled operation in reverse order, per spec.md §4.6:
// restore-content entries get their backup copy renamed back over the
// live path; restore-absence entries get unlinked. Once every rename and
// unlink has landed, the restored paths are re-hashed concurrently --
// they're disjoint files and read-only at this point, so nothing about
// spec.md §5's backup-before-mutate ordering constrains this pass -- and
// each must match its journaled OldDigest. A mismatch is unrecoverable
// corruption; the backup directory is left in place for forensics rather
// than purged.
func Restore(ctx context.Context, targetRoot string) (Report, error) {
	dir := BackupDir{Root: targetRoot}
	m, err := dir.ReadManifest()
	if err != nil {
		return Report{}, err
	}

	var report Report
	var toVerify []verifyTask
	for i := len(m.Entries) - 1; i >= 0; i-- {
		e := m.Entries[i]
		abs := filepath.Join(targetRoot, filepath.FromSlash(e.Path))

		switch e.Action {
		case ActionRestoreContent:
			backupPath := filepath.Join(dir.ContentDir(), e.BackupRef)
			if err := os.MkdirAll(filepath.Dir(abs), 0777); err != nil {
				return report, errors.Annotate(err).Reason("making parent dirs for %(path)q").D("path", e.Path).Err()
			}
			if err := os.Rename(backupPath, abs); err != nil {
				return report, errors.Annotate(err).Reason("restoring %(path)q from backup").D("path", e.Path).Err()
			}
			report.Restored = append(report.Restored, e.Path)
			toVerify = append(toVerify, verifyTask{path: e.Path, abs: abs, backupPath: backupPath, want: e.OldDigest})

		case ActionRestoreAbsence:
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return report, errors.Annotate(err).Reason("removing %(path)q").D("path", e.Path).Err()
			}
			if err := removeEmptyParents(targetRoot, filepath.Dir(abs)); err != nil {
				return report, errors.Annotate(err).Reason("removing empty parent dirs for %(path)q").D("path", e.Path).Err()
			}
			report.Removed = append(report.Removed, e.Path)
			logging.Infof(ctx, "rollback: removed %s", e.Path)

		default:
			return report, &graft.ManifestCorruptError{Detail: "unknown backup action " + string(e.Action)}
		}
	}

	if err := verifyRestored(ctx, toVerify); err != nil {
		return report, err
	}
	return report, nil
}

// verifyRestored re-hashes every restored path against its journaled
// digest, fanning the reads out across an errgroup since the paths are
// disjoint and nothing else touches them once Restore's rename pass is
// done.
func verifyRestored(ctx context.Context, tasks []verifyTask) error {
	g, _ := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			got, err := digest.HashFile(t.abs)
			if err != nil {
				return &graft.UnrecoverableCorruptionError{
					Path: t.path, BackupPath: t.backupPath,
					Cause: errors.Annotate(err).Reason("hashing restored %(path)q").D("path", t.path).Err(),
				}
			}
			if got != t.want {
				return &graft.UnrecoverableCorruptionError{
					Path: t.path, BackupPath: t.backupPath,
					Cause: errors.Reason("restored %(path)q hashes to %(got)s, want %(want)s").
						D("path", t.path).D("got", got.String()).D("want", t.want.String()).Err(),
				}
			}
			logging.Infof(ctx, "rollback: restored %s", t.path)
			return nil
		})
	}
	return g.Wait()
}

// removeEmptyParents walks upward from dir, removing each now-empty
// ancestor directory, stopping once it reaches root (never removing root
// itself) or finds a directory that still has something in it. Mirrors
// spec.md §8 scenario 3: an Add under a nested path creates intermediate
// directories on apply, so rollback must remove them again if they're
// left empty.
func removeEmptyParents(root, dir string) error {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root; {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
	return nil
}

// Purge deletes the backup directory entirely. Callers use this after a
// successful Restore, or after an Apply Engine run the caller does not
// want to be able to roll back further.
func Purge(targetRoot string) error {
	return BackupDir{Root: targetRoot}.Remove()
}
