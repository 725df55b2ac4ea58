// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package apply

import (
	"context"
	"os"
	"path/filepath"

	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/logging"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/delta"
	"github.com/riannucci/graft/digest"
	"github.com/riannucci/graft/manifest"
	"github.com/riannucci/graft/rollback"
)

type applyOptionData struct {
	force       bool
	purgeBackup bool
}

// ApplyOption configures Apply, in the teacher's functional-option style.
type ApplyOption func(*applyOptionData)

// WithForce tolerates an Add whose target already exists with the
// expected post-state digest (treated as a no-op), per spec.md §4.5.
func WithForce() ApplyOption { return func(o *applyOptionData) { o.force = true } }

// WithPurgeBackup removes .patch-backup/ on full success instead of
// retaining it for a later user-initiated rollback.
func WithPurgeBackup() ApplyOption { return func(o *applyOptionData) { o.purgeBackup = true } }

// targetPath joins targetRoot with a manifest-relative POSIX path.
func targetPath(targetRoot, relPath string) string {
	return filepath.Join(targetRoot, filepath.FromSlash(relPath))
}

// Apply runs the full two-phase Apply Engine (spec.md §4.5) against
// targetRoot using the PatchDirectory pd: Preflight (Phase P1), then
// apply-with-journal (Phase P2), then a post-verification re-scan of
// every touched path. Any Phase P2 or post-verification failure triggers
// rollback.Restore and returns a *graft.ApplyError describing both the
// original cause and what the rollback accomplished.
func Apply(ctx context.Context, targetRoot string, pd manifest.PatchDirectory, opts ...ApplyOption) error {
	data := applyOptionData{}
	for _, o := range opts {
		o(&data)
	}

	m, err := pd.Read()
	if err != nil {
		return err
	}

	if err := Preflight(ctx, targetRoot, m, pd, data.force); err != nil {
		return err
	}

	j, err := rollback.OpenJournal(targetRoot)
	if err != nil {
		return errors.Annotate(err).Reason("opening backup journal").Err()
	}

	var touched []manifest.Entry
	for _, e := range m.Entries {
		if e.Op == manifest.OpAdd && data.force && isAddNoOp(targetRoot, e) {
			logging.Infof(ctx, "apply: %s already at desired state, skipping", e.Path)
			continue
		}

		if err := applyOne(ctx, targetRoot, pd, j, e); err != nil {
			return failAndRollback(ctx, targetRoot, e.Path, err, data.purgeBackup)
		}
		touched = append(touched, e)
	}

	for _, e := range touched {
		if err := verifyPostState(targetRoot, e); err != nil {
			return failAndRollback(ctx, targetRoot, e.Path, err, data.purgeBackup)
		}
	}

	if data.purgeBackup {
		if err := rollback.Purge(targetRoot); err != nil {
			return errors.Annotate(err).Reason("purging backup after successful apply").Err()
		}
	}

	logging.Infof(ctx, "apply: %d operations applied to %s", len(touched), targetRoot)
	return nil
}

// applyOne journals the pre-mutation state for e (if any), then performs
// its mutation. Backup-before-mutate ordering, and the fsync-then-rename
// discipline within each mutation, are the core correctness argument of
// spec.md §5 and must not be parallelized across operations.
func applyOne(ctx context.Context, targetRoot string, pd manifest.PatchDirectory, j *rollback.Journal, e manifest.Entry) error {
	abs := targetPath(targetRoot, e.Path)

	switch e.Op {
	case manifest.OpPatch:
		oldBytes, err := os.ReadFile(abs)
		if err != nil {
			return errors.Annotate(err).Reason("reading %(path)q before patching").D("path", e.Path).Err()
		}
		if err := j.BackupContent(e.Path, e.OldDigest, oldBytes); err != nil {
			return err
		}

		deltaBytes, err := os.ReadFile(pd.DiffRefPath(e.Path))
		if err != nil {
			return errors.Annotate(err).Reason("reading delta for %(path)q").D("path", e.Path).Err()
		}
		newBytes, err := delta.Apply(oldBytes, deltaBytes)
		if err != nil {
			return errors.Annotate(err).Reason("applying delta to %(path)q").D("path", e.Path).Err()
		}
		if err := atomicWrite(abs, newBytes); err != nil {
			return err
		}
		return verifyDigest(abs, e.NewDigest, e.Path)

	case manifest.OpAdd:
		if err := j.RecordAbsence(e.Path); err != nil {
			return err
		}
		payload, err := os.ReadFile(pd.FileRefPath(e.Path))
		if err != nil {
			return errors.Annotate(err).Reason("reading add payload for %(path)q").D("path", e.Path).Err()
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0777); err != nil {
			return errors.Annotate(err).Reason("making parent dirs for %(path)q").D("path", e.Path).Err()
		}
		if err := atomicWrite(abs, payload); err != nil {
			return err
		}
		return verifyDigest(abs, e.NewDigest, e.Path)

	case manifest.OpDelete:
		oldBytes, err := os.ReadFile(abs)
		if err != nil {
			return errors.Annotate(err).Reason("reading %(path)q before deleting").D("path", e.Path).Err()
		}
		if err := j.BackupContent(e.Path, e.OldDigest, oldBytes); err != nil {
			return err
		}
		if err := os.Remove(abs); err != nil {
			return errors.Annotate(err).Reason("deleting %(path)q").D("path", e.Path).Err()
		}
		return nil

	default:
		return errors.Reason("unknown op %(op)q for %(path)q").D("op", e.Op).D("path", e.Path).Err()
	}
}

// atomicWrite writes buf to a temp sibling of path, fsyncs it, then
// renames it over path -- the write-temp-fsync-rename sequence spec.md
// §5 requires for every Apply mutation.
func atomicWrite(path string, buf []byte) error {
	tmp := path + ".graft-tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Annotate(err).Reason("creating temp file for %(path)q").D("path", path).Err()
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Annotate(err).Reason("writing temp file for %(path)q").D("path", path).Err()
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Annotate(err).Reason("syncing temp file for %(path)q").D("path", path).Err()
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err).Reason("closing temp file for %(path)q").D("path", path).Err()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Annotate(err).Reason("renaming into place %(path)q").D("path", path).Err()
	}
	return nil
}

func verifyDigest(abs string, want digest.Digest, relPath string) error {
	got, err := digest.HashFile(abs)
	if err != nil {
		return errors.Annotate(err).Reason("hashing %(path)q after mutation").D("path", relPath).Err()
	}
	if got != want {
		return errors.Reason("%(path)q hashes to %(got)s after mutation, want %(want)s").
			D("path", relPath).D("got", got.String()).D("want", want.String()).Err()
	}
	return nil
}

// verifyPostState re-hashes e's target after every operation has
// succeeded, per spec.md §4.5's post-verification pass. Delete operations
// are verified by absence; everything else by digest.
func verifyPostState(targetRoot string, e manifest.Entry) error {
	abs := targetPath(targetRoot, e.Path)
	if e.Op == manifest.OpDelete {
		if _, err := os.Stat(abs); !os.IsNotExist(err) {
			return errors.Reason("%(path)q still present after delete").D("path", e.Path).Err()
		}
		return nil
	}
	return verifyDigest(abs, e.NewDigest, e.Path)
}

// failAndRollback wraps cause in a *graft.ApplyError after attempting
// rollback.Restore, per spec.md §4.5's "any per-operation failure
// triggers rollback" rule.
func failAndRollback(ctx context.Context, targetRoot, path string, cause error, purgeBackup bool) error {
	logging.Errorf(ctx, "apply: %s failed (%v), rolling back", path, cause)

	outcome := graft.RollbackOutcome{}
	if _, err := rollback.Restore(ctx, targetRoot); err != nil {
		logging.Errorf(ctx, "apply: rollback itself failed: %v", err)
		outcome.Restored = false
		outcome.BackupRetained = rollback.BackupDir{Root: targetRoot}.Exists()
		return &graft.ApplyError{Path: path, Cause: cause, Rollback: outcome}
	}
	outcome.Restored = true

	if purgeBackup {
		_ = rollback.Purge(targetRoot)
	}
	outcome.BackupRetained = rollback.BackupDir{Root: targetRoot}.Exists()

	return &graft.ApplyError{Path: path, Cause: cause, Rollback: outcome}
}
