// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package apply implements the Apply Engine from spec.md §4.5: Phase P1
// precondition verification (Preflight, independently usable as the
// supplemented `patch check` CLI verb from SPEC_FULL.md §C) and Phase P2
// apply-with-journal, which delegates its undo journal to package
// rollback. Grounded on the teacher's sar/unpack.go for its fsync/rename
// discipline and error-channel-free sequential mutation ordering, and on
// original_source's graft_core::patch::{validate_patched_entries,
// validate_backup} for the shape of precondition verification.
package apply

import (
	"context"
	"os"

	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/logging"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/digest"
	"github.com/riannucci/graft/manifest"
)

// Preflight performs Phase P1 (spec.md §4.5): for every operation in m,
// verify its preconditions hold against targetRoot and pd without
// mutating anything. It returns the first violation found, as a
// *graft.PreflightError. force relaxes the Add precondition: an Add whose
// target already exists is tolerated if the existing file's digest
// already equals new_digest (that operation then becomes a no-op for
// Apply to skip).
func Preflight(ctx context.Context, targetRoot string, m *manifest.Manifest, pd manifest.PatchDirectory, force bool) error {
	for _, e := range m.Entries {
		abs := targetPath(targetRoot, e.Path)

		switch e.Op {
		case manifest.OpPatch, manifest.OpDelete:
			if _, err := os.Stat(abs); os.IsNotExist(err) {
				return &graft.PreflightError{Path: e.Path, Kind: graft.MissingSource}
			}
			got, err := digest.HashFile(abs)
			if err != nil {
				return errors.Annotate(err).Reason("preflight: hashing %(path)q").D("path", e.Path).Err()
			}
			if got != e.OldDigest {
				return &graft.PreflightError{
					Path: e.Path, Kind: graft.DigestMismatchKind,
					Expected: e.OldDigest.String(), Got: got.String(),
				}
			}
			if e.Op == manifest.OpPatch {
				if _, err := os.Stat(pd.DiffRefPath(e.Path)); err != nil {
					return &graft.PreflightError{Path: e.Path, Kind: graft.MissingPayload}
				}
			}

		case manifest.OpAdd:
			// expected case: target absent, nothing to check.
			if _, err := os.Stat(abs); !os.IsNotExist(err) {
				got, err := digest.HashFile(abs)
				switch {
				case err != nil:
					return errors.Annotate(err).Reason("preflight: hashing %(path)q").D("path", e.Path).Err()
				case !force:
					return &graft.PreflightError{Path: e.Path, Kind: graft.UnexpectedExistingTarget}
				case got != e.NewDigest:
					return &graft.PreflightError{
						Path: e.Path, Kind: graft.UnexpectedExistingTarget,
						Expected: e.NewDigest.String(), Got: got.String(),
					}
				}
			}

			payloadPath := pd.FileRefPath(e.Path)
			payloadDigest, err := digest.HashFile(payloadPath)
			if err != nil {
				return &graft.PreflightError{Path: e.Path, Kind: graft.MissingPayload}
			}
			if payloadDigest != e.NewDigest {
				return &graft.PreflightError{
					Path: e.Path, Kind: graft.MissingPayload,
					Expected: e.NewDigest.String(), Got: payloadDigest.String(),
				}
			}
		}
	}

	logging.Infof(ctx, "preflight: %d operations verified against %s", len(m.Entries), targetRoot)
	return nil
}

// isAddNoOp reports whether e is an Add operation whose target already
// exists with the expected post-state digest -- the --force case from
// spec.md §4.5 where Preflight passes but Apply must skip the mutation
// and take no backup.
func isAddNoOp(targetRoot string, e manifest.Entry) bool {
	if e.Op != manifest.OpAdd {
		return false
	}
	got, err := digest.HashFile(targetPath(targetRoot, e.Path))
	return err == nil && got == e.NewDigest
}
