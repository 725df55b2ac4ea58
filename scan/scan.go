// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package scan implements the Scanner component from spec.md §4.3: a walk
// of a directory tree into a stable, sorted set of (relative path, digest,
// size) entries. It plays the role sar/create.go's (unfinished)
// GenerateTreeFromPath was meant to play in the teacher, completed here.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/luci/luci-go/common/data/stringset"
	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/logging"

	"github.com/riannucci/graft/digest"
)

// FileEntry identifies one regular file within a Scan: a POSIX-style
// relative path, its byte length, and its content digest.
type FileEntry struct {
	Path   string
	Size   uint64
	Digest digest.Digest
}

// Scan is an immutable, lexicographically sorted sequence of FileEntry
// rooted at a directory. Construct with Walk; do not mutate Entries.
type Scan struct {
	Root    string
	Entries []FileEntry
}

// ByPath looks up the FileEntry for relPath, if present.
func (s *Scan) ByPath(relPath string) (FileEntry, bool) {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Path >= relPath })
	if i < len(s.Entries) && s.Entries[i].Path == relPath {
		return s.Entries[i], true
	}
	return FileEntry{}, false
}

// Paths returns every path in the scan, in sorted order.
func (s *Scan) Paths() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Path
	}
	return out
}

// excludeFn decides whether a relative path should be skipped entirely
// (along with everything beneath it, if it names a directory).
type excludeFn func(relPath string) bool

// ExcludePatchDirectoryInternals skips .patch-backup/ and .graft_assets/,
// the two PatchDirectory-private subtrees spec.md §4.3 says must not appear
// in a scan taken of a patch root.
func ExcludePatchDirectoryInternals(relPath string) bool {
	return relPath == ".patch-backup" || strings.HasPrefix(relPath, ".patch-backup/") ||
		relPath == ".graft_assets" || strings.HasPrefix(relPath, ".graft_assets/")
}

// Walk scans root and returns a Scan of every regular file reachable from
// it. Symbolic links, devices, sockets, and other non-regular entries are
// skipped with a logged warning, per spec.md §4.3. exclude, if non-nil, is
// consulted for every relative path (files and directories); when it
// matches a directory, that whole subtree is skipped.
func Walk(ctx context.Context, root string, exclude excludeFn) (*Scan, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Annotate(err).Reason("resolving scan root %(root)q").D("root", root).Err()
	}

	var entries []FileEntry
	seen := stringset.New(0)

	walkErr := filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Annotate(err).Reason("walking %(abs)q").D("abs", abs).Err()
		}
		if abs == root {
			return nil
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return errors.Annotate(err).Reason("relativizing %(abs)q").D("abs", abs).Err()
		}
		rel = filepath.ToSlash(rel)

		if exclude != nil && exclude(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errors.Annotate(err).Reason("statting %(rel)q").D("rel", rel).Err()
		}

		switch {
		case d.IsDir():
			return nil
		case info.Mode()&os.ModeSymlink != 0:
			logging.Warningf(ctx, "scan: skipping symlink %s", rel)
			return nil
		case !info.Mode().IsRegular():
			logging.Warningf(ctx, "scan: skipping non-regular file %s (mode %s)", rel, info.Mode())
			return nil
		}

		if !seen.Add(rel) {
			return errors.Reason("duplicate path %(rel)q during scan").D("rel", rel).Err()
		}

		dgst, err := digest.HashFile(abs)
		if err != nil {
			return errors.Annotate(err).Reason("hashing %(rel)q").D("rel", rel).Err()
		}

		entries = append(entries, FileEntry{
			Path:   rel,
			Size:   uint64(info.Size()),
			Digest: dgst,
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return &Scan{Root: root, Entries: entries}, nil
}
