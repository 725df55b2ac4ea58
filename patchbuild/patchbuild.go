// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package patchbuild implements the Patch Builder component from spec.md
// §4.4: diffing two directory scans into a manifest plus payload files.
// It plays the role sar/create.go's CreateFromPath played in the teacher
// (including its functional-options construction), generalized from
// building a single sar archive to building a PatchDirectory of adds,
// patches, and deletes.
package patchbuild

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	humanize "github.com/dustin/go-humanize"
	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/iotools"
	"github.com/luci/luci-go/common/logging"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/delta"
	"github.com/riannucci/graft/manifest"
	"github.com/riannucci/graft/scan"
)

type buildOptionData struct {
	title        string
	patchVersion string
	clock        graft.Clock
}

// BuildOption configures Build, following the teacher's WithCompression /
// WithChecksum functional-option shape.
type BuildOption func(*buildOptionData)

// WithTitle sets the manifest's human-readable title. Default is "".
func WithTitle(title string) BuildOption {
	return func(o *buildOptionData) { o.title = title }
}

// WithPatchVersion sets the manifest's optional user-facing version string.
func WithPatchVersion(v string) BuildOption {
	return func(o *buildOptionData) { o.patchVersion = v }
}

// WithClock overrides the wall clock used to stamp created_at. Tests use
// this to get a reproducible manifest; production callers leave it unset
// and get graft.SystemClock.
func WithClock(c graft.Clock) BuildOption {
	return func(o *buildOptionData) { o.clock = c }
}

// Result summarizes a completed build: the manifest that was written, and
// any case-collision warnings per spec.md §9 (paths that differ only in
// case, which default NTFS semantics would treat as the same file).
type Result struct {
	Manifest       *manifest.Manifest
	CaseCollisions []string
}

// Build diffs old against mod and assembles a complete PatchDirectory at
// outDir: payload files under files/, deltas under diffs/, and finally
// manifest.json, written last per spec.md §4.4 so that a reader either
// sees a complete patch directory or a missing manifest and nothing in
// between. old and mod are Scans of two directory trees (see package
// scan); Build reads file content from old.Root / mod.Root as needed.
func Build(ctx context.Context, old, mod *scan.Scan, outDir string, opts ...BuildOption) (*Result, error) {
	data := buildOptionData{clock: graft.SystemClock{}}
	for _, o := range opts {
		o(&data)
	}

	pd := manifest.Open(outDir)
	if err := pd.EnsureDirs(); err != nil {
		return nil, err
	}

	m := manifest.New(data.title, data.patchVersion, data.clock.Now())

	var payloadBytes uint64
	paths := unionPaths(old, mod)
	for _, p := range paths {
		oldEntry, inOld := old.ByPath(p)
		modEntry, inMod := mod.ByPath(p)

		switch {
		case inOld && !inMod:
			m.Entries = append(m.Entries, manifest.Entry{
				Op:        manifest.OpDelete,
				Path:      p,
				OldDigest: oldEntry.Digest,
				OldSize:   oldEntry.Size,
			})

		case !inOld && inMod:
			ref := manifest.RefName(p)
			n, err := copyFile(filepath.Join(mod.Root, filepath.FromSlash(p)), pd.FileRefPath(p))
			if err != nil {
				return nil, errors.Annotate(err).Reason("copying add payload for %(path)q").D("path", p).Err()
			}
			payloadBytes += uint64(n)
			m.Entries = append(m.Entries, manifest.Entry{
				Op:         manifest.OpAdd,
				Path:       p,
				NewDigest:  modEntry.Digest,
				NewSize:    modEntry.Size,
				PayloadRef: ref,
			})

		case inOld && inMod && oldEntry.Digest == modEntry.Digest:
			// unchanged; no entry emitted.

		case inOld && inMod:
			oldBytes, err := os.ReadFile(filepath.Join(old.Root, filepath.FromSlash(p)))
			if err != nil {
				return nil, errors.Annotate(err).Reason("reading old %(path)q").D("path", p).Err()
			}
			newBytes, err := os.ReadFile(filepath.Join(mod.Root, filepath.FromSlash(p)))
			if err != nil {
				return nil, errors.Annotate(err).Reason("reading modified %(path)q").D("path", p).Err()
			}
			d, err := delta.Diff(oldBytes, newBytes)
			if err != nil {
				return nil, errors.Annotate(err).Reason("diffing %(path)q").D("path", p).Err()
			}
			ref := manifest.RefName(p)
			if err := os.WriteFile(pd.DiffRefPath(p), d, 0644); err != nil {
				return nil, errors.Annotate(err).Reason("writing delta for %(path)q").D("path", p).Err()
			}
			payloadBytes += uint64(len(d))
			m.Entries = append(m.Entries, manifest.Entry{
				Op:        manifest.OpPatch,
				Path:      p,
				OldDigest: oldEntry.Digest,
				OldSize:   oldEntry.Size,
				NewDigest: modEntry.Digest,
				NewSize:   modEntry.Size,
				DeltaRef:  ref,
			})
		}
	}

	m.Sort()
	// Case collisions are checked across every path of the modified tree,
	// so an added file that collides with an unchanged one is flagged too.
	modPaths := &manifest.Manifest{}
	for _, p := range mod.Paths() {
		modPaths.Entries = append(modPaths.Entries, manifest.Entry{Path: p})
	}
	warnings := manifest.CaseCollisionWarnings(modPaths)
	for _, w := range warnings {
		logging.Warningf(ctx, "patchbuild: %s", w)
	}

	if err := pd.Write(m); err != nil {
		return nil, err
	}

	logging.Infof(ctx, "patchbuild: wrote %s across %d operations", humanize.Bytes(payloadBytes), len(m.Entries))
	return &Result{Manifest: m, CaseCollisions: warnings}, nil
}

// unionPaths returns the sorted union of paths present in either scan.
func unionPaths(old, mod *scan.Scan) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range old.Entries {
		if !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	for _, e := range mod.Entries {
		if !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	sort.Strings(out)
	return out
}

// copyFile copies src to dst and returns the number of bytes written, via
// the same iotools.CountingWriter the teacher wraps compressed output in
// (sar/sardata/block.go's BlockWriter) -- here just to size the build's
// final summary log without a second stat call.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	cw := &iotools.CountingWriter{Writer: out}
	if _, err := io.Copy(cw, in); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return 0, err
	}
	return cw.Count, out.Close()
}
