// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"os"
	"path/filepath"

	"github.com/luci/luci-go/common/errors"
)

// PatchDirectory is the on-disk layout described in spec.md §3:
//
//	<root>/
//	  manifest.json
//	  diffs/<sha256-of-path>
//	  files/<sha256-of-path>
//	  .graft_assets/
type PatchDirectory struct {
	Root string
}

// Open wraps an existing directory path without checking for a manifest --
// use Read to load and validate it.
func Open(root string) PatchDirectory { return PatchDirectory{Root: root} }

// ManifestPath returns the path to <root>/manifest.json.
func (p PatchDirectory) ManifestPath() string { return filepath.Join(p.Root, "manifest.json") }

// DiffsDir returns <root>/diffs.
func (p PatchDirectory) DiffsDir() string { return filepath.Join(p.Root, "diffs") }

// FilesDir returns <root>/files.
func (p PatchDirectory) FilesDir() string { return filepath.Join(p.Root, "files") }

// AssetsDir returns <root>/.graft_assets, used only by packaging.
func (p PatchDirectory) AssetsDir() string { return filepath.Join(p.Root, ".graft_assets") }

// DiffRefPath returns the path diffs/<hex> should live at for relPath.
func (p PatchDirectory) DiffRefPath(relPath string) string {
	return filepath.Join(p.DiffsDir(), RefName(relPath))
}

// FileRefPath returns the path files/<hex> should live at for relPath.
func (p PatchDirectory) FileRefPath(relPath string) string {
	return filepath.Join(p.FilesDir(), RefName(relPath))
}

// EnsureDirs creates diffs/ and files/ under root, idempotently.
func (p PatchDirectory) EnsureDirs() error {
	for _, d := range []string{p.DiffsDir(), p.FilesDir()} {
		if err := os.MkdirAll(d, 0777); err != nil {
			return errors.Annotate(err).Reason("creating %(dir)q").D("dir", d).Err()
		}
	}
	return nil
}

// Read loads and validates manifest.json from the PatchDirectory.
func (p PatchDirectory) Read() (*Manifest, error) {
	buf, err := os.ReadFile(p.ManifestPath())
	if err != nil {
		return nil, errors.Annotate(err).Reason("reading %(path)q").D("path", p.ManifestPath()).Err()
	}
	return Unmarshal(buf)
}

// Write marshals m and writes it to manifest.json. Per spec.md §4.4 this
// must be the LAST write performed while assembling a patch directory: its
// presence is what signals a complete, usable PatchDirectory to a reader.
// Per spec.md §5, the rename's directory entry must itself be fsync'd, not
// just the file's content, so the containing directory is synced after
// the rename too.
func (p PatchDirectory) Write(m *Manifest) error {
	buf, err := Marshal(m)
	if err != nil {
		return err
	}
	tmp := p.ManifestPath() + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return errors.Annotate(err).Reason("writing manifest tmp file").Err()
	}
	f, err := os.Open(tmp)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, p.ManifestPath()); err != nil {
		return errors.Annotate(err).Reason("renaming manifest into place").Err()
	}
	if err := syncDir(filepath.Dir(p.ManifestPath())); err != nil {
		return errors.Annotate(err).Reason("syncing %(dir)q after renaming manifest into place").D("dir", filepath.Dir(p.ManifestPath())).Err()
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
