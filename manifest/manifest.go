// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package manifest implements the typed, versioned, JSON-serializable
// description of a patch's operations, and the on-disk PatchDirectory
// layout that carries it. This plays the role sardata/toc and
// sardata/toc/toc.go play in the teacher (table-of-contents type +
// LoopItems/Validate), but the wire format here is JSON per spec.md §6
// rather than the teacher's protobuf TOC -- see DESIGN.md for why the
// protobuf dependency was dropped rather than adapted.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/luci/luci-go/common/data/stringset"
	"github.com/luci/luci-go/common/errors"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/digest"
)

// SchemaVersion is the current manifest schema version identifier.
const SchemaVersion = "1"

// Op is the tagged-union discriminator for an Operation, serialized as
// manifest.json's "op" field.
type Op string

// The three operation kinds, see spec.md §3.
const (
	OpAdd    Op = "add"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// Entry is one operation against a single relative path. Which fields are
// populated (and serialized) depends on Op; see MarshalJSON.
type Entry struct {
	Op         Op
	Path       string
	OldDigest  digest.Digest
	OldSize    uint64
	NewDigest  digest.Digest
	NewSize    uint64
	PayloadRef string // files/<hex> ; only set for OpAdd
	DeltaRef   string // diffs/<hex> ; only set for OpPatch
}

type wireEntry struct {
	Op         Op     `json:"op"`
	Path       string `json:"path"`
	OldDigest  string `json:"old_digest,omitempty"`
	OldSize    *uint64 `json:"old_size,omitempty"`
	NewDigest  string `json:"new_digest,omitempty"`
	NewSize    *uint64 `json:"new_size,omitempty"`
	PayloadRef string `json:"payload_ref,omitempty"`
	DeltaRef   string `json:"delta_ref,omitempty"`
}

// MarshalJSON emits exactly the field set spec.md §6 defines for each op
// kind -- notably it must NOT drop old_size/new_size for a legitimately
// empty (zero-length) file, so presence is decided by Op, not by Go's
// zero-value omitempty semantics.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{Op: e.Op, Path: e.Path}
	switch e.Op {
	case OpAdd:
		w.NewDigest = e.NewDigest.String()
		w.NewSize = &e.NewSize
		w.PayloadRef = e.PayloadRef
	case OpPatch:
		w.OldDigest = e.OldDigest.String()
		w.OldSize = &e.OldSize
		w.NewDigest = e.NewDigest.String()
		w.NewSize = &e.NewSize
		w.DeltaRef = e.DeltaRef
	case OpDelete:
		w.OldDigest = e.OldDigest.String()
		w.OldSize = &e.OldSize
	default:
		return nil, errors.Reason("unknown op %(op)q").D("op", e.Op).Err()
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses one of the three op shapes described in spec.md §6.
func (e *Entry) UnmarshalJSON(buf []byte) error {
	var w wireEntry
	if err := json.Unmarshal(buf, &w); err != nil {
		return errors.Annotate(err).Reason("decoding manifest entry").Err()
	}
	e.Op = w.Op
	e.Path = w.Path

	parseDigest := func(s, field string) (digest.Digest, error) {
		if s == "" {
			return digest.Digest{}, errors.Reason("entry %(path)q: missing %(field)s").
				D("path", w.Path).D("field", field).Err()
		}
		d, err := digest.ParseDigest(s)
		if err != nil {
			return d, errors.Annotate(err).Reason("entry %(path)q: bad %(field)s").
				D("path", w.Path).D("field", field).Err()
		}
		return d, nil
	}

	switch w.Op {
	case OpAdd:
		d, err := parseDigest(w.NewDigest, "new_digest")
		if err != nil {
			return err
		}
		e.NewDigest = d
		if w.NewSize == nil {
			return errors.Reason("entry %(path)q: missing new_size").D("path", w.Path).Err()
		}
		e.NewSize = *w.NewSize
		e.PayloadRef = w.PayloadRef
	case OpPatch:
		od, err := parseDigest(w.OldDigest, "old_digest")
		if err != nil {
			return err
		}
		nd, err := parseDigest(w.NewDigest, "new_digest")
		if err != nil {
			return err
		}
		e.OldDigest, e.NewDigest = od, nd
		if w.OldSize == nil || w.NewSize == nil {
			return errors.Reason("entry %(path)q: missing old_size/new_size").D("path", w.Path).Err()
		}
		e.OldSize, e.NewSize = *w.OldSize, *w.NewSize
		e.DeltaRef = w.DeltaRef
	case OpDelete:
		od, err := parseDigest(w.OldDigest, "old_digest")
		if err != nil {
			return err
		}
		e.OldDigest = od
		if w.OldSize == nil {
			return errors.Reason("entry %(path)q: missing old_size").D("path", w.Path).Err()
		}
		e.OldSize = *w.OldSize
	default:
		return errors.Reason("entry %(path)q: unknown op %(op)q").D("path", w.Path).D("op", w.Op).Err()
	}
	return nil
}

// Manifest is the versioned, serializable record of a patch's operations.
type Manifest struct {
	Version      string    `json:"version"`
	Title        string    `json:"title"`
	PatchVersion string    `json:"patch_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Entries      []Entry   `json:"entries"`
}

// New builds an empty Manifest with the current schema version.
func New(title, patchVersion string, createdAt time.Time) *Manifest {
	return &Manifest{
		Version:      SchemaVersion,
		Title:        title,
		PatchVersion: patchVersion,
		CreatedAt:    createdAt,
	}
}

// Sort orders Entries by Path, establishing the canonical order spec.md §4.4
// requires before the manifest is written.
func (m *Manifest) Sort() {
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })
}

var badPathChars = regexp.MustCompile(`[<>:"\\|?*\x00-\x1f]`)

func validatePath(p string) error {
	if p == "" {
		return errors.New("empty path")
	}
	if path.IsAbs(p) || strings.HasPrefix(p, "/") {
		return errors.Reason("path %(path)q has a leading slash").D("path", p).Err()
	}
	if strings.Contains(p, `\`) {
		return errors.Reason("path %(path)q contains a backslash").D("path", p).Err()
	}
	for _, piece := range strings.Split(p, "/") {
		if piece == "" || piece == "." {
			return errors.Reason("path %(path)q has an empty or '.' component").D("path", p).Err()
		}
		if piece == ".." {
			return errors.Reason("path %(path)q escapes its root via '..'").D("path", p).Err()
		}
		if loc := badPathChars.FindStringIndex(piece); loc != nil {
			return errors.Reason("path %(path)q has a disallowed character").D("path", p).Err()
		}
	}
	return nil
}

// Validate checks the hard invariants from spec.md §3: paths are relative,
// POSIX-style, never cross the root, appear in at most one Entry, and
// Entries are sorted by Path.
func (m *Manifest) Validate() error {
	seen := stringset.New(len(m.Entries))
	lastPath := ""
	for i, e := range m.Entries {
		if err := validatePath(e.Path); err != nil {
			return &graft.ManifestCorruptError{Detail: err.Error()}
		}
		if !seen.Add(e.Path) {
			return &graft.ManifestCorruptError{Detail: "duplicate path " + e.Path}
		}
		if i > 0 && e.Path <= lastPath {
			return &graft.ManifestCorruptError{Detail: "entries not sorted by path at " + e.Path}
		}
		lastPath = e.Path
	}
	return nil
}

// CaseCollisionWarnings reports paths which are distinct but would collide
// under case-insensitive (e.g. default NTFS) semantics. Per spec.md §9 this
// is a warning, not a hard validation failure -- the caller (patchbuild)
// decides how to surface it.
func CaseCollisionWarnings(m *Manifest) []string {
	var warnings []string
	seenLower := map[string]string{}
	for _, e := range m.Entries {
		lower := strings.ToLower(e.Path)
		if other, ok := seenLower[lower]; ok && other != e.Path {
			warnings = append(warnings, e.Path+" case-collides with "+other)
		} else {
			seenLower[lower] = e.Path
		}
	}
	return warnings
}

// Marshal renders the manifest as the canonical UTF-8 JSON described in
// spec.md §6, after sorting entries and validating.
func Marshal(m *Manifest) ([]byte, error) {
	m.Sort()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Annotate(err).Reason("marshaling manifest").Err()
	}
	return buf, nil
}

// Unmarshal parses manifest.json bytes and validates the result.
func Unmarshal(buf []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, &graft.ManifestCorruptError{Detail: err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// RefName is the stable, collision-resistant, filesystem-safe name used
// under diffs/ and files/ in a PatchDirectory: the hex SHA-256 of the
// entry's relative path.
func RefName(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(sum[:])
}
