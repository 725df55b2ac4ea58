// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/riannucci/graft/digest"
)

func TestManifest(t *testing.T) {
	t.Parallel()

	Convey("Manifest", t, func() {
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		Convey("marshals the add/patch/delete shapes from spec.md §6 exactly", func() {
			m := New("Demo Patch", "1.2.3", created)
			m.Entries = []Entry{
				{
					Op: OpDelete, Path: "gone.bin",
					OldDigest: digest.HashBytes([]byte{0xFF}), OldSize: 1,
				},
				{
					Op: OpAdd, Path: "new.bin",
					NewDigest: digest.HashBytes([]byte{0xAA, 0xBB}), NewSize: 2,
					PayloadRef: RefName("new.bin"),
				},
				{
					Op: OpPatch, Path: "keep.bin",
					OldDigest: digest.HashBytes([]byte{0x00}), OldSize: 1,
					NewDigest: digest.HashBytes([]byte{0x00, 0x01}), NewSize: 2,
					DeltaRef: RefName("keep.bin"),
				},
			}

			buf, err := Marshal(m)
			So(err, ShouldBeNil)

			var raw struct {
				Entries []map[string]any `json:"entries"`
			}
			So(json.Unmarshal(buf, &raw), ShouldBeNil)
			So(len(raw.Entries), ShouldEqual, 3)

			// sorted by path: gone.bin, keep.bin, new.bin
			del, patch, add := raw.Entries[0], raw.Entries[1], raw.Entries[2]

			So(keysOf(del), ShouldResemble, []string{"op", "path", "old_digest", "old_size"})
			So(keysOf(patch), ShouldResemble, []string{"op", "path", "old_digest", "old_size", "new_digest", "new_size", "delta_ref"})
			So(keysOf(add), ShouldResemble, []string{"op", "path", "new_digest", "new_size", "payload_ref"})
		})

		Convey("round-trips through Marshal/Unmarshal", func() {
			m := New("Demo", "", created)
			m.Entries = []Entry{
				{Op: OpAdd, Path: "a.txt", NewDigest: digest.HashBytes([]byte("hi")), NewSize: 2, PayloadRef: RefName("a.txt")},
			}
			buf, err := Marshal(m)
			So(err, ShouldBeNil)

			got, err := Unmarshal(buf)
			So(err, ShouldBeNil)
			So(got.Title, ShouldEqual, "Demo")
			So(len(got.Entries), ShouldEqual, 1)
			So(got.Entries[0].NewSize, ShouldEqual, 2)
		})

		Convey("preserves a zero-size entry's size field", func() {
			m := New("Empty file", "", created)
			m.Entries = []Entry{
				{Op: OpDelete, Path: "empty.bin", OldDigest: digest.HashBytes(nil), OldSize: 0},
			}
			buf, err := Marshal(m)
			So(err, ShouldBeNil)
			So(string(buf), ShouldContainSubstring, `"old_size": 0`)
		})

		Convey("Validate rejects", func() {
			Convey("a leading slash", func() {
				m := New("x", "", created)
				m.Entries = []Entry{{Op: OpDelete, Path: "/abs.bin", OldDigest: digest.HashBytes(nil)}}
				So(m.Validate(), ShouldNotBeNil)
			})

			Convey("a path that escapes its root", func() {
				m := New("x", "", created)
				m.Entries = []Entry{{Op: OpDelete, Path: "../escape.bin", OldDigest: digest.HashBytes(nil)}}
				So(m.Validate(), ShouldNotBeNil)
			})

			Convey("duplicate paths", func() {
				m := New("x", "", created)
				m.Entries = []Entry{
					{Op: OpDelete, Path: "a.bin", OldDigest: digest.HashBytes(nil)},
					{Op: OpDelete, Path: "a.bin", OldDigest: digest.HashBytes(nil)},
				}
				So(m.Validate(), ShouldNotBeNil)
			})

			Convey("out-of-order entries", func() {
				m := &Manifest{Version: SchemaVersion, Entries: []Entry{
					{Op: OpDelete, Path: "b.bin", OldDigest: digest.HashBytes(nil)},
					{Op: OpDelete, Path: "a.bin", OldDigest: digest.HashBytes(nil)},
				}}
				So(m.Validate(), ShouldNotBeNil)
			})
		})

		Convey("Unmarshal rejects malformed JSON", func() {
			_, err := Unmarshal([]byte("not json"))
			So(err, ShouldNotBeNil)
		})

		Convey("CaseCollisionWarnings flags case-only collisions", func() {
			m := New("x", "", created)
			m.Entries = []Entry{
				{Op: OpAdd, Path: "README.txt", NewDigest: digest.HashBytes(nil)},
				{Op: OpAdd, Path: "readme.txt", NewDigest: digest.HashBytes(nil)},
			}
			warnings := CaseCollisionWarnings(m)
			So(len(warnings), ShouldEqual, 1)
		})

		Convey("RefName is stable and path-derived", func() {
			So(RefName("a/b.txt"), ShouldEqual, RefName("a/b.txt"))
			So(RefName("a/b.txt"), ShouldNotEqual, RefName("a/c.txt"))
		})
	})
}

func keysOf(m map[string]any) []string {
	// reports which known keys are present, listed in a fixed canonical
	// order rather than by ranging m (map order is random); this checks the
	// field set, not the order of fields on the wire.
	order := []string{"op", "path", "old_digest", "old_size", "new_digest", "new_size", "payload_ref", "delta_ref"}
	var out []string
	for _, k := range order {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
