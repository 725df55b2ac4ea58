// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/stub"
)

func TestFromFile(t *testing.T) {
	t.Parallel()

	Convey("FromFile", t, func() {
		hostPath := filepath.Join(t.TempDir(), "host.bin")
		So(os.WriteFile(hostPath, []byte("host-executable-bytes"), 0755), ShouldBeNil)

		patchDir := t.TempDir()
		So(os.WriteFile(filepath.Join(patchDir, "manifest.json"), []byte(`{"version":"1"}`), 0644), ShouldBeNil)
		So(os.MkdirAll(filepath.Join(patchDir, "files"), 0777), ShouldBeNil)
		So(os.WriteFile(filepath.Join(patchDir, "files", "deadbeef"), []byte("payload bytes"), 0644), ShouldBeNil)

		Convey("extracts a valid embedded payload to an owner-only temp dir", func() {
			embedded := filepath.Join(t.TempDir(), "embedded.bin")
			So(stub.Embed(hostPath, patchDir, embedded), ShouldBeNil)

			res, err := FromFile(embedded)
			So(err, ShouldBeNil)
			defer res.Close()

			got, err := os.ReadFile(filepath.Join(res.Dir, "manifest.json"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, `{"version":"1"}`)

			got, err = os.ReadFile(filepath.Join(res.Dir, "files", "deadbeef"))
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "payload bytes")

			info, err := os.Stat(res.Dir)
			So(err, ShouldBeNil)
			So(info.Mode().Perm(), ShouldEqual, 0700)
		})

		Convey("carries a label through when one was embedded", func() {
			embedded := filepath.Join(t.TempDir(), "embedded.bin")
			So(stub.Embed(hostPath, patchDir, embedded, stub.WithLabel("linux-arm64")), ShouldBeNil)

			res, err := FromFile(embedded)
			So(err, ShouldBeNil)
			defer res.Close()
			So(res.Label, ShouldEqual, "linux-arm64")

			_, err = os.Stat(filepath.Join(res.Dir, ".graft-label", "linux-arm64"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("returns NoPayload for a host with no embedded payload at all", func() {
			_, err := FromFile(hostPath)
			So(err, ShouldNotBeNil)
			var np *graft.NoPayloadError
			So(errors.As(err, &np), ShouldBeTrue)
		})

		Convey("returns NoPayload when the payload bytes have been corrupted", func() {
			embedded := filepath.Join(t.TempDir(), "embedded.bin")
			So(stub.Embed(hostPath, patchDir, embedded), ShouldBeNil)

			buf, err := os.ReadFile(embedded)
			So(err, ShouldBeNil)
			// flip a byte well before the footer, inside the payload.
			buf[len("host-executable-bytes")+2] ^= 0xff
			So(os.WriteFile(embedded, buf, 0755), ShouldBeNil)

			_, err = FromFile(embedded)
			So(err, ShouldNotBeNil)
			var np *graft.NoPayloadError
			So(errors.As(err, &np), ShouldBeTrue)
		})

		Convey("returns NoPayload for a file shorter than the footer", func() {
			tiny := filepath.Join(t.TempDir(), "tiny.bin")
			So(os.WriteFile(tiny, []byte("short"), 0644), ShouldBeNil)
			_, err := FromFile(tiny)
			So(err, ShouldNotBeNil)
			var np *graft.NoPayloadError
			So(errors.As(err, &np), ShouldBeTrue)
		})
	})
}
