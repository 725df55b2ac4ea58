// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package stub

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEmbed(t *testing.T) {
	t.Parallel()

	Convey("Embed", t, func() {
		hostPath := filepath.Join(t.TempDir(), "host.bin")
		So(os.WriteFile(hostPath, []byte("pretend-executable-bytes"), 0755), ShouldBeNil)

		patchDir := t.TempDir()
		So(os.WriteFile(filepath.Join(patchDir, "manifest.json"), []byte(`{"version":"1"}`), 0644), ShouldBeNil)
		So(os.MkdirAll(filepath.Join(patchDir, ".graft_assets"), 0777), ShouldBeNil)
		So(os.WriteFile(filepath.Join(patchDir, ".graft_assets", "stale.bin"), []byte("stale"), 0644), ShouldBeNil)

		outPath := filepath.Join(t.TempDir(), "host-with-payload.bin")

		Convey("produces a file with the host bytes, a compressed payload, and a valid footer", func() {
			So(Embed(hostPath, patchDir, outPath), ShouldBeNil)

			got, err := os.ReadFile(outPath)
			So(err, ShouldBeNil)
			So(len(got), ShouldBeGreaterThan, len("pretend-executable-bytes")+FooterSize)
			So(string(got[:len("pretend-executable-bytes")]), ShouldEqual, "pretend-executable-bytes")

			payloadLen, sum, err := ParseFooter(got)
			So(err, ShouldBeNil)

			payload := got[len("pretend-executable-bytes") : len(got)-FooterSize]
			So(uint64(len(payload)), ShouldEqual, payloadLen)
			So(sha256.Sum256(payload), ShouldResemble, sum)
		})

		Convey("excludes any prior .graft_assets subtree from the new payload", func() {
			So(Embed(hostPath, patchDir, outPath), ShouldBeNil)
			got, err := os.ReadFile(outPath)
			So(err, ShouldBeNil)
			payload := got[len("pretend-executable-bytes") : len(got)-FooterSize]

			entries, err := listTarEntries(payload)
			So(err, ShouldBeNil)
			for _, name := range entries {
				So(name, ShouldNotStartWith, ".graft_assets")
			}
		})

		Convey("sets executable permission bits on the output", func() {
			So(Embed(hostPath, patchDir, outPath), ShouldBeNil)
			info, err := os.Stat(outPath)
			So(err, ShouldBeNil)
			So(info.Mode()&0111, ShouldNotEqual, 0)
		})

		Convey("records a label as a zero-length tar entry when WithLabel is used", func() {
			So(Embed(hostPath, patchDir, outPath, WithLabel("windows-x64")), ShouldBeNil)
			got, err := os.ReadFile(outPath)
			So(err, ShouldBeNil)
			payload := got[len("pretend-executable-bytes") : len(got)-FooterSize]

			entries, err := listTarEntries(payload)
			So(err, ShouldBeNil)
			So(entries, ShouldContain, ".graft-label/windows-x64")
		})
	})
}

func listTarEntries(payload []byte) ([]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}
