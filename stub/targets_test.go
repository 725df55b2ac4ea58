// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package stub

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEmbedMany(t *testing.T) {
	t.Parallel()

	Convey("EmbedMany", t, func() {
		stubDir, outDir, patchDir := t.TempDir(), t.TempDir(), t.TempDir()
		So(os.WriteFile(filepath.Join(patchDir, "manifest.json"), []byte(`{}`), 0644), ShouldBeNil)

		for _, tg := range AllTargets {
			So(os.WriteFile(tg.StubPath(stubDir), []byte("stub-for-"+tg.Name), 0755), ShouldBeNil)
		}

		Convey("produces one labeled output per target", func() {
			So(EmbedMany(AllTargets, stubDir, patchDir, outDir, "myapp"), ShouldBeNil)

			for _, tg := range AllTargets {
				out := filepath.Join(outDir, tg.OutputName("myapp"))
				_, err := os.Stat(out)
				So(err, ShouldBeNil)

				got, err := os.ReadFile(out)
				So(err, ShouldBeNil)
				entries, err := listTarEntries(got[len("stub-for-"+tg.Name) : len(got)-FooterSize])
				So(err, ShouldBeNil)
				So(entries, ShouldContain, ".graft-label/"+tg.Name)
			}
		})

		Convey("ParseTarget resolves aliases", func() {
			got, err := ParseTarget("windows-x64")
			So(err, ShouldBeNil)
			So(got, ShouldResemble, Windows)
		})

		Convey("ParseTarget rejects unknown names", func() {
			_, err := ParseTarget("commodore-64")
			So(err, ShouldNotBeNil)
		})
	})
}
