// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package stub

import (
	"path/filepath"
	"strings"

	"github.com/luci/luci-go/common/errors"
)

// Target names a GUI stub build target: not cross-compilation (graft
// itself never compiles anything), just the name used to pick a
// prebuilt host stub executable out of a --stub-dir and to label the
// resulting EmbeddedPayload so Self-Extractor callers can identify which
// build they're running. Grounded on original_source's
// graft-builder::targets -- supplemented in here since spec.md's Stub
// Embedder is otherwise silent on multi-target naming.
type Target struct {
	Name         string
	BinarySuffix string
}

// The three named targets a stub-dir may provide prebuilt executables for.
var (
	LinuxX64   = Target{Name: "linux-x64"}
	LinuxARM64 = Target{Name: "linux-arm64"}
	Windows    = Target{Name: "windows", BinarySuffix: ".exe"}
)

// AllTargets lists every known Target, in a stable order.
var AllTargets = []Target{LinuxX64, LinuxARM64, Windows}

// ParseTarget resolves a short name (and a couple of common aliases) to a
// Target.
func ParseTarget(name string) (Target, error) {
	switch strings.ToLower(name) {
	case "linux-x64", "linux-x86_64":
		return LinuxX64, nil
	case "linux-arm64", "linux-aarch64":
		return LinuxARM64, nil
	case "windows", "windows-x64":
		return Windows, nil
	default:
		return Target{}, errors.Reason("unknown target %(name)q").D("name", name).Err()
	}
}

// OutputName returns the conventional output filename for baseName built
// for t, e.g. Windows.OutputName("myapp") == "myapp-windows.exe".
func (t Target) OutputName(baseName string) string {
	return baseName + "-" + t.Name + t.BinarySuffix
}

// StubPath returns where EmbedMany expects to find a prebuilt host stub
// executable for t within stubDir.
func (t Target) StubPath(stubDir string) string {
	return filepath.Join(stubDir, t.Name+t.BinarySuffix)
}

// EmbedMany embeds patchDir into a prebuilt host stub for each of
// targets, reading host stubs from stubDir (see Target.StubPath) and
// writing outputs to outDir (see Target.OutputName), labeling each
// output with its target name via WithLabel.
func EmbedMany(targets []Target, stubDir, patchDir, outDir, baseName string) error {
	for _, t := range targets {
		out := filepath.Join(outDir, t.OutputName(baseName))
		if err := Embed(t.StubPath(stubDir), patchDir, out, WithLabel(t.Name)); err != nil {
			return errors.Annotate(err).Reason("embedding target %(target)q").D("target", t.Name).Err()
		}
	}
	return nil
}
