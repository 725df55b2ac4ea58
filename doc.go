// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package graft implements transactional binary patching over a directory
// tree, and the framing used to append a compressed patch payload to a
// prebuilt "stub" executable for self-contained distribution.
//
// The package is organized the way sarchive was: a handful of small,
// independent subpackages (digest, delta, manifest, scan, patchbuild, apply,
// rollback, stub, extract) compose into the two end-to-end flows:
//
//   - build: scan(original) + scan(modified) -> patchbuild.Build -> manifest.json
//     + diffs/ + files/ on disk.
//   - apply: manifest.json + target dir -> apply.Apply -> mutated tree +
//     .patch-backup/, with rollback.Restore as the inverse.
//
// stub and extract implement the self-embedding half: stub.Embed appends a
// framed, gzip-compressed tar of a patch directory to a host executable;
// extract.FromExecutable locates and decompresses that payload from the currently
// running executable.
//
// This package holds only the handful of types shared across all of the
// above: the stable error kinds (see errors.go) and the Clock seam the core
// uses instead of calling time.Now directly.
package graft
