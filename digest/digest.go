// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package digest implements the stable content digest used throughout
// graft: a streaming SHA-256 over a file's bytes. See sardata/checksum.go in
// the teacher for the multi-scheme version this was narrowed from — graft's
// manifest and footer formats hard-code SHA-256, so there is exactly one
// scheme here, not a pluggable one.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/luci/luci-go/common/errors"
)

// Size is the byte length of a Digest.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 content digest.
type Digest [Size]byte

// String renders the digest as lowercase hex, matching the manifest.json
// wire format in spec.md §6.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero returns true for the zero-value Digest, which never occurs for a
// real file (including the empty file, whose digest is sha256 of zero
// bytes) and is used as a sentinel for "no digest recorded".
func (d Digest) IsZero() bool { return d == Digest{} }

// ParseDigest decodes a lowercase hex digest as found in manifest.json.
func ParseDigest(hexDigest string) (Digest, error) {
	var d Digest
	buf, err := hex.DecodeString(hexDigest)
	if err != nil {
		return d, errors.Annotate(err).Reason("decoding hex digest %(hex)q").D("hex", hexDigest).Err()
	}
	if len(buf) != Size {
		return d, errors.Reason("digest %(hex)q has %(n)d bytes, want %(want)d").
			D("hex", hexDigest).D("n", len(buf)).D("want", Size).Err()
	}
	copy(d[:], buf)
	return d, nil
}

// HashBytes returns the SHA-256 digest of buf, including the empty slice.
func HashBytes(buf []byte) Digest {
	return Digest(sha256.Sum256(buf))
}

// HashReader streams r through SHA-256 in bounded memory, suitable for
// arbitrarily large files.
func HashReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, errors.Annotate(err).Reason("hashing stream").Err()
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// HashFile streams the named file through SHA-256 in bounded memory.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, errors.Annotate(err).Reason("opening %(path)q for hashing").D("path", path).Err()
	}
	defer f.Close()
	return HashReader(f)
}

// Compare reports whether pathA and pathB have identical contents, by
// digest. It streams both files; it does not hold either in memory.
func Compare(pathA, pathB string) (bool, error) {
	da, err := HashFile(pathA)
	if err != nil {
		return false, err
	}
	db, err := HashFile(pathB)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// Check reports whether the named file's digest matches expected.
func Check(path string, expected Digest) (bool, error) {
	got, err := HashFile(path)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}

// Equal reports whether two byte slices have equal digests, short-circuiting
// on byte-equality first (cheaper than hashing twice for the common case of
// genuinely identical buffers already in memory).
func Equal(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	return HashBytes(a) == HashBytes(b)
}
