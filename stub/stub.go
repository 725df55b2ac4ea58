// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stub implements the Stub Embedder from spec.md §4.7: appending a
// gzip-compressed tar of a PatchDirectory to a host executable, framed by
// the bit-exact 56-byte footer from spec.md §6. The magic/version framing
// style is grounded on sar/sardata/magic.go; the gzip choice (rather than
// the teacher's flate) is grounded on github.com/klauspost/compress/gzip,
// picked for its drop-in stdlib-compatible API and better throughput on
// the (already only moderately-compressible) tar stream.
package stub

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/luci/luci-go/common/errors"

	"github.com/riannucci/graft"
)

// Magic identifies an embedded payload footer. Distinct from delta's
// "GRAFTD01" -- this one frames a whole compressed PatchDirectory, not a
// single-file delta.
const Magic = "GRAFTPKG"

// FooterSize is the exact on-disk size of a footer, per spec.md §6.
const FooterSize = 8 + 8 + digestSize + 8

const digestSize = 32

type embedOptionData struct {
	label string
}

// EmbedOption configures Embed.
type EmbedOption func(*embedOptionData)

// WithLabel supplements spec.md §4.7 with the "named multi-target build"
// feature from SPEC_FULL.md §C: a label recorded alongside the payload so
// a single stub can later report which target it was embedded for. It is
// carried as the first entry in the tar stream (see buildPayload) rather
// than in the footer, keeping the footer itself bit-exact to spec.md §6.
func WithLabel(label string) EmbedOption {
	return func(o *embedOptionData) { o.label = label }
}

// Embed reads hostPath (a host executable), appends an EmbeddedPayload
// built from patchDir, and atomically writes the result to outPath with
// executable bits set. patchDir is tar-archived (excluding any
// .graft_assets prior-embed marker), gzip-compressed, and framed with a
// MAGIC/length/sha256/MAGIC footer exactly as spec.md §6 describes.
func Embed(hostPath, patchDir, outPath string, opts ...EmbedOption) error {
	data := embedOptionData{}
	for _, o := range opts {
		o(&data)
	}

	payload, err := buildPayload(patchDir, data.label)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)

	tmp := outPath + ".graft-tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Annotate(err).Reason("creating output file %(path)q").D("path", tmp).Err()
	}

	host, err := os.Open(hostPath)
	if err != nil {
		out.Close()
		return errors.Annotate(err).Reason("opening host executable %(path)q").D("path", hostPath).Err()
	}
	if _, err := io.Copy(out, host); err != nil {
		host.Close()
		out.Close()
		return errors.Annotate(err).Reason("copying host executable").Err()
	}
	host.Close()

	if _, err := out.Write(payload); err != nil {
		out.Close()
		return errors.Annotate(err).Reason("writing embedded payload").Err()
	}

	footer := make([]byte, FooterSize)
	copy(footer[0:8], Magic)
	putUint64(footer[8:16], uint64(len(payload)))
	copy(footer[16:16+digestSize], sum[:])
	copy(footer[16+digestSize:], Magic)
	if _, err := out.Write(footer); err != nil {
		out.Close()
		return errors.Annotate(err).Reason("writing footer").Err()
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return errors.Annotate(err).Reason("syncing %(path)q").D("path", tmp).Err()
	}
	if err := out.Close(); err != nil {
		return errors.Annotate(err).Reason("closing %(path)q").D("path", tmp).Err()
	}
	if err := os.Chmod(tmp, 0755); err != nil {
		return errors.Annotate(err).Reason("setting executable bits on %(path)q").D("path", tmp).Err()
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return errors.Annotate(err).Reason("renaming %(tmp)q to %(out)q").D("tmp", tmp).D("out", outPath).Err()
	}
	return nil
}

// buildPayload tar-archives patchDir (skipping .graft_assets, the
// subtree a prior embed may have left behind) and gzip-compresses the
// result. When label is non-empty, a zero-length tar entry named
// ".graft-label/<label>" is written first, so extract can report which
// named target this payload was built for without parsing the manifest.
func buildPayload(patchDir, label string) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(gz)

	if label != "" {
		hdr := &tar.Header{Name: ".graft-label/" + label, Mode: 0644, Size: 0}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, errors.Annotate(err).Reason("writing label entry").Err()
		}
	}

	walkErr := filepath.Walk(patchDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(patchDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == graftAssetsDir || hasPrefixSlash(rel, graftAssetsDir) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return nil, errors.Annotate(walkErr).Reason("archiving %(dir)q").D("dir", patchDir).Err()
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Annotate(err).Reason("closing tar writer").Err()
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Annotate(err).Reason("closing gzip writer").Err()
	}
	return buf.Bytes(), nil
}

const graftAssetsDir = ".graft_assets"

func hasPrefixSlash(s, prefix string) bool {
	return len(s) > len(prefix) && s[:len(prefix)] == prefix && s[len(prefix)] == '/'
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// ParseFooter parses the trailing FooterSize bytes of buf as an
// EmbeddedPayload footer. It is shared with package extract so the two
// components agree on layout without duplicating the byte offsets.
func ParseFooter(buf []byte) (payloadLen uint64, payloadSHA256 [digestSize]byte, err error) {
	if len(buf) < FooterSize {
		err = &graft.NoPayloadError{Reason: "buffer shorter than footer"}
		return
	}
	footer := buf[len(buf)-FooterSize:]
	if string(footer[0:8]) != Magic || string(footer[16+digestSize:]) != Magic {
		err = &graft.NoPayloadError{Reason: "footer magic mismatch"}
		return
	}
	payloadLen = getUint64(footer[8:16])
	copy(payloadSHA256[:], footer[16:16+digestSize])
	return
}
