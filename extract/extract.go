// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package extract implements the Self-Extractor from spec.md §4.8: at
// process start, locate and verify an EmbeddedPayload appended to the
// running executable, then unpack it to a fresh temporary directory.
// Grounded on sar/open.go's VerifyEarly mode (read the trailer, verify
// the checksum, then proceed to reading the payload) and on
// sar/unpack.go's UnpackTo for tar-member extraction.
package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/luci/luci-go/common/errors"
	"golang.org/x/sync/errgroup"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/stub"
)

// tailReadSize is how many trailing bytes of the executable are read
// before locating the footer within them; spec.md §4.8 calls for reading
// "the last 64 bytes" even though the footer itself is 56 bytes (see
// DESIGN.md for this discrepancy) -- the extra bytes are slack that
// ParseFooter simply ignores by reading from the end of whatever buffer
// it's given.
const tailReadSize = 64

// Result points at the extracted PatchDirectory and lets the caller clean
// it up once it's done.
type Result struct {
	// Dir is the owner-only-permission temporary directory the payload was
	// extracted into; it contains a PatchDirectory (manifest.json, diffs/,
	// files/).
	Dir string
	// Label is the WithLabel value embedded alongside the payload, if any
	// (see package stub's supplemented multi-target feature); empty if
	// none was embedded.
	Label string
}

// Close removes the extracted temporary directory. Temporary directories
// are process-scoped per spec.md §5; callers that don't call Close rely
// on process-exit cleanup instead.
func (r Result) Close() error {
	if r.Dir == "" {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

// FromExecutable opens the currently-running executable (by canonical
// path, via os.Executable), reads its footer, and extracts the embedded
// PatchDirectory to a fresh temp dir. Returns *graft.NoPayloadError if no
// valid footer is present -- the GUI collaborator treats that as "demo
// mode", per spec.md §4.8.
func FromExecutable() (Result, error) {
	exe, err := os.Executable()
	if err != nil {
		return Result{}, errors.Annotate(err).Reason("locating running executable").Err()
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return Result{}, errors.Annotate(err).Reason("resolving executable path").Err()
	}
	return FromFile(exe)
}

// FromFile is FromExecutable's testable core: it operates on an arbitrary
// path instead of os.Executable so tests can build a fixture file without
// needing to exec anything.
func FromFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, errors.Annotate(err).Reason("opening %(path)q").D("path", path).Err()
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Result{}, errors.Annotate(err).Reason("statting %(path)q").D("path", path).Err()
	}
	size := st.Size()
	if size < stub.FooterSize {
		return Result{}, &graft.NoPayloadError{Reason: "file shorter than footer"}
	}

	tailLen := int64(tailReadSize)
	if tailLen > size {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	if _, err := f.ReadAt(tail, size-tailLen); err != nil {
		return Result{}, errors.Annotate(err).Reason("reading trailer").Err()
	}

	payloadLen, wantSum, err := stub.ParseFooter(tail)
	if err != nil {
		return Result{}, err
	}
	if int64(payloadLen)+stub.FooterSize > size {
		return Result{}, &graft.NoPayloadError{Reason: "declared payload length exceeds file size"}
	}

	payloadStart := size - stub.FooterSize - int64(payloadLen)
	payload := make([]byte, payloadLen)
	if _, err := f.ReadAt(payload, payloadStart); err != nil {
		return Result{}, errors.Annotate(err).Reason("reading payload").Err()
	}

	gotSum := sha256.Sum256(payload)
	if gotSum != wantSum {
		return Result{}, &graft.NoPayloadError{Reason: "payload digest mismatch"}
	}

	dir, err := os.MkdirTemp("", "graft-extract-")
	if err != nil {
		return Result{}, errors.Annotate(err).Reason("creating extraction temp dir").Err()
	}
	if err := os.Chmod(dir, 0700); err != nil {
		os.RemoveAll(dir)
		return Result{}, errors.Annotate(err).Reason("setting owner-only permissions on %(dir)q").D("dir", dir).Err()
	}

	label, err := extractTarGz(payload, dir)
	if err != nil {
		os.RemoveAll(dir)
		return Result{}, &graft.NoPayloadError{Reason: "corrupt payload: " + err.Error()}
	}

	return Result{Dir: dir, Label: label}, nil
}

// tarMember is a regular file read out of the tar stream, staged for a
// later concurrent write.
type tarMember struct {
	target string
	mode   os.FileMode
	data   []byte
}

// extractTarGz gunzips and untars payload into dir, returning the label
// recorded by stub.WithLabel if one is present. Reading the tar stream is
// inherently sequential, but once every member's bytes are in hand the
// members are disjoint files under dir, so writing them out is fanned
// across an errgroup the same way the Rollback engine fans out its
// post-restore verification.
func extractTarGz(payload []byte, dir string) (label string, err error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return "", errors.Annotate(err).Reason("opening gzip stream").Err()
	}
	defer gz.Close()

	var members []tarMember
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Annotate(err).Reason("reading tar stream").Err()
		}

		if rest, ok := strings.CutPrefix(hdr.Name, ".graft-label/"); ok {
			label = rest
			continue
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return "", err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0777); err != nil {
				return "", errors.Annotate(err).Reason("creating dir %(path)q").D("path", hdr.Name).Err()
			}
		case tar.TypeReg:
			data := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, data); err != nil {
				return "", errors.Annotate(err).Reason("reading file %(path)q").D("path", hdr.Name).Err()
			}
			members = append(members, tarMember{
				target: target,
				mode:   os.FileMode(hdr.Mode)&0777 | 0600,
				data:   data,
			})
		default:
			// skip symlinks/devices/etc. -- a patch directory never
			// legitimately contains them (see package scan).
		}
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, m := range members {
		m := m
		g.Go(func() error { return writeTarMember(m) })
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return label, nil
}

func writeTarMember(m tarMember) error {
	if err := os.MkdirAll(filepath.Dir(m.target), 0777); err != nil {
		return errors.Annotate(err).Reason("creating parent dir for %(path)q").D("path", m.target).Err()
	}
	out, err := os.OpenFile(m.target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, m.mode)
	if err != nil {
		return errors.Annotate(err).Reason("creating file %(path)q").D("path", m.target).Err()
	}
	if _, err := out.Write(m.data); err != nil {
		out.Close()
		return errors.Annotate(err).Reason("writing file %(path)q").D("path", m.target).Err()
	}
	return out.Close()
}

// safeJoin joins dir and rel, rejecting any rel that would escape dir via
// ".." or an absolute path -- a payload is untrusted input by the time
// it's reached the self-extractor.
func safeJoin(dir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errors.Reason("tar entry %(rel)q is an absolute path").D("rel", rel).Err()
	}
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if target != dir && !hasDirPrefix(target, dir) {
		return "", errors.Reason("tar entry %(rel)q escapes extraction dir").D("rel", rel).Err()
	}
	return target, nil
}

func hasDirPrefix(path, dir string) bool {
	prefix := dir + string(filepath.Separator)
	return len(path) > len(prefix) && path[:len(prefix)] == prefix
}

