// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/luci/luci-go/common/logging"
	"github.com/spf13/cobra"

	"github.com/riannucci/graft"
)

// Exit codes from spec.md §6.
const (
	exitSuccess             = 0
	exitPreflightFailure    = 1
	exitApplyFailure        = 2
	exitUnrecoverableFailed = 3
	exitUsageError          = 4
)

var rootCmd = &cobra.Command{
	Use:           "graft",
	Short:         "graft builds and applies binary-delta patches",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(patchCmd, diffCmd, hashCmd, buildCmd, headlessCmd)
}

// rootContext is the base context threaded through every command. The
// teacher's own code never installs a logging backend either (see
// sar/unpack.go's logging.Warningf/Errorf calls), relying on the
// package's default sink; commands here do the same and report results
// to the user directly via stdout/stderr instead.
func rootContext() context.Context {
	return context.Background()
}

// Execute runs the command tree and maps the result to one of spec.md
// §6's exit codes.
func Execute() int {
	ctx := rootContext()
	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	if err == nil {
		return exitSuccess
	}

	var pf *graft.PreflightError
	var ae *graft.ApplyError
	var uc *graft.UnrecoverableCorruptionError
	switch {
	case errors.As(err, &pf):
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitPreflightFailure
	case errors.As(err, &uc):
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUnrecoverableFailed
	case errors.As(err, &ae):
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitApplyFailure
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsageError
	default:
		logging.Errorf(ctx, "graft: %v", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsageError
	}
}

// errUsage marks an error as a CLI usage mistake (bad flags, wrong number
// of arguments) rather than a domain-level failure, so Execute can tell
// the two apart when choosing an exit code.
var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}
