// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riannucci/graft"
	"github.com/riannucci/graft/apply"
	"github.com/riannucci/graft/manifest"
	"github.com/riannucci/graft/patchbuild"
	"github.com/riannucci/graft/scan"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "create, apply, and check patch directories",
}

var (
	patchCreateTitle   string
	patchCreateVersion string
)

var patchCreateCmd = &cobra.Command{
	Use:   "create <original> <modified> <out>",
	Short: "diff two directory trees into a patch directory",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		original, modified, out := args[0], args[1], args[2]

		oldScan, err := scan.Walk(ctx, original, scan.ExcludePatchDirectoryInternals)
		if err != nil {
			return err
		}
		modScan, err := scan.Walk(ctx, modified, scan.ExcludePatchDirectoryInternals)
		if err != nil {
			return err
		}

		res, err := patchbuild.Build(ctx, oldScan, modScan, out,
			patchbuild.WithTitle(patchCreateTitle),
			patchbuild.WithPatchVersion(patchCreateVersion),
			patchbuild.WithClock(graft.SystemClock{}))
		if err != nil {
			return err
		}

		fmt.Printf("wrote %s: %d operations\n", out, len(res.Manifest.Entries))
		for _, w := range res.CaseCollisions {
			fmt.Println("warning:", w)
		}
		return nil
	},
}

var (
	patchApplySkipConfirm bool
	patchApplyForce       bool
)

var patchApplyCmd = &cobra.Command{
	Use:   "apply <target> <patch-dir>",
	Short: "apply a patch directory to a target directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, patchDir := args[0], args[1]
		if !patchApplySkipConfirm {
			if !confirm(fmt.Sprintf("apply patch %s to %s?", patchDir, target)) {
				return usageErrorf("aborted by user")
			}
		}

		var opts []apply.ApplyOption
		if patchApplyForce {
			opts = append(opts, apply.WithForce())
		}
		return apply.Apply(cmd.Context(), target, manifest.Open(patchDir), opts...)
	},
}

var patchCheckCmd = &cobra.Command{
	Use:   "check <target> <patch-dir>",
	Short: "verify a patch directory's preconditions against a target without applying it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, patchDir := args[0], args[1]
		pd := manifest.Open(patchDir)
		m, err := pd.Read()
		if err != nil {
			return err
		}
		if err := apply.Preflight(cmd.Context(), target, m, pd, patchApplyForce); err != nil {
			return err
		}
		fmt.Println("preflight ok:", len(m.Entries), "operations verified")
		return nil
	},
}

func init() {
	patchCreateCmd.Flags().StringVar(&patchCreateTitle, "title", "", "human-readable patch title")
	patchCreateCmd.Flags().StringVarP(&patchCreateVersion, "version", "v", "", "user-facing patch version")

	patchApplyCmd.Flags().BoolVarP(&patchApplySkipConfirm, "yes", "y", false, "skip confirmation prompt")
	patchApplyCmd.Flags().BoolVar(&patchApplyForce, "force", false, "tolerate Add targets that already match new_digest")

	patchCmd.AddCommand(patchCreateCmd, patchApplyCmd, patchCheckCmd)
}
