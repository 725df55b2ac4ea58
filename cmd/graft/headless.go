// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riannucci/graft/apply"
	"github.com/riannucci/graft/extract"
	"github.com/riannucci/graft/manifest"
	"github.com/riannucci/graft/rollback"
)

// headlessCmd holds the noninteractive verbs the self-extracting stub
// invokes against itself after extracting its embedded PatchDirectory:
// no confirmation prompts, no flags beyond --force.
var headlessCmd = &cobra.Command{
	Use:   "headless",
	Short: "noninteractive apply/rollback, used by the self-extracting GUI stub",
}

var headlessForce bool

var headlessApplyCmd = &cobra.Command{
	Use:   "apply <target>",
	Short: "extract this executable's embedded payload and apply it to target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := extract.FromExecutable()
		if err != nil {
			return err
		}
		defer res.Close()

		var opts []apply.ApplyOption
		if headlessForce {
			opts = append(opts, apply.WithForce())
		}
		if err := apply.Apply(cmd.Context(), args[0], manifest.Open(res.Dir), opts...); err != nil {
			return err
		}
		fmt.Println("apply complete")
		return nil
	},
}

var headlessRollbackCmd = &cobra.Command{
	Use:   "rollback <target>",
	Short: "roll back target using its .patch-backup journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := rollback.Restore(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("rollback complete: restored %d, removed %d\n", len(report.Restored), len(report.Removed))
		return nil
	},
}

func init() {
	headlessApplyCmd.Flags().BoolVar(&headlessForce, "force", false, "tolerate Add targets that already match new_digest")
	headlessCmd.AddCommand(headlessApplyCmd, headlessRollbackCmd)
}
