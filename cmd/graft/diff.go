// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riannucci/graft/delta"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "create and apply single-file binary deltas",
}

var diffCreateCmd = &cobra.Command{
	Use:   "create <a> <b> <out>",
	Short: "compute a delta such that apply(a, delta) == b",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		b, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		d, err := delta.Diff(a, b)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[2], d, 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s: %d bytes\n", args[2], len(d))
		return nil
	},
}

var diffApplyCmd = &cobra.Command{
	Use:   "apply <a> <diff> <out>",
	Short: "reconstruct b from a and a delta produced by diff create",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		d, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		b, err := delta.Apply(a, d)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[2], b, 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s: %d bytes\n", args[2], len(b))
		return nil
	},
}

func init() {
	diffCmd.AddCommand(diffCreateCmd, diffApplyCmd)
}
