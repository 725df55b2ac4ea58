// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riannucci/graft/digest"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "content-digest utilities",
}

var hashCalculateCmd = &cobra.Command{
	Use:   "calculate <file>",
	Short: "print a file's SHA-256 digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := digest.HashFile(args[0])
		if err != nil {
			return err
		}
		fmt.Println(d.String())
		return nil
	},
}

var hashCompareCmd = &cobra.Command{
	Use:   "compare <a> <b>",
	Short: "report whether two files have equal content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		equal, err := digest.Compare(args[0], args[1])
		if err != nil {
			return err
		}
		if equal {
			fmt.Println("equal")
		} else {
			fmt.Println("different")
			return usageErrorf("files differ")
		}
		return nil
	},
}

var hashCheckCmd = &cobra.Command{
	Use:   "check <file> <expected-hex>",
	Short: "verify a file's digest matches an expected hex value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		want, err := digest.ParseDigest(args[1])
		if err != nil {
			return usageErrorf("%v", err)
		}
		ok, err := digest.Check(args[0], want)
		if err != nil {
			return err
		}
		if ok {
			fmt.Println("match")
			return nil
		}
		fmt.Println("mismatch")
		return usageErrorf("digest mismatch")
	},
}

func init() {
	hashCmd.AddCommand(hashCalculateCmd, hashCompareCmd, hashCheckCmd)
}
