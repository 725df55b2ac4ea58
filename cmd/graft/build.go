// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riannucci/graft/stub"
)

var (
	buildOut      string
	buildStubDir  string
	buildBaseName string
	buildTargets  []string
)

var buildCmd = &cobra.Command{
	Use:   "build <patch-dir>",
	Short: "embed a patch directory into one or more prebuilt GUI stub executables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patchDir := args[0]

		if buildStubDir == "" {
			return usageErrorf("--stub-dir is required to locate a host stub executable")
		}

		targets := stub.AllTargets
		if len(buildTargets) > 0 {
			targets = make([]stub.Target, 0, len(buildTargets))
			for _, name := range buildTargets {
				t, err := stub.ParseTarget(name)
				if err != nil {
					return usageErrorf("%v", err)
				}
				targets = append(targets, t)
			}
		}

		outDir := buildOut
		if outDir == "" {
			outDir = "."
		}

		if err := stub.EmbedMany(targets, buildStubDir, patchDir, outDir, buildBaseName); err != nil {
			return err
		}

		for _, t := range targets {
			fmt.Println("wrote", t.OutputName(buildBaseName))
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "output directory for embedded stub executables")
	buildCmd.Flags().StringVar(&buildStubDir, "stub-dir", "", "directory containing prebuilt host stub executables, one per target")
	buildCmd.Flags().StringVar(&buildBaseName, "name", "app", "base name used to construct output filenames")
	buildCmd.Flags().StringSliceVar(&buildTargets, "target", nil, "target(s) to build (default: all of linux-x64, linux-arm64, windows)")
}
