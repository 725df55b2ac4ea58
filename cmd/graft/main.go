// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command graft is the CLI surface from spec.md §6: patch creation,
// application, rollback, single-file diffing, digest utilities, and GUI
// stub embedding. Built on github.com/spf13/cobra, the same command
// framework gazette-core's gazctl uses, adapted to this module's flatter
// single-binary command tree.
package main

import "os"

func main() {
	os.Exit(Execute())
}
