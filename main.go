// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package main

import "github.com/crosslane/relayer/cmd"

func main() {
	cmd.Execute()
}
