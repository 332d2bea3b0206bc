// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crest [command] (flags)",
	Short: "crest storage engine introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(stmCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
