// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/crestdb/crest/seqnotime"
	"github.com/crestdb/crest/tableprops"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var stmCmd = &cobra.Command{
	Use:   "stm",
	Short: "inspect encoded seqno-time mapping blocks",
}

var stmDumpCmd = &cobra.Command{
	Use:   "dump <block>",
	Short: "decode a seqno-time block and print its pairs",
	Long: `
Decode an encoded seqno-time mapping block and print its pairs. The block is
read from the named file, or parsed as hex if no such file exists.
`,
	Args: cobra.ExactArgs(1),
	RunE: runStmDump,
}

var stmPlotCmd = &cobra.Command{
	Use:   "plot <block>",
	Short: "plot the time axis of a seqno-time block",
	Args:  cobra.ExactArgs(1),
	RunE:  runStmPlot,
}

var stmPropsCmd = &cobra.Command{
	Use:   "props <file>",
	Short: "decode a properties block and print its contents",
	Args:  cobra.ExactArgs(1),
	RunE:  runStmProps,
}

var plotHeight int

func init() {
	stmCmd.AddCommand(stmDumpCmd, stmPlotCmd, stmPropsCmd)
	stmPlotCmd.Flags().IntVar(&plotHeight, "height", 10, "height of the plot in rows")
}

// readBlock loads a block argument: the contents of the named file if it
// exists, otherwise the argument parsed as hex.
func readBlock(arg string) ([]byte, error) {
	if b, err := os.ReadFile(arg); err == nil {
		return b, nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, arg)
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("argument is neither a readable file nor hex: %w", err)
	}
	return b, nil
}

func decodeMapping(block []byte) (*seqnotime.Mapping, error) {
	m := seqnotime.New(0, 0)
	if err := m.AddEncoded(block); err != nil {
		return nil, err
	}
	if err := m.Sort(); err != nil {
		return nil, err
	}
	return m, nil
}

func runStmDump(cmd *cobra.Command, args []string) error {
	block, err := readBlock(args[0])
	if err != nil {
		return err
	}
	m, err := decodeMapping(block)
	if err != nil {
		return err
	}
	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetHeader([]string{"seqno", "time"})
	for _, p := range m.Pairs() {
		tw.Append([]string{
			strconv.FormatUint(uint64(p.Seqno), 10),
			strconv.FormatUint(p.Time, 10),
		})
	}
	tw.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "%d pairs, %d bytes\n", m.Len(), len(block))
	return nil
}

func runStmPlot(cmd *cobra.Command, args []string) error {
	block, err := readBlock(args[0])
	if err != nil {
		return err
	}
	m, err := decodeMapping(block)
	if err != nil {
		return err
	}
	if m.Empty() {
		fmt.Fprintln(cmd.OutOrStdout(), "(empty mapping)")
		return nil
	}
	times := make([]float64, 0, m.Len())
	for _, p := range m.Pairs() {
		times = append(times, float64(p.Time))
	}
	graph := asciigraph.Plot(times,
		asciigraph.Height(plotHeight),
		asciigraph.Caption("sample time by pair index (oldest first)"))
	fmt.Fprintln(cmd.OutOrStdout(), graph)
	return nil
}

func runStmProps(cmd *cobra.Command, args []string) error {
	block, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	p, err := tableprops.Decode(block)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"property", "value"})
	tw.Append([]string{"num entries", strconv.FormatUint(p.NumEntries, 10)})
	tw.Append([]string{"smallest seqno", strconv.FormatUint(p.SmallestSeqNum, 10)})
	tw.Append([]string{"largest seqno", strconv.FormatUint(p.LargestSeqNum, 10)})
	tw.Append([]string{"creation time", strconv.FormatUint(p.CreationTime, 10)})
	tw.Append([]string{"oldest key time", strconv.FormatUint(p.OldestKeyTime, 10)})
	for k, v := range p.UserProperties {
		if k == tableprops.SeqnoTimeMappingKey {
			continue
		}
		tw.Append([]string{k, v})
	}
	tw.Render()

	m, err := p.SeqnoTimeMapping()
	if err != nil {
		return err
	}
	if m.Empty() {
		fmt.Fprintln(out, "no seqno-time mapping")
		return nil
	}
	fmt.Fprintf(out, "seqno-time mapping: %d pairs %s\n", m.Len(), m)
	return nil
}
