package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xploytlabs/xployt/internal/events"
	"github.com/xploytlabs/xployt/internal/types"
)

var scanRepoID string

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a codebase and stream progress to the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		repoID := scanRepoID
		if repoID == "" {
			repoID = filepath.Base(root)
		}

		orch, store, err := newOrchestrator(true)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		run, stream, err := orch.Start(repoID, root)
		if err != nil {
			return err
		}
		fmt.Printf("Started run %s for %s\n", run.ID, root)

		var final []types.Finding
		failed := false
		for env := range stream.Events() {
			switch env.Status {
			case events.StatusCompleted:
				color.Green("[%3d%%] %s", env.Progress, env.Message)
				final = env.Payload
			case events.StatusFailed:
				color.Red("[%3d%%] %s", env.Progress, env.Message)
				failed = true
			default:
				color.Cyan("[%3d%%] %s", env.Progress, env.Message)
			}
		}

		if failed {
			os.Exit(1)
		}
		printFindings(final)
		return nil
	},
}

func printFindings(list []types.Finding) {
	if len(list) == 0 {
		fmt.Println("\nNo findings.")
		return
	}
	fmt.Printf("\n%d finding(s):\n\n", len(list))
	for _, f := range list {
		loc := ""
		if len(f.Line) > 0 {
			if len(f.Line) == 1 {
				loc = fmt.Sprintf(":%d", f.Line[0])
			} else {
				loc = fmt.Sprintf(":%d-%d", f.Line[0], f.Line[len(f.Line)-1])
			}
		}
		severityColor(f.Severity).Printf("[%s] ", f.Severity)
		fmt.Printf("%s%s (%s, confidence %s)\n", f.SourcePath, loc, f.Category, f.Confidence)
		fmt.Printf("    %s\n", f.Description)
		if f.Remediation != "" {
			fmt.Printf("    Fix: %s\n", f.Remediation)
		}
	}
}

func severityColor(s types.Severity) *color.Color {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case types.SeverityHigh:
		return color.New(color.FgRed)
	case types.SeverityMedium:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgWhite)
}

func init() {
	scanCmd.Flags().StringVar(&scanRepoID, "id", "", "Scan identity (defaults to the target directory name)")
	rootCmd.AddCommand(scanCmd)
}
