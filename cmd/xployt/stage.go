package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var stageRepoID string

var stageCmd = &cobra.Command{
	Use:   "stage <index> <path>",
	Short: "Run a single pipeline stage synchronously",
	Long: `Run one stage of the pipeline by its registry position and print its
captured output. Useful for debugging a single step without a full scan;
the stage reads whatever artifacts earlier stages left in the data
directory for the given identity.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("stage index must be a number: %w", err)
		}
		root, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		repoID := stageRepoID
		if repoID == "" {
			repoID = filepath.Base(root)
		}

		orch, store, err := newOrchestrator(false)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		st, err := orch.Registry().At(index)
		if err != nil {
			return err
		}
		fmt.Printf("Running stage %d (%s)...\n", index, st.Name())

		output, err := orch.ExecuteStage(cmd.Context(), index, repoID, root)
		if output != "" {
			fmt.Print(output)
		}
		return err
	},
}

func init() {
	stageCmd.Flags().StringVar(&stageRepoID, "id", "", "Scan identity (defaults to the target directory name)")
	rootCmd.AddCommand(stageCmd)
}
