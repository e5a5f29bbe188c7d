package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/config"
	"github.com/xploytlabs/xployt/internal/pipeline"
	"github.com/xploytlabs/xployt/internal/stages"
	"github.com/xploytlabs/xployt/internal/storage/sqlite"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "xployt",
	Short: "LLM-driven vulnerability scan pipeline",
	Long: `Xployt runs a fixed sequence of analysis stages over a target codebase
and streams live progress while they execute. The final stage's findings
are resolved back to concrete line ranges in the scanned files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newOrchestrator builds the shared pipeline plumbing. Credential problems
// surface here, before any run transitions to running.
func newOrchestrator(withStore bool) (*pipeline.Orchestrator, *sqlite.Store, error) {
	client, err := ai.NewClient(ai.Config{
		APIKey: cfg.APIKey(),
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, nil, err
	}

	registry, err := stages.DefaultRegistry(client, cfg)
	if err != nil {
		return nil, nil, err
	}

	var store *sqlite.Store
	if withStore && cfg.DatabasePath != "" {
		store, err = sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open run history: %w", err)
		}
	}

	orchCfg := pipeline.Config{
		Registry:   registry,
		OutputRoot: cfg.OutputRoot,
		Heartbeat:  cfg.HeartbeatInterval,
	}
	if store != nil {
		orchCfg.Store = store
	}
	orch, err := pipeline.New(orchCfg)
	if err != nil {
		return nil, nil, err
	}
	return orch, store, nil
}
