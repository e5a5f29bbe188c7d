package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xploytlabs/xployt/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scan service",
	Long: `Start the HTTP service. POST /v1/scans streams progress envelopes as
server-sent events; POST /v1/scans/stage runs a single stage for debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, store, err := newOrchestrator(true)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.ListenAddr
		}
		srv := api.NewServer(orch, store)
		fmt.Printf("Listening on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
