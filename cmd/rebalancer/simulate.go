package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/limiquantix/rebalancer/internal/simulator"
)

var simulatePlanPath string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a stored plan against a snapshot",
	Long: `Apply the moves of a plan to a snapshot in memory and report the
resulting utilization, sibling placement and any violations.

Example:
  rebalancer plan --snapshot cluster.json --json > plan.json
  rebalancer simulate --snapshot cluster.json --plan plan.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(snapshotPath, simulatePlanPath, jsonOutput, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "JSON snapshot file")
	simulateCmd.Flags().StringVar(&simulatePlanPath, "plan", "", "JSON plan file")
	_ = simulateCmd.MarkFlagRequired("snapshot")
	_ = simulateCmd.MarkFlagRequired("plan")
}

func runSimulate(snapshot, planPath string, jsonOut bool, w io.Writer) error {
	snap, err := loadSnapshot(snapshot)
	if err != nil {
		return err
	}
	plan, err := loadPlan(planPath)
	if err != nil {
		return err
	}

	result, err := simulator.Simulate(snap, plan)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, result)
	}
	printSimulation(w, result)
	return nil
}
