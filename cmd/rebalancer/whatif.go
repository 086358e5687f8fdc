package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/planner"
)

var whatifLevels []int

var whatifCmd = &cobra.Command{
	Use:   "whatif",
	Short: "Compare plans across aggressiveness levels",
	Long: `Plan the same inventory at several aggressiveness levels and compare
the number of moves and the resulting utilization gaps.

Example:
  rebalancer whatif --snapshot cluster.json
  rebalancer whatif --levels 2,3,4 --metrics cpu,memory --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc, err := resolvePlanConfig(cmd.Flags(), cfg.Planner)
		if err != nil {
			return err
		}

		logger := setupLogger(cfg.Logging, true)
		defer logger.Sync()

		ctx, cancel := signalContext()
		defer cancel()

		return runWhatIf(ctx, cfg, pc, snapshotPath, whatifLevels, jsonOutput, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(whatifCmd)
	whatifCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "JSON snapshot file to plan against instead of vCenter")
	whatifCmd.Flags().IntSliceVar(&whatifLevels, "levels", []int{1, 2, 3, 4, 5}, "Aggressiveness levels to compare")
	addPlanConfigFlags(whatifCmd.Flags())
}

func runWhatIf(ctx context.Context, cfg *config.Config, pc domain.PlanConfig, snapshot string, levels []int, jsonOut bool, logger *zap.Logger, w io.Writer) error {
	snap, err := obtainSnapshot(ctx, cfg, snapshot, logger)
	if err != nil {
		return err
	}

	results, err := planner.New(logger).Compare(ctx, snap, pc, levels)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, results)
	}
	printWhatIf(w, results)
	return nil
}
