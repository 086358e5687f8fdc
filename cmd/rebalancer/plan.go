package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/limiquantix/rebalancer/internal/config"
	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/drs"
	"github.com/limiquantix/rebalancer/internal/planner"
	"github.com/limiquantix/rebalancer/internal/repository/memory"
)

var (
	snapshotPath string
	planDryRun   bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute a rebalancing plan and optionally apply it",
	Long: `Compute a migration plan for the cluster.

The inventory is collected from vCenter unless --snapshot names a JSON
snapshot file. Plans are only applied against a live cluster and only when
--dry-run=false is given.

Example:
  rebalancer plan --snapshot cluster.json --aggressiveness 4 --metrics cpu,memory
  rebalancer plan --dry-run=false --max-migrations 5`,
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

		return runPlan(ctx, cfg, pc, snapshotPath, planDryRun, jsonOutput, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "JSON snapshot file to plan against instead of vCenter")
	planCmd.Flags().BoolVar(&planDryRun, "dry-run", true, "Compute and report the plan without migrating")
	addPlanConfigFlags(planCmd.Flags())
}

// addPlanConfigFlags registers the planning knobs shared by plan and whatif.
func addPlanConfigFlags(fs *pflag.FlagSet) {
	fs.StringSlice("metrics", nil, "Metrics to balance in priority order (cpu, memory, disk_io, network_io)")
	fs.Int("aggressiveness", domain.DefaultAggressiveness, "Aggressiveness level 1 (gentle) to 5 (aggressive)")
	fs.Int("max-migrations", domain.DefaultMaxMigrations, "Maximum number of migrations per plan")
	fs.Bool("apply-anti-affinity", true, "Spread sibling workloads across hosts")
	fs.Bool("balance", true, "Balance resource utilization")
	fs.Bool("ignore-anti-affinity", false, "Let balancing moves concentrate sibling workloads")
}

// resolvePlanConfig starts from the configured planner settings and applies
// the flags the user set explicitly.
func resolvePlanConfig(fs *pflag.FlagSet, base config.PlannerConfig) (domain.PlanConfig, error) {
	if fs.Changed("metrics") {
		metrics, _ := fs.GetStringSlice("metrics")
		base.Metrics = metrics
	}
	if fs.Changed("aggressiveness") {
		base.Aggressiveness, _ = fs.GetInt("aggressiveness")
	}
	if fs.Changed("max-migrations") {
		base.MaxMigrations, _ = fs.GetInt("max-migrations")
	}
	if fs.Changed("apply-anti-affinity") {
		base.ApplyAntiAffinity, _ = fs.GetBool("apply-anti-affinity")
	}
	if fs.Changed("balance") {
		base.ApplyBalance, _ = fs.GetBool("balance")
	}
	if fs.Changed("ignore-anti-affinity") {
		base.IgnoreAntiAffinity, _ = fs.GetBool("ignore-anti-affinity")
	}
	return base.PlanConfig()
}

func runPlan(ctx context.Context, cfg *config.Config, pc domain.PlanConfig, snapshot string, dryRun, jsonOut bool, logger *zap.Logger, w io.Writer) error {
	if snapshot != "" {
		if !dryRun {
			return fmt.Errorf("plans computed from a snapshot file cannot be applied; drop --dry-run=false or --snapshot")
		}
		snap, err := loadSnapshot(snapshot)
		if err != nil {
			return err
		}
		plan, err := planner.New(logger).Plan(snap, pc)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(w, plan)
		}
		printPlan(w, plan)
		return nil
	}

	client, err := connectVSphere(ctx, cfg.VSphere, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to disconnect from vCenter", zap.Error(err))
		}
	}()

	drsCfg := cfg.DRS
	drsCfg.DryRun = dryRun
	engine := drs.NewEngine(drsCfg, pc, client, client, memory.NewPlanRepository(), logger)

	rec, err := engine.RunOnce(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, rec)
	}
	printRecord(w, rec)
	return nil
}
