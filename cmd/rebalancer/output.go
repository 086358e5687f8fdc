package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/limiquantix/rebalancer/internal/domain"
	"github.com/limiquantix/rebalancer/internal/planner"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func hostNames(sim *domain.SimulationResult) map[string]string {
	names := make(map[string]string)
	if sim == nil {
		return names
	}
	for _, h := range sim.Hosts {
		if h.Name != "" {
			names[h.HostID] = h.Name
		}
	}
	return names
}

func hostName(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return id
}

func printPlan(w io.Writer, plan *domain.Plan) {
	names := hostNames(plan.Simulation)

	fmt.Fprintf(w, "Rebalancing Plan\n")
	fmt.Fprintf(w, "================\n\n")
	fmt.Fprintf(w, "Moves: %d (anti-affinity %d, balancing %d)\n",
		len(plan.Moves),
		plan.CountByOrigin(domain.OriginAntiAffinity),
		plan.CountByOrigin(domain.OriginBalancing),
	)
	if plan.Truncated {
		fmt.Fprintf(w, "Truncated: migration limit reached\n")
	}

	if len(plan.Moves) > 0 {
		fmt.Fprintf(w, "\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tWORKLOAD\tFROM\tTO\tREASON")
		for i, m := range plan.Moves {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, m.WorkloadName,
				hostName(names, m.SourceHostID), hostName(names, m.TargetHostID), moveReason(m))
		}
		tw.Flush()
	}

	if len(plan.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped:\n")
		for _, s := range plan.Skipped {
			fmt.Fprintf(w, "  [%s] %s\n", s.Reason, s.Move)
		}
	}

	if len(plan.Metrics) > 0 {
		fmt.Fprintf(w, "\nUtilization gaps:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  METRIC\tTHRESHOLD\tBEFORE\tAFTER\tSTATUS")
		for _, ms := range plan.Metrics {
			fmt.Fprintf(tw, "  %s\t%.0f%%\t%.1f%%\t%.1f%%\t%s\n", ms.Metric, ms.Threshold, ms.InitialGap, ms.FinalGap, ms.Status)
		}
		tw.Flush()
	}

	if len(plan.Groups) > 0 {
		fmt.Fprintf(w, "\nSibling groups:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  GROUP\tMEMBERS\tBEFORE\tAFTER\tSTATUS")
		for _, gs := range plan.Groups {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%s\n", gs.Prefix, gs.Members, gs.InitialSpread, gs.FinalSpread, gs.Status)
		}
		tw.Flush()
	}

	if plan.Simulation != nil && len(plan.Simulation.Violations) > 0 {
		fmt.Fprintf(w, "\nViolations:\n")
		for _, v := range plan.Simulation.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
}

func moveReason(m domain.Move) string {
	if m.Origin == domain.OriginAntiAffinity {
		return fmt.Sprintf("anti-affinity %s (spread %.0f -> %.0f)", m.Group, m.Gap, m.GapAfter)
	}
	return fmt.Sprintf("%s gap %.1f%% -> %.1f%%", m.Metric, m.Gap, m.GapAfter)
}

func printRecord(w io.Writer, rec *domain.PlanRecord) {
	fmt.Fprintf(w, "Plan %s for cluster %s: %s\n\n", rec.ID, rec.Cluster, rec.Status)
	printPlan(w, &rec.Plan)

	if len(rec.Executed) > 0 {
		fmt.Fprintf(w, "\nExecuted:\n")
		for _, r := range rec.Executed {
			line := fmt.Sprintf("  [%s] %s (%s)", r.Status, r.Move, r.Duration.Round(time.Millisecond))
			if r.Error != "" {
				line += ": " + r.Error
			}
			fmt.Fprintln(w, line)
		}
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", rec.Error)
	}
}

func printSimulation(w io.Writer, sim *domain.SimulationResult) {
	fmt.Fprintf(w, "Simulation\n")
	fmt.Fprintf(w, "==========\n\n")
	if sim.OK {
		fmt.Fprintf(w, "Result: OK\n\n")
	} else {
		fmt.Fprintf(w, "Result: %d violation(s)\n\n", len(sim.Violations))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "HOST\tWORKLOADS")
	for _, m := range domain.AllMetrics() {
		fmt.Fprintf(tw, "\t%s", m)
	}
	fmt.Fprintln(tw)
	for _, h := range sim.Hosts {
		name := h.Name
		if name == "" {
			name = h.HostID
		}
		fmt.Fprintf(tw, "%s\t%d", name, h.Workloads)
		for _, m := range domain.AllMetrics() {
			fmt.Fprintf(tw, "\t%.1f%%", h.Utilization.Get(m))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	if len(sim.Groups) > 0 {
		fmt.Fprintf(w, "\nSibling groups:\n")
		for _, g := range sim.Groups {
			fmt.Fprintf(w, "  %s: spread %d\n", g.Prefix, g.Spread)
		}
	}

	if len(sim.Violations) > 0 {
		fmt.Fprintf(w, "\nViolations:\n")
		for _, v := range sim.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
}

func printWhatIf(w io.Writer, results []planner.WhatIf) {
	fmt.Fprintf(w, "Aggressiveness Comparison\n")
	fmt.Fprintf(w, "=========================\n\n")

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "LEVEL\tMOVES\tANTI-AFFINITY\tBALANCING\tSKIPPED\tTRUNCATED")
	var metrics []domain.Metric
	if len(results) > 0 {
		for _, ms := range results[0].Plan.Metrics {
			metrics = append(metrics, ms.Metric)
			fmt.Fprintf(tw, "\t%s GAP", ms.Metric)
		}
	}
	fmt.Fprintln(tw)

	for _, r := range results {
		p := r.Plan
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%t", r.Aggressiveness, len(p.Moves),
			p.CountByOrigin(domain.OriginAntiAffinity), p.CountByOrigin(domain.OriginBalancing),
			len(p.Skipped), p.Truncated)
		for i := range metrics {
			if i < len(p.Metrics) {
				fmt.Fprintf(tw, "\t%.1f%% -> %.1f%%", p.Metrics[i].InitialGap, p.Metrics[i].FinalGap)
			}
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
